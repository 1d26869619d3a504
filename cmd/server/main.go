package main

import (
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/schisto-cnn/internal/config"
	"github.com/Brownie44l1/schisto-cnn/internal/dataset"
	"github.com/Brownie44l1/schisto-cnn/internal/handlers"
	"github.com/Brownie44l1/schisto-cnn/internal/head"
	"github.com/Brownie44l1/schisto-cnn/internal/model"
	"github.com/Brownie44l1/schisto-cnn/internal/monitor"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file (defaults when empty)")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("could not load configuration")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	weights := cfg.Artifact(cfg.WeightsFile)
	cp, err := head.LoadCheckpoint(weights)
	if err != nil {
		log.Fatal().Err(err).Str("path", weights).Msg("failed to load head weights")
	}

	var classifier *model.Classifier
	var loader *dataset.Loader
	if _, err := os.Stat(cfg.Backbone.ModelPath); err == nil {
		backbone, err := model.NewBackbone(cfg.Backbone)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize backbone")
		}
		defer backbone.Close()

		interp, err := dataset.Interpolation(cfg.Interpolation)
		if err != nil {
			log.Fatal().Err(err).Msg("bad interpolation")
		}
		loader = &dataset.Loader{
			Size:      backbone.Metadata.InputSize(),
			Layout:    backbone.Metadata.Layout,
			Interp:    interp,
			Grayscale: cfg.Server.Grayscale,
		}
		classifier, err = model.NewClassifier(backbone, cp, cfg.Server.TopK)
		if err != nil {
			log.Fatal().Err(err).Msg("backbone and head do not fit")
		}
	} else {
		log.Warn().Str("model", cfg.Backbone.ModelPath).Msg("no backbone, serving feature predictions only")
		classifier, err = model.NewClassifier(nil, cp, cfg.Server.TopK)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load head")
		}
	}

	metrics := monitor.NewPrometheusMetrics()
	handler := handlers.NewHandler(classifier, loader, metrics)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Server.Port
	}

	log.Info().
		Str("port", port).
		Str("weights", weights).
		Strs("classes", classifier.Classes).
		Int("top_k", classifier.TopK).
		Str("run", metrics.RunID).
		Msg("server starting")
	log.Info().Msg("endpoints: GET /health, POST /predict, POST /predict/image, GET /metrics")

	if err := http.ListenAndServe(":"+port, handler.Routes()); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}
