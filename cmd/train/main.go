package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/schisto-cnn/internal/config"
	"github.com/Brownie44l1/schisto-cnn/internal/dataset"
	"github.com/Brownie44l1/schisto-cnn/internal/model"
	"github.com/Brownie44l1/schisto-cnn/internal/pipeline"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("training failed")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	p := pipeline.New(cfg, nil)
	log.Info().Str("run", p.Metrics().RunID).Str("artifacts", cfg.ArtifactDir).Msg("starting training run")

	if p.Reusable() {
		_, err := p.RunTrain(ctx, nil, dataset.NHWC, os.Stdout)
		return err
	}

	backbone, err := model.NewBackbone(cfg.Backbone)
	if err != nil {
		return err
	}
	defer backbone.Close()

	if size := backbone.Metadata.InputSize(); size != cfg.ImageSize {
		return config.Errorf("backbone takes %d px images, image_size is %d", size, cfg.ImageSize)
	}
	_, err = p.RunTrain(ctx, backbone, backbone.Metadata.Layout, os.Stdout)
	return err
}
