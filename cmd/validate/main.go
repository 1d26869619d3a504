// Command validate scores the saved head on the cached validation features.
// It never loads the backbone.
package main

import (
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/schisto-cnn/internal/config"
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

	p := pipeline.New(cfg, nil)
	if _, err := p.RunValidate(os.Stdout); err != nil {
		log.Fatal().Err(err).Str("run", p.Metrics().RunID).Msg("validation failed")
	}
}
