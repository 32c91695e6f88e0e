package main

import (
	"errors"
	"io/fs"
	"os"

	"scrapeq/internal/config"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

type seedsFile struct {
	Seeds []string `yaml:"seeds"`
}

// loadSeeds merges the configured seeds with the optional seeds file.
func loadSeeds(cfg *config.Config, logger *zerolog.Logger) ([]string, error) {
	seedsPath := os.Getenv("SEEDS_PATH")
	if seedsPath == "" {
		seedsPath = "configs/seeds.yaml"
	}

	seeds := append([]string(nil), cfg.Scraper.Seeds...)

	data, err := os.ReadFile(seedsPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Debug().Str("seeds_path", seedsPath).Msg("no seeds file")
	case err != nil:
		logger.Error().Err(err).Str("seeds_path", seedsPath).Msg("read seeds")
		return nil, err
	default:
		var file seedsFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			logger.Error().Err(err).Str("seeds_path", seedsPath).Msg("parse seeds")
			return nil, err
		}
		seeds = append(seeds, file.Seeds...)
	}

	seeds = dedupe(seeds)
	if err := config.ValidateSeeds(seeds); err != nil {
		return nil, err
	}
	return seeds, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
