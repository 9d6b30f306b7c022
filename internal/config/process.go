// Package config loads process settings and per-chain definitions.
package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

// LoadProcess loads process-level settings from a TOML file, with
// environment variables overriding individual keys. An env var like
// DATABASE_URL overrides database.url.
func LoadProcess(logger *zerolog.Logger, path string) (*koanf.Koanf, error) {
	ko := koanf.New(".")

	if err := ko.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, err
	}

	if err := ko.Load(env.Provider("", ".", func(s string) string {
		return strings.Replace(strings.ToLower(s), "_", ".", -1)
	}), nil); err != nil {
		logger.Warn().Err(err).Msg("failed to load environment overrides")
	}

	logger.Info().Str("config_file", path).Msg("process configuration loaded")
	return ko, nil
}
