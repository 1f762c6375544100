// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

// Package config loads service configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration. Provider credentials are NOT here:
// they live in the dotenv store and are resolved fresh per call.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	// ProvidersFile is the declarative provider catalog.
	ProvidersFile string `yaml:"providers_file"`

	// EnvFile is the dotenv store backing credential resolution.
	EnvFile string `yaml:"env_file"`

	// PostgresURL enables the result archive when set.
	PostgresURL string `yaml:"postgres_url"`

	// RedisAddr enables the background task manager when set.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

func defaults() Config {
	return Config{
		ListenAddr:    ":8080",
		ProvidersFile: "config/providers.json",
		EnvFile:       ".env",
	}
}

// Load reads the YAML file at path, falling back to defaults when the file
// is absent, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults plus env overrides are a valid configuration.
		case err != nil:
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}

	if v := os.Getenv("GLYPHMIND_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("GLYPHMIND_PROVIDERS_FILE"); v != "" {
		cfg.ProvidersFile = v
	}
	if v := os.Getenv("GLYPHMIND_ENV_FILE"); v != "" {
		cfg.EnvFile = v
	}
	if v := os.Getenv("GLYPHMIND_POSTGRES_URL"); v != "" {
		cfg.PostgresURL = v
	}
	if v := os.Getenv("GLYPHMIND_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	return cfg, nil
}
