package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// BlockDuration is the rejoin cooldown applied to removed users.
	BlockDuration time.Duration `env:"BLOCK_DURATION" envDefault:"300s"`
	// SweepInterval drops expired exclusions in the background. Zero
	// disables the sweep; lookups still expire records lazily.
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	// TurnTimeout forces a ban when a side stalls. Zero disables it.
	TurnTimeout time.Duration `env:"TURN_TIMEOUT" envDefault:"0s"`

	DatabaseURL    string `env:"DATABASE_URL"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

// Load reads the given .env files, if present, then parses the environment.
// Variables already set in the environment win over .env values.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return Parse()
}

func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("HTTP_ADDR must not be empty"))
	}
	if c.BlockDuration <= 0 {
		errs = append(errs, fmt.Errorf("BLOCK_DURATION must be positive, got %s", c.BlockDuration))
	}
	if c.SweepInterval < 0 {
		errs = append(errs, fmt.Errorf("SWEEP_INTERVAL must not be negative, got %s", c.SweepInterval))
	}
	if c.TurnTimeout < 0 {
		errs = append(errs, fmt.Errorf("TURN_TIMEOUT must not be negative, got %s", c.TurnTimeout))
	}
	return multierr.Combine(errs...)
}
