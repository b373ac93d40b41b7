// Package config loads process settings from the environment and objective
// settings from an optional YAML file.
package config

import (
	"bytes"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/episim-calibrate/internal/errors"
	"github.com/copyleftdev/episim-calibrate/internal/objective"
	"github.com/copyleftdev/episim-calibrate/internal/optimization/kernels"
)

// Sampler names.
const (
	SamplerGP     = "gp"
	SamplerRandom = "random"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	Logging     struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Storage struct {
		Dir string `env:"CALIB_STORAGE_DIR" envDefault:"calibration-studies"`
	}
	Simulation struct {
		// Command is split on whitespace. Empty means the default java
		// invocation.
		Command []string      `env:"CALIB_SIM_COMMAND" envSeparator:" "`
		Timeout time.Duration `env:"CALIB_SIM_TIMEOUT" envDefault:"0s"`
		WorkDir string        `env:"CALIB_SIM_WORKDIR"`
	}
	Sampler struct {
		Name          string       `env:"CALIB_SAMPLER" envDefault:"gp"`
		Seed          int64        `env:"CALIB_SEED" envDefault:"0"`
		StartupTrials int          `env:"CALIB_STARTUP_TRIALS" envDefault:"5"`
		Kernel        kernels.Name `env:"CALIB_GP_KERNEL" envDefault:"matern52"`
	}
	HTTP struct {
		ListenAddr      string        `env:"CALIB_LISTEN_ADDR"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	}
}

func Load() (*Config, error) {
	const op = "config.Load"
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, errors.KindConfig, op, "parse environment")
	}

	// Debug logging by default in development
	if cfg.Environment == "development" && os.Getenv("LOG_LEVEL") == "" {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the environment parser cannot.
func (c *Config) Validate() error {
	const op = "config.Validate"
	switch {
	case c.Storage.Dir == "":
		return errors.New(errors.KindConfig, op, "storage directory must not be empty")
	case c.Sampler.Name != SamplerGP && c.Sampler.Name != SamplerRandom:
		return errors.Errorf(errors.KindConfig, op, "unknown sampler %q, expected %s or %s",
			c.Sampler.Name, SamplerGP, SamplerRandom)
	case c.Sampler.StartupTrials < 1:
		return errors.Errorf(errors.KindConfig, op, "startup trials must be positive, got %d", c.Sampler.StartupTrials)
	case c.Simulation.Timeout < 0:
		return errors.Errorf(errors.KindConfig, op, "simulation timeout must not be negative, got %s", c.Simulation.Timeout)
	}
	return nil
}

// LoadSettings reads objective settings from a YAML file. Keys missing from
// the file keep their defaults. An empty path returns the defaults.
func LoadSettings(path string) (objective.Settings, error) {
	const op = "config.LoadSettings"

	settings := objective.DefaultSettings()
	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		kind := errors.KindConfig
		if os.IsNotExist(err) {
			kind = errors.KindNotFound
		}
		return settings, errors.Wrapf(err, kind, op, "read %s", path)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&settings); err != nil && strings.TrimSpace(string(data)) != "" {
		return settings, errors.Wrapf(err, errors.KindParse, op, "decode %s", path)
	}
	if err := settings.Validate(); err != nil {
		return settings, errors.Wrapf(err, errors.KindConfig, op, "%s", path)
	}
	return settings, nil
}
