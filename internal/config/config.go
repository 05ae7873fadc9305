// Package config loads mestor settings from defaults, an optional YAML file
// and MESTOR_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/mestor/internal/subscription"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "MESTOR_"

// Backend names.
const (
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
	BackendMemory = "memory"
)

// Config holds process-wide settings.
//
// Env tags carry no defaults: an unset variable leaves the file value alone.
type Config struct {
	Backend      string       `yaml:"backend" env:"BACKEND"`
	Path         string       `yaml:"path" env:"DB"`
	Fsync        string       `yaml:"fsync" env:"FSYNC"`
	LogLevel     string       `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat    string       `yaml:"log_format" env:"LOG_FORMAT"`
	MetricsAddr  string       `yaml:"metrics_addr" env:"METRICS_ADDR"`
	Subscription Subscription `yaml:"subscription" envPrefix:"SUBSCRIPTION_"`
}

// Subscription holds default subscription tuning.
type Subscription struct {
	MaxMessagesPerTick     int           `yaml:"max_messages_per_tick" env:"MAX_MESSAGES_PER_TICK"`
	PositionUpdateInterval int           `yaml:"position_update_interval" env:"POSITION_UPDATE_INTERVAL"`
	PollInterval           time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
}

// Apply copies the tuning onto a subscription config, keeping the stream
// and subscriber.
func (s Subscription) Apply(c subscription.Config) subscription.Config {
	c.MaxMessagesPerTick = s.MaxMessagesPerTick
	c.PositionUpdateInterval = s.PositionUpdateInterval
	c.PollInterval = s.PollInterval
	return c
}

// Default returns the built-in settings.
func Default() Config {
	sub := subscription.DefaultConfig()
	return Config{
		Backend:   BackendSQLite,
		Path:      "mestor.db",
		Fsync:     "interval",
		LogLevel:  "info",
		LogFormat: "text",
		Subscription: Subscription{
			MaxMessagesPerTick:     sub.MaxMessagesPerTick,
			PositionUpdateInterval: sub.PositionUpdateInterval,
			PollInterval:           sub.PollInterval,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEnv overlays MESTOR_* variables onto target.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks that c is usable.
func (c Config) Validate() error {
	var errs []error

	switch c.Backend {
	case BackendSQLite, BackendPebble:
		if c.Path == "" {
			errs = append(errs, fmt.Errorf("backend %s requires a path", c.Backend))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q (want sqlite, pebble or memory)", c.Backend))
	}

	switch c.Fsync {
	case "", "always", "interval", "never":
	default:
		errs = append(errs, fmt.Errorf("unknown fsync mode %q", c.Fsync))
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q (want text or json)", c.LogFormat))
	}

	if c.Subscription.MaxMessagesPerTick <= 0 {
		errs = append(errs, errors.New("subscription.max_messages_per_tick must be positive"))
	}
	if c.Subscription.PositionUpdateInterval <= 0 {
		errs = append(errs, errors.New("subscription.position_update_interval must be positive"))
	}
	if c.Subscription.PollInterval <= 0 {
		errs = append(errs, errors.New("subscription.poll_interval must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
