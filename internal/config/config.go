// Package config loads runtime configuration for the relog tools from a
// config file, environment variables, and defaults, in that precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved configuration.
type Config struct {
	// ReviewDB is the path to the legacy relational database.
	ReviewDB string `mapstructure:"review_db"`

	// NoteDB is the path to the note log database.
	NoteDB string `mapstructure:"note_db"`

	// MaxDelta is the maximum gap between consecutive events folded into
	// one transaction.
	MaxDelta time.Duration `mapstructure:"max_delta"`

	// MaxWindow is the maximum span of a single transaction.
	MaxWindow time.Duration `mapstructure:"max_window"`

	// Workers is the number of concurrent changes migrated at once.
	Workers int `mapstructure:"workers"`
}

// Load resolves configuration. An empty path skips the config file and uses
// only environment variables (RELOG_ prefix) and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("review_db", "relog-review.db")
	v.SetDefault("note_db", "relog-notes.db")
	v.SetDefault("max_delta", "1s")
	v.SetDefault("max_window", "3s")
	v.SetDefault("workers", 4)

	v.SetEnvPrefix("RELOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ReviewDB == "" {
		return fmt.Errorf("config: review_db must not be empty")
	}
	if c.NoteDB == "" {
		return fmt.Errorf("config: note_db must not be empty")
	}
	if c.MaxDelta <= 0 {
		return fmt.Errorf("config: max_delta must be positive, got %v", c.MaxDelta)
	}
	if c.MaxWindow < c.MaxDelta {
		return fmt.Errorf("config: max_window (%v) must be at least max_delta (%v)", c.MaxWindow, c.MaxDelta)
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: workers must be at least 1, got %d", c.Workers)
	}
	return nil
}
