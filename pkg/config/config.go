package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quotaflow-ai/quotaflow/pkg/models"
)

// Config holds all Quotaflow configuration.
type Config struct {
	DailyTokenAllocation int64              `yaml:"daily_token_allocation"`
	ResetHourUTC         int                `yaml:"reset_hour_utc"`
	BonusTokens          map[string]int64   `yaml:"bonus_tokens"`
	JournalPath          string             `yaml:"journal_path"`
	Models               []models.ModelInfo `yaml:"models"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		DailyTokenAllocation: 100000,
		ResetHourUTC:         0,
		JournalPath:          "quotaflow.db",
	}
}

// Load reads a YAML config file, expands environment variables, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values that would corrupt the
// ledger or the catalog.
func (c *Config) Validate() error {
	if c.DailyTokenAllocation <= 0 {
		return fmt.Errorf("daily_token_allocation must be positive, got %d", c.DailyTokenAllocation)
	}
	if c.ResetHourUTC < 0 || c.ResetHourUTC > 23 {
		return fmt.Errorf("reset_hour_utc must be 0-23, got %d", c.ResetHourUTC)
	}
	for user, tokens := range c.BonusTokens {
		if tokens < 0 {
			return fmt.Errorf("bonus_tokens for %q must be non-negative, got %d", user, tokens)
		}
	}

	seen := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if m.ID == "" {
			return fmt.Errorf("model entry %q has no id", m.Name)
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate model id %q", m.ID)
		}
		seen[m.ID] = true
		if m.InputTokenCost < 0 || m.OutputTokenCost < 0 {
			return fmt.Errorf("model %q has negative token costs", m.ID)
		}
	}
	return nil
}
