package main

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/config"
)

// Configuration validation errors.
var (
	ErrDatabaseURLEmpty    = errors.New("DATABASE_URL cannot be empty")
	ErrMigrationTableEmpty = errors.New("MIGRATION_TABLE cannot be empty")
)

// Config holds the migration tool configuration. Migrations themselves are
// embedded in the binary, so only the target database is configurable.
type Config struct {
	DatabaseURL    string
	MigrationTable string
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    config.GetEnvStr("DATABASE_URL", ""),
		MigrationTable: config.GetEnvStr("MIGRATION_TABLE", "schema_migrations"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrDatabaseURLEmpty
	}

	if c.MigrationTable == "" {
		return ErrMigrationTableEmpty
	}

	return nil
}

// String returns a log-safe representation with the password masked.
func (c *Config) String() string {
	masked := c.DatabaseURL
	if parsed, err := url.Parse(c.DatabaseURL); err == nil {
		masked = parsed.Redacted()
	}

	return fmt.Sprintf("Config{DatabaseURL: %s, MigrationTable: %s}", masked, c.MigrationTable)
}
