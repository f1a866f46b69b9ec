package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/gmorais/opslog/pkg/logstore"
)

// Config holds the application configuration. It implements
// logstore.Settings, so the store and cleanup paths read it directly.
type Config struct {
	Storage StorageConfig `toml:"storage"`
	Errors  ErrorsConfig  `toml:"errors" envPrefix:"OPSLOG_ERRORS_"`
	AI      AIConfig      `toml:"ai" envPrefix:"OPSLOG_AI_"`
	Server  ServerConfig  `toml:"server" envPrefix:"OPSLOG_SERVER_"`
	Logging LoggingConfig `toml:"logging" envPrefix:"OPSLOG_LOGGING_"`
}

// StorageConfig holds storage-related configuration
type StorageConfig struct {
	DBPath string `toml:"db_path" env:"OPSLOG_DB_PATH"`
}

// ErrorsConfig configures the failed-HTTP-call category.
type ErrorsConfig struct {
	Enabled       bool `toml:"enabled" env:"ENABLED"`
	RetentionDays int  `toml:"retention_days" env:"RETENTION_DAYS"`
}

// AIConfig configures the AI-call category, including what may be captured.
type AIConfig struct {
	Enabled          bool `toml:"enabled" env:"ENABLED"`
	RetentionDays    int  `toml:"retention_days" env:"RETENTION_DAYS"`
	CapturePrompts   bool `toml:"capture_prompts" env:"CAPTURE_PROMPTS"`
	CaptureResponses bool `toml:"capture_responses" env:"CAPTURE_RESPONSES"`
	CaptureMetadata  bool `toml:"capture_metadata" env:"CAPTURE_METADATA"`
}

// ServerConfig holds the local API server configuration.
type ServerConfig struct {
	Port int `toml:"port" env:"PORT"`
}

// LoggingConfig controls the process's own diagnostic output.
type LoggingConfig struct {
	Level string `toml:"level" env:"LEVEL"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Storage: StorageConfig{
			DBPath: filepath.Join(home, ".opslog", "db"),
		},
		Errors: ErrorsConfig{
			Enabled:       true,
			RetentionDays: 30,
		},
		AI: AIConfig{
			Enabled:          true,
			RetentionDays:    30,
			CapturePrompts:   true,
			CaptureResponses: true,
			CaptureMetadata:  true,
		},
		Server: ServerConfig{
			Port: 7246,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a file, falling back to defaults when the
// file does not exist, then applies OPSLOG_* environment overrides.
func Load(path string) (*Config, error) {
	// Expand home directory
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	cfg := DefaultConfig()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	return cfg, nil
}

// ErrorsEnabled implements logstore.Settings.
func (c *Config) ErrorsEnabled() bool { return c.Errors.Enabled }

// AIEnabled implements logstore.Settings.
func (c *Config) AIEnabled() bool { return c.AI.Enabled }

// RetentionDays implements logstore.Settings.
func (c *Config) RetentionDays(cat logstore.Category) int {
	if cat == logstore.CategoryAICalls {
		return c.AI.RetentionDays
	}
	return c.Errors.RetentionDays
}

// CaptureFlags implements logstore.Settings.
func (c *Config) CaptureFlags() logstore.CaptureFlags {
	return logstore.CaptureFlags{
		Prompts:   c.AI.CapturePrompts,
		Responses: c.AI.CaptureResponses,
		Metadata:  c.AI.CaptureMetadata,
	}
}
