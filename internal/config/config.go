// Package config loads application configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/LoyaltyLabs/receipt_layer/pkg/logger"
)

// Config is the root application configuration.
type Config struct {
	Server   ServerConfig         `yaml:"server"`
	Database DatabaseConfig       `yaml:"database"`
	Logging  logger.LoggingConfig `yaml:"logging"`
	Tasks    TasksConfig          `yaml:"tasks"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST"`
	Port int    `yaml:"port" env:"SERVER_PORT"`

	// AuthSecret is the HS256 signing secret for API tokens. Empty disables
	// authentication, which is only sensible for local development.
	AuthSecret string `yaml:"auth_secret" env:"AUTH_SECRET"`

	ReadTimeoutSeconds  int `yaml:"read_timeout_seconds" env:"SERVER_READ_TIMEOUT_SECONDS"`
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds" env:"SERVER_WRITE_TIMEOUT_SECONDS"`
}

// DatabaseConfig configures PostgreSQL. An empty DSN selects the in-memory
// store.
type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"DB_DRIVER"`
	DSN             string `yaml:"dsn" env:"DB_DSN"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds" env:"DB_CONN_MAX_LIFETIME_SECONDS"`
}

// TasksConfig configures the task engine.
type TasksConfig struct {
	TickIntervalMS        int    `yaml:"tick_interval_ms" env:"TASKS_TICK_INTERVAL_MS"`
	MaxConcurrent         int    `yaml:"max_concurrent" env:"TASKS_MAX_CONCURRENT"`
	HandlerTimeoutSeconds int    `yaml:"handler_timeout_seconds" env:"TASKS_HANDLER_TIMEOUT_SECONDS"`
	RetentionHours        int    `yaml:"retention_hours" env:"TASKS_RETENTION_HOURS"`
	CleanupSchedule       string `yaml:"cleanup_schedule" env:"TASKS_CLEANUP_SCHEDULE"`
}

// TickInterval returns the dispatch tick interval.
func (c TasksConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

// HandlerTimeout returns the per-task handler timeout.
func (c TasksConfig) HandlerTimeout() time.Duration {
	return time.Duration(c.HandlerTimeoutSeconds) * time.Second
}

// Retention returns how long terminal tasks are kept.
func (c TasksConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			ReadTimeoutSeconds:  15,
			WriteTimeoutSeconds: 30,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
		Logging: logger.LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Tasks: TasksConfig{
			TickIntervalMS:        1000,
			MaxConcurrent:         3,
			HandlerTimeoutSeconds: 60,
			RetentionHours:        24,
			CleanupSchedule:       "@every 10m",
		},
	}
}

// Load reads configuration from CONFIG_PATH (default config/config.yaml, if
// present) and applies environment overrides on top of the defaults.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = filepath.Join("config", "config.yaml")
	}
	return LoadFromPath(path)
}

// LoadFromPath reads configuration from a specific file. A missing file is
// not an error; environment variables and defaults still apply.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Tasks.MaxConcurrent <= 0 {
		return fmt.Errorf("tasks max_concurrent must be positive")
	}
	if c.Tasks.TickIntervalMS <= 0 {
		return fmt.Errorf("tasks tick_interval_ms must be positive")
	}
	return nil
}
