// Package container wires the EHS workflow service together and owns the
// lifecycle of its database, background workers and event dispatcher.
package container

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Lark messaging configuration
	Lark LarkConfig

	// Auth configuration for the HTTP API
	Auth AuthConfig

	// Server configuration
	Server ServerConfig

	// Workflow engine configuration
	Workflow WorkflowConfig

	// Visibility index maintenance
	Visibility VisibilityConfig

	// Notification delivery
	Notification NotificationConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver is "sqlite3" or "postgres"
	Driver string

	// Path to SQLite database file
	Path string

	// DSN is the postgres connection string
	DSN string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration

	// MigrationsDir overrides the embedded schema when set
	MigrationsDir string
}

// LarkConfig holds Lark API settings.
type LarkConfig struct {
	// Enabled switches delivery from the log sink to Lark messages
	Enabled bool

	// AppID is the Lark application ID
	AppID string

	// AppSecret is the Lark application secret
	AppSecret string

	// BaseURL overrides the open platform domain
	BaseURL string
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind to
	Host string

	// Port to listen on
	Port int

	// ReadTimeout for HTTP server
	ReadTimeout time.Duration

	// WriteTimeout for HTTP server
	WriteTimeout time.Duration

	// MaxUploadBytes caps document uploads
	MaxUploadBytes int64
}

// WorkflowConfig holds engine settings.
type WorkflowConfig struct {
	// SeedFile lists definitions registered at startup; empty skips seeding
	SeedFile string

	// CacheExpiry bounds how long a compiled definition lattice is reused
	CacheExpiry time.Duration
}

// VisibilityConfig holds settings for the visibility index workers.
type VisibilityConfig struct {
	// RebuildSchedule is a cron spec for the full rebuild; empty disables it
	RebuildSchedule string

	// BatchSize is the number of items rebuilt per transaction
	BatchSize int

	// Throttle is the pause between rebuild batches
	Throttle time.Duration

	// StaleRepairInterval is how often stale items are resynced
	StaleRepairInterval time.Duration
}

// NotificationConfig holds outbox delivery settings.
type NotificationConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          "sqlite3",
			Path:            "data/ehs.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Auth: AuthConfig{
			Issuer:   "ehs-workflow",
			TokenTTL: 12 * time.Hour,
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			MaxUploadBytes: 10 << 20,
		},
		Workflow: WorkflowConfig{
			CacheExpiry: 10 * time.Minute,
		},
		Visibility: VisibilityConfig{
			RebuildSchedule:     "0 3 * * *",
			BatchSize:           200,
			Throttle:            50 * time.Millisecond,
			StaleRepairInterval: time.Minute,
		},
		Notification: NotificationConfig{
			PollInterval: 10 * time.Second,
			BatchSize:    50,
			MaxAttempts:  5,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Lark.Enabled {
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required")
		}
	}

	if c.Visibility.RebuildSchedule != "" {
		if _, err := cron.ParseStandard(c.Visibility.RebuildSchedule); err != nil {
			return fmt.Errorf("visibility.rebuild_schedule: %w", err)
		}
	}
	if c.Visibility.BatchSize <= 0 {
		return fmt.Errorf("visibility.batch_size must be positive")
	}
	if c.Notification.MaxAttempts <= 0 {
		return fmt.Errorf("notification.max_attempts must be positive")
	}

	return nil
}
