// Package container provides dependency injection and lifecycle management
// for the procurement approval workflow service.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/procurement-workflow/pkg/database"
)

// Change feed drivers
const (
	ChangeFeedMemory = "memory"
	ChangeFeedRedis  = "redis"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	ChangeFeed ChangeFeedConfig
	Reconciler ReconcilerConfig
	Workflow   WorkflowConfig
	Metrics    MetricsConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver is sqlite3 or postgres
	Driver string

	// Path to SQLite database file
	Path string

	// DSN is required for postgres and overrides Path for sqlite
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// QueryTimeout bounds every store call
	QueryTimeout time.Duration

	// AutoMigrate applies pending migrations on start
	AutoMigrate bool
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// ChangeFeedConfig selects where change notifications are published.
type ChangeFeedConfig struct {
	// Driver is memory or redis
	Driver     string
	BufferSize int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ChannelPrefix string
}

// ReconcilerConfig holds the background reconciler settings.
type ReconcilerConfig struct {
	Enabled   bool
	Schedule  string
	BatchSize int
}

// WorkflowConfig holds workflow template settings.
type WorkflowConfig struct {
	// SeedFile is a YAML file of templates created on start when missing
	SeedFile string
}

// MetricsConfig toggles Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          database.DriverSQLite,
			Path:            "data/procurement.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			QueryTimeout:    5 * time.Second,
			AutoMigrate:     true,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		ChangeFeed: ChangeFeedConfig{
			Driver:     ChangeFeedMemory,
			BufferSize: 64,
		},
		Reconciler: ReconcilerConfig{
			Enabled:   true,
			Schedule:  "@every 5m",
			BatchSize: 100,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case database.DriverSQLite, "sqlite", "":
		if c.Database.Path == "" && c.Database.DSN == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case database.DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.Database.QueryTimeout < 0 {
		return fmt.Errorf("database.query_timeout must not be negative")
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}

	switch c.ChangeFeed.Driver {
	case ChangeFeedMemory, "":
	case ChangeFeedRedis:
		if c.ChangeFeed.RedisAddr == "" {
			return fmt.Errorf("changefeed.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("unsupported changefeed.driver %q", c.ChangeFeed.Driver)
	}

	if c.Reconciler.Enabled && c.Reconciler.BatchSize < 0 {
		return fmt.Errorf("reconciler.batch_size must not be negative")
	}

	return nil
}
