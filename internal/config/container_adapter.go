package config

import (
	"github.com/garyjia/procurement-workflow/internal/container"
	"github.com/garyjia/procurement-workflow/pkg/utils"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Driver:          c.Database.Driver,
			Path:            c.Database.Path,
			DSN:             c.Database.DSN,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			QueryTimeout:    c.Database.QueryTimeout,
			AutoMigrate:     c.Database.AutoMigrate,
		},
		Server: container.ServerConfig{
			Host:            c.Server.Host,
			Port:            c.Server.Port,
			ReadTimeout:     c.Server.ReadTimeout,
			WriteTimeout:    c.Server.WriteTimeout,
			ShutdownTimeout: c.Server.ShutdownTimeout,
		},
		ChangeFeed: container.ChangeFeedConfig{
			Driver:        c.ChangeFeed.Driver,
			BufferSize:    c.ChangeFeed.BufferSize,
			RedisAddr:     c.ChangeFeed.RedisAddr,
			RedisPassword: c.ChangeFeed.RedisPassword,
			RedisDB:       c.ChangeFeed.RedisDB,
			ChannelPrefix: c.ChangeFeed.ChannelPrefix,
		},
		Reconciler: container.ReconcilerConfig{
			Enabled:   c.Reconciler.Enabled,
			Schedule:  c.Reconciler.Schedule,
			BatchSize: c.Reconciler.BatchSize,
		},
		Workflow: container.WorkflowConfig{
			SeedFile: c.Workflow.SeedFile,
		},
		Metrics: container.MetricsConfig{
			Enabled: c.Metrics.Enabled,
		},
	}
}

// ToLoggerConfig converts the logger section for utils.NewLogger.
func (c *Config) ToLoggerConfig() utils.LoggerConfig {
	return utils.LoggerConfig{
		Level:      c.Logger.Level,
		OutputPath: c.Logger.OutputPath,
		Format:     c.Logger.Format,
	}
}
