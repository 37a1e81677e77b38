package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/stackpilot/stackpilot/internal/core/config"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig            `mapstructure:"server"`
	Journal    JournalConfig           `mapstructure:"journal"`
	Log        LogConfig               `mapstructure:"log"`
	Probes     ProbesConfig            `mapstructure:"probes"`
	Deployment config.DeploymentConfig `mapstructure:"deployment"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// JournalConfig holds event journal configuration.
type JournalConfig struct {
	DSN     string `mapstructure:"dsn"`
	MaxRows int    `mapstructure:"max_rows"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ProbesConfig holds probe scheduler configuration.
type ProbesConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("journal.dsn", "./data/stackpilot.db")
	v.SetDefault("journal.max_rows", 1000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("probes.interval", "60s")
	v.SetDefault("probes.initial_delay", "2s")

	defaults := config.Default()
	v.SetDefault("deployment.project_name", defaults.ProjectName)
	v.SetDefault("deployment.deploy_dir", defaults.DeployDir)
	v.SetDefault("deployment.descriptor_file", defaults.DescriptorFile)
	v.SetDefault("deployment.network", defaults.Network)
	v.SetDefault("deployment.database.image", defaults.Database.Image)
	v.SetDefault("deployment.database.name", defaults.Database.Name)
	v.SetDefault("deployment.database.user", defaults.Database.User)
	v.SetDefault("deployment.database.port", defaults.Database.Port)
	v.SetDefault("deployment.server.image", defaults.Server.Image)
	v.SetDefault("deployment.server.port", defaults.Server.Port)
	v.SetDefault("deployment.web.image", defaults.Web.Image)
	v.SetDefault("deployment.web.port", defaults.Web.Port)
	v.SetDefault("deployment.proxy.image", defaults.Proxy.Image)
	v.SetDefault("deployment.proxy.http_port", defaults.Proxy.HTTPPort)
	v.SetDefault("deployment.proxy.https_port", defaults.Proxy.HTTPSPort)
	v.SetDefault("deployment.health_timeout", defaults.HealthTimeout.String())
	v.SetDefault("deployment.poll_interval", defaults.PollInterval.String())
	v.SetDefault("deployment.monitor_interval", defaults.MonitorInterval.String())
	v.SetDefault("deployment.auto_recover", defaults.AutoRecover)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// Missing file is fine, defaults apply.
		}
	}

	v.SetEnvPrefix("STACKPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
