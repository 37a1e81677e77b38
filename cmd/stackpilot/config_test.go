package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "./data/stackpilot.db", cfg.Journal.DSN)
	assert.Equal(t, 1000, cfg.Journal.MaxRows)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 60*time.Second, cfg.Probes.Interval)
	assert.Equal(t, 2*time.Second, cfg.Probes.InitialDelay)
}

func TestLoadConfig_DeploymentDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "stackpilot", cfg.Deployment.ProjectName)
	assert.Equal(t, "docker-compose.yml", cfg.Deployment.DescriptorFile)
	assert.Equal(t, "stackpilot-net", cfg.Deployment.Network)
	assert.Equal(t, "postgres:16-alpine", cfg.Deployment.Database.Image)
	assert.Equal(t, 5432, cfg.Deployment.Database.Port)
	assert.Equal(t, 8443, cfg.Deployment.Proxy.HTTPSPort)
	assert.Equal(t, 5*time.Minute, cfg.Deployment.HealthTimeout)
	assert.Equal(t, 5*time.Second, cfg.Deployment.PollInterval)
	assert.False(t, cfg.Deployment.AutoRecover)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	content := `
server:
  host: "192.168.1.1"
  port: 3000
journal:
  dsn: "/custom/path.db"
log:
  level: "warn"
  format: "text"
deployment:
  project_name: "custom-stack"
  health_timeout: "2m"
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(content), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.1", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/custom/path.db", cfg.Journal.DSN)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "custom-stack", cfg.Deployment.ProjectName)
	assert.Equal(t, 2*time.Minute, cfg.Deployment.HealthTimeout)

	// Values not in the file keep their defaults.
	assert.Equal(t, "postgres:16-alpine", cfg.Deployment.Database.Image)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("STACKPILOT_SERVER_HOST", "0.0.0.0")
	t.Setenv("STACKPILOT_SERVER_PORT", "9000")
	t.Setenv("STACKPILOT_JOURNAL_DSN", "/custom/env.db")
	t.Setenv("STACKPILOT_LOG_LEVEL", "debug")
	t.Setenv("STACKPILOT_DEPLOYMENT_NETWORK", "custom-net")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/custom/env.db", cfg.Journal.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "custom-net", cfg.Deployment.Network)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	clearEnv(t)

	content := `
server:
  port: 3000
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(content), 0644))

	t.Setenv("STACKPILOT_SERVER_PORT", "9000")

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err) // Should not error, just use defaults

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8090, cfg.Server.Port)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_JSONFormat(t *testing.T) {
	cfg := &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}

	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

func TestSetupLogger_TextFormat(t *testing.T) {
	cfg := &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}

	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

func TestSetupLogger_InvalidLevel(t *testing.T) {
	cfg := &Config{
		Log: LogConfig{
			Level:  "invalid",
			Format: "json",
		},
	}

	// Should fall back to info level, not panic
	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

func TestSetupLogger_DebugLevel(t *testing.T) {
	cfg := &Config{
		Log: LogConfig{
			Level:  "debug",
			Format: "json",
		},
	}

	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

// =============================================================================
// Config Validation Tests
// =============================================================================

func TestConfig_Address(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8090,
		},
	}

	assert.Equal(t, "localhost:8090", cfg.Server.Address())
}

// =============================================================================
// Test Helpers
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"STACKPILOT_SERVER_HOST",
		"STACKPILOT_SERVER_PORT",
		"STACKPILOT_JOURNAL_DSN",
		"STACKPILOT_JOURNAL_MAX_ROWS",
		"STACKPILOT_LOG_LEVEL",
		"STACKPILOT_LOG_FORMAT",
		"STACKPILOT_DEPLOYMENT_NETWORK",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}
