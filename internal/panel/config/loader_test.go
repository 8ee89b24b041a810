package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Service.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":8080", cfg.API.ListenAddr)
	assert.Equal(t, "./data/vpanel.db", cfg.DB.Path)
	assert.Equal(t, 30*time.Minute, cfg.Deploy.Deadline)
	assert.Equal(t, time.Hour, cfg.Deploy.JobRetention)
	assert.Equal(t, "teddysun/xray:latest", cfg.Deploy.XrayImage)
	// the path is a directory, the pipeline writes config.json inside it
	assert.Equal(t, "/etc/xray", cfg.Deploy.XrayConfigPath)
	assert.Equal(t, 100, cfg.Deploy.DefaultMaxClients)
	assert.Equal(t, 3, cfg.SSH.RetryAttempts)
	assert.Equal(t, 72*time.Hour, cfg.Lifecycle.WarningWindow)
	assert.Equal(t, 24*time.Hour, cfg.Lifecycle.ReminderCooldown)
	assert.True(t, cfg.Lifecycle.AutoRenewEnabled)
	assert.Empty(t, cfg.Hetzner.APIToken)
	assert.Equal(t, "cx22", cfg.Hetzner.ServerType)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("VPANEL_LOG_LEVEL", "debug")
	t.Setenv("VPANEL_API_LISTEN_ADDR", ":9090")
	t.Setenv("VPANEL_DEPLOY_DEADLINE", "45m")
	t.Setenv("VPANEL_SSH_RETRY_ATTEMPTS", "5")
	t.Setenv("VPANEL_LIFECYCLE_WARNING_WINDOW", "48h")
	t.Setenv("VPANEL_LIFECYCLE_AUTO_RENEW_ENABLED", "false")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9090", cfg.API.ListenAddr)
	assert.Equal(t, 45*time.Minute, cfg.Deploy.Deadline)
	assert.Equal(t, 5, cfg.SSH.RetryAttempts)
	assert.Equal(t, 48*time.Hour, cfg.Lifecycle.WarningWindow)
	assert.False(t, cfg.Lifecycle.AutoRenewEnabled)
}

func TestLoadRejectsInvalidEnvironment(t *testing.T) {
	t.Setenv("VPANEL_LOG_LEVEL", "verbose")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
}

func TestLoadWithPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
log:
  level: warn
api:
  listen_addr: "127.0.0.1:8081"
deploy:
  deadline: 20m
  default_max_clients: 50
lifecycle:
  warning_window: 96h
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := LoadWithPath(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:8081", cfg.API.ListenAddr)
	assert.Equal(t, 20*time.Minute, cfg.Deploy.Deadline)
	assert.Equal(t, 50, cfg.Deploy.DefaultMaxClients)
	assert.Equal(t, 96*time.Hour, cfg.Lifecycle.WarningWindow)
	// Untouched keys keep their defaults
	assert.Equal(t, "./data/vpanel.db", cfg.DB.Path)
}

func TestLoadWithPathMissingFile(t *testing.T) {
	_, err := LoadWithPath(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoaderIsSet(t *testing.T) {
	t.Setenv("VPANEL_HETZNER_API_TOKEN", "test-token")

	loader := NewLoader()
	_, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "test-token", loader.GetString("hetzner.api_token"))
	assert.True(t, loader.IsSet("log.level"))
	assert.False(t, loader.IsSet("nonexistent.key"))
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := NewLoader().Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing listen addr",
			mutate:  func(c *Config) { c.API.ListenAddr = "" },
			wantErr: "api.listen_addr",
		},
		{
			name:    "missing db path",
			mutate:  func(c *Config) { c.DB.Path = "" },
			wantErr: "db.path",
		},
		{
			name:    "non-positive deadline",
			mutate:  func(c *Config) { c.Deploy.Deadline = 0 },
			wantErr: "deploy.deadline",
		},
		{
			name:    "non-positive job retention",
			mutate:  func(c *Config) { c.Deploy.JobRetention = -time.Minute },
			wantErr: "deploy.job_retention",
		},
		{
			name:    "non-positive refresh interval",
			mutate:  func(c *Config) { c.Lifecycle.RefreshInterval = 0 },
			wantErr: "lifecycle.refresh_interval",
		},
		{
			name:    "non-positive warning window",
			mutate:  func(c *Config) { c.Lifecycle.WarningWindow = 0 },
			wantErr: "lifecycle.warning_window",
		},
		{
			name:    "zero retry attempts",
			mutate:  func(c *Config) { c.SSH.RetryAttempts = 0 },
			wantErr: "ssh.retry_attempts",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "trace" },
			wantErr: "log.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
