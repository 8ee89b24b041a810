package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from YAML files and environment variables
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// Load loads configuration from files and environment variables.
// YAML files take precedence over defaults, ENV variables override both.
func (l *Loader) Load() (*Config, error) {
	l.v.SetConfigName("config")
	l.v.SetConfigType("yaml")

	// Search paths in order of priority
	l.v.AddConfigPath("/etc/vpanel")
	l.v.AddConfigPath("$HOME/.vpanel")
	l.v.AddConfigPath(".")

	l.v.SetEnvPrefix("VPANEL")
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	l.setDefaults()

	// Config file is optional; defaults and ENV are enough to run
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	// Service defaults
	l.v.SetDefault("service.shutdown_timeout", "30s")

	// Log defaults
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "json")

	// API defaults
	l.v.SetDefault("api.listen_addr", ":8080")
	l.v.SetDefault("api.cors_origins", []string{})

	// Database defaults
	l.v.SetDefault("db.path", "./data/vpanel.db")
	l.v.SetDefault("db.max_open_conns", 25)
	l.v.SetDefault("db.max_idle_conns", 5)
	l.v.SetDefault("db.conn_max_lifetime", 300) // 5 minutes

	// Deployment pipeline defaults
	l.v.SetDefault("deploy.deadline", "30m")
	l.v.SetDefault("deploy.job_retention", "1h")
	l.v.SetDefault("deploy.stage_timeout", "10m")
	l.v.SetDefault("deploy.xray_image", "teddysun/xray:latest")
	// Directory holding the generated config.json, mounted into the container
	l.v.SetDefault("deploy.xray_config_path", "/etc/xray")
	l.v.SetDefault("deploy.default_max_clients", 100)

	// SSH defaults
	l.v.SetDefault("ssh.dial_timeout", "10s")
	l.v.SetDefault("ssh.command_timeout", "60s")
	l.v.SetDefault("ssh.max_idle", "5m")
	l.v.SetDefault("ssh.retry_attempts", 3)

	// Subscription lifecycle defaults
	l.v.SetDefault("lifecycle.refresh_interval", "30m")
	l.v.SetDefault("lifecycle.reminder_interval", "1h")
	l.v.SetDefault("lifecycle.renewal_interval", "6h")
	l.v.SetDefault("lifecycle.warning_window", "72h")
	l.v.SetDefault("lifecycle.reminder_cooldown", "24h")
	l.v.SetDefault("lifecycle.auto_renew_enabled", true)

	// Hetzner defaults (token intentionally has no default)
	l.v.SetDefault("hetzner.server_type", "cx22")
	l.v.SetDefault("hetzner.image", "ubuntu-22.04")
	l.v.SetDefault("hetzner.location", "nbg1")
}

// LoadWithPath loads configuration from a specific file path
func LoadWithPath(configPath string) (*Config, error) {
	loader := NewLoader()
	loader.v.SetConfigFile(configPath)
	return loader.Load()
}

// IsSet reports whether the key was set by file, env or default
func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}

// GetString returns a raw string value from the underlying viper instance
func (l *Loader) GetString(key string) string {
	return l.v.GetString(key)
}
