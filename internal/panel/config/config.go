package config

import (
	"fmt"
	"time"
)

// Config defines the configuration for the vpanel service.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Log       LogConfig       `mapstructure:"log"`
	API       APIConfig       `mapstructure:"api"`
	DB        DBConfig        `mapstructure:"db"`
	Deploy    DeployConfig    `mapstructure:"deploy"`
	SSH       SSHConfig       `mapstructure:"ssh"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Hetzner   HetznerConfig   `mapstructure:"hetzner"`
}

// ServiceConfig defines service-level configuration options.
type ServiceConfig struct {
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig defines the logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// APIConfig defines the API server configuration.
type APIConfig struct {
	ListenAddr  string   `mapstructure:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// DBConfig defines the database configuration.
type DBConfig struct {
	Path            string `mapstructure:"path"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // seconds
}

// DeployConfig defines configuration for the provisioning pipeline.
type DeployConfig struct {
	// Deadline bounds a whole deployment wall-clock; enforced by the
	// watchdog independently of pipeline progress.
	Deadline          time.Duration `mapstructure:"deadline"`
	JobRetention      time.Duration `mapstructure:"job_retention"`
	StageTimeout      time.Duration `mapstructure:"stage_timeout"`
	XrayImage         string        `mapstructure:"xray_image"`
	XrayConfigPath    string        `mapstructure:"xray_config_path"`
	DefaultMaxClients int           `mapstructure:"default_max_clients"`
}

// SSHConfig defines configuration for remote command execution.
type SSHConfig struct {
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	MaxIdle        time.Duration `mapstructure:"max_idle"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
}

// LifecycleConfig defines the subscription lifecycle scheduler configuration.
type LifecycleConfig struct {
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"`
	ReminderInterval time.Duration `mapstructure:"reminder_interval"`
	RenewalInterval  time.Duration `mapstructure:"renewal_interval"`
	WarningWindow    time.Duration `mapstructure:"warning_window"`
	ReminderCooldown time.Duration `mapstructure:"reminder_cooldown"`
	AutoRenewEnabled bool          `mapstructure:"auto_renew_enabled"`
}

// HetznerConfig defines the optional cloud provider configuration.
// Provider-backed deploys are disabled when the token is empty.
type HetznerConfig struct {
	APIToken     string `mapstructure:"api_token"`
	ServerType   string `mapstructure:"server_type"`
	Image        string `mapstructure:"image"`
	Location     string `mapstructure:"location"`
	SSHPublicKey string `mapstructure:"ssh_public_key"`
}

// Validate validates the configuration for correctness and completeness
func (c *Config) Validate() error {
	if c.API.ListenAddr == "" {
		return fmt.Errorf("api.listen_addr is required")
	}
	if c.DB.Path == "" {
		return fmt.Errorf("db.path is required")
	}
	if c.Deploy.Deadline <= 0 {
		return fmt.Errorf("deploy.deadline must be positive")
	}
	if c.Deploy.JobRetention <= 0 {
		return fmt.Errorf("deploy.job_retention must be positive")
	}
	if c.Lifecycle.RefreshInterval <= 0 {
		return fmt.Errorf("lifecycle.refresh_interval must be positive")
	}
	if c.Lifecycle.ReminderInterval <= 0 {
		return fmt.Errorf("lifecycle.reminder_interval must be positive")
	}
	if c.Lifecycle.RenewalInterval <= 0 {
		return fmt.Errorf("lifecycle.renewal_interval must be positive")
	}
	if c.Lifecycle.WarningWindow <= 0 {
		return fmt.Errorf("lifecycle.warning_window must be positive")
	}
	if c.Lifecycle.ReminderCooldown <= 0 {
		return fmt.Errorf("lifecycle.reminder_cooldown must be positive")
	}
	if c.SSH.RetryAttempts < 1 {
		return fmt.Errorf("ssh.retry_attempts must be at least 1")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}

	return nil
}
