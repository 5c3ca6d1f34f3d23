// Package config loads agent configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete agent configuration
type Config struct {
	Agent   AgentConfig   `mapstructure:"agent"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Usage   UsageConfig   `mapstructure:"usage"`
	Blocker BlockerConfig `mapstructure:"blocker"`
	API     APIConfig     `mapstructure:"api"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// AgentConfig defines the long-running agent loop
type AgentConfig struct {
	DataDir                 string `mapstructure:"data_dir"` // Empty: /var/lib/childmon as root, ~/.childmon otherwise
	HeartbeatInterval       string `mapstructure:"heartbeat_interval"`
	PermissionCheckInterval string `mapstructure:"permission_check_interval"`
	ConfirmTimeout          string `mapstructure:"confirm_timeout"`
	LedgerSize              int    `mapstructure:"ledger_size"`
}

// RedisConfig defines the remote store connection
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// UsageConfig defines usage sampling
type UsageConfig struct {
	SampleInterval  string   `mapstructure:"sample_interval"`
	TrackedPackages []string `mapstructure:"tracked_packages"`
	Timezone        string   `mapstructure:"timezone"`
}

// BlockerConfig defines the OS-level blocker
type BlockerConfig struct {
	SweepInterval     string   `mapstructure:"sweep_interval"`
	ProtectedPackages []string `mapstructure:"protected_packages"`
	SuspendMode       bool     `mapstructure:"suspend_mode"`
}

// APIConfig defines the local status API (also serves /metrics)
type APIConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BindAddress string `mapstructure:"bind_address"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("childmon")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/childmon")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("CHILDMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.Agent.DataDir = expandHome(config.Agent.DataDir)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.data_dir", "") // empty: chosen by execution mode
	v.SetDefault("agent.heartbeat_interval", "30s")
	v.SetDefault("agent.permission_check_interval", "5m")
	v.SetDefault("agent.confirm_timeout", "10s")
	v.SetDefault("agent.ledger_size", 512)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")

	v.SetDefault("usage.sample_interval", "15s")
	v.SetDefault("usage.tracked_packages", []string{})
	v.SetDefault("usage.timezone", "Local")

	v.SetDefault("blocker.sweep_interval", "2s")
	v.SetDefault("blocker.protected_packages", []string{"systemd", "sshd", "childmon"})
	v.SetDefault("blocker.suspend_mode", true)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.bind_address", "127.0.0.1:7767")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
}

// validate checks configuration for errors
func validate(c *Config) error {
	durations := map[string]string{
		"agent.heartbeat_interval":        c.Agent.HeartbeatInterval,
		"agent.permission_check_interval": c.Agent.PermissionCheckInterval,
		"agent.confirm_timeout":           c.Agent.ConfirmTimeout,
		"redis.dial_timeout":              c.Redis.DialTimeout,
		"redis.read_timeout":              c.Redis.ReadTimeout,
		"redis.write_timeout":             c.Redis.WriteTimeout,
		"usage.sample_interval":           c.Usage.SampleInterval,
		"blocker.sweep_interval":          c.Blocker.SweepInterval,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}

	if c.Agent.LedgerSize <= 0 {
		return fmt.Errorf("agent.ledger_size must be positive")
	}
	if c.Redis.Host == "" {
		return fmt.Errorf("redis.host is required")
	}
	if _, err := time.LoadLocation(c.Usage.Timezone); err != nil {
		return fmt.Errorf("usage.timezone: %w", err)
	}
	if c.API.Enabled && c.API.BindAddress == "" {
		return fmt.Errorf("api.bind_address is required when api is enabled")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}

	return nil
}

// Duration parses a duration that validate already accepted.
func Duration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
