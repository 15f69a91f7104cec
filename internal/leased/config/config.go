package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Config defines the configuration for the lease daemon.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	Log        LogConfig        `mapstructure:"log"`
	API        APIConfig        `mapstructure:"api"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	State      StateConfig      `mapstructure:"state"`
	Tunnel     TunnelConfig     `mapstructure:"tunnel"`
}

// LogConfig defines the logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// APIConfig defines the control API configuration.
type APIConfig struct {
	ListenAddr  string   `mapstructure:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// ReconcilerConfig defines how often due leases are enforced.
type ReconcilerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// StateConfig defines where leases.json and peers.json live.
type StateConfig struct {
	Dir string `mapstructure:"dir"`
}

// ServiceConfig defines service-level configuration options.
type ServiceConfig struct {
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// TunnelConfig describes the local WireGuard interface being enforced.
type TunnelConfig struct {
	Interface      string        `mapstructure:"interface"`
	ConfigPath     string        `mapstructure:"config_path"`
	ProfilesDir    string        `mapstructure:"profiles_dir"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	WatchConfig    bool          `mapstructure:"watch_config"`
}

// LeasesFile returns the path of the lease state file.
func (s StateConfig) LeasesFile() string {
	return filepath.Join(s.Dir, "leases.json")
}

// PeersFile returns the path of the peer cache file.
func (s StateConfig) PeersFile() string {
	return filepath.Join(s.Dir, "peers.json")
}

// Validate validates the configuration for correctness and completeness
func (c *Config) Validate() error {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if c.Log.Level != "" && !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log.level: %s (must be trace, debug, info, warn, or error)", c.Log.Level)
	}

	if c.Log.Format != "" && c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("invalid log.format: %s (must be json or text)", c.Log.Format)
	}

	if c.Service.ShutdownTimeout > 0 && c.Service.ShutdownTimeout < time.Second {
		return fmt.Errorf("service.shutdown_timeout must be at least 1 second")
	}

	if c.Reconciler.Interval > 0 && c.Reconciler.Interval < time.Second {
		return fmt.Errorf("reconciler.interval must be at least 1 second")
	}

	if c.Tunnel.CommandTimeout > 0 && c.Tunnel.CommandTimeout < 100*time.Millisecond {
		return fmt.Errorf("tunnel.command_timeout must be at least 100ms")
	}

	if c.Tunnel.RetryAttempts < 0 {
		return fmt.Errorf("tunnel.retry_attempts must not be negative")
	}

	if c.Tunnel.ConfigPath != "" && !filepath.IsAbs(c.Tunnel.ConfigPath) {
		return fmt.Errorf("tunnel.config_path must be absolute: %s", c.Tunnel.ConfigPath)
	}

	c.setDefaults()

	return nil
}

// setDefaults sets default values for configuration fields that are not set
func (c *Config) setDefaults() {
	if c.Service.ShutdownTimeout <= 0 {
		c.Service.ShutdownTimeout = 30 * time.Second
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = "127.0.0.1:8081"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.Reconciler.Interval <= 0 {
		c.Reconciler.Interval = 30 * time.Second
	}

	if c.State.Dir == "" {
		c.State.Dir = "/var/lib/vpn-leased"
	}

	if c.Tunnel.Interface == "" {
		c.Tunnel.Interface = "wg0"
	}
	if c.Tunnel.ConfigPath == "" {
		c.Tunnel.ConfigPath = filepath.Join("/etc/wireguard", c.Tunnel.Interface+".conf")
	}
	if c.Tunnel.ProfilesDir == "" {
		c.Tunnel.ProfilesDir = "/opt/vpn-leased/profiles"
	}
	if c.Tunnel.CommandTimeout <= 0 {
		c.Tunnel.CommandTimeout = 10 * time.Second
	}
	if c.Tunnel.RetryAttempts == 0 {
		c.Tunnel.RetryAttempts = 2
	}
	if c.Tunnel.RetryBackoff <= 0 {
		c.Tunnel.RetryBackoff = 500 * time.Millisecond
	}
}
