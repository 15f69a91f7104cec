package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "VPN_LEASED"

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
// Environment variables override values from the YAML file.
func (l *Loader) Load() (*Config, error) {
	l.v.SetConfigName("leased")
	l.v.SetConfigType("yaml")

	l.v.AddConfigPath("/etc/vpn-leased")
	l.v.AddConfigPath("$HOME/.vpn-leased")
	l.v.AddConfigPath(".")

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// Config file not found is OK - we'll use defaults and ENV
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return l.unmarshal()
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
}

// setDefaults sets default configuration values. Every key is registered so
// AutomaticEnv can resolve it during Unmarshal.
func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "json")

	l.v.SetDefault("api.listen_addr", "127.0.0.1:8081")
	l.v.SetDefault("api.cors_origins", []string{})

	l.v.SetDefault("service.shutdown_timeout", "30s")

	l.v.SetDefault("reconciler.interval", "30s")

	l.v.SetDefault("state.dir", "/var/lib/vpn-leased")

	l.v.SetDefault("tunnel.interface", "wg0")
	l.v.SetDefault("tunnel.config_path", "/etc/wireguard/wg0.conf")
	l.v.SetDefault("tunnel.profiles_dir", "/opt/vpn-leased/profiles")
	l.v.SetDefault("tunnel.command_timeout", "10s")
	l.v.SetDefault("tunnel.retry_attempts", 2)
	l.v.SetDefault("tunnel.retry_backoff", "500ms")
	l.v.SetDefault("tunnel.watch_config", true)
}

// GetString returns a raw setting, for diagnostics
func (l *Loader) GetString(key string) string {
	return l.v.GetString(key)
}

// IsSet reports whether key has a value from any source
func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}

// AllSettings returns the merged settings map
func (l *Loader) AllSettings() map[string]any {
	return l.v.AllSettings()
}

// ConfigFileUsed returns the path of the file that was read, if any
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// LoadWithPath loads configuration from a specific file path
func LoadWithPath(configPath string) (*Config, error) {
	loader := NewLoader()
	loader.v.SetConfigFile(configPath)
	loader.setupEnvironmentVariables()
	loader.setDefaults()

	if err := loader.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	return loader.unmarshal()
}

// LoadFromEnv loads configuration only from environment variables
func LoadFromEnv() (*Config, error) {
	loader := NewLoader()
	loader.setupEnvironmentVariables()
	loader.setDefaults()
	return loader.unmarshal()
}
