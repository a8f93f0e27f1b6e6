// Package config loads the YAML service configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultConfigFile is used when no path is given.
const defaultConfigFile = "config.yaml"

// Config is the root configuration document.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	APIKey   APIKeyConfig   `yaml:"api-key"`
	Quota    QuotaConfig    `yaml:"quota"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig holds storage settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// JWTConfig holds management-surface token settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// APIKeyConfig holds credential transport settings.
type APIKeyConfig struct {
	// Header carries the raw secret verbatim; no scheme parsing is applied.
	Header string `yaml:"header"`
}

// QuotaConfig holds quota enforcement settings.
type QuotaConfig struct {
	// Backend selects the enforcement strategy: "database" or "redis".
	Backend string `yaml:"backend"`
	// ResetPeriod is the window length used when a key's counter rolls over.
	ResetPeriod time.Duration `yaml:"reset-period"`
}

// RedisConfig holds connection settings for the redis quota backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
}

// ResolveConfigPath returns the effective config path for the given input.
func ResolveConfigPath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return defaultConfigFile
	}
	return filepath.Clean(trimmed)
}

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	data, errRead := os.ReadFile(ResolveConfigPath(path))
	if errRead != nil {
		return nil, fmt.Errorf("config: read: %w", errRead)
	}

	var cfg Config
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return nil, fmt.Errorf("config: parse: %w", errUnmarshal)
	}
	cfg.applyDefaults()

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, fmt.Errorf("config: database.dsn is required")
	}
	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		return nil, fmt.Errorf("config: jwt.secret is required")
	}
	if cfg.Quota.Backend == "redis" && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return nil, fmt.Errorf("config: redis.addr is required for the redis quota backend")
	}
	return &cfg, nil
}

// applyDefaults fills unset fields with service defaults.
func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = ":8317"
	}
	if c.JWT.Expiry <= 0 {
		c.JWT.Expiry = 24 * time.Hour
	}
	if strings.TrimSpace(c.APIKey.Header) == "" {
		c.APIKey.Header = "Authorization"
	}
	if strings.TrimSpace(c.Quota.Backend) == "" {
		c.Quota.Backend = "database"
	}
	if c.Quota.ResetPeriod <= 0 {
		c.Quota.ResetPeriod = 24 * time.Hour
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays <= 0 {
		c.Logging.MaxAgeDays = 30
	}
}
