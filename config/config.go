// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quotagate/quotagate/domain/policy"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Quota    QuotaConfig    `yaml:"quota"`
	Tiers    []TierConfig   `yaml:"tiers"`
	Rollup   RollupConfig   `yaml:"rollup"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig configures the durable ledger.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory" (tests/dev)
	DSN    string `yaml:"dsn"`
}

// RedisConfig configures the distributed bucket backend. When disabled
// (or unreachable) the in-memory bucket store serves all checks.
type RedisConfig struct {
	Enabled   bool          `yaml:"enabled"`
	URL       string        `yaml:"url"`
	BucketTTL time.Duration `yaml:"bucket_ttl"`
}

// QuotaConfig configures engine and recorder behavior.
type QuotaConfig struct {
	CheckTimeout  time.Duration `yaml:"check_timeout"`
	RecordTimeout time.Duration `yaml:"record_timeout"`
	RecordRetries int           `yaml:"record_retries"`

	// FailOpen decides what the API layer does when the ledger is
	// unavailable during a check: admit with a logged warning (true) or
	// reject (false). Deployment-time policy, not engine behavior.
	FailOpen bool `yaml:"fail_open"`
}

// TierConfig configures one tier's limits.
type TierConfig struct {
	Name              string `yaml:"name"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	RequestsPerDay    int    `yaml:"requests_per_day"`
	TokensPerDay      int64  `yaml:"tokens_per_day"`
}

// RollupConfig configures the nightly aggregation job.
type RollupConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron expression, UTC
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Environment variable names. Env values override file values, so the same
// image can be configured per deployment without editing yaml.
const (
	EnvServerHost  = "QUOTAGATE_SERVER_HOST"
	EnvServerPort  = "QUOTAGATE_SERVER_PORT"
	EnvDatabaseDSN = "QUOTAGATE_DATABASE_DSN"
	EnvRedisURL    = "QUOTAGATE_REDIS_URL"
	EnvLogLevel    = "QUOTAGATE_LOG_LEVEL"
	EnvLogFormat   = "QUOTAGATE_LOG_FORMAT"
)

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "quotagate.db",
		},
		Redis: RedisConfig{
			Enabled:   false,
			URL:       "redis://localhost:6379",
			BucketTTL: time.Hour,
		},
		Quota: QuotaConfig{
			CheckTimeout:  2 * time.Second,
			RecordTimeout: 5 * time.Second,
			RecordRetries: 3,
			FailOpen:      false,
		},
		Rollup: RollupConfig{
			Enabled:  true,
			Schedule: "5 0 * * *", // 00:05 UTC, after the day closes
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads configuration from a yaml file, applies env overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a configuration from defaults plus env overrides only.
func FromEnv() (*Config, error) {
	cfg := Default()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvServerHost); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv(EnvServerPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv(EnvDatabaseDSN); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Redis.URL = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.Logging.Format = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "memory" {
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "sqlite" && c.Database.DSN == "" {
		return fmt.Errorf("database dsn required for sqlite driver")
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis url required when redis is enabled")
	}
	for _, t := range c.Tiers {
		if t.Name == "" {
			return fmt.Errorf("tier with empty name")
		}
		if t.RequestsPerMinute <= 0 || t.RequestsPerDay <= 0 || t.TokensPerDay <= 0 {
			return fmt.Errorf("tier %q: limits must be positive", t.Name)
		}
	}
	return nil
}

// PolicyTable builds the tier policy table. Config tiers override the
// built-in defaults per tier name; unlisted built-ins remain available.
func (c *Config) PolicyTable() policy.Table {
	policies := policy.Defaults()
	for _, t := range c.Tiers {
		policies = append(policies, policy.Policy{
			Tier:              policy.Tier(t.Name),
			RequestsPerMinute: t.RequestsPerMinute,
			RequestsPerDay:    t.RequestsPerDay,
			TokensPerDay:      t.TokensPerDay,
		})
	}
	return policy.NewTable(policies)
}
