// Package config defines the typed application configuration and its
// defaults, loaded through viper from file, environment, and flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/receiptflow/receiptflow/internal/common"
)

// Config is the full application configuration.
type Config struct {
	Backend   BackendConfig   `mapstructure:"backend"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Normalize NormalizeConfig `mapstructure:"normalize"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// BackendConfig configures the extraction backend client.
type BackendConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	APIKey        string        `mapstructure:"api_key"`
	ID            string        `mapstructure:"id"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
	RateLimit     int           `mapstructure:"rate_limit"`
	MaxInFlight   int64         `mapstructure:"max_in_flight"`
}

// CacheConfig configures the extraction candidate cache.
type CacheConfig struct {
	TTL  time.Duration `mapstructure:"ttl"`
	Size int           `mapstructure:"size"`
}

// NormalizeConfig configures the validator/normalizer policy.
type NormalizeConfig struct {
	DefaultCurrency     string        `mapstructure:"default_currency"`
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold"`
	ClockSkew           time.Duration `mapstructure:"clock_skew"`
	KeywordRules        []KeywordRule `mapstructure:"keyword_rules"`
}

// KeywordRule is a user-supplied category fallback rule, merged with the
// built-in defaults.
type KeywordRule struct {
	Category string `mapstructure:"category"`
	Regex    string `mapstructure:"regex"`
	Priority int    `mapstructure:"priority"`
}

// PipelineConfig configures the worker pool and queue.
type PipelineConfig struct {
	Workers    int `mapstructure:"workers"`
	QueueDepth int `mapstructure:"queue_depth"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every default value on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("backend.id", "extraction-backend")
	v.SetDefault("backend.max_attempts", 3)
	v.SetDefault("backend.retry_delay", time.Second)
	v.SetDefault("backend.max_retry_delay", 30*time.Second)
	v.SetDefault("backend.call_timeout", 30*time.Second)
	v.SetDefault("backend.rate_limit", 60)
	v.SetDefault("backend.max_in_flight", 4)

	v.SetDefault("cache.ttl", 15*time.Minute)
	v.SetDefault("cache.size", 10000)

	v.SetDefault("normalize.default_currency", "USD")
	v.SetDefault("normalize.confidence_threshold", 0.7)
	v.SetDefault("normalize.clock_skew", 26*time.Hour)

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_depth", 64)

	v.SetDefault("database.path", defaultDatabasePath())

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Load unmarshals and validates the configuration from a viper instance.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the pipeline cannot run with.
// The backend endpoint is checked separately by ValidateBackend so commands
// that never call the backend work without one.
func (c *Config) Validate() error {
	if c.Backend.MaxAttempts < 1 {
		return fmt.Errorf("%w: backend.max_attempts must be at least 1", common.ErrInvalidConfig)
	}
	if c.Normalize.ConfidenceThreshold < 0 || c.Normalize.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: normalize.confidence_threshold must be between 0 and 1", common.ErrInvalidConfig)
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("%w: pipeline.workers must be at least 1", common.ErrInvalidConfig)
	}
	if c.Pipeline.QueueDepth < 1 {
		return fmt.Errorf("%w: pipeline.queue_depth must be at least 1", common.ErrInvalidConfig)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path", common.ErrMissingConfig)
	}
	return nil
}

// ValidateBackend checks the configuration needed to reach the extraction
// backend.
func (c *Config) ValidateBackend() error {
	if c.Backend.Endpoint == "" {
		return fmt.Errorf("%w: backend.endpoint", common.ErrMissingConfig)
	}
	return nil
}

func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "receiptflow.db"
	}
	return filepath.Join(home, ".local", "share", "receiptflow", "receiptflow.db")
}
