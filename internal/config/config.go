// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Matcher   MatcherConfig   `mapstructure:"matcher"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// EngineConfig points at the external crawl engine.
type EngineConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ReconcileConfig governs the per-job reconciliation loops.
type ReconcileConfig struct {
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	JobTimeoutSeconds   int `mapstructure:"job_timeout_seconds"`
	MaxRetries          int `mapstructure:"max_retries"`
	RetryBackoffSeconds int `mapstructure:"retry_backoff_seconds"`
}

// MatcherConfig tunes snippet extraction.
type MatcherConfig struct {
	Window int `mapstructure:"window"`
}

// DBConfig selects and controls the job store backend.
type DBConfig struct {
	Backend  string `mapstructure:"backend"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for completion event publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAGEFINDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("engine.base_url", "https://api.firecrawl.dev")
	v.SetDefault("engine.timeout_seconds", 30)
	v.SetDefault("reconcile.poll_interval_seconds", 5)
	v.SetDefault("reconcile.job_timeout_seconds", 300)
	v.SetDefault("reconcile.max_retries", 3)
	v.SetDefault("reconcile.retry_backoff_seconds", 2)
	v.SetDefault("matcher.window", 100)
	v.SetDefault("db.backend", "memory")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Engine.BaseURL == "" {
		return fmt.Errorf("engine.base_url must be set")
	}
	if c.Reconcile.PollIntervalSeconds <= 0 {
		return fmt.Errorf("reconcile.poll_interval_seconds must be > 0")
	}
	if c.Reconcile.JobTimeoutSeconds <= 0 {
		return fmt.Errorf("reconcile.job_timeout_seconds must be > 0")
	}
	if c.Reconcile.MaxRetries < 0 {
		return fmt.Errorf("reconcile.max_retries must be >= 0")
	}
	if c.Matcher.Window <= 0 {
		return fmt.Errorf("matcher.window must be > 0")
	}
	switch c.DB.Backend {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.backend is postgres")
		}
	default:
		return fmt.Errorf("db.backend must be memory or postgres")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// PollInterval returns the reconciliation tick interval as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Reconcile.PollIntervalSeconds) * time.Second
}

// JobTimeout returns the per-job wall-clock budget as a duration.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Reconcile.JobTimeoutSeconds) * time.Second
}

// RetryBackoff returns the fixed retry pause as a duration.
func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.Reconcile.RetryBackoffSeconds) * time.Second
}

// EngineTimeout returns the engine HTTP client timeout as a duration.
func (c Config) EngineTimeout() time.Duration {
	return time.Duration(c.Engine.TimeoutSeconds) * time.Second
}
