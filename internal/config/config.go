// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jmagar/pulse-sub012/internal/finalize"
	"github.com/jmagar/pulse-sub012/internal/retry"
	"github.com/jmagar/pulse-sub012/internal/scrape"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Cancel   CancelConfig   `mapstructure:"cancel"`
	Finalize FinalizeConfig `mapstructure:"finalize"`
	DB       DBConfig       `mapstructure:"db"`
	KV       KVConfig       `mapstructure:"kv"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	WaitTimeoutSec int `mapstructure:"wait_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScraperConfig governs dispatcher and worker behavior.
type ScraperConfig struct {
	Concurrency      int `mapstructure:"concurrency"`
	GlobalQueueDepth int `mapstructure:"queue_depth"`
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffBaseMs    int `mapstructure:"backoff_base_ms"`
}

// RetryConfig bounds the per-job retry budget.
type RetryConfig struct {
	GlobalCap  int            `mapstructure:"global_cap"`
	Categories map[string]int `mapstructure:"categories"`
}

// CancelConfig governs the cancellation record store and watcher.
type CancelConfig struct {
	TTLSeconds     int `mapstructure:"ttl_seconds"`
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
}

// FinalizeConfig governs the terminal-state write retry loop.
type FinalizeConfig struct {
	MaxAttempts    int `mapstructure:"max_attempts"`
	AlertThreshold int `mapstructure:"alert_threshold"`
	BackoffBaseMs  int `mapstructure:"backoff_base_ms"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// KVConfig selects the shared key/value store implementation.
type KVConfig struct {
	Provider string `mapstructure:"provider"`
	Path     string `mapstructure:"path"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID  string `mapstructure:"project_id"`
	EventTopic string `mapstructure:"event_topic"`
	AlertTopic string `mapstructure:"alert_topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
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
	v.SetDefault("server.wait_timeout_seconds", 60)
	v.SetDefault("scraper.concurrency", 4)
	v.SetDefault("scraper.queue_depth", 64)
	v.SetDefault("scraper.max_attempts", 5)
	v.SetDefault("scraper.backoff_base_ms", 250)
	v.SetDefault("retry.global_cap", 6)
	v.SetDefault("retry.categories", map[string]int{
		string(scrape.CategoryAddFeature):    2,
		string(scrape.CategoryRemoveFeature): 2,
		string(scrape.CategoryPDFPrefetch):   1,
		string(scrape.CategoryDocPrefetch):   1,
	})
	v.SetDefault("cancel.ttl_seconds", 3600)
	v.SetDefault("cancel.poll_interval_ms", 1000)
	v.SetDefault("finalize.max_attempts", 3)
	v.SetDefault("finalize.alert_threshold", 0)
	v.SetDefault("finalize.backoff_base_ms", 50)
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.table", "scrape_jobs")
	v.SetDefault("kv.provider", "memory")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.Concurrency <= 0 {
		return fmt.Errorf("scraper.concurrency must be > 0")
	}
	if c.Retry.GlobalCap < 0 {
		return fmt.Errorf("retry.global_cap must be >= 0")
	}
	for category, limit := range c.Retry.Categories {
		if limit < 0 {
			return fmt.Errorf("retry.categories.%s must be >= 0", category)
		}
	}
	if c.Cancel.TTLSeconds <= 0 {
		return fmt.Errorf("cancel.ttl_seconds must be > 0")
	}
	if c.Cancel.PollIntervalMs <= 0 {
		return fmt.Errorf("cancel.poll_interval_ms must be > 0")
	}
	if c.Finalize.MaxAttempts <= 0 {
		return fmt.Errorf("finalize.max_attempts must be > 0")
	}
	if c.DB.Provider == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when db.provider is postgres")
	}
	if c.KV.Provider == "badger" && c.KV.Path == "" {
		return fmt.Errorf("kv.path must be set when kv.provider is badger")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// RetryBudget converts the retry section into a tracker configuration.
func (c Config) RetryBudget() retry.Config {
	caps := make(map[scrape.RetryCategory]int, len(c.Retry.Categories))
	for category, limit := range c.Retry.Categories {
		caps[scrape.RetryCategory(category)] = limit
	}
	return retry.Config{GlobalCap: c.Retry.GlobalCap, CapPerCategory: caps}
}

// CancelTTL returns the cancellation record lifetime.
func (c Config) CancelTTL() time.Duration {
	return time.Duration(c.Cancel.TTLSeconds) * time.Second
}

// CancelPollInterval returns the watcher poll interval.
func (c Config) CancelPollInterval() time.Duration {
	return time.Duration(c.Cancel.PollIntervalMs) * time.Millisecond
}

// FinalizeOptions converts the finalize section into retrier options.
func (c Config) FinalizeOptions() finalize.Options {
	return finalize.Options{
		MaxAttempts:    c.Finalize.MaxAttempts,
		AlertThreshold: c.Finalize.AlertThreshold,
		BackoffBase:    time.Duration(c.Finalize.BackoffBaseMs) * time.Millisecond,
	}
}

// WaitTimeout returns how long the API waits for a job's terminal state.
func (c Config) WaitTimeout() time.Duration {
	return time.Duration(c.Server.WaitTimeoutSec) * time.Second
}
