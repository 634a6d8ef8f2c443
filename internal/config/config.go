// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Politeness PolitenessConfig `mapstructure:"politeness"`
	DB         DBConfig         `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
	Extract    ExtractConfig    `mapstructure:"extract"`
	Logging    LoggingConfig    `mapstructure:"logging"`
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

// SchedulerConfig governs the orchestrator tick, worker pool and adaptive schedule.
type SchedulerConfig struct {
	Tick               string             `mapstructure:"tick"`
	PoolSize           int                `mapstructure:"pool_size"`
	BatchLimit         int                `mapstructure:"batch_limit"`
	CrawlBudgetSeconds int                `mapstructure:"crawl_budget_seconds"`
	LockTTLSeconds     int                `mapstructure:"lock_ttl_seconds"`
	BaseBackoffMinutes int                `mapstructure:"base_backoff_minutes"`
	MaxBackoffHours    int                `mapstructure:"max_backoff_hours"`
	FailureThreshold   int                `mapstructure:"failure_threshold"`
	NoChangeThreshold  int                `mapstructure:"nochange_threshold"`
	BusyThreshold      int                `mapstructure:"busy_threshold"`
	Jitter             float64            `mapstructure:"jitter"`
	MinFrequencyDays   float64            `mapstructure:"min_frequency_days"`
	MaxFrequencyDays   float64            `mapstructure:"max_frequency_days"`
	CategoryFrequency  map[string]float64 `mapstructure:"category_frequency"`
	DefaultFrequency   float64            `mapstructure:"default_frequency_days"`
}

// HTTPConfig configures the transport client.
type HTTPConfig struct {
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxAttempts      int    `mapstructure:"max_attempts"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	UserAgent        string `mapstructure:"user_agent"`
	Contact          string `mapstructure:"contact"`
	MaxBodyKB        int    `mapstructure:"max_body_kb"`
}

// PolitenessConfig holds the default domain policy and robots settings.
type PolitenessConfig struct {
	MaxConcurrency  int  `mapstructure:"max_concurrency"`
	MinIntervalMs   int  `mapstructure:"min_interval_ms"`
	MaxPages        int  `mapstructure:"max_pages"`
	RespectRobots   bool `mapstructure:"respect_robots"`
	RobotsTTLHours  int  `mapstructure:"robots_ttl_hours"`
	MaxRetryAfterMs int  `mapstructure:"max_retry_after_ms"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// RedisConfig points the lock manager at Redis. Empty URL means in-process locks.
type RedisConfig struct {
	URL        string `mapstructure:"url"`
	LockPrefix string `mapstructure:"lock_prefix"`
}

// SecretsConfig configures the secret-lookup collaborator.
type SecretsConfig struct {
	File      string `mapstructure:"file"`
	EnvPrefix string `mapstructure:"env_prefix"`
}

// ExtractConfig tunes extraction and outcome reporting.
type ExtractConfig struct {
	MessageMaxLen     int `mapstructure:"message_max_len"`
	SinceFallbackDays int `mapstructure:"since_fallback_days"`
	FeedMaxAgeDays    int `mapstructure:"feed_max_age_days"`
	SimulateLimit     int `mapstructure:"simulate_limit"`
	TestSampleSize    int `mapstructure:"test_sample_size"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("scheduler.tick", "@every 5m")
	v.SetDefault("scheduler.pool_size", 8)
	v.SetDefault("scheduler.batch_limit", 200)
	v.SetDefault("scheduler.crawl_budget_seconds", 600)
	v.SetDefault("scheduler.lock_ttl_seconds", 1200)
	v.SetDefault("scheduler.base_backoff_minutes", 30)
	v.SetDefault("scheduler.max_backoff_hours", 168)
	v.SetDefault("scheduler.failure_threshold", 5)
	v.SetDefault("scheduler.nochange_threshold", 3)
	v.SetDefault("scheduler.busy_threshold", 10)
	v.SetDefault("scheduler.jitter", 0.15)
	v.SetDefault("scheduler.min_frequency_days", 0.5)
	v.SetDefault("scheduler.max_frequency_days", 14)
	v.SetDefault("scheduler.default_frequency_days", 3)
	v.SetDefault("scheduler.category_frequency", map[string]float64{
		"large":    1,
		"standard": 3,
		"slow":     7,
	})
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("http.user_agent", "jobcrawler/1.0 (+https://github.com/JakeFAU/jobcrawler)")
	v.SetDefault("http.contact", "crawler@jobcrawler.dev")
	v.SetDefault("http.max_body_kb", 5120)
	v.SetDefault("politeness.max_concurrency", 2)
	v.SetDefault("politeness.min_interval_ms", 1000)
	v.SetDefault("politeness.max_pages", 10)
	v.SetDefault("politeness.respect_robots", true)
	v.SetDefault("politeness.robots_ttl_hours", 12)
	v.SetDefault("politeness.max_retry_after_ms", 30000)
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("db.max_idle_conns", 2)
	v.SetDefault("redis.lock_prefix", "jobcrawler:lock:")
	v.SetDefault("secrets.env_prefix", "JOBCRAWLER_SECRET_")
	v.SetDefault("extract.message_max_len", 500)
	v.SetDefault("extract.since_fallback_days", 30)
	v.SetDefault("extract.feed_max_age_days", 60)
	v.SetDefault("extract.simulate_limit", 5)
	v.SetDefault("extract.test_sample_size", 5)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scheduler.PoolSize <= 0 {
		return fmt.Errorf("scheduler.pool_size must be > 0")
	}
	if c.Scheduler.CrawlBudgetSeconds <= 0 {
		return fmt.Errorf("scheduler.crawl_budget_seconds must be > 0")
	}
	if c.Scheduler.LockTTLSeconds < c.Scheduler.CrawlBudgetSeconds {
		return fmt.Errorf("scheduler.lock_ttl_seconds must be >= scheduler.crawl_budget_seconds")
	}
	if c.Scheduler.BaseBackoffMinutes <= 0 {
		return fmt.Errorf("scheduler.base_backoff_minutes must be > 0")
	}
	if c.Scheduler.FailureThreshold <= 0 {
		return fmt.Errorf("scheduler.failure_threshold must be > 0")
	}
	if c.Scheduler.Jitter < 0 || c.Scheduler.Jitter >= 1 {
		return fmt.Errorf("scheduler.jitter must be in [0, 1)")
	}
	if c.Scheduler.MinFrequencyDays <= 0 || c.Scheduler.MaxFrequencyDays < c.Scheduler.MinFrequencyDays {
		return fmt.Errorf("scheduler frequency bounds must satisfy 0 < min <= max")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if strings.TrimSpace(c.HTTP.UserAgent) == "" {
		return fmt.Errorf("http.user_agent must be set")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// CrawlBudget is the soft wall-clock limit for one source crawl.
func (c Config) CrawlBudget() time.Duration {
	return time.Duration(c.Scheduler.CrawlBudgetSeconds) * time.Second
}

// LockTTL is the lease duration for a source crawl lock.
func (c Config) LockTTL() time.Duration {
	return time.Duration(c.Scheduler.LockTTLSeconds) * time.Second
}

// HTTPTimeout is the per-request transport timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BaseBackoff is the first step of the error reschedule ladder.
func (c Config) BaseBackoff() time.Duration {
	return time.Duration(c.Scheduler.BaseBackoffMinutes) * time.Minute
}

// MaxBackoff caps the error reschedule ladder.
func (c Config) MaxBackoff() time.Duration {
	return time.Duration(c.Scheduler.MaxBackoffHours) * time.Hour
}

// RobotsTTL is how long a parsed robots.txt stays cached.
func (c Config) RobotsTTL() time.Duration {
	return time.Duration(c.Politeness.RobotsTTLHours) * time.Hour
}
