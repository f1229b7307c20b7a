// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Queue and store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Queue       QueueConfig       `mapstructure:"queue"`
	DB          DBConfig          `mapstructure:"db"`
	HTML        HTMLConfig        `mapstructure:"html"`
	Headless    HeadlessConfig    `mapstructure:"headless"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Analytics   AnalyticsConfig   `mapstructure:"analytics"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Reaper      ReaperConfig      `mapstructure:"reaper"`
	Batch       BatchConfig       `mapstructure:"batch"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ShutdownSeconds int `mapstructure:"shutdown_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// WorkerConfig governs the audit worker pool and its retry budget.
type WorkerConfig struct {
	Concurrency         int     `mapstructure:"concurrency"`
	JobTimeoutSeconds   int     `mapstructure:"job_timeout_seconds"`
	MaxAttempts         int     `mapstructure:"max_attempts"`
	BackoffInitialMs    int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs        int     `mapstructure:"backoff_max_ms"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
}

// QueueConfig selects and tunes the job queue.
type QueueConfig struct {
	Backend             string `mapstructure:"backend"`
	Depth               int    `mapstructure:"depth"`
	RedisURL            string `mapstructure:"redis_url"`
	Stream              string `mapstructure:"stream"`
	Group               string `mapstructure:"group"`
	Consumer            string `mapstructure:"consumer"`
	BlockMs             int    `mapstructure:"block_ms"`
	ClaimMinIdleSeconds int    `mapstructure:"claim_min_idle_seconds"`
}

// DBConfig controls access to the run store.
type DBConfig struct {
	Backend                string `mapstructure:"backend"`
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	AutoMigrate            bool   `mapstructure:"auto_migrate"`
}

// HTMLConfig configures the plain HTML fetcher.
type HTMLConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// PerformanceConfig configures the PageSpeed Insights source.
type PerformanceConfig struct {
	APIKey          string `mapstructure:"api_key"`
	Strategy        string `mapstructure:"strategy"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	MaxRetries      int    `mapstructure:"max_retries"`
	RetryDelayMs    int    `mapstructure:"retry_delay_ms"`
	CacheTTLMinutes int    `mapstructure:"cache_ttl_minutes"`
}

// AnalyticsConfig configures the Search Console OAuth client and query window.
type AnalyticsConfig struct {
	ClientID        string `mapstructure:"client_id"`
	ClientSecret    string `mapstructure:"client_secret"`
	RedirectURI     string `mapstructure:"redirect_uri"`
	CacheTTLMinutes int    `mapstructure:"cache_ttl_minutes"`
	LookbackDays    int    `mapstructure:"lookback_days"`
	RowLimit        int64  `mapstructure:"row_limit"`
}

// NotifyConfig holds the Pub/Sub completion topic. An empty project keeps notifications in memory.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ReaperConfig controls the stuck-run sweeper.
type ReaperConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	IntervalSeconds  int  `mapstructure:"interval_seconds"`
	MaxRunAgeMinutes int  `mapstructure:"max_run_age_minutes"`
}

// BatchConfig configures the offline batch crawler.
type BatchConfig struct {
	URLsFile       string   `mapstructure:"urls_file"`
	KeywordsDir    string   `mapstructure:"keywords_dir"`
	Output         string   `mapstructure:"output"`
	BaseURL        string   `mapstructure:"base_url"`
	Langs          []string `mapstructure:"langs"`
	Subset         int      `mapstructure:"subset"`
	Concurrency    int      `mapstructure:"concurrency"`
	DelayMs        int      `mapstructure:"delay_ms"`
	RetryLimit     int      `mapstructure:"retry_limit"`
	RateLimitRPS   float64  `mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SEOAUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindWellKnownEnv(v); err != nil {
		return Config{}, err
	}

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

// bindWellKnownEnv maps the unprefixed variable names deployments already use.
func bindWellKnownEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"performance.api_key":     {"SEOAUDIT_PERFORMANCE_API_KEY", "PSI_API_KEY"},
		"analytics.client_id":     {"SEOAUDIT_ANALYTICS_CLIENT_ID", "GSC_CLIENT_ID"},
		"analytics.client_secret": {"SEOAUDIT_ANALYTICS_CLIENT_SECRET", "GSC_CLIENT_SECRET"},
		"analytics.redirect_uri":  {"SEOAUDIT_ANALYTICS_REDIRECT_URI", "GSC_REDIRECT_URI"},
		"db.dsn":                  {"SEOAUDIT_DB_DSN", "DATABASE_URL"},
		"queue.redis_url":         {"SEOAUDIT_QUEUE_REDIS_URL", "REDIS_URL"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_seconds", 15)
	v.SetDefault("worker.concurrency", 3)
	v.SetDefault("worker.job_timeout_seconds", 120)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.backoff_initial_ms", 1000)
	v.SetDefault("worker.backoff_max_ms", 30000)
	v.SetDefault("worker.similarity_threshold", 0.8)
	v.SetDefault("queue.backend", BackendMemory)
	v.SetDefault("queue.depth", 64)
	v.SetDefault("queue.stream", "seoaudit:jobs")
	v.SetDefault("queue.group", "workers")
	v.SetDefault("queue.block_ms", 2000)
	v.SetDefault("queue.claim_min_idle_seconds", 300)
	v.SetDefault("db.backend", BackendMemory)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("db.auto_migrate", false)
	v.SetDefault("html.user_agent", "seo-auditor/1.0")
	v.SetDefault("html.timeout_seconds", 15)
	v.SetDefault("html.respect_robots", true)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("performance.strategy", "mobile")
	v.SetDefault("performance.timeout_seconds", 30)
	v.SetDefault("performance.max_retries", 2)
	v.SetDefault("performance.retry_delay_ms", 1000)
	v.SetDefault("performance.cache_ttl_minutes", 30)
	v.SetDefault("analytics.cache_ttl_minutes", 10)
	v.SetDefault("analytics.lookback_days", 28)
	v.SetDefault("analytics.row_limit", 10)
	v.SetDefault("notify.topic", "seo-audit-events")
	v.SetDefault("reaper.enabled", true)
	v.SetDefault("reaper.interval_seconds", 60)
	v.SetDefault("reaper.max_run_age_minutes", 15)
	v.SetDefault("batch.urls_file", "urls.csv")
	v.SetDefault("batch.keywords_dir", ".")
	v.SetDefault("batch.output", "audit-output")
	v.SetDefault("batch.langs", []string{"en"})
	v.SetDefault("batch.subset", 0)
	v.SetDefault("batch.concurrency", 10)
	v.SetDefault("batch.delay_ms", 1000)
	v.SetDefault("batch.retry_limit", 2)
	v.SetDefault("batch.rate_limit_rps", 0)
	v.SetDefault("batch.rate_limit_burst", 1)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.JobTimeoutSeconds <= 0 {
		return fmt.Errorf("worker.job_timeout_seconds must be > 0")
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker.max_attempts must be > 0")
	}
	switch c.Queue.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Queue.RedisURL == "" {
			return fmt.Errorf("queue.redis_url must be set when queue.backend is redis")
		}
	default:
		return fmt.Errorf("queue.backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.Queue.Backend)
	}
	switch c.DB.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.backend is postgres")
		}
	default:
		return fmt.Errorf("db.backend must be %q or %q, got %q", BackendMemory, BackendPostgres, c.DB.Backend)
	}
	if c.HTML.TimeoutSeconds <= 0 {
		return fmt.Errorf("html.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Reaper.Enabled && c.ReaperMaxRunAge() <= c.JobTimeout() {
		return fmt.Errorf("reaper.max_run_age_minutes must exceed worker.job_timeout_seconds")
	}
	if c.Batch.Concurrency <= 0 {
		return fmt.Errorf("batch.concurrency must be > 0")
	}
	if c.Batch.RetryLimit < 0 {
		return fmt.Errorf("batch.retry_limit must be >= 0")
	}
	return nil
}

// JobTimeout is the end-to-end deadline for one audit job.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Worker.JobTimeoutSeconds) * time.Second
}

// ReaperMaxRunAge is how long a run may stay in running before it is failed.
func (c Config) ReaperMaxRunAge() time.Duration {
	return time.Duration(c.Reaper.MaxRunAgeMinutes) * time.Minute
}

// OAuthConfigured reports whether Search Console client credentials are present.
func (c Config) OAuthConfigured() bool {
	return c.Analytics.ClientID != "" && c.Analytics.ClientSecret != ""
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// BackoffBounds returns the worker retry base and cap delays.
func (c Config) BackoffBounds() (time.Duration, time.Duration) {
	return millis(c.Worker.BackoffInitialMs), millis(c.Worker.BackoffMaxMs)
}

// BatchDelay is the pause between batch crawler batches.
func (c Config) BatchDelay() time.Duration {
	return millis(c.Batch.DelayMs)
}
