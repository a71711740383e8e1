// Package models - Service configuration and operational settings.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Ledger backend type constants
const (
	LedgerTypeMemory   = "memory"
	LedgerTypePostgres = "postgres"
)

// Well-known rate limit resource classes. Each class covers one mutating
// surface of the blog platform and carries an independent policy.
const (
	ClassCommentCreate  = "comment-create"
	ClassCommentDelete  = "comment-delete"
	ClassLikeToggle     = "like-toggle"
	ClassBookmarkToggle = "bookmark-toggle"
	ClassSearch         = "search-query"
	ClassTagSync        = "tag-sync"
)

// Config is the root configuration structure containing all service settings.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`                 // HTTP server configuration
	Ledger        LedgerConfig        `yaml:"ledger" json:"ledger"`                 // Relational association store
	CounterStore  CounterStoreConfig  `yaml:"counter_store" json:"counter_store"`   // Redis-backed rate limit counters
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`         // Per-resource-class limits
	Tags          TagsConfig          `yaml:"tags" json:"tags"`                     // Tag sync behavior
	Reconcile     ReconcileConfig     `yaml:"reconcile" json:"reconcile"`           // Batch reconciliation sweep
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`               // Logging and output configuration
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`               // Monitoring and metrics
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`   // Tracing configuration
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

type LedgerConfig struct {
	Type         string        `yaml:"type" json:"type"`
	DSN          string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns" json:"max_open_conns"`
	TxTimeout    time.Duration `yaml:"tx_timeout" json:"tx_timeout"`
}

type CounterStoreConfig struct {
	Addr     string        `yaml:"addr" json:"addr"`
	Password string        `yaml:"password" json:"password"`
	DB       int           `yaml:"db" json:"db"`
	PoolSize int           `yaml:"pool_size" json:"pool_size"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// RateLimitPolicy is the (window, per-user, per-IP) triple for one resource
// class. A per-dimension limit of 0 disables that dimension.
type RateLimitPolicy struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Window  time.Duration `yaml:"window" json:"window"`
	PerUser int           `yaml:"per_user" json:"per_user"`
	PerIP   int           `yaml:"per_ip" json:"per_ip"`
}

type RateLimitConfig struct {
	Enabled  bool                       `yaml:"enabled" json:"enabled"`
	Policies map[string]RateLimitPolicy `yaml:"policies" json:"policies"`
}

type TagsConfig struct {
	MaxPerOwner int `yaml:"max_per_owner" json:"max_per_owner"`
}

type ReconcileConfig struct {
	Interval       time.Duration `yaml:"interval" json:"interval"`               // 0 disables the in-process sweep loop
	ReportDir      string        `yaml:"report_dir" json:"report_dir"`
	DriftThreshold int           `yaml:"drift_threshold" json:"drift_threshold"` // corrections above this log at error level
	PacePerSecond  int           `yaml:"pace_per_second" json:"pace_per_second"` // per-tag query pacing during the sweep
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"` // "stdout" or "otlp"
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with production-ready defaults.
// The memory ledger and absent counter store address mean the service starts
// with no external dependencies; Redis and Postgres are opt-in.
func NewDefaultConfig() *Config {
	minute := time.Minute
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Ledger: LedgerConfig{
			Type:         LedgerTypeMemory,
			MaxOpenConns: 25,
			TxTimeout:    10 * time.Second,
		},
		CounterStore: CounterStoreConfig{
			PoolSize: 10,
			Timeout:  250 * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Policies: map[string]RateLimitPolicy{
				ClassCommentCreate:  {Enabled: true, Window: minute, PerUser: 6, PerIP: 12},
				ClassCommentDelete:  {Enabled: true, Window: minute, PerUser: 10, PerIP: 20},
				ClassLikeToggle:     {Enabled: true, Window: minute, PerUser: 30, PerIP: 60},
				ClassBookmarkToggle: {Enabled: true, Window: minute, PerUser: 30, PerIP: 60},
				ClassSearch:         {Enabled: true, Window: minute, PerUser: 30, PerIP: 60},
				ClassTagSync:        {Enabled: true, Window: minute, PerUser: 12, PerIP: 24},
			},
		},
		Tags: TagsConfig{
			MaxPerOwner: 5,
		},
		Reconcile: ReconcileConfig{
			Interval:       6 * time.Hour,
			ReportDir:      "./data/reports",
			DriftThreshold: 50,
			PacePerSecond:  200,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "tally",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Ledger.Validate(); err != nil {
		return fmt.Errorf("invalid ledger config: %w", err)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if c.Tags.MaxPerOwner <= 0 {
		return errors.New("tags max_per_owner must be positive")
	}

	if c.Reconcile.Interval < 0 {
		return errors.New("reconcile interval cannot be negative")
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	return nil
}

func (lc *LedgerConfig) Validate() error {
	switch lc.Type {
	case LedgerTypeMemory:
		return nil
	case LedgerTypePostgres:
		if lc.DSN == "" {
			return errors.New("dsn is required for postgres ledger")
		}
		return nil
	default:
		return fmt.Errorf("invalid ledger type: %s", lc.Type)
	}
}

func (rc *RateLimitConfig) Validate() error {
	for class, policy := range rc.Policies {
		if policy.Window <= 0 {
			return fmt.Errorf("rate limit window for %s must be positive", class)
		}
		if policy.PerUser < 0 || policy.PerIP < 0 {
			return fmt.Errorf("rate limits for %s cannot be negative", class)
		}
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, lc.Level) {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, lc.Format) {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	validOutputs := []string{"stdout", "stderr", "file"}
	if !contains(validOutputs, lc.Output) {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

// EnvName converts a resource class to its environment variable segment,
// e.g. "comment-create" -> "COMMENT_CREATE".
func EnvName(class string) string {
	return strings.ToUpper(strings.ReplaceAll(class, "-", "_"))
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
