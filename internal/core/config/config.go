package config

import (
	"time"

	"github.com/vietddude/cataloger/internal/core/domain"
	postgresclient "github.com/vietddude/cataloger/internal/infra/postgres"
	redisclient "github.com/vietddude/cataloger/internal/infra/redis"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Cache     CacheConfig     `yaml:"cache"`
	Crawl     CrawlConfig     `yaml:"crawl"`
	Detection DetectionConfig `yaml:"detection"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP status server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// CatalogConfig identifies the upstream catalog.
type CatalogConfig struct {
	RootURL string `yaml:"root_url"`
	BaseURL string `yaml:"base_url"`
}

// CacheConfig holds snapshot store settings.
type CacheConfig struct {
	Dir          string    `yaml:"dir"`
	Retention    int       `yaml:"retention"`     // snapshot files kept per tier
	HistoryLimit int       `yaml:"history_limit"` // version history entries kept
	TTL          TTLConfig `yaml:"ttl"`
}

// TTLConfig holds per-tier snapshot time-to-live.
type TTLConfig struct {
	Classification time.Duration `yaml:"classification"`
	Products       time.Duration `yaml:"products"`
	Specifications time.Duration `yaml:"specifications"`
}

// For returns the TTL for a tier. Tiers without a TTL never expire.
func (c TTLConfig) For(t domain.Tier) time.Duration {
	switch t {
	case domain.TierClassification:
		return c.Classification
	case domain.TierProducts:
		return c.Products
	case domain.TierSpecifications:
		return c.Specifications
	default:
		return 0
	}
}

// CrawlConfig holds fetch coordination settings.
type CrawlConfig struct {
	MaxWorkers     int           `yaml:"max_workers"`
	RetryWorkers   int           `yaml:"retry_workers"`    // concurrency for previously-failed items
	MaxRetries     int           `yaml:"max_retries"`      // cross-run cap per item
	AttemptsPerRun int           `yaml:"attempts_per_run"` // in-run backoff attempts per item
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
}

// DetectionConfig holds change-detection tuning. The thresholds are heuristic
// constants carried over from production tuning, not statistically rigorous.
type DetectionConfig struct {
	SampleRatio      float64       `yaml:"sample_ratio"`
	SampleMin        int           `yaml:"sample_min"`
	SampleMax        int           `yaml:"sample_max"`
	ChangeThreshold  float64       `yaml:"change_threshold"`
	FullCheckRatio   float64       `yaml:"full_check_ratio"` // above this, diff everything
	MinCheckInterval time.Duration `yaml:"min_check_interval"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	FailWindow     time.Duration `yaml:"fail_window"`
	FailThreshold  int           `yaml:"fail_threshold"`
	Pause          time.Duration `yaml:"pause"`
	CooldownFactor float64       `yaml:"cooldown_factor"`
}

// LedgerConfig selects and configures the failure ledger backend.
type LedgerConfig struct {
	Backend  string                `yaml:"backend"` // file, redis, postgres
	File     string                `yaml:"file"`
	Redis    redisclient.Config    `yaml:"redis"`
	Database postgresclient.Config `yaml:"database"`
}
