package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied, used when no
// config file is given.
func Default() *AppConfig {
	cfg := &AppConfig{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = "results/cache"
	}
	if cfg.Cache.Retention == 0 {
		cfg.Cache.Retention = 5
	}
	if cfg.Cache.HistoryLimit == 0 {
		cfg.Cache.HistoryLimit = 50
	}
	if cfg.Cache.TTL.Classification == 0 {
		cfg.Cache.TTL.Classification = 7 * 24 * time.Hour
	}
	if cfg.Cache.TTL.Products == 0 {
		cfg.Cache.TTL.Products = 3 * 24 * time.Hour
	}
	if cfg.Cache.TTL.Specifications == 0 {
		cfg.Cache.TTL.Specifications = 24 * time.Hour
	}
	if cfg.Crawl.MaxWorkers == 0 {
		cfg.Crawl.MaxWorkers = 16
	}
	if cfg.Crawl.RetryWorkers == 0 {
		cfg.Crawl.RetryWorkers = 4
	}
	if cfg.Crawl.MaxRetries == 0 {
		cfg.Crawl.MaxRetries = 3
	}
	if cfg.Crawl.AttemptsPerRun == 0 {
		cfg.Crawl.AttemptsPerRun = 2
	}
	if cfg.Crawl.FetchTimeout == 0 {
		cfg.Crawl.FetchTimeout = 60 * time.Second
	}
	if cfg.Detection.SampleRatio == 0 {
		cfg.Detection.SampleRatio = 0.1
	}
	if cfg.Detection.SampleMin == 0 {
		cfg.Detection.SampleMin = 5
	}
	if cfg.Detection.SampleMax == 0 {
		cfg.Detection.SampleMax = 50
	}
	if cfg.Detection.ChangeThreshold == 0 {
		cfg.Detection.ChangeThreshold = 0.05
	}
	if cfg.Detection.FullCheckRatio == 0 {
		cfg.Detection.FullCheckRatio = 0.2
	}
	if cfg.Detection.MinCheckInterval == 0 {
		cfg.Detection.MinCheckInterval = 2 * time.Hour
	}
	if cfg.Detection.ProbeTimeout == 0 {
		cfg.Detection.ProbeTimeout = 30 * time.Second
	}
	if cfg.Breaker.FailWindow == 0 {
		cfg.Breaker.FailWindow = 180 * time.Second
	}
	if cfg.Breaker.FailThreshold == 0 {
		cfg.Breaker.FailThreshold = 5
	}
	if cfg.Breaker.Pause == 0 {
		cfg.Breaker.Pause = 120 * time.Second
	}
	if cfg.Breaker.CooldownFactor == 0 {
		cfg.Breaker.CooldownFactor = 0.5
	}
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = "file"
	}
	if cfg.Ledger.File == "" {
		cfg.Ledger.File = "results/cache/failures.jsonl"
	}
}

// Validate checks every recognized option for a usable value.
func (cfg *AppConfig) Validate() error {
	if cfg.Crawl.MaxWorkers < 1 {
		return fmt.Errorf("crawl.max_workers must be positive, got %d", cfg.Crawl.MaxWorkers)
	}
	if cfg.Crawl.RetryWorkers < 1 || cfg.Crawl.RetryWorkers > cfg.Crawl.MaxWorkers {
		return fmt.Errorf(
			"crawl.retry_workers must be in [1, max_workers], got %d",
			cfg.Crawl.RetryWorkers,
		)
	}
	if cfg.Crawl.MaxRetries < 1 {
		return fmt.Errorf("crawl.max_retries must be positive, got %d", cfg.Crawl.MaxRetries)
	}
	if cfg.Detection.SampleRatio <= 0 || cfg.Detection.SampleRatio > 1 {
		return fmt.Errorf(
			"detection.sample_ratio must be in (0, 1], got %g",
			cfg.Detection.SampleRatio,
		)
	}
	if cfg.Detection.ChangeThreshold <= 0 || cfg.Detection.ChangeThreshold >= 1 {
		return fmt.Errorf(
			"detection.change_threshold must be in (0, 1), got %g",
			cfg.Detection.ChangeThreshold,
		)
	}
	if cfg.Detection.SampleMin > cfg.Detection.SampleMax {
		return fmt.Errorf(
			"detection.sample_min %d exceeds sample_max %d",
			cfg.Detection.SampleMin, cfg.Detection.SampleMax,
		)
	}
	if cfg.Breaker.FailThreshold < 1 {
		return fmt.Errorf(
			"breaker.fail_threshold must be positive, got %d",
			cfg.Breaker.FailThreshold,
		)
	}
	if cfg.Breaker.CooldownFactor < 0 {
		return fmt.Errorf(
			"breaker.cooldown_factor must be >= 0, got %g",
			cfg.Breaker.CooldownFactor,
		)
	}
	if cfg.Cache.Retention < 1 {
		return fmt.Errorf("cache.retention must be positive, got %d", cfg.Cache.Retention)
	}
	switch cfg.Ledger.Backend {
	case "file", "redis", "postgres":
	default:
		return fmt.Errorf(
			"ledger.backend must be file, redis or postgres, got %q",
			cfg.Ledger.Backend,
		)
	}
	return nil
}
