package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/cataloger/internal/core/domain"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp(t.TempDir(), "config_*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	if _, err := tmpFile.Write([]byte(content)); err != nil {
		t.Fatalf("Failed to write to temp file: %v", err)
	}
	tmpFile.Close()
	return tmpFile.Name()
}

func TestLoad_EnvSubstitution(t *testing.T) {
	os.Setenv("TEST_REDIS_URL", "redis://localhost:6380/1")
	defer os.Unsetenv("TEST_REDIS_URL")

	path := writeTempConfig(t, `
ledger:
  backend: redis
  redis:
    url: ${TEST_REDIS_URL}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Ledger.Redis.URL != "redis://localhost:6380/1" {
		t.Errorf("Expected URL redis://localhost:6380/1, got %s", cfg.Ledger.Redis.URL)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeTempConfig(t, "server:\n  port: 9090\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Crawl.MaxWorkers != 16 {
		t.Errorf("Expected default max_workers 16, got %d", cfg.Crawl.MaxWorkers)
	}
	if cfg.Cache.TTL.For(domain.TierClassification) != 7*24*time.Hour {
		t.Errorf("Expected 7d classification TTL, got %v", cfg.Cache.TTL.Classification)
	}
	if cfg.Detection.ChangeThreshold != 0.05 {
		t.Errorf("Expected default change threshold 0.05, got %g", cfg.Detection.ChangeThreshold)
	}
	if cfg.Breaker.FailThreshold != 5 || cfg.Breaker.FailWindow != 180*time.Second {
		t.Errorf("Unexpected breaker defaults: %+v", cfg.Breaker)
	}
	if cfg.Ledger.Backend != "file" {
		t.Errorf("Expected file ledger default, got %s", cfg.Ledger.Backend)
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		errPart string
	}{
		{"bad backend", "ledger:\n  backend: etcd\n", "ledger.backend"},
		{"bad sample ratio", "detection:\n  sample_ratio: 1.5\n", "sample_ratio"},
		{"retry workers above max", "crawl:\n  max_workers: 2\n  retry_workers: 8\n", "retry_workers"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTempConfig(t, tc.yaml)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.errPart) {
				t.Errorf("error %q does not mention %q", err, tc.errPart)
			}
		})
	}
}
