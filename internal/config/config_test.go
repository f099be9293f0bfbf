package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CS_CONFIG_PATH", "")
	t.Setenv("LOG_MODE", "")
	t.Setenv("CS_HTTP_ADDR", "")
	t.Setenv("CS_PREDICTION_BASE_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.PollInterval.Duration != 10*time.Second {
		t.Fatalf("unexpected poll interval: %s", cfg.Scheduler.PollInterval.Duration)
	}
	if cfg.Scheduler.LeaseDuration.Duration != 5*time.Minute {
		t.Fatalf("unexpected lease: %s", cfg.Scheduler.LeaseDuration.Duration)
	}
	if cfg.Breaker.FailureThreshold != 5 || cfg.Breaker.SuccessThreshold != 2 {
		t.Fatalf("unexpected breaker defaults: %+v", cfg.Breaker)
	}
	if cfg.Retry.MaxRetries != 3 || cfg.Retry.BaseDelay.Duration != 30*time.Second {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.Retry.CancelGrace.Duration != 24*time.Hour {
		t.Fatalf("unexpected cancel grace: %s", cfg.Retry.CancelGrace.Duration)
	}
	if got := cfg.Scheduler.MaxConcurrentPerKind["analyze-audio"]; got != 2 {
		t.Fatalf("unexpected per-kind cap: %d", got)
	}
}

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
env: production
http:
  addr: ":9090"
scheduler:
  poll_interval: 2s
  lease_duration: 90s
  max_concurrent: 7
  workers: 4
breaker:
  failure_threshold: 9
  cooldown: 45s
retry:
  max_retries: 5
  base_delay: 10s
prediction:
  base_url: http://model:8000
  predict_timeout: 120s
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CS_CONFIG_PATH", path)
	t.Setenv("LOG_MODE", "")
	t.Setenv("CS_HTTP_ADDR", "")
	t.Setenv("CS_PREDICTION_BASE_URL", "http://override:8000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != "production" || cfg.HTTP.Addr != ":9090" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Scheduler.PollInterval.Duration != 2*time.Second || cfg.Scheduler.LeaseDuration.Duration != 90*time.Second {
		t.Fatalf("durations not parsed: %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.MaxConcurrent != 7 || cfg.Scheduler.Workers != 4 {
		t.Fatalf("scheduler ints not applied: %+v", cfg.Scheduler)
	}
	if cfg.Breaker.FailureThreshold != 9 || cfg.Breaker.Cooldown.Duration != 45*time.Second {
		t.Fatalf("breaker not applied: %+v", cfg.Breaker)
	}
	if cfg.Breaker.SuccessThreshold != 2 {
		t.Fatalf("missing field must fall back to default, got %d", cfg.Breaker.SuccessThreshold)
	}
	// Keys the file omits entirely must not degrade to zero values.
	if cfg.HTTP.ShutdownTimeout.Duration != 15*time.Second {
		t.Fatalf("omitted shutdown_timeout must default, got %s", cfg.HTTP.ShutdownTimeout.Duration)
	}
	if got := cfg.Scheduler.MaxConcurrentPerKind["analyze-audio"]; got != 2 {
		t.Fatalf("omitted per-kind caps must default, got %v", cfg.Scheduler.MaxConcurrentPerKind)
	}
	if cfg.Retry.MaxRetries != 5 || cfg.Retry.BaseDelay.Duration != 10*time.Second {
		t.Fatalf("retry not applied: %+v", cfg.Retry)
	}
	// Env beats file.
	if cfg.Prediction.BaseURL != "http://override:8000" {
		t.Fatalf("env override lost: %s", cfg.Prediction.BaseURL)
	}
	if cfg.Prediction.PredictTimeout.Duration != 120*time.Second {
		t.Fatalf("predict timeout not applied: %s", cfg.Prediction.PredictTimeout.Duration)
	}
}

func TestLoadExplicitEmptyPerKindCaps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
scheduler:
  max_concurrent_per_kind: {}
prediction:
  base_url: http://model:8000
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CS_CONFIG_PATH", path)
	t.Setenv("CS_PREDICTION_BASE_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.MaxConcurrentPerKind == nil || len(cfg.Scheduler.MaxConcurrentPerKind) != 0 {
		t.Fatalf("explicit empty caps must stay empty, got %v", cfg.Scheduler.MaxConcurrentPerKind)
	}
}

func TestLoadRejectsMissingBaseURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("env: production\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CS_CONFIG_PATH", path)
	t.Setenv("CS_PREDICTION_BASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing prediction.base_url")
	}
}
