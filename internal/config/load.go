package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	s := strings.TrimSpace(value.Value)
	if s == "" || s == "null" {
		d.Duration = 0
		return nil
	}
	if dd, err := time.ParseDuration(s); err == nil {
		d.Duration = dd
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("duration must be a string like \"5s\" or an int nanoseconds: %w", err)
	}
	d.Duration = time.Duration(n)
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Env: "development",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: Duration{Duration: 15 * time.Second},
		},
		Scheduler: SchedulerConfig{
			PollInterval:  Duration{Duration: 10 * time.Second},
			LeaseDuration: Duration{Duration: 5 * time.Minute},
			MaxConcurrent: 3,
			MaxConcurrentPerKind: map[string]int{
				"analyze-audio": 2,
			},
			Workers: 3,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Cooldown:         Duration{Duration: 30 * time.Second},
		},
		Retry: RetryConfig{
			MaxRetries:  3,
			BaseDelay:   Duration{Duration: 30 * time.Second},
			CancelGrace: Duration{Duration: 24 * time.Hour},
		},
		Prediction: PredictionConfig{
			BaseURL:        "http://localhost:8000",
			ProbeTimeout:   Duration{Duration: 5 * time.Second},
			PredictTimeout: Duration{Duration: 60 * time.Second},
		},
	}
}

func Load() (*Config, error) {
	cfg := defaultConfig()

	cfgPath := strings.TrimSpace(os.Getenv("CS_CONFIG_PATH"))
	if cfgPath == "" {
		if wd, err := os.Getwd(); err == nil {
			p := filepath.Join(wd, "config", "config.yaml")
			if _, err := os.Stat(p); err == nil {
				cfgPath = p
			}
		}
	}

	if cfgPath != "" {
		b, err := os.ReadFile(cfgPath)
		if err != nil {
			return nil, err
		}
		var loaded Config
		if err := yaml.Unmarshal(b, &loaded); err != nil {
			return nil, err
		}
		*cfg = loaded
	}

	if v := strings.TrimSpace(os.Getenv("LOG_MODE")); v != "" {
		cfg.Env = v
	}
	if v := strings.TrimSpace(os.Getenv("CS_HTTP_ADDR")); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("CS_PREDICTION_BASE_URL")); v != "" {
		cfg.Prediction.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CS_PREDICTION_API_KEY")); v != "" {
		cfg.Prediction.APIKey = v
	}

	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.ShutdownTimeout.Duration <= 0 {
		cfg.HTTP.ShutdownTimeout = Duration{Duration: 15 * time.Second}
	}
	if strings.TrimSpace(cfg.Prediction.BaseURL) == "" {
		return nil, errors.New("config must define prediction.base_url")
	}
	if cfg.Scheduler.PollInterval.Duration <= 0 {
		cfg.Scheduler.PollInterval = Duration{Duration: 10 * time.Second}
	}
	if cfg.Scheduler.LeaseDuration.Duration <= 0 {
		cfg.Scheduler.LeaseDuration = Duration{Duration: 5 * time.Minute}
	}
	if cfg.Scheduler.MaxConcurrent <= 0 {
		cfg.Scheduler.MaxConcurrent = 3
	}
	// A file that omits the key entirely falls back to the default caps; an
	// explicit empty map means "no per-kind caps" and is left alone.
	if cfg.Scheduler.MaxConcurrentPerKind == nil {
		cfg.Scheduler.MaxConcurrentPerKind = defaultConfig().Scheduler.MaxConcurrentPerKind
	}
	if cfg.Scheduler.Workers <= 0 {
		cfg.Scheduler.Workers = cfg.Scheduler.MaxConcurrent
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.SuccessThreshold <= 0 {
		cfg.Breaker.SuccessThreshold = 2
	}
	if cfg.Breaker.Cooldown.Duration <= 0 {
		cfg.Breaker.Cooldown = Duration{Duration: 30 * time.Second}
	}
	if cfg.Retry.MaxRetries < 0 {
		return nil, fmt.Errorf("retry.max_retries must be >= 0, got %d", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 3
	}
	if cfg.Retry.BaseDelay.Duration <= 0 {
		cfg.Retry.BaseDelay = Duration{Duration: 30 * time.Second}
	}
	if cfg.Retry.CancelGrace.Duration <= 0 {
		cfg.Retry.CancelGrace = Duration{Duration: 24 * time.Hour}
	}
	if cfg.Prediction.ProbeTimeout.Duration <= 0 {
		cfg.Prediction.ProbeTimeout = Duration{Duration: 5 * time.Second}
	}
	if cfg.Prediction.PredictTimeout.Duration <= 0 {
		cfg.Prediction.PredictTimeout = Duration{Duration: 60 * time.Second}
	}
	return cfg, nil
}
