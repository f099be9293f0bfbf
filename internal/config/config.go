package config

import "time"

type Duration struct {
	Duration time.Duration
}

type SchedulerConfig struct {
	// PollInterval is how often each worker checks for a claimable job.
	PollInterval Duration `yaml:"poll_interval"`

	// LeaseDuration bounds how long a crashed or stuck worker can hold a job
	// before it becomes claimable again.
	LeaseDuration Duration `yaml:"lease_duration"`

	// MaxConcurrent caps concurrently leased jobs across all kinds.
	MaxConcurrent int `yaml:"max_concurrent"`

	// MaxConcurrentPerKind caps concurrently leased jobs per job kind.
	// Kinds not listed fall back to MaxConcurrent.
	MaxConcurrentPerKind map[string]int `yaml:"max_concurrent_per_kind"`

	Workers int `yaml:"workers"`
}

type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	SuccessThreshold int      `yaml:"success_threshold"`
	Cooldown         Duration `yaml:"cooldown"`
}

type RetryConfig struct {
	MaxRetries int      `yaml:"max_retries"`
	BaseDelay  Duration `yaml:"base_delay"`

	// CancelGrace is how long a fully exhausted failed record is kept before
	// the sweep moves it to cancelled.
	CancelGrace Duration `yaml:"cancel_grace"`
}

type PredictionConfig struct {
	BaseURL        string   `yaml:"base_url"`
	APIKey         string   `yaml:"api_key"`
	ProbeTimeout   Duration `yaml:"probe_timeout"`
	PredictTimeout Duration `yaml:"predict_timeout"`
}

type HTTPConfig struct {
	Addr            string   `yaml:"addr"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

type Config struct {
	Env        string           `yaml:"env"`
	HTTP       HTTPConfig       `yaml:"http"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Retry      RetryConfig      `yaml:"retry"`
	Prediction PredictionConfig `yaml:"prediction"`
}
