package config

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// SyncConfig controls the snapshot fetcher run by the sync command.
type SyncConfig struct {
	OutputDir          string `toml:"output_dir"`
	RequestIntervalMS  int    `toml:"request_interval_ms"`
	MaxRetries         int    `toml:"max_retries"`
	RetryWaitSeconds   int    `toml:"retry_wait_seconds"`
	TimeoutWaitSeconds int    `toml:"timeout_wait_seconds"`
}

func (s *SyncConfig) validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.OutputDir, validation.NotIn("/")),
		validation.Field(&s.RequestIntervalMS, validation.Min(0)),
		validation.Field(&s.MaxRetries, validation.Min(0), validation.Max(10)),
		validation.Field(&s.RetryWaitSeconds, validation.Min(0), validation.Max(3600)),
		validation.Field(&s.TimeoutWaitSeconds, validation.Min(0), validation.Max(600)),
	)
}

func (s *SyncConfig) setDefaults() {
	if s.OutputDir == "" {
		s.OutputDir = "data"
	}
	if s.RequestIntervalMS == 0 {
		s.RequestIntervalMS = 1500
	}
	if s.MaxRetries == 0 {
		s.MaxRetries = 3
	}
	if s.RetryWaitSeconds == 0 {
		s.RetryWaitSeconds = 60
	}
	if s.TimeoutWaitSeconds == 0 {
		s.TimeoutWaitSeconds = 5
	}
}

// RequestInterval is the minimum spacing between consecutive upstream calls.
func (s SyncConfig) RequestInterval() time.Duration {
	return time.Duration(s.RequestIntervalMS) * time.Millisecond
}

// RetryWait is how long to back off after a 429 response.
func (s SyncConfig) RetryWait() time.Duration {
	return time.Duration(s.RetryWaitSeconds) * time.Second
}

// TimeoutWait is how long to back off after an upstream timeout.
func (s SyncConfig) TimeoutWait() time.Duration {
	return time.Duration(s.TimeoutWaitSeconds) * time.Second
}
