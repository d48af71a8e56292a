package am

import "time"

// Config represents the pulseflow runtime configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database" toml:"database"`
	Engine   EngineConfig   `mapstructure:"engine" toml:"engine"`
	Pulse    PulseConfig    `mapstructure:"pulse" toml:"pulse"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// EngineConfig configures process execution and the failed-job retry policy
type EngineConfig struct {
	// Retries a job is created with when no retry cycle applies (default: 3)
	DefaultJobRetries int `mapstructure:"default_job_retries" toml:"default_job_retries"`

	// Engine-wide retry cycle, e.g. "R5/PT5M" or "PT5M,PT20M,PT3M" (empty = none)
	FailedJobRetryTimeCycle string `mapstructure:"failed_job_retry_time_cycle" toml:"failed_job_retry_time_cycle"`

	// Directory of YAML process definitions loaded and watched by `pulse start`
	DefinitionsDir string `mapstructure:"definitions_dir" toml:"definitions_dir"`
}

// PulseConfig configures job acquisition and the worker pool
type PulseConfig struct {
	Workers                int    `mapstructure:"workers" toml:"workers"`                                     // Concurrent job workers (default: 1)
	PollIntervalMS         int    `mapstructure:"poll_interval_ms" toml:"poll_interval_ms"`                   // Acquisition cycle interval (default: 1000)
	MaxJobsPerAcquisition  int    `mapstructure:"max_jobs_per_acquisition" toml:"max_jobs_per_acquisition"`   // Jobs locked per cycle (default: 3)
	LockDurationSeconds    int    `mapstructure:"lock_duration_seconds" toml:"lock_duration_seconds"`         // Lock lifetime before another worker may reclaim (default: 300)
	LockOwner              string `mapstructure:"lock_owner" toml:"lock_owner"`                               // Identifies this node in lock_owner (default: hostname-pid)
	MaxExecutionsPerSecond int    `mapstructure:"max_executions_per_second" toml:"max_executions_per_second"` // 0 = unlimited
}

// PollInterval returns the acquisition interval as a duration
func (p PulseConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalMS) * time.Millisecond
}

// LockDuration returns the job lock lifetime as a duration
func (p PulseConfig) LockDuration() time.Duration {
	return time.Duration(p.LockDurationSeconds) * time.Second
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
