package am

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Default values shared between SetDefaults and the zero-value getters
const (
	DefaultDatabasePath          = "pulseflow.db"
	DefaultJobRetries            = 3
	DefaultWorkers               = 1
	DefaultPollIntervalMS        = 1000
	DefaultMaxJobsPerAcquisition = 3
	DefaultLockDurationSeconds   = 300
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", DefaultDatabasePath)

	// Engine defaults
	v.SetDefault("engine.default_job_retries", DefaultJobRetries)
	v.SetDefault("engine.failed_job_retry_time_cycle", "") // No global cycle
	v.SetDefault("engine.definitions_dir", "definitions")

	// Pulse (job acquisition) defaults
	v.SetDefault("pulse.workers", DefaultWorkers)
	v.SetDefault("pulse.poll_interval_ms", DefaultPollIntervalMS)
	v.SetDefault("pulse.max_jobs_per_acquisition", DefaultMaxJobsPerAcquisition)
	v.SetDefault("pulse.lock_duration_seconds", DefaultLockDurationSeconds)
	v.SetDefault("pulse.lock_owner", DefaultLockOwner())
	v.SetDefault("pulse.max_executions_per_second", 0) // Unlimited
}

// BindSensitiveEnvVars explicitly binds configuration that deployments commonly inject
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "PULSEFLOW_DATABASE_PATH")
	v.BindEnv("pulse.lock_owner", "PULSEFLOW_LOCK_OWNER")
}

// DefaultLockOwner derives a node identity from hostname and pid
func DefaultLockOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "pulseflow"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return DefaultDatabasePath
	}
	return c.Database.Path
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Engine: {Retries: %d, Cycle: %q}, Pulse: {Workers: %d, Poll: %dms}}",
		c.Database.Path, c.Engine.DefaultJobRetries, c.Engine.FailedJobRetryTimeCycle, c.Pulse.Workers, c.Pulse.PollIntervalMS)
}
