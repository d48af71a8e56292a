package am

import "github.com/teranos/pulseflow/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Retries: 0 means jobs fail straight into an incident, negative is invalid
	if c.Engine.DefaultJobRetries < 0 {
		return errors.Newf("engine.default_job_retries must be >= 0, got %d", c.Engine.DefaultJobRetries)
	}

	// Pulse workers: 0 = no background workers, negative = invalid
	if c.Pulse.Workers < 0 {
		return errors.Newf("pulse.workers must be >= 0, got %d", c.Pulse.Workers)
	}

	if c.Pulse.PollIntervalMS < 0 {
		return errors.Newf("pulse.poll_interval_ms must be >= 0, got %d", c.Pulse.PollIntervalMS)
	}

	if c.Pulse.MaxJobsPerAcquisition < 0 {
		return errors.Newf("pulse.max_jobs_per_acquisition must be >= 0, got %d", c.Pulse.MaxJobsPerAcquisition)
	}

	if c.Pulse.LockDurationSeconds < 0 {
		return errors.Newf("pulse.lock_duration_seconds must be >= 0, got %d", c.Pulse.LockDurationSeconds)
	}

	// Rate limit: 0 = unlimited
	if c.Pulse.MaxExecutionsPerSecond < 0 {
		return errors.Newf("pulse.max_executions_per_second must be >= 0, got %d", c.Pulse.MaxExecutionsPerSecond)
	}

	return nil
}
