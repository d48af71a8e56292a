package retry

import (
	"time"

	"github.com/teranos/pulseflow/pulse/async"
)

// Outcome describes what Apply did to a job
type Outcome struct {
	Retries   int
	Attempt   int // position consumed by this failure
	Interval  time.Duration
	Duedate   time.Time
	Exhausted bool
}

// Apply records one failure on job under cycle at now.
//
// On the first failure a non-default cycle sets the job's retries. Every
// failure then decrements retries (never below zero), sets the duedate to
// now plus the interval at the job's attempt position, and advances the
// position. A retries override between failures therefore changes only the
// count; the interval sequence continues where it left off.
func Apply(job *async.Job, cycle Cycle, cause error, now time.Time) Outcome {
	if job.RetryAttempt == 0 && !cycle.IsDefault() {
		job.Retries = cycle.Retries
	}
	if !cycle.IsDefault() {
		job.RetryIntervals = append([]time.Duration(nil), cycle.Intervals...)
	}

	if job.Retries > 0 {
		job.Retries--
	}

	attempt := job.RetryAttempt
	interval := cycle.IntervalAt(attempt)
	due := now.Add(interval).UTC()
	job.Duedate = &due
	job.RetryAttempt++

	job.Fail(cause)
	job.Unlock()

	return Outcome{
		Retries:   job.Retries,
		Attempt:   attempt,
		Interval:  interval,
		Duedate:   due,
		Exhausted: job.Retries == 0,
	}
}
