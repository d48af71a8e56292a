// Package async provides durable job acquisition, locking and execution for
// process continuations, with retry bookkeeping left to the caller.
package async

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/pulseflow/errors"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusLocked    JobStatus = "locked"
	JobStatusFailed    JobStatus = "failed"
	JobStatusExhausted JobStatus = "exhausted"
)

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusLocked, JobStatusFailed, JobStatusExhausted:
		return true
	default:
		return false
	}
}

// Job is a durable unit of deferred work bound to an execution.
//
// Successful jobs are deleted. A failed job is rescheduled with its retries
// decremented; at zero retries it is exhausted and an incident is raised.
type Job struct {
	ID                  string          `json:"id"`
	HandlerName         string          `json:"handler_name"`
	Configuration       string          `json:"configuration,omitempty"`
	ExecutionID         string          `json:"execution_id,omitempty"`
	ProcessInstanceID   string          `json:"process_instance_id,omitempty"`
	ProcessDefinitionID string          `json:"process_definition_id,omitempty"`
	ActivityID          string          `json:"activity_id,omitempty"`
	Status              JobStatus       `json:"status"`
	Retries             int             `json:"retries"`
	RetryAttempt        int             `json:"retry_attempt"`
	RetryIntervals      []time.Duration `json:"retry_intervals,omitempty"` // nil when no cycle applies
	Duedate             *time.Time      `json:"duedate,omitempty"`
	LockOwner           string          `json:"lock_owner,omitempty"`
	LockExpirationTime  *time.Time      `json:"lock_expiration_time,omitempty"`
	ExceptionMessage    string          `json:"exception_message,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// NewJob creates a queued job for handlerName with the given initial retries.
// The job is due immediately.
func NewJob(handlerName string, retries int, now time.Time) (*Job, error) {
	if handlerName == "" {
		return nil, errors.New("handlerName cannot be empty")
	}
	if retries < 0 {
		return nil, errors.Newf("retries cannot be negative: %d", retries)
	}

	now = now.UTC()
	return &Job{
		ID:          uuid.NewString(),
		HandlerName: handlerName,
		Status:      JobStatusQueued,
		Retries:     retries,
		Duedate:     &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// IsLocked reports whether the job holds a lock that has not expired at now
func (j *Job) IsLocked(now time.Time) bool {
	return j.LockOwner != "" && j.LockExpirationTime != nil && j.LockExpirationTime.After(now)
}

// IsDue reports whether the job may be acquired at now
func (j *Job) IsDue(now time.Time) bool {
	if j.Retries <= 0 || j.Status == JobStatusExhausted {
		return false
	}
	return j.Duedate == nil || !j.Duedate.After(now)
}

// Lock assigns ownership of the job until the given time
func (j *Job) Lock(owner string, until time.Time) {
	until = until.UTC()
	j.LockOwner = owner
	j.LockExpirationTime = &until
	j.Status = JobStatusLocked
}

// Unlock clears ownership. Status returns to queued unless the job is exhausted.
func (j *Job) Unlock() {
	j.LockOwner = ""
	j.LockExpirationTime = nil
	if j.Status == JobStatusLocked {
		j.Status = JobStatusQueued
	}
}

// Fail records a handler failure message
func (j *Job) Fail(err error) {
	if err != nil {
		j.ExceptionMessage = err.Error()
	}
	j.Status = JobStatusFailed
	if j.Retries <= 0 {
		j.Status = JobStatusExhausted
	}
}

// Snapshot returns a deep copy safe to hand to another goroutine
func (j *Job) Snapshot() *Job {
	c := *j
	if j.RetryIntervals != nil {
		c.RetryIntervals = append([]time.Duration(nil), j.RetryIntervals...)
	}
	if j.Duedate != nil {
		d := *j.Duedate
		c.Duedate = &d
	}
	if j.LockExpirationTime != nil {
		l := *j.LockExpirationTime
		c.LockExpirationTime = &l
	}
	return &c
}

// ShortID returns the leading segment of the job id for log lines
func (j *Job) ShortID() string {
	if i := strings.IndexByte(j.ID, '-'); i > 0 {
		return j.ID[:i]
	}
	return j.ID
}
