package async

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/teranos/pulseflow/db"
	"github.com/teranos/pulseflow/errors"
)

// Store handles persistence of jobs. It runs against a *sql.DB or a
// command's *sql.Tx.
type Store struct {
	q   db.Querier
	now func() time.Time
}

// NewStore creates a new job store
func NewStore(q db.Querier) *Store {
	return &Store{q: q, now: time.Now}
}

// WithClock overrides the timestamp source used for updated_at
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) stamp() time.Time {
	return s.now().UTC()
}

// CreateJob inserts a new job into the database
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.stamp()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO jobs (
			id, handler_name, configuration, execution_id,
			process_instance_id, process_definition_id, activity_id,
			status, retries, retry_attempt, retry_intervals,
			duedate, lock_owner, lock_expiration_time, exception_message,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.HandlerName, nullString(job.Configuration), nullString(job.ExecutionID),
		nullString(job.ProcessInstanceID), nullString(job.ProcessDefinitionID), nullString(job.ActivityID),
		string(job.Status), job.Retries, job.RetryAttempt, encodeIntervals(job.RetryIntervals),
		nullTime(job.Duedate), nullString(job.LockOwner), nullTime(job.LockExpirationTime), nullString(job.ExceptionMessage),
		job.CreatedAt.UTC(), job.UpdatedAt.UTC(),
	)
	if err != nil {
		err = errors.Wrap(err, "failed to create job")
		if db.IsConstraintViolation(err) {
			err = errors.Mark(err, errors.ErrConflict)
		}
		return errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + standardJobSelectColumns() + ` FROM jobs WHERE id = ?`

	var job Job
	var args jobScanArgs
	err := s.q.QueryRowContext(ctx, query, id).Scan(jobScanTargets(&job, &args)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	if err := processJobScanArgs(&job, &args); err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateJob writes every mutable column of a job
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	job.UpdatedAt = s.stamp()
	res, err := s.q.ExecContext(ctx, `
		UPDATE jobs
		SET configuration = ?,
		    status = ?,
		    retries = ?,
		    retry_attempt = ?,
		    retry_intervals = ?,
		    duedate = ?,
		    lock_owner = ?,
		    lock_expiration_time = ?,
		    exception_message = ?,
		    updated_at = ?
		WHERE id = ?`,
		nullString(job.Configuration), string(job.Status), job.Retries, job.RetryAttempt,
		encodeIntervals(job.RetryIntervals), nullTime(job.Duedate), nullString(job.LockOwner),
		nullTime(job.LockExpirationTime), nullString(job.ExceptionMessage), job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		err = errors.Wrap(err, "failed to update job")
		return errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
	}
	return s.requireRow(res, "job", job.ID)
}

// DeleteJob removes a job. Deleting a missing job is not an error.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		err = errors.Wrap(err, "failed to delete job")
		return errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
	}
	return nil
}

// FindDueUnlockedJobs returns jobs with retries left whose duedate has passed
// and which hold no live lock, oldest duedate first.
func (s *Store) FindDueUnlockedJobs(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	now = now.UTC()
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+standardJobSelectColumns()+`
		FROM jobs
		WHERE retries > 0
		  AND status != ?
		  AND (duedate IS NULL OR duedate <= ?)
		  AND (lock_owner IS NULL OR lock_expiration_time IS NULL OR lock_expiration_time <= ?)
		ORDER BY duedate ASC, created_at ASC
		LIMIT ?`,
		string(JobStatusExhausted), now, now, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query due jobs")
	}
	defer rows.Close()
	return scanJobs(rows)
}

// TryLock takes the lock on a job in one conditional UPDATE. If another owner
// holds a live lock, the job is gone or exhausted, or another writer kept the
// database busy, it returns ErrLockConflict.
func (s *Store) TryLock(ctx context.Context, id, owner string, until, now time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE jobs
		SET lock_owner = ?,
		    lock_expiration_time = ?,
		    status = ?,
		    updated_at = ?
		WHERE id = ?
		  AND retries > 0
		  AND (lock_owner IS NULL OR lock_expiration_time IS NULL OR lock_expiration_time <= ?)`,
		owner, until.UTC(), string(JobStatusLocked), s.stamp(),
		id, now.UTC(),
	)
	if err != nil {
		err = errors.Wrap(err, "failed to lock job")
		if db.IsBusy(err) {
			err = errors.Mark(err, errors.ErrLockConflict)
		}
		return errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read lock result")
	}
	if n == 0 {
		err := errors.Mark(errors.Newf("job %s is locked by another owner", id), errors.ErrLockConflict)
		return errors.WithDetail(err, fmt.Sprintf("Lock owner: %s", owner))
	}
	return nil
}

// Unlock releases a lock held by owner
func (s *Store) Unlock(ctx context.Context, id, owner string) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE jobs
		SET lock_owner = NULL,
		    lock_expiration_time = NULL,
		    status = CASE WHEN status = ? THEN ? ELSE status END,
		    updated_at = ?
		WHERE id = ? AND lock_owner = ?`,
		string(JobStatusLocked), string(JobStatusQueued), s.stamp(),
		id, owner,
	)
	if err != nil {
		err = errors.Wrap(err, "failed to unlock job")
		return errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
	}
	return nil
}

// ReleaseLocksOwnedBy clears every lock held by owner and returns how many
// jobs were released. Used at worker pool start after an unclean shutdown.
func (s *Store) ReleaseLocksOwnedBy(ctx context.Context, owner string) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE jobs
		SET lock_owner = NULL,
		    lock_expiration_time = NULL,
		    status = CASE WHEN status = ? THEN ? ELSE status END,
		    updated_at = ?
		WHERE lock_owner = ?`,
		string(JobStatusLocked), string(JobStatusQueued), s.stamp(), owner,
	)
	if err != nil {
		err = errors.Wrap(err, "failed to release locks")
		return 0, errors.WithDetail(err, fmt.Sprintf("Lock owner: %s", owner))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read release result")
	}
	return n, nil
}

// ListJobsByProcessInstance returns the jobs of one process instance
func (s *Store) ListJobsByProcessInstance(ctx context.Context, processInstanceID string) ([]*Job, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+standardJobSelectColumns()+`
		FROM jobs
		WHERE process_instance_id = ?
		ORDER BY created_at ASC`,
		processInstanceID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs by process instance")
	}
	defer rows.Close()
	return scanJobs(rows)
}

// DeleteJobsByProcessInstance removes every job of a process instance
func (s *Store) DeleteJobsByProcessInstance(ctx context.Context, processInstanceID string) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM jobs WHERE process_instance_id = ?`, processInstanceID)
	if err != nil {
		err = errors.Wrap(err, "failed to delete jobs")
		return 0, errors.WithDetail(err, fmt.Sprintf("Process instance ID: %s", processInstanceID))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read delete result")
	}
	return n, nil
}

// SetRetries overrides the remaining retries of a job. RetryAttempt is left
// untouched so the next failure continues the configured interval sequence.
func (s *Store) SetRetries(ctx context.Context, id string, retries int) error {
	if retries < 0 {
		return errors.NewInvalidRequestError("retries cannot be negative: %d", retries)
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE jobs
		SET retries = ?,
		    status = CASE WHEN ? > 0 AND status IN (?, ?) THEN ? ELSE status END,
		    updated_at = ?
		WHERE id = ?`,
		retries,
		retries, string(JobStatusExhausted), string(JobStatusFailed), string(JobStatusQueued),
		s.stamp(), id,
	)
	if err != nil {
		err = errors.Wrap(err, "failed to set job retries")
		return errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
	}
	return s.requireRow(res, "job", id)
}

// ListJobs returns jobs, optionally filtered by status, oldest first
func (s *Store) ListJobs(ctx context.Context, status *JobStatus, limit int) ([]*Job, error) {
	query := `SELECT ` + standardJobSelectColumns() + ` FROM jobs`
	var args []interface{}
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()
	return scanJobs(rows)
}

// CountJobs returns the number of jobs per status
func (s *Store) CountJobs(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[JobStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate job counts")
	}
	return counts, nil
}

func (s *Store) requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "failed to read %s update result", kind)
	}
	if n == 0 {
		return errors.NewNotFoundError("%s not found: %s", kind, id)
	}
	return nil
}
