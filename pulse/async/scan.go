package async

import (
	"database/sql"
	"strings"
	"time"

	"github.com/teranos/pulseflow/errors"
)

// jobScanArgs holds the nullable columns of a job row
type jobScanArgs struct {
	Configuration       sql.NullString
	ExecutionID         sql.NullString
	ProcessInstanceID   sql.NullString
	ProcessDefinitionID sql.NullString
	ActivityID          sql.NullString
	RetryIntervals      sql.NullString
	Duedate             sql.NullTime
	LockOwner           sql.NullString
	LockExpirationTime  sql.NullTime
	ExceptionMessage    sql.NullString
}

// standardJobSelectColumns is the column list matched by jobScanTargets
func standardJobSelectColumns() string {
	return `id, handler_name, configuration, execution_id,
		process_instance_id, process_definition_id, activity_id,
		status, retries, retry_attempt, retry_intervals,
		duedate, lock_owner, lock_expiration_time, exception_message,
		created_at, updated_at`
}

func jobScanTargets(job *Job, args *jobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.HandlerName,
		&args.Configuration,
		&args.ExecutionID,
		&args.ProcessInstanceID,
		&args.ProcessDefinitionID,
		&args.ActivityID,
		&job.Status,
		&job.Retries,
		&job.RetryAttempt,
		&args.RetryIntervals,
		&args.Duedate,
		&args.LockOwner,
		&args.LockExpirationTime,
		&args.ExceptionMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	}
}

func processJobScanArgs(job *Job, args *jobScanArgs) error {
	job.Configuration = args.Configuration.String
	job.ExecutionID = args.ExecutionID.String
	job.ProcessInstanceID = args.ProcessInstanceID.String
	job.ProcessDefinitionID = args.ProcessDefinitionID.String
	job.ActivityID = args.ActivityID.String
	job.LockOwner = args.LockOwner.String
	job.ExceptionMessage = args.ExceptionMessage.String

	if args.Duedate.Valid {
		t := args.Duedate.Time.UTC()
		job.Duedate = &t
	}
	if args.LockExpirationTime.Valid {
		t := args.LockExpirationTime.Time.UTC()
		job.LockExpirationTime = &t
	}

	intervals, err := decodeIntervals(args.RetryIntervals)
	if err != nil {
		return errors.Wrapf(err, "job %s", job.ID)
	}
	job.RetryIntervals = intervals
	return nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var job Job
		var args jobScanArgs
		if err := rows.Scan(jobScanTargets(&job, &args)...); err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		if err := processJobScanArgs(&job, &args); err != nil {
			return nil, err
		}
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate jobs")
	}
	return jobs, nil
}

// encodeIntervals stores intervals as a comma-separated list of Go durations.
// nil stays NULL so "no cycle" and "empty cycle" never collide.
func encodeIntervals(intervals []time.Duration) sql.NullString {
	if intervals == nil {
		return sql.NullString{}
	}
	parts := make([]string, len(intervals))
	for i, d := range intervals {
		parts[i] = d.String()
	}
	return sql.NullString{String: strings.Join(parts, ","), Valid: true}
}

func decodeIntervals(s sql.NullString) ([]time.Duration, error) {
	if !s.Valid {
		return nil, nil
	}
	if s.String == "" {
		return []time.Duration{}, nil
	}
	parts := strings.Split(s.String, ",")
	intervals := make([]time.Duration, len(parts))
	for i, p := range parts {
		d, err := time.ParseDuration(p)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid retry interval %q", p)
		}
		intervals[i] = d
	}
	return intervals, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
