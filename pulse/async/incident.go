package async

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/pulseflow/db"
	"github.com/teranos/pulseflow/errors"
)

// IncidentTypeFailedJob marks an incident raised by an exhausted job
const IncidentTypeFailedJob = "failedJob"

// Incident records a job that ran out of retries. Incidents are never retried
// automatically; they are removed when an operator resets the job's retries.
type Incident struct {
	ID                string    `json:"id"`
	Type              string    `json:"type"`
	ExecutionID       string    `json:"execution_id,omitempty"`
	ProcessInstanceID string    `json:"process_instance_id,omitempty"`
	ActivityID        string    `json:"activity_id,omitempty"`
	JobID             string    `json:"job_id,omitempty"`
	Message           string    `json:"message,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// NewFailedJobIncident builds the incident for an exhausted job
func NewFailedJobIncident(job *Job, now time.Time) *Incident {
	return &Incident{
		ID:                uuid.NewString(),
		Type:              IncidentTypeFailedJob,
		ExecutionID:       job.ExecutionID,
		ProcessInstanceID: job.ProcessInstanceID,
		ActivityID:        job.ActivityID,
		JobID:             job.ID,
		Message:           job.ExceptionMessage,
		CreatedAt:         now.UTC(),
	}
}

// IncidentStore persists incidents
type IncidentStore struct {
	q db.Querier
}

// NewIncidentStore creates an incident store over q
func NewIncidentStore(q db.Querier) *IncidentStore {
	return &IncidentStore{q: q}
}

// CreateIncident inserts an incident
func (s *IncidentStore) CreateIncident(ctx context.Context, inc *Incident) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO incidents (
			id, incident_type, execution_id, process_instance_id,
			activity_id, job_id, message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, inc.Type, nullString(inc.ExecutionID), nullString(inc.ProcessInstanceID),
		nullString(inc.ActivityID), nullString(inc.JobID), nullString(inc.Message), inc.CreatedAt.UTC(),
	)
	if err != nil {
		err = errors.Wrap(err, "failed to create incident")
		err = errors.WithDetail(err, fmt.Sprintf("Incident ID: %s", inc.ID))
		return errors.WithDetail(err, fmt.Sprintf("Job ID: %s", inc.JobID))
	}
	return nil
}

// ListIncidents returns incidents, newest first. processInstanceID may be empty.
func (s *IncidentStore) ListIncidents(ctx context.Context, processInstanceID string, limit int) ([]*Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents`
	var args []interface{}
	if processInstanceID != "" {
		query += ` WHERE process_instance_id = ?`
		args = append(args, processInstanceID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)
	return s.query(ctx, query, args...)
}

// ListIncidentsByJob returns the incidents raised for one job
func (s *IncidentStore) ListIncidentsByJob(ctx context.Context, jobID string) ([]*Incident, error) {
	return s.query(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE job_id = ? ORDER BY created_at ASC`, jobID)
}

// DeleteIncidentsByJob resolves the incidents of a job
func (s *IncidentStore) DeleteIncidentsByJob(ctx context.Context, jobID string) (int64, error) {
	return s.delete(ctx, `DELETE FROM incidents WHERE job_id = ?`, jobID)
}

// DeleteIncidentsByProcessInstance drops every incident of a process instance
func (s *IncidentStore) DeleteIncidentsByProcessInstance(ctx context.Context, processInstanceID string) (int64, error) {
	return s.delete(ctx, `DELETE FROM incidents WHERE process_instance_id = ?`, processInstanceID)
}

const incidentColumns = `id, incident_type, execution_id, process_instance_id,
	activity_id, job_id, message, created_at`

func (s *IncidentStore) query(ctx context.Context, query string, args ...interface{}) ([]*Incident, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query incidents")
	}
	defer rows.Close()

	var incidents []*Incident
	for rows.Next() {
		var inc Incident
		var executionID, processInstanceID, activityID, jobID, message sql.NullString
		if err := rows.Scan(&inc.ID, &inc.Type, &executionID, &processInstanceID,
			&activityID, &jobID, &message, &inc.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan incident")
		}
		inc.ExecutionID = executionID.String
		inc.ProcessInstanceID = processInstanceID.String
		inc.ActivityID = activityID.String
		inc.JobID = jobID.String
		inc.Message = message.String
		incidents = append(incidents, &inc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate incidents")
	}
	return incidents, nil
}

func (s *IncidentStore) delete(ctx context.Context, query string, arg string) (int64, error) {
	res, err := s.q.ExecContext(ctx, query, arg)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete incidents")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read delete result")
	}
	return n, nil
}
