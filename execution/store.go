package execution

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/teranos/pulseflow/db"
	"github.com/teranos/pulseflow/errors"
)

// Store persists executions and their related entities. It runs against a
// *sql.DB or a command's *sql.Tx.
type Store struct {
	q   db.Querier
	now func() time.Time
}

// NewStore creates a store over q
func NewStore(q db.Querier) *Store {
	return &Store{q: q, now: time.Now}
}

// WithClock overrides the timestamp source
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) stamp() time.Time {
	return s.now().UTC()
}

// InsertExecution writes a new execution row
func (s *Store) InsertExecution(ctx context.Context, e Execution) error {
	now := s.stamp()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO executions (
			id, parent_id, process_instance_id, process_definition_id,
			business_key, activity_id,
			is_active, is_concurrent, is_scope, is_ended,
			wait_state, sequence_counter, cached_entity_state, created_seq,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullString(e.ParentID), e.ProcessInstanceID, e.ProcessDefinitionID,
		nullString(e.BusinessKey), nullString(e.ActivityID),
		e.IsActive, e.IsConcurrent, e.IsScope, e.IsEnded,
		string(e.WaitState), e.SequenceCounter, int64(e.CachedEntityState), e.CreationOrder,
		now, now,
	)
	if err != nil {
		err = errors.Wrap(err, "failed to insert execution")
		return errors.WithDetail(err, fmt.Sprintf("Execution ID: %s", e.ID))
	}
	return nil
}

// UpdateExecution writes the mutable columns of an execution
func (s *Store) UpdateExecution(ctx context.Context, e Execution) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE executions
		SET activity_id = ?,
		    is_active = ?,
		    is_concurrent = ?,
		    is_scope = ?,
		    is_ended = ?,
		    wait_state = ?,
		    sequence_counter = ?,
		    cached_entity_state = ?,
		    updated_at = ?
		WHERE id = ?`,
		nullString(e.ActivityID), e.IsActive, e.IsConcurrent, e.IsScope, e.IsEnded,
		string(e.WaitState), e.SequenceCounter, int64(e.CachedEntityState), s.stamp(),
		e.ID,
	)
	if err != nil {
		err = errors.Wrap(err, "failed to update execution")
		return errors.WithDetail(err, fmt.Sprintf("Execution ID: %s", e.ID))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("execution %s not found", e.ID)
	}
	return nil
}

// DeleteExecution removes one execution row
func (s *Store) DeleteExecution(ctx context.Context, id string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM executions WHERE id = ?`, id); err != nil {
		err = errors.Wrap(err, "failed to delete execution")
		return errors.WithDetail(err, fmt.Sprintf("Execution ID: %s", id))
	}
	return nil
}

// Flush writes an arena change set: inserts parents first, then updates,
// then deletes leaf-first.
func (s *Store) Flush(ctx context.Context, cs ChangeSet) error {
	for _, e := range cs.Inserted {
		if err := s.InsertExecution(ctx, e); err != nil {
			return err
		}
	}
	for _, e := range cs.Updated {
		if err := s.UpdateExecution(ctx, e); err != nil {
			return err
		}
	}
	for _, id := range cs.Removed {
		if err := s.DeleteExecution(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// FindExecutionsByProcessInstance returns the flat execution rows of one instance
func (s *Store) FindExecutionsByProcessInstance(ctx context.Context, processInstanceID string) ([]Execution, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+standardExecutionSelectColumns()+` FROM executions WHERE process_instance_id = ?`,
		processInstanceID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query executions of %s", processInstanceID)
	}
	out, err := scanExecutions(rows)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to scan executions of %s", processInstanceID)
	}
	return out, nil
}

// LoadArena restores the execution tree of a process instance and recomputes
// its cached entity state from the related tables.
func (s *Store) LoadArena(ctx context.Context, processInstanceID string, newID func() string) (*Arena, error) {
	rows, err := s.FindExecutionsByProcessInstance(ctx, processInstanceID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.NewNotFoundError("process instance %s not found", processInstanceID)
	}

	arena, err := RestoreProcessInstance(rows, newID)
	if err != nil {
		return nil, errors.WithDetail(err, fmt.Sprintf("Process instance ID: %s", processInstanceID))
	}

	refs, err := s.ListEntityRefs(ctx, processInstanceID)
	if err != nil {
		return nil, err
	}
	arena.ResetEntityState(refs)
	return arena, nil
}

// ListProcessInstances returns root executions, newest first
func (s *Store) ListProcessInstances(ctx context.Context, limit int) ([]Execution, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+standardExecutionSelectColumns()+` FROM executions
		 WHERE parent_id IS NULL ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list process instances")
	}
	out, err := scanExecutions(rows)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan process instances")
	}
	return out, nil
}

// ListEntityRefs reports every related row of a process instance by kind
func (s *Store) ListEntityRefs(ctx context.Context, processInstanceID string) ([]EntityRef, error) {
	query := `
		SELECT execution_id, ? FROM tasks WHERE process_instance_id = ?
		UNION ALL SELECT execution_id, ? FROM variables WHERE process_instance_id = ?
		UNION ALL SELECT execution_id, ? FROM event_subscriptions WHERE process_instance_id = ?
		UNION ALL SELECT execution_id, ? FROM external_tasks WHERE process_instance_id = ?
		UNION ALL SELECT execution_id, ? FROM jobs WHERE process_instance_id = ? AND execution_id IS NOT NULL
		UNION ALL SELECT execution_id, ? FROM incidents WHERE process_instance_id = ? AND execution_id IS NOT NULL`

	rows, err := s.q.QueryContext(ctx, query,
		int(Tasks), processInstanceID,
		int(Variables), processInstanceID,
		int(EventSubscriptions), processInstanceID,
		int(ExternalTasks), processInstanceID,
		int(Jobs), processInstanceID,
		int(Incidents), processInstanceID,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list related entities of %s", processInstanceID)
	}
	defer rows.Close()

	var refs []EntityRef
	for rows.Next() {
		var ref EntityRef
		var kind int
		if err := rows.Scan(&ref.ExecutionID, &kind); err != nil {
			return nil, errors.Wrap(err, "failed to scan entity ref")
		}
		ref.Kind = EntityKind(kind)
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// ReassignExecution moves every related row from one execution to another.
// Used when a concurrent child collapses into its parent. Variables of the
// source replace same-named variables of the target.
func (s *Store) ReassignExecution(ctx context.Context, fromID, toID string) error {
	statements := []string{
		`UPDATE OR REPLACE variables SET execution_id = ? WHERE execution_id = ?`,
		`UPDATE tasks SET execution_id = ? WHERE execution_id = ?`,
		`UPDATE event_subscriptions SET execution_id = ? WHERE execution_id = ?`,
		`UPDATE external_tasks SET execution_id = ? WHERE execution_id = ?`,
		`UPDATE jobs SET execution_id = ? WHERE execution_id = ?`,
		`UPDATE incidents SET execution_id = ? WHERE execution_id = ?`,
	}
	for _, stmt := range statements {
		if _, err := s.q.ExecContext(ctx, stmt, toID, fromID); err != nil {
			err = errors.Wrap(err, "failed to reassign related entities")
			return errors.WithDetail(err, fmt.Sprintf("Execution ID: %s -> %s", fromID, toID))
		}
	}
	return nil
}

// DeleteRelatedByProcessInstance drops variables, tasks, subscriptions and
// external tasks of a process instance. Jobs and incidents belong to pulse/async.
func (s *Store) DeleteRelatedByProcessInstance(ctx context.Context, processInstanceID string) error {
	for _, table := range []string{"variables", "tasks", "event_subscriptions", "external_tasks"} {
		if _, err := s.q.ExecContext(ctx, `DELETE FROM `+table+` WHERE process_instance_id = ?`, processInstanceID); err != nil {
			err = errors.Wrapf(err, "failed to delete %s", table)
			return errors.WithDetail(err, fmt.Sprintf("Process instance ID: %s", processInstanceID))
		}
	}
	return nil
}

// DeleteRelatedByExecution drops the wait-state rows attached to one execution
func (s *Store) DeleteRelatedByExecution(ctx context.Context, executionID string) error {
	for _, table := range []string{"tasks", "event_subscriptions", "external_tasks"} {
		if _, err := s.q.ExecContext(ctx, `DELETE FROM `+table+` WHERE execution_id = ?`, executionID); err != nil {
			err = errors.Wrapf(err, "failed to delete %s", table)
			return errors.WithDetail(err, fmt.Sprintf("Execution ID: %s", executionID))
		}
	}
	return nil
}

func notFoundOr(err error, format string, args ...interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errors.NewNotFoundError(format+" not found", args...)
	}
	return errors.Wrapf(err, "failed to get "+format, args...)
}
