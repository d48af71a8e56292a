package execution

import (
	"context"
	"fmt"

	"github.com/teranos/pulseflow/errors"
)

// SaveVariable inserts a variable or overwrites the value of the same name on
// the same execution.
func (s *Store) SaveVariable(ctx context.Context, v *Variable) error {
	now := s.stamp()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO variables (id, execution_id, process_instance_id, name, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id, name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		v.ID, v.ExecutionID, v.ProcessInstanceID, v.Name, string(v.Value), now, now,
	)
	if err != nil {
		err = errors.Wrapf(err, "failed to save variable %s", v.Name)
		return errors.WithDetail(err, fmt.Sprintf("Execution ID: %s", v.ExecutionID))
	}
	return nil
}

// ListVariablesByProcessInstance returns every variable of an instance
func (s *Store) ListVariablesByProcessInstance(ctx context.Context, processInstanceID string) ([]Variable, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, execution_id, process_instance_id, name, value, created_at, updated_at
		FROM variables WHERE process_instance_id = ? ORDER BY name`, processInstanceID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list variables of %s", processInstanceID)
	}
	defer rows.Close()

	var out []Variable
	for rows.Next() {
		var v Variable
		var raw string
		if err := rows.Scan(&v.ID, &v.ExecutionID, &v.ProcessInstanceID, &v.Name, &raw, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan variable")
		}
		v.Value = []byte(raw)
		out = append(out, v)
	}
	return out, rows.Err()
}

// InsertTask writes a task row
func (s *Store) InsertTask(ctx context.Context, t *Task) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO tasks (id, execution_id, process_instance_id, activity_id, name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.ExecutionID, t.ProcessInstanceID, t.ActivityID, nullString(t.Name), t.CreatedAt.UTC(),
	)
	if err != nil {
		err = errors.Wrap(err, "failed to insert task")
		return errors.WithDetail(err, fmt.Sprintf("Task ID: %s", t.ID))
	}
	return nil
}

// GetTask loads a task by id
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	var t Task
	var name *string
	err := s.q.QueryRowContext(ctx, `
		SELECT id, execution_id, process_instance_id, activity_id, name, created_at
		FROM tasks WHERE id = ?`, id).
		Scan(&t.ID, &t.ExecutionID, &t.ProcessInstanceID, &t.ActivityID, &name, &t.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "task %s", id)
	}
	if name != nil {
		t.Name = *name
	}
	return &t, nil
}

// ListTasks returns open tasks, optionally limited to one process instance
func (s *Store) ListTasks(ctx context.Context, processInstanceID string) ([]Task, error) {
	query := `SELECT id, execution_id, process_instance_id, activity_id, COALESCE(name, ''), created_at FROM tasks`
	var args []interface{}
	if processInstanceID != "" {
		query += ` WHERE process_instance_id = ?`
		args = append(args, processInstanceID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tasks")
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.ExecutionID, &t.ProcessInstanceID, &t.ActivityID, &t.Name, &t.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan task")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTask removes a task
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return errors.Wrapf(err, "failed to delete task %s", id)
	}
	return nil
}

// InsertEventSubscription writes a message subscription
func (s *Store) InsertEventSubscription(ctx context.Context, sub *EventSubscription) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO event_subscriptions (id, execution_id, process_instance_id, activity_id, event_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.ExecutionID, sub.ProcessInstanceID, sub.ActivityID, sub.EventName, sub.CreatedAt.UTC(),
	)
	if err != nil {
		err = errors.Wrap(err, "failed to insert event subscription")
		return errors.WithDetail(err, fmt.Sprintf("Event: %s", sub.EventName))
	}
	return nil
}

// FindEventSubscriptions returns subscriptions for eventName, oldest first.
// An empty processInstanceID searches all instances.
func (s *Store) FindEventSubscriptions(ctx context.Context, eventName, processInstanceID string) ([]EventSubscription, error) {
	query := `SELECT id, execution_id, process_instance_id, activity_id, event_name, created_at
		FROM event_subscriptions WHERE event_name = ?`
	args := []interface{}{eventName}
	if processInstanceID != "" {
		query += ` AND process_instance_id = ?`
		args = append(args, processInstanceID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find subscriptions for %s", eventName)
	}
	defer rows.Close()

	var out []EventSubscription
	for rows.Next() {
		var sub EventSubscription
		if err := rows.Scan(&sub.ID, &sub.ExecutionID, &sub.ProcessInstanceID, &sub.ActivityID, &sub.EventName, &sub.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan event subscription")
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// DeleteEventSubscription removes a subscription
func (s *Store) DeleteEventSubscription(ctx context.Context, id string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM event_subscriptions WHERE id = ?`, id); err != nil {
		return errors.Wrapf(err, "failed to delete event subscription %s", id)
	}
	return nil
}

// InsertExternalTask writes an external task
func (s *Store) InsertExternalTask(ctx context.Context, t *ExternalTask) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO external_tasks (id, execution_id, process_instance_id, activity_id, topic, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.ExecutionID, t.ProcessInstanceID, t.ActivityID, t.Topic, t.CreatedAt.UTC(),
	)
	if err != nil {
		err = errors.Wrap(err, "failed to insert external task")
		return errors.WithDetail(err, fmt.Sprintf("Topic: %s", t.Topic))
	}
	return nil
}

// GetExternalTask loads an external task by id
func (s *Store) GetExternalTask(ctx context.Context, id string) (*ExternalTask, error) {
	var t ExternalTask
	err := s.q.QueryRowContext(ctx, `
		SELECT id, execution_id, process_instance_id, activity_id, topic, created_at
		FROM external_tasks WHERE id = ?`, id).
		Scan(&t.ID, &t.ExecutionID, &t.ProcessInstanceID, &t.ActivityID, &t.Topic, &t.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "external task %s", id)
	}
	return &t, nil
}

// ListExternalTasks returns open external tasks for a topic (all topics when empty)
func (s *Store) ListExternalTasks(ctx context.Context, topic string) ([]ExternalTask, error) {
	query := `SELECT id, execution_id, process_instance_id, activity_id, topic, created_at FROM external_tasks`
	var args []interface{}
	if topic != "" {
		query += ` WHERE topic = ?`
		args = append(args, topic)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list external tasks")
	}
	defer rows.Close()

	var out []ExternalTask
	for rows.Next() {
		var t ExternalTask
		if err := rows.Scan(&t.ID, &t.ExecutionID, &t.ProcessInstanceID, &t.ActivityID, &t.Topic, &t.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan external task")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteExternalTask removes an external task
func (s *Store) DeleteExternalTask(ctx context.Context, id string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM external_tasks WHERE id = ?`, id); err != nil {
		return errors.Wrapf(err, "failed to delete external task %s", id)
	}
	return nil
}

// DeleteVariablesByExecution drops the variables owned by one execution.
// Used when a subprocess scope ends.
func (s *Store) DeleteVariablesByExecution(ctx context.Context, executionID string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM variables WHERE execution_id = ?`, executionID); err != nil {
		err = errors.Wrap(err, "failed to delete variables")
		return errors.WithDetail(err, fmt.Sprintf("Execution ID: %s", executionID))
	}
	return nil
}
