package execution

import (
	"encoding/json"
	"time"

	"github.com/teranos/pulseflow/errors"
)

// Variable is a named value owned by an execution. Values are stored as JSON.
type Variable struct {
	ID                string          `json:"id"`
	ExecutionID       string          `json:"execution_id"`
	ProcessInstanceID string          `json:"process_instance_id"`
	Name              string          `json:"name"`
	Value             json.RawMessage `json:"value"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NewVariable encodes value as JSON
func NewVariable(id, executionID, processInstanceID, name string, value any, now time.Time) (*Variable, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode variable %s", name)
	}
	return &Variable{
		ID:                id,
		ExecutionID:       executionID,
		ProcessInstanceID: processInstanceID,
		Name:              name,
		Value:             raw,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// Decode returns the variable value as a plain Go value
func (v *Variable) Decode() (any, error) {
	var out any
	if err := json.Unmarshal(v.Value, &out); err != nil {
		return nil, errors.Wrapf(err, "failed to decode variable %s", v.Name)
	}
	return out, nil
}

// Task is a unit of human work that holds an execution in a wait state
type Task struct {
	ID                string    `json:"id"`
	ExecutionID       string    `json:"execution_id"`
	ProcessInstanceID string    `json:"process_instance_id"`
	ActivityID        string    `json:"activity_id"`
	Name              string    `json:"name,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// EventSubscription parks an execution until a message with EventName is correlated
type EventSubscription struct {
	ID                string    `json:"id"`
	ExecutionID       string    `json:"execution_id"`
	ProcessInstanceID string    `json:"process_instance_id"`
	ActivityID        string    `json:"activity_id"`
	EventName         string    `json:"event_name"`
	CreatedAt         time.Time `json:"created_at"`
}

// ExternalTask is work fetched and completed by an outside worker on Topic
type ExternalTask struct {
	ID                string    `json:"id"`
	ExecutionID       string    `json:"execution_id"`
	ProcessInstanceID string    `json:"process_instance_id"`
	ActivityID        string    `json:"activity_id"`
	Topic             string    `json:"topic"`
	CreatedAt         time.Time `json:"created_at"`
}
