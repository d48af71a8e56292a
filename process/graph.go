package process

import (
	"github.com/teranos/pulseflow/errors"
)

// Graph is what the engine needs from an executable process definition
type Graph interface {
	ID() string
	Activity(id string) (*Activity, error)
	Outgoing(activityID string) []Transition
	Incoming(activityID string) []Transition
	IsScope(activityID string) bool
	IsAsyncBefore(activityID string) bool
	IsAsyncAfter(activityID string) bool
	FailedJobRetryTimeCycle(activityID string) string

	// InitialActivity returns the start event of a subprocess, or of the
	// process itself when scopeActivityID is empty.
	InitialActivity(scopeActivityID string) (*Activity, error)
}

var _ Graph = (*Definition)(nil)

func (d *Definition) Activity(id string) (*Activity, error) {
	a, ok := d.activities[id]
	if !ok {
		return nil, errors.NewNotFoundError("activity %s not found in %s", id, d.ID())
	}
	return a, nil
}

func (d *Definition) Outgoing(activityID string) []Transition {
	return d.outgoing[activityID]
}

func (d *Definition) Incoming(activityID string) []Transition {
	return d.incoming[activityID]
}

// IsScope reports whether entering the activity opens a new scope execution
func (d *Definition) IsScope(activityID string) bool {
	a, ok := d.activities[activityID]
	return ok && a.Type == SubProcess
}

func (d *Definition) IsAsyncBefore(activityID string) bool {
	a, ok := d.activities[activityID]
	return ok && a.AsyncBefore
}

func (d *Definition) IsAsyncAfter(activityID string) bool {
	a, ok := d.activities[activityID]
	return ok && a.AsyncAfter
}

func (d *Definition) FailedJobRetryTimeCycle(activityID string) string {
	if a, ok := d.activities[activityID]; ok {
		return a.FailedJobRetryTimeCycle
	}
	return ""
}

func (d *Definition) InitialActivity(scopeActivityID string) (*Activity, error) {
	id, ok := d.initial[scopeActivityID]
	if !ok {
		return nil, errors.NewNotFoundError("no start event in scope %q of %s", scopeActivityID, d.ID())
	}
	return d.activities[id], nil
}
