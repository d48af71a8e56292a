// Package execution holds the execution tree of a process instance.
//
// The tree is an arena: a map from execution id to a flat record that knows
// its parent id and child ids. Navigation always goes through the arena, so
// records can be snapshotted, persisted and rebuilt without pointer fix-ups.
package execution

import "slices"

// ChildKind selects what CreateChild produces
type ChildKind int

const (
	// ChildConcurrent is a non-scope token used for fork/join bookkeeping
	ChildConcurrent ChildKind = iota
	// ChildScope owns its own variables and lifecycle (embedded subprocess)
	ChildScope
)

// WaitState records why an inactive execution is not moving
type WaitState string

const (
	WaitNone              WaitState = ""
	WaitAsyncContinuation WaitState = "async-continuation"
	WaitEventSubscription WaitState = "event-subscription"
	WaitTask              WaitState = "task"
	WaitExternalTask      WaitState = "external-task"
	WaitJoin              WaitState = "join"
	WaitScope             WaitState = "scope"
	WaitIncident          WaitState = "incident"
)

// Execution is one control-flow token. It only holds ids and primitive values.
type Execution struct {
	ID                  string      `json:"id"`
	ParentID            string      `json:"parent_id,omitempty"`
	ProcessInstanceID   string      `json:"process_instance_id"`
	ProcessDefinitionID string      `json:"process_definition_id"`
	BusinessKey         string      `json:"business_key,omitempty"`
	ActivityID          string      `json:"activity_id,omitempty"`
	IsActive            bool        `json:"is_active"`
	IsConcurrent        bool        `json:"is_concurrent"`
	IsScope             bool        `json:"is_scope"`
	IsEnded             bool        `json:"is_ended"`
	WaitState           WaitState   `json:"wait_state,omitempty"`
	SequenceCounter     int64       `json:"sequence_counter"`
	CachedEntityState   EntityState `json:"cached_entity_state"`

	// CreationOrder is the allocation ordinal inside the process instance.
	// Leaf-first removal is reverse CreationOrder.
	CreationOrder int64 `json:"creation_order"`

	// ChildIDs is derived from ParentID and is never persisted.
	ChildIDs []string `json:"child_ids,omitempty"`
}

// IsProcessInstance reports whether this is the root execution
func (e *Execution) IsProcessInstance() bool {
	return e.ParentID == ""
}

// Snapshot returns a deep copy that shares nothing with the arena
func (e *Execution) Snapshot() Execution {
	c := *e
	c.ChildIDs = slices.Clone(e.ChildIDs)
	return c
}
