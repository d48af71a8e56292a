package execution

import (
	"strings"
)

// EntityKind names a related collection hanging off an execution. The value
// is the bit position used in the cached entity state.
type EntityKind uint8

const (
	EventSubscriptions EntityKind = 1
	Tasks              EntityKind = 2
	Jobs               EntityKind = 3
	Incidents          EntityKind = 4
	Variables          EntityKind = 5
	ExternalTasks      EntityKind = 8
)

var allKinds = []EntityKind{EventSubscriptions, Tasks, Jobs, Incidents, Variables, ExternalTasks}

func (k EntityKind) String() string {
	switch k {
	case EventSubscriptions:
		return "EVENT_SUBSCRIPTIONS"
	case Tasks:
		return "TASKS"
	case Jobs:
		return "JOBS"
	case Incidents:
		return "INCIDENT"
	case Variables:
		return "VARIABLES"
	case ExternalTasks:
		return "EXTERNAL_TASKS"
	default:
		return "UNKNOWN"
	}
}

// scoped kinds are attributed to the nearest scope execution
func (k EntityKind) scoped() bool {
	return k == Tasks || k == Jobs || k == EventSubscriptions
}

func (k EntityKind) mask() EntityState {
	return EntityState(1) << (k - 1)
}

// EntityState is a bitmask hinting which related collections are non-empty.
// A set bit can be trusted for the lifetime of a command; a clear bit is only
// reliable right after a full reload.
type EntityState uint32

// Has reports whether the bit for kind is set
func (s EntityState) Has(kind EntityKind) bool {
	return s&kind.mask() != 0
}

// With returns s with the bit for kind set
func (s EntityState) With(kind EntityKind) EntityState {
	return s | kind.mask()
}

// Kinds lists the set bits in bit order
func (s EntityState) Kinds() []EntityKind {
	var kinds []EntityKind
	for _, k := range allKinds {
		if s.Has(k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (s EntityState) String() string {
	kinds := s.Kinds()
	if len(kinds) == 0 {
		return "-"
	}
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return strings.Join(names, "|")
}

// EntityRef points a related row at the execution that references it
type EntityRef struct {
	ExecutionID string
	Kind        EntityKind
}

// MarkRelated records that a related entity of kind now references executionID.
// Tasks, jobs and event subscriptions set the bit on the nearest scope
// execution; variables, incidents and external tasks stay on executionID.
func (a *Arena) MarkRelated(executionID string, kind EntityKind) error {
	target, err := a.owner(executionID, kind)
	if err != nil {
		return err
	}
	if !target.CachedEntityState.Has(kind) {
		target.CachedEntityState = target.CachedEntityState.With(kind)
		a.touch(target.ID)
	}
	return nil
}

func (a *Arena) owner(executionID string, kind EntityKind) (*Execution, error) {
	if kind.scoped() {
		return a.ScopeOf(executionID)
	}
	return a.Get(executionID)
}

// ResetEntityState recomputes every bitmask from the related rows found in
// storage. Refs pointing at executions outside this arena are ignored.
func (a *Arena) ResetEntityState(refs []EntityRef) {
	next := make(map[string]EntityState, len(a.records))
	for _, ref := range refs {
		if _, ok := a.records[ref.ExecutionID]; !ok {
			continue
		}
		target, err := a.owner(ref.ExecutionID, ref.Kind)
		if err != nil {
			continue
		}
		next[target.ID] = next[target.ID].With(ref.Kind)
	}

	for id, e := range a.records {
		if e.CachedEntityState != next[id] {
			e.CachedEntityState = next[id]
			a.touch(id)
		}
	}
}
