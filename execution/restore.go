package execution

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/teranos/pulseflow/errors"
)

// StructuralReferenceError reports a persisted execution whose parent is not
// part of the same process instance, usually because the parent was deleted
// concurrently.
type StructuralReferenceError struct {
	ChildID  string
	ParentID string
}

func (e *StructuralReferenceError) Error() string {
	return fmt.Sprintf("execution %s references parent %s which is not part of the process instance",
		e.ChildID, e.ParentID)
}

// Is matches errors.ErrStructuralReference
func (e *StructuralReferenceError) Is(target error) bool {
	return target == errors.ErrStructuralReference
}

// RestoreProcessInstance rebuilds an arena from a flat, unordered list of
// persisted executions of one process instance.
func RestoreProcessInstance(rows []Execution, newID func() string) (*Arena, error) {
	a := NewArena(newID)
	for i := range rows {
		e := rows[i].Snapshot()
		if _, dup := a.records[e.ID]; dup {
			return nil, errors.Newf("execution %s appears twice", e.ID)
		}
		a.records[e.ID] = &e
	}
	if err := a.Restore(); err != nil {
		return nil, err
	}
	return a, nil
}

// Restore re-derives root and child links from ParentID. Calling it again on
// a resolved arena yields the same tree.
func (a *Arena) Restore() error {
	ordered := a.ordered()

	var roots []string
	for _, e := range ordered {
		e.ChildIDs = nil
		if e.ParentID == "" {
			roots = append(roots, e.ID)
			continue
		}
		if _, ok := a.records[e.ParentID]; !ok {
			return errors.WithStack(&StructuralReferenceError{ChildID: e.ID, ParentID: e.ParentID})
		}
	}

	switch len(roots) {
	case 0:
		if len(ordered) == 0 {
			return errors.Mark(errors.New("no executions to restore"), errors.ErrStructuralReference)
		}
		return errors.Mark(errors.Newf("process instance %s has no root execution", ordered[0].ProcessInstanceID),
			errors.ErrStructuralReference)
	case 1:
	default:
		return errors.Mark(errors.Newf("process instance has %d root executions: %v", len(roots), roots),
			errors.ErrStructuralReference)
	}

	rootID := roots[0]
	for _, e := range ordered {
		if e.ProcessInstanceID != a.records[rootID].ProcessInstanceID {
			return errors.Mark(errors.Newf("execution %s belongs to process instance %s, not %s",
				e.ID, e.ProcessInstanceID, a.records[rootID].ProcessInstanceID), errors.ErrStructuralReference)
		}
		if e.ParentID != "" {
			parent := a.records[e.ParentID]
			parent.ChildIDs = append(parent.ChildIDs, e.ID)
		}
	}

	a.rootID = rootID
	a.processInstanceID = a.records[rootID].ProcessInstanceID
	if last := len(ordered) - 1; ordered[last].CreationOrder > a.nextOrder {
		a.nextOrder = ordered[last].CreationOrder
	}
	return nil
}

// ordered lists live executions by creation order, ties broken by id
func (a *Arena) ordered() []*Execution {
	out := make([]*Execution, 0, len(a.records))
	for _, e := range a.records {
		out = append(out, e)
	}
	slices.SortFunc(out, func(x, y *Execution) int {
		if c := cmp.Compare(x.CreationOrder, y.CreationOrder); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
	return out
}
