package execution

import (
	"slices"

	"github.com/google/uuid"

	"github.com/teranos/pulseflow/errors"
)

// Arena owns the executions of one process instance for the duration of a
// command. It is not safe for concurrent use; callers serialize access per
// process instance.
type Arena struct {
	processInstanceID string
	rootID            string
	records           map[string]*Execution
	nextOrder         int64
	newID             func() string

	inserted map[string]bool
	updated  map[string]bool
	removed  []string
}

// NewArena creates an empty arena. newID defaults to random UUIDs.
func NewArena(newID func() string) *Arena {
	if newID == nil {
		newID = uuid.NewString
	}
	return &Arena{
		records:  make(map[string]*Execution),
		newID:    newID,
		inserted: make(map[string]bool),
		updated:  make(map[string]bool),
	}
}

// ProcessInstanceID returns the id of the root execution
func (a *Arena) ProcessInstanceID() string {
	return a.processInstanceID
}

// Len returns the number of live executions
func (a *Arena) Len() int {
	return len(a.records)
}

// StartProcessInstance creates the root execution. The root is a scope and
// its id doubles as the process instance id.
func (a *Arena) StartProcessInstance(definitionID, businessKey string) (*Execution, error) {
	if a.rootID != "" {
		return nil, errors.Newf("arena already holds process instance %s", a.processInstanceID)
	}

	id := a.newID()
	root := &Execution{
		ID:                  id,
		ProcessInstanceID:   id,
		ProcessDefinitionID: definitionID,
		BusinessKey:         businessKey,
		IsActive:            true,
		IsScope:             true,
		CreationOrder:       a.allocateOrder(),
	}
	a.processInstanceID = id
	a.rootID = id
	a.records[id] = root
	a.inserted[id] = true
	return root, nil
}

// CreateChild allocates a new execution under parentID. The child inherits
// the parent's process instance and sequence counter.
func (a *Arena) CreateChild(parentID string, kind ChildKind) (*Execution, error) {
	parent, err := a.Get(parentID)
	if err != nil {
		return nil, err
	}
	if parent.IsEnded {
		return nil, errors.Newf("cannot create child of ended execution %s", parentID)
	}

	child := &Execution{
		ID:                  a.newID(),
		ParentID:            parent.ID,
		ProcessInstanceID:   parent.ProcessInstanceID,
		ProcessDefinitionID: parent.ProcessDefinitionID,
		BusinessKey:         parent.BusinessKey,
		IsActive:            true,
		IsConcurrent:        kind == ChildConcurrent,
		IsScope:             kind == ChildScope,
		SequenceCounter:     parent.SequenceCounter,
		CreationOrder:       a.allocateOrder(),
	}
	parent.ChildIDs = append(parent.ChildIDs, child.ID)
	a.records[child.ID] = child
	a.inserted[child.ID] = true
	return child, nil
}

// Fork splits executionID into n concurrent tokens that all carry the fork
// point's sequence counter. A scope execution becomes the inactive parent of
// n new children; a concurrent execution is reused as the first token and
// gets n-1 new siblings.
func (a *Arena) Fork(executionID string, n int) ([]*Execution, error) {
	if n < 1 {
		return nil, errors.Newf("fork needs at least one outgoing token, got %d", n)
	}
	e, err := a.Get(executionID)
	if err != nil {
		return nil, err
	}

	counter := e.SequenceCounter
	tokens := make([]*Execution, 0, n)
	parentID := e.ID

	if e.IsConcurrent {
		tokens = append(tokens, e)
		parentID = e.ParentID
	} else {
		e.IsActive = false
		e.WaitState = WaitNone
		a.touch(e.ID)
	}

	for len(tokens) < n {
		child, err := a.CreateChild(parentID, ChildConcurrent)
		if err != nil {
			return nil, err
		}
		child.SequenceCounter = counter
		child.ActivityID = e.ActivityID
		tokens = append(tokens, child)
	}
	return tokens, nil
}

// Remove ends an execution and detaches it from its parent. Children must be
// removed first.
func (a *Arena) Remove(id string) error {
	e, err := a.Get(id)
	if err != nil {
		return err
	}
	if len(e.ChildIDs) > 0 {
		return errors.AssertionFailedf("cannot remove execution %s: %d children remain", id, len(e.ChildIDs))
	}

	if e.ParentID != "" {
		if parent, ok := a.records[e.ParentID]; ok {
			parent.ChildIDs = slices.DeleteFunc(parent.ChildIDs, func(c string) bool { return c == id })
		}
	}

	e.IsEnded = true
	e.IsActive = false
	delete(a.records, id)
	delete(a.updated, id)

	if a.inserted[id] {
		// Never persisted, nothing to delete
		delete(a.inserted, id)
	} else {
		a.removed = append(a.removed, id)
	}
	return nil
}

// RemoveSubtree removes id and everything below it, leaf-first in reverse
// creation order.
func (a *Arena) RemoveSubtree(id string) error {
	if _, err := a.Get(id); err != nil {
		return err
	}
	for _, victim := range a.leafFirst(id) {
		if err := a.Remove(victim); err != nil {
			return err
		}
	}
	return nil
}

func (a *Arena) leafFirst(id string) []string {
	var order []string
	var visit func(string)
	visit = func(cur string) {
		children := slices.Clone(a.records[cur].ChildIDs)
		slices.SortFunc(children, func(x, y string) int {
			return int(a.records[y].CreationOrder - a.records[x].CreationOrder)
		})
		for _, c := range children {
			visit(c)
		}
		order = append(order, cur)
	}
	visit(id)
	return order
}

// Collapse replaces a parent by its sole surviving concurrent child. The
// parent takes over the child's activity, activity state and accumulated
// sequence counter; the child is removed. Returns the parent.
func (a *Arena) Collapse(childID string) (*Execution, error) {
	child, err := a.Get(childID)
	if err != nil {
		return nil, err
	}
	if !child.IsConcurrent {
		return nil, errors.Newf("execution %s is not concurrent", childID)
	}
	if len(child.ChildIDs) > 0 {
		return nil, errors.Newf("execution %s still has children", childID)
	}
	parent, err := a.Parent(childID)
	if err != nil {
		return nil, err
	}
	if len(parent.ChildIDs) != 1 {
		return nil, errors.Newf("execution %s has %d siblings left", childID, len(parent.ChildIDs)-1)
	}

	parent.ActivityID = child.ActivityID
	parent.IsActive = child.IsActive
	parent.WaitState = child.WaitState
	parent.SequenceCounter = child.SequenceCounter
	parent.CachedEntityState |= child.CachedEntityState
	a.touch(parent.ID)

	if err := a.Remove(childID); err != nil {
		return nil, err
	}
	return parent, nil
}

// Touch flags an execution as modified so the next flush writes it
func (a *Arena) Touch(id string) error {
	if _, err := a.Get(id); err != nil {
		return err
	}
	a.touch(id)
	return nil
}

func (a *Arena) touch(id string) {
	if !a.inserted[id] {
		a.updated[id] = true
	}
}

func (a *Arena) allocateOrder() int64 {
	a.nextOrder++
	return a.nextOrder
}
