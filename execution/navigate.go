package execution

import (
	"github.com/teranos/pulseflow/errors"
)

// Get returns the live record for id
func (a *Arena) Get(id string) (*Execution, error) {
	e, ok := a.records[id]
	if !ok {
		return nil, errors.NewNotFoundError("execution %s not found", id)
	}
	return e, nil
}

// Root returns the process instance execution
func (a *Arena) Root() (*Execution, error) {
	if a.rootID == "" {
		return nil, errors.NewNotFoundError("arena holds no process instance")
	}
	return a.Get(a.rootID)
}

// Parent returns the parent of id
func (a *Arena) Parent(id string) (*Execution, error) {
	e, err := a.Get(id)
	if err != nil {
		return nil, err
	}
	if e.ParentID == "" {
		return nil, errors.NewNotFoundError("execution %s is the process instance root", id)
	}
	return a.Get(e.ParentID)
}

// Children returns the children of id in creation order
func (a *Arena) Children(id string) ([]*Execution, error) {
	e, err := a.Get(id)
	if err != nil {
		return nil, err
	}
	out := make([]*Execution, 0, len(e.ChildIDs))
	for _, c := range e.ChildIDs {
		child, err := a.Get(c)
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}

// ScopeOf returns id itself when it is a scope, otherwise its nearest scope ancestor
func (a *Arena) ScopeOf(id string) (*Execution, error) {
	e, err := a.Get(id)
	if err != nil {
		return nil, err
	}
	for !e.IsScope {
		if e.ParentID == "" {
			return nil, errors.AssertionFailedf("execution %s has no scope ancestor", id)
		}
		if e, err = a.Get(e.ParentID); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Walk visits the tree depth-first from the root, parents before children.
// Returning an error stops the walk.
func (a *Arena) Walk(fn func(e *Execution, depth int) error) error {
	root, err := a.Root()
	if err != nil {
		return err
	}
	var visit func(e *Execution, depth int) error
	visit = func(e *Execution, depth int) error {
		if err := fn(e, depth); err != nil {
			return err
		}
		for _, c := range e.ChildIDs {
			child, err := a.Get(c)
			if err != nil {
				return err
			}
			if err := visit(child, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(root, 0)
}

// Find returns live executions matching pred in creation order
func (a *Arena) Find(pred func(*Execution) bool) []*Execution {
	var out []*Execution
	for _, e := range a.ordered() {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

// Snapshot deep-copies every live execution in creation order
func (a *Arena) Snapshot() []Execution {
	ordered := a.ordered()
	out := make([]Execution, len(ordered))
	for i, e := range ordered {
		out[i] = e.Snapshot()
	}
	return out
}

// TreeNode is a detached view of the execution tree
type TreeNode struct {
	Execution Execution
	Children  []*TreeNode
}

// Tree returns a detached copy of the whole tree
func (a *Arena) Tree() (*TreeNode, error) {
	nodes := make(map[string]*TreeNode, len(a.records))
	var root *TreeNode
	err := a.Walk(func(e *Execution, _ int) error {
		n := &TreeNode{Execution: e.Snapshot()}
		nodes[e.ID] = n
		if e.ParentID == "" {
			root = n
		} else {
			parent := nodes[e.ParentID]
			parent.Children = append(parent.Children, n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return root, nil
}
