package engine

import (
	"maps"
	"slices"

	"github.com/teranos/pulseflow/execution"
	"github.com/teranos/pulseflow/expr"
)

// variableScope resolves names from an execution up to the process instance.
// The nearest execution holding a name wins.
type variableScope struct {
	cmd         *command
	executionID string
}

var _ expr.VariableScope = variableScope{}

func (s variableScope) Variable(name string) (any, bool) {
	for id := s.executionID; id != ""; {
		if v, ok := s.cmd.variables[id][name]; ok {
			return v, true
		}
		e, err := s.cmd.arena.Get(id)
		if err != nil {
			break
		}
		id = e.ParentID
	}
	if root, err := s.cmd.arena.Root(); err == nil && root.ID != s.executionID {
		v, ok := s.cmd.variables[root.ID][name]
		return v, ok
	}
	return nil, false
}

func (c *command) scope(executionID string) variableScope {
	return variableScope{cmd: c, executionID: executionID}
}

// setVariable updates the nearest execution already holding name, or creates
// the variable on the process instance.
func (c *command) setVariable(executionID, name string, value any) error {
	holder := ""
	for id := executionID; id != ""; {
		if _, ok := c.variables[id][name]; ok {
			holder = id
			break
		}
		e, err := c.arena.Get(id)
		if err != nil {
			return err
		}
		id = e.ParentID
	}
	if holder == "" {
		root, err := c.arena.Root()
		if err != nil {
			return err
		}
		holder = root.ID
	}
	return c.setVariableLocal(holder, name, value)
}

// setVariableLocal stores name on executionID itself
func (c *command) setVariableLocal(executionID, name string, value any) error {
	v, err := execution.NewVariable(c.newID(), executionID, c.arena.ProcessInstanceID(), name, value, c.now)
	if err != nil {
		return err
	}
	if err := c.executions.SaveVariable(c.ctx, v); err != nil {
		return err
	}
	if err := c.arena.MarkRelated(executionID, execution.Variables); err != nil {
		return err
	}

	// Cache the stored form so reads match what a reload returns
	decoded, err := v.Decode()
	if err != nil {
		return err
	}
	c.cacheVariable(executionID, name, decoded)
	return nil
}

func (c *command) setVariables(executionID string, vars map[string]any) error {
	for _, name := range slices.Sorted(maps.Keys(vars)) {
		if err := c.setVariable(executionID, name, vars[name]); err != nil {
			return err
		}
	}
	return nil
}

func (c *command) cacheVariable(executionID, name string, value any) {
	vars, ok := c.variables[executionID]
	if !ok {
		vars = make(map[string]any)
		c.variables[executionID] = vars
	}
	vars[name] = value
}

// moveVariables mirrors ReassignExecution in the cache: the source replaces
// same-named values of the target.
func (c *command) moveVariables(fromID, toID string) {
	for name, value := range c.variables[fromID] {
		c.cacheVariable(toID, name, value)
	}
	delete(c.variables, fromID)
}

// flatten returns the variables visible from the process instance root,
// with execution-local names added where the root has none.
func flatten(vars []execution.Variable, rootID string) (map[string]any, error) {
	out := make(map[string]any, len(vars))
	for pass := 0; pass < 2; pass++ {
		for i := range vars {
			onRoot := vars[i].ExecutionID == rootID
			if (pass == 0) != onRoot {
				continue
			}
			if _, exists := out[vars[i].Name]; exists {
				continue
			}
			value, err := vars[i].Decode()
			if err != nil {
				return nil, err
			}
			out[vars[i].Name] = value
		}
	}
	return out, nil
}
