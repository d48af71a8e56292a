package engine

import (
	"slices"

	"github.com/teranos/pulseflow/errors"
	"github.com/teranos/pulseflow/execution"
	"github.com/teranos/pulseflow/logger"
	"github.com/teranos/pulseflow/process"
)

// enterActivity moves an execution onto activityID. An asyncBefore activity
// parks the execution behind a continuation job unless the job is the one
// resuming it.
func (c *command) enterActivity(executionID, activityID string, resuming bool) error {
	e, err := c.arena.Get(executionID)
	if err != nil {
		return err
	}
	a, err := c.graph.Activity(activityID)
	if err != nil {
		return err
	}

	e.ActivityID = activityID
	if !resuming && c.graph.IsAsyncBefore(activityID) {
		return c.scheduleContinuation(e, continuation{Phase: phaseBefore})
	}
	if err := c.activate(e); err != nil {
		return err
	}
	return c.executeActivity(e.ID, a)
}

// executeActivity starts the activity and runs its behavior
func (c *command) executeActivity(executionID string, a *process.Activity) error {
	counter, err := c.arena.IncrementSequenceCounter(executionID)
	if err != nil {
		return err
	}
	c.emit(ActivityStarted, executionID, a.ID, counter)

	b, ok := c.engine.behavior(a.Type)
	if !ok {
		return errors.NewInvalidRequestError("no behavior for activity type %q (activity %s)", a.Type, a.ID)
	}

	c.log.Debugw("Executing activity",
		logger.FieldExecutionID, executionID,
		logger.FieldActivityID, a.ID,
		logger.FieldActivityType, a.Type,
		logger.FieldSequenceCounter, counter)

	return activityFailed(a.ID, executionID, b.Execute(c.activityContext(executionID, a)))
}

// leaveActivity ends the current activity. An asyncAfter activity parks the
// execution before its outgoing transitions are taken.
func (c *command) leaveActivity(executionID string, transitionIDs []string) error {
	e, err := c.arena.Get(executionID)
	if err != nil {
		return err
	}
	counter, err := c.arena.IncrementSequenceCounter(executionID)
	if err != nil {
		return err
	}
	c.emit(ActivityCompleted, executionID, e.ActivityID, counter)

	if c.graph.IsAsyncAfter(e.ActivityID) {
		return c.scheduleContinuation(e, continuation{Phase: phaseAfter, Transitions: transitionIDs})
	}
	return c.takeTransitions(executionID, transitionIDs)
}

// takeTransitions moves the execution along the selected outgoing transitions
// of its activity; nil selects all of them. A concurrent token that is its
// parent's last child collapses into the parent first.
func (c *command) takeTransitions(executionID string, transitionIDs []string) error {
	e, err := c.arena.Get(executionID)
	if err != nil {
		return err
	}
	transitions, err := c.selectTransitions(e.ActivityID, transitionIDs)
	if err != nil {
		return err
	}

	if e, err = c.collapseIfLast(e); err != nil {
		return err
	}

	switch len(transitions) {
	case 0:
		return c.endExecution(e.ID)
	case 1:
		return c.enterActivity(e.ID, transitions[0].Target, false)
	}

	tokens, err := c.arena.Fork(e.ID, len(transitions))
	if err != nil {
		return err
	}
	c.log.Debugw("Forked execution",
		logger.FieldExecutionID, e.ID,
		logger.FieldActivityID, e.ActivityID,
		logger.FieldCount, len(tokens))
	for i, token := range tokens {
		if err := c.enterActivity(token.ID, transitions[i].Target, false); err != nil {
			return err
		}
	}
	return nil
}

func (c *command) selectTransitions(activityID string, ids []string) ([]process.Transition, error) {
	outgoing := c.graph.Outgoing(activityID)
	if ids == nil {
		return outgoing, nil
	}
	selected := make([]process.Transition, 0, len(ids))
	for _, id := range ids {
		i := slices.IndexFunc(outgoing, func(t process.Transition) bool { return t.ID == id })
		if i < 0 {
			return nil, errors.NewNotFoundError("activity %s has no outgoing transition %s", activityID, id)
		}
		selected = append(selected, outgoing[i])
	}
	return selected, nil
}

// collapseIfLast replaces a concurrent token by its parent when no sibling is
// left. Related rows follow the survivor.
func (c *command) collapseIfLast(e *execution.Execution) (*execution.Execution, error) {
	if !e.IsConcurrent || len(e.ChildIDs) > 0 {
		return e, nil
	}
	parent, err := c.arena.Parent(e.ID)
	if err != nil {
		return nil, err
	}
	if len(parent.ChildIDs) != 1 {
		return e, nil
	}
	if err := c.reassign(e, parent.ID); err != nil {
		return nil, err
	}
	survivor, err := c.arena.Collapse(e.ID)
	if err != nil {
		return nil, err
	}
	c.log.Debugw("Collapsed concurrent execution",
		logger.FieldExecutionID, survivor.ID,
		"collapsed", e.ID)
	return survivor, nil
}

// reassign moves the related rows and cached state bits of from onto toID
func (c *command) reassign(from *execution.Execution, toID string) error {
	if err := c.executions.ReassignExecution(c.ctx, from.ID, toID); err != nil {
		return err
	}
	for _, kind := range from.CachedEntityState.Kinds() {
		if err := c.arena.MarkRelated(toID, kind); err != nil {
			return err
		}
	}
	c.moveVariables(from.ID, toID)
	return nil
}

// join parks the arriving token at a parallel gateway. When one token per
// incoming transition has arrived, a single execution continues carrying
// max(counters)+1.
func (c *command) join(executionID string, gateway *process.Activity) error {
	if err := c.wait(executionID, execution.WaitJoin); err != nil {
		return err
	}
	e, err := c.arena.Get(executionID)
	if err != nil {
		return err
	}

	siblings := []*execution.Execution{e}
	if e.IsConcurrent {
		if siblings, err = c.arena.Children(e.ParentID); err != nil {
			return err
		}
	}
	var arrived []*execution.Execution
	for _, s := range siblings {
		if s.ActivityID == gateway.ID && s.WaitState == execution.WaitJoin {
			arrived = append(arrived, s)
		}
	}

	incoming := len(c.graph.Incoming(gateway.ID))
	if len(arrived) < incoming {
		c.log.Debugw("Token waiting at join",
			logger.FieldExecutionID, e.ID,
			logger.FieldActivityID, gateway.ID,
			"arrived", len(arrived),
			"expected", incoming)
		return nil
	}
	arrived = arrived[:incoming]
	if !slices.Contains(arrived, e) {
		arrived[len(arrived)-1] = e
	}

	ids := make([]string, len(arrived))
	for i, s := range arrived {
		ids[i] = s.ID
	}
	counter, err := c.arena.JoinCounter(ids...)
	if err != nil {
		return err
	}

	survivor := e
	if e.IsConcurrent && len(arrived) == len(siblings) {
		if survivor, err = c.arena.Parent(e.ID); err != nil {
			return err
		}
	}
	for _, s := range arrived {
		if s == survivor {
			continue
		}
		if err := c.reassign(s, survivor.ID); err != nil {
			return err
		}
		if err := c.arena.Remove(s.ID); err != nil {
			return err
		}
	}

	survivor.ActivityID = gateway.ID
	if err := c.activate(survivor); err != nil {
		return err
	}
	if err := c.arena.SetSequenceCounter(survivor.ID, counter); err != nil {
		return err
	}
	c.log.Debugw("Joined executions",
		logger.FieldExecutionID, survivor.ID,
		logger.FieldActivityID, gateway.ID,
		logger.FieldCount, len(arrived),
		logger.FieldSequenceCounter, counter)
	return c.leaveActivity(survivor.ID, nil)
}

// enterScope parks the execution on a subprocess and starts a scope child
// at the subprocess start event.
func (c *command) enterScope(executionID string, subprocess *process.Activity) error {
	if err := c.wait(executionID, execution.WaitScope); err != nil {
		return err
	}
	child, err := c.arena.CreateChild(executionID, execution.ChildScope)
	if err != nil {
		return err
	}
	initial, err := c.graph.InitialActivity(subprocess.ID)
	if err != nil {
		return err
	}
	return c.enterActivity(child.ID, initial.ID, false)
}

// endExecution terminates a token. A concurrent token is removed and its
// scope completes once no token is left; anything else completes its scope.
func (c *command) endExecution(executionID string) error {
	e, err := c.arena.Get(executionID)
	if err != nil {
		return err
	}
	if !e.IsConcurrent {
		return c.completeScope(e)
	}

	parentID := e.ParentID
	if err := c.dropExecution(e.ID); err != nil {
		return err
	}
	parent, err := c.arena.Get(parentID)
	if err != nil {
		return err
	}
	if len(parent.ChildIDs) > 0 {
		return nil
	}
	return c.completeScope(parent)
}

// completeScope ends a scope execution. The root ends the process instance;
// a subprocess scope hands control back to the execution that entered it.
func (c *command) completeScope(scope *execution.Execution) error {
	if scope.IsProcessInstance() {
		return c.endProcessInstance(scope, ProcessCompleted)
	}

	// The subprocess continues from the scope's latest counter
	parentID, counter := scope.ParentID, scope.SequenceCounter
	for _, id := range c.subtree(scope.ID) {
		if err := c.executions.DeleteRelatedByExecution(c.ctx, id); err != nil {
			return err
		}
		if err := c.executions.DeleteVariablesByExecution(c.ctx, id); err != nil {
			return err
		}
		delete(c.variables, id)
	}
	if err := c.arena.RemoveSubtree(scope.ID); err != nil {
		return err
	}

	parent, err := c.arena.Get(parentID)
	if err != nil {
		return err
	}
	if counter > parent.SequenceCounter {
		if err := c.arena.SetSequenceCounter(parent.ID, counter); err != nil {
			return err
		}
	}
	if err := c.activate(parent); err != nil {
		return err
	}
	return c.leaveActivity(parent.ID, nil)
}

// endProcessInstance drops everything the instance owns and removes its tree
func (c *command) endProcessInstance(root *execution.Execution, kind EventKind) error {
	if _, err := c.jobs.DeleteJobsByProcessInstance(c.ctx, root.ID); err != nil {
		return err
	}
	if _, err := c.incidents.DeleteIncidentsByProcessInstance(c.ctx, root.ID); err != nil {
		return err
	}
	if err := c.executions.DeleteRelatedByProcessInstance(c.ctx, root.ID); err != nil {
		return err
	}

	counter := root.SequenceCounter
	if err := c.arena.RemoveSubtree(root.ID); err != nil {
		return err
	}
	c.variables = make(map[string]map[string]any)
	c.emit(kind, root.ID, "", counter)
	c.log.Infow("Process instance ended",
		logger.FieldProcessInstanceID, root.ID,
		logger.FieldProcessDefinitionID, root.ProcessDefinitionID,
		"reason", string(kind))
	return nil
}

// dropExecution removes a leaf execution with its wait-state rows and variables
func (c *command) dropExecution(id string) error {
	if err := c.executions.DeleteRelatedByExecution(c.ctx, id); err != nil {
		return err
	}
	if err := c.executions.DeleteVariablesByExecution(c.ctx, id); err != nil {
		return err
	}
	delete(c.variables, id)
	return c.arena.Remove(id)
}

// subtree lists id and its descendants
func (c *command) subtree(id string) []string {
	ids := []string{id}
	for i := 0; i < len(ids); i++ {
		e, err := c.arena.Get(ids[i])
		if err != nil {
			continue
		}
		ids = append(ids, e.ChildIDs...)
	}
	return ids
}
