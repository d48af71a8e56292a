package engine

import (
	"context"
	"time"

	"github.com/teranos/pulseflow/errors"
	"github.com/teranos/pulseflow/execution"
	"github.com/teranos/pulseflow/expr"
	"github.com/teranos/pulseflow/process"
)

// Behavior executes one activity type. Execute either moves the token on
// (Leave, LeaveVia, End) or parks it (Wait); returning an error rolls back
// the whole command.
type Behavior interface {
	Execute(ac *ActivityContext) error
}

// Signaler is implemented by behaviors whose activity waits for an outside
// trigger: a completed task, a correlated message, an external worker.
type Signaler interface {
	Signal(ac *ActivityContext, payload map[string]any) error
}

// BehaviorFunc adapts a function to Behavior
type BehaviorFunc func(ac *ActivityContext) error

func (f BehaviorFunc) Execute(ac *ActivityContext) error {
	return f(ac)
}

// ActivityContext is handed to a behavior for one activity execution
type ActivityContext struct {
	cmd         *command
	executionID string
	activity    *process.Activity
}

func (c *command) activityContext(executionID string, a *process.Activity) *ActivityContext {
	return &ActivityContext{cmd: c, executionID: executionID, activity: a}
}

func (ac *ActivityContext) Context() context.Context {
	return ac.cmd.ctx
}

func (ac *ActivityContext) Activity() *process.Activity {
	return ac.activity
}

func (ac *ActivityContext) Graph() process.Graph {
	return ac.cmd.graph
}

func (ac *ActivityContext) ExecutionID() string {
	return ac.executionID
}

func (ac *ActivityContext) ProcessInstanceID() string {
	return ac.cmd.arena.ProcessInstanceID()
}

// Execution returns a snapshot of the current execution
func (ac *ActivityContext) Execution() (execution.Execution, error) {
	e, err := ac.cmd.arena.Get(ac.executionID)
	if err != nil {
		return execution.Execution{}, err
	}
	return e.Snapshot(), nil
}

// Now is the command's clock reading
func (ac *ActivityContext) Now() time.Time {
	return ac.cmd.now
}

// Variables resolves names visible from this execution
func (ac *ActivityContext) Variables() expr.VariableScope {
	return ac.cmd.scope(ac.executionID)
}

func (ac *ActivityContext) Variable(name string) (any, bool) {
	return ac.cmd.scope(ac.executionID).Variable(name)
}

// SetVariable updates the nearest scope holding name, else the process instance
func (ac *ActivityContext) SetVariable(name string, value any) error {
	return ac.cmd.setVariable(ac.executionID, name, value)
}

// SetVariableLocal stores name on this execution only
func (ac *ActivityContext) SetVariableLocal(name string, value any) error {
	return ac.cmd.setVariableLocal(ac.executionID, name, value)
}

func (ac *ActivityContext) Evaluator() expr.Evaluator {
	return ac.cmd.engine.evaluator
}

// Leave completes the activity and takes every outgoing transition
func (ac *ActivityContext) Leave() error {
	return ac.cmd.leaveActivity(ac.executionID, nil)
}

// LeaveVia completes the activity and takes only the named transitions
func (ac *ActivityContext) LeaveVia(transitionIDs ...string) error {
	if len(transitionIDs) == 0 {
		return errors.Newf("activity %s: LeaveVia needs at least one transition", ac.activity.ID)
	}
	return ac.cmd.leaveActivity(ac.executionID, transitionIDs)
}

// Wait parks the execution until a signal arrives
func (ac *ActivityContext) Wait(state execution.WaitState) error {
	return ac.cmd.wait(ac.executionID, state)
}

// End terminates the token; the enclosing scope completes with its last token
func (ac *ActivityContext) End() error {
	return ac.cmd.endExecution(ac.executionID)
}

func builtinBehaviors(e *Engine) map[string]Behavior {
	return map[string]Behavior{
		process.StartEvent:       BehaviorFunc(func(ac *ActivityContext) error { return ac.Leave() }),
		process.EndEvent:         BehaviorFunc(func(ac *ActivityContext) error { return ac.End() }),
		process.ServiceTask:      serviceTaskBehavior{lookup: e.service},
		process.UserTask:         userTaskBehavior{},
		process.ReceiveTask:      receiveTaskBehavior{},
		process.ExternalTask:     externalTaskBehavior{},
		process.ParallelGateway:  parallelGatewayBehavior{},
		process.ExclusiveGateway: exclusiveGatewayBehavior{},
		process.SubProcess:       subProcessBehavior{},
	}
}

type serviceTaskBehavior struct {
	lookup func(name string) (ServiceHandler, bool)
}

func (b serviceTaskBehavior) Execute(ac *ActivityContext) error {
	handler, ok := b.lookup(ac.activity.Handler)
	if !ok {
		return errors.NewNotFoundError("no service handler registered for %s", ac.activity.Handler)
	}
	if err := handler.Execute(&ServiceContext{ac: ac}); err != nil {
		return err
	}
	return ac.Leave()
}

// leaveOnSignal is shared by every wait-state behavior
type leaveOnSignal struct{}

func (leaveOnSignal) Signal(ac *ActivityContext, _ map[string]any) error {
	return ac.Leave()
}

type userTaskBehavior struct{ leaveOnSignal }

func (userTaskBehavior) Execute(ac *ActivityContext) error {
	c := ac.cmd
	task := &execution.Task{
		ID:                c.newID(),
		ExecutionID:       ac.executionID,
		ProcessInstanceID: ac.ProcessInstanceID(),
		ActivityID:        ac.activity.ID,
		Name:              ac.activity.Name,
		CreatedAt:         c.now,
	}
	if err := c.executions.InsertTask(c.ctx, task); err != nil {
		return err
	}
	if err := c.arena.MarkRelated(ac.executionID, execution.Tasks); err != nil {
		return err
	}
	return ac.Wait(execution.WaitTask)
}

type receiveTaskBehavior struct{ leaveOnSignal }

func (receiveTaskBehavior) Execute(ac *ActivityContext) error {
	c := ac.cmd
	sub := &execution.EventSubscription{
		ID:                c.newID(),
		ExecutionID:       ac.executionID,
		ProcessInstanceID: ac.ProcessInstanceID(),
		ActivityID:        ac.activity.ID,
		EventName:         ac.activity.Message,
		CreatedAt:         c.now,
	}
	if err := c.executions.InsertEventSubscription(c.ctx, sub); err != nil {
		return err
	}
	if err := c.arena.MarkRelated(ac.executionID, execution.EventSubscriptions); err != nil {
		return err
	}
	return ac.Wait(execution.WaitEventSubscription)
}

type externalTaskBehavior struct{ leaveOnSignal }

func (externalTaskBehavior) Execute(ac *ActivityContext) error {
	c := ac.cmd
	task := &execution.ExternalTask{
		ID:                c.newID(),
		ExecutionID:       ac.executionID,
		ProcessInstanceID: ac.ProcessInstanceID(),
		ActivityID:        ac.activity.ID,
		Topic:             ac.activity.Topic,
		CreatedAt:         c.now,
	}
	if err := c.executions.InsertExternalTask(c.ctx, task); err != nil {
		return err
	}
	if err := c.arena.MarkRelated(ac.executionID, execution.ExternalTasks); err != nil {
		return err
	}
	return ac.Wait(execution.WaitExternalTask)
}

// parallelGatewayBehavior joins when the gateway has several incoming
// transitions; forking happens when the token leaves through several
// outgoing ones.
type parallelGatewayBehavior struct{}

func (parallelGatewayBehavior) Execute(ac *ActivityContext) error {
	if len(ac.cmd.graph.Incoming(ac.activity.ID)) > 1 {
		return ac.cmd.join(ac.executionID, ac.activity)
	}
	return ac.Leave()
}

// exclusiveGatewayBehavior takes the first outgoing transition whose
// condition holds, in definition order, then the default transition.
type exclusiveGatewayBehavior struct{}

func (exclusiveGatewayBehavior) Execute(ac *ActivityContext) error {
	scope := ac.Variables()
	for _, t := range ac.cmd.graph.Outgoing(ac.activity.ID) {
		if t.ID == ac.activity.Default {
			continue
		}
		if t.Condition == "" {
			return ac.LeaveVia(t.ID)
		}
		ok, err := ac.Evaluator().EvaluateCondition(t.Condition, scope)
		if err != nil {
			return errors.Wrapf(err, "condition of transition %s", t.ID)
		}
		if ok {
			return ac.LeaveVia(t.ID)
		}
	}
	if ac.activity.Default != "" {
		return ac.LeaveVia(ac.activity.Default)
	}
	return errors.Newf("exclusive gateway %s: no outgoing transition matched", ac.activity.ID)
}

type subProcessBehavior struct{}

func (subProcessBehavior) Execute(ac *ActivityContext) error {
	return ac.cmd.enterScope(ac.executionID, ac.activity)
}
