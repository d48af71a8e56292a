package engine

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pulseflow/db"
	"github.com/teranos/pulseflow/errors"
	"github.com/teranos/pulseflow/execution"
	"github.com/teranos/pulseflow/logger"
	"github.com/teranos/pulseflow/process"
	"github.com/teranos/pulseflow/pulse/async"
)

// command is the state of one engine operation. Everything it touches goes
// through the transaction; nothing is visible to other commands before commit.
type command struct {
	ctx    context.Context
	engine *Engine
	now    time.Time
	log    *zap.SugaredLogger

	arena *execution.Arena
	graph process.Graph

	executions *execution.Store
	jobs       *async.Store
	incidents  *async.IncidentStore

	// variables caches decoded values: execution id -> name -> value
	variables map[string]map[string]any

	events []ActivityEvent
	notify []*async.Job
}

// execute runs fn as one command. With a process instance id the instance is
// locked and its arena loaded before fn runs; without one fn creates the
// arena itself.
func (e *Engine) execute(ctx context.Context, processInstanceID string, fn func(c *command) error) error {
	if err := e.requireBuilt(); err != nil {
		return err
	}
	if processInstanceID != "" {
		unlock := e.locks.lock(processInstanceID)
		defer unlock()
		ctx = logger.WithProcessInstanceID(ctx, processInstanceID)
	}

	var c *command
	err := db.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		c = e.newCommand(ctx, tx)
		if processInstanceID != "" {
			if err := c.load(processInstanceID); err != nil {
				return err
			}
		}
		if err := fn(c); err != nil {
			return err
		}
		return c.flush()
	})
	if err != nil {
		return err
	}

	for _, job := range c.notify {
		e.queue.Notify(job)
	}
	e.publish(c.events)
	return nil
}

func (e *Engine) newCommand(ctx context.Context, tx *sql.Tx) *command {
	return &command{
		ctx:        ctx,
		engine:     e,
		now:        e.cfg.Clock().UTC(),
		log:        logger.FromContext(ctx, e.engineLog),
		executions: execution.NewStore(tx).WithClock(e.cfg.Clock),
		jobs:       async.NewStore(tx).WithClock(e.cfg.Clock),
		incidents:  async.NewIncidentStore(tx),
		variables:  make(map[string]map[string]any),
	}
}

// load restores the arena, resolves its graph and caches the variables
func (c *command) load(processInstanceID string) error {
	arena, err := c.executions.LoadArena(c.ctx, processInstanceID, c.engine.cfg.NewID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return errors.Mark(err, errInstanceGone)
		}
		return err
	}
	root, err := arena.Root()
	if err != nil {
		return err
	}
	graph, err := c.engine.registry.Get(root.ProcessDefinitionID)
	if err != nil {
		return errors.Wrapf(err, "definition of process instance %s", processInstanceID)
	}

	vars, err := c.executions.ListVariablesByProcessInstance(c.ctx, processInstanceID)
	if err != nil {
		return err
	}
	for i := range vars {
		value, err := vars[i].Decode()
		if err != nil {
			return err
		}
		c.cacheVariable(vars[i].ExecutionID, vars[i].Name, value)
	}

	c.arena = arena
	c.graph = graph
	return nil
}

// flush writes the arena change set: inserts, then updates, then leaf-first deletes
func (c *command) flush() error {
	if c.arena == nil {
		return nil
	}
	changes := c.arena.Changes()
	if changes.Empty() {
		return nil
	}
	if err := c.executions.Flush(c.ctx, changes); err != nil {
		return errors.Wrapf(err, "flush process instance %s", c.arena.ProcessInstanceID())
	}
	c.log.Debugw("Flushed execution tree",
		"inserted", len(changes.Inserted),
		"updated", len(changes.Updated),
		"removed", len(changes.Removed))
	c.arena.ClearChanges()
	return nil
}

func (c *command) emit(kind EventKind, executionID, activityID string, counter int64) {
	c.events = append(c.events, ActivityEvent{
		Kind:              kind,
		ProcessInstanceID: c.arena.ProcessInstanceID(),
		ExecutionID:       executionID,
		ActivityID:        activityID,
		SequenceCounter:   counter,
		Time:              c.now,
	})
}

func (c *command) newID() string {
	return c.engine.cfg.NewID()
}

// wait parks an execution
func (c *command) wait(executionID string, state execution.WaitState) error {
	e, err := c.arena.Get(executionID)
	if err != nil {
		return err
	}
	e.IsActive = false
	e.WaitState = state
	return c.arena.Touch(e.ID)
}

// activate clears the wait state of an execution that moves again
func (c *command) activate(e *execution.Execution) error {
	e.IsActive = true
	e.WaitState = execution.WaitNone
	return c.arena.Touch(e.ID)
}
