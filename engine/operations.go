package engine

import (
	"context"
	"slices"

	"github.com/teranos/pulseflow/errors"
	"github.com/teranos/pulseflow/execution"
	"github.com/teranos/pulseflow/logger"
	"github.com/teranos/pulseflow/pulse/async"
)

// StartProcessInstance creates a process instance of the definition ref
// resolves to ("key", "key:1.2.0" or "key:^1") and runs it until every token
// waits or the instance ends. Returns the process instance id.
func (e *Engine) StartProcessInstance(ctx context.Context, ref, businessKey string, vars map[string]any) (string, error) {
	def, err := e.registry.Resolve(ref)
	if err != nil {
		return "", err
	}

	var id string
	err = e.execute(ctx, "", func(c *command) error {
		c.arena = execution.NewArena(e.cfg.NewID)
		c.graph = def
		root, err := c.arena.StartProcessInstance(def.ID(), businessKey)
		if err != nil {
			return err
		}
		id = root.ID
		c.emit(ProcessStarted, root.ID, "", root.SequenceCounter)

		if err := c.setVariables(root.ID, vars); err != nil {
			return err
		}
		initial, err := c.graph.InitialActivity("")
		if err != nil {
			return err
		}
		return c.enterActivity(root.ID, initial.ID, false)
	})
	if err != nil {
		return "", errors.Wrapf(err, "start process instance of %s", def.ID())
	}

	e.engineLog.Infow("Process instance started",
		logger.FieldProcessInstanceID, id,
		logger.FieldProcessDefinitionID, def.ID(),
		"business_key", businessKey)
	return id, nil
}

// CompleteTask finishes a user task, stores vars and moves its token on
func (e *Engine) CompleteTask(ctx context.Context, taskID string, vars map[string]any) error {
	task, err := execution.NewStore(e.db).GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	return e.execute(ctx, task.ProcessInstanceID, func(c *command) error {
		// Re-read inside the lock: another command may have completed it
		t, err := c.executions.GetTask(c.ctx, taskID)
		if err != nil {
			return err
		}
		if err := c.executions.DeleteTask(c.ctx, t.ID); err != nil {
			return err
		}
		return c.signal(t.ExecutionID, vars)
	})
}

// CorrelateMessage delivers a message to the oldest subscription for name.
// An empty processInstanceID correlates across all instances.
func (e *Engine) CorrelateMessage(ctx context.Context, name, processInstanceID string, vars map[string]any) error {
	subs, err := execution.NewStore(e.db).FindEventSubscriptions(ctx, name, processInstanceID)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return errors.NewNotFoundError("no subscription for message %s", name)
	}
	target := subs[0]

	return e.execute(ctx, target.ProcessInstanceID, func(c *command) error {
		current, err := c.executions.FindEventSubscriptions(c.ctx, name, target.ProcessInstanceID)
		if err != nil {
			return err
		}
		if !slices.ContainsFunc(current, func(s execution.EventSubscription) bool { return s.ID == target.ID }) {
			return errors.NewNotFoundError("subscription %s for message %s already consumed", target.ID, name)
		}
		if err := c.executions.DeleteEventSubscription(c.ctx, target.ID); err != nil {
			return err
		}
		return c.signal(target.ExecutionID, vars)
	})
}

// CompleteExternalTask reports an external task done
func (e *Engine) CompleteExternalTask(ctx context.Context, id string, vars map[string]any) error {
	task, err := execution.NewStore(e.db).GetExternalTask(ctx, id)
	if err != nil {
		return err
	}
	return e.execute(ctx, task.ProcessInstanceID, func(c *command) error {
		t, err := c.executions.GetExternalTask(c.ctx, id)
		if err != nil {
			return err
		}
		if err := c.executions.DeleteExternalTask(c.ctx, t.ID); err != nil {
			return err
		}
		return c.signal(t.ExecutionID, vars)
	})
}

// signal resumes a waiting execution through its behavior's Signaler
func (c *command) signal(executionID string, vars map[string]any) error {
	e, err := c.arena.Get(executionID)
	if err != nil {
		return err
	}
	if e.IsActive {
		return errors.NewInvalidRequestError("execution %s is not waiting", executionID)
	}
	a, err := c.graph.Activity(e.ActivityID)
	if err != nil {
		return err
	}
	b, ok := c.engine.behavior(a.Type)
	if !ok {
		return errors.NewInvalidRequestError("no behavior for activity type %q", a.Type)
	}
	signaler, ok := b.(Signaler)
	if !ok {
		return errors.NewInvalidRequestError("activity %s (%s) cannot be signalled", a.ID, a.Type)
	}

	if err := c.setVariables(e.ID, vars); err != nil {
		return err
	}
	if err := c.activate(e); err != nil {
		return err
	}
	return activityFailed(a.ID, e.ID, signaler.Signal(c.activityContext(e.ID, a), vars))
}

// SetVariables writes vars from the process instance scope
func (e *Engine) SetVariables(ctx context.Context, processInstanceID string, vars map[string]any) error {
	return e.execute(ctx, processInstanceID, func(c *command) error {
		return c.setVariables(processInstanceID, vars)
	})
}

// GetVariables returns the variables of a process instance. Root values win
// over execution-local ones of the same name.
func (e *Engine) GetVariables(ctx context.Context, processInstanceID string) (map[string]any, error) {
	vars, err := execution.NewStore(e.db).ListVariablesByProcessInstance(ctx, processInstanceID)
	if err != nil {
		return nil, err
	}
	return flatten(vars, processInstanceID)
}

// DeleteProcessInstance cancels the instance: its jobs, incidents and related
// rows are dropped and the tree is removed leaf-first.
func (e *Engine) DeleteProcessInstance(ctx context.Context, processInstanceID string) error {
	err := e.execute(ctx, processInstanceID, func(c *command) error {
		root, err := c.arena.Root()
		if err != nil {
			return err
		}
		return c.endProcessInstance(root, ProcessDeleted)
	})
	if errors.Is(err, errInstanceGone) {
		return errors.NewNotFoundError("process instance %s not found", processInstanceID)
	}
	return err
}

// SetJobRetries is the operator override for a job's remaining retries.
// Retries above zero resolve the job's incidents and make it acquirable
// again; the retry interval sequence continues where it stopped.
func (e *Engine) SetJobRetries(ctx context.Context, jobID string, retries int) error {
	if err := e.requireBuilt(); err != nil {
		return err
	}
	job, err := e.queue.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	var updated *async.Job
	err = e.execute(ctx, job.ProcessInstanceID, func(c *command) error {
		if err := c.jobs.SetRetries(c.ctx, jobID, retries); err != nil {
			return err
		}
		if retries > 0 {
			resolved, err := c.incidents.DeleteIncidentsByJob(c.ctx, jobID)
			if err != nil {
				return err
			}
			if resolved > 0 {
				c.log.Infow("Incidents resolved by retry override",
					logger.FieldJobID, jobID,
					logger.FieldCount, resolved)
			}
			if c.arena != nil {
				if exec, err := c.arena.Get(job.ExecutionID); err == nil && exec.WaitState == execution.WaitIncident {
					if err := c.wait(exec.ID, execution.WaitAsyncContinuation); err != nil {
						return err
					}
				}
			}
		}
		current, err := c.jobs.GetJob(c.ctx, jobID)
		if err != nil {
			return err
		}
		updated = current
		c.notify = append(c.notify, current)
		return nil
	})
	if err != nil {
		return err
	}

	e.engineLog.Infow("Job retries overridden",
		logger.FieldJobID, jobID,
		logger.FieldRetries, retries,
		logger.FieldRetryAttempt, updated.RetryAttempt)
	return nil
}

// ProcessInstanceTree returns a detached view of the execution tree
func (e *Engine) ProcessInstanceTree(ctx context.Context, processInstanceID string) (*execution.TreeNode, error) {
	arena, err := execution.NewStore(e.db).LoadArena(ctx, processInstanceID, e.cfg.NewID)
	if err != nil {
		return nil, err
	}
	return arena.Tree()
}

// ProcessInstances lists root executions, newest first
func (e *Engine) ProcessInstances(ctx context.Context, limit int) ([]execution.Execution, error) {
	return execution.NewStore(e.db).ListProcessInstances(ctx, limit)
}

// Tasks lists open user tasks, optionally of one process instance
func (e *Engine) Tasks(ctx context.Context, processInstanceID string) ([]execution.Task, error) {
	return execution.NewStore(e.db).ListTasks(ctx, processInstanceID)
}

// ExternalTasks lists open external tasks, optionally of one topic
func (e *Engine) ExternalTasks(ctx context.Context, topic string) ([]execution.ExternalTask, error) {
	return execution.NewStore(e.db).ListExternalTasks(ctx, topic)
}

// Jobs lists the jobs of a process instance
func (e *Engine) Jobs(ctx context.Context, processInstanceID string) ([]*async.Job, error) {
	return async.NewStore(e.db).ListJobsByProcessInstance(ctx, processInstanceID)
}

// Incidents lists incidents, newest first; an empty id lists all instances
func (e *Engine) Incidents(ctx context.Context, processInstanceID string, limit int) ([]*async.Incident, error) {
	return async.NewIncidentStore(e.db).ListIncidents(ctx, processInstanceID, limit)
}
