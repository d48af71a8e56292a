package engine

import (
	"context"
	"encoding/json"

	"github.com/teranos/pulseflow/errors"
	"github.com/teranos/pulseflow/execution"
	"github.com/teranos/pulseflow/expr"
	"github.com/teranos/pulseflow/logger"
	"github.com/teranos/pulseflow/pulse/async"
	"github.com/teranos/pulseflow/pulse/retry"
)

const (
	phaseBefore = "before"
	phaseAfter  = "after"
)

// continuation is the job configuration of an async continuation
type continuation struct {
	Phase string `json:"phase"`
	// Transitions chosen before an asyncAfter boundary, nil for all outgoing
	Transitions []string `json:"transitions,omitempty"`
}

func (k continuation) encode() (string, error) {
	raw, err := json.Marshal(k)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode continuation")
	}
	return string(raw), nil
}

func decodeContinuation(configuration string) (continuation, error) {
	var k continuation
	if err := json.Unmarshal([]byte(configuration), &k); err != nil {
		return k, errors.Wrapf(err, "invalid continuation configuration %q", configuration)
	}
	if k.Phase != phaseBefore && k.Phase != phaseAfter {
		return k, errors.Newf("unknown continuation phase %q", k.Phase)
	}
	return k, nil
}

// scheduleContinuation parks e behind a new job due now
func (c *command) scheduleContinuation(e *execution.Execution, k continuation) error {
	job, err := async.NewJob(ContinuationHandlerName, c.engine.cfg.DefaultJobRetries, c.now)
	if err != nil {
		return err
	}
	if job.Configuration, err = k.encode(); err != nil {
		return err
	}
	job.ID = c.newID()
	job.ExecutionID = e.ID
	job.ProcessInstanceID = e.ProcessInstanceID
	job.ProcessDefinitionID = e.ProcessDefinitionID
	job.ActivityID = e.ActivityID

	if err := c.jobs.CreateJob(c.ctx, job); err != nil {
		return err
	}
	if err := c.arena.MarkRelated(e.ID, execution.Jobs); err != nil {
		return err
	}
	if err := c.wait(e.ID, execution.WaitAsyncContinuation); err != nil {
		return err
	}
	c.notify = append(c.notify, job)

	c.log.Debugw("Scheduled async continuation",
		logger.FieldJobID, job.ID,
		logger.FieldExecutionID, e.ID,
		logger.FieldActivityID, e.ActivityID,
		"phase", k.Phase)
	return nil
}

// continuationHandler runs continuation jobs for the worker pool
type continuationHandler struct {
	engine *Engine
}

func (h continuationHandler) Name() string {
	return ContinuationHandlerName
}

func (h continuationHandler) Execute(ctx context.Context, job *async.Job) error {
	return h.engine.ExecuteJob(ctx, job)
}

// ExecuteJob resumes the execution parked behind a locked continuation job.
// The job is deleted in the same transaction, so a failure leaves it in
// place for HandleFailure. Jobs whose instance or execution is gone succeed
// without doing anything.
func (e *Engine) ExecuteJob(ctx context.Context, job *async.Job) error {
	err := e.execute(ctx, job.ProcessInstanceID, func(c *command) error {
		current, err := c.jobs.GetJob(c.ctx, job.ID)
		if err != nil {
			if errors.IsNotFoundError(err) {
				return lockLost(job.ID, job.LockOwner)
			}
			return err
		}
		if current.LockOwner != job.LockOwner {
			return lockLost(job.ID, job.LockOwner)
		}
		if err := c.jobs.DeleteJob(c.ctx, job.ID); err != nil {
			return err
		}
		return c.resume(current)
	})
	if errors.Is(err, errInstanceGone) {
		e.engineLog.Debugw("Continuation for ended process instance, dropping",
			logger.FieldJobID, job.ID,
			logger.FieldProcessInstanceID, job.ProcessInstanceID)
		return nil
	}
	return err
}

func (c *command) resume(job *async.Job) error {
	k, err := decodeContinuation(job.Configuration)
	if err != nil {
		return err
	}
	e, err := c.arena.Get(job.ExecutionID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			c.log.Debugw("Continuation for removed execution, dropping",
				logger.FieldJobID, job.ID,
				logger.FieldExecutionID, job.ExecutionID)
			return nil
		}
		return err
	}

	switch k.Phase {
	case phaseBefore:
		return c.enterActivity(e.ID, job.ActivityID, true)
	default:
		if err := c.activate(e); err != nil {
			return err
		}
		return c.takeTransitions(e.ID, k.Transitions)
	}
}

// HandleFailure applies the retry policy to a continuation that failed. The
// cycle is resolved now, against the current variables: activity cycle,
// then the global cycle, then the default. An exhausted job raises an
// incident on its execution.
func (e *Engine) HandleFailure(ctx context.Context, job *async.Job, cause error) error {
	err := e.execute(ctx, job.ProcessInstanceID, func(c *command) error {
		current, err := c.jobs.GetJob(c.ctx, job.ID)
		if err != nil {
			if errors.IsNotFoundError(err) {
				return nil
			}
			return err
		}
		if current.LockOwner != job.LockOwner {
			return nil
		}

		input := retry.ResolveInput{ActivityID: current.ActivityID, Scope: expr.MapScope{}}
		if c.arena != nil {
			input.ActivityCycle = c.graph.FailedJobRetryTimeCycle(current.ActivityID)
			input.Scope = c.scope(current.ExecutionID)
		}
		cycle, source := e.resolver.Resolve(c.ctx, input)
		outcome := retry.Apply(current, cycle, cause, c.now)
		if err := c.jobs.UpdateJob(c.ctx, current); err != nil {
			return err
		}
		c.notify = append(c.notify, current)

		c.log.Infow("Job failed, retry scheduled",
			logger.FieldJobID, current.ID,
			logger.FieldActivityID, current.ActivityID,
			logger.FieldRetries, outcome.Retries,
			logger.FieldRetryAttempt, outcome.Attempt,
			logger.FieldDuedate, outcome.Duedate,
			"cycle", cycle.String(),
			"cycle_source", string(source))

		if !outcome.Exhausted {
			return nil
		}
		return c.raiseIncident(current)
	})
	if errors.Is(err, errInstanceGone) {
		return e.queue.Store().DeleteJob(ctx, job.ID)
	}
	return err
}

func (c *command) raiseIncident(job *async.Job) error {
	incident := async.NewFailedJobIncident(job, c.now)
	if err := c.incidents.CreateIncident(c.ctx, incident); err != nil {
		return err
	}
	if c.arena == nil {
		return nil
	}

	exec, err := c.arena.Get(job.ExecutionID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return nil
		}
		return err
	}
	if err := c.arena.MarkRelated(exec.ID, execution.Incidents); err != nil {
		return err
	}
	if err := c.wait(exec.ID, execution.WaitIncident); err != nil {
		return err
	}

	c.log.Warnw("Retries exhausted, incident raised",
		logger.FieldIncidentID, incident.ID,
		logger.FieldJobID, job.ID,
		logger.FieldExecutionID, exec.ID,
		logger.FieldActivityID, job.ActivityID,
		logger.FieldError, job.ExceptionMessage)
	return nil
}
