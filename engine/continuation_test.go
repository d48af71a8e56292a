package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/pulseflow/execution"
	"github.com/teranos/pulseflow/pulse/async"
)

const labelCycleDefinition = `
key: labelling
version: 1.0.0
activities:
  - {id: start, type: startEvent}
  - {id: label, type: serviceTask, handler: carrier.label, async_before: true, failed_job_retry_time_cycle: R5/PT5M}
  - {id: end, type: endEvent}
transitions:
  - {from: start, to: label}
  - {from: label, to: end}
`

const labelPlainDefinition = `
key: labelling
version: 1.0.0
activities:
  - {id: start, type: startEvent}
  - {id: label, type: serviceTask, handler: carrier.label, async_before: true}
  - {id: end, type: endEvent}
transitions:
  - {from: start, to: label}
  - {from: label, to: end}
`

const labelExpressionDefinition = `
key: labelling
version: 1.0.0
activities:
  - {id: start, type: startEvent}
  - {id: label, type: serviceTask, handler: carrier.label, async_before: true, failed_job_retry_time_cycle: "${retryCycle}"}
  - {id: end, type: endEvent}
transitions:
  - {from: start, to: label}
  - {from: label, to: end}
`

const weighAfterDefinition = `
key: weighing
version: 1.0.0
activities:
  - {id: start, type: startEvent}
  - {id: weigh, type: serviceTask, handler: parcel.weigh, async_after: true}
  - {id: end, type: endEvent}
transitions:
  - {from: start, to: weigh}
  - {from: weigh, to: end}
`

func failingCarrier() *switchable {
	s := &switchable{}
	s.failing.Store(true)
	return s
}

// failOnce runs the due continuation, expects it to fail and checks the
// retries left and the next duedate
func (h *harness) failOnce(processInstanceID string, retries int, interval time.Duration) *async.Job {
	h.t.Helper()
	failedAt := h.clock.Now()
	require.Equal(h.t, 1, h.runDue())

	job := h.onlyJob(processInstanceID)
	assert.Equal(h.t, retries, job.Retries)
	require.NotNil(h.t, job.Duedate)
	assert.WithinDuration(h.t, failedAt.Add(interval), *job.Duedate, time.Millisecond)
	assert.Empty(h.t, job.LockOwner, "a failed job is unlocked")
	return job
}

func TestContinuation_ActivityCycleUntilIncident(t *testing.T) {
	carrier := failingCarrier()
	h := newHarness(t, setup{
		services:    map[string]ServiceHandler{"carrier.label": carrier},
		definitions: []string{labelCycleDefinition},
	})

	id := h.start("labelling", nil)

	root := h.tree(id).Execution
	assert.Equal(t, execution.WaitAsyncContinuation, root.WaitState)
	assert.Equal(t, "label", root.ActivityID)
	assert.Equal(t, int64(2), root.SequenceCounter)
	assert.True(t, root.CachedEntityState.Has(execution.Jobs))

	job := h.onlyJob(id)
	assert.Equal(t, 3, job.Retries, "new continuations start with the default retries")
	assert.Equal(t, ContinuationHandlerName, job.HandlerName)
	assert.Equal(t, "label", job.ActivityID)

	for _, want := range []int{4, 3, 2, 1, 0} {
		job = h.failOnce(id, want, 5*time.Minute)
		assert.Equal(t, 0, h.runDue(), "the retry is not due yet")
		assert.Equal(t, int64(2), h.tree(id).Execution.SequenceCounter, "the failed attempt was rolled back")
		h.clock.Advance(5 * time.Minute)
	}

	assert.Equal(t, int32(5), carrier.calls.Load())
	assert.Equal(t, async.JobStatusExhausted, job.Status)
	assert.Contains(t, job.ExceptionMessage, "carrier unreachable for label")

	incidents, err := h.engine.Incidents(h.ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, job.ID, incidents[0].JobID)
	assert.Equal(t, id, incidents[0].ExecutionID)

	root = h.tree(id).Execution
	assert.Equal(t, execution.WaitIncident, root.WaitState)
	assert.True(t, root.CachedEntityState.Has(execution.Incidents))
	assert.Equal(t, 0, h.runDue(), "exhausted jobs are never acquired")

	// The carrier is back; an operator grants one more attempt
	carrier.failing.Store(false)
	require.NoError(t, h.engine.SetJobRetries(h.ctx, job.ID, 1))

	incidents, err = h.engine.Incidents(h.ctx, id, 10)
	require.NoError(t, err)
	assert.Empty(t, incidents)
	root = h.tree(id).Execution
	assert.Equal(t, execution.WaitAsyncContinuation, root.WaitState)
	assert.False(t, root.CachedEntityState.Has(execution.Incidents))

	assert.Equal(t, 1, h.runDue())
	assert.Equal(t, int32(6), carrier.calls.Load())
	assert.Equal(t, 0, h.instanceCount())
}

func TestContinuation_GlobalIntervalList(t *testing.T) {
	h := newHarness(t, setup{
		cfg:         Config{FailedJobRetryTimeCycle: "PT5M,PT20M,PT3M"},
		services:    map[string]ServiceHandler{"carrier.label": failingCarrier()},
		definitions: []string{labelPlainDefinition},
	})
	id := h.start("labelling", nil)

	steps := []struct {
		retries  int
		interval time.Duration
	}{
		{3, 5 * time.Minute},
		{2, 20 * time.Minute},
		{1, 3 * time.Minute},
		{0, 3 * time.Minute},
	}
	for _, step := range steps {
		h.failOnce(id, step.retries, step.interval)
		h.clock.Advance(step.interval)
	}

	assert.Equal(t, async.JobStatusExhausted, h.onlyJob(id).Status)
}

func TestContinuation_CycleExpressionReadsCurrentVariables(t *testing.T) {
	h := newHarness(t, setup{
		services:    map[string]ServiceHandler{"carrier.label": failingCarrier()},
		definitions: []string{labelExpressionDefinition},
	})
	id := h.start("labelling", map[string]any{"retryCycle": "R2/PT1M"})

	h.failOnce(id, 1, time.Minute)

	require.NoError(t, h.engine.SetVariables(h.ctx, id, map[string]any{"retryCycle": "R9/PT7M"}))
	h.clock.Advance(time.Minute)

	// Only the interval follows the new value; retries were fixed at the first failure
	job := h.failOnce(id, 0, 7*time.Minute)
	assert.Equal(t, async.JobStatusExhausted, job.Status)
}

func TestContinuation_UnresolvableExpressionFallsBackToDefault(t *testing.T) {
	carrier := failingCarrier()
	h := newHarness(t, setup{
		services:    map[string]ServiceHandler{"carrier.label": carrier},
		definitions: []string{labelExpressionDefinition},
	})
	id := h.start("labelling", nil)

	// Default cycle: three immediate attempts
	assert.Equal(t, 3, h.runDue())
	assert.Equal(t, int32(3), carrier.calls.Load())

	job := h.onlyJob(id)
	assert.Equal(t, 0, job.Retries)
	assert.Equal(t, async.JobStatusExhausted, job.Status)
	assert.Equal(t, execution.WaitIncident, h.tree(id).Execution.WaitState)
}

func TestContinuation_RetryOverrideKeepsIntervalPosition(t *testing.T) {
	h := newHarness(t, setup{
		cfg:         Config{FailedJobRetryTimeCycle: "PT5M,PT20M,PT3M"},
		services:    map[string]ServiceHandler{"carrier.label": failingCarrier()},
		definitions: []string{labelPlainDefinition},
	})
	id := h.start("labelling", nil)

	job := h.failOnce(id, 3, 5*time.Minute)
	require.NoError(t, h.engine.SetJobRetries(h.ctx, job.ID, 5))
	assert.Equal(t, 5, h.onlyJob(id).Retries)

	h.clock.Advance(5 * time.Minute)
	h.failOnce(id, 4, 20*time.Minute)
}

func TestContinuation_AsyncAfter(t *testing.T) {
	h := newHarness(t, setup{
		services: map[string]ServiceHandler{
			"parcel.weigh": ServiceFunc(func(sc *ServiceContext) error {
				return sc.SetVariable("grams", 900)
			}),
		},
		definitions: []string{weighAfterDefinition},
	})

	id := h.start("weighing", nil)

	assert.Equal(t, []string{"start@2", "weigh@4"}, h.activityEvents(ActivityCompleted))
	root := h.tree(id).Execution
	assert.Equal(t, execution.WaitAsyncContinuation, root.WaitState)
	assert.Equal(t, "weigh", root.ActivityID)

	vars, err := h.engine.GetVariables(h.ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, 900, vars["grams"])

	assert.Equal(t, 1, h.runDue())
	assert.Equal(t, 0, h.instanceCount())
	assert.Contains(t, h.activityEvents(ActivityStarted), "end@5")
}

func TestContinuation_InstanceDeletedBeforeRun(t *testing.T) {
	carrier := &switchable{}
	h := newHarness(t, setup{
		services:    map[string]ServiceHandler{"carrier.label": carrier},
		definitions: []string{labelPlainDefinition},
	})
	id := h.start("labelling", nil)
	require.NoError(t, h.engine.DeleteProcessInstance(h.ctx, id))

	assert.Equal(t, 0, h.runDue())
	assert.Equal(t, int32(0), carrier.calls.Load())
}

func TestContinuation_DecodeRejectsUnknownPhase(t *testing.T) {
	_, err := decodeContinuation(`{"phase":"sideways"}`)
	assert.Error(t, err)

	_, err = decodeContinuation(`not json`)
	assert.Error(t, err)

	k, err := decodeContinuation(`{"phase":"after","transitions":["weigh->end"]}`)
	require.NoError(t, err)
	assert.Equal(t, phaseAfter, k.Phase)
	assert.Equal(t, []string{"weigh->end"}, k.Transitions)
}
