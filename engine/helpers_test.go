package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/pulseflow/errors"
	"github.com/teranos/pulseflow/execution"
	pftest "github.com/teranos/pulseflow/internal/testing"
	"github.com/teranos/pulseflow/process"
	"github.com/teranos/pulseflow/pulse/async"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sequentialIDs yields id1, id2, ... and is safe for the worker goroutines
func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("id%d", n.Add(1))
	}
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	engine *Engine
	clock  *testClock

	mu     sync.Mutex
	events []ActivityEvent
}

type setup struct {
	cfg         Config
	services    map[string]ServiceHandler
	behaviors   map[string]Behavior
	definitions []string
}

func newHarness(t *testing.T, s setup) *harness {
	t.Helper()

	registry := process.NewRegistry()
	for _, src := range s.definitions {
		def, err := process.ParseDefinition([]byte(src))
		require.NoError(t, err)
		require.NoError(t, registry.Deploy(def))
	}

	clock := &testClock{now: t0}
	cfg := s.cfg
	cfg.Clock = clock.Now
	cfg.NewID = sequentialIDs()
	cfg.Pool = async.WorkerPoolConfig{
		Workers:               1,
		PollInterval:          10 * time.Millisecond,
		MaxJobsPerAcquisition: 5,
		LockDuration:          time.Minute,
		LockOwner:             "test-node",
		StopTimeout:           2 * time.Second,
	}

	e := New(pftest.CreateTestDB(t), registry, cfg, WithLogger(zap.NewNop().Sugar()))
	for name, h := range s.services {
		require.NoError(t, e.RegisterServiceHandler(name, h))
	}
	for activityType, b := range s.behaviors {
		require.NoError(t, e.RegisterBehavior(activityType, b))
	}

	h := &harness{t: t, ctx: context.Background(), engine: e, clock: clock}
	e.Listen(func(ev ActivityEvent) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, ev)
	})
	require.NoError(t, e.Build(h.ctx))
	t.Cleanup(e.Shutdown)
	return h
}

func (h *harness) start(ref string, vars map[string]any) string {
	h.t.Helper()
	id, err := h.engine.StartProcessInstance(h.ctx, ref, "", vars)
	require.NoError(h.t, err)
	return id
}

func (h *harness) tree(processInstanceID string) *execution.TreeNode {
	h.t.Helper()
	tree, err := h.engine.ProcessInstanceTree(h.ctx, processInstanceID)
	require.NoError(h.t, err)
	return tree
}

func (h *harness) instanceCount() int {
	h.t.Helper()
	instances, err := h.engine.ProcessInstances(h.ctx, 100)
	require.NoError(h.t, err)
	return len(instances)
}

// onlyJob returns the single job of a process instance
func (h *harness) onlyJob(processInstanceID string) *async.Job {
	h.t.Helper()
	jobs, err := h.engine.Jobs(h.ctx, processInstanceID)
	require.NoError(h.t, err)
	require.Len(h.t, jobs, 1)
	return jobs[0]
}

func (h *harness) runDue() int {
	h.t.Helper()
	ran, err := h.engine.RunDueJobs(h.ctx)
	require.NoError(h.t, err)
	return ran
}

func (h *harness) recorded() []ActivityEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ActivityEvent(nil), h.events...)
}

// activityEvents keeps the events of one kind as "activity@counter"
func (h *harness) activityEvents(kind EventKind) []string {
	var out []string
	for _, ev := range h.recorded() {
		if ev.Kind == kind {
			out = append(out, fmt.Sprintf("%s@%d", ev.ActivityID, ev.SequenceCounter))
		}
	}
	return out
}

// switchable is a service that fails while failing is set
type switchable struct {
	failing atomic.Bool
	calls   atomic.Int32
}

func (s *switchable) Execute(sc *ServiceContext) error {
	s.calls.Add(1)
	if s.failing.Load() {
		return errors.Newf("carrier unreachable for %s", sc.ActivityID())
	}
	return nil
}
