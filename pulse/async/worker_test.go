package async

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/pulseflow/am"
	pftest "github.com/teranos/pulseflow/internal/testing"
)

// ============================================================================
// Night Courier Test Universe
// ============================================================================
//
// Characters:
//   - Dispatcher: runs acquisition cycles and hands parcels (jobs) out
//   - Courier: a worker that delivers one parcel at a time
//   - Night clerk: clears stale locks when the depot reopens
// ============================================================================

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func testPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:               2,
		PollInterval:          10 * time.Millisecond,
		MaxJobsPerAcquisition: 3,
		LockDuration:          time.Minute,
		LockOwner:             "depot-1",
		StopTimeout:           2 * time.Second,
	}
}

func TestWorkerPool_Defaults(t *testing.T) {
	pool := NewWorkerPool(context.Background(), pftest.CreateTestDB(t), WorkerPoolConfig{}, testLogger())

	assert.Equal(t, 1, pool.Workers())
	assert.Equal(t, time.Second, pool.poolConfig.PollInterval)
	assert.NotEmpty(t, pool.Acquirer().Owner())
	assert.Nil(t, pool.limiter, "no limiter without max_executions_per_second")
	assert.NotNil(t, pool.Registry())
}

func TestWorkerPoolConfigFromAM(t *testing.T) {
	cfg := WorkerPoolConfigFromAM(am.PulseConfig{
		Workers:                4,
		PollIntervalMS:         250,
		MaxJobsPerAcquisition:  7,
		LockDurationSeconds:    60,
		LockOwner:              "node-x",
		MaxExecutionsPerSecond: 20,
	})

	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 7, cfg.MaxJobsPerAcquisition)
	assert.Equal(t, time.Minute, cfg.LockDuration)
	assert.Equal(t, "node-x", cfg.LockOwner)
	assert.Equal(t, 20, cfg.MaxExecutionsPerSecond)

	pool := NewWorkerPool(context.Background(), pftest.CreateTestDB(t), cfg, testLogger())
	assert.NotNil(t, pool.limiter)
}

func TestWorkerPool_StopWithoutStart(t *testing.T) {
	pool := NewWorkerPool(context.Background(), pftest.CreateTestDB(t), testPoolConfig(), testLogger())

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a pool that never started")
	}
}

func TestWorkerPool_DeliversEnqueuedJob(t *testing.T) {
	t.Log("Dispatcher opens the depot; a courier should deliver the parcel and file it away")

	ctx := context.Background()
	conn := pftest.CreateTestDB(t)
	pool := NewWorkerPool(ctx, conn, testPoolConfig(), testLogger())

	var delivered atomic.Int32
	pool.Registry().Register(HandlerFunc{HandlerName: "deliver", Fn: func(ctx context.Context, job *Job) error {
		delivered.Add(1)
		return nil
	}})

	pool.Start()
	defer pool.Stop()

	job, err := NewJob("deliver", 3, time.Now().Add(-time.Second))
	require.NoError(t, err)
	require.NoError(t, pool.Queue().Enqueue(ctx, job))

	require.Eventually(t, func() bool { return delivered.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, err := pool.Queue().GetJob(ctx, job.ID)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond, "completed jobs are deleted")

	t.Log("✓ parcel delivered and removed from the depot")
}

func TestWorkerPool_ReleasesStaleLocksOnStart(t *testing.T) {
	t.Log("Night clerk finds parcels still signed out to this depot from before the crash")

	ctx := context.Background()
	conn := pftest.CreateTestDB(t)
	store := NewStore(conn)

	job := newStoredJob(t, store, "stale", "pi-1", time.Now().Add(time.Hour))
	require.NoError(t, store.TryLock(ctx, job.ID, "depot-1", time.Now().Add(time.Hour), time.Now()))

	pool := NewWorkerPool(ctx, conn, testPoolConfig(), testLogger())
	pool.Start()
	pool.Stop()

	got, err := store.GetJob(ctx, "stale")
	require.NoError(t, err)
	assert.Empty(t, got.LockOwner)
	assert.Equal(t, JobStatusQueued, got.Status)
}

func TestWorkerPool_RunDueWithoutFailureHandler(t *testing.T) {
	t.Log("A courier keeps failing; without a policy each failure costs one retry")

	ctx := context.Background()
	conn := pftest.CreateTestDB(t)
	pool := NewWorkerPool(ctx, conn, testPoolConfig(), testLogger()).WithClock(func() time.Time { return t0 })

	var attempts atomic.Int32
	pool.Registry().Register(HandlerFunc{HandlerName: "async-continuation", Fn: func(ctx context.Context, job *Job) error {
		attempts.Add(1)
		return fmt.Errorf("address unknown")
	}})

	newStoredJob(t, NewStore(conn), "j1", "pi-1", t0)

	ran, err := pool.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, ran)
	assert.Equal(t, int32(3), attempts.Load())

	got, err := pool.Queue().GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Retries)
	assert.Equal(t, 3, got.RetryAttempt)
	assert.Equal(t, JobStatusExhausted, got.Status)
	assert.Equal(t, "address unknown", got.ExceptionMessage)
	assert.Empty(t, got.LockOwner)

	metrics := pool.GetSystemMetrics(ctx)
	assert.Equal(t, int64(3), metrics.JobsFailed)
	assert.Equal(t, 1, metrics.JobsExhausted)
}

type recordingFailureHandler struct {
	store  *Store
	causes []string
}

func (h *recordingFailureHandler) HandleFailure(ctx context.Context, job *Job, cause error) error {
	h.causes = append(h.causes, cause.Error())
	job.Retries = 0
	job.Fail(cause)
	job.Unlock()
	return h.store.UpdateJob(ctx, job)
}

func TestWorkerPool_RunDueUsesFailureHandler(t *testing.T) {
	ctx := context.Background()
	conn := pftest.CreateTestDB(t)
	pool := NewWorkerPool(ctx, conn, testPoolConfig(), testLogger()).WithClock(func() time.Time { return t0 })

	fh := &recordingFailureHandler{store: NewStore(conn)}
	pool.SetFailureHandler(fh)
	pool.Registry().Register(HandlerFunc{HandlerName: "async-continuation", Fn: func(ctx context.Context, job *Job) error {
		return fmt.Errorf("gate closed")
	}})

	newStoredJob(t, NewStore(conn), "j1", "pi-1", t0)

	ran, err := pool.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ran)
	assert.Equal(t, []string{"gate closed"}, fh.causes)
}

func TestWorkerPool_RunDueSkipsFutureJobs(t *testing.T) {
	ctx := context.Background()
	conn := pftest.CreateTestDB(t)
	pool := NewWorkerPool(ctx, conn, testPoolConfig(), testLogger()).WithClock(func() time.Time { return t0 })
	pool.Registry().Register(HandlerFunc{HandlerName: "async-continuation", Fn: func(ctx context.Context, job *Job) error {
		return nil
	}})

	newStoredJob(t, NewStore(conn), "now", "pi-1", t0)
	newStoredJob(t, NewStore(conn), "later", "pi-1", t0.Add(time.Minute))

	ran, err := pool.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ran)

	_, err = pool.Queue().GetJob(ctx, "later")
	assert.NoError(t, err)
}

func TestWorkerPool_RunDueReleasesLocksOnAcquireError(t *testing.T) {
	t.Log("The dispatcher locks one parcel, then the depot database stalls; the locked parcel goes back on the shelf")

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	columns := []string{"id", "handler_name", "configuration", "execution_id",
		"process_instance_id", "process_definition_id", "activity_id",
		"status", "retries", "retry_attempt", "retry_intervals",
		"duedate", "lock_owner", "lock_expiration_time", "exception_message",
		"created_at", "updated_at"}
	rows := sqlmock.NewRows(columns)
	for _, id := range []string{"j1", "j2"} {
		rows.AddRow(id, "async-continuation", nil, "exec-"+id,
			"pi-1", nil, "charge",
			string(JobStatusQueued), int64(3), int64(0), nil,
			t0, nil, nil, nil,
			t0, t0)
	}

	mock.ExpectQuery("SELECT (.+) FROM jobs").WillReturnRows(rows)
	mock.ExpectExec("UPDATE jobs").WithArgs("depot-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "j1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE jobs").WithArgs("depot-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "j2", sqlmock.AnyArg()).
		WillReturnError(fmt.Errorf("disk I/O error"))
	mock.ExpectExec("UPDATE jobs").WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "j1", "depot-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	pool := NewWorkerPool(context.Background(), conn, testPoolConfig(), testLogger()).WithClock(func() time.Time { return t0 })
	var attempts atomic.Int32
	pool.Registry().Register(HandlerFunc{HandlerName: "async-continuation", Fn: func(ctx context.Context, job *Job) error {
		attempts.Add(1)
		return nil
	}})

	ran, err := pool.RunDue(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, ran)
	assert.Equal(t, int32(0), attempts.Load())
	assert.NoError(t, mock.ExpectationsWereMet(), "j1 was unlocked again")
}

func TestQueue_SubscribeReceivesSnapshots(t *testing.T) {
	ctx := context.Background()
	queue := NewQueue(pftest.CreateTestDB(t))

	ch := queue.Subscribe()
	job, err := NewJob("deliver", 1, t0)
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(ctx, job))

	select {
	case got := <-ch:
		assert.Equal(t, job.ID, got.ID)
		assert.NotSame(t, job, got)
	case <-time.After(time.Second):
		t.Fatal("subscriber was not notified")
	}

	stats, err := queue.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Queued)
	assert.Equal(t, 1, stats.Total)

	queue.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestCalculateSafeWorkerCount(t *testing.T) {
	tests := []struct {
		availableGB float64
		expected    int
	}{
		{0.5, 1},
		{1.2, 1},
		{2.0, 4},
		{9.0, 32},
		{64.0, 64},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, calculateSafeWorkerCount(tt.availableGB), "%.1fGB", tt.availableGB)
	}
}
