package async

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/pulseflow/am"
	"github.com/teranos/pulseflow/db"
	"github.com/teranos/pulseflow/errors"
	"github.com/teranos/pulseflow/logger"
)

// pulseLogger wraps zap.SugaredLogger with special methods for Pulse operations
// Uses different log levels to create visual distinction:
// - DEBUG level → STARTING (✿ Opening operations)
// - WARN level → CLOSING (❀ Closing operations)
// - INFO level → PULSE (general worker operations)
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	logger.AddPulseOpenSymbol(l.SugaredLogger).Debugw(msg, keysAndValues...)
}

// Closing logs a Closing (❀) event
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	logger.AddPulseCloseSymbol(l.SugaredLogger).Warnw(msg, keysAndValues...)
}

// Pulse logs general Pulse/worker operations
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	logger.AddPulseSymbol(l.SugaredLogger).Infow(msg, keysAndValues...)
}

// FailureHandler decides what happens to a job whose handler returned an
// error: reschedule with fewer retries, or raise an incident. It must also
// release the lock.
type FailureHandler interface {
	HandleFailure(ctx context.Context, job *Job, cause error) error
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers                int           `json:"workers"`                   // Number of concurrent workers
	PollInterval           time.Duration `json:"poll_interval"`             // How often to run an acquisition cycle
	MaxJobsPerAcquisition  int           `json:"max_jobs_per_acquisition"`  // Jobs locked per cycle
	LockDuration           time.Duration `json:"lock_duration"`             // Lock lifetime
	LockOwner              string        `json:"lock_owner"`                // This node's lock owner id
	MaxExecutionsPerSecond int           `json:"max_executions_per_second"` // 0 = unlimited
	StopTimeout            time.Duration `json:"stop_timeout"`              // How long Stop waits for running jobs
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:               am.DefaultWorkers,
		PollInterval:          time.Duration(am.DefaultPollIntervalMS) * time.Millisecond,
		MaxJobsPerAcquisition: am.DefaultMaxJobsPerAcquisition,
		LockDuration:          time.Duration(am.DefaultLockDurationSeconds) * time.Second,
		LockOwner:             am.DefaultLockOwner(),
		StopTimeout:           30 * time.Second,
	}
}

// WorkerPoolConfigFromAM maps the [pulse] config section onto a pool config
func WorkerPoolConfigFromAM(cfg am.PulseConfig) WorkerPoolConfig {
	poolCfg := DefaultWorkerPoolConfig()
	if cfg.Workers > 0 {
		poolCfg.Workers = cfg.Workers
	}
	if cfg.PollIntervalMS > 0 {
		poolCfg.PollInterval = cfg.PollInterval()
	}
	if cfg.MaxJobsPerAcquisition > 0 {
		poolCfg.MaxJobsPerAcquisition = cfg.MaxJobsPerAcquisition
	}
	if cfg.LockDurationSeconds > 0 {
		poolCfg.LockDuration = cfg.LockDuration()
	}
	if cfg.LockOwner != "" {
		poolCfg.LockOwner = cfg.LockOwner
	}
	poolCfg.MaxExecutionsPerSecond = cfg.MaxExecutionsPerSecond
	return poolCfg
}

// WorkerPool acquires due jobs on a poll interval and runs them on a fixed
// number of workers
type WorkerPool struct {
	queue          *Queue
	acquirer       *Acquirer
	executor       JobExecutor
	registry       *HandlerRegistry
	failureHandler FailureHandler
	limiter        *rate.Limiter // nil = unlimited
	poolConfig     WorkerPoolConfig
	workers        int
	now            func() time.Time
	parentCtx      context.Context
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	jobs           chan *Job
	wake           <-chan *Job
	logger         pulseLogger
	mu             sync.Mutex
	started        bool
	activeWorkers  int
	jobsProcessed  int64
	jobsFailed     int64
}

// NewWorkerPool creates a worker pool with an empty handler registry.
// Callers must register handlers before calling Start().
func NewWorkerPool(ctx context.Context, sqlDB *sql.DB, poolCfg WorkerPoolConfig, log *zap.SugaredLogger) *WorkerPool {
	return NewWorkerPoolWithRegistry(ctx, NewQueue(sqlDB), poolCfg, log, NewHandlerRegistry())
}

// NewWorkerPoolWithRegistry creates a worker pool around an existing queue and
// handler registry.
func NewWorkerPoolWithRegistry(ctx context.Context, queue *Queue, poolCfg WorkerPoolConfig, log *zap.SugaredLogger, registry *HandlerRegistry) *WorkerPool {
	if poolCfg.Workers <= 0 {
		poolCfg.Workers = 1
	}
	if poolCfg.PollInterval <= 0 {
		poolCfg.PollInterval = time.Second
	}
	if poolCfg.StopTimeout <= 0 {
		poolCfg.StopTimeout = 30 * time.Second
	}
	if poolCfg.LockOwner == "" {
		poolCfg.LockOwner = am.DefaultLockOwner()
	}

	workerCtx, cancel := context.WithCancel(ctx)
	pLogger := pulseLogger{log.Named("pulse")}

	var limiter *rate.Limiter
	if poolCfg.MaxExecutionsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(poolCfg.MaxExecutionsPerSecond), poolCfg.MaxExecutionsPerSecond)
	}

	return &WorkerPool{
		queue:      queue,
		acquirer:   NewAcquirer(queue.Store(), poolCfg.LockOwner, poolCfg.LockDuration, poolCfg.MaxJobsPerAcquisition, log),
		executor:   NewRegistryExecutor(registry, nil),
		registry:   registry,
		limiter:    limiter,
		poolConfig: poolCfg,
		workers:    poolCfg.Workers,
		now:        time.Now,
		parentCtx:  ctx,
		ctx:        workerCtx,
		cancel:     cancel,
		logger:     pLogger,
	}
}

// SetFailureHandler installs the policy applied to failed jobs. Without one,
// a failure simply decrements retries and reschedules immediately.
func (wp *WorkerPool) SetFailureHandler(h FailureHandler) {
	wp.failureHandler = h
}

// WithClock overrides the time source used for acquisition
func (wp *WorkerPool) WithClock(now func() time.Time) *WorkerPool {
	wp.now = now
	return wp
}

// Start releases stale locks left by this owner, then starts the acquisition
// loop and the workers.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	if wp.started {
		wp.mu.Unlock()
		return
	}

	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		wp.logger.Starting("Recreated worker context after previous shutdown")
	default:
	}

	wp.started = true
	wp.jobs = make(chan *Job, wp.poolConfig.MaxJobsPerAcquisition+wp.workers)
	wp.wake = wp.queue.Subscribe()
	wp.mu.Unlock()

	if n, err := wp.queue.Store().ReleaseLocksOwnedBy(wp.ctx, wp.acquirer.Owner()); err != nil {
		wp.logger.Warnw("Failed to release stale locks", logger.FieldError, err)
	} else if n > 0 {
		wp.logger.Starting("Released stale locks from previous run",
			logger.FieldCount, n,
			logger.FieldLockOwner, wp.acquirer.Owner())
	}

	if warning := wp.checkMemoryPressure(); warning != "" {
		wp.logger.Warnw("Memory pressure warning", "warning", warning, "workers", wp.workers)
	}

	wp.wg.Add(1)
	go wp.acquireLoop()

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}

	wp.logger.Pulse("Worker pool started",
		"workers", wp.workers,
		"poll_interval", wp.poolConfig.PollInterval,
		logger.FieldLockOwner, wp.acquirer.Owner())
}

// Stop cancels acquisition and waits for running jobs, bounded by StopTimeout.
// Jobs still locked when the pool exits keep their lock until it expires or
// the next Start releases it.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.started {
		wp.mu.Unlock()
		return
	}
	wp.started = false
	wake := wp.wake
	wp.mu.Unlock()

	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	timeout := wp.poolConfig.StopTimeout
	select {
	case <-done:
		wp.logger.Closing("Worker pool stopped, all workers exited cleanly")
	case <-time.After(timeout):
		wp.logger.Closing("Worker pool stop timed out, workers may still be running", "timeout", timeout)
	}
	wp.queue.Unsubscribe(wake)
}

// acquireLoop runs acquisition cycles on the poll interval, or sooner when a
// job is enqueued, and feeds locked jobs to the workers.
func (wp *WorkerPool) acquireLoop() {
	defer wp.wg.Done()
	defer close(wp.jobs)

	ticker := time.NewTicker(wp.poolConfig.PollInterval)
	defer ticker.Stop()

	errorCount := 0
	const maxConsecutiveErrors = 5
	backoffDuration := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
		case <-wp.wake:
		}

		err := wp.acquireCycle()
		if err == nil {
			if errorCount > 0 {
				wp.logger.Infow("Acquisition recovered from errors", "previous_error_count", errorCount)
			}
			errorCount = 0
			backoffDuration = time.Second
			continue
		}

		select {
		case <-wp.ctx.Done():
			return
		default:
		}
		if errors.Is(err, sql.ErrConnDone) || db.IsDatabaseClosed(err) {
			return
		}

		errorCount++
		wp.logger.Errorw("Acquisition cycle failed",
			logger.FieldError, err,
			"consecutive_errors", errorCount)

		if errorCount >= maxConsecutiveErrors {
			wp.logger.Warnw("Acquisition backing off due to consecutive errors",
				"backoff", backoffDuration,
				"consecutive_errors", errorCount)
			select {
			case <-wp.ctx.Done():
				return
			case <-time.After(backoffDuration):
			}
			backoffDuration = min(backoffDuration*2, maxBackoff)
		}
	}
}

// acquireCycle locks due jobs and hands them to workers. Jobs that cannot be
// handed over before shutdown are unlocked again.
func (wp *WorkerPool) acquireCycle() error {
	acquired, err := wp.acquirer.AcquireOnce(wp.ctx, wp.now())
	for i, job := range acquired {
		select {
		case wp.jobs <- job:
		case <-wp.ctx.Done():
			wp.releaseAll(acquired[i:])
			return nil
		}
	}
	return err
}

func (wp *WorkerPool) releaseAll(jobs []*Job) {
	for _, job := range jobs {
		if err := wp.queue.Store().Unlock(context.Background(), job.ID, job.LockOwner); err != nil {
			wp.logger.Warnw("Failed to release job lock", logger.FieldJobID, job.ID, logger.FieldError, err)
		}
	}
}

// worker executes jobs handed over by the acquisition loop
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobs {
		if wp.ctx.Err() != nil {
			wp.releaseAll([]*Job{job})
			continue
		}
		if err := wp.processJob(id, job); err != nil {
			if wp.ctx.Err() != nil || errors.Is(err, sql.ErrConnDone) || db.IsDatabaseClosed(err) {
				continue
			}
			wp.logger.Errorw("Worker error processing job",
				logger.FieldWorkerID, id,
				logger.FieldJobID, job.ID,
				logger.FieldError, err)
		}
	}
}

// processJob runs one locked job and settles its outcome
func (wp *WorkerPool) processJob(workerID int, job *Job) error {
	if wp.limiter != nil {
		if err := wp.limiter.Wait(wp.ctx); err != nil {
			wp.releaseAll([]*Job{job})
			return nil
		}
	}

	wp.mu.Lock()
	wp.activeWorkers++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	ctx := logger.WithJobID(wp.ctx, job.ID)
	if job.ProcessInstanceID != "" {
		ctx = logger.WithProcessInstanceID(ctx, job.ProcessInstanceID)
	}
	log := logger.FromContext(ctx, wp.logger.SugaredLogger)

	start := time.Now()
	err := wp.executor.Execute(ctx, job)
	if err == nil {
		wp.mu.Lock()
		wp.jobsProcessed++
		wp.mu.Unlock()

		if delErr := wp.queue.Store().DeleteJob(context.Background(), job.ID); delErr != nil {
			return errors.Wrap(delErr, "failed to delete completed job")
		}
		log.Debugw("Job completed",
			logger.FieldWorkerID, workerID,
			logger.FieldHandler, job.HandlerName,
			logger.FieldDurationMS, time.Since(start).Milliseconds())
		return nil
	}

	if wp.ctx.Err() != nil {
		wp.logger.Closing("Job interrupted by shutdown, releasing lock", logger.FieldJobID, job.ID)
		wp.releaseAll([]*Job{job})
		return nil
	}
	if errors.IsLockConflict(err) {
		log.Debugw("Job lock lost during execution, skipping", logger.FieldHandler, job.HandlerName)
		return nil
	}

	wp.mu.Lock()
	wp.jobsFailed++
	wp.mu.Unlock()

	log.Infow("Job failed",
		logger.FieldWorkerID, workerID,
		logger.FieldHandler, job.HandlerName,
		logger.FieldRetries, job.Retries,
		logger.FieldError, err)

	return wp.handleFailure(context.Background(), job, err)
}

func (wp *WorkerPool) handleFailure(ctx context.Context, job *Job, cause error) error {
	if wp.failureHandler != nil {
		return wp.failureHandler.HandleFailure(ctx, job, cause)
	}

	// No policy installed: immediate retry with one fewer attempt.
	if job.Retries > 0 {
		job.Retries--
	}
	now := wp.now().UTC()
	job.Duedate = &now
	job.RetryAttempt++
	job.Fail(cause)
	job.Unlock()
	return wp.queue.UpdateJob(ctx, job)
}

// Queue returns the job queue
func (wp *WorkerPool) Queue() *Queue {
	return wp.queue
}

// Workers returns the number of concurrent workers configured for this pool
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// Registry returns the handler registry. Register handlers before Start().
func (wp *WorkerPool) Registry() *HandlerRegistry {
	return wp.registry
}

// Acquirer returns the pool's acquirer, used by one-shot drains
func (wp *WorkerPool) Acquirer() *Acquirer {
	return wp.acquirer
}

// RunDue acquires and executes due jobs synchronously until none remain due
// at the pool's current time, returning how many ran. It does not require
// Start and is what `pulse drain` and tests use.
func (wp *WorkerPool) RunDue(ctx context.Context) (int, error) {
	ran := 0
	for {
		acquired, err := wp.acquirer.AcquireOnce(ctx, wp.now())
		if err != nil {
			wp.releaseAll(acquired)
			return ran, err
		}
		if len(acquired) == 0 {
			return ran, nil
		}
		for i, job := range acquired {
			if err := wp.runOne(ctx, job); err != nil {
				wp.releaseAll(acquired[i+1:])
				return ran, err
			}
			ran++
		}
	}
}

func (wp *WorkerPool) runOne(ctx context.Context, job *Job) error {
	err := wp.executor.Execute(logger.WithJobID(ctx, job.ID), job)
	if err == nil {
		wp.mu.Lock()
		wp.jobsProcessed++
		wp.mu.Unlock()
		return wp.queue.Store().DeleteJob(ctx, job.ID)
	}
	if errors.IsLockConflict(err) {
		return nil
	}
	wp.mu.Lock()
	wp.jobsFailed++
	wp.mu.Unlock()
	return wp.handleFailure(ctx, job, err)
}
