// Package engine runs process instances.
//
// Every public operation is a command: it takes the process instance lock,
// opens one transaction, loads the execution arena, walks tokens through the
// process graph and flushes the arena before commit. Async continuations are
// jobs executed by the pulse worker pool, which calls back into ExecuteJob and
// HandleFailure.
package engine

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/pulseflow/am"
	"github.com/teranos/pulseflow/errors"
	"github.com/teranos/pulseflow/expr"
	"github.com/teranos/pulseflow/logger"
	"github.com/teranos/pulseflow/process"
	"github.com/teranos/pulseflow/pulse/async"
	"github.com/teranos/pulseflow/pulse/retry"
)

// ContinuationHandlerName is the handler name of async continuation jobs
const ContinuationHandlerName = "async-continuation"

// Config configures an engine
type Config struct {
	// DefaultJobRetries is the retry count new continuation jobs start with
	DefaultJobRetries int

	// FailedJobRetryTimeCycle is the engine-wide retry cycle, empty for none
	FailedJobRetryTimeCycle string

	Pool async.WorkerPoolConfig

	// Clock and NewID are overridable for tests
	Clock func() time.Time
	NewID func() string
}

// ConfigFromAM maps the runtime configuration onto an engine config
func ConfigFromAM(cfg *am.Config) Config {
	return Config{
		DefaultJobRetries:       cfg.Engine.DefaultJobRetries,
		FailedJobRetryTimeCycle: cfg.Engine.FailedJobRetryTimeCycle,
		Pool:                    async.WorkerPoolConfigFromAM(cfg.Pulse),
	}
}

// Option customizes an engine at construction
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(log *zap.SugaredLogger) Option {
	return func(e *Engine) {
		e.logger = log
	}
}

// WithEvaluator replaces the built-in expression evaluator
func WithEvaluator(ev expr.Evaluator) Option {
	return func(e *Engine) {
		e.evaluator = ev
	}
}

// Engine owns the behavior table, the service handlers and the stores of one
// runtime. Register behaviors and handlers, then call Build once.
type Engine struct {
	cfg       Config
	db        *sql.DB
	registry  *process.Registry
	evaluator expr.Evaluator
	logger    *zap.SugaredLogger
	engineLog *zap.SugaredLogger

	mu        sync.RWMutex
	built     bool
	behaviors map[string]Behavior
	services  map[string]ServiceHandler
	listeners []Listener

	resolver *retry.Resolver
	queue    *async.Queue
	pool     *async.WorkerPool
	locks    *instanceLocks
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates an unbuilt engine over sqlDB with the built-in behaviors registered
func New(sqlDB *sql.DB, registry *process.Registry, cfg Config, opts ...Option) *Engine {
	if cfg.DefaultJobRetries <= 0 {
		cfg.DefaultJobRetries = am.DefaultJobRetries
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	e := &Engine{
		cfg:       cfg,
		db:        sqlDB,
		registry:  registry,
		evaluator: expr.Simple{},
		logger:    zap.NewNop().Sugar(),
		behaviors: make(map[string]Behavior),
		services:  make(map[string]ServiceHandler),
		locks:     newInstanceLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.engineLog = logger.AddEngineSymbol(e.logger.Named("engine"))

	for activityType, b := range builtinBehaviors(e) {
		e.behaviors[activityType] = b
	}
	return e
}

// RegisterBehavior installs or replaces the behavior for an activity type
func (e *Engine) RegisterBehavior(activityType string, b Behavior) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.built {
		return errors.Newf("cannot register behavior %s after Build", activityType)
	}
	e.behaviors[activityType] = b
	return nil
}

// RegisterServiceHandler binds a service task handler name
func (e *Engine) RegisterServiceHandler(name string, h ServiceHandler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.built {
		return errors.Newf("cannot register service handler %s after Build", name)
	}
	if _, exists := e.services[name]; exists {
		return errors.Mark(errors.Newf("service handler %s already registered", name), errors.ErrConflict)
	}
	e.services[name] = h
	return nil
}

// Listen adds an activity event listener
func (e *Engine) Listen(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

// Build validates the configuration and wires the retry resolver, the job
// queue and the worker pool. The pool is not started.
func (e *Engine) Build(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.built {
		return errors.New("engine already built")
	}

	resolver, err := retry.NewResolver(e.cfg.FailedJobRetryTimeCycle, e.evaluator, e.logger)
	if err != nil {
		return err
	}

	e.ctx, e.cancel = context.WithCancel(ctx)
	e.resolver = resolver
	e.queue = async.NewQueue(e.db)
	e.queue.Store().WithClock(e.cfg.Clock)

	handlers := async.NewHandlerRegistry()
	handlers.Register(continuationHandler{engine: e})

	e.pool = async.NewWorkerPoolWithRegistry(e.ctx, e.queue, e.cfg.Pool, e.logger, handlers)
	e.pool.WithClock(e.cfg.Clock)
	e.pool.SetFailureHandler(e)

	e.built = true
	e.engineLog.Infow("Engine built",
		"behaviors", len(e.behaviors),
		"service_handlers", len(e.services),
		"global_retry_cycle", e.cfg.FailedJobRetryTimeCycle,
		"default_job_retries", e.cfg.DefaultJobRetries)
	return nil
}

// Start starts the worker pool
func (e *Engine) Start() error {
	if err := e.requireBuilt(); err != nil {
		return err
	}
	e.pool.Start()
	return nil
}

// Shutdown stops the worker pool and waits for running jobs
func (e *Engine) Shutdown() {
	e.mu.RLock()
	built := e.built
	e.mu.RUnlock()
	if !built {
		return
	}
	e.pool.Stop()
	e.cancel()
	e.engineLog.Infow("Engine shut down")
}

// RunDueJobs executes every job due now on the calling goroutine
func (e *Engine) RunDueJobs(ctx context.Context) (int, error) {
	if err := e.requireBuilt(); err != nil {
		return 0, err
	}
	return e.pool.RunDue(ctx)
}

// Pool returns the worker pool; nil before Build
func (e *Engine) Pool() *async.WorkerPool {
	return e.pool
}

// Queue returns the job queue; nil before Build
func (e *Engine) Queue() *async.Queue {
	return e.queue
}

// Registry returns the definition registry
func (e *Engine) Registry() *process.Registry {
	return e.registry
}

func (e *Engine) requireBuilt() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.built {
		return errors.New("engine not built")
	}
	return nil
}

func (e *Engine) behavior(activityType string) (Behavior, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.behaviors[activityType]
	return b, ok
}

func (e *Engine) service(name string) (ServiceHandler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.services[name]
	return h, ok
}

func (e *Engine) publish(events []ActivityEvent) {
	e.mu.RLock()
	listeners := append([]Listener(nil), e.listeners...)
	e.mu.RUnlock()

	for _, ev := range events {
		for _, l := range listeners {
			l(ev)
		}
	}
}

var _ async.FailureHandler = (*Engine)(nil)
