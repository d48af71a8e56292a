package async

import (
	"context"
	"fmt"
	"sync"

	"github.com/teranos/pulseflow/errors"
)

// JobHandler executes one kind of job. The engine registers its async
// continuation handler here; other packages may register their own.
type JobHandler interface {
	// Execute runs the job and returns any error encountered.
	// A nil return means the job succeeded and may be deleted.
	//
	// Context cancellation: handlers must return promptly when ctx is done.
	// The pool then releases the lock without counting a failure.
	Execute(ctx context.Context, job *Job) error

	// Name returns the handler name stored in jobs.handler_name
	Name() string
}

// JobExecutor runs a locked job
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}

// HandlerRegistry manages job handlers by name.
// Thread-safe for concurrent handler registration and lookup.
type HandlerRegistry struct {
	handlers map[string]JobHandler // Handler name -> handler
	mu       sync.RWMutex
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]JobHandler),
	}
}

// Register adds a handler using its name.
// Panics if a handler is already registered with that name.
func (r *HandlerRegistry) Register(handler JobHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handlerName := handler.Name()
	if _, exists := r.handlers[handlerName]; exists {
		panic(fmt.Sprintf("handler already registered for name: %s", handlerName))
	}
	r.handlers[handlerName] = handler
}

// Get retrieves the handler for a handler name.
// Returns nil if no handler is registered.
func (r *HandlerRegistry) Get(handlerName string) JobHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[handlerName]
}

// Has checks if a handler is registered for a name.
func (r *HandlerRegistry) Has(handlerName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[handlerName]
	return exists
}

// Names returns all registered handler names.
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// HandlerFunc adapts a function to JobHandler
type HandlerFunc struct {
	HandlerName string
	Fn          func(ctx context.Context, job *Job) error
}

// Execute calls Fn
func (h HandlerFunc) Execute(ctx context.Context, job *Job) error {
	return h.Fn(ctx, job)
}

// Name returns HandlerName
func (h HandlerFunc) Name() string {
	return h.HandlerName
}

// RegistryExecutor adapts a HandlerRegistry to the JobExecutor interface.
type RegistryExecutor struct {
	registry *HandlerRegistry
	fallback JobExecutor // Optional: for unregistered handler names
}

// NewRegistryExecutor creates an executor backed by a handler registry.
func NewRegistryExecutor(registry *HandlerRegistry, fallback JobExecutor) *RegistryExecutor {
	return &RegistryExecutor{
		registry: registry,
		fallback: fallback,
	}
}

// Execute implements JobExecutor by dispatching to registered handlers.
func (e *RegistryExecutor) Execute(ctx context.Context, job *Job) error {
	if job.HandlerName == "" {
		return errors.New("job missing handler_name")
	}

	handler := e.registry.Get(job.HandlerName)
	if handler != nil {
		return handler.Execute(ctx, job)
	}

	if e.fallback != nil {
		return e.fallback.Execute(ctx, job)
	}

	return errors.Newf("no handler registered for handler name: %s", job.HandlerName)
}
