package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings.
const (
	// Engine identity
	FieldProcessInstanceID   = "process_instance_id"
	FieldProcessDefinitionID = "process_definition_id"
	FieldExecutionID         = "execution_id"
	FieldActivityID          = "activity_id"
	FieldActivityType        = "activity_type"
	FieldSequenceCounter     = "sequence_counter"

	// Jobs
	FieldJobID        = "job_id"
	FieldHandler      = "handler"
	FieldRetries      = "retries"
	FieldDuedate      = "duedate"
	FieldLockOwner    = "lock_owner"
	FieldRetryAttempt = "retry_attempt"
	FieldIncidentID   = "incident_id"

	// Components
	FieldComponent = "component"
	FieldWorkerID  = "worker_id"

	// Operations
	FieldOperation  = "operation"
	FieldDurationMS = "duration_ms"
	FieldCount      = "count"

	// Errors
	FieldError = "error"

	// Glyph prefix, see package sym
	FieldSymbol = "symbol"
)

// Context keys for propagating logging context
type contextKey string

const (
	jobIDKey             contextKey = "logger_job_id"
	processInstanceIDKey contextKey = "logger_process_instance_id"
	componentKey         contextKey = "logger_component"
)

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithProcessInstanceID adds a process instance ID to the context for logging
func WithProcessInstanceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, processInstanceIDKey, id)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if piID, ok := ctx.Value(processInstanceIDKey).(string); ok && piID != "" {
		fields = append(fields, FieldProcessInstanceID, piID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// FromContext decorates base with the fields carried by ctx.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named child of the global logger.
// This is the preferred way to get a logger for dependency injection:
//
//	pool := async.NewWorkerPool(db, cfg, executor, logger.ComponentLogger("pulse"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
