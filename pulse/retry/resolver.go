package retry

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/pulseflow/errors"
	"github.com/teranos/pulseflow/expr"
	"github.com/teranos/pulseflow/logger"
)

// Source names where a resolved cycle came from
type Source string

const (
	SourceActivity Source = "activity"
	SourceGlobal   Source = "global"
	SourceDefault  Source = "default"
)

// ResolveInput is what the resolver needs at failure time
type ResolveInput struct {
	ActivityID string
	// ActivityCycle is the activity's configured cycle: a literal or an
	// expression such as ${retryCycle}
	ActivityCycle string
	// Scope holds the current process variables for expression evaluation
	Scope expr.VariableScope
}

// Resolver picks the retry cycle for a failed job: activity cycle, then the
// engine-wide cycle, then the default.
type Resolver struct {
	global    Cycle
	hasGlobal bool
	evaluator expr.Evaluator
	log       *zap.SugaredLogger
}

// NewResolver builds a resolver. An empty global expression means no global
// cycle; an invalid one is a configuration error.
func NewResolver(global string, evaluator expr.Evaluator, log *zap.SugaredLogger) (*Resolver, error) {
	if evaluator == nil {
		evaluator = expr.Simple{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	r := &Resolver{evaluator: evaluator, log: logger.AddPulseSymbol(log.Named("retry"))}

	if global != "" {
		c, err := ParseCycle(global)
		if err != nil {
			return nil, errors.Wrap(err, "invalid engine failed_job_retry_time_cycle")
		}
		r.global = c
		r.hasGlobal = true
	}
	return r, nil
}

// Global returns the engine-wide cycle and whether one is configured
func (r *Resolver) Global() (Cycle, bool) {
	return r.global, r.hasGlobal
}

// Resolve returns the cycle for a failure happening now. Activity expressions
// are evaluated on every call so variable changes between failures apply.
// Evaluation and parse errors are logged and fall through to the next level.
func (r *Resolver) Resolve(ctx context.Context, in ResolveInput) (Cycle, Source) {
	if in.ActivityCycle != "" {
		c, err := r.activityCycle(in)
		if err == nil {
			return c, SourceActivity
		}
		logger.FromContext(ctx, r.log).Warnw("Activity retry cycle unusable, falling back",
			logger.FieldActivityID, in.ActivityID,
			"cycle", in.ActivityCycle,
			logger.FieldError, err)
	}

	if r.hasGlobal {
		return r.global, SourceGlobal
	}
	return Cycle{}, SourceDefault
}

func (r *Resolver) activityCycle(in ResolveInput) (Cycle, error) {
	expression := in.ActivityCycle
	if expr.IsExpression(expression) {
		scope := in.Scope
		if scope == nil {
			scope = expr.MapScope{}
		}
		value, err := r.evaluator.Evaluate(expression, scope)
		if err != nil {
			return Cycle{}, errors.Wrapf(err, "evaluate %q", expression)
		}
		expression = value
	}
	return ParseCycle(expression)
}
