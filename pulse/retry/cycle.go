package retry

import (
	"strconv"
	"strings"
	"time"

	"github.com/teranos/pulseflow/errors"
)

// Cycle is a resolved retry policy. A zero Cycle is the default policy: no
// intervals, immediate re-eligibility, retries taken from the job itself.
type Cycle struct {
	// Retries the job gets on its first failure, before that failure is
	// counted
	Retries int
	// Intervals consumed positionally by successive failures; the last entry
	// repeats once the list is used up
	Intervals []time.Duration
	// Expression the cycle was parsed from
	Expression string
}

// IsDefault reports whether c carries no interval configuration
func (c Cycle) IsDefault() bool {
	return len(c.Intervals) == 0
}

// IntervalAt returns the delay for the failure at position attempt
func (c Cycle) IntervalAt(attempt int) time.Duration {
	if len(c.Intervals) == 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(c.Intervals) {
		attempt = len(c.Intervals) - 1
	}
	return c.Intervals[attempt]
}

// String returns the source expression, or "default"
func (c Cycle) String() string {
	if c.IsDefault() {
		return "default"
	}
	return c.Expression
}

// ParseCycle parses a retry cycle expression:
//
//	R5/PT5M            five retries, five minutes apart
//	PT10M              one retry after ten minutes, same as R1/PT10M
//	PT5M,PT20M,PT3M    one retry per entry, consumed in order
//
// A list of k durations yields k retries after the first failure, so jobs
// start from k+1 and run down to zero.
func ParseCycle(expression string) (Cycle, error) {
	s := strings.TrimSpace(expression)
	if s == "" {
		return Cycle{}, errors.NewInvalidRequestError("empty retry cycle")
	}

	if strings.HasPrefix(strings.ToUpper(s), "R") {
		count, duration, ok := strings.Cut(s[1:], "/")
		if !ok {
			return Cycle{}, errors.NewInvalidRequestError("retry cycle %q: missing '/' after repeat count", expression)
		}
		n, err := strconv.Atoi(count)
		if err != nil || n < 0 {
			return Cycle{}, errors.NewInvalidRequestError("retry cycle %q: repeat count must be a non-negative integer", expression)
		}
		d, err := ParseDuration(duration)
		if err != nil {
			return Cycle{}, errors.Wrapf(err, "retry cycle %q", expression)
		}
		return Cycle{Retries: n, Intervals: []time.Duration{d}, Expression: s}, nil
	}

	parts := strings.Split(s, ",")
	intervals := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := ParseDuration(p)
		if err != nil {
			return Cycle{}, errors.Wrapf(err, "retry cycle %q", expression)
		}
		intervals = append(intervals, d)
	}

	retries := len(intervals) + 1
	if len(intervals) == 1 {
		retries = 1
	}
	return Cycle{Retries: retries, Intervals: intervals, Expression: s}, nil
}
