package engine

import (
	"fmt"

	"github.com/teranos/pulseflow/errors"
)

// ActivityEvaluationError reports a behavior that failed while executing or
// signalling an activity. The command that raised it is rolled back.
type ActivityEvaluationError struct {
	ActivityID  string
	ExecutionID string
	Cause       error
}

func (e *ActivityEvaluationError) Error() string {
	return fmt.Sprintf("activity %s failed on execution %s: %v", e.ActivityID, e.ExecutionID, e.Cause)
}

func (e *ActivityEvaluationError) Unwrap() error {
	return e.Cause
}

// Is matches errors.ErrActivityEvaluation
func (e *ActivityEvaluationError) Is(target error) bool {
	return target == errors.ErrActivityEvaluation
}

// activityFailed wraps a behavior error once; nested activities that already
// failed keep their own activity id.
func activityFailed(activityID, executionID string, err error) error {
	if err == nil || errors.Is(err, errors.ErrActivityEvaluation) {
		return err
	}
	return &ActivityEvaluationError{ActivityID: activityID, ExecutionID: executionID, Cause: err}
}

// errInstanceGone marks commands whose process instance no longer exists
var errInstanceGone = errors.New("process instance no longer exists")

func lockLost(jobID, owner string) error {
	err := errors.Newf("job %s is no longer locked by %s", jobID, owner)
	return errors.Mark(err, errors.ErrLockConflict)
}
