package async

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pulseflow/errors"
	"github.com/teranos/pulseflow/logger"
)

// Acquirer runs acquisition cycles: find due unlocked jobs, lock each one,
// and return the jobs this owner now holds.
type Acquirer struct {
	store        *Store
	owner        string
	lockDuration time.Duration
	maxJobs      int
	pulseLog     *zap.SugaredLogger
}

// NewAcquirer creates an acquirer locking jobs as owner
func NewAcquirer(store *Store, owner string, lockDuration time.Duration, maxJobs int, log *zap.SugaredLogger) *Acquirer {
	if maxJobs <= 0 {
		maxJobs = 1
	}
	return &Acquirer{
		store:        store,
		owner:        owner,
		lockDuration: lockDuration,
		maxJobs:      maxJobs,
		pulseLog:     logger.AddPulseSymbol(log),
	}
}

// Owner returns the lock owner this acquirer writes
func (a *Acquirer) Owner() string {
	return a.owner
}

// AcquireOnce runs one acquisition cycle at now. Jobs locked by someone else
// between the query and the lock are skipped.
func (a *Acquirer) AcquireOnce(ctx context.Context, now time.Time) ([]*Job, error) {
	candidates, err := a.store.FindDueUnlockedJobs(ctx, now, a.maxJobs)
	if err != nil {
		return nil, errors.Wrap(err, "acquisition query failed")
	}

	until := now.Add(a.lockDuration)
	acquired := make([]*Job, 0, len(candidates))
	for _, job := range candidates {
		if err := a.store.TryLock(ctx, job.ID, a.owner, until, now); err != nil {
			if errors.IsLockConflict(err) {
				a.pulseLog.Debugw("Job locked elsewhere, skipping",
					logger.FieldJobID, job.ID,
					logger.FieldLockOwner, a.owner)
				continue
			}
			return acquired, err
		}
		job.Lock(a.owner, until)
		acquired = append(acquired, job)
	}

	if len(acquired) > 0 {
		a.pulseLog.Debugw("Acquired jobs",
			logger.FieldCount, len(acquired),
			logger.FieldLockOwner, a.owner)
	}
	return acquired, nil
}
