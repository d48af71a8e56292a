package execution

import (
	"github.com/teranos/pulseflow/errors"
)

// IncrementSequenceCounter advances the counter of one execution. Called at
// every activity start and activity end.
func (a *Arena) IncrementSequenceCounter(id string) (int64, error) {
	e, err := a.Get(id)
	if err != nil {
		return 0, err
	}
	e.SequenceCounter++
	a.touch(id)
	return e.SequenceCounter, nil
}

// JoinCounter returns a counter strictly greater than every joining branch
func (a *Arena) JoinCounter(ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, errors.New("join needs at least one branch")
	}
	var highest int64
	for _, id := range ids {
		e, err := a.Get(id)
		if err != nil {
			return 0, err
		}
		highest = max(highest, e.SequenceCounter)
	}
	return highest + 1, nil
}

// SetSequenceCounter assigns a counter. Counters never move backwards.
func (a *Arena) SetSequenceCounter(id string, counter int64) error {
	e, err := a.Get(id)
	if err != nil {
		return err
	}
	if counter < e.SequenceCounter {
		return errors.AssertionFailedf("sequence counter of %s would go backwards: %d -> %d",
			id, e.SequenceCounter, counter)
	}
	e.SequenceCounter = counter
	a.touch(id)
	return nil
}
