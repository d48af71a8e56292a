package async

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/teranos/pulseflow/errors"
)

const (
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100
)

// Queue fronts the job store for callers outside a command transaction and
// fans job updates out to subscribers.
type Queue struct {
	store       *Store
	mu          sync.RWMutex
	subscribers []chan *Job // Channels to notify of job updates
}

// NewQueue creates a new job queue
func NewQueue(db *sql.DB) *Queue {
	return &Queue{
		store:       NewStore(db),
		subscribers: make([]chan *Job, 0),
	}
}

// Store returns the underlying job store
func (q *Queue) Store() *Store {
	return q.store
}

// Enqueue adds a new job to the queue
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	if err := q.store.CreateJob(ctx, job); err != nil {
		err = errors.Wrap(err, "failed to enqueue job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
		return err
	}

	q.Notify(job)
	return nil
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	return q.store.GetJob(ctx, id)
}

// UpdateJob updates a job's state
func (q *Queue) UpdateJob(ctx context.Context, job *Job) error {
	if err := q.store.UpdateJob(ctx, job); err != nil {
		err = errors.Wrap(err, "failed to update job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Status: %s", job.Status))
		return err
	}

	q.Notify(job)
	return nil
}

// QueueStats returns statistics about the queue
type QueueStats struct {
	Queued    int `json:"queued"`
	Locked    int `json:"locked"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
	Total     int `json:"total"`
}

// GetStats returns queue statistics
func (q *Queue) GetStats(ctx context.Context) (*QueueStats, error) {
	counts, err := q.store.CountJobs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get queue stats")
	}

	stats := &QueueStats{
		Queued:    counts[JobStatusQueued],
		Locked:    counts[JobStatusLocked],
		Failed:    counts[JobStatusFailed],
		Exhausted: counts[JobStatusExhausted],
	}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}

// Subscribe returns a channel that receives a snapshot of every job update.
// Slow subscribers miss updates rather than block the queue.
func (q *Queue) Subscribe() <-chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes a subscriber channel
func (q *Queue) Unsubscribe(ch <-chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// Notify publishes a job update. Commands that create jobs inside their own
// transaction call this after commit.
func (q *Queue) Notify(job *Job) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, ch := range q.subscribers {
		select {
		case ch <- job.Snapshot():
		default:
			// Channel full, skip
		}
	}
}
