package engine

import "time"

// EventKind classifies an ActivityEvent
type EventKind string

const (
	ProcessStarted    EventKind = "process-started"
	ProcessCompleted  EventKind = "process-completed"
	ProcessDeleted    EventKind = "process-deleted"
	ActivityStarted   EventKind = "activity-started"
	ActivityCompleted EventKind = "activity-completed"
)

// ActivityEvent is published to listeners after the command that produced it
// commits. SequenceCounter orders events of one process instance even when
// they came from concurrent tokens.
type ActivityEvent struct {
	Kind              EventKind `json:"kind"`
	ProcessInstanceID string    `json:"process_instance_id"`
	ExecutionID       string    `json:"execution_id"`
	ActivityID        string    `json:"activity_id,omitempty"`
	SequenceCounter   int64     `json:"sequence_counter"`
	Time              time.Time `json:"time"`
}

// Listener receives committed activity events. Listeners run on the
// goroutine that issued the command and must not block.
type Listener func(ActivityEvent)
