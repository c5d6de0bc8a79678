package convdispatch

import "context"

// EventStore is the narrow view of the durable store used by the dispatcher.
type EventStore interface {
	// PendingEvents returns up to limit events eligible for dispatch, oldest first.
	PendingEvents(ctx context.Context, limit int) ([]Event, error)
	// MarkTaskQueued moves the task from pending to queued.
	// It returns false without error when the task already left pending.
	MarkTaskQueued(ctx context.Context, taskID string) (bool, error)
	// MarkEventProcessed marks the event as processed.
	MarkEventProcessed(ctx context.Context, eventID string) (bool, error)
	// MarkEventFailed records a failed dispatch attempt.
	// Unknown ids report false rather than an error.
	MarkEventFailed(ctx context.Context, eventID, message string) (bool, error)
	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error
	// Close releases the store connections.
	Close() error
}

// PendingCounter provides a total count of pending events.
type PendingCounter interface {
	// PendingCount returns the current number of pending events.
	PendingCount(ctx context.Context) (int, error)
}
