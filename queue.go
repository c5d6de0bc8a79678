package convdispatch

import "context"

// Backend is a distributed job queue.
// Retry execution and job history are owned by the backend.
type Backend interface {
	// Add submits a job to the lane with the given options and returns its id.
	Add(ctx context.Context, lane Lane, job Job, opts JobOptions) (string, error)
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases the backend connection.
	Close() error
}

// Enqueuer submits a job to a lane chosen by its implementation.
type Enqueuer interface {
	// Enqueue classifies and submits a single job.
	Enqueue(ctx context.Context, job Job) (Placement, error)
}

// EnqueuerFunc adapts a function to Enqueuer.
type EnqueuerFunc func(ctx context.Context, job Job) (Placement, error)

// Enqueue implements Enqueuer.
func (fn EnqueuerFunc) Enqueue(ctx context.Context, job Job) (Placement, error) {
	return fn(ctx, job)
}
