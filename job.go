package convdispatch

import (
	"math"
	"time"
)

// Lane names a processing queue with its own retry and scheduling policy.
type Lane string

const (
	// LaneLight receives jobs whose size is at or below the router threshold.
	LaneLight Lane = "light"
	// LaneHeavy receives jobs above the router threshold.
	LaneHeavy Lane = "heavy"
)

// String implements fmt.Stringer.
func (l Lane) String() string {
	return string(l)
}

// Job is the payload submitted to the queue backend.
// Consumers must treat TaskID as an idempotency key: the same task may be
// delivered more than once.
type Job struct {
	TaskID    string     `json:"id"`
	Format    string     `json:"format"`
	InputPath string     `json:"input_path"`
	MIMEType  string     `json:"mimetype"`
	FileSize  int64      `json:"file_size"`
	Status    TaskStatus `json:"status"`
	Priority  *int       `json:"priority,omitempty"`
}

// BackoffExponential is the only backoff type produced by the router.
const BackoffExponential = "exponential"

// Backoff describes the retry delay policy the backend applies between attempts.
type Backoff struct {
	Type  string        `json:"type"`
	Delay time.Duration `json:"-"`
}

// DelayFor returns the wait before the given retry (1-indexed) for exponential backoff.
// The result saturates at the largest time.Duration instead of overflowing.
func (b Backoff) DelayFor(retry int) time.Duration {
	if retry < 1 || b.Delay <= 0 {
		return 0
	}

	d := b.Delay
	for i := 1; i < retry; i++ {
		if d > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}
		d *= 2
	}

	return d
}

// JobOptions is the execution policy the router attaches to a job.
type JobOptions struct {
	Lane             Lane
	Priority         int
	Attempts         int
	Backoff          Backoff
	Delay            time.Duration
	RemoveOnComplete int
	RemoveOnFail     int
}

// Placement reports where a job was submitted.
type Placement struct {
	JobID   string
	Options JobOptions
}
