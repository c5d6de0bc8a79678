package convdispatch

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
)

// Router classifies jobs into lanes and submits them to the backend.
type Router struct {
	backend Backend
	cfg     RouterConfig
	tiers   []DelayTier
	logger  Logger
}

var _ Enqueuer = (*Router)(nil)

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the router logger.
func WithRouterLogger(logger Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// NewRouter constructs a Router for a validated policy.
func NewRouter(backend Backend, cfg RouterConfig, opts ...RouterOption) (*Router, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Router{
		backend: backend,
		cfg:     cfg,
		tiers:   sortedTiers(cfg.DelayTiers),
		logger:  NopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = NopLogger{}
	}

	return r, nil
}

// MustNewRouter constructs a Router or panics on an invalid policy.
func MustNewRouter(backend Backend, cfg RouterConfig, opts ...RouterOption) *Router {
	r, err := NewRouter(backend, cfg, opts...)
	if err != nil {
		panic(err)
	}

	return r
}

// Classify returns the lane for a job of the given size.
func (r *Router) Classify(size int64) Lane {
	if size <= r.cfg.Threshold {
		return LaneLight
	}

	return LaneHeavy
}

// Options returns the execution policy for the job.
func (r *Router) Options(job Job) JobOptions {
	lane := r.Classify(job.FileSize)
	policy := r.cfg.Light
	if lane == LaneHeavy {
		policy = r.cfg.Heavy
	}

	priority := policy.DefaultPriority
	if job.Priority != nil {
		priority = *job.Priority
	}

	opts := JobOptions{
		Lane:             lane,
		Priority:         priority,
		Attempts:         policy.Attempts,
		Backoff:          Backoff{Type: BackoffExponential, Delay: policy.BackoffDelay},
		RemoveOnComplete: policy.KeepCompleted,
		RemoveOnFail:     policy.KeepFailed,
	}
	if lane == LaneHeavy {
		opts.Delay = r.HeavyDelay(job.FileSize)
	}

	return opts
}

// HeavyDelay returns the initial scheduling delay of a heavy job.
// The delay never decreases as size grows.
func (r *Router) HeavyDelay(size int64) time.Duration {
	for _, tier := range r.tiers {
		if size > tier.Above {
			return tier.Delay
		}
	}

	return r.cfg.BaseDelay
}

// Enqueue submits the job to its lane. Backend errors are returned as is.
// No deduplication is performed: a task may be enqueued more than once.
func (r *Router) Enqueue(ctx context.Context, job Job) (Placement, error) {
	opts := r.Options(job)

	jobID, err := r.backend.Add(ctx, opts.Lane, job, opts)
	if err != nil {
		return Placement{}, err
	}

	r.logger.Info("job added to lane",
		"task_id", job.TaskID,
		"job_id", jobID,
		"lane", opts.Lane,
		"size", FormatSize(job.FileSize),
		"delay", opts.Delay,
		"eta", EstimateProcessingTime(job.FileSize),
	)

	return Placement{JobID: jobID, Options: opts}, nil
}

// EstimatePriority suggests a priority for a file size; smaller files rank higher.
// It is informational and never applied by the router.
func EstimatePriority(size int64) int {
	switch {
	case size <= mebibyte:
		return 15
	case size <= 10*mebibyte:
		return 10
	case size <= 50*mebibyte:
		return 7
	case size <= 200*mebibyte:
		return 5
	default:
		return 1
	}
}

// EstimateProcessingTime returns a human-readable conversion ETA for a file size.
func EstimateProcessingTime(size int64) string {
	switch {
	case size <= 10*mebibyte:
		return "30s-2m"
	case size <= 50*mebibyte:
		return "1-5m"
	case size <= 200*mebibyte:
		return "5-15m"
	case size <= 500*mebibyte:
		return "15-45m"
	default:
		return "45m+"
	}
}

// FormatSize renders a byte count with binary units, e.g. "1.5 MiB".
func FormatSize(size int64) string {
	if size < 0 {
		return "-" + humanize.IBytes(uint64(-size))
	}

	return humanize.IBytes(uint64(size))
}
