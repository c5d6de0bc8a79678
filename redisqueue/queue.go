package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/velmie/convdispatch"
)

// ErrClientRequired is returned when a nil Redis client is provided.
var ErrClientRequired = errors.New("convdispatch redisqueue: client is required")

// Queue submits conversion jobs to Redis.
type Queue struct {
	client redis.UniversalClient
	cfg    Config
}

var _ convdispatch.Backend = (*Queue)(nil)

// New wraps an existing client. Close closes it.
func New(client redis.UniversalClient, opts ...Option) (*Queue, error) {
	if client == nil {
		return nil, ErrClientRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Queue{client: client, cfg: cfg.withDefaults()}, nil
}

// Open connects to the server at url, e.g. "redis://localhost:6379/0".
func Open(url string, opts ...Option) (*Queue, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("convdispatch redisqueue: parse url: %w", err)
	}

	return New(redis.NewClient(redisOpts), opts...)
}

// Client returns the underlying Redis client.
func (q *Queue) Client() redis.UniversalClient {
	return q.client
}

type jobOptions struct {
	Attempts         int        `json:"attempts"`
	Backoff          jobBackoff `json:"backoff"`
	Delay            int64      `json:"delay"`
	Priority         int        `json:"priority"`
	RemoveOnComplete int        `json:"removeOnComplete"`
	RemoveOnFail     int        `json:"removeOnFail"`
	JobID            string     `json:"jobId"`
}

type jobBackoff struct {
	Type  string `json:"type"`
	Delay int64  `json:"delay"`
}

// Add writes the job hash and schedules it in one MULTI/EXEC transaction.
func (q *Queue) Add(ctx context.Context, lane convdispatch.Lane, job convdispatch.Job, opts convdispatch.JobOptions) (string, error) {
	id, err := q.cfg.Generator()
	if err != nil {
		return "", fmt.Errorf("convdispatch redisqueue: generate job id: %w", err)
	}
	jobID := id.String()

	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("convdispatch redisqueue: encode job: %w", err)
	}
	delay := opts.Delay.Milliseconds()
	encodedOpts, err := json.Marshal(jobOptions{
		Attempts: opts.Attempts,
		Backoff: jobBackoff{
			Type:  opts.Backoff.Type,
			Delay: opts.Backoff.Delay.Milliseconds(),
		},
		Delay:            delay,
		Priority:         opts.Priority,
		RemoveOnComplete: opts.RemoveOnComplete,
		RemoveOnFail:     opts.RemoveOnFail,
		JobID:            jobID,
	})
	if err != nil {
		return "", fmt.Errorf("convdispatch redisqueue: encode job options: %w", err)
	}

	now := q.cfg.Clock.Now().UnixMilli()
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.key(lane, jobID),
			"name", q.cfg.JobName,
			"data", string(data),
			"opts", string(encodedOpts),
			"timestamp", strconv.FormatInt(now, 10),
			"delay", strconv.FormatInt(delay, 10),
			"priority", strconv.Itoa(opts.Priority),
			"attemptsMade", "0",
		)
		if delay > 0 {
			pipe.ZAdd(ctx, q.key(lane, "delayed"), redis.Z{Score: float64(now + delay), Member: jobID})
		} else {
			pipe.RPush(ctx, q.key(lane, "wait"), jobID)
		}

		return nil
	})
	if err != nil {
		return "", fmt.Errorf("convdispatch redisqueue: add job to %s: %w", lane, err)
	}

	return jobID, nil
}

// Ping verifies the Redis connection is alive.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("convdispatch redisqueue: ping: %w", err)
	}

	return nil
}

// Close closes the Redis client.
func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) key(lane convdispatch.Lane, suffix string) string {
	return q.cfg.Prefix + ":" + string(lane) + ":" + suffix
}
