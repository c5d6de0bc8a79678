package redisqueue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/velmie/convdispatch"
)

// Counts is a snapshot of the jobs in one lane.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Counts reads the lane's list and set sizes in one pipeline.
func (q *Queue) Counts(ctx context.Context, lane convdispatch.Lane) (Counts, error) {
	var waiting, active, delayed, completed, failed *redis.IntCmd
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.LLen(ctx, q.key(lane, "wait"))
		active = pipe.LLen(ctx, q.key(lane, "active"))
		delayed = pipe.ZCard(ctx, q.key(lane, "delayed"))
		completed = pipe.ZCard(ctx, q.key(lane, "completed"))
		failed = pipe.ZCard(ctx, q.key(lane, "failed"))

		return nil
	})
	if err != nil {
		return Counts{}, fmt.Errorf("convdispatch redisqueue: counts for %s: %w", lane, err)
	}

	return Counts{
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}
