package convdispatch

import "time"

// Metrics captures dispatcher telemetry.
type Metrics interface {
	// ObserveCycleDuration records the time spent in one poll cycle.
	ObserveCycleDuration(duration time.Duration)
	// AddFetched increments the count of fetched events.
	AddFetched(count int)
	// AddProcessed increments the count of events marked processed.
	AddProcessed(count int)
	// AddFailed increments the count of events marked failed.
	AddFailed(count int)
	// AddMalformed increments the count of events with invalid payloads.
	AddMalformed(count int)
	// AddEnqueued increments the count of jobs submitted to a lane.
	AddEnqueued(lane Lane, count int)
	// SetPending updates the current pending event count.
	SetPending(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveCycleDuration implements Metrics.
func (NopMetrics) ObserveCycleDuration(time.Duration) {}

// AddFetched implements Metrics.
func (NopMetrics) AddFetched(int) {}

// AddProcessed implements Metrics.
func (NopMetrics) AddProcessed(int) {}

// AddFailed implements Metrics.
func (NopMetrics) AddFailed(int) {}

// AddMalformed implements Metrics.
func (NopMetrics) AddMalformed(int) {}

// AddEnqueued implements Metrics.
func (NopMetrics) AddEnqueued(Lane, int) {}

// SetPending implements Metrics.
func (NopMetrics) SetPending(int) {}
