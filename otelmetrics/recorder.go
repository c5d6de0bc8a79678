// Package otelmetrics records dispatcher telemetry with OpenTelemetry instruments.
package otelmetrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/velmie/convdispatch"
)

const meterName = "github.com/velmie/convdispatch"

// Recorder implements convdispatch.Metrics.
//
// Instruments:
//   - convdispatch.cycle.duration (Float64Histogram, seconds)
//   - convdispatch.events.fetched, .processed, .failed, .malformed (Int64Counter)
//   - convdispatch.jobs.enqueued (Int64Counter) with a lane attribute
//   - convdispatch.events.pending (Int64Gauge)
type Recorder struct {
	cycleDuration metric.Float64Histogram
	fetched       metric.Int64Counter
	processed     metric.Int64Counter
	failed        metric.Int64Counter
	malformed     metric.Int64Counter
	enqueued      metric.Int64Counter
	pending       metric.Int64Gauge
}

var _ convdispatch.Metrics = (*Recorder)(nil)

// New creates a Recorder on the global MeterProvider.
func New() (*Recorder, error) {
	return NewWithMeter(otel.Meter(meterName))
}

// NewWithMeter creates a Recorder on the given meter.
func NewWithMeter(meter metric.Meter) (*Recorder, error) {
	var (
		r   Recorder
		err error
	)

	if r.cycleDuration, err = meter.Float64Histogram(
		"convdispatch.cycle.duration",
		metric.WithDescription("Duration of a dispatch cycle in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if r.fetched, err = counter(meter, "convdispatch.events.fetched", "Events fetched from the store"); err != nil {
		return nil, err
	}
	if r.processed, err = counter(meter, "convdispatch.events.processed", "Events marked processed"); err != nil {
		return nil, err
	}
	if r.failed, err = counter(meter, "convdispatch.events.failed", "Events marked failed"); err != nil {
		return nil, err
	}
	if r.malformed, err = counter(meter, "convdispatch.events.malformed", "Events with invalid payloads"); err != nil {
		return nil, err
	}
	if r.enqueued, err = meter.Int64Counter(
		"convdispatch.jobs.enqueued",
		metric.WithDescription("Jobs submitted to a queue lane"),
		metric.WithUnit("{job}"),
	); err != nil {
		return nil, err
	}
	if r.pending, err = meter.Int64Gauge(
		"convdispatch.events.pending",
		metric.WithDescription("Pending events in the store"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, err
	}

	return &r, nil
}

func counter(meter metric.Meter, name, description string) (metric.Int64Counter, error) {
	return meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit("{event}"))
}

// ObserveCycleDuration implements convdispatch.Metrics.
func (r *Recorder) ObserveCycleDuration(duration time.Duration) {
	r.cycleDuration.Record(context.Background(), duration.Seconds())
}

// AddFetched implements convdispatch.Metrics.
func (r *Recorder) AddFetched(count int) {
	add(r.fetched, count)
}

// AddProcessed implements convdispatch.Metrics.
func (r *Recorder) AddProcessed(count int) {
	add(r.processed, count)
}

// AddFailed implements convdispatch.Metrics.
func (r *Recorder) AddFailed(count int) {
	add(r.failed, count)
}

// AddMalformed implements convdispatch.Metrics.
func (r *Recorder) AddMalformed(count int) {
	add(r.malformed, count)
}

// AddEnqueued implements convdispatch.Metrics.
func (r *Recorder) AddEnqueued(lane convdispatch.Lane, count int) {
	add(r.enqueued, count, attribute.String("lane", string(lane)))
}

// SetPending implements convdispatch.Metrics.
func (r *Recorder) SetPending(count int) {
	r.pending.Record(context.Background(), int64(count))
}

func add(c metric.Int64Counter, count int, attrs ...attribute.KeyValue) {
	if count <= 0 {
		return
	}
	c.Add(context.Background(), int64(count), metric.WithAttributes(attrs...))
}
