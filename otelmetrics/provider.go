package otelmetrics

import (
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Exporters understood by NewProvider.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// ProviderConfig configures the MeterProvider built by NewProvider.
type ProviderConfig struct {
	// Exporter is ExporterStdout or ExporterNone. Empty means ExporterStdout.
	Exporter string
	// Interval between exports. Zero keeps the SDK default of one minute.
	Interval time.Duration
	// Writer receives the stdout exporter's JSON. Defaults to os.Stdout.
	Writer io.Writer
}

// NewProvider builds an SDK MeterProvider with a periodic reader for the configured exporter.
// With ExporterNone instruments are recorded but never exported.
// Callers own the provider and must call Shutdown to flush the last interval.
func NewProvider(cfg ProviderConfig) (*sdkmetric.MeterProvider, error) {
	switch cfg.Exporter {
	case ExporterNone:
		return sdkmetric.NewMeterProvider(), nil
	case ExporterStdout, "":
	default:
		return nil, fmt.Errorf("otelmetrics: unknown exporter %q", cfg.Exporter)
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("otelmetrics: stdout exporter: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
	), nil
}

// NewWithProvider creates a Recorder on provider's meter for this module.
func NewWithProvider(provider metric.MeterProvider) (*Recorder, error) {
	return NewWithMeter(provider.Meter(meterName))
}
