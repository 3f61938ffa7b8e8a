package daemon

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DaemonMetrics holds scheduler metrics using OTEL semantic conventions
type DaemonMetrics struct {
	runs        metric.Int64Counter
	runDuration metric.Float64Histogram
	lastRun     metric.Int64Gauge
}

// NewDaemonMetrics creates daemon metrics on the global meter provider
func NewDaemonMetrics() (*DaemonMetrics, error) {
	return newDaemonMetrics(otel.Meter("nightshift.daemon"))
}

func newDaemonMetricsWithProvider(provider metric.MeterProvider) (*DaemonMetrics, error) {
	return newDaemonMetrics(provider.Meter("nightshift.daemon"))
}

func newDaemonMetrics(meter metric.Meter) (*DaemonMetrics, error) {
	runs, err := meter.Int64Counter(
		"nightshift.daemon.runs",
		metric.WithDescription("Number of scheduled runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"nightshift.daemon.run.duration",
		metric.WithDescription("Duration of scheduled runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	lastRun, err := meter.Int64Gauge(
		"nightshift.daemon.last_run",
		metric.WithDescription("Unix time the last scheduled run finished"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &DaemonMetrics{
		runs:        runs,
		runDuration: runDuration,
		lastRun:     lastRun,
	}, nil
}

// RecordRun records a finished run with its status (success, failure or timeout).
func (m *DaemonMetrics) RecordRun(ctx context.Context, status string, durationSeconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.runs.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, durationSeconds, attrs)
	m.lastRun.Record(ctx, time.Now().Unix(), attrs)
}
