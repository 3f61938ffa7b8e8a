package emitter

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/nightshift/pkg/resource"
)

// MetricsEmitter records run-level outcomes as OTEL metrics.
type MetricsEmitter struct {
	meter metric.Meter

	runsTotal      metric.Int64Counter
	runDuration    metric.Float64Histogram
	actedTotal     metric.Int64Counter
	skippedRegions metric.Int64Counter
	lastRun        metric.Float64ObservableGauge

	// State for observable gauge
	mu       sync.RWMutex
	lastSeen *resource.Report
}

// NewMetricsEmitter creates a metrics emitter. A nil meter uses the global provider.
func NewMetricsEmitter(meter metric.Meter) (*MetricsEmitter, error) {
	if meter == nil {
		meter = otel.Meter("nightshift")
	}

	e := &MetricsEmitter{meter: meter}
	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return e, nil
}

func (e *MetricsEmitter) initMetrics() error {
	var err error

	e.runsTotal, err = e.meter.Int64Counter(
		"nightshift_runs_total",
		metric.WithDescription("Total idling runs by outcome"),
	)
	if err != nil {
		return fmt.Errorf("create runs counter: %w", err)
	}

	e.runDuration, err = e.meter.Float64Histogram(
		"nightshift_run_duration_seconds",
		metric.WithDescription("Wall time of an idling run"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create run_duration histogram: %w", err)
	}

	e.actedTotal, err = e.meter.Int64Counter(
		"nightshift_run_resources_total",
		metric.WithDescription("Resources reported per run, by kind"),
	)
	if err != nil {
		return fmt.Errorf("create run_resources counter: %w", err)
	}

	e.skippedRegions, err = e.meter.Int64Counter(
		"nightshift_skipped_regions_total",
		metric.WithDescription("Denylisted regions skipped across runs"),
	)
	if err != nil {
		return fmt.Errorf("create skipped_regions counter: %w", err)
	}

	e.lastRun, err = e.meter.Float64ObservableGauge(
		"nightshift_last_run_timestamp_seconds",
		metric.WithDescription("Start time of the last reported run"),
		metric.WithUnit("s"),
		metric.WithFloat64Callback(e.observeLastRun),
	)
	if err != nil {
		return fmt.Errorf("create last_run gauge: %w", err)
	}

	return nil
}

// Emit records the report.
func (e *MetricsEmitter) Emit(ctx context.Context, rep *resource.Report) error {
	dryRun := attribute.Bool("dry_run", rep.DryRun)

	e.runsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", runOutcome(rep)),
		dryRun,
	))

	if rep.Failed() {
		return nil
	}

	e.runDuration.Record(ctx, rep.Duration.Seconds(), metric.WithAttributes(dryRun))
	for kind, n := range rep.Totals() {
		e.actedTotal.Add(ctx, int64(n), metric.WithAttributes(
			attribute.String("kind", string(kind)),
			dryRun,
		))
	}
	e.skippedRegions.Add(ctx, int64(len(rep.Skipped)))

	e.mu.Lock()
	e.lastSeen = rep
	e.mu.Unlock()

	return nil
}

// runOutcome is "failed" when the run could not complete, "partial" when a
// region or kind failed and "ok" otherwise.
func runOutcome(rep *resource.Report) string {
	if rep.Failed() {
		return "failed"
	}
	for _, res := range rep.Regions {
		if res.Err != nil || len(res.Errors()) > 0 {
			return "partial"
		}
	}
	return "ok"
}

func (e *MetricsEmitter) observeLastRun(_ context.Context, o metric.Float64Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.lastSeen == nil {
		return nil
	}
	o.Observe(float64(e.lastSeen.StartedAt.UnixNano())/1e9,
		metric.WithAttributes(attribute.Bool("dry_run", e.lastSeen.DryRun)))
	return nil
}

// Close is a no-op for the metrics emitter.
func (e *MetricsEmitter) Close() error {
	return nil
}
