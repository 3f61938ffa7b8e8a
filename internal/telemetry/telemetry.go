// Package telemetry provides OpenTelemetry instrumentation for nightshift.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/nightshift/internal/config"
	"github.com/yairfalse/nightshift/pkg/resource"
)

const instrumentationName = "nightshift"

// Provider wraps OTEL tracer and meter providers.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	// Metrics
	regionDuration metric.Float64Histogram
	resourcesIdled metric.Int64Counter
	kindErrors     metric.Int64Counter
	regionErrors   metric.Int64Counter
}

type options struct {
	readers    []sdkmetric.Reader
	registerer promclient.Registerer
}

// Option customizes a Provider.
type Option func(*options)

// WithReader adds a metric reader, e.g. a manual reader in tests.
func WithReader(r sdkmetric.Reader) Option {
	return func(o *options) {
		o.readers = append(o.readers, r)
	}
}

// WithPrometheus exposes every metric on reg for scraping.
func WithPrometheus(reg promclient.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// NewProvider creates a new telemetry provider and installs it globally.
func NewProvider(ctx context.Context, cfg config.OTELConfig, opts ...Option) (*Provider, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	res, err := sdkresource.New(ctx,
		sdkresource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{}

	if err := p.setupTracing(ctx, cfg, res); err != nil {
		return nil, err
	}

	if err := p.setupMetrics(ctx, cfg, res, o); err != nil {
		if p.tracerProvider != nil {
			_ = p.tracerProvider.Shutdown(ctx)
		}
		return nil, err
	}

	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(ctx context.Context, cfg config.OTELConfig, res *sdkresource.Resource) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}

	if cfg.Traces.Enabled && cfg.Endpoint != "" {
		exp, err := createTraceExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate))
		opts = append(opts, sdktrace.WithBatcher(exp), sdktrace.WithSampler(sampler))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)
	p.tracer = p.tracerProvider.Tracer(instrumentationName)

	return nil
}

func (p *Provider) setupMetrics(ctx context.Context, cfg config.OTELConfig, res *sdkresource.Resource, o options) error {
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
	}

	if cfg.Metrics.Enabled && cfg.Endpoint != "" {
		exp, err := createMetricExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}

	if o.registerer != nil {
		exp, err := prometheus.New(prometheus.WithRegisterer(o.registerer))
		if err != nil {
			return fmt.Errorf("create prometheus exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(exp))
	}

	for _, r := range o.readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter(instrumentationName)

	return nil
}

func createTraceExporter(ctx context.Context, cfg config.OTELConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func createMetricExporter(ctx context.Context, cfg config.OTELConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func (p *Provider) initMetrics() error {
	var err error

	p.regionDuration, err = p.meter.Float64Histogram(
		"nightshift_region_duration_seconds",
		metric.WithDescription("Duration of one region's run"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create region_duration: %w", err)
	}

	p.resourcesIdled, err = p.meter.Int64Counter(
		"nightshift_resources_idled_total",
		metric.WithDescription("Resources stopped or scaled down"),
	)
	if err != nil {
		return fmt.Errorf("create resources_idled: %w", err)
	}

	p.kindErrors, err = p.meter.Int64Counter(
		"nightshift_kind_errors_total",
		metric.WithDescription("Resource kinds that could not be listed"),
	)
	if err != nil {
		return fmt.Errorf("create kind_errors: %w", err)
	}

	p.regionErrors, err = p.meter.Int64Counter(
		"nightshift_region_errors_total",
		metric.WithDescription("Regions that failed as a whole"),
	)
	if err != nil {
		return fmt.Errorf("create region_errors: %w", err)
	}

	return nil
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// StartSpan starts a new span.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name)
}

// RecordRegion records the outcome of one region.
func (p *Provider) RecordRegion(ctx context.Context, res *resource.ActionResult) {
	regionAttr := attribute.String("region", res.Region)
	dryRunAttr := attribute.Bool("dry_run", res.DryRun)

	p.regionDuration.Record(ctx, res.Duration.Seconds(), metric.WithAttributes(regionAttr, dryRunAttr))

	if res.Err != nil {
		p.regionErrors.Add(ctx, 1, metric.WithAttributes(regionAttr))
		return
	}

	for _, kind := range resource.AllKinds {
		kr := res.Kind(kind)
		kindAttr := attribute.String("kind", string(kind))
		if kr.Err != nil {
			p.kindErrors.Add(ctx, 1, metric.WithAttributes(regionAttr, kindAttr))
			continue
		}
		if len(kr.IDs) > 0 {
			p.resourcesIdled.Add(ctx, int64(len(kr.IDs)), metric.WithAttributes(regionAttr, kindAttr, dryRunAttr))
		}
	}
}

// ForceFlush exports everything buffered so far without shutting down.
func (p *Provider) ForceFlush(ctx context.Context) error {
	var errs []error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush tracer: %w", err))
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush meter: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown flushes and shuts down the providers. Both are always shut down.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ShutdownWithTimeout is Shutdown bounded by d on a fresh context.
func (p *Provider) ShutdownWithTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return p.Shutdown(ctx)
}
