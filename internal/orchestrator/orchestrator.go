// Package orchestrator fans a run out over regions and resource kinds.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/nightshift/internal/plugin"
	"github.com/yairfalse/nightshift/internal/region"
	"github.com/yairfalse/nightshift/pkg/resource"
)

// ErrNoFactory is returned when a coordinator has no provider factory.
var ErrNoFactory = errors.New("orchestrator: no provider factory")

// Metrics receives per-region results as they complete.
type Metrics interface {
	RecordRegion(ctx context.Context, res *resource.ActionResult)
}

// Options configures a Coordinator.
type Options struct {
	Factory plugin.Factory
	// Lister discovers enabled regions. Nil means the static catalog.
	Lister  region.Lister
	Tracer  trace.Tracer
	Metrics Metrics
	DryRun  bool
}

// Coordinator runs every selected region concurrently and aggregates the results.
// It holds no state between runs.
type Coordinator struct {
	factory plugin.Factory
	lister  region.Lister
	tracer  trace.Tracer
	metrics Metrics
	dryRun  bool

	now   func() time.Time
	newID func() string
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("nightshift")
	}
	return &Coordinator{
		factory: opts.Factory,
		lister:  opts.Lister,
		tracer:  tracer,
		metrics: opts.Metrics,
		dryRun:  opts.DryRun,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// WithDryRun returns a copy of the coordinator with dry-run set.
func (c *Coordinator) WithDryRun(dryRun bool) *Coordinator {
	cp := *c
	cp.dryRun = dryRun
	return &cp
}

// DryRun reports whether runs suppress mutations.
func (c *Coordinator) DryRun() bool {
	return c.dryRun
}

// Regions returns the region selection for prefixes without running anything.
func (c *Coordinator) Regions(ctx context.Context, prefixes []string) region.Selection {
	return region.Select(region.Resolve(ctx, c.lister), prefixes)
}

// Run idles resources in every selected region and returns the aggregate report.
// Regional failures are recorded in the report; an error means the run
// could not start at all.
func (c *Coordinator) Run(ctx context.Context, prefixes []string) (*resource.Report, error) {
	if c.factory == nil {
		return nil, ErrNoFactory
	}

	rep := &resource.Report{
		RunID:     c.newID(),
		StartedAt: c.now().UTC(),
		DryRun:    c.dryRun,
	}

	ctx, span := c.tracer.Start(ctx, "run", trace.WithAttributes(
		attribute.String("run.id", rep.RunID),
		attribute.Bool("dry_run", c.dryRun),
		attribute.StringSlice("region.prefixes", prefixes),
	))
	defer span.End()

	logger := log.With().Str("run_id", rep.RunID).Logger()
	ctx = logger.WithContext(ctx)

	sel := c.Regions(ctx, prefixes)
	rep.Skipped = sel.Denied

	logger.Info().
		Int("regions", len(sel.Selected)).
		Int("denied", len(sel.Denied)).
		Int("filtered", len(sel.Filtered)).
		Strs("prefixes", prefixes).
		Bool("dry_run", c.dryRun).
		Msg("starting run")

	rep.Regions = make([]*resource.ActionResult, len(sel.Selected))
	var g errgroup.Group
	for i, name := range sel.Selected {
		g.Go(func() error {
			rep.Regions[i] = c.RunRegion(ctx, name)
			return nil
		})
	}
	_ = g.Wait()

	rep.Sort()
	rep.Duration = c.now().Sub(rep.StartedAt)

	failed := 0
	acted := 0
	for _, res := range rep.Regions {
		if res.Err != nil {
			failed++
		}
		acted += res.Total()
	}
	span.SetAttributes(
		attribute.Int("regions.total", len(rep.Regions)),
		attribute.Int("regions.failed", failed),
		attribute.Int("resources.acted", acted),
	)

	logger.Info().
		Int("regions", len(rep.Regions)).
		Int("regions_failed", failed).
		Int("acted", acted).
		Dur("duration", rep.Duration).
		Msg("run complete")

	return rep, nil
}

// RunRegion runs every manager of one region concurrently. It never fails:
// provider construction errors and panics become the region's Err.
func (c *Coordinator) RunRegion(ctx context.Context, name string) (res *resource.ActionResult) {
	res = resource.NewActionResult(name, c.dryRun)
	start := c.now()
	logger := zerolog.Ctx(ctx).With().Str("region", name).Logger()

	ctx, span := c.tracer.Start(ctx, "region", trace.WithAttributes(
		attribute.String("region", name),
	))

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic: %v", r)
			logger.Error().Interface("panic", r).Msg("region panicked")
		}
		res.Duration = c.now().Sub(start)

		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
		span.SetAttributes(attribute.Int("resources.acted", res.Total()))
		span.End()

		if c.metrics != nil {
			c.metrics.RecordRegion(ctx, res)
		}
	}()

	provider, err := c.factory(ctx, name, c.dryRun)
	if err != nil {
		res.Err = fmt.Errorf("build provider: %w", err)
		logger.Warn().Err(err).Msg("region failed")
		return res
	}

	managers := provider.Managers()
	results := make([]resource.KindResult, len(managers))
	var g errgroup.Group
	for i, m := range managers {
		g.Go(func() error {
			results[i] = runManager(ctx, logger, m)
			return nil
		})
	}
	_ = g.Wait()

	for _, kr := range results {
		res.Set(kr.Kind, kr.IDs, kr.Err)
	}

	logger.Debug().Int("acted", res.Total()).Dur("duration", c.now().Sub(start)).Msg("region complete")
	return res
}

func runManager(ctx context.Context, logger zerolog.Logger, m plugin.Manager) (kr resource.KindResult) {
	kr.Kind = m.Kind()
	defer func() {
		if r := recover(); r != nil {
			kr.IDs = nil
			kr.Err = fmt.Errorf("panic: %v", r)
			logger.Error().Str("kind", string(kr.Kind)).Interface("panic", r).Msg("manager panicked")
		}
	}()

	kr.IDs, kr.Err = m.Run(ctx)
	if kr.Err != nil {
		kr.IDs = nil
	}
	return kr
}
