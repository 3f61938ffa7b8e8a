package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/nightshift/pkg/resource"
)

// AuditReport lists resources missing every required tag key.
type AuditReport struct {
	RunID     string              `json:"runId"`
	StartedAt time.Time           `json:"startedAt"`
	Keys      []string            `json:"keys"`
	Resources []resource.Resource `json:"resources"`
	Errors    map[string]string   `json:"errors,omitempty"` // region -> error
}

// Audit lists untagged resources in every selected region. Nothing is mutated.
func (c *Coordinator) Audit(ctx context.Context, prefixes, keys []string) (*AuditReport, error) {
	if c.factory == nil {
		return nil, ErrNoFactory
	}

	rep := &AuditReport{
		RunID:     c.newID(),
		StartedAt: c.now().UTC(),
		Keys:      keys,
		Errors:    make(map[string]string),
	}

	ctx, span := c.tracer.Start(ctx, "audit", trace.WithAttributes(
		attribute.String("run.id", rep.RunID),
		attribute.StringSlice("audit.keys", keys),
	))
	defer span.End()

	logger := log.With().Str("run_id", rep.RunID).Logger()
	ctx = logger.WithContext(ctx)

	sel := c.Regions(ctx, prefixes)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, name := range sel.Selected {
		g.Go(func() error {
			found, err := c.auditRegion(ctx, name, keys)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Errors[name] = err.Error()
			}
			rep.Resources = append(rep.Resources, found...)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(rep.Resources, func(i, j int) bool {
		a, b := rep.Resources[i], rep.Resources[j]
		if a.Region != b.Region {
			return a.Region < b.Region
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Parent != b.Parent {
			return a.Parent < b.Parent
		}
		return a.ID < b.ID
	})

	span.SetAttributes(attribute.Int("resources.untagged", len(rep.Resources)))
	logger.Info().
		Int("regions", len(sel.Selected)).
		Int("untagged", len(rep.Resources)).
		Int("errors", len(rep.Errors)).
		Msg("audit complete")

	return rep, nil
}

func (c *Coordinator) auditRegion(ctx context.Context, name string, keys []string) (found []resource.Resource, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	provider, err := c.factory(ctx, name, true)
	if err != nil {
		return nil, fmt.Errorf("build provider: %w", err)
	}
	return provider.Audit(ctx, keys)
}
