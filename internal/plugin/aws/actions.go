package aws

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/nightshift/pkg/resource"
)

// action is the Act + Tag stage of a manager.
type action struct {
	op     string
	mutate func(ctx context.Context, r resource.Resource) error
	tag    func(ctx context.Context, r resource.Resource, key, value string) error
}

// selectTargets is the Filter stage. Exempt resources are dropped first; skip
// then names why a remaining resource is left alone, or returns "" to idle it.
func (p *Plugin) selectTargets(kind resource.Kind, resources []resource.Resource, skip func(resource.Resource) string) []resource.Resource {
	kept, exempt := p.filter.FilterExempt(resources)
	for _, r := range exempt {
		p.logSkipped(kind, r.ID, "exempt")
	}

	var targets []resource.Resource
	for _, r := range kept {
		if reason := skip(r); reason != "" {
			p.logSkipped(kind, r.ID, reason)
			continue
		}
		targets = append(targets, r)
	}
	return targets
}

// idle applies a to every target and returns the identifiers acted upon.
// Targets run with bounded concurrency; a failing target never stops its siblings.
func (p *Plugin) idle(ctx context.Context, kind resource.Kind, targets []resource.Resource, a action) []string {
	var (
		mu    sync.Mutex
		acted = make([]string, 0, len(targets))
		g     errgroup.Group
	)
	g.SetLimit(p.concurrency)

	for _, r := range targets {
		g.Go(func() error {
			outcome := p.apply(ctx, kind, r, a)
			if outcome.ActedUpon() {
				mu.Lock()
				acted = append(acted, r.ID)
				mu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait()
	return acted
}

// apply runs one resource through Mutating -> Mutated -> Tagging.
// The provenance tag is only written after the mutation succeeded.
func (p *Plugin) apply(ctx context.Context, kind resource.Kind, r resource.Resource, a action) resource.Outcome {
	if p.dryRun {
		p.logOutcome(kind, r, resource.OutcomeDryRun)
		return resource.OutcomeDryRun
	}

	if err := p.wait(ctx); err != nil {
		p.logActionError(&resource.ActionError{Kind: kind, ID: r.ID, Op: a.op, Err: err})
		return resource.OutcomeMutationFailed
	}
	if err := a.mutate(ctx, r); err != nil {
		p.logActionError(&resource.ActionError{Kind: kind, ID: r.ID, Op: a.op, Err: err})
		return resource.OutcomeMutationFailed
	}

	outcome := resource.OutcomeTagged
	err := p.wait(ctx)
	if err == nil {
		err = a.tag(ctx, r, p.provenanceKey, p.provenanceValue())
	}
	if err != nil {
		p.logActionError(&resource.ActionError{Kind: kind, ID: r.ID, Op: "tag", Err: err})
		outcome = resource.OutcomeMutatedButTagFailed
	}

	p.logOutcome(kind, r, outcome)
	return outcome
}

func (p *Plugin) logOutcome(kind resource.Kind, r resource.Resource, outcome resource.Outcome) {
	log.Info().
		Str("region", p.region).
		Str("kind", string(kind)).
		Str("id", r.ID).
		Str("outcome", string(outcome)).
		Msg("resource idled")
}

func (p *Plugin) logSkipped(kind resource.Kind, id, reason string) {
	log.Debug().
		Str("region", p.region).
		Str("kind", string(kind)).
		Str("id", id).
		Str("outcome", string(resource.OutcomeSkipped)).
		Str("reason", reason).
		Msg("resource skipped")
}
