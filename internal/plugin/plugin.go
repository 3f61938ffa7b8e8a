// Package plugin defines the manager contract for nightshift providers.
package plugin

import (
	"context"

	"github.com/yairfalse/nightshift/pkg/resource"
)

// Manager idles one resource kind in one region.
// Keep it simple: Kind + Run. That's it.
type Manager interface {
	// Kind returns the resource kind this manager owns.
	Kind() resource.Kind

	// Run lists, filters and idles resources of the kind.
	// It returns the identifiers acted upon. An error means the kind
	// could not be listed and nothing is reported for it.
	Run(ctx context.Context) ([]string, error)
}

// Provider bundles the managers of one region.
type Provider interface {
	// Name returns the provider identifier (e.g., "aws").
	Name() string

	// Region returns the region the provider is bound to.
	Region() string

	// Managers returns one manager per resource kind.
	Managers() []Manager

	// Audit lists every kind and returns the resources carrying none of keys.
	Audit(ctx context.Context, keys []string) ([]resource.Resource, error)
}

// Factory builds the provider for a region. A dry-run provider lists and
// filters but never mutates.
type Factory func(ctx context.Context, region string, dryRun bool) (Provider, error)

// NewManager adapts a function into a Manager.
func NewManager(kind resource.Kind, run func(context.Context) ([]string, error)) Manager {
	return &funcManager{kind: kind, run: run}
}

type funcManager struct {
	kind resource.Kind
	run  func(context.Context) ([]string, error)
}

func (m *funcManager) Kind() resource.Kind {
	return m.kind
}

func (m *funcManager) Run(ctx context.Context) ([]string, error) {
	return m.run(ctx)
}
