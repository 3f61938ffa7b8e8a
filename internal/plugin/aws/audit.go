package aws

import (
	"context"
	"errors"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/nightshift/internal/filter"
	"github.com/yairfalse/nightshift/pkg/resource"
)

type lister struct {
	kind resource.Kind
	fn   func(context.Context) ([]resource.Resource, error)
}

func (p *Plugin) listers() []lister {
	return []lister{
		{resource.KindNodeGroup, p.listClustersAndNodeGroups},
		{resource.KindScalingGroup, p.listScalingGroups},
		{resource.KindInstance, p.listInstances},
		{resource.KindDBCluster, p.listDBClusters},
	}
}

// Audit lists every kind and returns the resources that carry none of keys.
// Nothing is mutated. When keys is empty the filter's required keys are used.
// Kinds that fail to list are skipped and their errors joined.
func (p *Plugin) Audit(ctx context.Context, keys []string) ([]resource.Resource, error) {
	if len(keys) == 0 {
		keys = p.filter.Required()
	}
	if len(keys) == 0 {
		return nil, nil
	}

	var (
		mu       sync.Mutex
		untagged []resource.Resource
		errs     []error
		g        errgroup.Group
	)

	for _, l := range p.listers() {
		g.Go(func() error {
			resources, err := l.fn(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				p.logListingError(err)
				errs = append(errs, err)
				return nil
			}
			for _, r := range resources {
				if !filter.HasAnyTag(r.Tags, keys) {
					untagged = append(untagged, r)
				}
			}
			return nil
		})
	}

	_ = g.Wait()

	sort.Slice(untagged, func(i, j int) bool {
		if untagged[i].Kind != untagged[j].Kind {
			return untagged[i].Kind < untagged[j].Kind
		}
		if untagged[i].Parent != untagged[j].Parent {
			return untagged[i].Parent < untagged[j].Parent
		}
		return untagged[i].ID < untagged[j].ID
	})
	return untagged, errors.Join(errs...)
}

// listClustersAndNodeGroups returns clusters followed by all their node groups.
func (p *Plugin) listClustersAndNodeGroups(ctx context.Context) ([]resource.Resource, error) {
	clusters, err := p.listClusters(ctx)
	if err != nil {
		return nil, err
	}

	resources := append([]resource.Resource(nil), clusters...)
	for _, c := range clusters {
		nodeGroups, err := p.listNodeGroups(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		resources = append(resources, nodeGroups...)
	}
	return resources, nil
}
