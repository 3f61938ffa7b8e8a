package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/yairfalse/nightshift/internal/plugin"
	"github.com/yairfalse/nightshift/pkg/resource"
)

// fakeProvider implements plugin.Provider for testing.
type fakeProvider struct {
	region   string
	managers []plugin.Manager
	audit    func(ctx context.Context, keys []string) ([]resource.Resource, error)
}

func (f *fakeProvider) Name() string {
	return "fake"
}

func (f *fakeProvider) Region() string {
	return f.region
}

func (f *fakeProvider) Managers() []plugin.Manager {
	return f.managers
}

func (f *fakeProvider) Audit(ctx context.Context, keys []string) ([]resource.Resource, error) {
	if f.audit != nil {
		return f.audit(ctx, keys)
	}
	return nil, nil
}

func returning(kind resource.Kind, ids ...string) plugin.Manager {
	return plugin.NewManager(kind, func(_ context.Context) ([]string, error) {
		return ids, nil
	})
}

func failing(kind resource.Kind, err error) plugin.Manager {
	return plugin.NewManager(kind, func(_ context.Context) ([]string, error) {
		return []string{"ignored"}, err
	})
}

// staticFactory gives every region one instance named after it.
func staticFactory(_ context.Context, region string, _ bool) (plugin.Provider, error) {
	return &fakeProvider{region: region, managers: []plugin.Manager{
		returning(resource.KindNodeGroup),
		returning(resource.KindScalingGroup),
		returning(resource.KindInstance, "i-"+region),
		returning(resource.KindDBCluster),
	}}, nil
}

type staticLister []string

func (l staticLister) Regions(_ context.Context) ([]string, error) {
	return l, nil
}

type recordingMetrics struct {
	mu      sync.Mutex
	regions []string
}

func (m *recordingMetrics) RecordRegion(_ context.Context, res *resource.ActionResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regions = append(m.regions, res.Region)
}

func TestRun_NoFactory(t *testing.T) {
	c := New(Options{})
	rep, err := c.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoFactory)
	assert.Nil(t, rep)
}

func TestRun_PrefixFilter(t *testing.T) {
	c := New(Options{Factory: staticFactory})
	c.newID = func() string { return "run-1" }

	rep, err := c.Run(context.Background(), []string{"us-east"})
	require.NoError(t, err)

	assert.Equal(t, "run-1", rep.RunID)
	require.Len(t, rep.Regions, 2)
	assert.Equal(t, "us-east-1", rep.Regions[0].Region)
	assert.Equal(t, "us-east-2", rep.Regions[1].Region)
	assert.Equal(t, []string{"i-us-east-1"}, rep.Regions[0].Kind(resource.KindInstance).IDs)
	assert.Contains(t, rep.Skipped, "sa-east-1")
	assert.Contains(t, rep.Skipped, "us-gov-west-1")
	assert.NotContains(t, rep.Message(), "us-west-2")
}

func TestRun_DenylistAlwaysExcluded(t *testing.T) {
	var mu sync.Mutex
	var built []string
	factory := func(ctx context.Context, region string, _ bool) (plugin.Provider, error) {
		mu.Lock()
		built = append(built, region)
		mu.Unlock()
		return staticFactory(ctx, region, false)
	}

	c := New(Options{Factory: factory})
	_, err := c.Run(context.Background(), []string{"sa", "af", "us-gov", "cn"})
	require.NoError(t, err)
	assert.Empty(t, built)
}

func TestRun_UsesLister(t *testing.T) {
	c := New(Options{
		Factory: staticFactory,
		Lister:  staticLister{"us-west-2", "eu-west-1", "me-south-1"},
	})

	rep, err := c.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, rep.Regions, 2)
	assert.Equal(t, "eu-west-1", rep.Regions[0].Region)
	assert.Equal(t, "us-west-2", rep.Regions[1].Region)
	assert.Equal(t, []string{"me-south-1"}, rep.Skipped)
}

func TestRun_RegionFailureIsIsolated(t *testing.T) {
	factory := func(ctx context.Context, region string, _ bool) (plugin.Provider, error) {
		if region == "eu-west-1" {
			return nil, errors.New("AuthFailure")
		}
		return staticFactory(ctx, region, false)
	}

	c := New(Options{Factory: factory, Lister: staticLister{"eu-west-1", "us-east-1"}})
	rep, err := c.Run(context.Background(), nil)
	require.NoError(t, err)

	eu := rep.Region("eu-west-1")
	require.NotNil(t, eu)
	assert.ErrorContains(t, eu.Err, "AuthFailure")
	assert.Equal(t, 0, eu.Total())

	us := rep.Region("us-east-1")
	require.NotNil(t, us)
	assert.NoError(t, us.Err)
	assert.Equal(t, []string{"i-us-east-1"}, us.Kind(resource.KindInstance).IDs)
	assert.Contains(t, rep.Message(), "region failed: build provider: AuthFailure")
}

func TestRun_FactoryPanicIsRecovered(t *testing.T) {
	factory := func(ctx context.Context, region string, _ bool) (plugin.Provider, error) {
		if region == "us-west-2" {
			panic("nil client")
		}
		return staticFactory(ctx, region, false)
	}

	c := New(Options{Factory: factory, Lister: staticLister{"us-west-2", "us-east-1"}})
	rep, err := c.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.ErrorContains(t, rep.Region("us-west-2").Err, "panic: nil client")
	assert.NoError(t, rep.Region("us-east-1").Err)
}

func TestRunRegion_KindFailuresAreIsolated(t *testing.T) {
	factory := func(_ context.Context, region string, _ bool) (plugin.Provider, error) {
		return &fakeProvider{region: region, managers: []plugin.Manager{
			failing(resource.KindNodeGroup, &resource.ListingError{Kind: resource.KindNodeGroup, Region: region, Err: errors.New("denied")}),
			plugin.NewManager(resource.KindScalingGroup, func(_ context.Context) ([]string, error) {
				panic("boom")
			}),
			returning(resource.KindInstance, "i-2", "i-1", "i-2"),
			returning(resource.KindDBCluster, "db-1"),
		}}, nil
	}

	c := New(Options{Factory: factory})
	res := c.RunRegion(context.Background(), "us-east-1")

	assert.NoError(t, res.Err)
	assert.Error(t, res.Kind(resource.KindNodeGroup).Err)
	assert.Empty(t, res.Kind(resource.KindNodeGroup).IDs, "a failed kind reports nothing")
	assert.ErrorContains(t, res.Kind(resource.KindScalingGroup).Err, "panic: boom")
	assert.Equal(t, []string{"i-1", "i-2"}, res.Kind(resource.KindInstance).IDs)
	assert.Equal(t, []string{"db-1"}, res.Kind(resource.KindDBCluster).IDs)
}

func TestRun_RegionsRunConcurrently(t *testing.T) {
	regions := staticLister{"eu-west-1", "eu-west-2", "us-east-1", "us-west-2"}
	var arrived sync.WaitGroup
	arrived.Add(len(regions))
	all := make(chan struct{})
	go func() {
		arrived.Wait()
		close(all)
	}()

	factory := func(ctx context.Context, region string, _ bool) (plugin.Provider, error) {
		arrived.Done()
		select {
		case <-all:
		case <-time.After(5 * time.Second):
			return nil, errors.New("regions did not run concurrently")
		}
		return staticFactory(ctx, region, false)
	}

	c := New(Options{Factory: factory, Lister: regions})
	rep, err := c.Run(context.Background(), nil)
	require.NoError(t, err)
	for _, res := range rep.Regions {
		assert.NoError(t, res.Err, res.Region)
	}
}

func TestRun_DryRunAndMetrics(t *testing.T) {
	m := &recordingMetrics{}
	c := New(Options{Factory: staticFactory, Lister: staticLister{"us-east-1", "eu-west-1"}, Metrics: m, DryRun: true})

	rep, err := c.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, rep.DryRun)
	assert.True(t, rep.Regions[0].DryRun)
	assert.Contains(t, rep.Message(), "[dry run]")
	assert.ElementsMatch(t, []string{"us-east-1", "eu-west-1"}, m.regions)
}

func TestWithDryRun_ReachesFactory(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[bool]int)
	factory := func(ctx context.Context, region string, dryRun bool) (plugin.Provider, error) {
		mu.Lock()
		seen[dryRun]++
		mu.Unlock()
		return staticFactory(ctx, region, dryRun)
	}

	live := New(Options{Factory: factory, Lister: staticLister{"us-east-1"}})
	dry := live.WithDryRun(true)

	assert.False(t, live.DryRun())
	assert.True(t, dry.DryRun())

	rep, err := dry.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, rep.DryRun)

	_, err = live.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, seen[true])
	assert.Equal(t, 1, seen[false])
}

func TestRun_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	factory := func(ctx context.Context, region string, _ bool) (plugin.Provider, error) {
		if region == "eu-west-1" {
			return nil, errors.New("denied")
		}
		return staticFactory(ctx, region, false)
	}
	c := New(Options{Factory: factory, Lister: staticLister{"us-east-1", "eu-west-1"}, Tracer: tp.Tracer("test")})

	_, err := c.Run(context.Background(), nil)
	require.NoError(t, err)

	spans := sr.Ended()
	names := make(map[string]int)
	for _, s := range spans {
		names[s.Name()]++
	}
	assert.Equal(t, 1, names["run"])
	assert.Equal(t, 2, names["region"])

	var errored int
	for _, s := range spans {
		if s.Name() == "region" && len(s.Events()) > 0 {
			errored++
		}
	}
	assert.Equal(t, 1, errored)
}

func TestRegions(t *testing.T) {
	c := New(Options{Factory: staticFactory})
	sel := c.Regions(context.Background(), []string{"eu-"})

	assert.Contains(t, sel.Selected, "eu-west-1")
	assert.NotContains(t, sel.Selected, "eu-south-1")
	assert.Contains(t, sel.Denied, "eu-south-1")
	assert.Contains(t, sel.Filtered, "us-east-1")
}
