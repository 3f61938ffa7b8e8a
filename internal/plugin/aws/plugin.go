// Package aws implements the AWS resource managers for nightshift.
package aws

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"golang.org/x/time/rate"

	"github.com/yairfalse/nightshift/internal/filter"
	"github.com/yairfalse/nightshift/internal/plugin"
	"github.com/yairfalse/nightshift/pkg/resource"
)

// DefaultProvenanceKey is the tag key written on every idled resource.
const DefaultProvenanceKey = "ManagedByAutomation"

const (
	defaultScaleMaxSize      = 1
	defaultActionConcurrency = 4
)

// Plugin owns the clients and policy of one region.
type Plugin struct {
	region string

	// AWS clients (interfaces for testability)
	ec2Client EC2API
	asgClient AutoScalingAPI
	eksClient EKSAPI
	rdsClient RDSAPI

	filter        *filter.Filter
	provenanceKey string
	scaleMaxSize  int32
	dryRun        bool
	concurrency   int
	limiter       *rate.Limiter
	now           func() time.Time
}

// Config holds AWS plugin configuration.
type Config struct {
	Filter            *filter.Filter
	ProvenanceKey     string
	ScaleMaxSize      int32
	DryRun            bool
	ActionConcurrency int
	// APIRPS limits mutating calls per second in a region. Zero disables the limit.
	APIRPS float64
}

func (c Config) withDefaults() Config {
	if c.Filter == nil {
		c.Filter = filter.New(filter.DefaultExemptionRules(), nil)
	}
	if c.ProvenanceKey == "" {
		c.ProvenanceKey = DefaultProvenanceKey
	}
	if c.ScaleMaxSize <= 0 {
		c.ScaleMaxSize = defaultScaleMaxSize
	}
	if c.ActionConcurrency <= 0 {
		c.ActionConcurrency = defaultActionConcurrency
	}
	return c
}

// LoadConfig loads the shared AWS configuration with retries disabled.
func LoadConfig(ctx context.Context, region, profile string) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewStandard(), 1)
		}),
	}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

// New creates a plugin for region from an already loaded AWS config.
func New(awsCfg aws.Config, region string, cfg Config) *Plugin {
	regional := awsCfg.Copy()
	regional.Region = region

	p := newPlugin(region, cfg)
	p.ec2Client = ec2.NewFromConfig(regional)
	p.asgClient = autoscaling.NewFromConfig(regional)
	p.eksClient = eks.NewFromConfig(regional)
	p.rdsClient = rds.NewFromConfig(regional)
	return p
}

func newPlugin(region string, cfg Config) *Plugin {
	cfg = cfg.withDefaults()

	p := &Plugin{
		region:        region,
		filter:        cfg.Filter,
		provenanceKey: cfg.ProvenanceKey,
		scaleMaxSize:  cfg.ScaleMaxSize,
		dryRun:        cfg.DryRun,
		concurrency:   cfg.ActionConcurrency,
		now:           time.Now,
	}
	if cfg.APIRPS > 0 {
		burst := int(cfg.APIRPS)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.APIRPS), burst)
	}
	return p
}

// FactoryFromConfig returns a factory sharing an already loaded AWS config.
func FactoryFromConfig(awsCfg aws.Config, cfg Config) plugin.Factory {
	return func(_ context.Context, region string, dryRun bool) (plugin.Provider, error) {
		if region == "" {
			return nil, fmt.Errorf("aws: empty region")
		}
		regional := cfg
		regional.DryRun = dryRun
		return New(awsCfg, region, regional), nil
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "aws"
}

// Region returns the region the plugin is bound to.
func (p *Plugin) Region() string {
	return p.region
}

// DryRun reports whether mutations are suppressed.
func (p *Plugin) DryRun() bool {
	return p.dryRun
}

type manager struct {
	kind resource.Kind
	fn   func(context.Context) ([]string, error)
}

func (p *Plugin) managers() []manager {
	return []manager{
		{resource.KindNodeGroup, p.manageNodeGroups},
		{resource.KindScalingGroup, p.manageScalingGroups},
		{resource.KindInstance, p.manageInstances},
		{resource.KindDBCluster, p.manageDBClusters},
	}
}

// Managers returns one manager per resource kind in report order.
func (p *Plugin) Managers() []plugin.Manager {
	ms := p.managers()
	out := make([]plugin.Manager, 0, len(ms))
	for _, m := range ms {
		out = append(out, plugin.NewManager(m.kind, m.fn))
	}
	return out
}

// provenanceValue formats the current UTC time as an HTTP date without commas,
// e.g. "Tue 14 Oct 2025 01:00:00 GMT".
func (p *Plugin) provenanceValue() string {
	return strings.ReplaceAll(p.now().UTC().Format(http.TimeFormat), ",", "")
}

// wait blocks until the mutation rate limit admits another call.
func (p *Plugin) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

// newResource converts provider fields into the unified model and validates it.
func (p *Plugin) newResource(kind resource.Kind, id, arn, state string, tags resource.Tags) (resource.Resource, error) {
	r := resource.Resource{
		Kind:   kind,
		ID:     id,
		ARN:    arn,
		Region: p.region,
		State:  state,
		Tags:   tags,
	}
	if err := r.Validate(); err != nil {
		return resource.Resource{}, p.listingError(kind, err)
	}
	return r, nil
}

func (p *Plugin) listingError(kind resource.Kind, err error) error {
	return &resource.ListingError{Kind: kind, Region: p.region, Err: err}
}
