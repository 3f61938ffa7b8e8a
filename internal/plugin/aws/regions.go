package aws

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
)

// RegionLister discovers the regions enabled for the account.
type RegionLister struct {
	client EC2API
}

// NewRegionLister creates a lister from an AWS config bound to the home region.
func NewRegionLister(awsCfg aws.Config) *RegionLister {
	return &RegionLister{client: ec2.NewFromConfig(awsCfg)}
}

// Regions returns the names of the enabled regions in sorted order.
func (l *RegionLister) Regions(ctx context.Context) ([]string, error) {
	output, err := l.client.DescribeRegions(ctx, &ec2.DescribeRegionsInput{AllRegions: aws.Bool(false)})
	if err != nil {
		return nil, fmt.Errorf("describe regions: %w", err)
	}

	regions := make([]string, 0, len(output.Regions))
	for _, r := range output.Regions {
		if name := aws.ToString(r.RegionName); name != "" {
			regions = append(regions, name)
		}
	}
	sort.Strings(regions)
	return regions, nil
}
