package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"

	"github.com/yairfalse/nightshift/pkg/resource"
)

const dbClusterAvailable = "available"

// listDBClusters lists all RDS DB clusters.
func (p *Plugin) listDBClusters(ctx context.Context) ([]resource.Resource, error) {
	var resources []resource.Resource
	var marker *string

	for {
		output, err := p.rdsClient.DescribeDBClusters(ctx, &rds.DescribeDBClustersInput{Marker: marker})
		if err != nil {
			return nil, p.listingError(resource.KindDBCluster, fmt.Errorf("describe db clusters: %w", err))
		}

		for _, cluster := range output.DBClusters {
			r, err := p.newResource(resource.KindDBCluster,
				aws.ToString(cluster.DBClusterIdentifier),
				aws.ToString(cluster.DBClusterArn),
				aws.ToString(cluster.Status),
				rdsTags(cluster.TagList))
			if err != nil {
				return nil, err
			}
			resources = append(resources, r)
		}

		if output.Marker == nil {
			break
		}
		marker = output.Marker
	}

	return resources, nil
}

// dbClusterSkipReason: only available clusters are stopped. An untagged
// cluster is never exempt.
func dbClusterSkipReason(r resource.Resource) string {
	if r.State != dbClusterAvailable {
		return "not available"
	}
	return ""
}

// manageDBClusters stops eligible DB clusters and tags them.
func (p *Plugin) manageDBClusters(ctx context.Context) ([]string, error) {
	resources, err := p.listDBClusters(ctx)
	if err != nil {
		p.logListingError(err)
		return nil, err
	}

	targets := p.selectTargets(resource.KindDBCluster, resources, dbClusterSkipReason)
	return p.idle(ctx, resource.KindDBCluster, targets, action{
		op:     "stop",
		mutate: p.stopDBCluster,
		tag:    p.tagDBCluster,
	}), nil
}

func (p *Plugin) stopDBCluster(ctx context.Context, r resource.Resource) error {
	_, err := p.rdsClient.StopDBCluster(ctx, &rds.StopDBClusterInput{DBClusterIdentifier: aws.String(r.ID)})
	return err
}

func (p *Plugin) tagDBCluster(ctx context.Context, r resource.Resource, key, value string) error {
	if r.ARN == "" {
		return fmt.Errorf("db cluster %s has no arn", r.ID)
	}
	_, err := p.rdsClient.AddTagsToResource(ctx, &rds.AddTagsToResourceInput{
		ResourceName: aws.String(r.ARN),
		Tags:         []rdstypes.Tag{{Key: aws.String(key), Value: aws.String(value)}},
	})
	return err
}

func rdsTags(tags []rdstypes.Tag) resource.Tags {
	out := make(resource.Tags, 0, len(tags))
	for _, t := range tags {
		out = append(out, resource.Tag{Key: aws.ToString(t.Key), Value: aws.ToString(t.Value)})
	}
	return out
}
