package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/nightshift/pkg/resource"
)

// listClusters lists EKS clusters with their tags. Clusters are reported
// under the node group kind since their node groups are what gets scaled.
func (p *Plugin) listClusters(ctx context.Context) ([]resource.Resource, error) {
	var resources []resource.Resource
	var nextToken *string

	for {
		output, err := p.eksClient.ListClusters(ctx, &eks.ListClustersInput{NextToken: nextToken})
		if err != nil {
			return nil, p.listingError(resource.KindNodeGroup, fmt.Errorf("list clusters: %w", err))
		}

		for _, name := range output.Clusters {
			desc, err := p.eksClient.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: aws.String(name)})
			if err != nil {
				return nil, p.listingError(resource.KindNodeGroup, fmt.Errorf("describe cluster %s: %w", name, err))
			}
			if desc.Cluster == nil {
				log.Warn().Str("region", p.region).Str("cluster", name).Msg("describe cluster returned no cluster, skipping")
				continue
			}

			r, err := p.newResource(resource.KindNodeGroup,
				aws.ToString(desc.Cluster.Name),
				aws.ToString(desc.Cluster.Arn),
				string(desc.Cluster.Status),
				resource.FromMap(desc.Cluster.Tags))
			if err != nil {
				return nil, err
			}
			resources = append(resources, r)
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return resources, nil
}

// listNodeGroups lists the node groups of one cluster.
func (p *Plugin) listNodeGroups(ctx context.Context, cluster string) ([]resource.Resource, error) {
	var resources []resource.Resource
	var nextToken *string

	for {
		output, err := p.eksClient.ListNodegroups(ctx, &eks.ListNodegroupsInput{
			ClusterName: aws.String(cluster),
			NextToken:   nextToken,
		})
		if err != nil {
			return nil, p.listingError(resource.KindNodeGroup, fmt.Errorf("list node groups of %s: %w", cluster, err))
		}

		for _, name := range output.Nodegroups {
			desc, err := p.eksClient.DescribeNodegroup(ctx, &eks.DescribeNodegroupInput{
				ClusterName:   aws.String(cluster),
				NodegroupName: aws.String(name),
			})
			if err != nil {
				return nil, p.listingError(resource.KindNodeGroup, fmt.Errorf("describe node group %s/%s: %w", cluster, name, err))
			}
			r, err := p.convertNodeGroup(cluster, name, desc.Nodegroup)
			if err != nil {
				return nil, err
			}
			resources = append(resources, r)
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return resources, nil
}

func (p *Plugin) convertNodeGroup(cluster, name string, ng *ekstypes.Nodegroup) (resource.Resource, error) {
	if ng == nil {
		ng = &ekstypes.Nodegroup{NodegroupName: aws.String(name)}
	}
	r, err := p.newResource(resource.KindNodeGroup,
		aws.ToString(ng.NodegroupName),
		aws.ToString(ng.NodegroupArn),
		string(ng.Status),
		resource.FromMap(ng.Tags))
	if err != nil {
		return resource.Resource{}, err
	}
	r.Parent = cluster
	// A node group without scaling config is treated as already at zero.
	if ng.ScalingConfig == nil {
		log.Debug().
			Str("region", p.region).
			Str("cluster", cluster).
			Str("node_group", r.ID).
			Msg("node group has no scaling config, treating as zero")
		return r, nil
	}
	r.DesiredSize = aws.ToInt32(ng.ScalingConfig.DesiredSize)
	return r, nil
}

// manageNodeGroups scales every node group of non-exempt clusters to zero
// and tags each cluster that had at least one node group scaled.
// The identifiers returned are cluster names.
func (p *Plugin) manageNodeGroups(ctx context.Context) ([]string, error) {
	clusters, err := p.listClusters(ctx)
	if err != nil {
		p.logListingError(err)
		return nil, err
	}

	kept, exempt := p.filter.FilterExempt(clusters)
	for _, c := range exempt {
		p.logSkipped(resource.KindNodeGroup, c.ID, "exempt cluster")
	}

	groups := make(map[string][]resource.Resource)
	var targets []resource.Resource
	for _, c := range kept {
		nodeGroups, err := p.listNodeGroups(ctx, c.ID)
		if err != nil {
			p.logListingError(err)
			return nil, err
		}
		for _, ng := range nodeGroups {
			if ng.DesiredSize == 0 {
				p.logSkipped(resource.KindNodeGroup, c.ID+"/"+ng.ID, "already at zero")
				continue
			}
			groups[c.ID] = append(groups[c.ID], ng)
		}
		if len(groups[c.ID]) > 0 {
			targets = append(targets, c)
		}
	}

	return p.idle(ctx, resource.KindNodeGroup, targets, action{
		op: "scale",
		mutate: func(ctx context.Context, c resource.Resource) error {
			return p.scaleNodeGroups(ctx, groups[c.ID])
		},
		tag: p.tagCluster,
	}), nil
}

// scaleNodeGroups scales each node group independently. It only fails
// when none of them could be scaled.
func (p *Plugin) scaleNodeGroups(ctx context.Context, nodeGroups []resource.Resource) error {
	var errs []error
	scaled := 0
	for _, ng := range nodeGroups {
		err := p.wait(ctx)
		if err == nil {
			_, err = p.eksClient.UpdateNodegroupConfig(ctx, &eks.UpdateNodegroupConfigInput{
				ClusterName:   aws.String(ng.Parent),
				NodegroupName: aws.String(ng.ID),
				ScalingConfig: &ekstypes.NodegroupScalingConfig{
					DesiredSize: aws.Int32(0),
					MaxSize:     aws.Int32(p.scaleMaxSize),
					MinSize:     aws.Int32(0),
				},
			})
		}
		if err != nil {
			p.logActionError(&resource.ActionError{Kind: resource.KindNodeGroup, ID: ng.Parent + "/" + ng.ID, Op: "scale", Err: err})
			errs = append(errs, err)
			continue
		}
		scaled++
	}

	if scaled == 0 && len(errs) > 0 {
		return fmt.Errorf("no node group scaled: %w", errors.Join(errs...))
	}
	return nil
}

func (p *Plugin) tagCluster(ctx context.Context, c resource.Resource, key, value string) error {
	if c.ARN == "" {
		return fmt.Errorf("cluster %s has no arn", c.ID)
	}
	_, err := p.eksClient.TagResource(ctx, &eks.TagResourceInput{
		ResourceArn: aws.String(c.ARN),
		Tags:        map[string]string{key: value},
	})
	return err
}
