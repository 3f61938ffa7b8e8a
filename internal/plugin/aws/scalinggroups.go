package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"

	"github.com/yairfalse/nightshift/internal/filter"
	"github.com/yairfalse/nightshift/pkg/resource"
)

// listScalingGroups lists all auto scaling groups.
func (p *Plugin) listScalingGroups(ctx context.Context) ([]resource.Resource, error) {
	var resources []resource.Resource
	var nextToken *string

	for {
		output, err := p.asgClient.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{NextToken: nextToken})
		if err != nil {
			return nil, p.listingError(resource.KindScalingGroup, fmt.Errorf("describe auto scaling groups: %w", err))
		}

		for _, asg := range output.AutoScalingGroups {
			r, err := p.newResource(resource.KindScalingGroup,
				aws.ToString(asg.AutoScalingGroupName),
				aws.ToString(asg.AutoScalingGroupARN),
				aws.ToString(asg.Status),
				asgTags(asg.Tags))
			if err != nil {
				return nil, err
			}
			r.DesiredSize = aws.ToInt32(asg.DesiredCapacity)
			resources = append(resources, r)
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return resources, nil
}

// scalingGroupSkipReason: groups already at zero or owned by an EKS cluster are left alone.
func scalingGroupSkipReason(r resource.Resource) string {
	switch {
	case r.DesiredSize == 0:
		return "already at zero"
	case filter.HasKey(r.Tags, filter.ClusterOwnerKey):
		return "owned by eks cluster"
	}
	return ""
}

// manageScalingGroups scales eligible groups to zero and tags them.
func (p *Plugin) manageScalingGroups(ctx context.Context) ([]string, error) {
	resources, err := p.listScalingGroups(ctx)
	if err != nil {
		p.logListingError(err)
		return nil, err
	}

	targets := p.selectTargets(resource.KindScalingGroup, resources, scalingGroupSkipReason)
	return p.idle(ctx, resource.KindScalingGroup, targets, action{
		op:     "scale",
		mutate: p.scaleScalingGroup,
		tag:    p.tagScalingGroup,
	}), nil
}

func (p *Plugin) scaleScalingGroup(ctx context.Context, r resource.Resource) error {
	_, err := p.asgClient.UpdateAutoScalingGroup(ctx, &autoscaling.UpdateAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(r.ID),
		MinSize:              aws.Int32(0),
		MaxSize:              aws.Int32(p.scaleMaxSize),
		DesiredCapacity:      aws.Int32(0),
	})
	return err
}

func (p *Plugin) tagScalingGroup(ctx context.Context, r resource.Resource, key, value string) error {
	_, err := p.asgClient.CreateOrUpdateTags(ctx, &autoscaling.CreateOrUpdateTagsInput{
		Tags: []asgtypes.Tag{{
			ResourceId:        aws.String(r.ID),
			ResourceType:      aws.String("auto-scaling-group"),
			Key:               aws.String(key),
			Value:             aws.String(value),
			PropagateAtLaunch: aws.Bool(false),
		}},
	})
	return err
}

func asgTags(tags []asgtypes.TagDescription) resource.Tags {
	out := make(resource.Tags, 0, len(tags))
	for _, t := range tags {
		out = append(out, resource.Tag{Key: aws.ToString(t.Key), Value: aws.ToString(t.Value)})
	}
	return out
}
