package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/nightshift/internal/filter"
	"github.com/yairfalse/nightshift/pkg/resource"
)

// listInstances lists running EC2 instances.
func (p *Plugin) listInstances(ctx context.Context) ([]resource.Resource, error) {
	var resources []resource.Resource
	var nextToken *string

	for {
		output, err := p.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			Filters: []ec2types.Filter{
				{Name: aws.String("instance-state-name"), Values: []string{string(ec2types.InstanceStateNameRunning)}},
			},
			NextToken: nextToken,
		})
		if err != nil {
			return nil, p.listingError(resource.KindInstance, fmt.Errorf("describe instances: %w", err))
		}

		for _, reservation := range output.Reservations {
			for _, instance := range reservation.Instances {
				r, err := p.convertInstance(instance)
				if err != nil {
					return nil, err
				}
				resources = append(resources, r)
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return resources, nil
}

func (p *Plugin) convertInstance(instance ec2types.Instance) (resource.Resource, error) {
	state := ""
	if instance.State != nil {
		state = string(instance.State.Name)
	}
	return p.newResource(resource.KindInstance, aws.ToString(instance.InstanceId), "", state, ec2Tags(instance.Tags))
}

// instanceSkipReason: only running instances outside a scaling group are stopped.
func instanceSkipReason(r resource.Resource) string {
	switch {
	case r.State != string(ec2types.InstanceStateNameRunning):
		return "not running"
	case filter.HasKey(r.Tags, filter.ScalingGroupOwnerKey):
		return "owned by scaling group"
	}
	return ""
}

// manageInstances stops eligible instances and tags them.
func (p *Plugin) manageInstances(ctx context.Context) ([]string, error) {
	resources, err := p.listInstances(ctx)
	if err != nil {
		p.logListingError(err)
		return nil, err
	}

	targets := p.selectTargets(resource.KindInstance, resources, instanceSkipReason)
	return p.idle(ctx, resource.KindInstance, targets, action{
		op:     "stop",
		mutate: p.stopInstance,
		tag:    p.tagInstance,
	}), nil
}

func (p *Plugin) stopInstance(ctx context.Context, r resource.Resource) error {
	_, err := p.ec2Client.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: []string{r.ID}})
	return err
}

func (p *Plugin) tagInstance(ctx context.Context, r resource.Resource, key, value string) error {
	_, err := p.ec2Client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{r.ID},
		Tags:      []ec2types.Tag{{Key: aws.String(key), Value: aws.String(value)}},
	})
	return err
}

func ec2Tags(tags []ec2types.Tag) resource.Tags {
	out := make(resource.Tags, 0, len(tags))
	for _, t := range tags {
		out = append(out, resource.Tag{Key: aws.ToString(t.Key), Value: aws.ToString(t.Value)})
	}
	return out
}
