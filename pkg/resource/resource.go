// Package resource defines the unified resource model for nightshift.
package resource

import "fmt"

// Kind identifies a managed resource kind.
type Kind string

const (
	// KindInstance is a compute instance (EC2).
	KindInstance Kind = "instance"
	// KindScalingGroup is an auto scaling group.
	KindScalingGroup Kind = "scaling_group"
	// KindNodeGroup is a container-orchestrator node group (EKS).
	KindNodeGroup Kind = "node_group"
	// KindDBCluster is a managed database cluster (RDS).
	KindDBCluster Kind = "db_cluster"
)

// AllKinds lists every kind in report order.
var AllKinds = []Kind{KindNodeGroup, KindScalingGroup, KindInstance, KindDBCluster}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindInstance, KindScalingGroup, KindNodeGroup, KindDBCluster:
		return true
	}
	return false
}

// Tag is a single key/value tag. An empty Key or Value counts as missing.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Tags is an unordered tag set. Duplicate keys are tolerated.
type Tags []Tag

// FromMap converts map-style tags (EKS, Lambda) into Tags.
func FromMap(m map[string]string) Tags {
	tags := make(Tags, 0, len(m))
	for k, v := range m {
		tags = append(tags, Tag{Key: k, Value: v})
	}
	return tags
}

// Get returns the value of the first tag with key.
func (t Tags) Get(key string) (string, bool) {
	for _, tag := range t {
		if tag.Key == key {
			return tag.Value, true
		}
	}
	return "", false
}

// HasKey reports whether a tag with key and a non-empty value exists.
func (t Tags) HasKey(key string) bool {
	for _, tag := range t {
		if tag.Key == key && tag.Value != "" {
			return true
		}
	}
	return false
}

// Resource is a managed resource discovered in one region.
// Provider records are converted into Resource at the list boundary.
type Resource struct {
	Kind        Kind   `json:"kind"`
	ID          string `json:"id"`               // Identifier used for actions (instance ID, group name, cluster name)
	ARN         string `json:"arn,omitempty"`    // Needed by tag APIs that address resources by ARN
	Region      string `json:"region"`           // Region (e.g., "us-east-1")
	State       string `json:"state,omitempty"`  // Kind-specific lifecycle state ("running", "available")
	DesiredSize int32  `json:"desired_size"`     // Desired capacity for scaling groups and node groups
	Parent      string `json:"parent,omitempty"` // Owning cluster name for node groups
	Tags        Tags   `json:"tags,omitempty"`
}

// Validate checks the fields every action depends on.
func (r Resource) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("unknown resource kind %q", r.Kind)
	}
	if r.ID == "" {
		return fmt.Errorf("%s in %s: missing identifier", r.Kind, r.Region)
	}
	return nil
}

// Outcome is the terminal state of a resource after one pass.
type Outcome string

const (
	OutcomeSkipped             Outcome = "skipped"
	OutcomeMutationFailed      Outcome = "mutation_failed"
	OutcomeTagged              Outcome = "tagged"
	OutcomeMutatedButTagFailed Outcome = "mutated_tag_failed"
	OutcomeDryRun              Outcome = "dry_run"
)

// ActedUpon reports whether the primary effect took place.
func (o Outcome) ActedUpon() bool {
	return o == OutcomeTagged || o == OutcomeMutatedButTagFailed || o == OutcomeDryRun
}
