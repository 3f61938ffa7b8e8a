// Package filter decides which resources nightshift must leave alone.
package filter

import (
	"github.com/yairfalse/nightshift/pkg/resource"
)

// Reserved tag keys set by AWS on resources owned by another controller.
const (
	ScalingGroupOwnerKey = "aws:autoscaling:groupName"
	ClusterOwnerKey      = "eks:cluster-name"
)

// ExemptionRules maps a tag key to the values that protect a resource.
// It is copied on construction and never modified afterwards.
type ExemptionRules struct {
	rules map[string]map[string]bool
}

// DefaultExemptionRules returns LIFECYCLE=PERSISTENT.
func DefaultExemptionRules() ExemptionRules {
	return NewExemptionRules(map[string][]string{"LIFECYCLE": {"PERSISTENT"}})
}

// NewExemptionRules builds rules from a key to values mapping.
// Empty keys and values are dropped since they can never match.
func NewExemptionRules(m map[string][]string) ExemptionRules {
	rules := make(map[string]map[string]bool, len(m))
	for k, values := range m {
		if k == "" {
			continue
		}
		set := make(map[string]bool, len(values))
		for _, v := range values {
			if v != "" {
				set[v] = true
			}
		}
		if len(set) > 0 {
			rules[k] = set
		}
	}
	return ExemptionRules{rules: rules}
}

// Matches reports whether (key, value) is an exemption pair.
func (e ExemptionRules) Matches(key, value string) bool {
	if key == "" || value == "" {
		return false
	}
	return e.rules[key][value]
}

// IsEmpty returns true if no exemption is configured.
func (e ExemptionRules) IsEmpty() bool {
	return len(e.rules) == 0
}

// IsExempt returns true if any tag is an exemption pair.
func IsExempt(tags resource.Tags, rules ExemptionRules) bool {
	for _, t := range tags {
		if rules.Matches(t.Key, t.Value) {
			return true
		}
	}
	return false
}

// HasAnyTag returns true if any tag with a non-empty value has one of keys.
func HasAnyTag(tags resource.Tags, keys []string) bool {
	for _, k := range keys {
		if k != "" && tags.HasKey(k) {
			return true
		}
	}
	return false
}

// HasKey returns true if a tag with key is present, whatever its value.
// Ownership keys set by AWS count even when their value is empty.
func HasKey(tags resource.Tags, key string) bool {
	if key == "" {
		return false
	}
	_, ok := tags.Get(key)
	return ok
}

// Filter bundles the exemption rules and the tag keys audit requires.
type Filter struct {
	rules    ExemptionRules
	required []string
}

// New creates a Filter. required may be nil when audit is not used.
func New(rules ExemptionRules, required []string) *Filter {
	req := make([]string, 0, len(required))
	for _, k := range required {
		if k != "" {
			req = append(req, k)
		}
	}
	return &Filter{rules: rules, required: req}
}

// Rules returns the exemption rules.
func (f *Filter) Rules() ExemptionRules {
	return f.rules
}

// Required returns a copy of the audit tag keys.
func (f *Filter) Required() []string {
	return append([]string(nil), f.required...)
}

// Exempt returns true if the resource must never be mutated.
func (f *Filter) Exempt(r resource.Resource) bool {
	return IsExempt(r.Tags, f.rules)
}

// Untagged returns true if the resource carries none of the required keys.
// With no required keys nothing is reported.
func (f *Filter) Untagged(r resource.Resource) bool {
	if len(f.required) == 0 {
		return false
	}
	return !HasAnyTag(r.Tags, f.required)
}

// FilterExempt splits resources into the ones that may be idled and the
// exempt ones. Order is preserved in both.
func (f *Filter) FilterExempt(resources []resource.Resource) (kept, exempt []resource.Resource) {
	if f.rules.IsEmpty() {
		return resources, nil
	}

	kept = make([]resource.Resource, 0, len(resources))
	for _, r := range resources {
		if f.Exempt(r) {
			exempt = append(exempt, r)
			continue
		}
		kept = append(kept, r)
	}
	return kept, exempt
}
