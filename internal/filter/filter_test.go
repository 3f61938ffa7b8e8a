package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/nightshift/pkg/resource"
)

func TestIsExempt_Default(t *testing.T) {
	rules := DefaultExemptionRules()

	tests := []struct {
		name string
		tags resource.Tags
		want bool
	}{
		{"persistent", resource.Tags{{Key: "LIFECYCLE", Value: "PERSISTENT"}}, true},
		{"other value", resource.Tags{{Key: "LIFECYCLE", Value: "TEMP"}}, false},
		{"no tags", nil, false},
		{"value is case sensitive", resource.Tags{{Key: "LIFECYCLE", Value: "persistent"}}, false},
		{"duplicate keys, one matches", resource.Tags{
			{Key: "LIFECYCLE", Value: "TEMP"},
			{Key: "LIFECYCLE", Value: "PERSISTENT"},
		}, true},
		{"empty value never matches", resource.Tags{{Key: "LIFECYCLE", Value: ""}}, false},
		{"unrelated tags", resource.Tags{{Key: "env", Value: "PERSISTENT"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsExempt(tt.tags, rules))
		})
	}
}

func TestNewExemptionRules_CopiesInput(t *testing.T) {
	in := map[string][]string{"LIFECYCLE": {"PERSISTENT"}}
	rules := NewExemptionRules(in)

	in["LIFECYCLE"][0] = "TEMP"
	in["env"] = []string{"prod"}

	assert.True(t, rules.Matches("LIFECYCLE", "PERSISTENT"))
	assert.False(t, rules.Matches("LIFECYCLE", "TEMP"))
	assert.False(t, rules.Matches("env", "prod"))
}

func TestNewExemptionRules_DropsEmpty(t *testing.T) {
	rules := NewExemptionRules(map[string][]string{
		"":          {"x"},
		"LIFECYCLE": {"", "PERSISTENT"},
		"team":      {""},
	})

	assert.True(t, rules.Matches("LIFECYCLE", "PERSISTENT"))
	assert.False(t, rules.Matches("team", ""))
	assert.False(t, rules.Matches("", "x"))
	assert.False(t, rules.Matches("LIFECYCLE", ""))
	assert.False(t, NewExemptionRules(nil).Matches("LIFECYCLE", "PERSISTENT"))
	assert.True(t, NewExemptionRules(nil).IsEmpty())
}

func TestIsExempt_MultipleValues(t *testing.T) {
	rules := NewExemptionRules(map[string][]string{
		"LIFECYCLE": {"PERSISTENT", "KEEP"},
		"owner":     {"platform"},
	})

	assert.True(t, IsExempt(resource.Tags{{Key: "LIFECYCLE", Value: "KEEP"}}, rules))
	assert.True(t, IsExempt(resource.Tags{{Key: "owner", Value: "platform"}}, rules))
	assert.False(t, IsExempt(resource.Tags{{Key: "owner", Value: "data"}}, rules))
}

func TestHasAnyTag(t *testing.T) {
	tags := resource.Tags{{Key: "team", Value: "web"}, {Key: "cost-center", Value: ""}}

	assert.True(t, HasAnyTag(tags, []string{"owner", "team"}))
	assert.False(t, HasAnyTag(tags, []string{"cost-center"}))
	assert.False(t, HasAnyTag(tags, nil))
	assert.False(t, HasAnyTag(nil, []string{"team"}))
}

func TestHasKey(t *testing.T) {
	tags := resource.Tags{{Key: ScalingGroupOwnerKey, Value: "web-asg"}}

	assert.True(t, HasKey(tags, ScalingGroupOwnerKey))
	assert.False(t, HasKey(tags, ClusterOwnerKey))
	assert.False(t, HasKey(tags, ""))
}

func TestHasKey_EmptyValueStillOwns(t *testing.T) {
	tags := resource.Tags{{Key: ClusterOwnerKey, Value: ""}}

	assert.True(t, HasKey(tags, ClusterOwnerKey))
	assert.False(t, HasAnyTag(tags, []string{ClusterOwnerKey}), "audit still treats an empty value as missing")
	assert.False(t, IsExempt(resource.Tags{{Key: "LIFECYCLE", Value: ""}}, DefaultExemptionRules()))
}

func TestFilter_ExemptAndUntagged(t *testing.T) {
	f := New(DefaultExemptionRules(), []string{"owner", ""})

	kept := resource.Resource{ID: "i-1", Tags: resource.Tags{{Key: "LIFECYCLE", Value: "PERSISTENT"}}}
	owned := resource.Resource{ID: "i-2", Tags: resource.Tags{{Key: "owner", Value: "data"}}}

	assert.True(t, f.Exempt(kept))
	assert.False(t, f.Exempt(owned))
	assert.True(t, f.Untagged(kept))
	assert.False(t, f.Untagged(owned))
	assert.Equal(t, []string{"owner"}, f.Required())
}

func TestFilter_UntaggedWithoutRequiredKeys(t *testing.T) {
	f := New(DefaultExemptionRules(), nil)
	assert.False(t, f.Untagged(resource.Resource{ID: "i-1"}))
}

func TestFilterExempt(t *testing.T) {
	f := New(DefaultExemptionRules(), nil)
	resources := []resource.Resource{
		{ID: "i-1", Tags: resource.Tags{{Key: "LIFECYCLE", Value: "PERSISTENT"}}},
		{ID: "i-2"},
		{ID: "i-3", Tags: resource.Tags{{Key: "LIFECYCLE", Value: "TEMP"}}},
	}

	kept, exempt := f.FilterExempt(resources)
	require.Len(t, kept, 2)
	assert.Equal(t, "i-2", kept[0].ID)
	assert.Equal(t, "i-3", kept[1].ID)
	require.Len(t, exempt, 1)
	assert.Equal(t, "i-1", exempt[0].ID)

	kept, exempt = New(NewExemptionRules(nil), nil).FilterExempt(resources)
	assert.Len(t, kept, 3)
	assert.Empty(t, exempt)
}
