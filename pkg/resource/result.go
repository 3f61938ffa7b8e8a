package resource

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Label returns the report heading for a kind.
func (k Kind) Label() string {
	switch k {
	case KindNodeGroup:
		return "Clusters managed"
	case KindScalingGroup:
		return "ASGs managed"
	case KindInstance:
		return "EC2 Instances managed"
	case KindDBCluster:
		return "RDS clusters managed"
	default:
		return string(k)
	}
}

// KindResult holds the identifiers acted upon for one kind in one region.
type KindResult struct {
	Kind Kind
	IDs  []string
	Err  error
}

// ActionResult is the outcome of one region.
type ActionResult struct {
	Region   string
	DryRun   bool
	Duration time.Duration
	Err      error // region-level failure

	kinds map[Kind]*KindResult
}

// NewActionResult returns a result with an empty entry for every kind.
func NewActionResult(region string, dryRun bool) *ActionResult {
	r := &ActionResult{
		Region: region,
		DryRun: dryRun,
		kinds:  make(map[Kind]*KindResult, len(AllKinds)),
	}
	for _, k := range AllKinds {
		r.kinds[k] = &KindResult{Kind: k, IDs: []string{}}
	}
	return r
}

// Set records the result of a kind. IDs are deduplicated and sorted.
func (r *ActionResult) Set(kind Kind, ids []string, err error) {
	r.kinds[kind] = &KindResult{Kind: kind, IDs: uniqueSorted(ids), Err: err}
}

// Kind returns the result recorded for kind.
func (r *ActionResult) Kind(kind Kind) KindResult {
	kr, ok := r.kinds[kind]
	if !ok {
		return KindResult{Kind: kind, IDs: []string{}}
	}
	return *kr
}

// Total returns the number of identifiers acted upon across all kinds.
func (r *ActionResult) Total() int {
	n := 0
	for _, kr := range r.kinds {
		n += len(kr.IDs)
	}
	return n
}

// Errors returns the per-kind errors that were recorded.
func (r *ActionResult) Errors() map[Kind]error {
	errs := make(map[Kind]error)
	for k, kr := range r.kinds {
		if kr.Err != nil {
			errs[k] = kr.Err
		}
	}
	return errs
}

// Message renders the region block of the report.
func (r *ActionResult) Message() string {
	var b strings.Builder
	fmt.Fprintf(&b, "------%s------\n", r.Region)
	if r.Err != nil {
		fmt.Fprintf(&b, "\tregion failed: %v\n", r.Err)
	}
	for _, k := range AllKinds {
		kr := r.Kind(k)
		fmt.Fprintf(&b, "\t%s: %s", k.Label(), strings.Join(kr.IDs, ", "))
		if kr.Err != nil {
			fmt.Fprintf(&b, " (error: %v)", kr.Err)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// MarshalJSON uses the field names of the invocation contract.
func (r *ActionResult) MarshalJSON() ([]byte, error) {
	errs := make(map[Kind]string)
	for k, err := range r.Errors() {
		errs[k] = err.Error()
	}
	out := struct {
		Region              string          `json:"region"`
		DryRun              bool            `json:"dryRun,omitempty"`
		InstancesStopped    []string        `json:"instancesStopped"`
		ScalingGroupsScaled []string        `json:"scalingGroupsScaled"`
		ClustersScaled      []string        `json:"clustersScaled"`
		DBClustersStopped   []string        `json:"dbClustersStopped"`
		Errors              map[Kind]string `json:"errors,omitempty"`
		Error               string          `json:"error,omitempty"`
	}{
		Region:              r.Region,
		DryRun:              r.DryRun,
		InstancesStopped:    r.Kind(KindInstance).IDs,
		ScalingGroupsScaled: r.Kind(KindScalingGroup).IDs,
		ClustersScaled:      r.Kind(KindNodeGroup).IDs,
		DBClustersStopped:   r.Kind(KindDBCluster).IDs,
		Errors:              errs,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// Report aggregates the results of one invocation.
type Report struct {
	RunID     string          `json:"runId"`
	StartedAt time.Time       `json:"startedAt"`
	Duration  time.Duration   `json:"duration"`
	DryRun    bool            `json:"dryRun,omitempty"`
	Regions   []*ActionResult `json:"regions"`
	Skipped   []string        `json:"skipped,omitempty"`
	Failure   string          `json:"failure,omitempty"`
}

// Sort orders regions and skipped regions by name.
func (r *Report) Sort() {
	sort.Slice(r.Regions, func(i, j int) bool {
		return r.Regions[i].Region < r.Regions[j].Region
	})
	sort.Strings(r.Skipped)
}

// Failed reports whether the invocation itself failed.
func (r *Report) Failed() bool {
	return r.Failure != ""
}

// Totals returns the number of identifiers acted upon per kind.
func (r *Report) Totals() map[Kind]int {
	totals := make(map[Kind]int, len(AllKinds))
	for _, res := range r.Regions {
		for _, k := range AllKinds {
			totals[k] += len(res.Kind(k).IDs)
		}
	}
	return totals
}

// Region returns the result for a region, or nil if it was not processed.
func (r *Report) Region(name string) *ActionResult {
	for _, res := range r.Regions {
		if res.Region == name {
			return res
		}
	}
	return nil
}

// Message concatenates every region block into one text blob.
func (r *Report) Message() string {
	if r.Failed() {
		return r.Failure
	}

	var b strings.Builder
	if r.DryRun {
		b.WriteString("[dry run] nothing was changed\n")
	}
	for _, res := range r.Regions {
		b.WriteByte('\n')
		b.WriteString(res.Message())
	}
	if len(r.Skipped) > 0 {
		fmt.Fprintf(&b, "\nskipped regions: %s\n", strings.Join(r.Skipped, ", "))
	}
	return b.String()
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
