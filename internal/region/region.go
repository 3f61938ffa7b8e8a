// Package region selects the AWS regions a run covers.
package region

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// catalog is the static list of AWS regions across the commercial,
// China, GovCloud and ISO partitions.
var catalog = []string{
	"af-south-1",
	"ap-east-1",
	"ap-east-2",
	"ap-northeast-1",
	"ap-northeast-2",
	"ap-northeast-3",
	"ap-south-1",
	"ap-south-2",
	"ap-southeast-1",
	"ap-southeast-2",
	"ap-southeast-3",
	"ap-southeast-4",
	"ap-southeast-5",
	"ap-southeast-7",
	"ca-central-1",
	"ca-west-1",
	"cn-north-1",
	"cn-northwest-1",
	"eu-central-1",
	"eu-central-2",
	"eu-north-1",
	"eu-south-1",
	"eu-south-2",
	"eu-west-1",
	"eu-west-2",
	"eu-west-3",
	"il-central-1",
	"me-central-1",
	"me-south-1",
	"mx-central-1",
	"sa-east-1",
	"us-east-1",
	"us-east-2",
	"us-gov-east-1",
	"us-gov-west-1",
	"us-iso-east-1",
	"us-iso-west-1",
	"us-isob-east-1",
	"us-west-1",
	"us-west-2",
}

// denylist holds region name prefixes that need opt-in or separate credentials.
var denylist = []string{"af", "ap-east-1", "me", "sa", "cn", "eu-south-1", "us-gov", "us-iso"}

// Catalog returns a copy of the static region list.
func Catalog() []string {
	return append([]string(nil), catalog...)
}

// Denylist returns a copy of the denied prefixes.
func Denylist() []string {
	return append([]string(nil), denylist...)
}

// Denied reports whether region is never processed.
func Denied(region string) bool {
	return hasAnyPrefix(region, denylist)
}

// Matches reports whether region passes the include filter.
// An empty filter matches every region.
func Matches(region string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	return hasAnyPrefix(region, prefixes)
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// Selection is the outcome of filtering a region list.
type Selection struct {
	Selected []string `json:"selected"` // regions to process
	Denied   []string `json:"denied"`   // denylisted regions
	Filtered []string `json:"filtered"` // regions dropped by the prefix filter
}

// Select splits regions into selected, denied and filtered, each sorted.
// The denylist is applied before the prefix filter, so a prefix can never
// bring back a denied region. Duplicates are dropped.
func Select(regions, prefixes []string) Selection {
	var sel Selection
	seen := make(map[string]bool, len(regions))
	for _, r := range regions {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true

		switch {
		case Denied(r):
			sel.Denied = append(sel.Denied, r)
		case !Matches(r, prefixes):
			sel.Filtered = append(sel.Filtered, r)
		default:
			sel.Selected = append(sel.Selected, r)
		}
	}
	sort.Strings(sel.Selected)
	sort.Strings(sel.Denied)
	sort.Strings(sel.Filtered)
	return sel
}

// Lister discovers enabled regions from the provider.
type Lister interface {
	Regions(ctx context.Context) ([]string, error)
}

// Resolve returns the candidate regions. With a lister the provider's list
// is used; if discovery fails or returns nothing the static catalog is used.
func Resolve(ctx context.Context, lister Lister) []string {
	if lister == nil {
		return Catalog()
	}

	regions, err := lister.Regions(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("region discovery failed, using static catalog")
		return Catalog()
	}
	if len(regions) == 0 {
		log.Warn().Msg("region discovery returned no regions, using static catalog")
		return Catalog()
	}
	return regions
}
