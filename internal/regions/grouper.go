package regions

import (
	"sort"

	"github.com/blitzquote/rate-engine/internal/model"
)

// grouper accumulates probe responses into candidate regions. An incoming
// location set either matches an existing candidate exactly, overlaps one
// enough to union into it, or starts a new candidate.
type grouper struct {
	threshold float64
	sets      []map[string]bool
}

func newGrouper(threshold float64) *grouper {
	return &grouper{threshold: threshold}
}

// add merges a probe response into the candidates. The probed location is
// folded into whichever group absorbs the response; sources sometimes omit
// the probed location from its own region's listing.
func (g *grouper) add(members []string, probed string) {
	incoming := make(map[string]bool, len(members)+1)
	for _, m := range members {
		incoming[m] = true
	}
	if probed != "" {
		incoming[probed] = true
	}
	if len(incoming) == 0 {
		return
	}

	for _, existing := range g.sets {
		if overlap(existing, incoming) >= g.threshold {
			for m := range incoming {
				existing[m] = true
			}
			return
		}
	}
	g.sets = append(g.sets, incoming)
}

// overlap is the intersection size relative to the smaller set, so a
// response missing a few members still matches its region.
func overlap(a, b map[string]bool) float64 {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	if len(small) == 0 {
		return 0
	}
	n := 0
	for m := range small {
		if large[m] {
			n++
		}
	}
	return float64(n) / float64(len(small))
}

// regions materializes the candidates as hashed rating regions with sorted
// location lists, largest region first.
func (g *grouper) regions(naic, state string, kind model.MappingKind) []model.RatingRegion {
	out := make([]model.RatingRegion, 0, len(g.sets))
	for _, set := range g.sets {
		locations := make([]string, 0, len(set))
		for m := range set {
			locations = append(locations, m)
		}
		sort.Strings(locations)
		out = append(out, model.RatingRegion{
			NAIC:      naic,
			State:     state,
			Kind:      kind,
			Locations: locations,
			Hash:      model.RegionHash(locations),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Locations) != len(out[j].Locations) {
			return len(out[i].Locations) > len(out[j].Locations)
		}
		return out[i].Locations[0] < out[j].Locations[0]
	})
	return out
}
