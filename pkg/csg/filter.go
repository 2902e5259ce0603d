package csg

import "strings"

// standardClasses are the rating classes kept during filtering. Anything
// else is a sub-class variant (household, preferred, etc.) that would
// double-count the carrier.
var standardClasses = map[string]bool{
	"":         true,
	"Standard": true,
	"Achieve":  true,
	"Value":    true,
}

// aetnaHealthNAIC carries its household discount as a rating class instead
// of a discount entry, so its "Standard" classes pass the filter.
const aetnaHealthNAIC = "79413"

// FilterQuotes drops select-plan and non-standard rating-class quotes, then
// deduplicates on (naic, tobacco, age, plan, gender) keeping the higher
// rate. The source sometimes returns the same demographic twice with a
// stale lower rate.
func FilterQuotes(quotes []Quote) []Quote {
	kept := make([]Quote, 0, len(quotes))
	for _, q := range quotes {
		if !keepQuote(q) {
			continue
		}
		kept = append(kept, q)
	}

	type demoKey struct {
		naic    string
		tobacco int
		age     int
		plan    string
		gender  string
	}
	unique := make(map[demoKey]int, len(kept))
	out := make([]Quote, 0, len(kept))
	for _, q := range kept {
		k := demoKey{q.NAIC, q.Tobacco, q.Age, q.Plan, q.Gender}
		if i, ok := unique[k]; ok {
			if q.Rate > out[i].Rate {
				out[i] = q
			}
			continue
		}
		unique[k] = len(out)
		out = append(out, q)
	}
	return out
}

func keepQuote(q Quote) bool {
	if q.Select {
		return false
	}
	if standardClasses[q.RatingClass] {
		return true
	}
	if q.NAIC == aetnaHealthNAIC {
		return strings.Contains(q.RatingClass, "Standard") &&
			!strings.Contains(q.RatingClass, "Household")
	}
	return false
}

// Locations returns a quote's region membership and whether it is ZIP
// based. Carriers report either a ZIP list or a county list, never both.
func (q Quote) Locations() (locs []string, byZip bool) {
	if len(q.Zips) > 0 {
		return q.Zips, true
	}
	return q.Counties, false
}
