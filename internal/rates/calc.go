// Package rates derives rate rows from quotes: age-curve expansion via the
// source's age-increase multipliers and discount application. All functions
// are pure.
package rates

import (
	"math"

	"github.com/blitzquote/rate-engine/internal/model"
	"github.com/blitzquote/rate-engine/pkg/csg"
)

// round2 rounds to cents. Expansion rounds after every compounding step so
// stored rates match what the source would quote at that age.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Expand turns one quote into rate rows for the quoted age and each
// subsequent age covered by the quote's age-increase multipliers. The
// discount rate is the compounded rate with the quote's first discount
// applied.
func Expand(q csg.Quote, regionID string) []model.RateQuote {
	discountMult := 1 - q.DiscountPct

	rows := make([]model.RateQuote, 0, len(q.AgeIncreases)+1)
	rate := q.Rate
	for i := 0; i <= len(q.AgeIncreases); i++ {
		if i > 0 {
			rate = round2(rate * (1 + q.AgeIncreases[i-1]))
		}
		rows = append(rows, model.RateQuote{
			RegionID: regionID,
			NAIC:     q.NAIC,
			State:    q.State,
			Demographic: model.Demographic{
				Age:     q.Age + i,
				Gender:  q.Gender,
				Tobacco: q.Tobacco != 0,
				Plan:    q.Plan,
			},
			Rate:          rate,
			DiscountRate:  round2(rate * discountMult),
			EffectiveDate: q.EffectiveDate,
		})
	}
	return rows
}

// PlansForState returns the plan letters worth quoting in a jurisdiction.
// MA, MN, and WI run their own standardized plan systems.
func PlansForState(state string) []string {
	switch state {
	case "MA":
		return []string{"MA_CORE", "MA_SUPP1"}
	case "MN":
		return []string{"MN_BASIC", "MN_EXTB"}
	case "WI":
		return []string{"WIR_A50%"}
	default:
		return []string{"N", "G", "F"}
	}
}

// DefaultPlan returns the canonical probe plan for a jurisdiction.
func DefaultPlan(state string) string {
	switch state {
	case "MA":
		return "MA_CORE"
	case "MN":
		return "MN_BASIC"
	case "WI":
		return "WIR_A50%"
	default:
		return "G"
	}
}

// BaseAges are the anchor ages quoted directly; ages in between come from
// age-increase expansion.
var BaseAges = []int{65, 70, 75, 80, 85, 90, 95}

// Demographics enumerates the full demographic grid for a jurisdiction:
// base ages x genders x tobacco x state plans.
func Demographics(state string) []model.Demographic {
	var out []model.Demographic
	for _, plan := range PlansForState(state) {
		for _, age := range BaseAges {
			for _, gender := range []string{"M", "F"} {
				for _, tobacco := range []bool{false, true} {
					out = append(out, model.Demographic{
						Age:     age,
						Gender:  gender,
						Tobacco: tobacco,
						Plan:    plan,
					})
				}
			}
		}
	}
	return out
}
