// Package spotcheck decides whether a carrier's stored rates still match
// the source. It samples a few regions and demographics, re-fetches live
// quotes, and compares rate and source effective date against the stored
// floor lookup. Any difference means the unit needs a rebuild.
package spotcheck

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/blitzquote/rate-engine/internal/gazetteer"
	"github.com/blitzquote/rate-engine/internal/model"
	"github.com/blitzquote/rate-engine/internal/rates"
	"github.com/blitzquote/rate-engine/internal/store"
	"github.com/blitzquote/rate-engine/pkg/csg"
)

// Config bounds the sample size per unit.
type Config struct {
	MaxRegions      int
	MaxDemographics int
}

// DefaultConfig returns the standard sample bounds.
func DefaultConfig() Config {
	return Config{MaxRegions: 2, MaxDemographics: 6}
}

// Checker compares stored rates against live quotes.
type Checker struct {
	source csg.Client
	store  store.Store
	gaz    *gazetteer.Gazetteer
	cfg    Config
}

// New creates a Checker.
func New(source csg.Client, s store.Store, gaz *gazetteer.Gazetteer, cfg Config) *Checker {
	return &Checker{source: source, store: s, gaz: gaz, cfg: cfg}
}

// Result summarizes one unit's spot check. Changed means at least one
// sampled point differed from the store; Reason names the first difference.
type Result struct {
	State   string
	NAIC    string
	Sampled int
	Changed bool
	Reason  string
}

// Check samples stored rates for a (state, carrier) unit against live
// quotes as of the given date. It short-circuits on the first difference;
// a changed unit gets a full rebuild anyway.
func (c *Checker) Check(ctx context.Context, state, naic string, asOf time.Time) (*Result, error) {
	log := zap.L().With(zap.String("state", state), zap.String("naic", naic))

	regions, err := c.store.RegionsFor(ctx, state, naic)
	if err != nil {
		return nil, eris.Wrap(err, "spotcheck: load regions")
	}
	if len(regions) == 0 {
		return &Result{State: state, NAIC: naic, Changed: true, Reason: "no regions stored"}, nil
	}
	if len(regions) > c.cfg.MaxRegions {
		regions = regions[:c.cfg.MaxRegions]
	}

	demos := rates.Demographics(state)
	if len(demos) > c.cfg.MaxDemographics {
		demos = demos[:c.cfg.MaxDemographics]
	}

	res := &Result{State: state, NAIC: naic}
	for _, region := range regions {
		probeZip := c.probeZip(state, region)
		if probeZip == "" {
			log.Warn("no probe zip for region", zap.String("region", region.ID))
			continue
		}

		for _, demo := range demos {
			res.Sampled++

			live, err := c.liveRate(ctx, state, naic, probeZip, demo, asOf)
			if err != nil {
				return nil, eris.Wrapf(err, "spotcheck: live quote %s/%s", state, naic)
			}

			stored, err := c.store.RateFor(ctx, region.ID, naic, demo, asOf)
			if err != nil {
				return nil, eris.Wrap(err, "spotcheck: stored rate")
			}

			if reason := compare(live, stored); reason != "" {
				res.Changed = true
				res.Reason = reason
				log.Info("spot check found difference",
					zap.String("region", region.ID),
					zap.Int("age", demo.Age),
					zap.String("plan", demo.Plan),
					zap.String("reason", reason),
				)
				return res, nil
			}
		}
	}

	log.Info("spot check clean", zap.Int("sampled", res.Sampled))
	return res, nil
}

// probeZip picks a location to quote for a region: a member ZIP directly,
// or a representative ZIP of a member county.
func (c *Checker) probeZip(state string, region model.RatingRegion) string {
	if len(region.Locations) == 0 {
		return ""
	}
	if region.Kind == model.MappingByZip {
		return region.Locations[0]
	}
	if c.gaz == nil {
		return ""
	}
	for _, county := range region.Locations {
		if z := c.gaz.RepresentativeZip(state, county); z != "" {
			return z
		}
	}
	return ""
}

// point is one live observation: the rate at the sampled age and the
// effective date the source asserted for it.
type point struct {
	rate          float64
	effectiveDate time.Time
}

func (c *Checker) liveRate(ctx context.Context, state, naic, zip string, demo model.Demographic, asOf time.Time) (*point, error) {
	tobacco := 0
	if demo.Tobacco {
		tobacco = 1
	}
	quotes, err := c.source.Quotes(ctx, csg.QuoteParams{
		Zip5:           zip,
		Age:            demo.Age,
		Gender:         demo.Gender,
		Tobacco:        tobacco,
		Plan:           demo.Plan,
		EffectiveDate:  asOf.Format("2006-01-02"),
		NAIC:           naic,
		ApplyDiscounts: 1,
		ApplyFees:      1,
	})
	if err != nil {
		return nil, err
	}
	quotes = csg.FilterQuotes(quotes)
	if len(quotes) == 0 {
		return nil, nil
	}
	q := quotes[0]
	return &point{rate: q.Rate, effectiveDate: model.Date(q.EffectiveDate)}, nil
}

// compare returns "" when live and stored agree, or the first difference.
func compare(live *point, stored *model.RateQuote) string {
	switch {
	case live == nil && stored == nil:
		return ""
	case live == nil:
		return "source no longer quotes a stored point"
	case stored == nil:
		return "source quotes a point missing from the store"
	case math.Abs(live.rate-stored.Rate) > 0.005:
		return "rate differs"
	case !live.effectiveDate.Equal(model.Date(stored.EffectiveDate)):
		return "source effective date differs"
	}
	return ""
}
