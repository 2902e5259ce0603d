// Package regions discovers a carrier's rating regions in a jurisdiction by
// probing the quote source: each quote response reports the full location
// set priced identically, so walking uncovered locations partitions the
// state into regions with far fewer calls than one per location.
package regions

import (
	"context"
	"math/rand/v2"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/blitzquote/rate-engine/internal/gazetteer"
	"github.com/blitzquote/rate-engine/internal/model"
	"github.com/blitzquote/rate-engine/internal/rates"
	"github.com/blitzquote/rate-engine/pkg/csg"
)

// Config bounds a discovery run.
type Config struct {
	// OverlapThreshold is the minimum overlap ratio at which a probe
	// response merges into an existing candidate region instead of
	// starting a new one. Sources occasionally return location sets with
	// a few members missing.
	OverlapThreshold float64

	// MaxConsecutiveEmpty aborts after this many empty responses in a row.
	MaxConsecutiveEmpty int

	// MaxProbeErrors aborts after this many failed probes total.
	MaxProbeErrors int

	// MaxEmptyGroups aborts after this many responses with an empty
	// location set.
	MaxEmptyGroups int

	// MinCoveragePct is the coverage below which a county discovery logs
	// a warning. Discovery still succeeds; gaps are visible to operators.
	MinCoveragePct float64

	// Shuffle randomizes probe order. Off in tests.
	Shuffle bool
}

// DefaultConfig returns the standard discovery bounds.
func DefaultConfig() Config {
	return Config{
		OverlapThreshold:    0.8,
		MaxConsecutiveEmpty: 5,
		MaxProbeErrors:      10,
		MaxEmptyGroups:      10,
		MinCoveragePct:      95,
		Shuffle:             true,
	}
}

// Engine runs region discovery against the quote source.
type Engine struct {
	source    csg.Client
	gaz       *gazetteer.Gazetteer
	overrides *Overrides
	cfg       Config
}

// NewEngine creates a discovery engine. A nil overrides table means no
// exceptions.
func NewEngine(source csg.Client, gaz *gazetteer.Gazetteer, overrides *Overrides, cfg Config) *Engine {
	if overrides == nil {
		overrides = &Overrides{}
	}
	return &Engine{source: source, gaz: gaz, overrides: overrides, cfg: cfg}
}

// Discovery is the result of probing one (state, carrier) unit.
type Discovery struct {
	Kind        model.MappingKind
	Regions     []model.RatingRegion
	CoveragePct float64
	Skipped     bool
}

// canonicalProbe is the demographic every probe uses. Any demographic
// works; region membership does not depend on it.
func (e *Engine) canonicalProbe(state, naic, zip, effectiveDate string) csg.QuoteParams {
	p := csg.QuoteParams{
		Zip5:          zip,
		Age:           65,
		Gender:        "M",
		Tobacco:       0,
		EffectiveDate: effectiveDate,
		NAIC:          naic,
	}
	// These jurisdictions run their own plan systems; let the source pick.
	switch state {
	case "MN", "WI", "MA", "NY":
	default:
		p.Plan = rates.DefaultPlan(state)
	}
	return p
}

// Discover probes a carrier's regions in a state. The mapping kind comes
// from the first non-empty response: a populated ZIP list means the carrier
// maps by ZIP, a populated county list means by county. An empty first
// response means the carrier does not offer the plan in this state.
func (e *Engine) Discover(ctx context.Context, state, naic, effectiveDate string) (*Discovery, error) {
	log := zap.L().With(zap.String("state", state), zap.String("naic", naic))

	if e.overrides.Skipped(state, naic) {
		log.Warn("unit skipped by override table")
		return &Discovery{Skipped: true}, nil
	}

	stateZips := e.gaz.ZipsForState(state)
	if len(stateZips) == 0 {
		return nil, eris.Errorf("regions: no gazetteer zips for state %s", state)
	}
	if e.cfg.Shuffle {
		rand.Shuffle(len(stateZips), func(i, j int) {
			stateZips[i], stateZips[j] = stateZips[j], stateZips[i]
		})
	}

	first, err := e.source.Quotes(ctx, e.canonicalProbe(state, naic, stateZips[0], effectiveDate))
	if err != nil {
		return nil, eris.Wrapf(err, "regions: first probe %s/%s", state, naic)
	}
	if len(first) == 0 {
		log.Warn("no quotes on first probe, plan may not be offered in this state")
		return &Discovery{}, nil
	}

	locs, byZip := first[0].Locations()
	if len(locs) == 0 {
		log.Warn("first probe returned no location set, unit unsupported")
		return &Discovery{}, nil
	}

	if byZip {
		return e.discoverByZip(ctx, log, state, naic, effectiveDate, stateZips, first)
	}
	return e.discoverByCounty(ctx, log, state, naic, effectiveDate, first)
}

// budget tracks probe failure counters against their limits.
type budget struct {
	cfg              Config
	consecutiveEmpty int
	errors           int
	emptyGroups      int
}

func (b *budget) onEmpty() error {
	b.consecutiveEmpty++
	if b.consecutiveEmpty >= b.cfg.MaxConsecutiveEmpty {
		return eris.Errorf("regions: %d consecutive empty probe responses", b.consecutiveEmpty)
	}
	return nil
}

func (b *budget) onError(err error) error {
	b.errors++
	if b.errors >= b.cfg.MaxProbeErrors {
		return eris.Wrapf(err, "regions: probe error budget exhausted after %d errors", b.errors)
	}
	return nil
}

func (b *budget) onEmptyGroup() error {
	b.emptyGroups++
	if b.emptyGroups >= b.cfg.MaxEmptyGroups {
		return eris.Errorf("regions: %d empty location groups", b.emptyGroups)
	}
	return nil
}

func (e *Engine) discoverByZip(ctx context.Context, log *zap.Logger, state, naic, effectiveDate string, stateZips []string, first []csg.Quote) (*Discovery, error) {
	groups := newGrouper(e.cfg.OverlapThreshold)
	processed := make(map[string]bool)

	firstLocs, _ := first[0].Locations()
	groups.add(firstLocs, stateZips[0])
	processed[stateZips[0]] = true
	for _, z := range firstLocs {
		processed[z] = true
	}

	b := &budget{cfg: e.cfg}
	for _, z := range stateZips {
		if processed[z] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := e.source.Quotes(ctx, e.canonicalProbe(state, naic, z, effectiveDate))
		if err != nil {
			log.Warn("probe failed", zap.String("zip", z), zap.Error(err))
			if berr := b.onError(err); berr != nil {
				return nil, berr
			}
			continue
		}
		if len(resp) == 0 {
			log.Debug("no quotes for zip", zap.String("zip", z))
			if berr := b.onEmpty(); berr != nil {
				return nil, berr
			}
			continue
		}
		b.consecutiveEmpty = 0

		locs, _ := resp[0].Locations()
		if len(locs) == 0 {
			if berr := b.onEmptyGroup(); berr != nil {
				return nil, berr
			}
			continue
		}
		groups.add(locs, z)
		processed[z] = true
		for _, member := range locs {
			processed[member] = true
		}
	}

	regions := groups.regions(naic, state, model.MappingByZip)
	coverage := 100 * float64(len(processed)) / float64(len(stateZips))
	log.Info("zip discovery complete",
		zap.Int("regions", len(regions)),
		zap.Float64("coverage_pct", coverage),
	)
	return &Discovery{Kind: model.MappingByZip, Regions: regions, CoveragePct: coverage}, nil
}

func (e *Engine) discoverByCounty(ctx context.Context, log *zap.Logger, state, naic, effectiveDate string, first []csg.Quote) (*Discovery, error) {
	stateCounties := e.gaz.CountiesForState(state)
	if len(stateCounties) == 0 {
		return nil, eris.Errorf("regions: no gazetteer counties for state %s", state)
	}

	groups := newGrouper(e.cfg.OverlapThreshold)
	processed := make(map[string]bool)
	cities := make(map[string]bool)

	absorb := func(raw []string, probed string) {
		members := make([]string, 0, len(raw))
		for _, c := range raw {
			c = gazetteer.NormalizeCounty(c)
			// Independent cities come back as "<NAME> CITY" alongside the
			// surrounding county; they are not gazetteer counties.
			if strings.HasSuffix(c, " CITY") {
				cities[strings.TrimSuffix(c, " CITY")] = true
				continue
			}
			members = append(members, c)
		}
		if len(members) == 0 {
			return
		}
		groups.add(members, probed)
		for _, m := range members {
			processed[m] = true
		}
	}

	if override := e.overrides.GroupsFor(state, naic); override != nil {
		for _, fixed := range override.Regions {
			groups.add(fixed, "")
			for _, c := range fixed {
				processed[c] = true
			}
		}
		if override.ProbeRemaining {
			extra, err := e.probeRemainingCounties(ctx, log, state, naic, effectiveDate, stateCounties, processed)
			if err != nil {
				return nil, err
			}
			if len(extra) > 0 {
				groups.add(extra, "")
			}
		}
		regions := groups.regions(naic, state, model.MappingByCounty)
		return &Discovery{Kind: model.MappingByCounty, Regions: regions, CoveragePct: 100}, nil
	}

	firstLocs, _ := first[0].Locations()
	absorb(firstLocs, "")

	counties := append([]string(nil), stateCounties...)
	if e.cfg.Shuffle {
		rand.Shuffle(len(counties), func(i, j int) {
			counties[i], counties[j] = counties[j], counties[i]
		})
	}

	b := &budget{cfg: e.cfg}
	for _, county := range counties {
		if processed[county] || cities[county] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		probeZip := e.gaz.RepresentativeZip(state, county)
		if probeZip == "" {
			log.Warn("no representative zip for county", zap.String("county", county))
			continue
		}

		resp, err := e.source.Quotes(ctx, e.canonicalProbe(state, naic, probeZip, effectiveDate))
		if err != nil {
			log.Warn("probe failed", zap.String("county", county), zap.Error(err))
			if berr := b.onError(err); berr != nil {
				return nil, berr
			}
			continue
		}
		if len(resp) == 0 {
			log.Debug("no quotes for county", zap.String("county", county))
			if berr := b.onEmpty(); berr != nil {
				return nil, berr
			}
			continue
		}
		b.consecutiveEmpty = 0

		locs, _ := resp[0].Locations()
		if len(locs) == 0 {
			if berr := b.onEmptyGroup(); berr != nil {
				return nil, berr
			}
			continue
		}
		absorb(locs, county)
	}

	coverage := 100 * float64(countCovered(stateCounties, processed)) / float64(len(stateCounties))
	if coverage < e.cfg.MinCoveragePct {
		missing := missingCounties(stateCounties, processed, cities)
		log.Warn("low county coverage",
			zap.Float64("coverage_pct", coverage),
			zap.Strings("missing", missing),
		)
	}

	regions := groups.regions(naic, state, model.MappingByCounty)
	log.Info("county discovery complete",
		zap.Int("regions", len(regions)),
		zap.Float64("coverage_pct", coverage),
	)
	return &Discovery{Kind: model.MappingByCounty, Regions: regions, CoveragePct: coverage}, nil
}

// probeRemainingCounties collects counties outside the fixed override
// groups into one extra region.
func (e *Engine) probeRemainingCounties(ctx context.Context, log *zap.Logger, state, naic, effectiveDate string, stateCounties []string, processed map[string]bool) ([]string, error) {
	var extra []string
	seen := make(map[string]bool)

	b := &budget{cfg: e.cfg}
	for _, county := range stateCounties {
		if processed[county] || seen[county] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		probeZip := e.gaz.RepresentativeZip(state, county)
		if probeZip == "" {
			continue
		}
		resp, err := e.source.Quotes(ctx, e.canonicalProbe(state, naic, probeZip, effectiveDate))
		if err != nil {
			log.Warn("remainder probe failed", zap.String("county", county), zap.Error(err))
			if berr := b.onError(err); berr != nil {
				return nil, berr
			}
			continue
		}
		if len(resp) == 0 {
			continue
		}
		locs, _ := resp[0].Locations()
		for _, c := range locs {
			c = gazetteer.NormalizeCounty(c)
			if strings.HasSuffix(c, " CITY") {
				continue
			}
			if !processed[c] && !seen[c] {
				seen[c] = true
				extra = append(extra, c)
			}
		}
	}
	return extra, nil
}

func countCovered(all []string, processed map[string]bool) int {
	n := 0
	for _, c := range all {
		if processed[c] {
			n++
		}
	}
	return n
}

func missingCounties(all []string, processed, cities map[string]bool) []string {
	var missing []string
	for _, c := range all {
		if !processed[c] && !cities[c] {
			missing = append(missing, c)
		}
	}
	return missing
}
