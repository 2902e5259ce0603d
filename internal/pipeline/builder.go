// Package pipeline orchestrates rate builds: it walks the requested
// (state, carrier) units with bounded concurrency, discovers regions,
// prices the demographic grid, and flushes rate batches to the cache.
// One unit failing never takes down the run.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/blitzquote/rate-engine/internal/gazetteer"
	"github.com/blitzquote/rate-engine/internal/model"
	"github.com/blitzquote/rate-engine/internal/ratecache"
	"github.com/blitzquote/rate-engine/internal/rates"
	"github.com/blitzquote/rate-engine/internal/regions"
	"github.com/blitzquote/rate-engine/internal/spotcheck"
	"github.com/blitzquote/rate-engine/internal/store"
	"github.com/blitzquote/rate-engine/pkg/csg"
)

// Config bounds a build run.
type Config struct {
	MaxConcurrentStates   int
	MaxConcurrentCarriers int
	MaxConcurrentFetches  int
	FlushBatchSize        int

	// Force rebuilds units even when their processing record validates.
	Force bool

	// SpotCheck re-verifies already-processed units against live quotes
	// instead of trusting the processing record alone.
	SpotCheck bool
}

// DefaultConfig returns the standard build bounds.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentStates:   4,
		MaxConcurrentCarriers: 3,
		MaxConcurrentFetches:  4,
		FlushBatchSize:        500,
	}
}

// Builder runs rate builds.
type Builder struct {
	source  csg.Client
	store   store.Store
	cache   *ratecache.Cache
	engine  *regions.Engine
	checker *spotcheck.Checker
	gaz     *gazetteer.Gazetteer
	cfg     Config
}

// New creates a Builder. The checker may be nil when spot checking is
// disabled.
func New(source csg.Client, s store.Store, cache *ratecache.Cache, engine *regions.Engine, checker *spotcheck.Checker, gaz *gazetteer.Gazetteer, cfg Config) *Builder {
	return &Builder{
		source:  source,
		store:   s,
		cache:   cache,
		engine:  engine,
		checker: checker,
		gaz:     gaz,
		cfg:     cfg,
	}
}

// Request names the units to build: the cross product of states and
// carriers at one effective date.
type Request struct {
	States        []string
	NAICs         []string
	EffectiveDate time.Time
}

// UnitStatus is the terminal state of one build unit.
type UnitStatus string

const (
	UnitAlreadyProcessed UnitStatus = "already-processed"
	UnitSkipped          UnitStatus = "skipped"
	UnitNoOffering       UnitStatus = "no-offering"
	UnitSaved            UnitStatus = "saved"
	UnitCopiedForward    UnitStatus = "copied-forward"
	UnitFailed           UnitStatus = "failed"
)

// UnitResult reports one unit's outcome.
type UnitResult struct {
	State      string
	NAIC       string
	Status     UnitStatus
	Regions    int
	RatesSaved int64
	Err        error
}

// Summary aggregates a run's unit results.
type Summary struct {
	Units []UnitResult
}

// Count returns how many units finished with the given status.
func (s *Summary) Count(status UnitStatus) int {
	n := 0
	for _, u := range s.Units {
		if u.Status == status {
			n++
		}
	}
	return n
}

// Run builds every requested unit. States fan out under one concurrency
// limit and carriers within a state under another. Unit failures are
// recorded and isolated; Run returns an error only when the context is
// cancelled.
func (b *Builder) Run(ctx context.Context, req Request) (*Summary, error) {
	if len(req.States) == 0 || len(req.NAICs) == 0 {
		return nil, eris.New("pipeline: no states or carriers requested")
	}
	effective := model.Date(req.EffectiveDate)

	summary := &Summary{}
	var mu sync.Mutex
	record := func(r UnitResult) {
		mu.Lock()
		summary.Units = append(summary.Units, r)
		mu.Unlock()
	}

	sg, ctx := errgroup.WithContext(ctx)
	sg.SetLimit(b.cfg.MaxConcurrentStates)
	for _, state := range req.States {
		sg.Go(func() error {
			cg, cctx := errgroup.WithContext(ctx)
			cg.SetLimit(b.cfg.MaxConcurrentCarriers)
			for _, naic := range req.NAICs {
				cg.Go(func() error {
					if err := cctx.Err(); err != nil {
						return err
					}
					record(b.buildUnit(cctx, state, naic, effective))
					return nil
				})
			}
			return cg.Wait()
		})
	}
	if err := sg.Wait(); err != nil {
		return summary, eris.Wrap(err, "pipeline: run aborted")
	}

	zap.L().Info("build run complete",
		zap.Int("units", len(summary.Units)),
		zap.Int("saved", summary.Count(UnitSaved)),
		zap.Int("copied_forward", summary.Count(UnitCopiedForward)),
		zap.Int("already_processed", summary.Count(UnitAlreadyProcessed)),
		zap.Int("failed", summary.Count(UnitFailed)),
	)
	return summary, nil
}

// buildUnit takes one (state, carrier) unit through the full lifecycle:
// processed check, discovery, pricing, flush, processing record. All
// failures collapse into a failed result with a failure record.
func (b *Builder) buildUnit(ctx context.Context, state, naic string, effective time.Time) UnitResult {
	log := zap.L().With(zap.String("state", state), zap.String("naic", naic))
	res := UnitResult{State: state, NAIC: naic}

	if !b.cfg.Force {
		done, err := b.alreadyProcessed(ctx, state, naic, effective)
		if err != nil {
			return b.fail(ctx, log, res, effective, err)
		}
		if done {
			res.Status = UnitAlreadyProcessed
			return res
		}

		if b.cfg.SpotCheck && b.checker != nil {
			copied, n, err := b.copyForward(ctx, log, state, naic, effective)
			if err != nil {
				return b.fail(ctx, log, res, effective, eris.Wrap(err, "copy forward"))
			}
			if copied {
				res.Status = UnitCopiedForward
				res.RatesSaved = n
				return res
			}
		}
	}

	disc, err := b.engine.Discover(ctx, state, naic, model.FormatDate(effective))
	if err != nil {
		return b.fail(ctx, log, res, effective, eris.Wrap(err, "discover"))
	}
	if disc.Skipped {
		res.Status = UnitSkipped
		return res
	}
	if len(disc.Regions) == 0 {
		log.Info("carrier has no offering in state")
		res.Status = UnitNoOffering
		return res
	}

	saved, err := b.store.SaveRegions(ctx, disc.Regions)
	if err != nil {
		return b.fail(ctx, log, res, effective, eris.Wrap(err, "save regions"))
	}
	res.Regions = len(saved)

	inserted, sourceDates, err := b.priceRegions(ctx, state, naic, effective, saved)
	if err != nil {
		return b.fail(ctx, log, res, effective, eris.Wrap(err, "price regions"))
	}
	res.RatesSaved = inserted

	err = b.store.RecordProcessing(ctx, model.ProcessingRecord{
		State:         state,
		NAIC:          naic,
		RequestedDate: effective,
		SourceDates:   sourceDates,
		Success:       true,
	})
	if err != nil {
		return b.fail(ctx, log, res, effective, eris.Wrap(err, "record processing"))
	}

	log.Info("unit built",
		zap.Int("regions", res.Regions),
		zap.Int64("rates", res.RatesSaved),
	)
	res.Status = UnitSaved
	return res
}

// alreadyProcessed reports whether a unit can be left alone: its record
// validates against stored rows, and when spot checking is on, a live
// sample agrees with the store.
func (b *Builder) alreadyProcessed(ctx context.Context, state, naic string, effective time.Time) (bool, error) {
	done, err := b.store.IsProcessed(ctx, state, naic, effective)
	if err != nil || !done {
		return false, err
	}
	if !b.cfg.SpotCheck || b.checker == nil {
		return true, nil
	}
	check, err := b.checker.Check(ctx, state, naic, effective)
	if err != nil {
		return false, err
	}
	if check.Changed {
		zap.L().Info("spot check forces rebuild",
			zap.String("state", state),
			zap.String("naic", naic),
			zap.String("reason", check.Reason),
		)
		return false, nil
	}
	return true, nil
}

// copyForward reuses a unit's latest stored rates for a later effective
// date when a live sample shows the carrier has not refiled. Returns false
// when the unit has no earlier rates or the sample found a difference, in
// which case the caller runs a full build.
func (b *Builder) copyForward(ctx context.Context, log *zap.Logger, state, naic string, effective time.Time) (bool, int64, error) {
	dates, err := b.store.EffectiveDatesFor(ctx, state, naic)
	if err != nil {
		return false, 0, eris.Wrap(err, "effective dates")
	}
	var prev time.Time
	for _, d := range dates {
		if d.Before(effective) {
			prev = d
		}
	}
	if prev.IsZero() {
		return false, 0, nil
	}

	check, err := b.checker.Check(ctx, state, naic, effective)
	if err != nil {
		return false, 0, eris.Wrap(err, "spot check")
	}
	if check.Changed {
		log.Info("rates changed since last build, refetching",
			zap.String("reason", check.Reason),
		)
		return false, 0, nil
	}

	n, err := b.cache.CopyForward(ctx, state, naic, prev, effective)
	if err != nil {
		return false, 0, err
	}
	err = b.store.RecordProcessing(ctx, model.ProcessingRecord{
		State:         state,
		NAIC:          naic,
		RequestedDate: effective,
		SourceDates:   []time.Time{effective},
		Success:       true,
	})
	if err != nil {
		return false, 0, eris.Wrap(err, "record processing")
	}

	log.Info("unit copied forward",
		zap.String("from", model.FormatDate(prev)),
		zap.Int64("rates", n),
	)
	return true, n, nil
}

// priceRegions quotes the demographic grid for each region with a bounded
// pool of fetches in flight, expands the age curve, and flushes rows in
// batches. It returns the rows inserted and the distinct effective dates
// the source asserted.
func (b *Builder) priceRegions(ctx context.Context, state, naic string, effective time.Time, regionList []model.RatingRegion) (int64, []time.Time, error) {
	demos := baseDemographics(state)

	var mu sync.Mutex
	var inserted int64
	var batch []model.RateQuote
	sourceDates := make(map[time.Time]bool)

	// flushLocked writes the pending batch; callers hold mu, so fetches
	// overlap but writes stay serialized.
	flushLocked := func(ctx context.Context) error {
		if len(batch) == 0 {
			return nil
		}
		res, err := b.cache.Put(ctx, batch)
		if err != nil {
			return err
		}
		inserted += res.Inserted
		batch = batch[:0]
		return nil
	}

	for _, region := range regionList {
		probeZip := b.probeZip(state, region)
		if probeZip == "" {
			return 0, nil, eris.Errorf("no probe zip for region %s", region.ID)
		}

		limit := b.cfg.MaxConcurrentFetches
		if limit <= 0 {
			limit = 1
		}
		fg, fctx := errgroup.WithContext(ctx)
		fg.SetLimit(limit)
		for _, demo := range demos {
			fg.Go(func() error {
				quotes, err := b.quoteDemo(fctx, naic, probeZip, demo, effective)
				if err != nil {
					return err
				}

				mu.Lock()
				defer mu.Unlock()
				for _, q := range quotes {
					sourceDates[model.Date(q.EffectiveDate)] = true
					batch = append(batch, rates.Expand(q, region.ID)...)
				}
				if len(batch) >= b.cfg.FlushBatchSize {
					return flushLocked(fctx)
				}
				return nil
			})
		}
		if err := fg.Wait(); err != nil {
			return 0, nil, err
		}
	}

	mu.Lock()
	err := flushLocked(ctx)
	mu.Unlock()
	if err != nil {
		return 0, nil, err
	}

	dates := make([]time.Time, 0, len(sourceDates))
	for d := range sourceDates {
		dates = append(dates, d)
	}
	return inserted, dates, nil
}

func (b *Builder) quoteDemo(ctx context.Context, naic, zip string, demo model.Demographic, effective time.Time) ([]csg.Quote, error) {
	tobacco := 0
	if demo.Tobacco {
		tobacco = 1
	}
	quotes, err := b.source.Quotes(ctx, csg.QuoteParams{
		Zip5:           zip,
		Age:            demo.Age,
		Gender:         demo.Gender,
		Tobacco:        tobacco,
		Plan:           demo.Plan,
		EffectiveDate:  model.FormatDate(effective),
		NAIC:           naic,
		ApplyDiscounts: 1,
		ApplyFees:      1,
	})
	if err != nil {
		return nil, err
	}
	return csg.FilterQuotes(quotes), nil
}

func (b *Builder) probeZip(state string, region model.RatingRegion) string {
	if len(region.Locations) == 0 {
		return ""
	}
	if region.Kind == model.MappingByZip {
		return region.Locations[0]
	}
	for _, county := range region.Locations {
		if z := b.gaz.RepresentativeZip(state, county); z != "" {
			return z
		}
	}
	return ""
}

// fail records the failure and returns a failed result. Context
// cancellation is not a unit failure and leaves no record.
func (b *Builder) fail(ctx context.Context, log *zap.Logger, res UnitResult, effective time.Time, err error) UnitResult {
	res.Status = UnitFailed
	res.Err = err
	if ctx.Err() != nil {
		return res
	}

	log.Error("unit failed", zap.Error(err))
	recErr := b.store.RecordProcessing(ctx, model.ProcessingRecord{
		State:         res.State,
		NAIC:          res.NAIC,
		RequestedDate: effective,
		Success:       false,
	})
	if recErr != nil {
		log.Error("could not record unit failure", zap.Error(recErr))
	}
	return res
}

// baseDemographics is the grid actually quoted: anchor ages only, since
// age-increase expansion fills the years in between.
func baseDemographics(state string) []model.Demographic {
	return rates.Demographics(state)
}
