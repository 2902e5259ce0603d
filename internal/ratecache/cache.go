// Package ratecache is the domain service over the temporal rate store: it
// flushes rate batches with post-write verification, answers point lookups
// by location through the region mapping, and copies rates forward across
// effective dates.
package ratecache

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/blitzquote/rate-engine/internal/gazetteer"
	"github.com/blitzquote/rate-engine/internal/model"
	"github.com/blitzquote/rate-engine/internal/store"
)

// Cache wraps the store with region-aware lookup semantics.
type Cache struct {
	store store.Store
	gaz   *gazetteer.Gazetteer
}

// New creates a Cache. The gazetteer may be nil when only ZIP-keyed lookups
// are needed.
func New(s store.Store, gaz *gazetteer.Gazetteer) *Cache {
	return &Cache{store: s, gaz: gaz}
}

// LookupQuery identifies one priced point: a location, a demographic, and
// an as-of date. NAIC narrows the lookup to one carrier; empty means all
// selected carriers.
type LookupQuery struct {
	State       string
	Zip         string
	County      string
	NAIC        string
	Demographic model.Demographic
	AsOf        time.Time
}

// Put flushes a batch of rate rows and verifies the write by re-counting.
// A batch that reports fewer persisted rows than sent (beyond already-known
// duplicates) indicates a write problem worth failing the unit over.
func (c *Cache) Put(ctx context.Context, rows []model.RateQuote) (*store.SaveResult, error) {
	if len(rows) == 0 {
		return &store.SaveResult{}, nil
	}

	res, err := c.store.SaveRates(ctx, rows)
	if err != nil {
		return nil, eris.Wrap(err, "ratecache: save rates")
	}

	dates := distinctDates(rows)
	count, err := c.store.CountRates(ctx, rows[0].State, rows[0].NAIC, dates)
	if err != nil {
		return nil, eris.Wrap(err, "ratecache: verify write")
	}
	if expected := distinctKeys(rows); count < expected {
		return nil, eris.Errorf("ratecache: verification counted %d rows for %s/%s, expected at least %d",
			count, rows[0].State, rows[0].NAIC, expected)
	}

	zap.L().Debug("rate batch flushed",
		zap.String("state", rows[0].State),
		zap.String("naic", rows[0].NAIC),
		zap.Int("sent", len(rows)),
		zap.Int64("inserted", res.Inserted),
		zap.Int64("corrections", res.Corrections),
	)
	return res, nil
}

// Lookup resolves the query's location to a region for each candidate
// carrier and returns the floor-date rate per carrier. Carriers without a
// region containing the location, or without a rate at or before AsOf, are
// skipped.
func (c *Cache) Lookup(ctx context.Context, q LookupQuery) ([]model.RateQuote, error) {
	naics := []string{q.NAIC}
	if q.NAIC == "" {
		carriers, err := c.store.Carriers(ctx, true)
		if err != nil {
			return nil, eris.Wrap(err, "ratecache: list carriers")
		}
		naics = naics[:0]
		for _, carrier := range carriers {
			naics = append(naics, carrier.NAIC)
		}
	}

	var out []model.RateQuote
	for _, naic := range naics {
		quote, err := c.lookupOne(ctx, naic, q)
		if err != nil {
			return nil, err
		}
		if quote != nil {
			out = append(out, *quote)
		}
	}
	return out, nil
}

func (c *Cache) lookupOne(ctx context.Context, naic string, q LookupQuery) (*model.RateQuote, error) {
	kind, err := c.store.MappingFor(ctx, q.State, naic)
	if err != nil {
		return nil, eris.Wrap(err, "ratecache: mapping lookup")
	}
	if kind == "" {
		return nil, nil
	}

	location := q.Zip
	if kind == model.MappingByCounty {
		location = q.County
		if location == "" && c.gaz != nil {
			counties := c.gaz.CountiesForZip(q.Zip)
			if len(counties) == 0 {
				return nil, nil
			}
			location = counties[0]
		}
		location = gazetteer.NormalizeCounty(location)
	}
	if location == "" {
		return nil, nil
	}

	regionID, err := c.store.RegionForLocation(ctx, q.State, naic, location)
	if err != nil {
		return nil, eris.Wrap(err, "ratecache: region lookup")
	}
	if regionID == "" {
		return nil, nil
	}

	return c.store.RateFor(ctx, regionID, naic, q.Demographic, q.AsOf)
}

// CopyForward duplicates a state's rates from one effective date to a later
// one. An empty naic copies every carrier. It refuses to copy backwards.
func (c *Cache) CopyForward(ctx context.Context, state, naic string, from, to time.Time) (int64, error) {
	if !to.After(from) {
		return 0, eris.Errorf("ratecache: copy forward target %s is not after source %s",
			model.FormatDate(to), model.FormatDate(from))
	}
	n, err := c.store.CopyForward(ctx, state, naic, from, to)
	if err != nil {
		return 0, eris.Wrap(err, "ratecache: copy forward")
	}
	zap.L().Info("rates copied forward",
		zap.String("state", state),
		zap.String("naic", naic),
		zap.String("from", model.FormatDate(from)),
		zap.String("to", model.FormatDate(to)),
		zap.Int64("rows", n),
	)
	return n, nil
}

// distinctKeys counts the unique rate identities in a batch. After a flush
// every one of them must exist at the batch's dates, whether this Put
// inserted it or an earlier one did.
func distinctKeys(rows []model.RateQuote) int64 {
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		seen[fmt.Sprintf("%s|%s|%t|%d|%s|%s",
			r.RegionID, r.Demographic.Gender, r.Demographic.Tobacco,
			r.Demographic.Age, r.Demographic.Plan, model.FormatDate(r.EffectiveDate))] = true
	}
	return int64(len(seen))
}

func distinctDates(rows []model.RateQuote) []time.Time {
	seen := make(map[time.Time]bool)
	var dates []time.Time
	for _, r := range rows {
		d := model.Date(r.EffectiveDate)
		if !seen[d] {
			seen[d] = true
			dates = append(dates, d)
		}
	}
	return dates
}
