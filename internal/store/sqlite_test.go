package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blitzquote/rate-engine/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "rates.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seedRegion(t *testing.T, s *SQLiteStore, naic, state string, kind model.MappingKind, locations []string) model.RatingRegion {
	t.Helper()
	saved, err := s.SaveRegions(context.Background(), []model.RatingRegion{
		{NAIC: naic, State: state, Kind: kind, Locations: locations},
	})
	require.NoError(t, err)
	require.Len(t, saved, 1)
	return saved[0]
}

func TestSQLiteStore_SaveRegions_CollapsesOnHash(t *testing.T) {
	s := newTestSQLite(t)

	first := seedRegion(t, s, "12345", "TX", model.MappingByZip, []string{"75001", "75002"})
	// Same location set in a different order reuses the existing region.
	second := seedRegion(t, s, "12345", "TX", model.MappingByZip, []string{"75002", "75001"})
	assert.Equal(t, first.ID, second.ID)

	// A different set gets a new region.
	third := seedRegion(t, s, "12345", "TX", model.MappingByZip, []string{"75003"})
	assert.NotEqual(t, first.ID, third.ID)

	regions, err := s.RegionsFor(context.Background(), "TX", "12345")
	require.NoError(t, err)
	assert.Len(t, regions, 2)
}

func TestSQLiteStore_SaveRegions_BatchIsAtomic(t *testing.T) {
	s := newTestSQLite(t)

	// The second region repeats a location, violating the member key. The
	// first region must not survive the failed batch.
	_, err := s.SaveRegions(context.Background(), []model.RatingRegion{
		{NAIC: "12345", State: "TX", Kind: model.MappingByZip, Locations: []string{"75001"}},
		{NAIC: "12345", State: "TX", Kind: model.MappingByZip, Locations: []string{"75002", "75002"}},
	})
	require.Error(t, err)

	regions, err := s.RegionsFor(context.Background(), "TX", "12345")
	require.NoError(t, err)
	assert.Empty(t, regions)

	// A clean retry of the same discovery saves both regions.
	saved, err := s.SaveRegions(context.Background(), []model.RatingRegion{
		{NAIC: "12345", State: "TX", Kind: model.MappingByZip, Locations: []string{"75001"}},
		{NAIC: "12345", State: "TX", Kind: model.MappingByZip, Locations: []string{"75002"}},
	})
	require.NoError(t, err)
	assert.Len(t, saved, 2)
}

func TestSQLiteStore_MappingForAndRegionForLocation(t *testing.T) {
	s := newTestSQLite(t)
	region := seedRegion(t, s, "12345", "TX", model.MappingByCounty, []string{"DALLAS", "COLLIN"})

	kind, err := s.MappingFor(context.Background(), "TX", "12345")
	require.NoError(t, err)
	assert.Equal(t, model.MappingByCounty, kind)

	id, err := s.RegionForLocation(context.Background(), "TX", "12345", "COLLIN")
	require.NoError(t, err)
	assert.Equal(t, region.ID, id)

	id, err = s.RegionForLocation(context.Background(), "TX", "12345", "TARRANT")
	require.NoError(t, err)
	assert.Empty(t, id)

	kind, err = s.MappingFor(context.Background(), "OH", "12345")
	require.NoError(t, err)
	assert.Empty(t, kind)
}

func TestSQLiteStore_SaveRates_InsertOnlyWithCorrections(t *testing.T) {
	s := newTestSQLite(t)
	region := seedRegion(t, s, "12345", "TX", model.MappingByZip, []string{"75001"})

	row := model.RateQuote{
		RegionID: region.ID, NAIC: "12345", State: "TX",
		Demographic:   model.Demographic{Age: 65, Gender: "M", Plan: "G"},
		Rate:          100.00, DiscountRate: 93.00,
		EffectiveDate: date(2025, 4, 1),
	}

	res, err := s.SaveRates(context.Background(), []model.RateQuote{row})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Inserted)
	assert.Zero(t, res.Corrections)

	// Same row again: no insert, no correction.
	res, err = s.SaveRates(context.Background(), []model.RateQuote{row})
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)
	assert.Zero(t, res.Corrections)

	// Differing re-fetch: stored value kept, correction logged.
	changed := row
	changed.Rate = 101.00
	res, err = s.SaveRates(context.Background(), []model.RateQuote{changed})
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)
	assert.Equal(t, int64(1), res.Corrections)

	got, err := s.RateFor(context.Background(), region.ID, "12345",
		row.Demographic, date(2025, 4, 1))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 100.00, got.Rate, 0.001)
}

func TestSQLiteStore_RateFor_FloorDateRule(t *testing.T) {
	s := newTestSQLite(t)
	region := seedRegion(t, s, "12345", "TX", model.MappingByZip, []string{"75001"})

	demo := model.Demographic{Age: 65, Gender: "F", Plan: "N"}
	for _, d := range []time.Time{date(2025, 3, 1), date(2025, 5, 1)} {
		_, err := s.SaveRates(context.Background(), []model.RateQuote{{
			RegionID: region.ID, NAIC: "12345", State: "TX",
			Demographic: demo, Rate: float64(d.Month()), DiscountRate: float64(d.Month()),
			EffectiveDate: d,
		}})
		require.NoError(t, err)
	}

	// Between the two filings, the March rate applies.
	got, err := s.RateFor(context.Background(), region.ID, "12345", demo, date(2025, 4, 15))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, date(2025, 3, 1), got.EffectiveDate)

	// After the May filing, the May rate applies.
	got, err = s.RateFor(context.Background(), region.ID, "12345", demo, date(2025, 6, 1))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, date(2025, 5, 1), got.EffectiveDate)

	// Before any filing, there is no rate.
	got, err = s.RateFor(context.Background(), region.ID, "12345", demo, date(2025, 1, 1))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_RatesAsOf(t *testing.T) {
	s := newTestSQLite(t)
	region := seedRegion(t, s, "12345", "TX", model.MappingByZip, []string{"75001"})

	for _, age := range []int{65, 66} {
		_, err := s.SaveRates(context.Background(), []model.RateQuote{{
			RegionID: region.ID, NAIC: "12345", State: "TX",
			Demographic: model.Demographic{Age: age, Gender: "M", Plan: "G"},
			Rate:        100, DiscountRate: 93,
			EffectiveDate: date(2025, 4, 1),
		}})
		require.NoError(t, err)
	}

	rows, err := s.RatesAsOf(context.Background(), region.ID, date(2025, 4, 20))
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = s.RatesAsOf(context.Background(), region.ID, date(2025, 3, 1))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSQLiteStore_CopyForward(t *testing.T) {
	s := newTestSQLite(t)
	region := seedRegion(t, s, "12345", "TX", model.MappingByZip, []string{"75001"})

	_, err := s.SaveRates(context.Background(), []model.RateQuote{{
		RegionID: region.ID, NAIC: "12345", State: "TX",
		Demographic: model.Demographic{Age: 65, Gender: "M", Plan: "G"},
		Rate:        100, DiscountRate: 93,
		EffectiveDate: date(2025, 4, 1),
	}})
	require.NoError(t, err)

	n, err := s.CopyForward(context.Background(), "TX", "", date(2025, 4, 1), date(2025, 5, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// A second copy is a no-op.
	n, err = s.CopyForward(context.Background(), "TX", "", date(2025, 4, 1), date(2025, 5, 1))
	require.NoError(t, err)
	assert.Zero(t, n)

	// A carrier filter that matches nothing copies nothing.
	n, err = s.CopyForward(context.Background(), "TX", "99999", date(2025, 4, 1), date(2025, 6, 1))
	require.NoError(t, err)
	assert.Zero(t, n)

	// Scoped to the carrier that does have rows.
	n, err = s.CopyForward(context.Background(), "TX", "12345", date(2025, 5, 1), date(2025, 6, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	dates, err := s.EffectiveDatesFor(context.Background(), "TX", "12345")
	require.NoError(t, err)
	assert.Equal(t, []time.Time{date(2025, 4, 1), date(2025, 5, 1), date(2025, 6, 1)}, dates)
}

func TestSQLiteStore_IsProcessed_OrphanDetection(t *testing.T) {
	s := newTestSQLite(t)
	region := seedRegion(t, s, "12345", "TX", model.MappingByZip, []string{"75001"})

	requested := date(2025, 4, 1)
	rec := model.ProcessingRecord{
		State: "TX", NAIC: "12345", RequestedDate: requested,
		SourceDates: []time.Time{date(2025, 4, 1)},
		Success:     true,
	}
	require.NoError(t, s.RecordProcessing(context.Background(), rec))

	// Success record but no rate rows behind it: orphan, reports unprocessed.
	ok, err := s.IsProcessed(context.Background(), "TX", "12345", requested)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.SaveRates(context.Background(), []model.RateQuote{{
		RegionID: region.ID, NAIC: "12345", State: "TX",
		Demographic: model.Demographic{Age: 65, Gender: "M", Plan: "G"},
		Rate:        100, DiscountRate: 93,
		EffectiveDate: date(2025, 4, 1),
	}})
	require.NoError(t, err)

	ok, err = s.IsProcessed(context.Background(), "TX", "12345", requested)
	require.NoError(t, err)
	assert.True(t, ok)

	// Failed records never count as processed.
	rec.Success = false
	require.NoError(t, s.RecordProcessing(context.Background(), rec))
	ok, err = s.IsProcessed(context.Background(), "TX", "12345", requested)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_Carriers(t *testing.T) {
	s := newTestSQLite(t)

	carriers := []model.CarrierInfo{
		{NAIC: "12345", CompanyName: "Acme Mutual", Category: 0, Selected: true},
		{NAIC: "67890", CompanyName: "Umbrella Life", Category: 2, Selected: false},
	}
	require.NoError(t, s.SaveCarriers(context.Background(), carriers))

	all, err := s.Carriers(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	selected, err := s.Carriers(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, "12345", selected[0].NAIC)

	// Upsert updates selection in place.
	carriers[1].Selected = true
	require.NoError(t, s.SaveCarriers(context.Background(), carriers))
	selected, err = s.Carriers(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, selected, 2)
}

func TestSQLiteStore_CheckIntegrity(t *testing.T) {
	s := newTestSQLite(t)

	empty := seedRegion(t, s, "12345", "TX", model.MappingByZip, []string{"75001"})
	full := seedRegion(t, s, "12345", "TX", model.MappingByZip, []string{"75002"})

	_, err := s.SaveRates(context.Background(), []model.RateQuote{{
		RegionID: full.ID, NAIC: "12345", State: "TX",
		Demographic: model.Demographic{Age: 65, Gender: "M", Plan: "G"},
		Rate:        100, DiscountRate: 93,
		EffectiveDate: date(2025, 4, 1),
	}})
	require.NoError(t, err)

	require.NoError(t, s.RecordProcessing(context.Background(), model.ProcessingRecord{
		State: "WY", NAIC: "99999", RequestedDate: date(2025, 4, 1), Success: true,
	}))

	report, err := s.CheckIntegrity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Regions)
	assert.Equal(t, int64(1), report.Rates)
	assert.Equal(t, []string{empty.ID}, report.EmptyRegions)
	assert.Zero(t, report.DanglingRateRefs)
	require.Len(t, report.OrphanRecords, 1)
	assert.Equal(t, "WY", report.OrphanRecords[0].State)
}

func TestSQLiteStore_RepairOrphans(t *testing.T) {
	s := newTestSQLite(t)

	region := seedRegion(t, s, "12345", "TX", model.MappingByZip, []string{"75001"})
	_, err := s.SaveRates(context.Background(), []model.RateQuote{{
		RegionID: region.ID, NAIC: "12345", State: "TX",
		Demographic: model.Demographic{Age: 65, Gender: "M", Plan: "G"},
		Rate:        100, DiscountRate: 93,
		EffectiveDate: date(2025, 4, 1),
	}})
	require.NoError(t, err)

	for _, rec := range []model.ProcessingRecord{
		{State: "TX", NAIC: "12345", RequestedDate: date(2025, 4, 1), SourceDates: []time.Time{date(2025, 4, 1)}, Success: true},
		{State: "WY", NAIC: "99999", RequestedDate: date(2025, 4, 1), Success: true},
		{State: "OH", NAIC: "88888", RequestedDate: date(2025, 4, 1), Success: false},
	} {
		require.NoError(t, s.RecordProcessing(context.Background(), rec))
	}

	removed, err := s.RepairOrphans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	// The backed record survives, and failed records are untouched.
	ok, err := s.IsProcessed(context.Background(), "TX", "12345", date(2025, 4, 1))
	require.NoError(t, err)
	assert.True(t, ok)

	report, err := s.CheckIntegrity(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.OrphanRecords)
}
