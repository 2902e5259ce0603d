package ratecache

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blitzquote/rate-engine/internal/gazetteer"
	"github.com/blitzquote/rate-engine/internal/model"
	"github.com/blitzquote/rate-engine/internal/store"
)

const testGazetteer = `zip,state,county
75001,TX,Dallas
75002,TX,Collin
`

func newTestCache(t *testing.T) (*Cache, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "rates.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	gaz, err := gazetteer.Parse(strings.NewReader(testGazetteer))
	require.NoError(t, err)

	return New(s, gaz), s
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seedCarrier(t *testing.T, s *store.SQLiteStore, naic string, kind model.MappingKind, locations []string) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveCarriers(ctx, []model.CarrierInfo{
		{NAIC: naic, CompanyName: "Carrier " + naic, Selected: true},
	}))
	regions, err := s.SaveRegions(ctx, []model.RatingRegion{
		{NAIC: naic, State: "TX", Kind: kind, Locations: locations},
	})
	require.NoError(t, err)
	return regions[0].ID
}

func TestPut_VerifiesWrite(t *testing.T) {
	c, s := newTestCache(t)
	regionID := seedCarrier(t, s, "12345", model.MappingByZip, []string{"75001"})

	rows := []model.RateQuote{{
		RegionID: regionID, NAIC: "12345", State: "TX",
		Demographic: model.Demographic{Age: 65, Gender: "M", Plan: "G"},
		Rate:        100, DiscountRate: 93,
		EffectiveDate: date(2025, 4, 1),
	}}

	res, err := c.Put(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Inserted)

	// Re-putting the same batch is a verified no-op.
	res, err = c.Put(context.Background(), rows)
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)
}

// undercountingStore reports fewer persisted rows than a batch holds,
// simulating a flush that silently lost writes.
type undercountingStore struct {
	store.Store
}

func (s undercountingStore) CountRates(context.Context, string, string, []time.Time) (int64, error) {
	return 1, nil
}

func TestPut_FailsWhenRowsGoMissing(t *testing.T) {
	_, s := newTestCache(t)
	regionID := seedCarrier(t, s, "12345", model.MappingByZip, []string{"75001"})

	c := New(undercountingStore{s}, nil)
	_, err := c.Put(context.Background(), []model.RateQuote{
		{RegionID: regionID, NAIC: "12345", State: "TX",
			Demographic: model.Demographic{Age: 65, Gender: "M", Plan: "G"},
			Rate:        100, DiscountRate: 93,
			EffectiveDate: date(2025, 4, 1)},
		{RegionID: regionID, NAIC: "12345", State: "TX",
			Demographic: model.Demographic{Age: 66, Gender: "M", Plan: "G"},
			Rate:        105, DiscountRate: 97.65,
			EffectiveDate: date(2025, 4, 1)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected at least 2")
}

func TestPut_EmptyBatch(t *testing.T) {
	c, _ := newTestCache(t)
	res, err := c.Put(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)
}

func TestLookup_ZipMappedCarrier(t *testing.T) {
	c, s := newTestCache(t)
	regionID := seedCarrier(t, s, "12345", model.MappingByZip, []string{"75001"})

	_, err := c.Put(context.Background(), []model.RateQuote{{
		RegionID: regionID, NAIC: "12345", State: "TX",
		Demographic: model.Demographic{Age: 65, Gender: "M", Plan: "G"},
		Rate:        100, DiscountRate: 93,
		EffectiveDate: date(2025, 4, 1),
	}})
	require.NoError(t, err)

	quotes, err := c.Lookup(context.Background(), LookupQuery{
		State: "TX", Zip: "75001",
		Demographic: model.Demographic{Age: 65, Gender: "M", Plan: "G"},
		AsOf:        date(2025, 4, 15),
	})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.InDelta(t, 100.0, quotes[0].Rate, 0.001)

	// A ZIP outside the carrier's regions returns nothing.
	quotes, err = c.Lookup(context.Background(), LookupQuery{
		State: "TX", Zip: "75002",
		Demographic: model.Demographic{Age: 65, Gender: "M", Plan: "G"},
		AsOf:        date(2025, 4, 15),
	})
	require.NoError(t, err)
	assert.Empty(t, quotes)
}

func TestLookup_CountyMappedCarrierResolvesZip(t *testing.T) {
	c, s := newTestCache(t)
	regionID := seedCarrier(t, s, "67890", model.MappingByCounty, []string{"DALLAS"})

	_, err := c.Put(context.Background(), []model.RateQuote{{
		RegionID: regionID, NAIC: "67890", State: "TX",
		Demographic: model.Demographic{Age: 70, Gender: "F", Plan: "N"},
		Rate:        80, DiscountRate: 75,
		EffectiveDate: date(2025, 4, 1),
	}})
	require.NoError(t, err)

	// Query by ZIP only: the gazetteer resolves 75001 to Dallas county.
	quotes, err := c.Lookup(context.Background(), LookupQuery{
		State: "TX", Zip: "75001",
		Demographic: model.Demographic{Age: 70, Gender: "F", Plan: "N"},
		AsOf:        date(2025, 5, 1),
	})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "67890", quotes[0].NAIC)
}

func TestLookup_UndiscoveredCarrierSkipped(t *testing.T) {
	c, s := newTestCache(t)
	require.NoError(t, s.SaveCarriers(context.Background(), []model.CarrierInfo{
		{NAIC: "11111", CompanyName: "No Regions Yet", Selected: true},
	}))

	quotes, err := c.Lookup(context.Background(), LookupQuery{
		State: "TX", Zip: "75001",
		Demographic: model.Demographic{Age: 65, Gender: "M", Plan: "G"},
		AsOf:        date(2025, 4, 15),
	})
	require.NoError(t, err)
	assert.Empty(t, quotes)
}

func TestCopyForward_RejectsBackwards(t *testing.T) {
	c, _ := newTestCache(t)
	_, err := c.CopyForward(context.Background(), "TX", "", date(2025, 5, 1), date(2025, 4, 1))
	require.Error(t, err)
}

func TestCopyForward(t *testing.T) {
	c, s := newTestCache(t)
	regionID := seedCarrier(t, s, "12345", model.MappingByZip, []string{"75001"})

	_, err := c.Put(context.Background(), []model.RateQuote{{
		RegionID: regionID, NAIC: "12345", State: "TX",
		Demographic: model.Demographic{Age: 65, Gender: "M", Plan: "G"},
		Rate:        100, DiscountRate: 93,
		EffectiveDate: date(2025, 4, 1),
	}})
	require.NoError(t, err)

	n, err := c.CopyForward(context.Background(), "TX", "", date(2025, 4, 1), date(2025, 5, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	quotes, err := c.Lookup(context.Background(), LookupQuery{
		State: "TX", Zip: "75001", NAIC: "12345",
		Demographic: model.Demographic{Age: 65, Gender: "M", Plan: "G"},
		AsOf:        date(2025, 5, 10),
	})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, date(2025, 5, 1), quotes[0].EffectiveDate)
}
