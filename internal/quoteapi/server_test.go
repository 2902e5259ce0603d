package quoteapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blitzquote/rate-engine/internal/gazetteer"
	"github.com/blitzquote/rate-engine/internal/model"
	"github.com/blitzquote/rate-engine/internal/ratecache"
	"github.com/blitzquote/rate-engine/internal/store"
	"github.com/blitzquote/rate-engine/pkg/csg"
)

type fakeSource struct {
	quotes []csg.Quote
	err    error
	calls  int
}

func (f *fakeSource) Quotes(_ context.Context, _ csg.QuoteParams) ([]csg.Quote, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.quotes, nil
}

func (f *fakeSource) Companies(context.Context) ([]csg.Company, error) {
	return nil, nil
}

func newTestServer(t *testing.T, source csg.Client) (*httptest.Server, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "rates.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	gaz, err := gazetteer.Parse(strings.NewReader("zip,state,county\n75001,TX,Dallas\n"))
	require.NoError(t, err)

	srv := New(ratecache.New(s, gaz), s, gaz, source)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, s
}

func seedRates(t *testing.T, s *store.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveCarriers(ctx, []model.CarrierInfo{
		{NAIC: "12345", CompanyName: "Acme Mutual", Selected: true},
	}))
	saved, err := s.SaveRegions(ctx, []model.RatingRegion{
		{NAIC: "12345", State: "TX", Kind: model.MappingByZip, Locations: []string{"75001"}},
	})
	require.NoError(t, err)
	_, err = s.SaveRates(ctx, []model.RateQuote{{
		RegionID: saved[0].ID, NAIC: "12345", State: "TX",
		Demographic:   model.Demographic{Age: 65, Gender: "M", Plan: "G"},
		Rate:          128.50, DiscountRate: 119.51,
		EffectiveDate: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}})
	require.NoError(t, err)
}

func get(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

const quotePath = "/quotes?state=TX&zip_code=75001&age=65&gender=M&plan=G&effective_date=2025-04-15"

func TestQuotes_ReturnsStoredRate(t *testing.T) {
	ts, s := newTestServer(t, nil)
	seedRates(t, s)

	resp := get(t, ts, quotePath)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out []CarrierQuotes
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 1)
	assert.Equal(t, "12345", out[0].NAIC)
	assert.Equal(t, "Acme Mutual", out[0].CompanyName)
	require.Len(t, out[0].Quotes, 1)
	assert.InDelta(t, 128.50, out[0].Quotes[0].Rate, 0.001)
	assert.InDelta(t, 119.51, out[0].Quotes[0].DiscountRate, 0.001)
}

func TestQuotes_Validation(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	cases := map[string]string{
		"missing params": "/quotes",
		"bad state":      "/quotes?state=ZZ&zip_code=75001&age=65&gender=M&plan=G",
		"bad zip":        "/quotes?state=TX&zip_code=7500a&age=65&gender=M&plan=G",
		"unknown zip":    "/quotes?state=TX&zip_code=99999&age=65&gender=M&plan=G",
		"bad gender":     "/quotes?state=TX&zip_code=75001&age=65&gender=X&plan=G",
		"bad age":        "/quotes?state=TX&zip_code=75001&age=old&gender=M&plan=G",
		"no plan":        "/quotes?state=TX&zip_code=75001&age=65&gender=M",
		"bad date":       quotePath[:len(quotePath)-10] + "04/15/2025",
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			resp := get(t, ts, path)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body["detail"])
		})
	}
}

func TestQuotes_EmptyWhenNoRatesAndNoSource(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp := get(t, ts, quotePath)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out []CarrierQuotes
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Empty(t, out)
}

func TestQuotes_LiveFallbackOnCacheMiss(t *testing.T) {
	source := &fakeSource{quotes: []csg.Quote{{
		NAIC: "67890", CompanyName: "Umbrella Life", State: "TX",
		Age: 65, Gender: "M", Plan: "G",
		Rate: 140.25, DiscountPct: 0.07,
		EffectiveDate: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}}}
	ts, _ := newTestServer(t, source)

	resp := get(t, ts, quotePath)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, source.calls)

	var out []CarrierQuotes
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 1)
	assert.Equal(t, "67890", out[0].NAIC)
	assert.Equal(t, "Umbrella Life", out[0].CompanyName)
	require.Len(t, out[0].Quotes, 1)
	assert.InDelta(t, 140.25, out[0].Quotes[0].Rate, 0.001)
	assert.InDelta(t, 140.25*0.93, out[0].Quotes[0].DiscountRate, 0.001)
}

func TestQuotes_CacheHitSkipsSource(t *testing.T) {
	source := &fakeSource{}
	ts, s := newTestServer(t, source)
	seedRates(t, s)

	resp := get(t, ts, quotePath)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, source.calls)
}

func TestQuotes_SourceDownReturnsBadGateway(t *testing.T) {
	source := &fakeSource{err: eris.New("connection refused")}
	ts, _ := newTestServer(t, source)

	resp := get(t, ts, quotePath)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "quote source unavailable", body["detail"])
}

func TestQuotes_NAICFilter(t *testing.T) {
	ts, s := newTestServer(t, nil)
	seedRates(t, s)

	resp := get(t, ts, quotePath+"&naic=99999")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out []CarrierQuotes
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Empty(t, out)

	resp = get(t, ts, quotePath+"&naic=12345")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Len(t, out, 1)
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp := get(t, ts, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
