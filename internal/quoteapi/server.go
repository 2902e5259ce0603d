// Package quoteapi serves premium quotes over HTTP from the rate cache.
// The surface is a single quotes endpoint keyed by location, demographic,
// and effective date, with an optional live-source fallback on cache miss.
package quoteapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/blitzquote/rate-engine/internal/gazetteer"
	"github.com/blitzquote/rate-engine/internal/model"
	"github.com/blitzquote/rate-engine/internal/ratecache"
	"github.com/blitzquote/rate-engine/internal/store"
	"github.com/blitzquote/rate-engine/pkg/csg"
)

var validStates = map[string]bool{
	"AL": true, "AK": true, "AZ": true, "AR": true, "CA": true, "CO": true,
	"CT": true, "DE": true, "FL": true, "GA": true, "HI": true, "ID": true,
	"IL": true, "IN": true, "IA": true, "KS": true, "KY": true, "LA": true,
	"ME": true, "MD": true, "MA": true, "MI": true, "MN": true, "MS": true,
	"MO": true, "MT": true, "NE": true, "NV": true, "NH": true, "NJ": true,
	"NM": true, "NY": true, "NC": true, "ND": true, "OH": true, "OK": true,
	"OR": true, "PA": true, "RI": true, "SC": true, "SD": true, "TN": true,
	"TX": true, "UT": true, "VT": true, "VA": true, "WA": true, "WV": true,
	"WI": true, "WY": true, "DC": true,
}

// Server exposes the quote lookup API.
type Server struct {
	cache  *ratecache.Cache
	store  store.Store
	gaz    *gazetteer.Gazetteer
	source csg.Client
}

// New creates a Server. A nil source disables the live fallback; cache
// misses then return empty result sets.
func New(cache *ratecache.Cache, s store.Store, gaz *gazetteer.Gazetteer, source csg.Client) *Server {
	return &Server{cache: cache, store: s, gaz: gaz, source: source}
}

// Router builds the HTTP handler: CORS, request ID, panic recovery, routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/quotes", s.handleQuotes)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// QuoteItem is one priced demographic point in a response.
type QuoteItem struct {
	Age          int     `json:"age"`
	Gender       string  `json:"gender"`
	Plan         string  `json:"plan"`
	Tobacco      bool    `json:"tobacco"`
	Rate         float64 `json:"rate"`
	DiscountRate float64 `json:"discount_rate"`
}

// CarrierQuotes groups a response's quote items by carrier.
type CarrierQuotes struct {
	NAIC        string      `json:"naic"`
	CompanyName string      `json:"company_name"`
	Quotes      []QuoteItem `json:"quotes"`
}

type quotesQuery struct {
	state   string
	zip     string
	county  string
	age     int
	gender  string
	tobacco bool
	plans   []string
	naics   []string
	asOf    time.Time
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	q, errMsg := s.parseQuotesQuery(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	names, err := s.carrierNames(r)
	if err != nil {
		zap.L().Error("carrier name lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "carrier lookup failed")
		return
	}

	byCarrier := make(map[string]*CarrierQuotes)
	var order []string
	collect := func(rows []model.RateQuote) {
		for _, row := range rows {
			entry := byCarrier[row.NAIC]
			if entry == nil {
				entry = &CarrierQuotes{NAIC: row.NAIC, CompanyName: names[row.NAIC]}
				byCarrier[row.NAIC] = entry
				order = append(order, row.NAIC)
			}
			entry.Quotes = append(entry.Quotes, QuoteItem{
				Age:          row.Demographic.Age,
				Gender:       row.Demographic.Gender,
				Plan:         row.Demographic.Plan,
				Tobacco:      row.Demographic.Tobacco,
				Rate:         row.Rate,
				DiscountRate: row.DiscountRate,
			})
		}
	}

	sourceTried := 0
	sourceFailed := 0
	for _, plan := range q.plans {
		naics := q.naics
		if len(naics) == 0 {
			naics = []string{""}
		}
		for _, naic := range naics {
			demo := model.Demographic{
				Age:     q.age,
				Gender:  q.gender,
				Tobacco: q.tobacco,
				Plan:    statePlan(q.state, plan),
			}
			rows, err := s.cache.Lookup(r.Context(), ratecache.LookupQuery{
				State:       q.state,
				Zip:         q.zip,
				County:      q.county,
				NAIC:        naic,
				Demographic: demo,
				AsOf:        q.asOf,
			})
			if err != nil {
				zap.L().Error("quote lookup failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "quote lookup failed")
				return
			}
			if len(rows) == 0 && s.source != nil {
				sourceTried++
				var liveNames map[string]string
				rows, liveNames, err = s.liveQuotes(r, q, naic, demo)
				if err != nil {
					sourceFailed++
					zap.L().Warn("live quote fallback failed",
						zap.String("state", q.state), zap.String("plan", demo.Plan), zap.Error(err))
					continue
				}
				for n, name := range liveNames {
					if names[n] == "" {
						names[n] = name
					}
				}
			}
			collect(rows)
		}
	}

	if len(order) == 0 && sourceTried > 0 && sourceFailed == sourceTried {
		writeError(w, http.StatusBadGateway, "quote source unavailable")
		return
	}

	out := make([]CarrierQuotes, 0, len(order))
	for _, naic := range order {
		out = append(out, *byCarrier[naic])
	}
	writeJSON(w, http.StatusOK, out)
}

// liveQuotes queries the source directly for one demographic when the
// cache has nothing stored for it.
func (s *Server) liveQuotes(r *http.Request, q quotesQuery, naic string, demo model.Demographic) ([]model.RateQuote, map[string]string, error) {
	tobacco := 0
	if demo.Tobacco {
		tobacco = 1
	}
	quotes, err := s.source.Quotes(r.Context(), csg.QuoteParams{
		Zip5:           q.zip,
		Age:            demo.Age,
		Gender:         demo.Gender,
		Tobacco:        tobacco,
		Plan:           demo.Plan,
		EffectiveDate:  model.FormatDate(q.asOf),
		NAIC:           naic,
		ApplyDiscounts: 1,
		ApplyFees:      1,
	})
	if err != nil {
		return nil, nil, err
	}

	var rows []model.RateQuote
	names := make(map[string]string)
	for _, quote := range csg.FilterQuotes(quotes) {
		names[quote.NAIC] = quote.CompanyName
		rows = append(rows, model.RateQuote{
			NAIC:  quote.NAIC,
			State: q.state,
			Demographic: model.Demographic{
				Age:     quote.Age,
				Gender:  quote.Gender,
				Tobacco: quote.Tobacco != 0,
				Plan:    quote.Plan,
			},
			Rate:          quote.Rate,
			DiscountRate:  quote.Rate * (1 - quote.DiscountPct),
			EffectiveDate: quote.EffectiveDate,
		})
	}
	return rows, names, nil
}

// parseQuotesQuery validates the request and resolves the county. An
// unknown or missing county falls back to the ZIP's first county.
func (s *Server) parseQuotesQuery(r *http.Request) (quotesQuery, string) {
	var q quotesQuery
	vals := r.URL.Query()

	q.state = strings.ToUpper(vals.Get("state"))
	q.zip = vals.Get("zip_code")
	if q.state == "" || q.zip == "" {
		return q, "state and zip_code must be provided"
	}
	if !validStates[q.state] {
		return q, "invalid state code"
	}
	if len(q.zip) != 5 || strings.Trim(q.zip, "0123456789") != "" {
		return q, "invalid ZIP code format"
	}

	validCounties := s.gaz.CountiesForZip(q.zip)
	if len(validCounties) == 0 {
		return q, "invalid ZIP code"
	}
	q.county = validCounties[0]
	if c := gazetteer.NormalizeCounty(vals.Get("county")); c != "" {
		for _, valid := range validCounties {
			if valid == c {
				q.county = c
				break
			}
		}
	}

	age, err := strconv.Atoi(vals.Get("age"))
	if err != nil || age < 0 {
		return q, "invalid age"
	}
	q.age = age

	switch strings.ToUpper(vals.Get("gender")) {
	case "M", "MALE":
		q.gender = "M"
	case "F", "FEMALE":
		q.gender = "F"
	default:
		return q, "gender must be 'M', 'F', 'male', or 'female'"
	}

	q.tobacco = vals.Get("tobacco") == "true" || vals.Get("tobacco") == "1"

	q.plans = vals["plan"]
	if len(q.plans) == 0 {
		return q, "at least one plan must be provided"
	}
	q.naics = vals["naic"]

	q.asOf = model.EffectiveDates(time.Now(), 1)[0]
	if raw := vals.Get("effective_date"); raw != "" {
		d, err := model.ParseDate(raw)
		if err != nil {
			return q, "invalid effective date format, must be YYYY-MM-DD"
		}
		q.asOf = d
	}
	return q, ""
}

func (s *Server) carrierNames(r *http.Request) (map[string]string, error) {
	carriers, err := s.store.Carriers(r.Context(), false)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(carriers))
	for _, c := range carriers {
		names[c.NAIC] = c.CompanyName
	}
	return names, nil
}

// statePlan maps a standard plan letter to the waiver-state equivalent.
func statePlan(state, plan string) string {
	upper := strings.ToUpper(plan)
	if upper == "G" || upper == "F" {
		switch state {
		case "MN":
			return "MN_EXTB"
		case "WI":
			return "WI_HDED"
		case "MA":
			return "MA_SUPP1"
		}
		return upper
	}
	switch state {
	case "MN":
		return "MN_BASIC"
	case "WI":
		return "WI_BASE"
	case "MA":
		return "MA_CORE"
	}
	return plan
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("response encode failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
