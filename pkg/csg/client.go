// Package csg provides a client for the CSG med-supp quote API, including
// token acquisition, request rate limiting, and quote normalization.
package csg

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/blitzquote/rate-engine/internal/resilience"
)

// Client defines the quote source operations.
type Client interface {
	// Quotes fetches med-supp quotes for one location and demographic.
	Quotes(ctx context.Context, params QuoteParams) ([]Quote, error)
	// Companies lists the carriers the source can quote.
	Companies(ctx context.Context) ([]Company, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom API base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimSuffix(u, "/")
	}
}

// WithTokenURL sets a custom token service URL (for testing).
func WithTokenURL(u string) Option {
	return func(c *httpClient) {
		c.tokenURL = u
	}
}

// WithTokenFile sets the path where the session token is cached.
func WithTokenFile(path string) Option {
	return func(c *httpClient) {
		c.tokenFile = path
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outbound requests per second with the given burst.
func WithRateLimit(perSec float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
}

// WithMaxRetries sets the total attempt count for transient failures.
func WithMaxRetries(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.retry.MaxAttempts = n
		}
	}
}

// WithRetryBackoff sets the initial delay between retries.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.retry.InitialBackoff = d
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

type httpClient struct {
	apiKey    string
	baseURL   string
	tokenURL  string
	tokenFile string
	http      *http.Client
	limiter   *rate.Limiter
	retry     resilience.RetryConfig

	// mu guards token; one client is shared by every pipeline worker.
	mu    sync.Mutex
	token string
}

// NewClient creates a quote source client. The token is loaded lazily: from
// the token file if present, otherwise from the token service, falling back
// to direct auth with the API key.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:    apiKey,
		baseURL:   "https://csgapi.appspot.com/v1",
		tokenURL:  "https://medicare-school-quote-tool.herokuapp.com/api/csg_token",
		tokenFile: ".csg_token",
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(10), 10),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ensureToken loads or fetches a session token if none is held, and returns
// the token this request should use.
func (c *httpClient) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	if data, err := os.ReadFile(c.tokenFile); err == nil {
		if tok := strings.TrimSpace(string(data)); tok != "" {
			c.token = tok
			return c.token, nil
		}
	}
	if err := c.refreshLocked(ctx); err != nil {
		return "", err
	}
	return c.token, nil
}

func (c *httpClient) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// refreshToken replaces a stale token. Workers that hit 403 concurrently
// all land here; only the first fetches, the rest pick up its result.
func (c *httpClient) refreshToken(ctx context.Context, stale string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.token != stale {
		return nil
	}
	return c.refreshLocked(ctx)
}

// refreshLocked fetches a new token from the token service, falling back to
// direct auth, and caches it to the token file. Callers hold c.mu.
func (c *httpClient) refreshLocked(ctx context.Context) error {
	token, err := c.fetchToken(ctx)
	if err != nil {
		zap.L().Warn("token service failed, falling back to direct auth", zap.Error(err))
		token, err = c.fetchTokenFallback(ctx)
		if err != nil {
			return eris.Wrap(err, "csg: refresh token")
		}
	}
	c.token = token
	if writeErr := os.WriteFile(c.tokenFile, []byte(token), 0o600); writeErr != nil {
		zap.L().Warn("could not cache token", zap.String("path", c.tokenFile), zap.Error(writeErr))
	}
	return nil
}

func (c *httpClient) fetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.tokenURL, nil)
	if err != nil {
		return "", eris.Wrap(err, "csg: create token request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "csg: token request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("csg: token service status %d", resp.StatusCode)
	}
	var payload struct {
		Token string `json:"csg_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", eris.Wrap(err, "csg: decode token response")
	}
	if payload.Token == "" {
		return "", eris.New("csg: token service returned empty token")
	}
	return payload.Token, nil
}

func (c *httpClient) fetchTokenFallback(ctx context.Context) (string, error) {
	body := strings.NewReader(fmt.Sprintf(`{"api_key":%q}`, c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth.json", body)
	if err != nil {
		return "", eris.Wrap(err, "csg: create auth request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "csg: auth request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("csg: auth status %d", resp.StatusCode)
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", eris.Wrap(err, "csg: decode auth response")
	}
	zap.L().Warn("reset token via direct auth")
	return payload.Token, nil
}

// get issues an authenticated GET with rate limiting and backoff on
// transient failures. An expired token gets one refresh, then the request
// reissues.
func (c *httpClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := c.doGet(ctx, path, params)
	if resilience.IsAuthError(err) {
		if refreshErr := c.refreshToken(ctx, token); refreshErr != nil {
			return nil, refreshErr
		}
		body, err = c.doGet(ctx, path, params)
	}
	return body, err
}

func (c *httpClient) doGet(ctx context.Context, path string, params url.Values) ([]byte, error) {
	cfg := c.retry
	cfg.OnRetry = resilience.RetryLogger("csg", path)

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "csg: rate limiter")
		}

		reqURL := c.baseURL + path
		if len(params) > 0 {
			reqURL += "?" + params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "csg: create request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-token", c.currentToken())

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "csg: request"), 0)
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, eris.Wrap(readErr, "csg: read response body")
		}

		switch {
		case resp.StatusCode == http.StatusForbidden:
			return nil, resilience.NewAuthError(
				eris.Errorf("csg: status %d: %s", resp.StatusCode, string(body)), resp.StatusCode)
		case resilience.IsTransientHTTPStatus(resp.StatusCode):
			return nil, resilience.NewTransientError(
				eris.Errorf("csg: status %d: %s", resp.StatusCode, string(body)), resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return nil, eris.Errorf("csg: status %d: %s", resp.StatusCode, string(body))
		}
		return body, nil
	})
}

func (c *httpClient) Quotes(ctx context.Context, p QuoteParams) ([]Quote, error) {
	params := url.Values{}
	if p.Zip5 != "" {
		params.Set("zip5", p.Zip5)
	}
	if p.County != "" {
		params.Set("county", p.County)
	}
	params.Set("age", strconv.Itoa(p.Age))
	params.Set("gender", p.Gender)
	params.Set("tobacco", strconv.Itoa(p.Tobacco))
	params.Set("plan", p.Plan)
	params.Set("apply_discounts", strconv.Itoa(p.ApplyDiscounts))
	if p.EffectiveDate != "" {
		params.Set("effective_date", p.EffectiveDate)
	}
	if p.NAIC != "" {
		params.Set("naic", p.NAIC)
	}
	if p.ApplyFees != 0 {
		params.Set("apply_fees", strconv.Itoa(p.ApplyFees))
	}
	if p.Offset != 0 {
		params.Set("offset", strconv.Itoa(p.Offset))
	}

	body, err := c.get(ctx, "/med_supp/quotes.json", params)
	if err != nil {
		return nil, err
	}

	var raw []rawQuote
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, eris.Wrap(err, "csg: unmarshal quotes")
	}

	quotes := make([]Quote, 0, len(raw))
	for _, rq := range raw {
		quotes = append(quotes, normalizeQuote(rq))
	}
	return quotes, nil
}

func (c *httpClient) Companies(ctx context.Context) ([]Company, error) {
	body, err := c.get(ctx, "/med_supp/companies.json", nil)
	if err != nil {
		return nil, err
	}
	var companies []Company
	if err := json.Unmarshal(body, &companies); err != nil {
		return nil, eris.Wrap(err, "csg: unmarshal companies")
	}
	return companies, nil
}

// normalizeQuote converts a wire quote to the normalized form: cents become
// dollars and the source's effective date is parsed.
func normalizeQuote(rq rawQuote) Quote {
	q := Quote{
		NAIC:             rq.CompanyBase.NAIC,
		CompanyName:      rq.CompanyBase.Name,
		State:            rq.LocationBase.State,
		Age:              rq.Age,
		Gender:           rq.Gender,
		Tobacco:          rq.Tobacco,
		Plan:             rq.Plan,
		Rate:             float64(rq.Rate.Month) / 100,
		DiscountCategory: rq.DiscountCategory,
		RatingClass:      rq.RatingClass,
		Select:           rq.Select,
		AgeIncreases:     rq.AgeIncreases,
		Zips:             rq.LocationBase.Zip5,
		Counties:         rq.LocationBase.County,
	}
	if len(rq.Discounts) > 0 {
		q.DiscountPct = rq.Discounts[0].Value
	}
	if rq.EffectiveDate != "" {
		for _, layout := range []string{"2006-01-02T15:04:05Z", "2006-01-02"} {
			if t, err := time.Parse(layout, rq.EffectiveDate); err == nil {
				q.EffectiveDate = t.UTC()
				break
			}
		}
	}
	return q
}
