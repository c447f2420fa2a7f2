// Package roomscout provides a resilient client for the external
// RoomScout classification/extraction service. The service's NLP
// internals are a black box; this package only speaks its HTTP contract.
package roomscout

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/roomscout/ingest-cli/internal/resilience"
)

// Client defines the extraction-service operations.
type Client interface {
	// Classify labels a message as housing-related or not.
	Classify(ctx context.Context, message string) (*ClassifyResult, error)
	// Extract pulls structured housing fields from a message.
	Extract(ctx context.Context, message string, useChainOfThought bool) (*ExtractResult, error)
	// HealthCheck probes the service and refreshes the cached health.
	HealthCheck(ctx context.Context) (*HealthStatus, error)
	// CachedHealth returns the last health result; ok is false when no
	// check has run or the cached result is stale.
	CachedHealth() (HealthStatus, bool)
	// Stats returns cumulative call metrics.
	Stats() CallStats
}

// ClassifyResult is the parsed /classify response.
type ClassifyResult struct {
	IsHousing  bool    `json:"is_housing"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// ExtractedData holds the structured fields returned by /extract.
type ExtractedData struct {
	RentPrice        string `json:"rent_price"`
	Location         string `json:"location"`
	RoomType         string `json:"room_type"`
	AvailabilityDate string `json:"availability_date"`
	ContactInfo      string `json:"contact_info"`
	GenderPreference string `json:"gender_preference"`
	AdditionalNotes  string `json:"additional_notes"`
	IsHousingRelated bool   `json:"is_housing_related"`
}

// ExtractResult is the parsed /extract response.
type ExtractResult struct {
	Data              ExtractedData `json:"extracted_data"`
	CompletenessScore float64       `json:"completeness_score"`
	Method            string        `json:"extraction_method"`
}

// HealthStatus is the parsed /health response plus the check time.
type HealthStatus struct {
	Healthy   bool      `json:"healthy"`
	Status    string    `json:"status"`
	CheckedAt time.Time `json:"checked_at"`
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
		}
	}
}

// WithHealthTTL sets how long a health check result stays fresh.
func WithHealthTTL(ttl time.Duration) Option {
	return func(c *httpClient) {
		if ttl > 0 {
			c.healthTTL = ttl
		}
	}
}

// WithBreaker installs a circuit breaker in front of all calls.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *httpClient) {
		c.breaker = b
	}
}

type httpClient struct {
	baseURL   string
	http      *http.Client
	retry     resilience.RetryConfig
	limiter   *rate.Limiter
	breaker   *resilience.Breaker
	healthTTL time.Duration

	healthMu sync.Mutex
	health   *HealthStatus

	stats *metrics

	nowFunc func() time.Time
}

// NewClient creates a client for the extraction service at baseURL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry:     resilience.DefaultRetryConfig(),
		healthTTL: 60 * time.Second,
		stats:     &metrics{},
		nowFunc:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Classify(ctx context.Context, message string) (*ClassifyResult, error) {
	cfg := c.retry
	cfg.OnRetry = resilience.RetryLogger("classify")

	body, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		return c.post(ctx, "/classify", map[string]any{"message": message})
	})
	if err != nil {
		return nil, eris.Wrap(err, "roomscout: classify")
	}

	var result ClassifyResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "roomscout: unmarshal classify response")
	}
	return &result, nil
}

func (c *httpClient) Extract(ctx context.Context, message string, useChainOfThought bool) (*ExtractResult, error) {
	cfg := c.retry
	cfg.OnRetry = resilience.RetryLogger("extract")

	body, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		return c.post(ctx, "/extract", map[string]any{
			"message": message,
			"use_cot": useChainOfThought,
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "roomscout: extract")
	}

	var result ExtractResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "roomscout: unmarshal extract response")
	}
	return &result, nil
}

func (c *httpClient) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	cfg := c.retry
	cfg.OnRetry = resilience.RetryLogger("health_check")

	body, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		return c.do(ctx, http.MethodGet, "/health", nil)
	})

	status := &HealthStatus{CheckedAt: c.nowFunc()}
	if err != nil {
		status.Status = "unreachable"
		c.setHealth(status)
		return status, eris.Wrap(err, "roomscout: health check")
	}

	var parsed struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "roomscout: unmarshal health response")
	}

	status.Status = parsed.Status
	status.Healthy = parsed.Status == "OK" || parsed.Status == "healthy"
	c.setHealth(status)
	return status, nil
}

func (c *httpClient) CachedHealth() (HealthStatus, bool) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	if c.health == nil {
		return HealthStatus{}, false
	}
	if c.nowFunc().Sub(c.health.CheckedAt) > c.healthTTL {
		return *c.health, false
	}
	return *c.health, true
}

func (c *httpClient) Stats() CallStats {
	return c.stats.snapshot()
}

func (c *httpClient) setHealth(s *HealthStatus) {
	c.healthMu.Lock()
	c.health = s
	c.healthMu.Unlock()
}

func (c *httpClient) post(ctx context.Context, path string, payload any) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, payload)
}

// do performs one HTTP attempt. Every attempt is metered, whatever the
// business-level retry outcome.
func (c *httpClient) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "roomscout: rate limit wait")
		}
	}
	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			return nil, err
		}
	}

	var reqBody io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, eris.Wrap(err, "roomscout: marshal request")
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, eris.Wrap(err, "roomscout: create request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := c.nowFunc()
	resp, err := c.http.Do(req)
	elapsed := c.nowFunc().Sub(start)

	if err != nil {
		c.stats.record(elapsed, false)
		c.recordBreaker(false)
		return nil, resilience.NewTransientError(eris.Wrapf(err, "roomscout: %s %s", method, path), 0)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		c.stats.record(elapsed, false)
		c.recordBreaker(false)
		return nil, resilience.NewTransientError(eris.Wrap(readErr, "roomscout: read response body"), resp.StatusCode)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.stats.record(elapsed, true)
		c.recordBreaker(true)
		return body, nil
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		c.stats.record(elapsed, false)
		c.recordBreaker(false)
		return nil, resilience.NewTransientError(
			eris.Errorf("roomscout: %s %s: status %d: %s", method, path, resp.StatusCode, truncate(body, 200)),
			resp.StatusCode,
		)
	default:
		c.stats.record(elapsed, false)
		// 4xx-equivalent failures do not trip the breaker.
		return nil, resilience.NewPermanentError(
			eris.Errorf("roomscout: %s %s: status %d: %s", method, path, resp.StatusCode, truncate(body, 200)),
			resp.StatusCode,
		)
	}
}

func (c *httpClient) recordBreaker(ok bool) {
	if c.breaker == nil {
		return
	}
	if ok {
		c.breaker.RecordSuccess()
	} else {
		c.breaker.RecordFailure()
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
