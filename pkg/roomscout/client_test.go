package roomscout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomscout/ingest-cli/internal/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestClassify_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/classify", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Studio apt $2200/month Back Bay", req["message"])

		json.NewEncoder(w).Encode(map[string]any{
			"is_housing": true,
			"confidence": 0.93,
			"reasoning":  "mentions rent price and location",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetryConfig(fastRetry()))
	result, err := c.Classify(context.Background(), "Studio apt $2200/month Back Bay")

	require.NoError(t, err)
	assert.True(t, result.IsHousing)
	assert.InDelta(t, 0.93, result.Confidence, 0.001)
	assert.Contains(t, result.Reasoning, "rent price")
}

func TestExtract_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/extract", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, true, req["use_cot"])

		json.NewEncoder(w).Encode(map[string]any{
			"extracted_data": map[string]any{
				"rent_price":         "$800/month",
				"location":           "Mission Hill",
				"room_type":          "1BR",
				"is_housing_related": true,
			},
			"completeness_score": 0.85,
			"extraction_method":  "chain_of_thought",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetryConfig(fastRetry()))
	result, err := c.Extract(context.Background(), "Room in Mission Hill $800", true)

	require.NoError(t, err)
	assert.Equal(t, "$800/month", result.Data.RentPrice)
	assert.Equal(t, "Mission Hill", result.Data.Location)
	assert.True(t, result.Data.IsHousingRelated)
	assert.InDelta(t, 0.85, result.CompletenessScore, 0.001)
	assert.Equal(t, "chain_of_thought", result.Method)
}

func TestClassify_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"is_housing": false, "confidence": 0.7})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetryConfig(fastRetry()))
	result, err := c.Classify(context.Background(), "hello")

	require.NoError(t, err)
	assert.False(t, result.IsHousing)
	assert.Equal(t, int64(3), calls.Load())

	// Every attempt is metered.
	stats := c.Stats()
	assert.Equal(t, int64(3), stats.TotalCalls)
	assert.Equal(t, int64(1), stats.Successes)
	assert.Equal(t, int64(2), stats.Failures)
}

func TestClassify_ExhaustedRetriesPropagates(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetryConfig(fastRetry()))
	_, err := c.Classify(context.Background(), "hello")

	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, int64(3), calls.Load())
}

func TestExtract_PermanentErrorNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"Message is required"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetryConfig(fastRetry()))
	_, err := c.Extract(context.Background(), "", false)

	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
	assert.Equal(t, int64(1), calls.Load())
}

func TestHealthCheck_CachesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"status": "OK"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetryConfig(fastRetry()), WithHealthTTL(time.Minute))

	_, ok := c.CachedHealth()
	assert.False(t, ok, "no cached health before first check")

	status, err := c.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.Equal(t, "OK", status.Status)

	cached, ok := c.CachedHealth()
	assert.True(t, ok)
	assert.True(t, cached.Healthy)
}

func TestCachedHealth_StaleAfterTTL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "OK"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetryConfig(fastRetry()), WithHealthTTL(time.Minute)).(*httpClient)
	now := time.Now()
	c.nowFunc = func() time.Time { return now }

	_, err := c.HealthCheck(context.Background())
	require.NoError(t, err)

	_, ok := c.CachedHealth()
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	cached, ok := c.CachedHealth()
	assert.False(t, ok, "cached health should be stale past TTL")
	assert.True(t, cached.Healthy, "stale value still returned for inspection")
}

func TestHealthCheck_UnreachableRecordsUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetryConfig(resilience.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond}))
	status, err := c.HealthCheck(context.Background())

	require.Error(t, err)
	assert.False(t, status.Healthy)

	cached, ok := c.CachedHealth()
	assert.True(t, ok, "failed checks are cached too")
	assert.False(t, cached.Healthy)
}

func TestBreaker_ShortCircuitsAfterFailures(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	breaker := resilience.NewBreaker(2, time.Minute)
	c := NewClient(srv.URL,
		WithRetryConfig(resilience.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond}),
		WithBreaker(breaker),
	)

	_, err := c.Classify(context.Background(), "a")
	require.Error(t, err)
	_, err = c.Classify(context.Background(), "b")
	require.Error(t, err)

	// Breaker is open now: no more HTTP calls go out.
	_, err = c.Classify(context.Background(), "c")
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int64(2), calls.Load())
}

func TestStats_AvgLatency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "OK"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetryConfig(fastRetry()))
	_, err := c.HealthCheck(context.Background())
	require.NoError(t, err)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.TotalCalls)
	assert.GreaterOrEqual(t, stats.AvgLatency, time.Duration(0))
}
