package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/roomscout/ingest-cli/internal/model"
	"github.com/roomscout/ingest-cli/internal/store"
	"github.com/roomscout/ingest-cli/pkg/roomscout"
)

// MetricsSnapshot holds a point-in-time view of ingestion health.
type MetricsSnapshot struct {
	// Session metrics (within lookback window).
	SessionsTotal     int     `json:"sessions_total"`
	SessionsCompleted int     `json:"sessions_completed"`
	SessionsFailed    int     `json:"sessions_failed"`
	SessionsActive    int     `json:"sessions_active"`
	SessionFailRate   float64 `json:"session_fail_rate"`

	// Extraction quality (within lookback window).
	MessagesProcessed int     `json:"messages_processed"`
	HousingMessages   int     `json:"housing_messages"`
	AvgConfidence     float64 `json:"avg_confidence"`
	ReviewBacklog     int     `json:"review_backlog"`

	// External service call metrics (process lifetime).
	ServiceCalls      int64         `json:"service_calls"`
	ServiceFailures   int64         `json:"service_failures"`
	ServiceFailRate   float64       `json:"service_fail_rate"`
	ServiceAvgLatency time.Duration `json:"service_avg_latency_ns"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// StatsSource exposes cumulative external-service call metrics.
type StatsSource interface {
	Stats() roomscout.CallStats
}

// Collector gathers metrics from the store and the service client.
type Collector struct {
	store store.Store
	stats StatsSource
}

// NewCollector creates a new metrics collector. stats may be nil when
// no client is wired (e.g. offline inspection).
func NewCollector(st store.Store, stats StatsSource) *Collector {
	return &Collector{store: st, stats: stats}
}

// Collect gathers a snapshot of ingestion metrics over the given
// lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	sessions, err := c.store.ListSessions(ctx, store.SessionFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list sessions")
	}

	snap.SessionsTotal = len(sessions)
	var confidenceSum float64
	var confidenceSamples int

	for _, s := range sessions {
		switch s.Status {
		case model.SessionStatusCompleted:
			snap.SessionsCompleted++
		case model.SessionStatusError:
			snap.SessionsFailed++
		case model.SessionStatusReviewNeeded:
			snap.ReviewBacklog++
		default:
			snap.SessionsActive++
		}

		if s.ParseResult != nil {
			snap.MessagesProcessed += s.ParseResult.TotalMessages
		}
		if s.ClassificationResult != nil {
			snap.HousingMessages += s.ClassificationResult.HousingCount
		}
		if s.ExtractionResult != nil && len(s.ExtractionResult.Details) > 0 {
			confidenceSum += s.ExtractionResult.RunningAverageConfidence
			confidenceSamples++
		}
	}

	finished := snap.SessionsCompleted + snap.SessionsFailed
	if finished > 0 {
		snap.SessionFailRate = float64(snap.SessionsFailed) / float64(finished)
	}
	if confidenceSamples > 0 {
		snap.AvgConfidence = confidenceSum / float64(confidenceSamples)
	}

	if c.stats != nil {
		calls := c.stats.Stats()
		snap.ServiceCalls = calls.TotalCalls
		snap.ServiceFailures = calls.Failures
		snap.ServiceAvgLatency = calls.AvgLatency
		if calls.TotalCalls > 0 {
			snap.ServiceFailRate = float64(calls.Failures) / float64(calls.TotalCalls)
		}
	}

	return snap, nil
}
