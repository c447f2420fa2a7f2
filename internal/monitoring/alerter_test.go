package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomscout/ingest-cli/internal/config"
)

func monitorCfg() config.MonitorConfig {
	return config.MonitorConfig{
		FailureRateThreshold:   0.25,
		ReviewBacklogThreshold: 10,
		ServiceFailThreshold:   0.5,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(monitorCfg())

	snap := &MetricsSnapshot{
		SessionsTotal:     100,
		SessionsCompleted: 95,
		SessionsFailed:    5,
		SessionFailRate:   0.05,
		ReviewBacklog:     3,
		ServiceCalls:      200,
		ServiceFailures:   10,
		ServiceFailRate:   0.05,
		LookbackHours:     24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := NewAlerter(monitorCfg())

	snap := &MetricsSnapshot{
		SessionsCompleted: 12,
		SessionsFailed:    8,
		SessionFailRate:   0.4,
		LookbackHours:     24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertSessionFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_SmallSampleIgnored(t *testing.T) {
	a := NewAlerter(monitorCfg())

	// 2 of 3 failed, but too few finished sessions to alert on.
	snap := &MetricsSnapshot{
		SessionsCompleted: 1,
		SessionsFailed:    2,
		SessionFailRate:   0.66,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_ReviewBacklog(t *testing.T) {
	a := NewAlerter(monitorCfg())

	snap := &MetricsSnapshot{ReviewBacklog: 11}
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertReviewBacklog, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
}

func TestAlerter_Evaluate_ServiceDegraded(t *testing.T) {
	a := NewAlerter(monitorCfg())

	snap := &MetricsSnapshot{
		ServiceCalls:    50,
		ServiceFailures: 30,
		ServiceFailRate: 0.6,
	}
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertServiceDegraded, alerts[0].Type)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.Equal(t, AlertReviewBacklog, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := monitorCfg()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	alerts := []Alert{{Type: AlertReviewBacklog, Severity: "medium", Message: "backlog"}}
	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(1), received.Load())
}

func TestAlerter_SendAlerts_NoWebhookConfigured(t *testing.T) {
	a := NewAlerter(monitorCfg())
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertReviewBacklog}})
	assert.Zero(t, sent)
}

func TestAlerter_SendAlerts_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := monitorCfg()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertServiceDegraded}})
	assert.Zero(t, sent)
}
