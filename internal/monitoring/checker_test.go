package monitoring

import (
	"context"
	"testing"
	"time"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	st := newCollectorStore(t)
	collector := NewCollector(st, nil)
	alerter := NewAlerter(monitorCfg())

	cfg := monitorCfg()
	cfg.CheckIntervalSecs = 3600
	checker := NewChecker(collector, alerter, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("checker did not stop after cancel")
	}
}
