package roomscout

import (
	"sync"
	"time"
)

// CallStats is a snapshot of cumulative client metrics. Every HTTP
// attempt counts, including attempts later recovered by a retry.
type CallStats struct {
	TotalCalls int64         `json:"total_calls"`
	Successes  int64         `json:"successes"`
	Failures   int64         `json:"failures"`
	AvgLatency time.Duration `json:"avg_latency"`
}

type metrics struct {
	mu           sync.Mutex
	totalCalls   int64
	successes    int64
	failures     int64
	totalLatency time.Duration
}

func (m *metrics) record(latency time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalCalls++
	m.totalLatency += latency
	if ok {
		m.successes++
	} else {
		m.failures++
	}
}

func (m *metrics) snapshot() CallStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := CallStats{
		TotalCalls: m.totalCalls,
		Successes:  m.successes,
		Failures:   m.failures,
	}
	if m.totalCalls > 0 {
		s.AvgLatency = m.totalLatency / time.Duration(m.totalCalls)
	}
	return s
}
