package observability

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// OutcomeOK labels turns that produced an answer without error.
const OutcomeOK = "ok"

// Metrics collects and aggregates analyst turn metrics.
type Metrics struct {
	mu sync.Mutex

	// Counters
	turnTotal  atomic.Int64
	turnFailed atomic.Int64

	// Per-outcome metrics, keyed by OutcomeOK or an error kind.
	outcomes map[string]*OutcomeMetrics

	// Most recent durations, oldest first.
	durations    []time.Duration
	maxDurations int
}

// OutcomeMetrics represents metrics for one turn outcome.
type OutcomeMetrics struct {
	count         atomic.Int64
	totalDuration atomic.Int64 // milliseconds
}

// NewMetrics creates a new metrics collector.
func NewMetrics(maxDurations int) *Metrics {
	if maxDurations <= 0 {
		maxDurations = 1000 // Default to keeping last 1000 durations
	}
	return &Metrics{
		outcomes:     make(map[string]*OutcomeMetrics),
		durations:    make([]time.Duration, 0, maxDurations),
		maxDurations: maxDurations,
	}
}

// Global metrics instance.
var globalMetrics = NewMetrics(1000)

// GlobalMetrics returns the global metrics instance.
func GlobalMetrics() *Metrics {
	return globalMetrics
}

// RecordTurn records a finished turn.
func (m *Metrics) RecordTurn(outcome string, duration time.Duration) {
	m.turnTotal.Add(1)
	if outcome != OutcomeOK {
		m.turnFailed.Add(1)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.durations) >= m.maxDurations {
		// Remove oldest duration (FIFO)
		m.durations = m.durations[1:]
	}
	m.durations = append(m.durations, duration)

	om, ok := m.outcomes[outcome]
	if !ok {
		om = &OutcomeMetrics{}
		m.outcomes[outcome] = om
	}
	om.count.Add(1)
	om.totalDuration.Add(duration.Milliseconds())
}

// Reset resets all metrics (useful for testing).
func (m *Metrics) Reset() {
	m.turnTotal.Store(0)
	m.turnFailed.Store(0)

	m.mu.Lock()
	m.outcomes = make(map[string]*OutcomeMetrics)
	m.durations = make([]time.Duration, 0, m.maxDurations)
	m.mu.Unlock()
}

// Snapshot returns a snapshot of current metrics.
func (m *Metrics) Snapshot() *MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	outcomes := make(map[string]int64, len(m.outcomes))
	for name, om := range m.outcomes {
		outcomes[name] = om.count.Load()
	}

	sorted := slices.Clone(m.durations)
	slices.Sort(sorted)

	s := &MetricsSnapshot{
		TurnTotal:  m.turnTotal.Load(),
		TurnFailed: m.turnFailed.Load(),
		Outcomes:   outcomes,
		P50Ms:      percentile(sorted, 0.50).Milliseconds(),
		P95Ms:      percentile(sorted, 0.95).Milliseconds(),
	}
	if len(sorted) > 0 {
		var total time.Duration
		for _, d := range sorted {
			total += d
		}
		s.AvgMs = (total / time.Duration(len(sorted))).Milliseconds()
	}
	if s.TurnTotal > 0 {
		s.SuccessRate = float64(s.TurnTotal-s.TurnFailed) / float64(s.TurnTotal)
	}
	return s
}

// percentile uses nearest-rank on sorted durations.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted))*p+0.5) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

// MetricsSnapshot represents a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	TurnTotal   int64            `json:"turn_total"`
	TurnFailed  int64            `json:"turn_failed"`
	SuccessRate float64          `json:"success_rate"`
	AvgMs       int64            `json:"avg_latency_ms"`
	P50Ms       int64            `json:"p50_latency_ms"`
	P95Ms       int64            `json:"p95_latency_ms"`
	Outcomes    map[string]int64 `json:"outcomes"`
}
