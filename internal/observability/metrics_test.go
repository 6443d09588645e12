package observability

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics(0)

	empty := m.Snapshot()
	assert.Zero(t, empty.TurnTotal)
	assert.Zero(t, empty.SuccessRate)
	assert.Zero(t, empty.P95Ms)

	for i := 1; i <= 10; i++ {
		m.RecordTurn(OutcomeOK, time.Duration(i)*100*time.Millisecond)
	}
	m.RecordTurn("llm_call", 50*time.Millisecond)
	m.RecordTurn("llm_call", 50*time.Millisecond)

	s := m.Snapshot()
	assert.EqualValues(t, 12, s.TurnTotal)
	assert.EqualValues(t, 2, s.TurnFailed)
	assert.InDelta(t, 10.0/12.0, s.SuccessRate, 1e-9)
	assert.Equal(t, map[string]int64{OutcomeOK: 10, "llm_call": 2}, s.Outcomes)
	assert.EqualValues(t, 400, s.P50Ms)
	assert.EqualValues(t, 900, s.P95Ms)

	m.Reset()
	assert.Zero(t, m.Snapshot().TurnTotal)
	assert.Empty(t, m.Snapshot().Outcomes)
}

func TestMetricsKeepsRecentDurations(t *testing.T) {
	m := NewMetrics(2)
	m.RecordTurn(OutcomeOK, time.Hour)
	m.RecordTurn(OutcomeOK, time.Second)
	m.RecordTurn(OutcomeOK, time.Second)

	s := m.Snapshot()
	assert.EqualValues(t, 3, s.TurnTotal)
	assert.EqualValues(t, 1000, s.P95Ms, "the oldest duration was dropped")
}

func TestMetricsConcurrentRecord(t *testing.T) {
	m := NewMetrics(100)
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				m.RecordTurn(OutcomeOK, time.Millisecond)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1000, m.Snapshot().TurnTotal)
}
