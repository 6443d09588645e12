package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/tablesense/plugin/ai"
	"github.com/hrygo/tablesense/plugin/ai/agent"
	"github.com/hrygo/tablesense/plugin/ai/dataset"
)

var answerOne = ai.LLMFunc(func(context.Context, []ai.Message) (string, error) {
	return `{"action": "code", "code": "result = 1"}`, nil
})

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testFactory(clock *fakeClock, created *atomic.Int32) Factory {
	return func(_ context.Context, sessionID string) (*agent.Analyst, error) {
		created.Add(1)
		return agent.New(sessionID, answerOne, agent.WithIdleDelay(0), agent.WithClock(clock.Now)), nil
	}
}

func TestRegistryGetCreatesOnce(t *testing.T) {
	ctx := context.Background()
	var created atomic.Int32
	r := NewRegistry(testFactory(newFakeClock(), &created))
	t.Cleanup(func() { _ = r.Close(ctx) })

	var wg sync.WaitGroup
	got := make([]*agent.Analyst, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := r.Get(ctx, "sales.csv")
			assert.NoError(t, err)
			got[i] = a
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	for _, a := range got {
		assert.Same(t, got[0], a)
	}

	other, err := r.Get(ctx, "cities.csv")
	require.NoError(t, err)
	assert.NotSame(t, got[0], other)
	assert.Equal(t, []string{"cities.csv", "sales.csv"}, r.Sessions())

	_, err = r.Get(ctx, "")
	assert.Error(t, err)
}

func TestRegistryFactoryError(t *testing.T) {
	r := NewRegistry(func(context.Context, string) (*agent.Analyst, error) {
		return nil, errors.New("no llm")
	})
	_, err := r.Get(context.Background(), "x.csv")
	assert.ErrorContains(t, err, "no llm")
	assert.Zero(t, r.Len())
}

func TestRegistryStatus(t *testing.T) {
	ctx := context.Background()
	var created atomic.Int32
	r := NewRegistry(testFactory(newFakeClock(), &created))
	t.Cleanup(func() { _ = r.Close(ctx) })

	status, ok := r.Status("unknown.csv")
	assert.False(t, ok)
	assert.Equal(t, agent.StatusIdle, status)

	_, err := r.Get(ctx, "sales.csv")
	require.NoError(t, err)
	status, ok = r.Status("sales.csv")
	assert.True(t, ok)
	assert.Equal(t, agent.StatusActive, status)
}

func TestRegistryFansOutStatusChanges(t *testing.T) {
	ctx := context.Background()
	var created atomic.Int32
	r := NewRegistry(testFactory(newFakeClock(), &created))

	var mu sync.Mutex
	var events []string
	r.OnStatusChange(func(sessionID string, s agent.Status) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, sessionID+":"+s.String())
		return nil
	})

	a, err := r.Get(ctx, "sales.csv")
	require.NoError(t, err)
	ds := dataset.New([]string{"x"}, [][]any{{"1"}})
	assert.Equal(t, "1", a.Analyze(ctx, ds, "q", true))

	require.NoError(t, r.Remove(ctx, "sales.csv"))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"sales.csv:analyzing", "sales.csv:idle"}, events)
}

func TestRegistryRemove(t *testing.T) {
	ctx := context.Background()
	var created atomic.Int32
	r := NewRegistry(testFactory(newFakeClock(), &created))

	first, err := r.Get(ctx, "sales.csv")
	require.NoError(t, err)
	require.NoError(t, r.Remove(ctx, "sales.csv"))
	require.NoError(t, r.Remove(ctx, "sales.csv"), "unknown sessions are ignored")

	second, err := r.Get(ctx, "sales.csv")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, int32(2), created.Load())
	require.NoError(t, r.Close(ctx))
	assert.Zero(t, r.Len())
}

func TestRegistryEvictIdle(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	var created atomic.Int32
	r := NewRegistry(testFactory(clock, &created))
	r.now = clock.Now
	t.Cleanup(func() { _ = r.Close(ctx) })

	_, err := r.Get(ctx, "old.csv")
	require.NoError(t, err)

	clock.Advance(DefaultIdleTTL + time.Minute)
	_, err = r.Get(ctx, "fresh.csv")
	require.NoError(t, err)

	evicted, err := r.EvictIdle(ctx, DefaultIdleTTL)
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, []string{"fresh.csv"}, r.Sessions())
}

func TestCleanupJob(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		job := NewCleanupJob(NewRegistry(nil), CleanupConfig{})
		assert.Equal(t, DefaultCleanupConfig(), job.config)
	})

	t.Run("evicts on schedule", func(t *testing.T) {
		ctx := context.Background()
		clock := newFakeClock()
		var created atomic.Int32
		r := NewRegistry(testFactory(clock, &created))
		r.now = clock.Now

		_, err := r.Get(ctx, "old.csv")
		require.NoError(t, err)
		clock.Advance(time.Hour)

		job := NewCleanupJob(r, CleanupConfig{IdleTTL: time.Minute, SweepInterval: 10 * time.Millisecond})
		job.Start(ctx)
		job.Start(ctx)
		assert.True(t, job.IsRunning())

		assert.Eventually(t, func() bool { return r.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

		job.Stop()
		job.Stop()
		assert.False(t, job.IsRunning())
	})
}

func TestMemoryPath(t *testing.T) {
	dir := filepath.Join("data", "memory")
	assert.Equal(t, filepath.Join(dir, "sales.csv.memory.json"), MemoryPath(dir, "sales.csv"))
	assert.Equal(t, filepath.Join(dir, "q1_report_.csv.memory.json"), MemoryPath(dir, "q1 report?.csv"))
	assert.Equal(t, filepath.Join(dir, "passwd.memory.json"), MemoryPath(dir, "../../etc/passwd"))
}
