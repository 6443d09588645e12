package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/tablesense/internal/observability"
	"github.com/hrygo/tablesense/plugin/ai"
	"github.com/hrygo/tablesense/plugin/ai/dataset"
	"github.com/hrygo/tablesense/plugin/ai/memory"
	"github.com/hrygo/tablesense/plugin/ai/vector"
)

// scriptedLLM answers with canned responses in order and records prompts.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []string
}

func (s *scriptedLLM) Chat(_ context.Context, messages []ai.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, messages[len(messages)-1].Content)
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "", errors.New("no scripted response left")
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

func (s *scriptedLLM) prompt(i int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts[i]
}

type historyEntry struct {
	sessionID, question, answer string
}

type recordingHistory struct {
	mu      sync.Mutex
	entries []historyEntry
	err     error
}

func (h *recordingHistory) AppendHistory(_ context.Context, sessionID, question, answer string, _ time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.entries = append(h.entries, historyEntry{sessionID, question, answer})
	return nil
}

type statusRecorder struct {
	mu   sync.Mutex
	seen []Status
}

func (r *statusRecorder) listen(_ string, s Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, s)
	return nil
}

func (r *statusRecorder) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.seen...)
}

// cities is raw, as read from a CSV: Analyze normalizes the numbers.
func cities() *dataset.Dataset {
	return dataset.New([]string{"City", "Population"}, [][]any{
		{"London", "9,000,000"},
		{"Paris", "2100000"},
		{"Tokyo", " 14000000 "},
	})
}

func newTestAnalyst(t *testing.T, llm ai.LLMService, opts ...Option) (*Analyst, *memory.ShortTermMemory) {
	t.Helper()
	stm := memory.NewShortTermMemory(memory.ShortTermConfig{})
	opts = append([]Option{WithShortTermMemory(stm), WithIdleDelay(0)}, opts...)
	a := New("cities.csv", llm, opts...)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a, stm
}

func TestAnalyzeEndToEnd(t *testing.T) {
	ctx := context.Background()
	llm := &scriptedLLM{responses: []string{
		`{"action": "code", "code": "result = df.max_by(\"Population\")[\"City\"]"}`,
		`{"action": "answer", "explain": "We found that Tokyo has the highest population."}`,
	}}
	history := &recordingHistory{}
	ltm := memory.NewLongTermMemory(ai.NewLocalEmbedding(64), vector.NewMemoryIndex(), nil)
	a, stm := newTestAnalyst(t, llm, WithHistory(history), WithLongTermMemory(ltm, ""))

	answer := a.Analyze(ctx, cities(), "Which city has the highest population?", true)
	assert.Equal(t, "Tokyo", answer)

	followup := a.AskFollowup(ctx, cities(), "remind me what we learned")
	assert.Equal(t, "We found that Tokyo has the highest population.", followup)

	prompt := llm.prompt(1)
	assert.Contains(t, prompt, "[Short-Term Memory]")
	assert.Contains(t, prompt, "USER: Which city has the highest population?\nAGENT: Tokyo")
	assert.Contains(t, prompt, "[Structured Data Memory]")
	assert.Contains(t, prompt, "[SDCM] Q: Which city has the highest population?\nA: Tokyo")

	first := llm.prompt(0)
	assert.Contains(t, first, "City,Population\nLondon,9000000")
	assert.NotContains(t, first, "[Short-Term Memory]")

	assert.Equal(t, 2, stm.Len())
	assert.Equal(t, 2, ltm.Len(ctx))
	require.Len(t, history.entries, 2)
	assert.Equal(t, historyEntry{"cities.csv", "Which city has the highest population?", "Tokyo"}, history.entries[0])
}

func TestAnalyzeWithoutMemoryOmitsContext(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"action": "code", "code": "result = 2 + 2"}`,
		`{"action": "code", "code": "result = 3"}`,
	}}
	a, _ := newTestAnalyst(t, llm)

	assert.Equal(t, "4", a.Analyze(context.Background(), cities(), "first", false))
	assert.Equal(t, "3", a.Analyze(context.Background(), cities(), "second", false))
	assert.NotContains(t, llm.prompt(1), "[Short-Term Memory]")
}

func TestAnalyzeOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		response   string
		want       string
		wantPrefix string
		remembered bool
		lastRows   int
	}{
		{
			name:       "rows filter with columns",
			response:   `{"action": "rows", "rows_filter": "Population > 5000000", "target_columns": ["City"]}`,
			want:       "City\nLondon\nTokyo",
			remembered: true,
			lastRows:   2,
		},
		{
			name:       "rows filter with unknown columns keeps all",
			response:   `{"action": "rows", "rows_filter": "df['City'] == 'Paris'", "target_columns": ["Country"]}`,
			want:       "City,Population\nParis,2100000",
			remembered: true,
			lastRows:   1,
		},
		{
			name:       "rows as inline csv",
			response:   `{"action": "rows", "code": "City,Population\nRome,2800000"}`,
			want:       "City,Population\nRome,2800000",
			remembered: true,
			lastRows:   1,
		},
		{
			name:     "rows with nothing to go on",
			response: `{"action": "rows"}`,
			want:     "No rows could be generated.",
		},
		{
			name:     "unparseable inline rows",
			response: "{\"action\": \"rows\", \"code\": \"``\"}",
			want:     "Could not parse rows returned by agent: file is empty",
		},
		{
			name:       "bad filter",
			response:   `{"action": "rows", "rows_filter": "Country == 'Japan'"}`,
			wantPrefix: "Error applying filter: ",
			remembered: true,
		},
		{
			name:       "filtered dataset from code",
			response:   `{"action": "code", "code": "filtered_df = df.filter(\"Population > 5000000\")"}`,
			want:       "Returned 2 rows (preview attached).\nCity,Population\nLondon,9000000\nTokyo,14000000",
			remembered: true,
			lastRows:   2,
		},
		{
			name:       "printed output",
			response:   "```python\nprint('hi')\n```",
			want:       "hi",
			remembered: true,
		},
		{
			name:       "no output",
			response:   `{"action": "code", "code": "x = 1"}`,
			want:       "No output returned.",
			remembered: true,
		},
		{
			name:       "sandbox error",
			response:   `{"action": "code", "code": "result = 1 // 0"}`,
			wantPrefix: "Error executing code: ",
			remembered: true,
		},
		{
			name:       "imports are stripped",
			response:   `{"action": "code", "code": "import pandas as pd\nresult = len(df)"}`,
			want:       "3",
			remembered: true,
		},
		{
			name:       "answer without code",
			response:   `{"action": "answer"}`,
			want:       "No code or answer provided.",
			remembered: true,
		},
		{
			name:     "unrecognized action",
			response: `{"action": "chart"}`,
			want:     "Could not interpret agent response.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &scriptedLLM{responses: []string{tt.response}}
			a, stm := newTestAnalyst(t, llm)

			got := a.Analyze(context.Background(), cities(), "question", true)
			if tt.wantPrefix != "" {
				assert.True(t, strings.HasPrefix(got, tt.wantPrefix), "got %q", got)
			} else {
				assert.Equal(t, tt.want, got)
			}

			if tt.remembered {
				turns := stm.Turns()
				require.Len(t, turns, 1)
				assert.Equal(t, got, turns[0].Answer)
			} else {
				assert.Zero(t, stm.Len())
			}

			if tt.lastRows > 0 {
				rows := a.LastFilteredRows()
				require.NotNil(t, rows)
				assert.Equal(t, tt.lastRows, rows.Len())
			}
		})
	}
}

func TestAnalyzeLLMFailureLeavesMemoryUntouched(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("quota exceeded")}
	history := &recordingHistory{}
	a, stm := newTestAnalyst(t, llm, WithHistory(history))

	got := a.Analyze(context.Background(), cities(), "Which city is largest?", true)
	assert.Equal(t, "Error calling LLM: quota exceeded", got)
	assert.Zero(t, stm.Len())
	assert.Empty(t, history.entries)
	assert.Nil(t, a.LastFilteredRows())
}

func TestAnalyzeHistoryFailureIsSwallowed(t *testing.T) {
	llm := &scriptedLLM{responses: []string{`{"action": "code", "code": "result = 1"}`}}
	a, stm := newTestAnalyst(t, llm, WithHistory(&recordingHistory{err: errors.New("disk full")}))

	assert.Equal(t, "1", a.Analyze(context.Background(), cities(), "q", true))
	assert.Equal(t, 1, stm.Len())
}

func TestFollowupReusesPreviousRows(t *testing.T) {
	ctx := context.Background()
	llm := &scriptedLLM{responses: []string{
		`{"action": "rows", "rows_filter": "Population > 5000000", "target_columns": ["City"]}`,
		// A stale filter that would select nothing; it must not be applied.
		`{"action": "rows", "rows_filter": "Population < 0", "target_columns": []}`,
		`{"action": "code", "code": "result = df.sum(\"Population\")"}`,
	}}
	a, _ := newTestAnalyst(t, llm)

	require.Equal(t, "City\nLondon\nTokyo", a.Analyze(ctx, cities(), "Which cities have more than 5 million people?", true))

	got := a.AskFollowup(ctx, cities(), "Show those rows with all columns")
	assert.Equal(t, "City,Population\nLondon,9000000\nTokyo,14000000", got)
	assert.Contains(t, llm.prompt(1), "df holds the rows selected in a previous turn.")

	total := a.AskFollowup(ctx, cities(), "What is the total population of them?")
	assert.Equal(t, "23000000", total)
}

func TestBackReferenceWithoutMemoryFiltersAgain(t *testing.T) {
	ctx := context.Background()
	llm := &scriptedLLM{responses: []string{
		`{"action": "rows", "rows_filter": "Population > 5000000"}`,
		`{"action": "rows", "rows_filter": "Population < 3000000"}`,
	}}
	a, _ := newTestAnalyst(t, llm)

	a.Analyze(ctx, cities(), "big cities", true)
	got := a.Analyze(ctx, cities(), "show those", false)
	assert.Equal(t, "City,Population\nParis,2100000", got)
	assert.Equal(t, 1, a.LastFilteredRows().Len(), "a new filter overwrites the snapshot")
}

func TestStatusSequence(t *testing.T) {
	t.Run("code turn", func(t *testing.T) {
		llm := &scriptedLLM{responses: []string{`{"action": "code", "code": "result = 1"}`}}
		rec := &statusRecorder{}
		a, _ := newTestAnalyst(t, llm)
		a.OnStatusChange(rec.listen)

		assert.Equal(t, StatusActive, a.Status())
		a.Analyze(context.Background(), cities(), "q", true)
		require.NoError(t, a.Close(context.Background()))
		assert.Equal(t, []Status{StatusAnalyzing, StatusIdle}, rec.statuses())
	})

	t.Run("long-term write", func(t *testing.T) {
		llm := &scriptedLLM{responses: []string{`{"action": "code", "code": "result = 1"}`}}
		rec := &statusRecorder{}
		ltm := memory.NewLongTermMemory(ai.NewLocalEmbedding(32), vector.NewMemoryIndex(), nil)
		a, _ := newTestAnalyst(t, llm, WithLongTermMemory(ltm, ""))
		a.OnStatusChange(rec.listen)

		a.Analyze(context.Background(), cities(), "q", true)
		require.NoError(t, a.Close(context.Background()))
		assert.Equal(t, []Status{StatusAnalyzing, StatusSummarizing, StatusIdle}, rec.statuses())
	})

	t.Run("llm failure", func(t *testing.T) {
		llm := &scriptedLLM{err: errors.New("down")}
		rec := &statusRecorder{}
		a, _ := newTestAnalyst(t, llm)
		a.OnStatusChange(rec.listen)

		a.Analyze(context.Background(), cities(), "q", true)
		require.NoError(t, a.Close(context.Background()))
		assert.Equal(t, []Status{StatusAnalyzing, StatusIdle}, rec.statuses())
	})
}

func TestIdleDelay(t *testing.T) {
	t.Run("idle after the delay", func(t *testing.T) {
		llm := &scriptedLLM{responses: []string{`{"action": "code", "code": "result = 1"}`}}
		a, _ := newTestAnalyst(t, llm, WithIdleDelay(200*time.Millisecond))

		a.Analyze(context.Background(), cities(), "q", true)
		assert.Equal(t, StatusAnalyzing, a.Status())
		assert.Eventually(t, func() bool { return a.Status() == StatusIdle }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("next turn cancels pending idle", func(t *testing.T) {
		llm := &scriptedLLM{responses: []string{
			`{"action": "code", "code": "result = 1"}`,
			`{"action": "code", "code": "result = 2"}`,
		}}
		rec := &statusRecorder{}
		a, _ := newTestAnalyst(t, llm, WithIdleDelay(time.Hour))
		a.OnStatusChange(rec.listen)

		a.Analyze(context.Background(), cities(), "q1", true)
		a.Analyze(context.Background(), cities(), "q2", true)
		require.NoError(t, a.Close(context.Background()))
		assert.Equal(t, []Status{StatusAnalyzing, StatusAnalyzing}, rec.statuses())
	})
}

func TestStatusBecomesIdleAfterInactivity(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	llm := &scriptedLLM{responses: []string{`{"action": "code", "code": "result = 1"}`}}
	a, _ := newTestAnalyst(t, llm, WithClock(clock), WithIdleDelay(time.Hour))

	a.Analyze(context.Background(), cities(), "q", true)
	assert.Equal(t, StatusAnalyzing, a.Status())

	advance(IdleAfter)
	assert.Equal(t, StatusAnalyzing, a.Status(), "exactly at the threshold")

	advance(time.Second)
	assert.Equal(t, StatusIdle, a.Status())
}

func TestListenerFailuresDoNotStopDelivery(t *testing.T) {
	llm := &scriptedLLM{responses: []string{`{"action": "code", "code": "result = 1"}`}}
	rec := &statusRecorder{}
	a, _ := newTestAnalyst(t, llm)
	a.OnStatusChange(func(string, Status) error { panic("boom") })
	a.OnStatusChange(func(string, Status) error { return errors.New("socket closed") })
	a.OnStatusChange(rec.listen)

	assert.Equal(t, "1", a.Analyze(context.Background(), cities(), "q", true))
	require.NoError(t, a.Close(context.Background()))
	assert.Equal(t, []Status{StatusAnalyzing, StatusIdle}, rec.statuses())
}

func TestCloseSavesLongTermMemory(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/cities.json"
	llm := &scriptedLLM{responses: []string{`{"action": "code", "code": "result = 1"}`}}
	ltm := memory.NewLongTermMemory(ai.NewLocalEmbedding(32), vector.NewMemoryIndex(), nil)
	a := New("cities.csv", llm, WithLongTermMemory(ltm, path), WithIdleDelay(0))

	a.Analyze(ctx, cities(), "q", true)
	require.NoError(t, a.Close(ctx))
	require.NoError(t, a.Close(ctx), "close is idempotent")

	restored := memory.NewLongTermMemory(ai.NewLocalEmbedding(32), vector.NewMemoryIndex(), nil)
	restored.Load(ctx, path)
	assert.Equal(t, 1, restored.Len(ctx))
}

func TestAnalyzeRecordsMetrics(t *testing.T) {
	metrics := observability.NewMetrics(10)
	ok, _ := newTestAnalyst(t, &scriptedLLM{responses: []string{`{"action": "code", "code": "result = 1"}`}}, WithMetrics(metrics))
	failing, _ := newTestAnalyst(t, &scriptedLLM{err: errors.New("down")}, WithMetrics(metrics))

	ok.Analyze(context.Background(), cities(), "q", false)
	failing.Analyze(context.Background(), cities(), "q", false)

	s := metrics.Snapshot()
	assert.EqualValues(t, 2, s.TurnTotal)
	assert.EqualValues(t, 1, s.TurnFailed)
	assert.Equal(t, map[string]int64{observability.OutcomeOK: 1, "llm_call": 1}, s.Outcomes)
}
