package memory

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/hrygo/tablesense/plugin/ai/timeout"
)

// Defaults for ShortTermConfig.
const (
	DefaultMaxItems       = 8
	DefaultCharBudget     = 44000
	DefaultSummarizeEvery = 3
)

// SummaryPrefix introduces the summary in built context.
const SummaryPrefix = "Summary of conversation so far: "

// ErrSummarizing is returned when a summarization is already running.
var ErrSummarizing = errors.New("summarization already in progress")

// ShortTermConfig configures a ShortTermMemory.
type ShortTermConfig struct {
	// MaxItems caps the turns included in context and kept after summarization.
	MaxItems int
	// CharBudget caps the rendered size of the buffer.
	CharBudget int
	// SummarizeEvery schedules a summarization every N appends. Zero disables it.
	SummarizeEvery int
	// Summarizer produces summaries. Nil disables summarization.
	Summarizer Summarizer
	Logger     *slog.Logger
}

// ShortTermMemory is an ordered, char-budgeted log of recent turns with an
// optional rolling summary. Thread-safe for concurrent access.
type ShortTermMemory struct {
	mu      sync.RWMutex
	turns   []Turn
	summary string
	count   int

	maxItems       int
	charBudget     int
	summarizeEvery int
	summarizer     Summarizer
	logger         *slog.Logger
	now            func() time.Time

	busy atomic.Bool
	wg   sync.WaitGroup
}

// NewShortTermMemory creates an empty buffer. Non-positive MaxItems and
// CharBudget fall back to the defaults.
func NewShortTermMemory(cfg ShortTermConfig) *ShortTermMemory {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultMaxItems
	}
	if cfg.CharBudget <= 0 {
		cfg.CharBudget = DefaultCharBudget
	}
	if cfg.SummarizeEvery < 0 {
		cfg.SummarizeEvery = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ShortTermMemory{
		maxItems:       cfg.MaxItems,
		charBudget:     cfg.CharBudget,
		summarizeEvery: cfg.SummarizeEvery,
		summarizer:     cfg.Summarizer,
		logger:         cfg.Logger,
		now:            time.Now,
	}
}

// Append records a turn, evicts the oldest turns until the buffer fits the char
// budget, and schedules a background summarization every SummarizeEvery calls.
// It never waits for summarization.
func (s *ShortTermMemory) Append(question, answer string) {
	s.mu.Lock()
	s.turns = append(s.turns, Turn{Question: question, Answer: answer, Timestamp: s.now()})

	size := renderedSize(s.turns)
	for size > s.charBudget && len(s.turns) > 1 {
		s.turns = s.turns[1:]
		size = renderedSize(s.turns)
	}
	if size > s.charBudget {
		s.logger.Warn("short-term memory still over budget with a single turn",
			slog.Int("size", size),
			slog.Int("budget", s.charBudget),
		)
	}

	s.count++
	due := s.summarizer != nil && s.summarizeEvery > 0 && s.count%s.summarizeEvery == 0
	s.mu.Unlock()

	if due {
		s.summarizeInBackground()
	}
}

func (s *ShortTermMemory) summarizeInBackground() {
	if !s.busy.CompareAndSwap(false, true) {
		s.logger.Debug("skipping summarization, one is already running")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.busy.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), timeout.SummarizeTimeout)
		defer cancel()
		if err := s.summarize(ctx); err != nil {
			s.logger.Warn("short-term memory summarization failed", slog.String("error", err.Error()))
		}
	}()
}

// Summarize runs a summarization synchronously. It returns ErrSummarizing if
// one is already in progress.
func (s *ShortTermMemory) Summarize(ctx context.Context) error {
	if s.summarizer == nil {
		return errors.New("no summarizer configured")
	}
	if !s.busy.CompareAndSwap(false, true) {
		return ErrSummarizing
	}
	defer s.busy.Store(false)
	return s.summarize(ctx)
}

// summarize replaces the summary and keeps only the newest MaxItems turns. On
// failure the buffer is left as it was.
func (s *ShortTermMemory) summarize(ctx context.Context) error {
	s.mu.RLock()
	snapshot := make([]Turn, len(s.turns))
	copy(snapshot, s.turns)
	s.mu.RUnlock()

	if len(snapshot) == 0 {
		return nil
	}

	entries := make([]string, len(snapshot))
	for i, t := range snapshot {
		entries[i] = "Q: " + oneLine(t.Question) + "\nA: " + oneLine(t.Answer)
	}

	summary, err := s.summarizer.Summarize(ctx, strings.Join(entries, "\n\n"))
	if err != nil {
		return err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return errors.New("summarizer returned an empty summary")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = summary
	if len(s.turns) > s.maxItems {
		kept := make([]Turn, s.maxItems)
		copy(kept, s.turns[len(s.turns)-s.maxItems:])
		s.turns = kept
	}
	s.logger.Debug("short-term memory summarized", slog.Int("turns", len(s.turns)))
	return nil
}

// BuildContext renders the summary followed by the most recent MaxItems turns,
// oldest first, as "USER: …\nAGENT: …" blocks. When the result exceeds
// charBudget whole lines are dropped from the oldest turns, then from the
// summary. A line is never cut.
func (s *ShortTermMemory) BuildContext(question string, charBudget int) string {
	s.mu.RLock()
	summary := s.summary
	window := s.turns
	if len(window) > s.maxItems {
		window = window[len(window)-s.maxItems:]
	}
	blocks := make([]string, len(window))
	for i, t := range window {
		blocks[i] = "USER: " + t.Question + "\nAGENT: " + t.Answer
	}
	s.mu.RUnlock()

	var summaryLines []string
	if summary != "" {
		summaryLines = strings.Split(SummaryPrefix+summary, "\n")
	}
	var turnLines []string
	if len(blocks) > 0 {
		turnLines = strings.Split(strings.Join(blocks, "\n\n"), "\n")
	}

	render := func() string {
		var parts []string
		if len(summaryLines) > 0 {
			parts = append(parts, strings.Join(summaryLines, "\n"))
		}
		if len(turnLines) > 0 {
			parts = append(parts, strings.Join(turnLines, "\n"))
		}
		return strings.Join(parts, "\n\n")
	}

	if charBudget <= 0 {
		return render()
	}
	out := render()
	for utf8.RuneCountInString(out) > charBudget && len(turnLines) > 0 {
		turnLines = trimLeadingBlank(turnLines[1:])
		out = render()
	}
	for utf8.RuneCountInString(out) > charBudget && len(summaryLines) > 0 {
		summaryLines = trimLeadingBlank(summaryLines[1:])
		out = render()
	}
	return out
}

// Turns returns a copy of the buffered turns, oldest first.
func (s *ShortTermMemory) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Summary returns the current summary, or "" if none was produced yet.
func (s *ShortTermMemory) Summary() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary
}

func (s *ShortTermMemory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// RenderedSize is the budgeted size: turns as "Q: …\nA: …", newline-joined, in characters.
func (s *ShortTermMemory) RenderedSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return renderedSize(s.turns)
}

// Clear drops all turns and the summary. A summarization already in flight may
// still install its summary when it completes.
func (s *ShortTermMemory) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
	s.summary = ""
	s.count = 0
}

// Wait blocks until background summarization has finished.
func (s *ShortTermMemory) Wait() {
	s.wg.Wait()
}

// Summarizing reports whether a summarization is running.
func (s *ShortTermMemory) Summarizing() bool {
	return s.busy.Load()
}

func renderedSize(turns []Turn) int {
	if len(turns) == 0 {
		return 0
	}
	n := 0
	for i, t := range turns {
		if i > 0 {
			n++ // newline separator
		}
		n += len("Q: ") + utf8.RuneCountInString(t.Question) + len("\nA: ") + utf8.RuneCountInString(t.Answer)
	}
	return n
}

func oneLine(s string) string {
	return strings.ReplaceAll(s, "\n", " ")
}

func trimLeadingBlank(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	return lines
}
