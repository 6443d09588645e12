package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hrygo/tablesense/internal/observability"
	"github.com/hrygo/tablesense/plugin/ai"
	"github.com/hrygo/tablesense/plugin/ai/dataset"
	"github.com/hrygo/tablesense/plugin/ai/memory"
	"github.com/hrygo/tablesense/plugin/ai/sandbox"
	"github.com/hrygo/tablesense/plugin/ai/timeout"
	"github.com/hrygo/tablesense/plugin/ai/vector"
)

// HistoryWriter persists finished turns.
type HistoryWriter interface {
	AppendHistory(ctx context.Context, sessionID, question, answer string, ts time.Time) error
}

const (
	previewRows     = 5
	rowsAnswerLimit = 50
	longTermTopK    = 3

	// DefaultContextBudget caps the short-term transcript included in a prompt.
	DefaultContextBudget = 2000
)

const (
	msgUninterpretable = "Could not interpret agent response."
	msgNoRows          = "No rows could be generated."
	msgNoAnswer        = "No code or answer provided."
)

// Option configures an Analyst.
type Option func(*Analyst)

// WithShortTermMemory enables the recent-turn buffer.
func WithShortTermMemory(m *memory.ShortTermMemory) Option {
	return func(a *Analyst) { a.shortTerm = m }
}

// WithLongTermMemory enables semantic memory. When path is not empty the
// store is saved there on Close.
func WithLongTermMemory(m *memory.LongTermMemory, path string) Option {
	return func(a *Analyst) {
		a.longTerm = m
		a.longTermPath = path
	}
}

func WithSandbox(sb *sandbox.Sandbox) Option {
	return func(a *Analyst) { a.sandbox = sb }
}

func WithHistory(h HistoryWriter) Option {
	return func(a *Analyst) { a.history = h }
}

// WithFileName sets the dataset file name recorded with long-term entries.
func WithFileName(name string) Option {
	return func(a *Analyst) { a.fileName = name }
}

// WithIdleDelay sets the pause before going idle after a turn. Zero makes
// the transition immediate.
func WithIdleDelay(d time.Duration) Option {
	return func(a *Analyst) {
		if d >= 0 {
			a.idleDelay = d
		}
	}
}

func WithContextBudget(chars int) Option {
	return func(a *Analyst) {
		if chars > 0 {
			a.contextBudget = chars
		}
	}
}

// WithClock replaces time.Now for status bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(a *Analyst) {
		if now != nil {
			a.now = now
		}
	}
}

// WithMetrics sets the turn metrics collector. Defaults to
// observability.GlobalMetrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Analyst) {
		if m != nil {
			a.metrics = m
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyst) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Analyst answers questions about one dataset session. Turns are serialized;
// summarization of the short-term buffer is the only work that outlives a turn.
type Analyst struct {
	sessionID     string
	fileName      string
	llm           ai.LLMService
	shortTerm     *memory.ShortTermMemory
	longTerm      *memory.LongTermMemory
	longTermPath  string
	sandbox       *sandbox.Sandbox
	history       HistoryWriter
	idleDelay     time.Duration
	contextBudget int
	now           func() time.Time
	logger        *slog.Logger
	metrics       *observability.Metrics

	turnMu   sync.Mutex
	carry    carryOver
	notifier *notifier

	mu           sync.Mutex
	status       Status
	lastActivity time.Time
	idleTimer    *time.Timer
	closed       bool

	closeOnce sync.Once
	closeErr  error
}

// New creates an analyst in the active state. Without memory options it
// answers every question from the dataset alone.
func New(sessionID string, llm ai.LLMService, opts ...Option) *Analyst {
	a := &Analyst{
		sessionID:     sessionID,
		fileName:      sessionID,
		llm:           llm,
		idleDelay:     DefaultIdleDelay,
		contextBudget: DefaultContextBudget,
		now:           time.Now,
		logger:        slog.Default(),
		metrics:       observability.GlobalMetrics(),
		status:        StatusActive,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.sandbox == nil {
		a.sandbox = sandbox.New(sandbox.WithLogger(a.logger))
	}
	a.notifier = newNotifier(a.logger)
	a.lastActivity = a.now()
	return a
}

// Analyze answers question about ds. Failures are returned as answer text
// with a fixed prefix; nothing is returned as an error.
func (a *Analyst) Analyze(ctx context.Context, ds *dataset.Dataset, question string, useMemory bool) string {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()

	tc := a.turnContext(ctx)
	tc.Info("analyst turn started",
		slog.Int(observability.LogFieldQuestionLen, len(question)),
		slog.Bool("use_memory", useMemory),
	)

	a.setStatus(StatusAnalyzing)
	defer a.setStatus(StatusIdle)

	answer, err := a.turn(ctx, tc, ds, question, useMemory)
	if err != nil {
		var terr *TurnError
		if !errors.As(err, &terr) {
			terr = &TurnError{Kind: ErrSandboxExecution, Cause: err}
		}
		tc.Warn("analyst turn failed",
			slog.String("kind", terr.Kind.String()),
			slog.String("error", err.Error()),
			slog.Int64(observability.LogFieldDuration, tc.DurationMs()),
		)
		a.metrics.RecordTurn(terr.Kind.String(), tc.Duration())
		return terr.Message()
	}

	tc.Done("analyst turn completed", slog.Int("answer_length", len(answer)))
	a.metrics.RecordTurn(observability.OutcomeOK, tc.Duration())
	return answer
}

// AskFollowup is Analyze with memory enabled.
func (a *Analyst) AskFollowup(ctx context.Context, ds *dataset.Dataset, question string) string {
	return a.Analyze(ctx, ds, question, true)
}

func (a *Analyst) turnContext(ctx context.Context) *observability.TurnContext {
	if parent, ok := observability.FromContext(ctx); ok {
		return observability.NewTurnContextWithID(a.logger, parent.RequestID, a.sessionID)
	}
	return observability.NewTurnContext(a.logger, a.sessionID)
}

func (a *Analyst) turn(ctx context.Context, tc *observability.TurnContext, ds *dataset.Dataset, question string, useMemory bool) (string, error) {
	if ds == nil {
		ds = dataset.New(nil, nil)
	}
	working := ds.Normalize()

	reusing := false
	if useMemory && RefersToPrevious(question) {
		if snapshot := a.carry.load(); snapshot != nil {
			working = snapshot
			reusing = true
			tc.Debug("reusing previous rows", slog.Int("rows", snapshot.Len()))
		}
	}

	memoryContext := a.gatherContext(ctx, question, useMemory)
	prompt := buildAnalystPrompt(working.Head(previewRows).CSV(), working.Columns(), question, memoryContext, reusing)

	raw, err := a.ask(ctx, prompt)
	if err != nil {
		return "", &TurnError{Kind: ErrLLMCall, Cause: err}
	}

	act := Interpret(raw)
	tc.Debug("agent response interpreted", slog.String(observability.LogFieldAction, act.Name()))

	switch act := act.(type) {
	case RowsAction:
		return a.answerRows(ctx, working, question, act, reusing)
	case CodeAction:
		return a.answerCode(ctx, tc, working, question, act, reusing)
	case AnswerAction:
		answer := act.Explain
		if answer == "" {
			answer = msgNoAnswer
		}
		a.remember(ctx, question, answer)
		return answer, nil
	default:
		return "", &TurnError{Kind: ErrResponseParse}
	}
}

// gatherContext builds the memory blocks for the prompt. Short-term and
// long-term memory are read concurrently.
func (a *Analyst) gatherContext(ctx context.Context, question string, useMemory bool) string {
	if !useMemory {
		return ""
	}

	var shortTerm string
	var hits []string
	g, gctx := errgroup.WithContext(ctx)
	if a.shortTerm != nil {
		g.Go(func() error {
			shortTerm = a.shortTerm.BuildContext(question, a.contextBudget)
			return nil
		})
	}
	if a.longTerm != nil {
		g.Go(func() error {
			hits = a.longTerm.Retrieve(gctx, question, longTermTopK)
			return nil
		})
	}
	_ = g.Wait()

	return buildMemoryContext(shortTerm, hits)
}

func (a *Analyst) ask(ctx context.Context, prompt string) (string, error) {
	if a.llm == nil {
		return "", errors.New("no LLM service configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout.LLMCallTimeout)
	defer cancel()

	return a.llm.Chat(ctx, []ai.Message{
		ai.SystemPrompt(analystSystemPrompt),
		ai.UserMessage(prompt),
	})
}

func (a *Analyst) answerRows(ctx context.Context, working *dataset.Dataset, question string, act RowsAction, reusing bool) (string, error) {
	var rows *dataset.Dataset
	switch {
	case reusing:
		rows = working
	case act.RowsFilter != "":
		filtered, err := working.Filter(CleanFilter(act.RowsFilter))
		if err != nil {
			terr := &TurnError{Kind: ErrFilter, Cause: err}
			a.remember(ctx, question, terr.Message())
			return "", terr
		}
		rows = filtered
		a.carry.store(rows)
	case act.Code != "":
		parsed, err := dataset.ReadCSV(strings.NewReader(stripFences(act.Code)))
		if err != nil {
			return "", &TurnError{Kind: ErrResponseParse, Cause: err}
		}
		rows = parsed.Normalize()
		a.carry.store(rows)
	default:
		return msgNoRows, nil
	}

	answer := project(rows, act.TargetColumns).Head(rowsAnswerLimit).CSV()
	a.remember(ctx, question, answer)
	return answer, nil
}

func (a *Analyst) answerCode(ctx context.Context, tc *observability.TurnContext, working *dataset.Dataset, question string, act CodeAction, reusing bool) (string, error) {
	if act.RowsFilter != "" && !reusing {
		if filtered, err := working.Filter(CleanFilter(act.RowsFilter)); err == nil {
			a.carry.store(filtered)
		} else {
			tc.Debug("ignoring unusable rows filter", slog.String("error", err.Error()))
		}
	}

	res := a.sandbox.Run(ctx, PrepareCode(act.Code), working)
	tc.Debug("snippet executed", slog.String(observability.LogFieldOutcome, res.Kind.String()))

	var answer string
	switch res.Kind {
	case sandbox.KindError:
		terr := &TurnError{Kind: ErrSandboxExecution, Cause: res.Err}
		a.remember(ctx, question, terr.Message())
		return "", terr
	case sandbox.KindFilteredDataset:
		a.carry.store(res.Dataset)
		answer = fmt.Sprintf("Returned %d rows (preview attached).\n%s",
			res.Dataset.Len(), res.Dataset.Head(previewRows).CSV())
	default:
		answer = res.Text()
	}

	a.remember(ctx, question, answer)
	return answer, nil
}

// remember records a finished exchange. Every write is best effort.
func (a *Analyst) remember(ctx context.Context, question, answer string) {
	if a.shortTerm != nil {
		a.shortTerm.Append(question, answer)
	}
	if a.longTerm != nil {
		a.setStatus(StatusSummarizing)
		a.longTerm.Add(ctx, "Q: "+question+"\nA: "+answer, vector.Metadata{FileName: a.fileName})
	}
	if a.history != nil {
		if err := a.history.AppendHistory(ctx, a.sessionID, question, answer, a.now()); err != nil {
			werr := &TurnError{Kind: ErrMemoryWrite, Cause: err}
			a.logger.Warn("failed to append history",
				slog.String(observability.LogFieldSessionID, a.sessionID),
				slog.String("error", werr.Error()),
			)
		}
	}
}

// project keeps the requested columns that exist. Unknown names are ignored;
// if none are known every column is kept.
func project(rows *dataset.Dataset, columns []string) *dataset.Dataset {
	var known []string
	for _, c := range columns {
		if rows.HasColumn(c) {
			known = append(known, c)
		}
	}
	if len(known) == 0 {
		return rows
	}
	out, err := rows.Select(known)
	if err != nil {
		return rows
	}
	return out
}

func (a *Analyst) setStatus(s Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.stopIdleTimerLocked()

	if s == StatusIdle && a.idleDelay > 0 && a.status != StatusIdle {
		var t *time.Timer
		t = time.AfterFunc(a.idleDelay, func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			if a.closed || a.idleTimer != t {
				return
			}
			a.idleTimer = nil
			a.applyStatusLocked(StatusIdle)
		})
		a.idleTimer = t
		return
	}
	a.applyStatusLocked(s)
}

func (a *Analyst) applyStatusLocked(s Status) {
	a.status = s
	a.lastActivity = a.now()
	a.notifier.publish(statusEvent{sessionID: a.sessionID, status: s})
	a.logger.Debug("analyst status changed",
		slog.String(observability.LogFieldSessionID, a.sessionID),
		slog.String(observability.LogFieldStatus, s.String()),
	)
}

func (a *Analyst) stopIdleTimerLocked() {
	if a.idleTimer != nil {
		a.idleTimer.Stop()
		a.idleTimer = nil
	}
}

// Status reports the current state. It is idle once IdleAfter has passed
// since the last transition, whatever the stored state.
func (a *Analyst) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.now().Sub(a.lastActivity) > IdleAfter {
		return StatusIdle
	}
	return a.status
}

// LastActivity returns the time of the last status transition.
func (a *Analyst) LastActivity() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastActivity
}

// OnStatusChange registers a listener for status transitions. Listeners run
// on a dedicated goroutine in transition order.
func (a *Analyst) OnStatusChange(fn StatusListener) {
	a.notifier.subscribe(fn)
}

func (a *Analyst) SessionID() string { return a.sessionID }

// ShortTerm returns the recent-turn buffer, or nil when disabled.
func (a *Analyst) ShortTerm() *memory.ShortTermMemory { return a.shortTerm }

// LongTerm returns the semantic store, or nil when disabled.
func (a *Analyst) LongTerm() *memory.LongTermMemory { return a.longTerm }

// LastFilteredRows returns a copy of the rows kept for follow-up questions,
// or nil.
func (a *Analyst) LastFilteredRows() *dataset.Dataset {
	return a.carry.load()
}

// Close waits for the running turn and background summarization, saves
// long-term memory and stops status delivery. It is safe to call more than
// once.
func (a *Analyst) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.closeErr = a.close(ctx)
	})
	return a.closeErr
}

func (a *Analyst) close(ctx context.Context) error {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()

	a.mu.Lock()
	a.stopIdleTimerLocked()
	a.closed = true
	a.mu.Unlock()

	var errs []error
	if a.shortTerm != nil {
		done := make(chan struct{})
		go func() {
			a.shortTerm.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("waiting for summarization: %w", ctx.Err()))
		}
	}

	if a.longTerm != nil && a.longTermPath != "" {
		if err := a.longTerm.Save(a.longTermPath); err != nil {
			errs = append(errs, err)
		}
	}

	a.notifier.close()
	return errors.Join(errs...)
}
