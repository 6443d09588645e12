package memory

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/hrygo/tablesense/plugin/ai"
	"github.com/hrygo/tablesense/plugin/ai/timeout"
	"github.com/hrygo/tablesense/plugin/ai/vector"
)

// LongTermMemory is an append-only semantic store: text is embedded on the way
// in and retrieved by similarity to a query.
type LongTermMemory struct {
	embedder ai.EmbeddingService
	index    vector.Index
	logger   *slog.Logger
	now      func() time.Time
}

// NewLongTermMemory creates a long-term memory over an embedder and an index.
func NewLongTermMemory(embedder ai.EmbeddingService, index vector.Index, logger *slog.Logger) *LongTermMemory {
	if logger == nil {
		logger = slog.Default()
	}
	return &LongTermMemory{
		embedder: embedder,
		index:    index,
		logger:   logger,
		now:      time.Now,
	}
}

// Add embeds text and stores it. It is best effort: failures are logged and
// never reach the caller.
func (l *LongTermMemory) Add(ctx context.Context, text string, meta vector.Metadata) {
	if err := l.add(ctx, text, meta); err != nil {
		l.logger.Warn("long-term memory write failed",
			slog.String("file_name", meta.FileName),
			slog.String("error", err.Error()),
		)
	}
}

func (l *LongTermMemory) add(ctx context.Context, text string, meta vector.Metadata) error {
	ctx, cancel := context.WithTimeout(ctx, timeout.EmbeddingTimeout)
	defer cancel()

	embedding, err := l.embedder.Embed(ctx, text)
	if err != nil {
		return &WriteError{Op: "embed", Err: err}
	}
	entry := vector.Entry{
		ID:        uuid.NewString(),
		Text:      text,
		Metadata:  meta,
		Embedding: embedding,
		CreatedAt: l.now(),
	}
	if err := l.index.Add(ctx, entry); err != nil {
		return &WriteError{Op: "index", Err: err}
	}
	return nil
}

// Retrieve returns up to topK stored texts ranked by similarity to query. It
// returns nil when the store is empty or retrieval fails.
func (l *LongTermMemory) Retrieve(ctx context.Context, query string, topK int) []string {
	if topK <= 0 {
		return nil
	}
	n, err := l.index.Len(ctx)
	if err != nil || n == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout.EmbeddingTimeout)
	defer cancel()

	embedding, err := l.embedder.Embed(ctx, query)
	if err != nil {
		l.logger.Warn("long-term memory retrieval failed", slog.String("error", err.Error()))
		return nil
	}
	results, err := l.index.Search(ctx, embedding, topK)
	if err != nil {
		l.logger.Warn("long-term memory search failed", slog.String("error", err.Error()))
		return nil
	}

	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Entry.Text
	}
	return texts
}

// Len returns the number of stored entries, or 0 if the index cannot tell.
func (l *LongTermMemory) Len(ctx context.Context) int {
	n, err := l.index.Len(ctx)
	if err != nil {
		return 0
	}
	return n
}

// Save persists the store to path.
func (l *LongTermMemory) Save(path string) error {
	if err := l.index.Save(path); err != nil {
		return &WriteError{Op: "save", Err: err}
	}
	return nil
}

// Load restores the store from path. A missing file is not an error. Any other
// failure is logged and leaves the store empty.
func (l *LongTermMemory) Load(ctx context.Context, path string) {
	err := l.index.Load(path)
	switch {
	case err == nil:
		l.logger.Debug("long-term memory loaded", slog.String("path", path), slog.Int("entries", l.Len(ctx)))
	case errors.Is(err, os.ErrNotExist):
	default:
		l.logger.Warn("failed to load long-term memory, starting empty",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		if err := l.index.Clear(ctx); err != nil {
			l.logger.Warn("failed to reset long-term memory", slog.String("error", err.Error()))
		}
	}
}

// Clear removes every entry.
func (l *LongTermMemory) Clear(ctx context.Context) error {
	return l.index.Clear(ctx)
}
