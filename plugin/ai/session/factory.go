package session

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/hrygo/tablesense/plugin/ai"
	"github.com/hrygo/tablesense/plugin/ai/agent"
	"github.com/hrygo/tablesense/plugin/ai/memory"
	"github.com/hrygo/tablesense/plugin/ai/sandbox"
	"github.com/hrygo/tablesense/plugin/ai/vector"
	"github.com/hrygo/tablesense/store"
)

// AnalystConfig wires the collaborators every new analyst is built from.
type AnalystConfig struct {
	LLM      ai.LLMService
	Embedder ai.EmbeddingService // nil disables long-term memory
	Store    *store.Store        // nil disables history

	// DurableMemory keeps long-term memory in Store instead of a JSON file
	// under MemoryDir.
	DurableMemory bool
	MemoryDir     string

	ShortTerm     memory.ShortTermConfig
	DisableMemory bool
	// IdleDelay is the pause before an analyst goes idle. Zero means
	// agent.DefaultIdleDelay, negative means no pause.
	IdleDelay      time.Duration
	SandboxTimeout time.Duration
	Logger         *slog.Logger
}

// NewAnalystFactory returns a Factory building analysts from cfg. File-backed
// long-term memory is loaded when the session is created and saved when it
// is closed.
func NewAnalystFactory(cfg AnalystConfig) Factory {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	idleDelay := cfg.IdleDelay
	switch {
	case idleDelay == 0:
		idleDelay = agent.DefaultIdleDelay
	case idleDelay < 0:
		idleDelay = 0
	}

	return func(ctx context.Context, sessionID string) (*agent.Analyst, error) {
		sbOpts := []sandbox.Option{sandbox.WithLogger(logger)}
		if cfg.SandboxTimeout > 0 {
			sbOpts = append(sbOpts, sandbox.WithTimeout(cfg.SandboxTimeout))
		}

		opts := []agent.Option{
			agent.WithFileName(sessionID),
			agent.WithSandbox(sandbox.New(sbOpts...)),
			agent.WithIdleDelay(idleDelay),
			agent.WithLogger(logger),
		}
		if cfg.Store != nil {
			opts = append(opts, agent.WithHistory(cfg.Store))
		}

		if !cfg.DisableMemory {
			stCfg := cfg.ShortTerm
			if stCfg.Summarizer == nil && cfg.LLM != nil {
				stCfg.Summarizer = memory.LLMSummarizer{LLM: cfg.LLM}
			}
			if stCfg.Logger == nil {
				stCfg.Logger = logger
			}
			opts = append(opts, agent.WithShortTermMemory(memory.NewShortTermMemory(stCfg)))

			if cfg.Embedder != nil {
				ltm, path := newLongTermMemory(ctx, cfg, logger, sessionID)
				opts = append(opts, agent.WithLongTermMemory(ltm, path))
			}
		}

		return agent.New(sessionID, cfg.LLM, opts...), nil
	}
}

func newLongTermMemory(ctx context.Context, cfg AnalystConfig, logger *slog.Logger, sessionID string) (*memory.LongTermMemory, string) {
	if cfg.DurableMemory && cfg.Store != nil {
		index := vector.NewStoreIndex(cfg.Store, sessionID)
		return memory.NewLongTermMemory(cfg.Embedder, index, logger), ""
	}

	ltm := memory.NewLongTermMemory(cfg.Embedder, vector.NewMemoryIndex(), logger)
	if cfg.MemoryDir == "" {
		return ltm, ""
	}
	path := MemoryPath(cfg.MemoryDir, sessionID)
	ltm.Load(ctx, path)
	return ltm, path
}

// MemoryPath is the JSON file holding a session's long-term memory.
func MemoryPath(dir, sessionID string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, filepath.Base(sessionID))
	return filepath.Join(dir, name+".memory.json")
}
