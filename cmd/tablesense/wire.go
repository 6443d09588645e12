package main

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/hrygo/tablesense/internal/profile"
	"github.com/hrygo/tablesense/plugin/ai"
	"github.com/hrygo/tablesense/plugin/ai/cache"
	"github.com/hrygo/tablesense/plugin/ai/memory"
	"github.com/hrygo/tablesense/plugin/ai/session"
	"github.com/hrygo/tablesense/store"
	"github.com/hrygo/tablesense/store/db"
)

type app struct {
	store    *store.Store
	registry *session.Registry
}

// wireApp validates the profile and builds the store, the AI services and the
// session registry.
func wireApp(ctx context.Context, p *profile.Profile) (*app, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid profile")
	}

	dbDriver, err := db.NewDBDriver(p)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	storeInstance := store.New(dbDriver, p)
	if err := storeInstance.Migrate(ctx); err != nil {
		_ = storeInstance.Close()
		return nil, errors.Wrap(err, "failed to migrate")
	}

	aiConfig := ai.NewConfigFromProfile(p)
	if err := aiConfig.Validate(); err != nil {
		_ = storeInstance.Close()
		return nil, errors.Wrap(err, "invalid AI configuration")
	}
	llmService, err := ai.NewLLMService(ctx, &aiConfig.LLM)
	if err != nil {
		_ = storeInstance.Close()
		return nil, errors.Wrap(err, "failed to create LLM service")
	}

	var embeddingService ai.EmbeddingService
	if p.LongTermMemory {
		embeddingService, err = ai.NewEmbeddingService(ctx, &aiConfig.Embedding)
		if err != nil {
			_ = storeInstance.Close()
			return nil, errors.Wrap(err, "failed to create embedding service")
		}
		if aiConfig.Embedding.CacheSize > 0 {
			embeddingService = cache.NewEmbeddingCache(embeddingService, aiConfig.Embedding.Provider+"/"+aiConfig.Embedding.Model, aiConfig.Embedding.CacheSize)
		}
	}

	factory := session.NewAnalystFactory(session.AnalystConfig{
		LLM:           llmService,
		Embedder:      embeddingService,
		Store:         storeInstance,
		DurableMemory: viper.GetBool("durable-memory"),
		MemoryDir:     p.MemoryDir(),
		ShortTerm: memory.ShortTermConfig{
			MaxItems:       p.MemoryMaxItems,
			CharBudget:     p.MemoryCharBudget(),
			SummarizeEvery: p.MemorySummarizeEvery,
		},
		Logger: slog.Default(),
	})

	slog.Debug("application wired",
		slog.String("llm_provider", aiConfig.LLM.Provider),
		slog.Bool("long_term_memory", p.LongTermMemory),
		slog.String("driver", p.Driver),
	)
	return &app{store: storeInstance, registry: session.NewRegistry(factory)}, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.registry.Close(ctx); err != nil {
		slog.Error("failed to close sessions", slog.String("error", err.Error()))
	}
	if err := a.store.Close(); err != nil {
		slog.Error("failed to close database", slog.String("error", err.Error()))
	}
}

func cleanupConfig() session.CleanupConfig {
	return session.CleanupConfig{
		IdleTTL:       viper.GetDuration("idle-ttl"),
		SweepInterval: viper.GetDuration("sweep-interval"),
	}
}
