package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultIdleTTL is how long an idle session is kept before eviction.
	DefaultIdleTTL = 30 * time.Minute
	// DefaultSweepInterval is the default interval between eviction runs.
	DefaultSweepInterval = time.Minute
)

// CleanupConfig holds configuration for the cleanup job.
type CleanupConfig struct {
	IdleTTL       time.Duration // Idle time before a session is evicted (default: 30m)
	SweepInterval time.Duration // Interval between runs (default: 1m)
}

// DefaultCleanupConfig returns the default cleanup configuration.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		IdleTTL:       DefaultIdleTTL,
		SweepInterval: DefaultSweepInterval,
	}
}

// CleanupJob periodically evicts idle sessions from a registry.
type CleanupJob struct {
	registry *Registry
	config   CleanupConfig

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewCleanupJob creates a new cleanup job.
func NewCleanupJob(registry *Registry, config CleanupConfig) *CleanupJob {
	if config.IdleTTL <= 0 {
		config.IdleTTL = DefaultIdleTTL
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	return &CleanupJob{
		registry: registry,
		config:   config,
	}
}

// Start begins the periodic cleanup job. It does not block.
func (j *CleanupJob) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return
	}
	j.running = true
	j.stopChan = make(chan struct{})
	j.done = make(chan struct{})

	go j.run(ctx, j.stopChan, j.done)

	slog.Info("session cleanup job started",
		"idle_ttl", j.config.IdleTTL,
		"interval", j.config.SweepInterval)
}

// Stop stops the cleanup job and waits for a run in progress.
func (j *CleanupJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	close(j.stopChan)
	done := j.done
	j.running = false
	j.mu.Unlock()

	<-done
	slog.Info("session cleanup job stopped")
}

// RunOnce evicts idle sessions immediately.
func (j *CleanupJob) RunOnce(ctx context.Context) (int, error) {
	return j.registry.EvictIdle(ctx, j.config.IdleTTL)
}

func (j *CleanupJob) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(j.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if evicted, err := j.RunOnce(ctx); err != nil {
				slog.Error("session cleanup failed", "error", err)
			} else if evicted > 0 {
				slog.Info("session cleanup completed", "evicted", evicted)
			}
		}
	}
}

// IsRunning returns whether the cleanup job is currently running.
func (j *CleanupJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}
