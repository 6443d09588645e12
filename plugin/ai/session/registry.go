// Package session keeps one analyst per dataset session: analysts are created
// on first use and evicted once they have been idle long enough.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hrygo/tablesense/plugin/ai/agent"
)

// Factory builds the analyst for a new session.
type Factory func(ctx context.Context, sessionID string) (*agent.Analyst, error)

// Registry maps session ids to analysts.
type Registry struct {
	factory Factory
	group   singleflight.Group
	now     func() time.Time

	mu        sync.RWMutex
	analysts  map[string]*agent.Analyst
	listeners []agent.StatusListener
}

// NewRegistry creates an empty registry.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory:  factory,
		now:      time.Now,
		analysts: make(map[string]*agent.Analyst),
	}
}

// Get returns the analyst for sessionID, creating it on first use.
// Concurrent first calls for the same session share one creation.
func (r *Registry) Get(ctx context.Context, sessionID string) (*agent.Analyst, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	if a, ok := r.Lookup(sessionID); ok {
		return a, nil
	}

	v, err, _ := r.group.Do(sessionID, func() (any, error) {
		if a, ok := r.Lookup(sessionID); ok {
			return a, nil
		}
		a, err := r.factory(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to create analyst for session %s: %w", sessionID, err)
		}
		a.OnStatusChange(r.dispatch)

		r.mu.Lock()
		r.analysts[sessionID] = a
		r.mu.Unlock()

		slog.Info("analyst session created", slog.String("session_id", sessionID))
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*agent.Analyst), nil
}

// Lookup returns the analyst for sessionID without creating one.
func (r *Registry) Lookup(sessionID string) (*agent.Analyst, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.analysts[sessionID]
	return a, ok
}

// Status returns the status of a session. Sessions without an analyst report
// idle and false.
func (r *Registry) Status(sessionID string) (agent.Status, bool) {
	a, ok := r.Lookup(sessionID)
	if !ok {
		return agent.StatusIdle, false
	}
	return a.Status(), true
}

// Sessions returns the ids of live sessions, sorted.
func (r *Registry) Sessions() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.analysts))
	for id := range r.analysts {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.analysts)
}

// Remove closes and forgets the analyst for sessionID. Removing an unknown
// session is a no-op.
func (r *Registry) Remove(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	a, ok := r.analysts[sessionID]
	delete(r.analysts, sessionID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if err := a.Close(ctx); err != nil {
		return fmt.Errorf("failed to close session %s: %w", sessionID, err)
	}
	slog.Info("analyst session removed", slog.String("session_id", sessionID))
	return nil
}

// OnStatusChange registers a listener that receives status changes of every
// session, including ones created later.
func (r *Registry) OnStatusChange(fn agent.StatusListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Registry) dispatch(sessionID string, status agent.Status) error {
	r.mu.RLock()
	listeners := r.listeners
	r.mu.RUnlock()

	var errs []error
	for _, l := range listeners {
		if err := l(sessionID, status); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EvictIdle closes sessions that report idle and have had no activity for
// longer than ttl. It returns the number evicted.
func (r *Registry) EvictIdle(ctx context.Context, ttl time.Duration) (int, error) {
	now := r.now()

	r.mu.Lock()
	var expired []string
	for id, a := range r.analysts {
		if a.Status() == agent.StatusIdle && now.Sub(a.LastActivity()) > ttl {
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()

	var errs []error
	evicted := 0
	for _, id := range expired {
		if err := r.Remove(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		evicted++
	}
	return evicted, errors.Join(errs...)
}

// Close closes every session.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error
	for _, id := range r.Sessions() {
		if err := r.Remove(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
