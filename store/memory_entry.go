package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MemoryEntry is a persisted long-term memory item with its embedding.
type MemoryEntry struct {
	ID        int64
	UID       string
	Namespace string // one namespace per dataset
	Content   string
	FileName  string
	Tags      []string
	Embedding []float32
	CreatedTs int64
}

type FindMemoryEntry struct {
	Namespace *string
	Limit     int
}

type DeleteMemoryEntry struct {
	Namespace *string
}

// MemorySearchOptions represents the options for memory vector search.
type MemorySearchOptions struct {
	Namespace string    // Required
	Vector    []float32 // Query vector
	Limit     int       // Number of results to return, default 10
}

// MemoryEntryWithScore is a search hit.
type MemoryEntryWithScore struct {
	Entry *MemoryEntry
	Score float32 // Cosine similarity, higher is more similar
}

func (s *Store) CreateMemoryEntry(ctx context.Context, create *MemoryEntry) (*MemoryEntry, error) {
	if create.UID == "" {
		create.UID = uuid.NewString()
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	return s.driver.CreateMemoryEntry(ctx, create)
}

func (s *Store) ListMemoryEntries(ctx context.Context, find *FindMemoryEntry) ([]*MemoryEntry, error) {
	return s.driver.ListMemoryEntries(ctx, find)
}

func (s *Store) DeleteMemoryEntries(ctx context.Context, delete *DeleteMemoryEntry) error {
	return s.driver.DeleteMemoryEntries(ctx, delete)
}

func (s *Store) SearchMemoryEntries(ctx context.Context, opts *MemorySearchOptions) ([]*MemoryEntryWithScore, error) {
	return s.driver.SearchMemoryEntries(ctx, opts)
}
