package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// History model related methods.
	CreateHistory(ctx context.Context, create *History) (*History, error)
	ListHistories(ctx context.Context, find *FindHistory) ([]*History, error)
	DeleteHistories(ctx context.Context, delete *DeleteHistory) error

	// MemoryEntry model related methods.
	CreateMemoryEntry(ctx context.Context, create *MemoryEntry) (*MemoryEntry, error)
	ListMemoryEntries(ctx context.Context, find *FindMemoryEntry) ([]*MemoryEntry, error)
	DeleteMemoryEntries(ctx context.Context, delete *DeleteMemoryEntry) error

	// SearchMemoryEntries ranks a namespace's entries by cosine similarity to a vector.
	SearchMemoryEntries(ctx context.Context, opts *MemorySearchOptions) ([]*MemoryEntryWithScore, error)
}
