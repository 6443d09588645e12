package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// indexFileVersion is bumped when the on-disk layout changes.
const indexFileVersion = 1

// MemoryIndex is a flat in-memory index. Search is a linear cosine scan, which is
// fine for the few hundred turns a session accumulates.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries []Entry
	dim     int
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

type indexFile struct {
	Version    int     `json:"version"`
	Dimensions int     `json:"dimensions"`
	Entries    []Entry `json:"entries"`
}

// Add appends an entry. All entries must share the first entry's dimension.
func (m *MemoryIndex) Add(ctx context.Context, entry Entry) error {
	if len(entry.Embedding) == 0 {
		return fmt.Errorf("entry %q has no embedding", entry.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dim == 0 {
		m.dim = len(entry.Embedding)
	} else if len(entry.Embedding) != m.dim {
		return fmt.Errorf("embedding dimension mismatch: index has %d, entry has %d", m.dim, len(entry.Embedding))
	}

	entry.Embedding = append([]float32(nil), entry.Embedding...)
	m.entries = append(m.entries, entry)
	return nil
}

// Search ranks entries by cosine similarity. Ties keep insertion order.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, topK int) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if topK <= 0 || len(m.entries) == 0 {
		return nil, nil
	}
	if len(query) != m.dim {
		return nil, fmt.Errorf("query dimension mismatch: index has %d, query has %d", m.dim, len(query))
	}

	results := make([]Result, len(m.entries))
	for i, e := range m.entries {
		results[i] = Result{Entry: e, Score: CosineSimilarity(query, e.Embedding)}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// Len returns the number of entries.
func (m *MemoryIndex) Len(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

// Clear removes every entry.
func (m *MemoryIndex) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	m.dim = 0
	return nil
}

// Save writes the index as JSON. The file is replaced atomically.
func (m *MemoryIndex) Save(path string) error {
	m.mu.RLock()
	data, err := json.Marshal(indexFile{
		Version:    indexFileVersion,
		Dimensions: m.dim,
		Entries:    m.entries,
	})
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write index file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// Load replaces the contents with a file written by Save. On error the index
// is left unchanged.
func (m *MemoryIndex) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var f indexFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to decode index %s: %w", path, err)
	}
	if f.Version != indexFileVersion {
		return fmt.Errorf("unsupported index version %d", f.Version)
	}
	for _, e := range f.Entries {
		if len(e.Embedding) != f.Dimensions {
			return fmt.Errorf("entry %q has dimension %d, index declares %d", e.ID, len(e.Embedding), f.Dimensions)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = f.Entries
	m.dim = f.Dimensions
	return nil
}

var _ Index = (*MemoryIndex)(nil)
