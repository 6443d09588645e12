// Package vector provides the semantic index behind long-term memory.
package vector

import (
	"context"
	"math"
	"time"
)

// Index stores embedded entries and ranks them against a query vector.
type Index interface {
	// Add appends an entry. Entries are never updated in place.
	Add(ctx context.Context, entry Entry) error

	// Search returns at most topK entries ordered by descending similarity.
	Search(ctx context.Context, query []float32, topK int) ([]Result, error)

	// Len returns the number of stored entries.
	Len(ctx context.Context) (int, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Save persists the index to path. Indexes that write through may ignore it.
	Save(path string) error

	// Load replaces the index contents with what was saved at path.
	Load(path string) error
}

// Metadata describes where an entry came from.
type Metadata struct {
	FileName string   `json:"file_name"`
	Tags     []string `json:"tags,omitempty"`
}

// Entry is one remembered piece of text and its embedding.
type Entry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Metadata  Metadata  `json:"metadata"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
}

// Result is a ranked search hit.
type Result struct {
	Entry Entry   `json:"entry"`
	Score float32 `json:"score"` // cosine similarity, -1..1
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when the
// lengths differ or either vector is zero.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
