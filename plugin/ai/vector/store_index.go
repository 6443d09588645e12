package vector

import (
	"context"
	"fmt"
	"time"

	"github.com/hrygo/tablesense/store"
)

// StoreIndex keeps entries in the database, one namespace per dataset. Writes go
// straight through, so Save and Load do nothing.
type StoreIndex struct {
	store     *store.Store
	namespace string
}

// NewStoreIndex creates an index over the given namespace.
func NewStoreIndex(s *store.Store, namespace string) *StoreIndex {
	return &StoreIndex{store: s, namespace: namespace}
}

func (i *StoreIndex) Add(ctx context.Context, entry Entry) error {
	if len(entry.Embedding) == 0 {
		return fmt.Errorf("entry %q has no embedding", entry.ID)
	}
	_, err := i.store.CreateMemoryEntry(ctx, &store.MemoryEntry{
		UID:       entry.ID,
		Namespace: i.namespace,
		Content:   entry.Text,
		FileName:  entry.Metadata.FileName,
		Tags:      entry.Metadata.Tags,
		Embedding: entry.Embedding,
		CreatedTs: entry.CreatedAt.Unix(),
	})
	return err
}

func (i *StoreIndex) Search(ctx context.Context, query []float32, topK int) ([]Result, error) {
	if topK <= 0 {
		return nil, nil
	}
	hits, err := i.store.SearchMemoryEntries(ctx, &store.MemorySearchOptions{
		Namespace: i.namespace,
		Vector:    query,
		Limit:     topK,
	})
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{Entry: toEntry(h.Entry), Score: h.Score})
	}
	return results, nil
}

func (i *StoreIndex) Len(ctx context.Context) (int, error) {
	list, err := i.store.ListMemoryEntries(ctx, &store.FindMemoryEntry{Namespace: &i.namespace})
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

func (i *StoreIndex) Clear(ctx context.Context) error {
	return i.store.DeleteMemoryEntries(ctx, &store.DeleteMemoryEntry{Namespace: &i.namespace})
}

func (i *StoreIndex) Save(string) error { return nil }

func (i *StoreIndex) Load(string) error { return nil }

func toEntry(m *store.MemoryEntry) Entry {
	return Entry{
		ID:        m.UID,
		Text:      m.Content,
		Metadata:  Metadata{FileName: m.FileName, Tags: m.Tags},
		Embedding: m.Embedding,
		CreatedAt: time.Unix(m.CreatedTs, 0),
	}
}

var _ Index = (*StoreIndex)(nil)
