package agent

import (
	"strings"
	"sync"

	"github.com/hrygo/tablesense/plugin/ai/dataset"
)

// backReferences are phrases that point at the rows or answer of an earlier turn.
var backReferences = []string{
	"those",
	"them",
	"that company",
	"previous",
	"previously",
	"these",
	"the above",
	"the ones",
	"those rows",
	"that answer",
}

// RefersToPrevious reports whether question contains a back-reference phrase.
// Matching is case-insensitive substring matching.
func RefersToPrevious(question string) bool {
	q := strings.ToLower(question)
	for _, phrase := range backReferences {
		if strings.Contains(q, phrase) {
			return true
		}
	}
	return false
}

// carryOver holds the last filtered rows of a session. It stores and hands
// out copies, so neither the working dataset nor a caller can change the
// snapshot.
type carryOver struct {
	mu   sync.Mutex
	rows *dataset.Dataset
}

func (c *carryOver) store(rows *dataset.Dataset) {
	if rows == nil {
		return
	}
	snapshot := rows.Clone()
	c.mu.Lock()
	c.rows = snapshot
	c.mu.Unlock()
}

// load returns a copy of the snapshot, or nil if there is none.
func (c *carryOver) load() *dataset.Dataset {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rows == nil {
		return nil
	}
	return c.rows.Clone()
}

func (c *carryOver) has() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows != nil
}

func (c *carryOver) clear() {
	c.mu.Lock()
	c.rows = nil
	c.mu.Unlock()
}
