package comments

import (
	"context"
	"sort"
	"sync"
)

// Memory is the in-process comment store used by single-node deployments
// and tests.
type Memory struct {
	mu    sync.RWMutex
	byDoc map[string]map[string]Comment
}

func NewMemory() *Memory {
	return &Memory{byDoc: make(map[string]map[string]Comment)}
}

func (m *Memory) Add(_ context.Context, c Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.byDoc[c.DocID]
	if !ok {
		doc = make(map[string]Comment)
		m.byDoc[c.DocID] = doc
	}
	doc[c.ID] = c
	return nil
}

func (m *Memory) List(_ context.Context, docID string) ([]Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc := m.byDoc[docID]
	out := make([]Comment, 0, len(doc))
	for _, c := range doc {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) Resolve(_ context.Context, docID, commentID string) (Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.byDoc[docID]
	c, ok := doc[commentID]
	if !ok {
		return Comment{}, ErrNotFound
	}
	c.Resolved = true
	doc[commentID] = c
	return c, nil
}
