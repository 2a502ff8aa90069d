package store

import (
	"context"
	"sort"
	"sync"
)

// Memory keeps everything in process. It backs single-node deployments
// and every test that needs a store without external services.
type Memory struct {
	mu    sync.RWMutex
	docs  map[string]Document
	snaps map[string]Snapshot
	logs  map[string][]LogEntry
}

func NewMemory() *Memory {
	return &Memory{
		docs:  make(map[string]Document),
		snaps: make(map[string]Snapshot),
		logs:  make(map[string][]LogEntry),
	}
}

func (m *Memory) CreateDocument(_ context.Context, doc Document, initialContent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	m.snaps[doc.ID] = Snapshot{Content: initialContent, Version: 0}
	return nil
}

func (m *Memory) GetDocument(_ context.Context, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

func (m *Memory) ListDocuments(_ context.Context) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Document, 0, len(m.docs))
	for _, doc := range m.docs {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return ErrNotFound
	}
	delete(m.docs, id)
	delete(m.snaps, id)
	delete(m.logs, id)
	return nil
}

func (m *Memory) LoadSnapshot(_ context.Context, docID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[docID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return snap, nil
}

func (m *Memory) PersistSnapshot(_ context.Context, docID string, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[docID]; !ok {
		return ErrNotFound
	}
	m.snaps[docID] = snap
	return nil
}

func (m *Memory) AppendLogEntry(_ context.Context, docID string, entry LogEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[docID]; !ok {
		return 0, ErrNotFound
	}
	m.logs[docID] = append(m.logs[docID], entry)
	return entry.Version, nil
}

func (m *Memory) ReadLogEntriesSince(_ context.Context, docID string, since int64) ([]LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.docs[docID]; !ok {
		return nil, ErrNotFound
	}
	log := m.logs[docID]
	i := sort.Search(len(log), func(i int) bool { return log[i].Version > since })
	out := make([]LogEntry, len(log)-i)
	copy(out, log[i:])
	return out, nil
}
