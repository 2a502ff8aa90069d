package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssau-fiit/coedit-api/internal/ot"
	"github.com/ssau-fiit/coedit-api/internal/store"
)

func TestMemoryDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	doc := store.Document{ID: "doc-1", Name: "notes", Author: "alice"}
	require.NoError(t, m.CreateDocument(ctx, doc, "hello"))

	got, err := m.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	snap, err := m.LoadSnapshot(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", snap.Content, "new documents should start from the initial content")
	assert.Equal(t, int64(0), snap.Version, "new documents should start at version zero")

	require.NoError(t, m.DeleteDocument(ctx, "doc-1"))

	_, err = m.GetDocument(ctx, "doc-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = m.LoadSnapshot(ctx, "doc-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, m.DeleteDocument(ctx, "doc-1"), store.ErrNotFound)
}

func TestMemoryListDocumentsSorted(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	for _, id := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, m.CreateDocument(ctx, store.Document{ID: id, Name: id}, ""))
	}

	docs, err := m.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "alpha", docs[0].ID)
	assert.Equal(t, "bravo", docs[1].ID)
	assert.Equal(t, "charlie", docs[2].ID)
}

func TestMemorySnapshotPersist(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.CreateDocument(ctx, store.Document{ID: "doc-1"}, "v0"))

	want := store.Snapshot{Content: "v7 content", Version: 7}
	require.NoError(t, m.PersistSnapshot(ctx, "doc-1", want))

	got, err := m.LoadSnapshot(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	err = m.PersistSnapshot(ctx, "missing", want)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryLogAppendAndReadSince(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.CreateDocument(ctx, store.Document{ID: "doc-1"}, ""))

	for v := int64(1); v <= 5; v++ {
		entry := store.LogEntry{
			Version: v,
			Op:      ot.Operation{Type: ot.OpInsert, Index: 0, Text: "x", Author: "alice"},
		}
		version, err := m.AppendLogEntry(ctx, "doc-1", entry)
		require.NoError(t, err)
		assert.Equal(t, v, version)
	}

	all, err := m.ReadLogEntriesSince(ctx, "doc-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, int64(1), all[0].Version)

	tail, err := m.ReadLogEntriesSince(ctx, "doc-1", 3)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, int64(4), tail[0].Version)
	assert.Equal(t, int64(5), tail[1].Version)

	empty, err := m.ReadLogEntriesSince(ctx, "doc-1", 5)
	require.NoError(t, err)
	assert.Empty(t, empty, "reading at the tip should return nothing")

	_, err = m.ReadLogEntriesSince(ctx, "missing", 0)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = m.AppendLogEntry(ctx, "missing", store.LogEntry{Version: 1})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
