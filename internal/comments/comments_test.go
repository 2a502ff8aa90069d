package comments_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssau-fiit/coedit-api/internal/comments"
)

func TestMemoryAddListResolve(t *testing.T) {
	ctx := context.Background()
	m := comments.NewMemory()

	first := comments.Comment{ID: "c1", DocID: "doc-1", Author: "alice", Text: "tighten this paragraph", Index: 120, CreatedAt: 10}
	second := comments.Comment{ID: "c2", DocID: "doc-1", Author: "bob", Text: "typo", Index: 4, CreatedAt: 20}
	other := comments.Comment{ID: "c3", DocID: "doc-2", Author: "alice", Text: "unrelated", CreatedAt: 5}

	require.NoError(t, m.Add(ctx, second))
	require.NoError(t, m.Add(ctx, first))
	require.NoError(t, m.Add(ctx, other))

	list, err := m.List(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, list, 2, "comments must stay scoped to their document")
	assert.Equal(t, "c1", list[0].ID, "listing is ordered by creation time")
	assert.Equal(t, "c2", list[1].ID)
	assert.False(t, list[0].Resolved)

	resolved, err := m.Resolve(ctx, "doc-1", "c1")
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)

	list, err = m.List(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, list[0].Resolved, "resolution must persist")

	_, err = m.Resolve(ctx, "doc-1", "nope")
	assert.ErrorIs(t, err, comments.ErrNotFound)
	_, err = m.Resolve(ctx, "doc-2", "c1")
	assert.ErrorIs(t, err, comments.ErrNotFound, "comment ids are scoped per document")
}

func TestMemoryListEmptyDocument(t *testing.T) {
	list, err := comments.NewMemory().List(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}
