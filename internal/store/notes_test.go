package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddNote_OrderedOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newTestRecord(t, s)
	require.NoError(t, s.AddNote(ctx, r.ID, "alice", "added 2 commit(s)"))
	require.NoError(t, s.AddNote(ctx, r.ID, "bob", "marked as draft from commit abc"))

	notes, err := s.Notes(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "alice", notes[0].Author)
	assert.Equal(t, "added 2 commit(s)", notes[0].Body)
	assert.Equal(t, "bob", notes[1].Author)
}

func TestReplaceClosingWorkItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newTestRecord(t, s)

	require.NoError(t, s.ReplaceClosingWorkItems(ctx, r.ID, []int64{3, 1, 2}))
	got, err := s.ClosingWorkItems(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, got)

	// Replacement overwrites, not appends.
	require.NoError(t, s.ReplaceClosingWorkItems(ctx, r.ID, []int64{7}))
	got, err = s.ClosingWorkItems(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, got)

	// An empty replacement clears the cache.
	require.NoError(t, s.ReplaceClosingWorkItems(ctx, r.ID, nil))
	got, err = s.ClosingWorkItems(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}
