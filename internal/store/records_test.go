package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeline/forgeline/internal/record"
)

func TestCreateRecord_Roundtrip(t *testing.T) {
	s := newTestStore(t)

	r := &record.Record{
		SourceProject:           "fork/app",
		SourceBranch:            "feature",
		TargetProject:           "app",
		TargetBranch:            "main",
		Title:                   "Add feature",
		Author:                  "alice",
		Squash:                  true,
		ForceRemoveSourceBranch: true,
		DiffHeadCommitID:        "abc123",
		UpstreamProjectID:       3,
		UpstreamIID:             9,
	}
	require.NoError(t, s.CreateRecord(context.Background(), r))
	require.NotZero(t, r.ID)

	got, err := s.GetRecord(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StateOpened, got.State)
	assert.Equal(t, record.FreshnessUnchecked, got.DiffFreshness)
	assert.Equal(t, "fork/app", got.SourceProject)
	assert.True(t, got.Squash)
	assert.True(t, got.ForceRemoveSourceBranch)
	assert.Equal(t, "abc123", got.DiffHeadCommitID)
	assert.Equal(t, int64(3), got.UpstreamProjectID)
	assert.Equal(t, 9, got.UpstreamIID)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetRecord_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRecord(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenedBySource_MatchesForks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fork := &record.Record{
		SourceProject: "fork/app", SourceBranch: "feature",
		TargetProject: "app", TargetBranch: "main",
	}
	require.NoError(t, s.CreateRecord(ctx, fork))

	same := &record.Record{
		SourceProject: "app", SourceBranch: "feature",
		TargetProject: "app", TargetBranch: "main",
	}
	require.NoError(t, s.CreateRecord(ctx, same))

	got, err := s.OpenedBySource(ctx, "fork/app", "feature")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, fork.ID, got[0].ID)
}

func TestOpenedBySource_ExcludesClosed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newTestRecord(t, s)
	require.NoError(t, s.CloseRecord(ctx, r.ID))

	got, err := s.OpenedBySource(ctx, "app", "feature")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOpenedByTarget(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newTestRecord(t, s)

	got, err := s.OpenedByTarget(ctx, "app", "main")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, r.ID, got[0].ID)

	none, err := s.OpenedByTarget(ctx, "app", "develop")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestOpenedMirrored(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	newTestRecord(t, s) // not mirrored

	mirrored := &record.Record{
		SourceProject: "app", SourceBranch: "other",
		TargetProject: "app", TargetBranch: "main",
		UpstreamProjectID: 5, UpstreamIID: 11,
	}
	require.NoError(t, s.CreateRecord(ctx, mirrored))

	got, err := s.OpenedMirrored(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mirrored.ID, got[0].ID)
}

func TestCloseRecord_OnlyOpened(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newTestRecord(t, s)
	require.NoError(t, s.CloseRecord(ctx, r.ID))

	got, err := s.GetRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StateClosed, got.State)

	// Closing a merged record is a no-op.
	m := newTestRecord(t, s)
	require.NoError(t, s.FinishMerge(ctx, m.ID, "abc"))
	require.NoError(t, s.CloseRecord(ctx, m.ID))

	got, err = s.GetRecord(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StateMerged, got.State)
}

func TestMarkUncheckedChecked(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newTestRecord(t, s)

	require.NoError(t, s.MarkChecked(ctx, r.ID))
	got, err := s.GetRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, record.FreshnessChecked, got.DiffFreshness)

	require.NoError(t, s.MarkUnchecked(ctx, r.ID))
	got, err = s.GetRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, record.FreshnessUnchecked, got.DiffFreshness)
}

func TestUpdateTitle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newTestRecord(t, s)
	require.NoError(t, s.UpdateTitle(ctx, r.ID, "Draft: Add feature"))

	got, err := s.GetRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "Draft: Add feature", got.Title)
}
