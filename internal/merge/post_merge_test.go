package merge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeline/forgeline/internal/hooks"
	"github.com/forgeline/forgeline/internal/record"
)

type fakeWorkItems struct {
	closed []int64
	err    error
}

func (f *fakeWorkItems) Close(ctx context.Context, itemID int64, actor, closingCommitID string) error {
	if f.err != nil {
		return f.err
	}
	f.closed = append(f.closed, itemID)
	return nil
}

type fakeNotifier struct {
	notified int
	err      error
}

func (f *fakeNotifier) NotifyMerged(ctx context.Context, rec *record.Record, actor string) error {
	f.notified++
	return f.err
}

type fakeDispatcher struct {
	payloads []hooks.Payload
	err      error
}

func (f *fakeDispatcher) Fire(ctx context.Context, payload hooks.Payload) error {
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

func TestPostMerge_FullSequence(t *testing.T) {
	workItems := &fakeWorkItems{}
	notifier := &fakeNotifier{}
	dispatcher := &fakeDispatcher{}
	h := newHarness(t, Collaborators{
		WorkItems: workItems,
		Notifier:  notifier,
		Hooks:     dispatcher,
	})
	ctx := context.Background()

	r := h.createRecord(t, func(r *record.Record) { r.ForceRemoveSourceBranch = true })
	require.NoError(t, h.store.ReplaceClosingWorkItems(ctx, r.ID, []int64{4, 9}))

	r.MergeCommitID = "merge-sha"
	require.NoError(t, h.post.Execute(ctx, r, "alice"))

	got, err := h.store.GetRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StateMerged, got.State)
	assert.Equal(t, "merge-sha", got.MergeCommitID)

	assert.Equal(t, []int64{4, 9}, workItems.closed)
	assert.Equal(t, 1, notifier.notified)

	require.Len(t, dispatcher.payloads, 1)
	assert.Equal(t, hooks.ActionMerge, dispatcher.payloads[0].Action)
	assert.Equal(t, "merge-sha", dispatcher.payloads[0].MergeCommitID)

	events, err := h.store.MergeEvents(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	assert.Equal(t, []string{"app/feature"}, h.backend.deletedBranches)
}

func TestPostMerge_TimestampsFromClock(t *testing.T) {
	h := newHarness(t, Collaborators{})
	ctx := context.Background()

	frozen := h.clock.Now()

	r := h.createRecord(t, nil)
	r.MergeCommitID = "merge-sha"
	require.NoError(t, h.post.Execute(ctx, r, "alice"))

	// Event and metrics both carry the injected instant, not wall time.
	events, err := h.store.MergeEvents(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, frozen, events[0].CreatedAt)

	metrics, err := h.store.MetricsFor(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, frozen, metrics.MergedAt)
	assert.Equal(t, "alice", metrics.MergedBy)

	later := h.clock.Advance(time.Hour)
	r2 := h.createRecord(t, func(rec *record.Record) { rec.SourceBranch = "other" })
	r2.MergeCommitID = "merge-sha-2"
	require.NoError(t, h.post.Execute(ctx, r2, "bob"))

	metrics, err = h.store.MetricsFor(ctx, r2.ID)
	require.NoError(t, err)
	assert.Equal(t, later, metrics.MergedAt)
}

func TestPostMerge_WorkItemsOnlyOnDefaultBranch(t *testing.T) {
	workItems := &fakeWorkItems{}
	h := newHarness(t, Collaborators{WorkItems: workItems})
	ctx := context.Background()

	r := h.createRecord(t, func(r *record.Record) { r.TargetBranch = "release-1" })
	require.NoError(t, h.store.ReplaceClosingWorkItems(ctx, r.ID, []int64{4}))

	require.NoError(t, h.post.Execute(ctx, r, "alice"))
	assert.Empty(t, workItems.closed)
}

func TestPostMerge_BranchDeletionSkippedWhenRevoked(t *testing.T) {
	h := newHarness(t, Collaborators{})
	ctx := context.Background()

	h.policy.ProtectedBranches = map[string]bool{"app:feature": true}

	r := h.createRecord(t, func(r *record.Record) { r.ForceRemoveSourceBranch = true })

	require.NoError(t, h.post.Execute(ctx, r, "alice"))

	// Revocation is a silent skip; the record is still merged.
	assert.Empty(t, h.backend.deletedBranches)
	got, err := h.store.GetRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StateMerged, got.State)
}

func TestPostMerge_BranchKeptWithoutFlag(t *testing.T) {
	h := newHarness(t, Collaborators{})

	r := h.createRecord(t, nil)
	require.NoError(t, h.post.Execute(context.Background(), r, "alice"))
	assert.Empty(t, h.backend.deletedBranches)
}

func TestPostMerge_StepFailureDoesNotAbortSequence(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("smtp down")}
	dispatcher := &fakeDispatcher{}
	h := newHarness(t, Collaborators{Notifier: notifier, Hooks: dispatcher})
	ctx := context.Background()

	r := h.createRecord(t, nil)
	require.NoError(t, h.post.Execute(ctx, r, "alice"))

	// The notifier failed, yet hooks still fired and the record is merged.
	assert.Len(t, dispatcher.payloads, 1)
	got, err := h.store.GetRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StateMerged, got.State)
}

func TestPostMerge_MarkMergedFailureIsFatal(t *testing.T) {
	notifier := &fakeNotifier{}
	h := newHarness(t, Collaborators{Notifier: notifier})
	ctx := context.Background()

	r := h.createRecord(t, nil)
	require.NoError(t, h.store.CloseRecord(ctx, r.ID))

	err := h.post.Execute(ctx, r, "alice")
	require.Error(t, err)

	// Nothing downstream ran.
	assert.Zero(t, notifier.notified)
}

func TestPostMerge_PrunesDiffSnapshots(t *testing.T) {
	h := newHarness(t, Collaborators{})
	ctx := context.Background()

	r := h.createRecord(t, nil)
	_, err := h.store.InsertDiffSnapshot(ctx, r.ID, "h1", "fresh", []string{"c1"})
	require.NoError(t, err)
	_, err = h.store.InsertDiffSnapshot(ctx, r.ID, "h2", "fresh", []string{"c1", "c2"})
	require.NoError(t, err)

	require.NoError(t, h.post.Execute(ctx, r, "alice"))

	n, err := h.store.DiffSnapshotCount(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPostMerge_ExecuteIdempotentWhenRetried(t *testing.T) {
	h := newHarness(t, Collaborators{})
	ctx := context.Background()

	r := h.createRecord(t, nil)
	r.MergeCommitID = "merge-sha"
	require.NoError(t, h.post.Execute(ctx, r, "alice"))
	require.NoError(t, h.post.Execute(ctx, r, "alice"))

	got, err := h.store.GetRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StateMerged, got.State)
	assert.Equal(t, "merge-sha", got.MergeCommitID)
}
