package merge

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/forgeline/forgeline/internal/record"
	"github.com/forgeline/forgeline/internal/store"
	"github.com/forgeline/forgeline/internal/testutil"
	"github.com/forgeline/forgeline/internal/vcs"
)

// fakeBackend is a programmable vcs.Backend for merge tests.
type fakeBackend struct {
	mergeResult string
	mergeErr    error
	mergeCalls  int
	lastMerge   vcs.MergeCommand

	ffResult string
	ffErr    error
	ffCalls  int

	refResult string
	refErr    error
	refCalls  int
	lastRef   string

	squashResult string
	squashErr    error
	squashCalls  int

	branchTip    string
	branchTipErr error

	ancestor    bool
	ancestorErr error

	branchExists bool

	deletedBranches []string
	deleteErr       error
}

func (f *fakeBackend) Merge(ctx context.Context, cmd vcs.MergeCommand) (string, error) {
	f.mergeCalls++
	f.lastMerge = cmd
	return f.mergeResult, f.mergeErr
}

func (f *fakeBackend) FastForwardMerge(ctx context.Context, cmd vcs.MergeCommand) (string, error) {
	f.ffCalls++
	f.lastMerge = cmd
	return f.ffResult, f.ffErr
}

func (f *fakeBackend) MergeToRef(ctx context.Context, cmd vcs.MergeCommand, refName string) (string, error) {
	f.refCalls++
	f.lastMerge = cmd
	f.lastRef = refName
	return f.refResult, f.refErr
}

func (f *fakeBackend) Squash(ctx context.Context, cmd vcs.SquashCommand) (string, error) {
	f.squashCalls++
	return f.squashResult, f.squashErr
}

func (f *fakeBackend) CommitsBetween(ctx context.Context, project, oldID, newID string) ([]vcs.Commit, error) {
	return nil, nil
}

func (f *fakeBackend) MergeBase(ctx context.Context, project, idA, idB string) (string, error) {
	return "", nil
}

func (f *fakeBackend) AncestorOf(ctx context.Context, project, ancestorID, descendantID string) (bool, error) {
	return f.ancestor, f.ancestorErr
}

func (f *fakeBackend) BranchTip(ctx context.Context, project, branch string) (string, error) {
	return f.branchTip, f.branchTipErr
}

func (f *fakeBackend) BranchExists(ctx context.Context, project, branch string) (bool, error) {
	return f.branchExists, nil
}

func (f *fakeBackend) DeleteBranch(ctx context.Context, actor, project, branch string) error {
	f.deletedBranches = append(f.deletedBranches, project+"/"+branch)
	return f.deleteErr
}

// harness bundles the wired service and its dependencies. Time is frozen
// so persisted timestamps are deterministic.
type harness struct {
	store   *store.Store
	backend *fakeBackend
	policy  *StaticPolicy
	clock   *testutil.ManualClock
	post    *PostMergeService
	svc     *Service
}

func newHarness(t *testing.T, collab Collaborators) *harness {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	backend := &fakeBackend{branchExists: true}
	policy := NewStaticPolicy()
	clock := testutil.NewManualClock(time.Date(2026, 2, 3, 10, 30, 0, 0, time.UTC))
	logger := zap.NewNop()

	post := NewPostMergeService(st, backend, policy, clock, collab, logger)
	svc := NewService(st, backend, policy, post, logger,
		WithTokenGenerator(NewFixedGenerator("token-1", "token-2", "token-3")),
		WithClock(clock))

	return &harness{store: st, backend: backend, policy: policy, clock: clock, post: post, svc: svc}
}

func (h *harness) createRecord(t *testing.T, mutate func(*record.Record)) *record.Record {
	t.Helper()
	r := &record.Record{
		SourceProject:    "app",
		SourceBranch:     "feature",
		TargetProject:    "app",
		TargetBranch:     "main",
		Title:            "Add feature",
		Author:           "alice",
		DiffHeadCommitID: "tip-sha",
	}
	if mutate != nil {
		mutate(r)
	}
	require.NoError(t, h.store.CreateRecord(context.Background(), r))
	return r
}

func TestService_Execute_Success(t *testing.T) {
	h := newHarness(t, Collaborators{})
	ctx := context.Background()

	r := h.createRecord(t, nil)
	h.backend.mergeResult = "merge-sha"

	commitID, err := h.svc.Execute(ctx, r.ID, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, "merge-sha", commitID)

	got, err := h.store.GetRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StateMerged, got.State)
	assert.Equal(t, "merge-sha", got.MergeCommitID)
	assert.Empty(t, got.MergeError)
	assert.Empty(t, got.MergeJobToken)
	assert.Empty(t, got.InProgressCommitID)

	// The merge command carried the resolved source tip and the default
	// generated message.
	assert.Equal(t, "tip-sha", h.backend.lastMerge.SourceCommitID)
	assert.Contains(t, h.backend.lastMerge.Message, "Merge branch 'feature' into 'main'")

	// Post-merge wrote the event/metrics pair.
	events, err := h.store.MergeEvents(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].Actor)
}

func TestService_Execute_ExplicitMessage(t *testing.T) {
	h := newHarness(t, Collaborators{})

	r := h.createRecord(t, nil)
	h.backend.mergeResult = "merge-sha"

	_, err := h.svc.Execute(context.Background(), r.ID, "alice", "custom message")
	require.NoError(t, err)
	assert.Equal(t, "custom message", h.backend.lastMerge.Message)
}

func TestService_Execute_Conflict(t *testing.T) {
	h := newHarness(t, Collaborators{})
	ctx := context.Background()

	r := h.createRecord(t, nil)
	h.backend.mergeErr = vcs.ErrMergeConflict

	_, err := h.svc.Execute(ctx, r.ID, "alice", "")
	require.Error(t, err)
	assert.Equal(t, CodeConflictsDetected, CodeOf(err))
	assert.True(t, IsConflict(err))

	var me *MergeError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "token-1", me.JobToken)

	// Lock released, reason persisted, exactly one outcome field set.
	got, err := h.store.GetRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StateOpened, got.State)
	assert.NotEmpty(t, got.MergeError)
	assert.Empty(t, got.MergeCommitID)
	assert.Empty(t, got.MergeJobToken)
	assert.Empty(t, got.InProgressCommitID)
}

func TestService_Execute_PreReceiveRejected(t *testing.T) {
	h := newHarness(t, Collaborators{})
	ctx := context.Background()

	r := h.createRecord(t, nil)
	h.backend.mergeErr = &vcs.PreReceiveError{Reason: "branch is frozen"}

	_, err := h.svc.Execute(ctx, r.ID, "alice", "")
	require.Error(t, err)
	assert.Equal(t, CodePreReceiveRejected, CodeOf(err))

	// The backend's reason is persisted verbatim.
	got, err := h.store.GetRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "branch is frozen", got.MergeError)
	assert.Equal(t, record.StateOpened, got.State)
}

func TestService_Execute_TransportFailure(t *testing.T) {
	h := newHarness(t, Collaborators{})
	ctx := context.Background()

	r := h.createRecord(t, nil)
	h.backend.mergeErr = context.DeadlineExceeded

	_, err := h.svc.Execute(ctx, r.ID, "alice", "")
	require.Error(t, err)
	assert.Equal(t, CodeTransportFailure, CodeOf(err))

	got, err := h.store.GetRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StateOpened, got.State)
}

func TestService_Execute_RebaseRequiredBeforeLock(t *testing.T) {
	h := newHarness(t, Collaborators{})
	ctx := context.Background()

	r := h.createRecord(t, func(r *record.Record) { r.FastForwardOnly = true })
	h.backend.branchTip = "target-tip"
	h.backend.ancestor = false

	_, err := h.svc.Execute(ctx, r.ID, "alice", "")
	require.Error(t, err)
	assert.Equal(t, CodeRebaseRequired, CodeOf(err))

	// Rejected before the lock: the record is completely untouched.
	got, err := h.store.GetRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StateOpened, got.State)
	assert.Empty(t, got.MergeError)
	assert.Empty(t, got.MergeJobToken)
	assert.Zero(t, h.backend.mergeCalls)
	assert.Zero(t, h.backend.ffCalls)
}

func TestService_Execute_FastForwardUsesFFMerge(t *testing.T) {
	h := newHarness(t, Collaborators{})
	ctx := context.Background()

	r := h.createRecord(t, func(r *record.Record) { r.FastForwardOnly = true })
	h.backend.branchTip = "target-tip"
	h.backend.ancestor = true
	h.backend.ffResult = "tip-sha"

	commitID, err := h.svc.Execute(ctx, r.ID, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, "tip-sha", commitID)
	assert.Equal(t, 1, h.backend.ffCalls)
	assert.Zero(t, h.backend.mergeCalls)
}

func TestService_Execute_LockedRecordFailsFast(t *testing.T) {
	h := newHarness(t, Collaborators{})
	ctx := context.Background()

	r := h.createRecord(t, nil)
	acquired, err := h.store.AcquireMergeLock(ctx, r.ID, "other-token", "c1")
	require.NoError(t, err)
	require.True(t, acquired)

	_, err = h.svc.Execute(ctx, r.ID, "alice", "")
	require.Error(t, err)
	assert.True(t, IsConcurrentMergeInProgress(err))
	assert.Zero(t, h.backend.mergeCalls)

	// The holder's lock is untouched.
	got, err := h.store.GetRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StateLocked, got.State)
	assert.Equal(t, "other-token", got.MergeJobToken)
}

func TestService_Execute_ClosedRecordNotMergeable(t *testing.T) {
	h := newHarness(t, Collaborators{})
	ctx := context.Background()

	r := h.createRecord(t, nil)
	require.NoError(t, h.store.CloseRecord(ctx, r.ID))

	_, err := h.svc.Execute(ctx, r.ID, "alice", "")
	require.Error(t, err)
	assert.Equal(t, CodeNotMergeable, CodeOf(err))
}

func TestService_Execute_NoSourceCommit(t *testing.T) {
	h := newHarness(t, Collaborators{})

	r := h.createRecord(t, func(r *record.Record) { r.DiffHeadCommitID = "" })

	_, err := h.svc.Execute(context.Background(), r.ID, "alice", "")
	require.Error(t, err)
	assert.Equal(t, CodeNoSourceCommit, CodeOf(err))
	assert.Zero(t, h.backend.mergeCalls)
}

func TestService_Execute_SquashComputedOnce(t *testing.T) {
	h := newHarness(t, Collaborators{})
	ctx := context.Background()

	r := h.createRecord(t, func(r *record.Record) { r.Squash = true })
	h.backend.squashResult = "squash-sha"
	h.backend.mergeResult = "merge-sha"

	_, err := h.svc.Execute(ctx, r.ID, "alice", "")
	require.NoError(t, err)

	assert.Equal(t, 1, h.backend.squashCalls)
	assert.Equal(t, "squash-sha", h.backend.lastMerge.SourceCommitID)
}

func TestService_Execute_SquashFailure(t *testing.T) {
	h := newHarness(t, Collaborators{})
	ctx := context.Background()

	r := h.createRecord(t, func(r *record.Record) { r.Squash = true })
	h.backend.squashErr = context.DeadlineExceeded

	_, err := h.svc.Execute(ctx, r.ID, "alice", "")
	require.Error(t, err)
	assert.Equal(t, CodeNoSourceCommit, CodeOf(err))

	// Squash runs before the lock; the record stays untouched.
	got, err := h.store.GetRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StateOpened, got.State)
	assert.Empty(t, got.MergeError)
}

type rejectingValidation struct{}

func (rejectingValidation) ValidateMerge(rec *record.Record, actor string) error {
	return &MergeError{Code: CodeNotMergeable, Message: "approvals missing", RecordID: rec.ID}
}

func (rejectingValidation) ValidateDryRun(*record.Record, string) error { return nil }

func TestService_Execute_ValidationExtensionRejects(t *testing.T) {
	h := newHarness(t, Collaborators{})

	st := h.store
	r := h.createRecord(t, nil)

	svc := NewService(st, h.backend, h.policy, h.post, zap.NewNop(),
		WithValidationExtension(rejectingValidation{}))

	_, err := svc.Execute(context.Background(), r.ID, "alice", "")
	require.Error(t, err)
	assert.Equal(t, CodeNotMergeable, CodeOf(err))
	assert.Zero(t, h.backend.mergeCalls)
}

func TestService_Execute_RecordNotFound(t *testing.T) {
	h := newHarness(t, Collaborators{})

	_, err := h.svc.Execute(context.Background(), 999, "alice", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
