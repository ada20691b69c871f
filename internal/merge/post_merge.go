package merge

import (
	"context"

	"go.uber.org/zap"

	"github.com/forgeline/forgeline/internal/hooks"
	"github.com/forgeline/forgeline/internal/record"
	"github.com/forgeline/forgeline/internal/store"
	"github.com/forgeline/forgeline/internal/vcs"
)

// WorkItemCloser closes work items a merged proposal referenced.
type WorkItemCloser interface {
	Close(ctx context.Context, itemID int64, actor, closingCommitID string) error
}

// MergedNotifier tells watchers a proposal was merged.
type MergedNotifier interface {
	NotifyMerged(ctx context.Context, rec *record.Record, actor string) error
}

// HookDispatcher delivers outbound integration hook payloads.
// Fire-and-forget from this pipeline's perspective.
type HookDispatcher interface {
	Fire(ctx context.Context, payload hooks.Payload) error
}

// CounterCache invalidates and refreshes the cached counters merges affect.
type CounterCache interface {
	InvalidateAssigneeCounters(ctx context.Context, rec *record.Record) error
	RefreshProjectCounters(ctx context.Context, project string) error
}

// EnvironmentStopper schedules teardown of environments whose lifecycle was
// tied to the source branch.
type EnvironmentStopper interface {
	ScheduleStop(ctx context.Context, rec *record.Record) error
}

// Collaborators are the external systems post-merge orchestration drives.
// Nil fields are skipped; every collaborator is optional.
type Collaborators struct {
	WorkItems    WorkItemCloser
	Notifier     MergedNotifier
	Hooks        HookDispatcher
	Counters     CounterCache
	Environments EnvironmentStopper
}

// PostMergeService runs the fixed sequence of side effects that follow a
// successful merge, real or manual.
//
// The sequence runs exactly once per merged record. Marking the record
// merged is the first step and the only fatal one; every later step is
// independent, and a failure there is logged and skipped, never propagated
// and never a reason to revert the record from merged.
type PostMergeService struct {
	store   *store.Store
	backend vcs.Backend
	policy  PolicyProvider
	clock   Clock
	collab  Collaborators
	logger  *zap.Logger
}

// NewPostMergeService wires the orchestration.
func NewPostMergeService(
	st *store.Store,
	backend vcs.Backend,
	policy PolicyProvider,
	clock Clock,
	collab Collaborators,
	logger *zap.Logger,
) *PostMergeService {
	return &PostMergeService{
		store:   st,
		backend: backend,
		policy:  policy,
		clock:   clock,
		collab:  collab,
		logger:  logger.Named("post_merge"),
	}
}

// Execute runs the post-merge sequence for rec. rec.MergeCommitID should
// already carry the merge commit when one is known; manual merges detected
// without attribution run with it empty.
func (s *PostMergeService) Execute(ctx context.Context, rec *record.Record, actor string) error {
	logger := s.logger.With(
		zap.Int64("record_id", rec.ID),
		zap.String("actor", actor),
	)

	// Mark merged first. This must be durably visible before any dependent
	// step runs; if it fails nothing else may proceed.
	if err := s.store.FinishMerge(ctx, rec.ID, rec.MergeCommitID); err != nil {
		return err
	}
	rec.State = record.StateMerged
	logger.Info("record marked merged", zap.String("merge_commit_id", rec.MergeCommitID))

	s.closeWorkItems(ctx, rec, actor, logger)

	// Event + metrics are one atomic unit inside the store.
	if _, err := s.store.RecordMergeEvent(ctx, rec.ID, actor, s.clock.Now()); err != nil {
		logger.Error("failed to record merge event", zap.Error(err))
	}

	if s.collab.Notifier != nil {
		if err := s.collab.Notifier.NotifyMerged(ctx, rec, actor); err != nil {
			logger.Error("failed to notify watchers", zap.Error(err))
		}
	}

	if s.collab.Hooks != nil {
		if err := s.collab.Hooks.Fire(ctx, hooks.MergePayload(rec, actor)); err != nil {
			logger.Error("failed to fire merge hooks", zap.Error(err))
		}
	}

	if s.collab.Counters != nil {
		if err := s.collab.Counters.InvalidateAssigneeCounters(ctx, rec); err != nil {
			logger.Error("failed to invalidate assignee counters", zap.Error(err))
		}
		if err := s.collab.Counters.RefreshProjectCounters(ctx, rec.TargetProject); err != nil {
			logger.Error("failed to refresh project counters", zap.Error(err))
		}
	}

	if err := s.store.PruneDiffSnapshots(ctx, rec.ID); err != nil {
		logger.Error("failed to prune diff snapshots", zap.Error(err))
	}

	if s.collab.Environments != nil {
		if err := s.collab.Environments.ScheduleStop(ctx, rec); err != nil {
			logger.Error("failed to schedule environment stop", zap.Error(err))
		}
	}

	s.deleteSourceBranch(ctx, rec, actor, logger)

	return nil
}

// closeWorkItems closes the cached work items, attributing each closure to
// the merge commit. Work items are only closed when the proposal landed on
// the project's default branch.
func (s *PostMergeService) closeWorkItems(ctx context.Context, rec *record.Record, actor string, logger *zap.Logger) {
	if s.collab.WorkItems == nil {
		return
	}
	if rec.TargetBranch != s.policy.DefaultBranch(rec.TargetProject) {
		return
	}

	itemIDs, err := s.store.ClosingWorkItems(ctx, rec.ID)
	if err != nil {
		logger.Error("failed to load closing work items", zap.Error(err))
		return
	}
	for _, itemID := range itemIDs {
		if err := s.collab.WorkItems.Close(ctx, itemID, actor, rec.MergeCommitID); err != nil {
			logger.Error("failed to close work item",
				zap.Int64("work_item_id", itemID), zap.Error(err))
		}
	}
}

// deleteSourceBranch removes the source branch when the record asked for it
// and policy still allows it. Permission is re-validated here: branch
// protection or the actor's access may have changed since the merge was
// requested, and a revocation is a silent skip, not an error.
func (s *PostMergeService) deleteSourceBranch(ctx context.Context, rec *record.Record, actor string, logger *zap.Logger) {
	if !rec.ForceRemoveSourceBranch {
		return
	}
	if !s.policy.CanDeleteBranch(actor, rec.SourceProject, rec.SourceBranch) {
		logger.Info("source branch deletion no longer permitted, skipping",
			zap.String("branch", rec.SourceBranch))
		return
	}
	if err := s.backend.DeleteBranch(ctx, actor, rec.SourceProject, rec.SourceBranch); err != nil {
		logger.Error("failed to delete source branch",
			zap.String("branch", rec.SourceBranch), zap.Error(err))
	}
}
