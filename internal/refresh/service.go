// Package refresh re-synchronizes every open Integration Record affected by
// a branch push: closing abandoned proposals, detecting manual merges,
// reloading diffs, and fanning out the downstream side effects.
package refresh

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/forgeline/forgeline/internal/hooks"
	"github.com/forgeline/forgeline/internal/merge"
	"github.com/forgeline/forgeline/internal/record"
	"github.com/forgeline/forgeline/internal/store"
	"github.com/forgeline/forgeline/internal/vcs"
)

// Service is the push refresh pipeline.
//
// Steps run in a fixed order because later steps depend on state written by
// earlier ones: abandoned proposals are closed before diffs reload (a
// manual merge must not generate an empty diff first), manual merges are
// detected before reload, and suggestions are outdated only after the
// fresh diff exists. Within each step, records are processed independently:
// one record's failure is logged and the rest continue.
type Service struct {
	store   *store.Store
	backend vcs.Backend
	post    *merge.PostMergeService
	collab  Collaborators
	logger  *zap.Logger
}

// NewService wires a refresh pipeline.
func NewService(
	st *store.Store,
	backend vcs.Backend,
	post *merge.PostMergeService,
	collab Collaborators,
	logger *zap.Logger,
) *Service {
	return &Service{
		store:   st,
		backend: backend,
		post:    post,
		collab:  collab,
		logger:  logger.Named("refresh"),
	}
}

// reloaded is one source-branch record after its diff snapshot was rebuilt,
// with the pushed commits partitioned against what the record already knew.
type reloaded struct {
	rec             *record.Record
	newCommits      []vcs.Commit
	existingCommits []vcs.Commit
	knownIDs        map[string]bool
}

// Execute runs the pipeline for one push event. Non-branch pushes (tags)
// are a no-op.
func (s *Service) Execute(ctx context.Context, push vcs.Push, actor string) error {
	if !push.BranchPush() {
		return nil
	}

	logger := s.logger.With(
		zap.String("project", push.Project),
		zap.String("branch", push.BranchName()),
		zap.String("old_rev", push.OldRev),
		zap.String("new_rev", push.NewRev),
	)
	logger.Info("refreshing records for push")

	commits, err := s.findNewCommits(ctx, push, logger)
	if err != nil {
		return err
	}

	// Close outstanding records before reloading them to avoid generating
	// an empty diff during a manual merge.
	s.closeUponMissingSourceBranch(ctx, push, actor, logger)
	s.postMergeManuallyMerged(ctx, push, actor, commits, logger)

	affected := s.reloadDiffs(ctx, push, commits, logger)

	s.outdateSuggestions(ctx, affected, logger)
	s.refreshPipelines(ctx, affected, actor, logger)
	s.abortAutoMerges(ctx, affected, logger)
	s.markPendingTodosDone(ctx, affected, actor, logger)
	s.cacheClosingWorkItems(ctx, affected, logger)

	if push.BranchAdded() || push.BranchRemoved() {
		s.noteBranchPresenceChanged(ctx, push, affected, actor, logger)
	}

	s.notifyAboutPush(ctx, affected, actor, logger)
	s.markDraftFromCommits(ctx, affected, actor, logger)
	s.fireHooks(ctx, push, affected, actor, logger)

	return nil
}

// findNewCommits determines the commit set the push introduced.
//
// For a restored branch any number of commits may have landed, so the
// common ancestor with an open record's diff head bounds the range; that
// walk is best-effort and degrades to an empty set rather than aborting the
// refresh. A removed branch introduces nothing. A plain update is the
// linear range between the old and new tips.
func (s *Service) findNewCommits(ctx context.Context, push vcs.Push, logger *zap.Logger) ([]vcs.Commit, error) {
	switch {
	case push.BranchAdded():
		recs, err := s.store.OpenedBySource(ctx, push.Project, push.BranchName())
		if err != nil || len(recs) == 0 || recs[0].DiffHeadCommitID == "" {
			return nil, nil
		}
		base, err := s.backend.MergeBase(ctx, push.Project, recs[0].DiffHeadCommitID, push.NewRev)
		if err != nil || base == "" {
			logger.Debug("no common ancestor for restored branch", zap.Error(err))
			return nil, nil
		}
		commits, err := s.backend.CommitsBetween(ctx, push.Project, base, push.NewRev)
		if err != nil {
			logger.Debug("failed to walk restored branch", zap.Error(err))
			return nil, nil
		}
		return commits, nil

	case push.BranchRemoved():
		return nil, nil

	default:
		commits, err := s.backend.CommitsBetween(ctx, push.Project, push.OldRev, push.NewRev)
		if err != nil {
			return nil, fmt.Errorf("commits between %s and %s: %w", push.OldRev, push.NewRev, err)
		}
		return commits, nil
	}
}

// closeUponMissingSourceBranch closes, as abandoned, any open record whose
// source branch no longer exists.
func (s *Service) closeUponMissingSourceBranch(ctx context.Context, push vcs.Push, actor string, logger *zap.Logger) {
	recs, err := s.store.OpenedBySource(ctx, push.Project, push.BranchName())
	if err != nil {
		logger.Error("failed to load source-branch records", zap.Error(err))
		return
	}
	for _, rec := range recs {
		exists, err := s.backend.BranchExists(ctx, rec.SourceProject, rec.SourceBranch)
		if err != nil {
			logger.Error("failed to check source branch",
				zap.Int64("record_id", rec.ID), zap.Error(err))
			continue
		}
		if exists {
			continue
		}
		if err := s.store.CloseRecord(ctx, rec.ID); err != nil {
			logger.Error("failed to close abandoned record",
				zap.Int64("record_id", rec.ID), zap.Error(err))
			continue
		}
		if err := s.store.AddNote(ctx, rec.ID, actor, "closed: source branch no longer exists"); err != nil {
			logger.Error("failed to note abandoned record",
				zap.Int64("record_id", rec.ID), zap.Error(err))
		}
		logger.Info("closed record with missing source branch", zap.Int64("record_id", rec.ID))
	}
}

// postMergeManuallyMerged detects open records targeting the pushed branch
// that were merged by a direct push: their observed diff head is among the
// pushed commits and their diff is not already empty. Each one is
// attributed a merge commit (exact second-parent match only) and sent
// through post-merge orchestration.
func (s *Service) postMergeManuallyMerged(ctx context.Context, push vcs.Push, actor string, commits []vcs.Commit, logger *zap.Logger) {
	if len(commits) == 0 {
		return
	}
	pushed := make(map[string]bool, len(commits))
	for _, c := range commits {
		pushed[c.ID] = true
	}

	recs, err := s.store.OpenedByTarget(ctx, push.Project, push.BranchName())
	if err != nil {
		logger.Error("failed to load target-branch records", zap.Error(err))
		return
	}

	var merged []*record.Record
	for _, rec := range recs {
		if rec.DiffHeadCommitID == "" || !pushed[rec.DiffHeadCommitID] {
			continue
		}
		snap, err := s.store.LatestDiffSnapshot(ctx, rec.ID)
		if err == nil && snap.State == store.DiffStateEmpty {
			continue
		}
		merged = append(merged, rec)
	}
	if len(merged) == 0 {
		return
	}

	tips := make([]string, len(merged))
	for i, rec := range merged {
		tips[i] = rec.DiffHeadCommitID
	}
	attributed := vcs.AttributeTips(commits, tips)

	for _, rec := range merged {
		rec.MergeCommitID = attributed[rec.DiffHeadCommitID]
		if err := s.post.Execute(ctx, rec, actor); err != nil {
			logger.Error("failed to post-merge manually merged record",
				zap.Int64("record_id", rec.ID), zap.Error(err))
			continue
		}
		logger.Info("record merged by direct push",
			zap.Int64("record_id", rec.ID),
			zap.String("merge_commit_id", rec.MergeCommitID))
	}
}

// reloadDiffs rebuilds the diff snapshot for every open record whose source
// branch is the pushed branch and marks each one unchecked. A force push
// discards the previously known commit set; a plain update extends it.
func (s *Service) reloadDiffs(ctx context.Context, push vcs.Push, commits []vcs.Commit, logger *zap.Logger) []reloaded {
	recs, err := s.store.OpenedBySource(ctx, push.Project, push.BranchName())
	if err != nil {
		logger.Error("failed to load source-branch records", zap.Error(err))
		return nil
	}

	var out []reloaded
	for _, rec := range recs {
		r, err := s.reloadOne(ctx, push, rec, commits)
		if err != nil {
			logger.Error("failed to reload diff",
				zap.Int64("record_id", rec.ID), zap.Error(err))
			continue
		}
		out = append(out, r)
	}
	return out
}

func (s *Service) reloadOne(ctx context.Context, push vcs.Push, rec *record.Record, commits []vcs.Commit) (reloaded, error) {
	prevKnown := make(map[string]bool)
	if snap, err := s.store.LatestDiffSnapshot(ctx, rec.ID); err == nil {
		ids, err := s.store.SnapshotCommitIDs(ctx, snap.ID)
		if err != nil {
			return reloaded{}, err
		}
		for _, id := range ids {
			prevKnown[id] = true
		}
	}

	r := reloaded{rec: rec, knownIDs: make(map[string]bool)}
	for _, c := range commits {
		if prevKnown[c.ID] {
			r.existingCommits = append(r.existingCommits, c)
		} else {
			r.newCommits = append(r.newCommits, c)
		}
	}

	// A force push rewrote history: the previously known commits may no
	// longer exist, so the new snapshot starts from the pushed set alone.
	if !push.ForcePush() {
		for id := range prevKnown {
			r.knownIDs[id] = true
		}
	}
	for _, c := range commits {
		r.knownIDs[c.ID] = true
	}

	ids := make([]string, 0, len(r.knownIDs))
	for id := range r.knownIDs {
		ids = append(ids, id)
	}

	state := store.DiffStateFresh
	if len(ids) == 0 {
		state = store.DiffStateEmpty
	}
	if _, err := s.store.InsertDiffSnapshot(ctx, rec.ID, push.NewRev, state, ids); err != nil {
		return reloaded{}, err
	}
	rec.DiffHeadCommitID = push.NewRev

	if err := s.store.MarkUnchecked(ctx, rec.ID); err != nil {
		return reloaded{}, err
	}
	rec.DiffFreshness = record.FreshnessUnchecked

	return r, nil
}

func (s *Service) outdateSuggestions(ctx context.Context, affected []reloaded, logger *zap.Logger) {
	if s.collab.Suggestions == nil {
		return
	}
	for _, r := range affected {
		if err := s.collab.Suggestions.Outdate(ctx, r.rec); err != nil {
			logger.Error("failed to outdate suggestions",
				zap.Int64("record_id", r.rec.ID), zap.Error(err))
		}
	}
}

func (s *Service) refreshPipelines(ctx context.Context, affected []reloaded, actor string, logger *zap.Logger) {
	if s.collab.Pipelines == nil {
		return
	}
	for _, r := range affected {
		if err := s.collab.Pipelines.Create(ctx, r.rec, actor); err != nil {
			logger.Error("failed to create pipeline",
				zap.Int64("record_id", r.rec.ID), zap.Error(err))
		}
		if err := s.collab.Pipelines.RefreshHead(ctx, r.rec); err != nil {
			logger.Error("failed to schedule head pipeline refresh",
				zap.Int64("record_id", r.rec.ID), zap.Error(err))
		}
	}
}

func (s *Service) abortAutoMerges(ctx context.Context, affected []reloaded, logger *zap.Logger) {
	if s.collab.AutoMerge == nil {
		return
	}
	for _, r := range affected {
		if err := s.collab.AutoMerge.Abort(ctx, r.rec, "source branch was updated"); err != nil {
			logger.Error("failed to abort auto merge",
				zap.Int64("record_id", r.rec.ID), zap.Error(err))
		}
	}
}

func (s *Service) markPendingTodosDone(ctx context.Context, affected []reloaded, actor string, logger *zap.Logger) {
	if s.collab.Todos == nil {
		return
	}
	for _, r := range affected {
		if err := s.collab.Todos.MarkPushDone(ctx, r.rec, actor); err != nil {
			logger.Error("failed to mark todos done",
				zap.Int64("record_id", r.rec.ID), zap.Error(err))
		}
	}
}

func (s *Service) cacheClosingWorkItems(ctx context.Context, affected []reloaded, logger *zap.Logger) {
	if s.collab.WorkItems == nil {
		return
	}
	for _, r := range affected {
		items, err := s.collab.WorkItems.ClosingItems(ctx, r.rec)
		if err != nil {
			logger.Error("failed to resolve closing work items",
				zap.Int64("record_id", r.rec.ID), zap.Error(err))
			continue
		}
		if err := s.store.ReplaceClosingWorkItems(ctx, r.rec.ID, items); err != nil {
			logger.Error("failed to cache closing work items",
				zap.Int64("record_id", r.rec.ID), zap.Error(err))
		}
	}
}

func (s *Service) noteBranchPresenceChanged(ctx context.Context, push vcs.Push, affected []reloaded, actor string, logger *zap.Logger) {
	body := fmt.Sprintf("restored source branch `%s`", push.BranchName())
	if push.BranchRemoved() {
		body = fmt.Sprintf("deleted source branch `%s`", push.BranchName())
	}
	for _, r := range affected {
		if err := s.store.AddNote(ctx, r.rec.ID, actor, body); err != nil {
			logger.Error("failed to note branch presence change",
				zap.Int64("record_id", r.rec.ID), zap.Error(err))
		}
	}
}

func (s *Service) notifyAboutPush(ctx context.Context, affected []reloaded, actor string, logger *zap.Logger) {
	for _, r := range affected {
		if len(r.newCommits) == 0 && len(r.existingCommits) == 0 {
			continue
		}
		if len(r.newCommits) > 0 {
			body := fmt.Sprintf("added %d commit(s)", len(r.newCommits))
			if err := s.store.AddNote(ctx, r.rec.ID, actor, body); err != nil {
				logger.Error("failed to note pushed commits",
					zap.Int64("record_id", r.rec.ID), zap.Error(err))
			}
		}
		if s.collab.Notifier != nil {
			if err := s.collab.Notifier.NotifyPush(ctx, r.rec, actor, r.newCommits, r.existingCommits); err != nil {
				logger.Error("failed to notify about push",
					zap.Int64("record_id", r.rec.ID), zap.Error(err))
			}
		}
	}
}

// markDraftFromCommits retitles a record as a draft when one of the newly
// pushed commits carries a draft marker. New commits always belong to the
// reloaded snapshot, so membership needs no further check.
func (s *Service) markDraftFromCommits(ctx context.Context, affected []reloaded, actor string, logger *zap.Logger) {
	for _, r := range affected {
		if r.rec.Draft() {
			continue
		}
		var draft *vcs.Commit
		for i := range r.newCommits {
			if r.newCommits[i].Draft() {
				draft = &r.newCommits[i]
				break
			}
		}
		if draft == nil {
			continue
		}
		title := r.rec.DraftTitle()
		if err := s.store.UpdateTitle(ctx, r.rec.ID, title); err != nil {
			logger.Error("failed to mark record as draft",
				zap.Int64("record_id", r.rec.ID), zap.Error(err))
			continue
		}
		r.rec.Title = title
		body := fmt.Sprintf("marked as draft from commit %s", draft.ID)
		if err := s.store.AddNote(ctx, r.rec.ID, actor, body); err != nil {
			logger.Error("failed to note draft promotion",
				zap.Int64("record_id", r.rec.ID), zap.Error(err))
		}
	}
}

func (s *Service) fireHooks(ctx context.Context, push vcs.Push, affected []reloaded, actor string, logger *zap.Logger) {
	if s.collab.Hooks == nil {
		return
	}
	for _, r := range affected {
		payload := hooks.UpdatePayload(r.rec, actor, push.OldRev)
		if err := s.collab.Hooks.Fire(ctx, payload); err != nil {
			logger.Error("failed to fire update hooks",
				zap.Int64("record_id", r.rec.ID), zap.Error(err))
		}
	}
}
