// Package merge executes real and dry-run merges for Integration Records
// and runs the post-merge side-effect sequence. All mutual exclusion for a
// record funnels through the store's merge-lock compare-and-set.
package merge

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/forgeline/forgeline/internal/record"
	"github.com/forgeline/forgeline/internal/store"
	"github.com/forgeline/forgeline/internal/vcs"
)

// Service performs the real merge for one record under mutual exclusion.
type Service struct {
	store   *store.Store
	backend vcs.Backend
	policy  PolicyProvider
	post    *PostMergeService
	ext     ValidationExtension
	tokens  TokenGenerator
	clock   Clock
	logger  *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTokenGenerator overrides the job-token generator (tests).
func WithTokenGenerator(g TokenGenerator) Option {
	return func(s *Service) { s.tokens = g }
}

// WithClock overrides the clock (tests).
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithValidationExtension installs a deployment-specific precondition hook.
func WithValidationExtension(ext ValidationExtension) Option {
	return func(s *Service) { s.ext = ext }
}

// NewService wires a merge execution service.
func NewService(
	st *store.Store,
	backend vcs.Backend,
	policy PolicyProvider,
	post *PostMergeService,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		store:   st,
		backend: backend,
		policy:  policy,
		post:    post,
		ext:     NopValidation{},
		tokens:  UUIDv7Generator{},
		clock:   SystemClock{},
		logger:  logger.Named("merge"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// attempt carries the compute-once inputs of a single merge attempt. The
// source commit in particular is resolved exactly once (the squash
// computation is expensive) and threaded through rather than re-derived.
type attempt struct {
	rec            *record.Record
	actor          string
	message        string
	sourceCommitID string
	jobToken       string
	fastForward    bool
}

// Execute performs the merge for the given record.
//
// Preconditions (mergeable state, fast-forward policy, resolvable source
// commit) are checked before the lock is acquired; a precondition failure
// leaves the record untouched. Once the lock is held, every exit path
// releases it: to merged on success, back to opened with merge_error set on
// failure. Exactly one of merge_commit_id / merge_error is set per attempt.
func (s *Service) Execute(ctx context.Context, recordID int64, actor, message string) (string, error) {
	rec, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return "", err
	}

	if err := s.ext.ValidateMerge(rec, actor); err != nil {
		return "", err
	}

	if !rec.Mergeable() {
		if rec.State == record.StateLocked {
			return "", newError(CodeConcurrentMergeInProgress, rec.ID,
				"another merge attempt is in progress")
		}
		return "", newError(CodeNotMergeable, rec.ID, "record is %s", rec.State)
	}

	if message == "" {
		message = rec.DefaultMergeMessage()
	}

	at := attempt{rec: rec, actor: actor, message: message}
	at.fastForward = rec.FastForwardOnly || s.policy.FastForwardOnly(rec.TargetProject)

	// Fast-forward policy is enforced before the lock: a record that needs
	// a rebase is rejected without ever entering locked.
	if at.fastForward {
		if err := s.checkFastForward(ctx, rec); err != nil {
			return "", err
		}
	}

	at.sourceCommitID, err = s.resolveSourceCommit(ctx, rec, actor, message)
	if err != nil {
		return "", err
	}

	return s.run(ctx, at)
}

// checkFastForward rejects the attempt with RebaseRequired when the source
// tip is not a descendant of the target tip.
func (s *Service) checkFastForward(ctx context.Context, rec *record.Record) error {
	targetTip, err := s.backend.BranchTip(ctx, rec.TargetProject, rec.TargetBranch)
	if err != nil {
		return classifyBackendError(rec.ID, err)
	}
	ok, err := s.backend.AncestorOf(ctx, rec.TargetProject, targetTip, rec.DiffHeadCommitID)
	if err != nil {
		return classifyBackendError(rec.ID, err)
	}
	if !ok {
		return newError(CodeRebaseRequired, rec.ID,
			"source branch must be rebased onto %s", rec.TargetBranch)
	}
	return nil
}

// resolveSourceCommit resolves the commit the attempt will merge: the
// source tip as last observed, or the squash commit when squashing. The
// squash computation runs at most once per attempt; its failure surfaces
// as-is in the error message.
func (s *Service) resolveSourceCommit(ctx context.Context, rec *record.Record, actor, message string) (string, error) {
	tip := rec.DiffHeadCommitID
	if tip == "" {
		return "", newError(CodeNoSourceCommit, rec.ID, "no source commit to merge")
	}
	if !rec.Squash {
		return tip, nil
	}

	squashed, err := s.backend.Squash(ctx, vcs.SquashCommand{
		Actor:        actor,
		Project:      rec.SourceProject,
		SourceBranch: rec.SourceBranch,
		TargetBranch: rec.TargetBranch,
		Message:      message,
	})
	if err != nil {
		return "", newError(CodeNoSourceCommit, rec.ID, "squash failed: %v", err)
	}
	return squashed, nil
}

// run acquires the merge lock, performs the backend merge, and guarantees
// the lock is released on every exit path.
func (s *Service) run(ctx context.Context, at attempt) (commitID string, err error) {
	rec := at.rec
	at.jobToken = s.tokens.Generate()

	acquired, err := s.store.AcquireMergeLock(ctx, rec.ID, at.jobToken, at.sourceCommitID)
	if err != nil {
		return "", err
	}
	if !acquired {
		return "", newError(CodeConcurrentMergeInProgress, rec.ID,
			"another merge attempt is in progress")
	}

	logger := s.logger.With(
		zap.Int64("record_id", rec.ID),
		zap.String("job_token", at.jobToken),
		zap.String("source_commit_id", at.sourceCommitID),
	)
	logger.Info("merge lock acquired")

	// Scoped acquisition: whatever happens below, the record leaves locked.
	// Failure releases to opened with merge_error set; success releases to
	// merged inside post-merge orchestration.
	defer func() {
		if err == nil {
			return
		}
		reason := err.Error()
		var me *MergeError
		if errors.As(err, &me) {
			me.JobToken = at.jobToken
			reason = me.Message
		}
		if ferr := s.store.FailMerge(ctx, rec.ID, reason); ferr != nil {
			logger.Error("failed to release merge lock", zap.Error(ferr))
		}
	}()

	cmd := vcs.MergeCommand{
		Actor:          at.actor,
		SourceCommitID: at.sourceCommitID,
		TargetProject:  rec.TargetProject,
		TargetBranch:   rec.TargetBranch,
		Message:        at.message,
	}
	if at.fastForward {
		commitID, err = s.backend.FastForwardMerge(ctx, cmd)
	} else {
		commitID, err = s.backend.Merge(ctx, cmd)
	}
	if err != nil {
		err = classifyBackendError(rec.ID, err)
		logger.Warn("merge attempt failed", zap.Error(err))
		return "", err
	}

	rec.MergeCommitID = commitID
	logger.Info("merge succeeded", zap.String("merge_commit_id", commitID))

	if perr := s.post.Execute(ctx, rec, at.actor); perr != nil {
		// Only the mark-merged step can fail here; the backend merge itself
		// happened. Release the lock so the record is never left locked.
		err = newError(CodeTransportFailure, rec.ID,
			"merge committed but could not be recorded: %v", perr)
		return "", err
	}

	return commitID, nil
}

// classifyBackendError maps backend failures onto the merge error taxonomy.
func classifyBackendError(recordID int64, err error) *MergeError {
	switch {
	case errors.Is(err, vcs.ErrMergeConflict):
		return newError(CodeConflictsDetected, recordID, "merge produced conflicts")
	case vcs.IsPreReceiveRejection(err):
		var pre *vcs.PreReceiveError
		errors.As(err, &pre)
		return newError(CodePreReceiveRejected, recordID, "%s", pre.Reason)
	default:
		return newError(CodeTransportFailure, recordID, "%v", err)
	}
}
