package merge

import (
	"context"

	"go.uber.org/zap"

	"github.com/forgeline/forgeline/internal/record"
	"github.com/forgeline/forgeline/internal/store"
	"github.com/forgeline/forgeline/internal/vcs"
)

// RefMergeResult describes a merge computed to a disposable reference.
type RefMergeResult struct {
	// CommitID is the computed merge commit.
	CommitID string

	// FirstParentID is the target-side parent (the target tip at the time
	// of the computation).
	FirstParentID string

	// SecondParentID is the source-side parent.
	SecondParentID string

	// RefName is the disposable reference the commit was written to.
	RefName string
}

// MergeToRefService computes what a merge would produce, writing the
// result to a disposable reference scoped to the record, never to the real
// target branch.
//
// The service takes no lock and never touches the record's merge state:
// it is safe to call repeatedly and concurrently for the same record, and
// re-invoking it with unchanged source/target tips yields a ref pointing at
// an equivalent tree. Failures share the merge error taxonomy but are never
// persisted to the record.
type MergeToRefService struct {
	store   *store.Store
	backend vcs.Backend
	policy  PolicyProvider
	ext     ValidationExtension
	logger  *zap.Logger
}

// NewMergeToRefService wires a dry-run merge service.
func NewMergeToRefService(
	st *store.Store,
	backend vcs.Backend,
	policy PolicyProvider,
	logger *zap.Logger,
	opts ...RefOption,
) *MergeToRefService {
	s := &MergeToRefService{
		store:   st,
		backend: backend,
		policy:  policy,
		ext:     NopValidation{},
		logger:  logger.Named("merge_to_ref"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RefOption configures a MergeToRefService.
type RefOption func(*MergeToRefService)

// WithRefValidationExtension installs a deployment-specific precondition
// hook for dry-run merges.
func WithRefValidationExtension(ext ValidationExtension) RefOption {
	return func(s *MergeToRefService) { s.ext = ext }
}

// Execute computes the dry-run merge for the given record. refName
// overrides the record's default train ref when non-empty.
func (s *MergeToRefService) Execute(ctx context.Context, recordID int64, actor, refName string) (*RefMergeResult, error) {
	rec, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}

	if !s.policy.TrainRefsEnabled(rec.TargetProject) {
		return nil, newError(CodeNotMergeable, rec.ID,
			"dry-run merges are disabled for %s", rec.TargetProject)
	}
	if !s.policy.CanDryRun(actor, rec.TargetProject) {
		return nil, newError(CodeNotMergeable, rec.ID,
			"actor %s may not request a dry-run merge", actor)
	}
	if err := s.ext.ValidateDryRun(rec, actor); err != nil {
		return nil, err
	}
	if rec.State == record.StateClosed {
		return nil, newError(CodeNotMergeable, rec.ID, "record is closed")
	}

	sourceCommit := rec.DiffHeadCommitID
	if sourceCommit == "" {
		return nil, newError(CodeNoSourceCommit, rec.ID, "no source commit to merge")
	}

	targetTip, err := s.backend.BranchTip(ctx, rec.TargetProject, rec.TargetBranch)
	if err != nil {
		return nil, classifyBackendError(rec.ID, err)
	}

	if refName == "" {
		refName = rec.TrainRefName()
	}

	commitID, err := s.backend.MergeToRef(ctx, vcs.MergeCommand{
		Actor:          actor,
		SourceCommitID: sourceCommit,
		TargetProject:  rec.TargetProject,
		TargetBranch:   rec.TargetBranch,
		Message:        "Train merge for record",
	}, refName)
	if err != nil {
		return nil, classifyBackendError(rec.ID, err)
	}

	s.logger.Debug("dry-run merge computed",
		zap.Int64("record_id", rec.ID),
		zap.String("ref", refName),
		zap.String("commit_id", commitID),
	)

	return &RefMergeResult{
		CommitID:       commitID,
		FirstParentID:  targetTip,
		SecondParentID: sourceCommit,
		RefName:        refName,
	}, nil
}
