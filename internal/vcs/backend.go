package vcs

import (
	"context"
	"errors"
	"fmt"
)

// ErrMergeConflict is the sentinel the backend returns when a merge cannot
// be computed automatically. It is an expected outcome, not a fault.
var ErrMergeConflict = errors.New("merge produced conflicts")

// PreReceiveError is a backend-side policy rejection (a pre-receive hook
// declined the ref update). The reason is surfaced to callers verbatim.
type PreReceiveError struct {
	Reason string
}

func (e *PreReceiveError) Error() string {
	return fmt.Sprintf("pre-receive rejected: %s", e.Reason)
}

// IsPreReceiveRejection reports whether err is (or wraps) a PreReceiveError.
func IsPreReceiveRejection(err error) bool {
	var pre *PreReceiveError
	return errors.As(err, &pre)
}

// MergeCommand carries the inputs for one merge computation. The same shape
// serves real merges, fast-forward merges, and disposable-ref merges; only
// the destination differs.
type MergeCommand struct {
	// Actor is the user the resulting commit is attributed to.
	Actor string

	// SourceCommitID is the already-resolved commit to merge in: the source
	// branch tip, or the squash commit when squashing.
	SourceCommitID string

	TargetProject string
	TargetBranch  string

	// Message is the merge commit message.
	Message string
}

// SquashCommand carries the inputs for collapsing a proposal's commits into
// a single commit.
type SquashCommand struct {
	Actor        string
	Project      string
	SourceBranch string
	TargetBranch string
	Message      string
}

// Backend is the narrow interface onto the version-control storage and
// transport engine. Implementations compute and write commits; everything
// above this interface is orchestration.
//
// Merge-like calls return the new commit id on success, ErrMergeConflict
// when the merge cannot be computed, a *PreReceiveError when a backend-side
// policy rejected the write, and any other error for transport failures.
//
// All calls may block on backend I/O and honor context cancellation.
type Backend interface {
	// Merge merges SourceCommitID into the real target branch.
	Merge(ctx context.Context, cmd MergeCommand) (string, error)

	// FastForwardMerge advances the target branch to SourceCommitID without
	// creating a merge commit. The source must already be a descendant of
	// the target tip.
	FastForwardMerge(ctx context.Context, cmd MergeCommand) (string, error)

	// MergeToRef writes the merge result to refName instead of the target
	// branch. The target branch is never mutated.
	MergeToRef(ctx context.Context, cmd MergeCommand, refName string) (string, error)

	// Squash collapses the commits unique to the source branch into a
	// single commit and returns its id. No refs are updated.
	Squash(ctx context.Context, cmd SquashCommand) (string, error)

	// CommitsBetween returns the commits reachable from newID but not from
	// oldID, oldest first.
	CommitsBetween(ctx context.Context, project, oldID, newID string) ([]Commit, error)

	// MergeBase returns the best common ancestor of two commits, or "" when
	// the histories are unrelated.
	MergeBase(ctx context.Context, project, idA, idB string) (string, error)

	// AncestorOf reports whether ancestorID is an ancestor of descendantID.
	AncestorOf(ctx context.Context, project, ancestorID, descendantID string) (bool, error)

	// BranchTip returns the commit id a branch currently points at.
	BranchTip(ctx context.Context, project, branch string) (string, error)

	// BranchExists reports whether the branch ref is present.
	BranchExists(ctx context.Context, project, branch string) (bool, error)

	// DeleteBranch removes the branch ref.
	DeleteBranch(ctx context.Context, actor, project, branch string) error
}
