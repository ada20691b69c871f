package vcs

import "strings"

// ZeroRev is the all-zero object id git uses to signal an absent side of a
// ref update (branch creation or deletion).
const ZeroRev = "0000000000000000000000000000000000000000"

const branchRefPrefix = "refs/heads/"

// Push is the ephemeral description of one ref update, as delivered by the
// receive path of the version-control backend.
//
// Forced is supplied by the receiver: whether a push rewrote history cannot
// be derived from the old/new pair alone.
type Push struct {
	Project string
	OldRev  string
	NewRev  string
	Ref     string
	Forced  bool
}

// BranchPush reports whether the update targets a branch ref. Tag pushes
// and other ref namespaces are ignored by the refresh pipeline.
func (p Push) BranchPush() bool {
	return strings.HasPrefix(p.Ref, branchRefPrefix)
}

// BranchName returns the branch name without the refs/heads/ prefix.
func (p Push) BranchName() string {
	return strings.TrimPrefix(p.Ref, branchRefPrefix)
}

// BranchAdded reports whether the push created the branch.
func (p Push) BranchAdded() bool {
	return p.OldRev == ZeroRev
}

// BranchRemoved reports whether the push deleted the branch.
func (p Push) BranchRemoved() bool {
	return p.NewRev == ZeroRev
}

// ForcePush reports whether existing history was rewritten. Creations and
// deletions are never force pushes.
func (p Push) ForcePush() bool {
	return p.Forced && !p.BranchAdded() && !p.BranchRemoved()
}
