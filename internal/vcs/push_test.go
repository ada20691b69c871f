package vcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPush_BranchPush(t *testing.T) {
	assert.True(t, Push{Ref: "refs/heads/feature"}.BranchPush())
	assert.False(t, Push{Ref: "refs/tags/v1.0"}.BranchPush())
	assert.False(t, Push{Ref: "refs/merge-requests/7/train"}.BranchPush())
}

func TestPush_BranchName(t *testing.T) {
	p := Push{Ref: "refs/heads/feature/nested"}
	assert.Equal(t, "feature/nested", p.BranchName())
}

func TestPush_AddedRemoved(t *testing.T) {
	added := Push{OldRev: ZeroRev, NewRev: "abc"}
	assert.True(t, added.BranchAdded())
	assert.False(t, added.BranchRemoved())

	removed := Push{OldRev: "abc", NewRev: ZeroRev}
	assert.False(t, removed.BranchAdded())
	assert.True(t, removed.BranchRemoved())
}

func TestPush_ForcePush(t *testing.T) {
	assert.True(t, Push{OldRev: "a", NewRev: "b", Forced: true}.ForcePush())
	assert.False(t, Push{OldRev: "a", NewRev: "b"}.ForcePush())

	// Creations and deletions are never force pushes, whatever the flag says.
	assert.False(t, Push{OldRev: ZeroRev, NewRev: "b", Forced: true}.ForcePush())
	assert.False(t, Push{OldRev: "a", NewRev: ZeroRev, Forced: true}.ForcePush())
}
