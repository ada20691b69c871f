// Package record defines the Integration Record: the persisted state
// machine for one proposed branch integration, and the transitions the
// merge and refresh services drive it through.
package record

import (
	"fmt"
	"strings"
	"time"
)

// State is the lifecycle state of an Integration Record.
//
// Valid transitions:
//
//	opened → locked → merged   successful merge
//	opened → locked → opened   failed merge attempt
//	opened → closed            abandonment / source branch vanished
//
// locked is a transient mutual-exclusion marker, never a resting state: a
// record that enters locked must leave it on every exit path of the attempt
// that acquired it.
type State string

const (
	StateOpened State = "opened"
	StateClosed State = "closed"
	StateMerged State = "merged"
	StateLocked State = "locked"
)

// Freshness tracks whether the materialized diff snapshot reflects the
// current source and target tips.
type Freshness string

const (
	FreshnessChecked   Freshness = "checked"
	FreshnessUnchecked Freshness = "unchecked"
)

// Record is one proposed integration of a source branch into a target
// branch.
//
// Invariants:
//   - at most one in-flight merge attempt: MergeJobToken is non-empty only
//     while an attempt holds the lock;
//   - InProgressCommitID non-empty implies State == StateLocked;
//   - MergeCommitID and MergeError are write-once per attempt and reset at
//     the start of the next attempt; a finished attempt set exactly one.
type Record struct {
	ID int64

	SourceProject string
	SourceBranch  string
	TargetProject string
	TargetBranch  string

	Title  string
	Author string

	State State

	// Merge coordination. Empty strings stand for "unset".
	MergeJobToken      string
	MergeError         string
	MergeCommitID      string
	InProgressCommitID string

	// Merge policy.
	Squash                  bool
	FastForwardOnly         bool
	ForceRemoveSourceBranch bool

	// Diff state.
	DiffHeadCommitID string
	DiffFreshness    Freshness

	// Upstream mirror mapping; zero values mean the record is not mirrored.
	UpstreamProjectID int64
	UpstreamIID       int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Open reports whether the record is still open for refresh processing.
func (r *Record) Open() bool {
	return r.State == StateOpened
}

// Mergeable reports whether a merge attempt may start. Locked records are
// not mergeable: a second attempt must fail fast, not queue.
func (r *Record) Mergeable() bool {
	return r.State == StateOpened
}

// SameSourceAs reports whether the record's source branch is the branch a
// push touched in the given project. Fork proposals match too: what matters
// is the project the push landed in.
func (r *Record) SameSourceAs(project, branch string) bool {
	return r.SourceProject == project && r.SourceBranch == branch
}

const draftPrefix = "Draft: "

// Draft reports whether the record's title carries a draft marker.
func (r *Record) Draft() bool {
	title := strings.ToLower(r.Title)
	return strings.HasPrefix(title, "draft:") || strings.HasPrefix(title, "wip:") ||
		strings.HasPrefix(title, "[draft]")
}

// DraftTitle returns the title with the draft marker applied.
func (r *Record) DraftTitle() string {
	if r.Draft() {
		return r.Title
	}
	return draftPrefix + r.Title
}

// DefaultMergeMessage is the deterministic merge commit message used when
// the caller supplies none.
func (r *Record) DefaultMergeMessage() string {
	return fmt.Sprintf("Merge branch '%s' into '%s'\n\n%s\n\nSee merge request %s!%d",
		r.SourceBranch, r.TargetBranch, r.Title, r.TargetProject, r.ID)
}

// TrainRefName is the disposable reference a dry-run merge result is
// written to. It is scoped to the record and never a real branch.
func (r *Record) TrainRefName() string {
	return fmt.Sprintf("refs/merge-requests/%d/train", r.ID)
}

// Mirrored reports whether the record tracks a proposal on an upstream
// instance.
func (r *Record) Mirrored() bool {
	return r.UpstreamProjectID != 0 && r.UpstreamIID != 0
}
