package merge

import (
	"github.com/forgeline/forgeline/internal/record"
)

// PolicyProvider answers the project- and user-level policy questions the
// pipelines depend on. Each pipeline invocation queries it once up front
// and threads the answers through, so a toggle flipping mid-flight cannot
// make a single attempt behave inconsistently.
type PolicyProvider interface {
	// DefaultBranch returns the project's default branch name.
	DefaultBranch(project string) string

	// FastForwardOnly reports whether the project rejects merge commits.
	FastForwardOnly(project string) bool

	// TrainRefsEnabled reports whether dry-run merges to a disposable ref
	// are enabled for the project.
	TrainRefsEnabled(project string) bool

	// CanDryRun reports whether the actor may request a dry-run merge; the
	// operation is elevated because it writes refs.
	CanDryRun(actor, project string) bool

	// CanDeleteBranch reports whether the actor may delete the branch right
	// now. Re-checked at deletion time: protection or permissions may have
	// changed since the merge was requested.
	CanDeleteBranch(actor, project, branch string) bool
}

// StaticPolicy is a PolicyProvider backed by fixed configuration.
type StaticPolicy struct {
	DefaultBranchName       string
	FastForwardOnlyProjects map[string]bool
	TrainRefs               bool
	TrainRefsDisabled       map[string]bool
	AllowDryRun             bool
	ProtectedBranches       map[string]bool
}

// NewStaticPolicy returns a permissive policy with main as the default
// branch. Fields may be adjusted before use.
func NewStaticPolicy() *StaticPolicy {
	return &StaticPolicy{
		DefaultBranchName: "main",
		TrainRefs:         true,
		AllowDryRun:       true,
	}
}

func (p *StaticPolicy) DefaultBranch(project string) string {
	return p.DefaultBranchName
}

func (p *StaticPolicy) FastForwardOnly(project string) bool {
	return p.FastForwardOnlyProjects[project]
}

func (p *StaticPolicy) TrainRefsEnabled(project string) bool {
	return p.TrainRefs && !p.TrainRefsDisabled[project]
}

func (p *StaticPolicy) CanDryRun(actor, project string) bool {
	return p.AllowDryRun
}

func (p *StaticPolicy) CanDeleteBranch(actor, project, branch string) bool {
	return !p.ProtectedBranches[project+":"+branch]
}

// ValidationExtension is the variant hook point for deployments that layer
// extra merge preconditions on top of the core checks (approval rules,
// compliance gates). The default is a no-op.
type ValidationExtension interface {
	// ValidateMerge runs before a merge attempt acquires the lock. A non-nil
	// error rejects the attempt; MergeError values pass through unchanged.
	ValidateMerge(rec *record.Record, actor string) error

	// ValidateDryRun runs before a dry-run merge.
	ValidateDryRun(rec *record.Record, actor string) error
}

// NopValidation accepts everything.
type NopValidation struct{}

func (NopValidation) ValidateMerge(*record.Record, string) error  { return nil }
func (NopValidation) ValidateDryRun(*record.Record, string) error { return nil }
