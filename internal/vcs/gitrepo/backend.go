// Package gitrepo implements vcs.Backend on top of local bare git
// repositories, driving git plumbing commands directly.
//
// A project name maps to a repository directory under a common root. All
// merge computations go through merge-tree/commit-tree so nothing needs a
// worktree, and branch updates use update-ref with an expected old value so
// a concurrent push surfaces as a failed ref update instead of a lost
// write.
package gitrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/forgeline/forgeline/internal/vcs"
)

// Backend runs git against bare repositories under Root.
type Backend struct {
	// Root is the directory holding one bare repository per project,
	// named <project>.git.
	Root string
}

// New returns a Backend rooted at dir.
func New(dir string) *Backend {
	return &Backend{Root: dir}
}

func (b *Backend) repoDir(project string) string {
	return filepath.Join(b.Root, project+".git")
}

// run executes git in the project repository and returns trimmed stdout.
func (b *Backend) run(ctx context.Context, project string, args ...string) (string, error) {
	return b.runEnv(ctx, project, nil, args...)
}

func (b *Backend) runEnv(ctx context.Context, project string, env []string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", b.repoDir(project)}, args...)...)
	if env != nil {
		cmd.Env = append(cmd.Environ(), env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return strings.TrimSpace(stdout.String()), &gitError{
			args:   args,
			stderr: strings.TrimSpace(stderr.String()),
			err:    err,
		}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// gitError carries the failing subcommand and its stderr.
type gitError struct {
	args   []string
	stderr string
	err    error
}

func (e *gitError) Error() string {
	if e.stderr != "" {
		return fmt.Sprintf("git %s: %s", e.args[0], e.stderr)
	}
	return fmt.Sprintf("git %s: %v", e.args[0], e.err)
}

func (e *gitError) Unwrap() error { return e.err }

// exitCode returns the process exit code of err, or -1.
func exitCode(err error) int {
	var ge *gitError
	if errors.As(err, &ge) {
		err = ge.err
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

// actorEnv attributes commits written on behalf of an actor.
func actorEnv(actor string) []string {
	return []string{
		"GIT_AUTHOR_NAME=" + actor,
		"GIT_AUTHOR_EMAIL=" + actor + "@forgeline.local",
		"GIT_COMMITTER_NAME=" + actor,
		"GIT_COMMITTER_EMAIL=" + actor + "@forgeline.local",
	}
}

// mergeTree computes the merged tree of target and source. Returns
// vcs.ErrMergeConflict when the contents do not merge cleanly.
func (b *Backend) mergeTree(ctx context.Context, project, targetID, sourceID string) (string, error) {
	out, err := b.run(ctx, project, "merge-tree", "--write-tree", targetID, sourceID)
	if err != nil {
		// merge-tree exits 1 when the merge has conflicts; the tree id on
		// stdout then contains conflict markers and is unusable here.
		if exitCode(err) == 1 {
			return "", vcs.ErrMergeConflict
		}
		return "", err
	}
	// First line is the tree OID.
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		out = out[:i]
	}
	return out, nil
}

// updateBranch moves a branch ref with an expected old value. A pre-receive
// style rejection from git surfaces as *vcs.PreReceiveError.
func (b *Backend) updateBranch(ctx context.Context, project, branch, newID, oldID string) error {
	args := []string{"update-ref", "refs/heads/" + branch, newID}
	if oldID != "" {
		args = append(args, oldID)
	}
	if _, err := b.run(ctx, project, args...); err != nil {
		var ge *gitError
		if errors.As(err, &ge) && strings.Contains(ge.stderr, "hook declined") {
			return &vcs.PreReceiveError{Reason: ge.stderr}
		}
		return err
	}
	return nil
}

func (b *Backend) Merge(ctx context.Context, cmd vcs.MergeCommand) (string, error) {
	targetTip, err := b.BranchTip(ctx, cmd.TargetProject, cmd.TargetBranch)
	if err != nil {
		return "", err
	}

	treeID, err := b.mergeTree(ctx, cmd.TargetProject, targetTip, cmd.SourceCommitID)
	if err != nil {
		return "", err
	}

	commitID, err := b.runEnv(ctx, cmd.TargetProject, actorEnv(cmd.Actor),
		"commit-tree", treeID,
		"-p", targetTip,
		"-p", cmd.SourceCommitID,
		"-m", cmd.Message,
	)
	if err != nil {
		return "", err
	}

	if err := b.updateBranch(ctx, cmd.TargetProject, cmd.TargetBranch, commitID, targetTip); err != nil {
		return "", err
	}
	return commitID, nil
}

func (b *Backend) FastForwardMerge(ctx context.Context, cmd vcs.MergeCommand) (string, error) {
	targetTip, err := b.BranchTip(ctx, cmd.TargetProject, cmd.TargetBranch)
	if err != nil {
		return "", err
	}
	ok, err := b.AncestorOf(ctx, cmd.TargetProject, targetTip, cmd.SourceCommitID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("cannot fast-forward %s to %s", cmd.TargetBranch, cmd.SourceCommitID)
	}
	if err := b.updateBranch(ctx, cmd.TargetProject, cmd.TargetBranch, cmd.SourceCommitID, targetTip); err != nil {
		return "", err
	}
	return cmd.SourceCommitID, nil
}

func (b *Backend) MergeToRef(ctx context.Context, cmd vcs.MergeCommand, refName string) (string, error) {
	targetTip, err := b.BranchTip(ctx, cmd.TargetProject, cmd.TargetBranch)
	if err != nil {
		return "", err
	}

	treeID, err := b.mergeTree(ctx, cmd.TargetProject, targetTip, cmd.SourceCommitID)
	if err != nil {
		return "", err
	}

	commitID, err := b.runEnv(ctx, cmd.TargetProject, actorEnv(cmd.Actor),
		"commit-tree", treeID,
		"-p", targetTip,
		"-p", cmd.SourceCommitID,
		"-m", cmd.Message,
	)
	if err != nil {
		return "", err
	}

	// Disposable refs are overwritten unconditionally.
	if _, err := b.run(ctx, cmd.TargetProject, "update-ref", refName, commitID); err != nil {
		return "", err
	}
	return commitID, nil
}

func (b *Backend) Squash(ctx context.Context, cmd vcs.SquashCommand) (string, error) {
	sourceTip, err := b.BranchTip(ctx, cmd.Project, cmd.SourceBranch)
	if err != nil {
		return "", err
	}
	targetTip, err := b.BranchTip(ctx, cmd.Project, cmd.TargetBranch)
	if err != nil {
		return "", err
	}
	base, err := b.MergeBase(ctx, cmd.Project, targetTip, sourceTip)
	if err != nil {
		return "", err
	}
	if base == "" {
		return "", fmt.Errorf("branches %s and %s share no history", cmd.SourceBranch, cmd.TargetBranch)
	}

	treeID, err := b.run(ctx, cmd.Project, "rev-parse", sourceTip+"^{tree}")
	if err != nil {
		return "", err
	}

	// One commit carrying the source tree on top of the merge base. No refs
	// move; the caller merges the returned id.
	return b.runEnv(ctx, cmd.Project, actorEnv(cmd.Actor),
		"commit-tree", treeID,
		"-p", base,
		"-m", cmd.Message,
	)
}

// logFormat renders one commit per %x1e-terminated stanza with %x1f-separated
// fields: id, parents, author name, author email, raw message.
const logFormat = "%H%x1f%P%x1f%an%x1f%ae%x1f%B%x1e"

func (b *Backend) CommitsBetween(ctx context.Context, project, oldID, newID string) ([]vcs.Commit, error) {
	rangeSpec := newID
	if oldID != "" {
		rangeSpec = oldID + ".." + newID
	}
	out, err := b.run(ctx, project, "log", "--reverse", "--format="+logFormat, rangeSpec)
	if err != nil {
		return nil, err
	}
	return parseLog(out)
}

func parseLog(out string) ([]vcs.Commit, error) {
	var commits []vcs.Commit
	for _, stanza := range strings.Split(out, "\x1e") {
		stanza = strings.TrimLeft(stanza, "\n")
		if stanza == "" {
			continue
		}
		fields := strings.Split(stanza, "\x1f")
		if len(fields) != 5 {
			return nil, fmt.Errorf("malformed log stanza: %q", stanza)
		}
		c := vcs.Commit{
			ID:          fields[0],
			Message:     strings.TrimRight(fields[4], "\n"),
			AuthorName:  fields[2],
			AuthorEmail: fields[3],
		}
		if fields[1] != "" {
			c.ParentIDs = strings.Fields(fields[1])
		}
		commits = append(commits, c)
	}
	return commits, nil
}

func (b *Backend) MergeBase(ctx context.Context, project, idA, idB string) (string, error) {
	out, err := b.run(ctx, project, "merge-base", idA, idB)
	if err != nil {
		// Exit 1 means no common ancestor.
		if exitCode(err) == 1 {
			return "", nil
		}
		return "", err
	}
	return out, nil
}

func (b *Backend) AncestorOf(ctx context.Context, project, ancestorID, descendantID string) (bool, error) {
	_, err := b.run(ctx, project, "merge-base", "--is-ancestor", ancestorID, descendantID)
	if err != nil {
		if exitCode(err) == 1 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *Backend) BranchTip(ctx context.Context, project, branch string) (string, error) {
	return b.run(ctx, project, "rev-parse", "--verify", "refs/heads/"+branch)
}

func (b *Backend) BranchExists(ctx context.Context, project, branch string) (bool, error) {
	_, err := b.run(ctx, project, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	if err != nil {
		if exitCode(err) == 1 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *Backend) DeleteBranch(ctx context.Context, actor, project, branch string) error {
	_, err := b.run(ctx, project, "update-ref", "-d", "refs/heads/"+branch)
	return err
}
