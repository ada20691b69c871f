package vcs

import "strings"

// Commit is a read-only view of a commit supplied by the version-control
// backend. A commit with two or more parents is a merge commit; by git
// convention its second parent is the tip of the branch that was merged in.
type Commit struct {
	ID          string
	ParentIDs   []string
	Message     string
	AuthorName  string
	AuthorEmail string
}

// IsMerge reports whether the commit has two or more parents.
func (c Commit) IsMerge() bool {
	return len(c.ParentIDs) >= 2
}

// SecondParentID returns the merged-in tip of a merge commit, or "" for
// non-merge commits.
func (c Commit) SecondParentID() string {
	if !c.IsMerge() {
		return ""
	}
	return c.ParentIDs[1]
}

// Title returns the first line of the commit message.
func (c Commit) Title() string {
	if i := strings.IndexByte(c.Message, '\n'); i >= 0 {
		return c.Message[:i]
	}
	return c.Message
}

// draftPrefixes are the commit-title markers that flag a commit as
// work in progress.
var draftPrefixes = []string{"draft:", "wip:", "[draft]", "(draft)", "fixup!", "squash!"}

// Draft reports whether the commit title marks it as a draft commit.
func (c Commit) Draft() bool {
	title := strings.ToLower(strings.TrimSpace(c.Title()))
	for _, p := range draftPrefixes {
		if strings.HasPrefix(title, p) {
			return true
		}
	}
	return false
}
