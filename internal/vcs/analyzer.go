package vcs

// AttributeTips determines which pushed merge commit, if any, incorporated
// each candidate tip. It is used to attribute proposals that were merged by
// a direct push rather than through the merge service.
//
// commits must be ordered oldest first. For every merge commit in the push,
// an association is recorded from its second parent (the merged-in tip) to
// the merge commit itself; when the same tip was merged more than once the
// newest merge wins. Candidates are matched against second parents exactly.
// Squash merges and rewritten tips therefore produce no attribution, by
// design: a missing entry means "no attribution", never a guess.
func AttributeTips(commits []Commit, tips []string) map[string]string {
	bySecondParent := make(map[string]string)
	for _, c := range commits {
		if !c.IsMerge() {
			continue
		}
		bySecondParent[c.SecondParentID()] = c.ID
	}

	attributed := make(map[string]string, len(tips))
	for _, tip := range tips {
		if mergeID, ok := bySecondParent[tip]; ok {
			attributed[tip] = mergeID
		}
	}
	return attributed
}
