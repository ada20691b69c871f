// Package hooks builds the payloads handed to the outbound integration
// hook dispatcher. Delivery is external; this package only owns the shape
// and the byte-stable serialization of what gets delivered.
package hooks

import (
	"github.com/forgeline/forgeline/internal/record"
)

// Hook actions carried in payloads.
const (
	ActionMerge  = "merge"
	ActionUpdate = "update"
)

// ObjectKind identifies the payload family to consumers.
const ObjectKind = "merge_request"

// Payload is one outbound hook payload.
type Payload struct {
	Action        string
	Actor         string
	RecordID      int64
	SourceProject string
	SourceBranch  string
	TargetProject string
	TargetBranch  string
	Title         string
	State         string
	MergeCommitID string

	// OldRev is the pre-push revision, set on update payloads only.
	OldRev string
}

// MergePayload builds the action=merge payload fired after a successful
// merge.
func MergePayload(rec *record.Record, actor string) Payload {
	return Payload{
		Action:        ActionMerge,
		Actor:         actor,
		RecordID:      rec.ID,
		SourceProject: rec.SourceProject,
		SourceBranch:  rec.SourceBranch,
		TargetProject: rec.TargetProject,
		TargetBranch:  rec.TargetBranch,
		Title:         rec.Title,
		State:         string(rec.State),
		MergeCommitID: rec.MergeCommitID,
	}
}

// UpdatePayload builds the action=update payload fired for every affected
// record when a branch moves. oldRev is the push's old revision.
func UpdatePayload(rec *record.Record, actor, oldRev string) Payload {
	p := MergePayload(rec, actor)
	p.Action = ActionUpdate
	p.MergeCommitID = ""
	p.OldRev = oldRev
	return p
}

// Marshal serializes the payload to canonical JSON.
func (p Payload) Marshal() ([]byte, error) {
	obj := map[string]any{
		"object_kind":    ObjectKind,
		"action":         p.Action,
		"actor":          p.Actor,
		"record_id":      p.RecordID,
		"source_project": p.SourceProject,
		"source_branch":  p.SourceBranch,
		"target_project": p.TargetProject,
		"target_branch":  p.TargetBranch,
		"title":          p.Title,
		"state":          p.State,
	}
	if p.MergeCommitID != "" {
		obj["merge_commit_id"] = p.MergeCommitID
	}
	if p.OldRev != "" {
		obj["old_rev"] = p.OldRev
	}
	return marshalCanonical(obj)
}
