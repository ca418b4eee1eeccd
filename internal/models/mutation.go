// Package models defines the core data structures used throughout relbranch
// including mutation records, branches, change diffs, and applied records.
package models

import "time"

// ScopePrimary is the changelog scope for the primary dataset. Branch scopes
// use the branch's isolated store ID.
const ScopePrimary = "primary"

// MutationRecord is one logged create/update/delete of one entity, scoped
// either to the primary dataset or to a branch's isolated store. Records are
// immutable once appended.
type MutationRecord struct {
	ID         string         `json:"id"`
	Scope      string         `json:"scope"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Action     Action         `json:"action"`
	PreState   map[string]any `json:"pre_state,omitempty"`
	PostState  map[string]any `json:"post_state,omitempty"`
	Time       time.Time      `json:"time"`
	RequestID  string         `json:"request_id,omitempty"`
	Actor      string         `json:"actor,omitempty"`

	// SourceBranch names the branch a record was republished from when it
	// landed on the primary scope through a merge or a revert. A branch
	// syncing from primary skips its own contributions.
	SourceBranch string `json:"source_branch,omitempty"`

	// Seq is assigned by the changelog on append and orders records within a
	// scope when timestamps collide.
	Seq uint64 `json:"seq"`
}

// Key returns the entity key "type/id" for this record.
func (r *MutationRecord) Key() string {
	return r.EntityType + "/" + r.EntityID
}
