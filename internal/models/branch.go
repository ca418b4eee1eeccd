package models

import (
	"math/rand"
	"time"
)

// BranchStatus is the lifecycle state of a Branch.
type BranchStatus string

const (
	StatusNew               BranchStatus = "new"
	StatusProvisioning      BranchStatus = "provisioning"
	StatusReady             BranchStatus = "ready"
	StatusSyncing           BranchStatus = "syncing"
	StatusMerging           BranchStatus = "merging"
	StatusReverting         BranchStatus = "reverting"
	StatusPendingMigrations BranchStatus = "pending-migrations"
	StatusMigrating         BranchStatus = "migrating"
	StatusMerged            BranchStatus = "merged"
	StatusArchived          BranchStatus = "archived"
	StatusFailed            BranchStatus = "failed"
)

// TransitionalStatuses are states during which a lifecycle job may be
// operating on the branch's isolated store. Branches in these states cannot
// be deleted.
var TransitionalStatuses = []BranchStatus{
	StatusNew,
	StatusProvisioning,
	StatusSyncing,
	StatusMerging,
	StatusReverting,
	StatusMigrating,
}

// WorkingStatuses are states counted against the max_working_branches limit.
var WorkingStatuses = []BranchStatus{
	StatusNew,
	StatusProvisioning,
	StatusReady,
	StatusSyncing,
	StatusMerging,
	StatusReverting,
	StatusPendingMigrations,
	StatusMigrating,
}

// IsTransitional reports whether the status is a transitional state.
func (s BranchStatus) IsTransitional() bool {
	for _, t := range TransitionalStatuses {
		if s == t {
			return true
		}
	}
	return false
}

// MergeStrategyName selects how a branch's changes are replayed at merge time.
type MergeStrategyName string

const (
	// StrategyIterative applies every mutation record one at a time in
	// chronological order.
	StrategyIterative MergeStrategyName = "iterative"

	// StrategySquash collapses the records per entity and applies one
	// dependency-ordered operation per entity.
	StrategySquash MergeStrategyName = "squash"
)

// Branch is an isolated working copy of the dataset plus its own mutation log.
type Branch struct {
	Name       string            `json:"name"`
	Owner      string            `json:"owner,omitempty"`
	Status     BranchStatus      `json:"status"`
	StoreID    string            `json:"store_id"`
	Strategy   MergeStrategyName `json:"strategy"`
	CreatedAt  time.Time         `json:"created_at"`
	LastSync   time.Time         `json:"last_sync,omitzero"`
	MergedTime time.Time         `json:"merged_time,omitzero"`
	MergedBy   string            `json:"merged_by,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Ready reports whether the branch is in the ready state.
func (b *Branch) Ready() bool {
	return b.Status == StatusReady
}

// Merged reports whether the branch has been merged.
func (b *Branch) Merged() bool {
	return b.Status == StatusMerged
}

const storeIDChars = "abcdefghijklmnopqrstuvwxyz0123456789"

// GenerateStoreID generates a random alphanumeric isolated-store identifier.
func GenerateStoreID() string {
	const length = 8
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = storeIDChars[rand.Intn(len(storeIDChars))]
	}
	return string(buf)
}

// BranchEventType identifies a recorded lifecycle event.
type BranchEventType string

const (
	EventProvisioned BranchEventType = "provisioned"
	EventSynced      BranchEventType = "synced"
	EventMerged      BranchEventType = "merged"
	EventReverted    BranchEventType = "reverted"
	EventMigrated    BranchEventType = "migrated"
	EventArchived    BranchEventType = "archived"
)

// BranchEvent is an audit trail entry for a branch lifecycle action.
type BranchEvent struct {
	ID     int64           `json:"id"`
	Branch string          `json:"branch"`
	Time   time.Time       `json:"time"`
	Actor  string          `json:"actor,omitempty"`
	Type   BranchEventType `json:"type"`
}
