package models

import "time"

// AppliedRecord links a MutationRecord applied during a merge to the Branch
// that produced it. It reconstructs "what this branch contributed" after the
// branch's isolated store has been dropped.
type AppliedRecord struct {
	ID        int64     `json:"id"`
	Branch    string    `json:"branch"`
	RecordID  string    `json:"record_id"`
	AppliedAt time.Time `json:"applied_at"`
}
