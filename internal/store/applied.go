package store

import (
	"context"
	"fmt"
	"time"

	"github.com/kilupskalvis/relbranch/internal/models"
)

// RecordApplied notes that the given mutation record was applied to the
// primary dataset on behalf of a branch.
func (s *Store) RecordApplied(ctx context.Context, branch, recordID string, appliedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO applied_records (branch, record_id, applied_at)
		VALUES (?, ?, ?)`,
		branch, recordID, appliedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record applied %s for %q: %w", recordID, branch, err)
	}
	return nil
}

// AppliedRecords returns the merge provenance rows for a branch in apply
// order.
func (s *Store) AppliedRecords(ctx context.Context, branch string) ([]*models.AppliedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch, record_id, applied_at
		FROM applied_records WHERE branch = ? ORDER BY id`, branch)
	if err != nil {
		return nil, fmt.Errorf("list applied records for %q: %w", branch, err)
	}
	defer rows.Close()

	var records []*models.AppliedRecord
	for rows.Next() {
		var r models.AppliedRecord
		var appliedAt string
		if err := rows.Scan(&r.ID, &r.Branch, &r.RecordID, &appliedAt); err != nil {
			return nil, err
		}
		r.AppliedAt = parseTimestamp(appliedAt)
		records = append(records, &r)
	}
	return records, rows.Err()
}

// DeleteAppliedRecords clears a branch's merge provenance, used when a merge
// is reverted.
func (s *Store) DeleteAppliedRecords(ctx context.Context, branch string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM applied_records WHERE branch = ?", branch)
	if err != nil {
		return fmt.Errorf("delete applied records for %q: %w", branch, err)
	}
	return nil
}

// RecordEvent appends a lifecycle audit entry for a branch.
func (s *Store) RecordEvent(ctx context.Context, branch, actor string, eventType models.BranchEventType) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branch_events (branch, time, actor, type)
		VALUES (?, ?, ?, ?)`,
		branch, time.Now().UTC().Format(time.RFC3339Nano), actor, string(eventType))
	if err != nil {
		return fmt.Errorf("record %s event for %q: %w", eventType, branch, err)
	}
	return nil
}

// Events returns a branch's lifecycle audit trail in chronological order.
func (s *Store) Events(ctx context.Context, branch string) ([]*models.BranchEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch, time, actor, type
		FROM branch_events WHERE branch = ? ORDER BY id`, branch)
	if err != nil {
		return nil, fmt.Errorf("list events for %q: %w", branch, err)
	}
	defer rows.Close()

	var events []*models.BranchEvent
	for rows.Next() {
		var e models.BranchEvent
		var t, eventType string
		if err := rows.Scan(&e.ID, &e.Branch, &t, &e.Actor, &eventType); err != nil {
			return nil, err
		}
		e.Time = parseTimestamp(t)
		e.Type = models.BranchEventType(eventType)
		events = append(events, &e)
	}
	return events, rows.Err()
}
