package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kilupskalvis/relbranch/internal/models"
)

// GetDiff loads the diff row for one (branch, entity) pair, or nil if the
// branch has not touched the entity.
func (s *Store) GetDiff(ctx context.Context, branch, entityType, entityID string) (*models.ChangeDiff, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, branch, entity_type, entity_id, action,
		       original, modified, current, conflicts, last_updated
		FROM change_diffs
		WHERE branch = ? AND entity_type = ? AND entity_id = ?`,
		branch, entityType, entityID)
	d, err := scanDiff(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get diff %s %s/%s: %w", branch, entityType, entityID, err)
	}
	return d, nil
}

// SaveDiff recomputes the diff's conflict set and upserts it on the
// (branch, entity_type, entity_id) key.
func (s *Store) SaveDiff(ctx context.Context, d *models.ChangeDiff) error {
	d.UpdateConflicts()
	d.LastUpdated = time.Now().UTC()

	original, err := marshalNullable(d.Original)
	if err != nil {
		return err
	}
	modified, err := marshalNullable(d.Modified)
	if err != nil {
		return err
	}
	current, err := marshalNullable(d.Current)
	if err != nil {
		return err
	}
	conflicts, err := json.Marshal(d.Conflicts)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO change_diffs
			(branch, entity_type, entity_id, action, original, modified, current, conflicts, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (branch, entity_type, entity_id) DO UPDATE SET
			action = excluded.action,
			original = excluded.original,
			modified = excluded.modified,
			current = excluded.current,
			conflicts = excluded.conflicts,
			last_updated = excluded.last_updated`,
		d.Branch, d.EntityType, d.EntityID, string(d.Action),
		original, modified, current, conflicts,
		d.LastUpdated.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save diff %s %s/%s: %w", d.Branch, d.EntityType, d.EntityID, err)
	}
	return nil
}

// ListDiffsForBranch returns every diff row for the named branch.
func (s *Store) ListDiffsForBranch(ctx context.Context, branch string) ([]*models.ChangeDiff, error) {
	return s.listDiffs(ctx, `
		SELECT id, branch, entity_type, entity_id, action,
		       original, modified, current, conflicts, last_updated
		FROM change_diffs WHERE branch = ?
		ORDER BY entity_type, entity_id`, branch)
}

// ListDiffsForEntity returns the diff rows every ready branch holds for one
// entity, so a primary-side edit can surface which open branches it collides
// with.
func (s *Store) ListDiffsForEntity(ctx context.Context, entityType, entityID string) ([]*models.ChangeDiff, error) {
	return s.listDiffs(ctx, `
		SELECT d.id, d.branch, d.entity_type, d.entity_id, d.action,
		       d.original, d.modified, d.current, d.conflicts, d.last_updated
		FROM change_diffs d
		JOIN branches b ON b.name = d.branch
		WHERE d.entity_type = ? AND d.entity_id = ? AND b.status = ?
		ORDER BY d.branch`,
		entityType, entityID, string(models.StatusReady))
}

// DeleteDiff removes the diff row for one (branch, entity) pair. Used when a
// branch deletes an entity it created, leaving no net change to review.
func (s *Store) DeleteDiff(ctx context.Context, branch, entityType, entityID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM change_diffs WHERE branch = ? AND entity_type = ? AND entity_id = ?",
		branch, entityType, entityID)
	if err != nil {
		return fmt.Errorf("delete diff %s %s/%s: %w", branch, entityType, entityID, err)
	}
	return nil
}

// DeleteDiffsForBranch removes every diff row for the named branch.
func (s *Store) DeleteDiffsForBranch(ctx context.Context, branch string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM change_diffs WHERE branch = ?", branch)
	if err != nil {
		return fmt.Errorf("delete diffs for %q: %w", branch, err)
	}
	return nil
}

func (s *Store) listDiffs(ctx context.Context, query string, args ...any) ([]*models.ChangeDiff, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list diffs: %w", err)
	}
	defer rows.Close()

	var diffs []*models.ChangeDiff
	for rows.Next() {
		d, err := scanDiff(rows)
		if err != nil {
			return nil, err
		}
		diffs = append(diffs, d)
	}
	return diffs, rows.Err()
}

func scanDiff(row rowScanner) (*models.ChangeDiff, error) {
	var d models.ChangeDiff
	var action, lastUpdated string
	var original, modified, current, conflicts []byte
	if err := row.Scan(&d.ID, &d.Branch, &d.EntityType, &d.EntityID, &action,
		&original, &modified, &current, &conflicts, &lastUpdated); err != nil {
		return nil, err
	}
	d.Action = models.Action(action)
	d.LastUpdated = parseTimestamp(lastUpdated)
	for _, pair := range []struct {
		data []byte
		dst  *map[string]any
	}{
		{original, &d.Original},
		{modified, &d.Modified},
		{current, &d.Current},
	} {
		if len(pair.data) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.data, pair.dst); err != nil {
			return nil, fmt.Errorf("unmarshal diff state: %w", err)
		}
	}
	if len(conflicts) > 0 {
		if err := json.Unmarshal(conflicts, &d.Conflicts); err != nil {
			return nil, fmt.Errorf("unmarshal diff conflicts: %w", err)
		}
	}
	return &d, nil
}

func marshalNullable(state map[string]any) ([]byte, error) {
	if state == nil {
		return nil, nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal diff state: %w", err)
	}
	return data, nil
}
