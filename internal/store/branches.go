package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kilupskalvis/relbranch/internal/models"
)

// CreateBranch persists a new branch row. The branch name and store ID must
// both be unused.
func (s *Store) CreateBranch(ctx context.Context, b *models.Branch) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branches (name, owner, status, store_id, strategy, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.Name, b.Owner, string(b.Status), b.StoreID, string(b.Strategy),
		b.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create branch %q: %w", b.Name, err)
	}
	return nil
}

// GetBranch loads a branch by name.
func (s *Store) GetBranch(ctx context.Context, name string) (*models.Branch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, owner, status, store_id, strategy, created_at,
		       last_sync, merged_time, merged_by, error
		FROM branches WHERE name = ?`, name)
	b, err := scanBranch(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("branch %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get branch %q: %w", name, err)
	}
	return b, nil
}

// GetBranchByStoreID loads a branch by its isolated store ID, the scope name
// its changelog records carry.
func (s *Store) GetBranchByStoreID(ctx context.Context, storeID string) (*models.Branch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, owner, status, store_id, strategy, created_at,
		       last_sync, merged_time, merged_by, error
		FROM branches WHERE store_id = ?`, storeID)
	b, err := scanBranch(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store id %q: %w", storeID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get branch by store id %q: %w", storeID, err)
	}
	return b, nil
}

// ListBranches returns all branches ordered by creation time.
func (s *Store) ListBranches(ctx context.Context) ([]*models.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, owner, status, store_id, strategy, created_at,
		       last_sync, merged_time, merged_by, error
		FROM branches ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	var branches []*models.Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

// UpdateBranch writes the branch's mutable fields back to its row.
func (s *Store) UpdateBranch(ctx context.Context, b *models.Branch) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE branches
		SET owner = ?, status = ?, strategy = ?, last_sync = ?,
		    merged_time = ?, merged_by = ?, error = ?
		WHERE name = ?`,
		b.Owner, string(b.Status), string(b.Strategy),
		nullTime(b.LastSync), nullTime(b.MergedTime), b.MergedBy, b.Error,
		b.Name,
	)
	if err != nil {
		return fmt.Errorf("update branch %q: %w", b.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("branch %q: %w", b.Name, ErrNotFound)
	}
	return nil
}

// DeleteBranch removes the branch row. Associated diff rows and applied
// records survive for audit; callers drop the isolated store and the
// changelog scope separately.
func (s *Store) DeleteBranch(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM branches WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete branch %q: %w", name, err)
	}
	return nil
}

// CountBranches returns the number of non-archived branches.
func (s *Store) CountBranches(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM branches WHERE status != ?",
		string(models.StatusArchived),
	).Scan(&n)
	return n, err
}

// CountWorkingBranches returns the number of branches in a working state.
func (s *Store) CountWorkingBranches(ctx context.Context) (int, error) {
	placeholders := make([]string, len(models.WorkingStatuses))
	args := make([]any, len(models.WorkingStatuses))
	for i, st := range models.WorkingStatuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM branches WHERE status IN ("+strings.Join(placeholders, ", ")+")",
		args...,
	).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBranch(row rowScanner) (*models.Branch, error) {
	var b models.Branch
	var status, strategy, createdAt string
	var owner, lastSync, mergedTime, mergedBy, errMsg sql.NullString
	if err := row.Scan(&b.Name, &owner, &status, &b.StoreID, &strategy,
		&createdAt, &lastSync, &mergedTime, &mergedBy, &errMsg); err != nil {
		return nil, err
	}
	b.Owner = owner.String
	b.Status = models.BranchStatus(status)
	b.Strategy = models.MergeStrategyName(strategy)
	b.CreatedAt = parseTimestamp(createdAt)
	if lastSync.Valid {
		b.LastSync = parseTimestamp(lastSync.String)
	}
	if mergedTime.Valid {
		b.MergedTime = parseTimestamp(mergedTime.String)
	}
	b.MergedBy = mergedBy.String
	b.Error = errMsg.String
	return &b, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}
