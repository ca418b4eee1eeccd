package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kilupskalvis/relbranch/internal/schema"
)

// Provisioner creates, opens, and tears down per-branch isolated stores.
// Each isolated store is its own SQLite database file under Dir, named by the
// branch's store ID.
type Provisioner struct {
	Dir    string
	Prefix string
	Schema *schema.Schema
}

// Path returns the database file path for an isolated store ID.
func (p *Provisioner) Path(storeID string) string {
	return filepath.Join(p.Dir, p.Prefix+storeID+".db")
}

// Exists reports whether an isolated store file is present.
func (p *Provisioner) Exists(storeID string) bool {
	_, err := os.Stat(p.Path(storeID))
	return err == nil
}

// CreateIsolatedStore creates and initializes a fresh isolated store, then
// seeds it with a full copy of the primary dataset's entity rows. The caller
// owns the returned store.
func (p *Provisioner) CreateIsolatedStore(ctx context.Context, storeID string, primary *Store) (*Store, error) {
	if p.Exists(storeID) {
		return nil, fmt.Errorf("isolated store %q already exists", storeID)
	}
	if err := os.MkdirAll(p.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	s, err := New(p.Path(storeID), p.Schema)
	if err != nil {
		return nil, fmt.Errorf("create isolated store %q: %w", storeID, err)
	}
	if err := s.Initialize(); err != nil {
		s.Close()
		return nil, fmt.Errorf("initialize isolated store %q: %w", storeID, err)
	}
	if err := p.seed(ctx, primary, s); err != nil {
		s.Close()
		os.Remove(p.Path(storeID))
		return nil, fmt.Errorf("seed isolated store %q: %w", storeID, err)
	}
	return s, nil
}

// OpenIsolatedStore opens an existing isolated store.
func (p *Provisioner) OpenIsolatedStore(storeID string) (*Store, error) {
	if !p.Exists(storeID) {
		return nil, fmt.Errorf("isolated store %q: %w", storeID, ErrNotFound)
	}
	return New(p.Path(storeID), p.Schema)
}

// DropIsolatedStore removes an isolated store's database file and its WAL
// sidecars. Missing files are not an error so teardown stays idempotent.
func (p *Provisioner) DropIsolatedStore(storeID string) error {
	base := p.Path(storeID)
	for _, path := range []string{base, base + "-wal", base + "-shm"} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("drop isolated store %q: %w", storeID, err)
		}
	}
	return nil
}

// seed copies every entity row and tree cache row from the source store into
// the (empty) destination. Rows are copied verbatim rather than re-validated;
// the source already enforced its constraints.
func (p *Provisioner) seed(ctx context.Context, src, dst *Store) error {
	rows, err := src.db.QueryContext(ctx, "SELECT entity_type, id, data FROM entities")
	if err != nil {
		return fmt.Errorf("read source entities: %w", err)
	}
	defer rows.Close()

	tx, err := dst.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed transaction: %w", err)
	}
	defer tx.Rollback()

	for rows.Next() {
		var entityType, id string
		var data []byte
		if err := rows.Scan(&entityType, &id, &data); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO entities (entity_type, id, data) VALUES (?, ?, ?)",
			entityType, id, data,
		); err != nil {
			return fmt.Errorf("seed %s/%s: %w", entityType, id, err)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	treeRows, err := src.db.QueryContext(ctx,
		"SELECT entity_type, id, parent_id, depth, path FROM entity_tree")
	if err != nil {
		return fmt.Errorf("read source tree cache: %w", err)
	}
	defer treeRows.Close()

	for treeRows.Next() {
		var entityType, id, path string
		var parentID any
		var depth int
		if err := treeRows.Scan(&entityType, &id, &parentID, &depth, &path); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO entity_tree (entity_type, id, parent_id, depth, path) VALUES (?, ?, ?, ?, ?)",
			entityType, id, parentID, depth, path,
		); err != nil {
			return fmt.Errorf("seed tree row %s/%s: %w", entityType, id, err)
		}
	}
	if err := treeRows.Err(); err != nil {
		return err
	}

	return tx.Commit()
}
