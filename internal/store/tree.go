package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// TreeNode is one row of the hierarchy cache for a tree entity type.
type TreeNode struct {
	EntityType string
	ID         string
	ParentID   string
	Depth      int
	Path       string
}

// RebuildTree recomputes the hierarchy cache for one tree entity type from
// the current entity rows. The parent is taken from the type's
// self-referencing field; entities with a missing or dangling parent become
// roots. Called after any merge, sync, or revert that touched the type.
func (s *Store) RebuildTree(ctx context.Context, entityType string) error {
	t, err := s.schema.Type(entityType)
	if err != nil {
		return err
	}
	if !t.Tree {
		return fmt.Errorf("entity type %q is not hierarchical", entityType)
	}
	parentField := ""
	for _, ref := range t.References {
		if ref.Target == entityType {
			parentField = ref.Name
			break
		}
	}
	if parentField == "" {
		return fmt.Errorf("entity type %q has no self-referencing field", entityType)
	}

	entities, err := s.Dataset().All(ctx, entityType)
	if err != nil {
		return err
	}
	parents := make(map[string]string, len(entities))
	for _, e := range entities {
		if v, ok := e.State[parentField].(string); ok && v != "" {
			parents[e.ID] = v
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tree rebuild: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM entity_tree WHERE entity_type = ?", entityType,
	); err != nil {
		return fmt.Errorf("clear tree cache for %q: %w", entityType, err)
	}

	for _, e := range entities {
		depth, path := resolveLineage(e.ID, parents)
		var parentID any
		if p, ok := parents[e.ID]; ok {
			parentID = p
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO entity_tree (entity_type, id, parent_id, depth, path) VALUES (?, ?, ?, ?, ?)",
			entityType, e.ID, parentID, depth, path,
		); err != nil {
			return fmt.Errorf("cache tree row %s/%s: %w", entityType, e.ID, err)
		}
	}
	return tx.Commit()
}

// resolveLineage walks the parent chain to the root, returning the node's
// depth and its materialized root-to-node path. Cycles are cut at the point
// of revisit so a malformed chain cannot loop forever.
func resolveLineage(id string, parents map[string]string) (int, string) {
	chain := []string{id}
	seen := map[string]bool{id: true}
	for {
		parent, ok := parents[chain[len(chain)-1]]
		if !ok || seen[parent] {
			break
		}
		chain = append(chain, parent)
		seen[parent] = true
	}
	// Reverse to root-first order
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return len(chain) - 1, strings.Join(chain, "/")
}

// TreeNodes returns the cached hierarchy for a tree entity type, ordered by
// path so parents precede their children.
func (s *Store) TreeNodes(ctx context.Context, entityType string) ([]TreeNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, id, parent_id, depth, path
		FROM entity_tree WHERE entity_type = ? ORDER BY path`, entityType)
	if err != nil {
		return nil, fmt.Errorf("list tree nodes for %q: %w", entityType, err)
	}
	defer rows.Close()

	var nodes []TreeNode
	for rows.Next() {
		var n TreeNode
		var parent sql.NullString
		if err := rows.Scan(&n.EntityType, &n.ID, &parent, &n.Depth, &n.Path); err != nil {
			return nil, err
		}
		n.ParentID = parent.String
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}
