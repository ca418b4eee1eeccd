package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kilupskalvis/relbranch/internal/schema"
)

// Entity is one stored row.
type Entity struct {
	EntityType string
	ID         string
	State      map[string]any
}

// Dataset is a handle for entity reads and writes, bound either to the store
// itself or to an open transaction (see Store.Begin).
type Dataset struct {
	q          DBTX
	schema     *schema.Schema
	fileExists func(path string) bool
}

// Get returns the entity's attribute map, reporting whether it exists.
func (d *Dataset) Get(ctx context.Context, entityType, id string) (map[string]any, bool, error) {
	var data []byte
	err := d.q.QueryRowContext(ctx,
		"SELECT data FROM entities WHERE entity_type = ? AND id = ?",
		entityType, id,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", entityType, id, err)
	}

	var state map[string]any
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, false, fmt.Errorf("unmarshal %s/%s: %w", entityType, id, err)
	}
	return state, true, nil
}

// Insert validates and materializes a new entity from its attribute map.
func (d *Dataset) Insert(ctx context.Context, entityType, id string, state map[string]any) error {
	t, err := d.schema.Type(entityType)
	if err != nil {
		return err
	}
	if err := d.validateState(ctx, t, id, state); err != nil {
		return err
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", entityType, id, err)
	}
	if _, err := d.q.ExecContext(ctx,
		"INSERT INTO entities (entity_type, id, data) VALUES (?, ?, ?)",
		entityType, id, data,
	); err != nil {
		return fmt.Errorf("insert %s/%s: %w", entityType, id, err)
	}
	return nil
}

// UpdateFields loads the entity, overlays only the given fields, validates
// the result, and writes it back.
func (d *Dataset) UpdateFields(ctx context.Context, entityType, id string, fields map[string]any) error {
	t, err := d.schema.Type(entityType)
	if err != nil {
		return err
	}

	state, ok, err := d.Get(ctx, entityType, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("update %s/%s: %w", entityType, id, ErrNotFound)
	}

	for k, v := range fields {
		state[k] = v
	}
	if err := d.validateState(ctx, t, id, state); err != nil {
		return err
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", entityType, id, err)
	}
	if _, err := d.q.ExecContext(ctx,
		"UPDATE entities SET data = ? WHERE entity_type = ? AND id = ?",
		data, entityType, id,
	); err != nil {
		return fmt.Errorf("update %s/%s: %w", entityType, id, err)
	}
	return nil
}

// Put upserts the entity's full state without constraint validation. It
// exists for replay paths that have decided to proceed past a benign
// validation failure; normal writes go through Insert and UpdateFields.
func (d *Dataset) Put(ctx context.Context, entityType, id string, state map[string]any) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", entityType, id, err)
	}
	if _, err := d.q.ExecContext(ctx,
		"INSERT OR REPLACE INTO entities (entity_type, id, data) VALUES (?, ?, ?)",
		entityType, id, data,
	); err != nil {
		return fmt.Errorf("put %s/%s: %w", entityType, id, err)
	}
	return nil
}

// Delete removes the entity by id. A missing row is reported via the bool
// result, not an error, so replayed deletes stay idempotent. Rows still
// referenced by other entities cannot be deleted.
func (d *Dataset) Delete(ctx context.Context, entityType, id string) (bool, error) {
	if err := d.checkNotReferenced(ctx, entityType, id); err != nil {
		return false, err
	}

	res, err := d.q.ExecContext(ctx,
		"DELETE FROM entities WHERE entity_type = ? AND id = ?",
		entityType, id,
	)
	if err != nil {
		return false, fmt.Errorf("delete %s/%s: %w", entityType, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// All returns every entity of the given type.
func (d *Dataset) All(ctx context.Context, entityType string) ([]Entity, error) {
	rows, err := d.q.QueryContext(ctx,
		"SELECT id, data FROM entities WHERE entity_type = ? ORDER BY id",
		entityType,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", entityType, err)
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		var state map[string]any
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("unmarshal %s/%s: %w", entityType, id, err)
		}
		entities = append(entities, Entity{EntityType: entityType, ID: id, State: state})
	}
	return entities, rows.Err()
}

// Count returns the number of entities of the given type.
func (d *Dataset) Count(ctx context.Context, entityType string) (int, error) {
	var n int
	err := d.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entities WHERE entity_type = ?", entityType,
	).Scan(&n)
	return n, err
}
