package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilupskalvis/relbranch/internal/schema"
)

// ErrNotFound indicates an entity that does not exist in the store.
var ErrNotFound = errors.New("entity not found")

// ErrFileMissing indicates a file-kind attribute pointing at an absent file.
// The merge engine treats this as a known-benign condition and proceeds with
// a warning rather than aborting.
var ErrFileMissing = errors.New("referenced file does not exist")

// ValidationError reports a constraint violation for one entity attribute.
type ValidationError struct {
	EntityType string
	EntityID   string
	Field      string
	Reason     string
	Err        error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s/%s: field %q: %s", e.EntityType, e.EntityID, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// validateState checks required fields, uniqueness constraints, reference
// integrity, and file-kind attribute presence for a full candidate state.
func (d *Dataset) validateState(ctx context.Context, t *schema.EntityType, id string, state map[string]any) error {
	for _, field := range t.Required {
		if v, ok := state[field]; !ok || v == nil {
			return &ValidationError{
				EntityType: t.Name, EntityID: id, Field: field,
				Reason: "required field is missing",
			}
		}
	}

	for _, field := range t.Unique {
		value, ok := state[field]
		if !ok || value == nil {
			continue
		}
		taken, err := d.valueTaken(ctx, t.Name, id, field, value)
		if err != nil {
			return err
		}
		if taken {
			return &ValidationError{
				EntityType: t.Name, EntityID: id, Field: field,
				Reason: fmt.Sprintf("value %v violates a uniqueness constraint", value),
			}
		}
	}

	for _, ref := range t.References {
		value, ok := state[ref.Name]
		if !ok || value == nil {
			if ref.Nullable {
				continue
			}
			return &ValidationError{
				EntityType: t.Name, EntityID: id, Field: ref.Name,
				Reason: "non-nullable reference is unset",
			}
		}
		target, ok := value.(string)
		if !ok {
			return &ValidationError{
				EntityType: t.Name, EntityID: id, Field: ref.Name,
				Reason: fmt.Sprintf("reference value %v is not an entity id", value),
			}
		}
		_, exists, err := d.Get(ctx, ref.Target, target)
		if err != nil {
			return err
		}
		if !exists {
			return &ValidationError{
				EntityType: t.Name, EntityID: id, Field: ref.Name,
				Reason: fmt.Sprintf("referenced %s %q does not exist", ref.Target, target),
			}
		}
	}

	// A missing file is benign during merges; the engine downgrades it.
	for _, field := range t.Files {
		value, ok := state[field]
		if !ok || value == nil {
			continue
		}
		path, ok := value.(string)
		if !ok || path == "" {
			continue
		}
		if d.fileExists != nil && !d.fileExists(path) {
			return &ValidationError{
				EntityType: t.Name, EntityID: id, Field: field,
				Reason: fmt.Sprintf("file %q does not exist", path),
				Err:    ErrFileMissing,
			}
		}
	}

	return nil
}

// valueTaken reports whether another entity of the same type already holds
// the value for the given attribute.
func (d *Dataset) valueTaken(ctx context.Context, entityType, id, field string, value any) (bool, error) {
	entities, err := d.All(ctx, entityType)
	if err != nil {
		return false, err
	}
	for _, e := range entities {
		if e.ID == id {
			continue
		}
		if other, ok := e.State[field]; ok && fmt.Sprint(other) == fmt.Sprint(value) {
			return true, nil
		}
	}
	return false, nil
}

// checkNotReferenced rejects deletion of an entity still referenced by a
// non-deleted row, mirroring a restricted FK constraint.
func (d *Dataset) checkNotReferenced(ctx context.Context, entityType, id string) error {
	for _, name := range d.schema.TypeNames() {
		t, err := d.schema.Type(name)
		if err != nil {
			return err
		}
		for _, ref := range t.References {
			if ref.Target != entityType {
				continue
			}
			entities, err := d.All(ctx, name)
			if err != nil {
				return err
			}
			for _, e := range entities {
				if v, ok := e.State[ref.Name]; ok && v == id {
					return &ValidationError{
						EntityType: entityType, EntityID: id, Field: ref.Name,
						Reason: fmt.Sprintf("still referenced by %s %q", name, e.ID),
					}
				}
			}
		}
	}
	return nil
}
