package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/charmbracelet/log"

	"github.com/kilupskalvis/relbranch/internal/models"
	"github.com/kilupskalvis/relbranch/internal/store"
)

// EntityStore is the mutation surface the engine replays against. Both the
// primary dataset and a branch's isolated store satisfy it through their
// transaction-bound handles.
type EntityStore interface {
	Get(ctx context.Context, entityType, id string) (map[string]any, bool, error)
	Insert(ctx context.Context, entityType, id string, state map[string]any) error
	UpdateFields(ctx context.Context, entityType, id string, fields map[string]any) error
	Put(ctx context.Context, entityType, id string, state map[string]any) error
	Delete(ctx context.Context, entityType, id string) (bool, error)
}

// ApplyOperation replays one collapsed operation. Updates write only the
// fields that actually changed between the pre- and post-state, so untouched
// attributes keep whatever value the destination holds.
func ApplyOperation(ctx context.Context, es EntityStore, op *CollapsedOperation, logger *log.Logger) error {
	switch op.Action {
	case models.ActionCreate:
		return applyCreate(ctx, es, op.Key.EntityType, op.Key.EntityID, op.PostState, logger)
	case models.ActionUpdate:
		return applyUpdate(ctx, es, op.Key.EntityType, op.Key.EntityID,
			changedFields(op.PreState, op.PostState), logger)
	case models.ActionDelete:
		return applyDelete(ctx, es, op.Key.EntityType, op.Key.EntityID, logger)
	case models.ActionSkip:
		return nil
	default:
		return fmt.Errorf("apply %s: unknown action %q", op.Key, op.Action)
	}
}

// ApplyRecord replays one raw mutation record, used by the chronological
// strategy and by branch sync.
func ApplyRecord(ctx context.Context, es EntityStore, rec *models.MutationRecord, logger *log.Logger) error {
	switch rec.Action {
	case models.ActionCreate:
		return applyCreate(ctx, es, rec.EntityType, rec.EntityID, rec.PostState, logger)
	case models.ActionUpdate:
		return applyUpdate(ctx, es, rec.EntityType, rec.EntityID,
			changedFields(rec.PreState, rec.PostState), logger)
	case models.ActionDelete:
		return applyDelete(ctx, es, rec.EntityType, rec.EntityID, logger)
	default:
		return fmt.Errorf("apply %s: unknown action %q", rec.Key(), rec.Action)
	}
}

// UndoOperation reverses one collapsed operation, mirroring ApplyOperation.
func UndoOperation(ctx context.Context, es EntityStore, op *CollapsedOperation, logger *log.Logger) error {
	switch op.Action {
	case models.ActionCreate:
		return applyDelete(ctx, es, op.Key.EntityType, op.Key.EntityID, logger)
	case models.ActionUpdate:
		fields := make(map[string]any)
		for k := range changedFields(op.PreState, op.PostState) {
			fields[k] = op.PreState[k]
		}
		return applyUpdate(ctx, es, op.Key.EntityType, op.Key.EntityID, fields, logger)
	case models.ActionDelete:
		return applyCreate(ctx, es, op.Key.EntityType, op.Key.EntityID, op.PreState, logger)
	case models.ActionSkip:
		return nil
	default:
		return fmt.Errorf("undo %s: unknown action %q", op.Key, op.Action)
	}
}

// UndoRecord reverses one raw mutation record: creations are deleted,
// deletions are re-created from the pre-state, and updates restore the
// pre-state values of the fields they changed. Records must be undone in
// reverse chronological order.
func UndoRecord(ctx context.Context, es EntityStore, rec *models.MutationRecord, logger *log.Logger) error {
	switch rec.Action {
	case models.ActionCreate:
		return applyDelete(ctx, es, rec.EntityType, rec.EntityID, logger)
	case models.ActionUpdate:
		fields := make(map[string]any)
		for k := range changedFields(rec.PreState, rec.PostState) {
			fields[k] = rec.PreState[k]
		}
		return applyUpdate(ctx, es, rec.EntityType, rec.EntityID, fields, logger)
	case models.ActionDelete:
		return applyCreate(ctx, es, rec.EntityType, rec.EntityID, rec.PreState, logger)
	default:
		return fmt.Errorf("undo %s: unknown action %q", rec.Key(), rec.Action)
	}
}

func applyCreate(ctx context.Context, es EntityStore, entityType, id string, state map[string]any, logger *log.Logger) error {
	err := es.Insert(ctx, entityType, id, state)
	if errors.Is(err, store.ErrFileMissing) {
		// File content absent on this system must not block replay.
		logger.Warn("referenced file missing, applying anyway",
			"entity", entityType+"/"+id, "err", err)
		return es.Put(ctx, entityType, id, state)
	}
	return err
}

func applyUpdate(ctx context.Context, es EntityStore, entityType, id string, fields map[string]any, logger *log.Logger) error {
	if len(fields) == 0 {
		return nil
	}
	err := es.UpdateFields(ctx, entityType, id, fields)
	if !errors.Is(err, store.ErrFileMissing) {
		return err
	}
	logger.Warn("referenced file missing, applying anyway",
		"entity", entityType+"/"+id, "err", err)
	state, ok, err := es.Get(ctx, entityType, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("update %s/%s: %w", entityType, id, store.ErrNotFound)
	}
	for k, v := range fields {
		state[k] = v
	}
	return es.Put(ctx, entityType, id, state)
}

func applyDelete(ctx context.Context, es EntityStore, entityType, id string, logger *log.Logger) error {
	found, err := es.Delete(ctx, entityType, id)
	if err != nil {
		return err
	}
	if !found {
		logger.Debug("delete target already absent", "entity", entityType+"/"+id)
	}
	return nil
}

// changedFields returns the post-state values of every field that differs
// from the pre-state, including fields the post-state introduced.
func changedFields(pre, post map[string]any) map[string]any {
	fields := make(map[string]any)
	for k, v := range post {
		if old, ok := pre[k]; !ok || !reflect.DeepEqual(old, v) {
			fields[k] = v
		}
	}
	return fields
}
