package engine

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/kilupskalvis/relbranch/internal/models"
	"github.com/kilupskalvis/relbranch/internal/schema"
)

// MergeInput carries everything a strategy needs to replay one branch's
// history against a destination store. Records must be in chronological
// order. The destination is typically a transaction-bound dataset so the
// caller can commit or roll back the whole merge.
type MergeInput struct {
	Records []*models.MutationRecord
	Store   EntityStore
	Schema  *schema.Schema
	Logger  *log.Logger

	// Applied, when set, is invoked for every record the merge accounted
	// for, so callers can persist provenance.
	Applied func(rec *models.MutationRecord) error
}

// Strategy replays a branch's mutation history onto a destination store, and
// undoes a previous replay of the same history.
type Strategy interface {
	Name() models.MergeStrategyName
	Merge(ctx context.Context, in *MergeInput) error
	Revert(ctx context.Context, in *MergeInput) error
}

// ForName returns the strategy implementation for a name. The set is closed;
// an unknown name is a configuration error.
func ForName(name models.MergeStrategyName) (Strategy, error) {
	switch name {
	case models.StrategyIterative:
		return IterativeStrategy{}, nil
	case models.StrategySquash:
		return SquashStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown merge strategy %q", name)
	}
}

// undoRecords reverses a record stream in reverse chronological order,
// restoring the destination to its state before the records applied.
func undoRecords(ctx context.Context, es EntityStore, records []*models.MutationRecord, logger *log.Logger) error {
	for i := len(records) - 1; i >= 0; i-- {
		if err := UndoRecord(ctx, es, records[i], logger); err != nil {
			return fmt.Errorf("undo record %s: %w", records[i].Key(), err)
		}
	}
	return nil
}

// TouchedEntityTypes returns the distinct entity types a record stream
// mutated, in first-touched order. Used to decide which hierarchy caches
// need rebuilding afterwards.
func TouchedEntityTypes(records []*models.MutationRecord) []string {
	seen := make(map[string]bool)
	var types []string
	for _, rec := range records {
		if !seen[rec.EntityType] {
			seen[rec.EntityType] = true
			types = append(types, rec.EntityType)
		}
	}
	return types
}

func markApplied(in *MergeInput) error {
	if in.Applied == nil {
		return nil
	}
	for _, rec := range in.Records {
		if err := in.Applied(rec); err != nil {
			return err
		}
	}
	return nil
}
