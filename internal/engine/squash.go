package engine

import (
	"context"
	"fmt"

	"github.com/kilupskalvis/relbranch/internal/models"
)

// SquashStrategy collapses the branch's history to one net operation per
// entity, orders those operations by their reference dependencies, and
// applies each once. Intermediate states never touch the destination, which
// lets the merge succeed where replaying history verbatim would violate a
// uniqueness or reference constraint that only held transiently.
type SquashStrategy struct{}

func (SquashStrategy) Name() models.MergeStrategyName {
	return models.StrategySquash
}

func (SquashStrategy) Merge(ctx context.Context, in *MergeInput) error {
	c, err := Collapse(in.Records, in.Logger)
	if err != nil {
		return fmt.Errorf("collapse records: %w", err)
	}
	if err := BuildGraph(c, in.Schema, in.Logger); err != nil {
		return fmt.Errorf("build dependency graph: %w", err)
	}
	scheduled, err := Schedule(c)
	if err != nil {
		return err
	}

	in.Logger.Debug("replaying collapsed operations",
		"records", len(in.Records), "operations", len(scheduled))
	for _, op := range scheduled {
		if err := ApplyOperation(ctx, in.Store, op, in.Logger); err != nil {
			return fmt.Errorf("apply %s %s: %w", op.Action, op.Key, err)
		}
	}
	return markApplied(in)
}

// Revert undoes the same collapsed, ordered sequence in reverse.
func (SquashStrategy) Revert(ctx context.Context, in *MergeInput) error {
	c, err := Collapse(in.Records, in.Logger)
	if err != nil {
		return fmt.Errorf("collapse records: %w", err)
	}
	if err := BuildGraph(c, in.Schema, in.Logger); err != nil {
		return fmt.Errorf("build dependency graph: %w", err)
	}
	scheduled, err := Schedule(c)
	if err != nil {
		return err
	}

	for i := len(scheduled) - 1; i >= 0; i-- {
		op := scheduled[i]
		if err := UndoOperation(ctx, in.Store, op, in.Logger); err != nil {
			return fmt.Errorf("undo %s %s: %w", op.Action, op.Key, err)
		}
	}
	return nil
}
