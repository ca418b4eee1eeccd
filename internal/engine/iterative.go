package engine

import (
	"context"
	"fmt"

	"github.com/kilupskalvis/relbranch/internal/models"
)

// IterativeStrategy replays every mutation record one at a time in the order
// it happened. The destination ends up having seen the branch's full history,
// including intermediate states, at the cost of tripping over constraints
// that only held transiently inside the branch.
type IterativeStrategy struct{}

func (IterativeStrategy) Name() models.MergeStrategyName {
	return models.StrategyIterative
}

func (IterativeStrategy) Merge(ctx context.Context, in *MergeInput) error {
	for _, rec := range in.Records {
		if err := ApplyRecord(ctx, in.Store, rec, in.Logger); err != nil {
			return fmt.Errorf("apply record %s (%s): %w", rec.Key(), rec.Action, err)
		}
		if in.Applied != nil {
			if err := in.Applied(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func (IterativeStrategy) Revert(ctx context.Context, in *MergeInput) error {
	return undoRecords(ctx, in.Store, in.Records, in.Logger)
}
