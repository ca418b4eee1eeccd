package branch

import (
	"context"
	"errors"

	"github.com/kilupskalvis/relbranch/internal/models"
	"github.com/kilupskalvis/relbranch/internal/store"
)

// diffUpdater keeps the three-way change diffs current. The changelog calls
// it synchronously after every append: branch-scoped records maintain the
// branch's own diff rows, primary-scoped records refresh the Current state on
// every ready branch's diff for the touched entity.
type diffUpdater struct {
	svc *Service
}

func (u *diffUpdater) RecordMutation(rec *models.MutationRecord) error {
	ctx := context.Background()
	if rec.Scope == models.ScopePrimary {
		return u.refreshCurrent(ctx, rec)
	}
	return u.updateBranchDiff(ctx, rec)
}

// refreshCurrent propagates a primary-side mutation into the Current state
// of every open branch's diff for the entity, surfacing new conflicts as the
// primary dataset drifts.
func (u *diffUpdater) refreshCurrent(ctx context.Context, rec *models.MutationRecord) error {
	diffs, err := u.svc.Primary.ListDiffsForEntity(ctx, rec.EntityType, rec.EntityID)
	if err != nil {
		return err
	}
	for _, d := range diffs {
		if d.Action == models.ActionCreate {
			// The entity only exists inside the branch; there is no
			// primary-side state to track.
			continue
		}
		d.Current = rec.PostState
		if err := u.svc.Primary.SaveDiff(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// updateBranchDiff folds a branch-side mutation into the branch's diff row
// for the entity, creating the row on first touch. A delete of an entity the
// branch itself created leaves no net change and removes the row.
func (u *diffUpdater) updateBranchDiff(ctx context.Context, rec *models.MutationRecord) error {
	b, err := u.svc.Primary.GetBranchByStoreID(ctx, rec.Scope)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Scope does not belong to a live branch; nothing to track.
			return nil
		}
		return err
	}

	d, err := u.svc.Primary.GetDiff(ctx, b.Name, rec.EntityType, rec.EntityID)
	if err != nil {
		return err
	}

	if d == nil {
		current, _, err := u.svc.Primary.Dataset().Get(ctx, rec.EntityType, rec.EntityID)
		if err != nil {
			return err
		}
		d = &models.ChangeDiff{
			Branch:     b.Name,
			EntityType: rec.EntityType,
			EntityID:   rec.EntityID,
			Action:     rec.Action,
			Original:   rec.PreState,
			Modified:   rec.PostState,
			Current:    current,
		}
		return u.svc.Primary.SaveDiff(ctx, d)
	}

	switch {
	case d.Action == models.ActionCreate && rec.Action == models.ActionDelete:
		return u.svc.Primary.DeleteDiff(ctx, b.Name, rec.EntityType, rec.EntityID)
	case rec.Action == models.ActionDelete:
		d.Action = models.ActionDelete
		d.Modified = nil
	default:
		// The action sticks at create while the branch keeps editing its
		// own new entity; plain updates just advance the modified state.
		d.Modified = rec.PostState
	}
	return u.svc.Primary.SaveDiff(ctx, d)
}
