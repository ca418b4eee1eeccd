package branch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kilupskalvis/relbranch/internal/engine"
	"github.com/kilupskalvis/relbranch/internal/models"
	"github.com/kilupskalvis/relbranch/internal/store"
)

// Create registers a new branch in the new state, subject to the configured
// branch limits. Provision must run before the branch accepts writes.
func (s *Service) Create(ctx context.Context, name, owner string, strategy models.MergeStrategyName) (*models.Branch, error) {
	if name == "" {
		return nil, fmt.Errorf("branch name is required")
	}
	if strategy == "" {
		strategy = s.Config.Strategy()
	}
	if _, err := engine.ForName(strategy); err != nil {
		return nil, err
	}

	if s.Config.MaxBranches > 0 {
		n, err := s.Primary.CountBranches(ctx)
		if err != nil {
			return nil, err
		}
		if n >= s.Config.MaxBranches {
			return nil, fmt.Errorf("branch limit reached (%d): archive or delete a branch first", s.Config.MaxBranches)
		}
	}
	if s.Config.MaxWorkingBranches > 0 {
		n, err := s.Primary.CountWorkingBranches(ctx)
		if err != nil {
			return nil, err
		}
		if n >= s.Config.MaxWorkingBranches {
			return nil, fmt.Errorf("working branch limit reached (%d): merge or archive a branch first", s.Config.MaxWorkingBranches)
		}
	}

	b := &models.Branch{
		Name:      name,
		Owner:     owner,
		Status:    models.StatusNew,
		StoreID:   models.GenerateStoreID(),
		Strategy:  strategy,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Primary.CreateBranch(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Provision builds the branch's isolated store as a full copy of the primary
// dataset and moves the branch to ready.
func (s *Service) Provision(ctx context.Context, name string) error {
	b, err := s.Primary.GetBranch(ctx, name)
	if err != nil {
		return err
	}
	if b.Status != models.StatusNew {
		return fmt.Errorf("branch %q is %s, only new branches can be provisioned", name, b.Status)
	}

	return s.runJob(ctx, b, models.StatusProvisioning, models.StatusReady, func(ctx context.Context) error {
		bs, err := s.Prov.CreateIsolatedStore(ctx, b.StoreID, s.Primary)
		if err != nil {
			return err
		}
		defer bs.Close()
		b.LastSync = time.Now().UTC()
		return s.Primary.RecordEvent(ctx, b.Name, b.Owner, models.EventProvisioned)
	})
}

// Sync replays primary-side changes made since the branch's last sync into
// the branch's isolated store, chronologically. Sync always replays record
// by record, regardless of the branch's merge strategy.
func (s *Service) Sync(ctx context.Context, name string, dryRun bool) error {
	b, err := s.Primary.GetBranch(ctx, name)
	if err != nil {
		return err
	}
	if !b.Ready() {
		return fmt.Errorf("branch %q is %s, only ready branches can sync", name, b.Status)
	}
	if err := s.checkStale(b); err != nil {
		return err
	}

	return s.runJob(ctx, b, models.StatusSyncing, models.StatusReady, func(ctx context.Context) error {
		all, err := s.Changelog.RecordsFor(models.ScopePrimary, s.syncBaseline(b))
		if err != nil {
			return err
		}
		// Records this branch contributed to the primary history through a
		// merge or a revert are already reflected in its isolated store.
		var records []*models.MutationRecord
		for _, rec := range all {
			if rec.SourceBranch == b.Name {
				continue
			}
			records = append(records, rec)
		}

		bs, err := s.Prov.OpenIsolatedStore(b.StoreID)
		if err != nil {
			return err
		}
		defer bs.Close()

		err = withTransaction(ctx, bs, dryRun, func(ds *store.Dataset) error {
			for _, rec := range records {
				if err := engine.ApplyRecord(ctx, ds, rec, s.Logger); err != nil {
					return fmt.Errorf("sync record %s (%s): %w", rec.Key(), rec.Action, err)
				}
			}
			return nil
		})
		if errors.Is(err, engine.ErrAbortTransaction) {
			s.Logger.Info("sync dry run succeeded", "branch", b.Name, "records", len(records))
			return nil
		}
		if err != nil {
			return err
		}

		if err := s.rebuildTrees(ctx, bs, engine.TouchedEntityTypes(records)); err != nil {
			return err
		}
		b.LastSync = time.Now().UTC()
		s.Logger.Info("branch synced", "branch", b.Name, "records", len(records))
		return s.Primary.RecordEvent(ctx, b.Name, b.Owner, models.EventSynced)
	})
}

// MergeOptions tunes a merge run.
type MergeOptions struct {
	// DryRun applies the merge inside a transaction that is always rolled
	// back, validating the branch without touching the primary dataset.
	DryRun bool

	// Strict fails the merge while any of the branch's diffs carry
	// unresolved conflicts. By default conflicts are advisory: they are
	// logged and the branch's values win.
	Strict bool
}

// Merge replays the branch's history onto the primary dataset using the
// branch's merge strategy. On success the branch moves to merged; its
// records are republished into the primary changelog so open branches see
// them, and provenance rows link each record to this branch.
func (s *Service) Merge(ctx context.Context, name, actor string, opts MergeOptions) error {
	b, err := s.Primary.GetBranch(ctx, name)
	if err != nil {
		return err
	}
	if !b.Ready() {
		return fmt.Errorf("branch %q is %s, only ready branches can merge", name, b.Status)
	}
	if err := s.checkStale(b); err != nil {
		return err
	}
	conflicted, err := s.conflictedDiffs(ctx, b)
	if err != nil {
		return err
	}
	if len(conflicted) > 0 {
		if opts.Strict {
			return fmt.Errorf("branch %q has unresolved conflicts: %s", b.Name, strings.Join(conflicted, "; "))
		}
		s.Logger.Warn("merging with unresolved conflicts, branch values win",
			"branch", b.Name, "entities", strings.Join(conflicted, "; "))
	}

	strategy, err := engine.ForName(b.Strategy)
	if err != nil {
		return err
	}
	records, err := s.Changelog.RecordsFor(b.StoreID, time.Time{})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("branch %q has no changes to merge", name)
	}

	done := models.StatusMerged
	if opts.DryRun {
		done = models.StatusReady
	}
	return s.runJob(ctx, b, models.StatusMerging, done, func(ctx context.Context) error {
		err := withTransaction(ctx, s.Primary, opts.DryRun, func(ds *store.Dataset) error {
			return strategy.Merge(ctx, &engine.MergeInput{
				Records: records,
				Store:   ds,
				Schema:  s.Schema,
				Logger:  s.Logger,
			})
		})
		if errors.Is(err, engine.ErrAbortTransaction) {
			s.Logger.Info("merge dry run succeeded", "branch", b.Name, "strategy", b.Strategy)
			return nil
		}
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, rec := range records {
			if err := s.Primary.RecordApplied(ctx, b.Name, rec.ID, now); err != nil {
				return err
			}
			if err := s.republish(rec, b.Name, now); err != nil {
				return err
			}
		}
		if err := s.rebuildTrees(ctx, s.Primary, engine.TouchedEntityTypes(records)); err != nil {
			return err
		}

		b.MergedTime = now
		b.MergedBy = actor
		s.Logger.Info("branch merged", "branch", b.Name, "strategy", b.Strategy, "records", len(records))
		return s.Primary.RecordEvent(ctx, b.Name, actor, models.EventMerged)
	})
}

// Revert undoes a merged branch's records on the primary dataset in reverse
// order and returns the branch to ready so it can be corrected and merged
// again.
func (s *Service) Revert(ctx context.Context, name, actor string, dryRun bool) error {
	b, err := s.Primary.GetBranch(ctx, name)
	if err != nil {
		return err
	}
	if !b.Merged() {
		return fmt.Errorf("branch %q is %s, only merged branches can be reverted", name, b.Status)
	}

	strategy, err := engine.ForName(b.Strategy)
	if err != nil {
		return err
	}
	records, err := s.Changelog.RecordsFor(b.StoreID, time.Time{})
	if err != nil {
		return err
	}

	done := models.StatusReady
	if dryRun {
		done = models.StatusMerged
	}
	return s.runJob(ctx, b, models.StatusReverting, done, func(ctx context.Context) error {
		err := withTransaction(ctx, s.Primary, dryRun, func(ds *store.Dataset) error {
			return strategy.Revert(ctx, &engine.MergeInput{
				Records: records,
				Store:   ds,
				Schema:  s.Schema,
				Logger:  s.Logger,
			})
		})
		if errors.Is(err, engine.ErrAbortTransaction) {
			s.Logger.Info("revert dry run succeeded", "branch", b.Name)
			return nil
		}
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		for i := len(records) - 1; i >= 0; i-- {
			if err := s.republish(invertRecord(records[i]), b.Name, now); err != nil {
				return err
			}
		}
		if err := s.Primary.DeleteAppliedRecords(ctx, b.Name); err != nil {
			return err
		}
		if err := s.rebuildTrees(ctx, s.Primary, engine.TouchedEntityTypes(records)); err != nil {
			return err
		}

		b.MergedTime = time.Time{}
		b.MergedBy = ""
		s.Logger.Info("branch reverted", "branch", b.Name, "records", len(records))
		return s.Primary.RecordEvent(ctx, b.Name, actor, models.EventReverted)
	})
}

// Archive retires a merged branch: its isolated store and changelog scope
// are dropped, while diffs and provenance rows remain for audit.
func (s *Service) Archive(ctx context.Context, name, actor string) error {
	b, err := s.Primary.GetBranch(ctx, name)
	if err != nil {
		return err
	}
	if !b.Merged() {
		return fmt.Errorf("branch %q is %s, only merged branches can be archived", name, b.Status)
	}

	if err := s.Prov.DropIsolatedStore(b.StoreID); err != nil {
		return err
	}
	if err := s.Changelog.DropScope(b.StoreID); err != nil {
		return err
	}
	b.Status = models.StatusArchived
	if err := s.Primary.UpdateBranch(ctx, b); err != nil {
		return err
	}
	s.Logger.Info("branch archived", "branch", b.Name)
	return s.Primary.RecordEvent(ctx, b.Name, actor, models.EventArchived)
}

// Remove deletes a branch outright: isolated store, changelog scope, diff
// rows, and the branch row itself. Branches in a transitional state cannot
// be removed while a job may still be operating on them.
func (s *Service) Remove(ctx context.Context, name string) error {
	b, err := s.Primary.GetBranch(ctx, name)
	if err != nil {
		return err
	}
	if b.Status.IsTransitional() {
		return fmt.Errorf("branch %q is %s and cannot be deleted until the job finishes", name, b.Status)
	}

	if err := s.Prov.DropIsolatedStore(b.StoreID); err != nil {
		return err
	}
	if err := s.Changelog.DropScope(b.StoreID); err != nil {
		return err
	}
	if err := s.Primary.DeleteDiffsForBranch(ctx, name); err != nil {
		return err
	}
	if err := s.Primary.DeleteBranch(ctx, name); err != nil {
		return err
	}
	s.Logger.Info("branch deleted", "branch", name)
	return nil
}

// syncBaseline is the cutoff for primary records a sync must replay. Before
// the first sync the provisioning copy already contains everything up to the
// branch's creation.
func (s *Service) syncBaseline(b *models.Branch) time.Time {
	if !b.LastSync.IsZero() {
		return b.LastSync
	}
	return b.CreatedAt
}

// checkStale refuses to sync or merge a branch whose view of the primary
// dataset is older than the changelog retention window; the records it would
// need may already be gone.
func (s *Service) checkStale(b *models.Branch) error {
	days := s.Config.ChangelogRetentionDays
	if days <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	if s.syncBaseline(b).Before(cutoff) {
		return fmt.Errorf("branch %q has not synced within %d days and is stale", b.Name, days)
	}
	return nil
}

// conflictedDiffs describes the branch diffs carrying unresolved conflicts,
// one entry per entity.
func (s *Service) conflictedDiffs(ctx context.Context, b *models.Branch) ([]string, error) {
	diffs, err := s.Primary.ListDiffsForBranch(ctx, b.Name)
	if err != nil {
		return nil, err
	}
	var conflicted []string
	for _, d := range diffs {
		if len(d.Conflicts) > 0 {
			conflicted = append(conflicted, fmt.Sprintf("%s/%s (%s)", d.EntityType, d.EntityID, strings.Join(d.Conflicts, ", ")))
		}
	}
	return conflicted, nil
}

// republish appends a copy of a branch record to the primary scope so the
// merged mutation enters the primary history. The record keeps its ID and
// provenance fields; its time becomes the moment it landed on primary, and it
// is tagged with the branch it came from so that branch's own syncs can skip
// it.
func (s *Service) republish(rec *models.MutationRecord, branchName string, at time.Time) error {
	copied := *rec
	copied.Scope = models.ScopePrimary
	copied.Time = at
	copied.Seq = 0
	copied.SourceBranch = branchName
	return s.Changelog.Append(&copied)
}

// invertRecord builds the mutation that undoes rec.
func invertRecord(rec *models.MutationRecord) *models.MutationRecord {
	inverse := &models.MutationRecord{
		ID:         uuid.NewString(),
		Scope:      rec.Scope,
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		RequestID:  rec.RequestID,
		Actor:      rec.Actor,
	}
	switch rec.Action {
	case models.ActionCreate:
		inverse.Action = models.ActionDelete
		inverse.PreState = rec.PostState
	case models.ActionDelete:
		inverse.Action = models.ActionCreate
		inverse.PostState = rec.PreState
	default:
		inverse.Action = models.ActionUpdate
		inverse.PreState = rec.PostState
		inverse.PostState = rec.PreState
	}
	return inverse
}

// rebuildTrees refreshes the hierarchy cache of every touched tree type.
func (s *Service) rebuildTrees(ctx context.Context, st *store.Store, touched []string) error {
	for _, name := range touched {
		t, err := s.Schema.Type(name)
		if err != nil || !t.Tree {
			continue
		}
		if err := st.RebuildTree(ctx, name); err != nil {
			return fmt.Errorf("rebuild %s hierarchy: %w", name, err)
		}
	}
	return nil
}

// withTransaction runs fn inside a transaction on st. A dry run always rolls
// back and reports ErrAbortTransaction so callers can treat the rollback as
// a successful validation.
func withTransaction(ctx context.Context, st *store.Store, dryRun bool, fn func(ds *store.Dataset) error) error {
	ds, tx, err := st.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(ds); err != nil {
		rollback(tx)
		return err
	}
	if dryRun {
		rollback(tx)
		return engine.ErrAbortTransaction
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}
