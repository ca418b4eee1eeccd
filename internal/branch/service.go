// Package branch owns the branch lifecycle: creation and provisioning of
// isolated stores, syncing primary changes into a branch, merging and
// reverting a branch against the primary dataset, and keeping the three-way
// conflict diffs current as mutations land.
package branch

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/kilupskalvis/relbranch/internal/changelog"
	"github.com/kilupskalvis/relbranch/internal/config"
	"github.com/kilupskalvis/relbranch/internal/models"
	"github.com/kilupskalvis/relbranch/internal/schema"
	"github.com/kilupskalvis/relbranch/internal/store"
)

// Service coordinates the primary store, the per-branch isolated stores, and
// the shared mutation log.
type Service struct {
	Primary   *store.Store
	Changelog *changelog.Log
	Prov      *store.Provisioner
	Schema    *schema.Schema
	Config    *config.Config
	Logger    *log.Logger
}

// NewService wires a service together and registers the conflict diff hook
// on the changelog.
func NewService(primary *store.Store, cl *changelog.Log, prov *store.Provisioner, sch *schema.Schema, cfg *config.Config, logger *log.Logger) *Service {
	s := &Service{
		Primary:   primary,
		Changelog: cl,
		Prov:      prov,
		Schema:    sch,
		Config:    cfg,
		Logger:    logger,
	}
	cl.SetDiffUpdater(&diffUpdater{svc: s})
	return s
}

// Writer applies entity mutations to one store and logs each one to the
// changelog under the store's scope. All user-facing writes go through a
// Writer so the mutation log stays complete.
type Writer struct {
	scope     string
	actor     string
	requestID string
	ds        *store.Dataset
	log       *changelog.Log
}

// PrimaryWriter returns a writer over the primary dataset.
func (s *Service) PrimaryWriter(actor string) *Writer {
	return &Writer{
		scope:     models.ScopePrimary,
		actor:     actor,
		requestID: uuid.NewString(),
		ds:        s.Primary.Dataset(),
		log:       s.Changelog,
	}
}

// BranchWriter returns a writer over a ready branch's isolated store. The
// returned close function must be called when done.
func (s *Service) BranchWriter(ctx context.Context, name, actor string) (*Writer, func() error, error) {
	b, err := s.Primary.GetBranch(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	if !b.Ready() {
		return nil, nil, fmt.Errorf("branch %q is %s, not ready for writes", name, b.Status)
	}
	bs, err := s.Prov.OpenIsolatedStore(b.StoreID)
	if err != nil {
		return nil, nil, err
	}
	w := &Writer{
		scope:     b.StoreID,
		actor:     actor,
		requestID: uuid.NewString(),
		ds:        bs.Dataset(),
		log:       s.Changelog,
	}
	return w, bs.Close, nil
}

// Create validates and inserts a new entity, logging the mutation.
func (w *Writer) Create(ctx context.Context, entityType, id string, state map[string]any) error {
	if err := w.ds.Insert(ctx, entityType, id, state); err != nil {
		return err
	}
	return w.append(entityType, id, models.ActionCreate, nil, state)
}

// Update overlays fields onto an existing entity, logging the mutation with
// the full pre- and post-states.
func (w *Writer) Update(ctx context.Context, entityType, id string, fields map[string]any) error {
	pre, ok, err := w.ds.Get(ctx, entityType, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("update %s/%s: %w", entityType, id, store.ErrNotFound)
	}
	if err := w.ds.UpdateFields(ctx, entityType, id, fields); err != nil {
		return err
	}
	post, _, err := w.ds.Get(ctx, entityType, id)
	if err != nil {
		return err
	}
	return w.append(entityType, id, models.ActionUpdate, pre, post)
}

// Delete removes an entity, logging the mutation with its final pre-state.
func (w *Writer) Delete(ctx context.Context, entityType, id string) error {
	pre, ok, err := w.ds.Get(ctx, entityType, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("delete %s/%s: %w", entityType, id, store.ErrNotFound)
	}
	if _, err := w.ds.Delete(ctx, entityType, id); err != nil {
		return err
	}
	return w.append(entityType, id, models.ActionDelete, pre, nil)
}

func (w *Writer) append(entityType, id string, action models.Action, pre, post map[string]any) error {
	return w.log.Append(&models.MutationRecord{
		ID:         uuid.NewString(),
		Scope:      w.scope,
		EntityType: entityType,
		EntityID:   id,
		Action:     action,
		PreState:   pre,
		PostState:  post,
		Time:       time.Now().UTC(),
		RequestID:  w.requestID,
		Actor:      w.actor,
	})
}
