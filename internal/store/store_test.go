package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/relbranch/internal/models"
	"github.com/kilupskalvis/relbranch/internal/schema"
)

// testSchema builds a small registry covering uniqueness, references,
// hierarchy, and file-kind fields.
func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	sch, err := schema.New(
		&schema.EntityType{
			Name:     "site",
			Unique:   []string{"slug"},
			Required: []string{"name", "slug"},
		},
		&schema.EntityType{
			Name:     "device",
			Required: []string{"name"},
			References: []schema.ReferenceField{
				{Name: "site", Target: "site"},
			},
		},
		&schema.EntityType{
			Name: "region",
			Tree: true,
			References: []schema.ReferenceField{
				{Name: "parent", Target: "region", Nullable: true},
			},
		},
		&schema.EntityType{
			Name:  "image",
			Files: []string{"path"},
		},
	)
	require.NoError(t, err)
	return sch
}

// newTestStore creates a new SQLite store in a temp directory for testing.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := New(dbPath, testSchema(t))
	require.NoError(t, err)
	require.NoError(t, st.Initialize())
	t.Cleanup(func() { st.Close() })
	return st
}

func site(name, slug string) map[string]any {
	return map[string]any{"name": name, "slug": slug}
}

// ==================== Entity Tests ====================

func TestDataset_InsertAndGet(t *testing.T) {
	st := newTestStore(t)
	ds := st.Dataset()
	ctx := context.Background()

	require.NoError(t, ds.Insert(ctx, "site", "s1", site("Main", "main")))

	state, ok, err := ds.Get(ctx, "site", "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Main", state["name"])

	_, ok, err = ds.Get(ctx, "site", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDataset_UpdateFields(t *testing.T) {
	st := newTestStore(t)
	ds := st.Dataset()
	ctx := context.Background()

	require.NoError(t, ds.Insert(ctx, "site", "s1", site("Main", "main")))
	require.NoError(t, ds.UpdateFields(ctx, "site", "s1", map[string]any{"name": "Renamed"}))

	state, _, err := ds.Get(ctx, "site", "s1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", state["name"])
	assert.Equal(t, "main", state["slug"])

	err = ds.UpdateFields(ctx, "site", "missing", map[string]any{"name": "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDataset_DeleteIdempotent(t *testing.T) {
	st := newTestStore(t)
	ds := st.Dataset()
	ctx := context.Background()

	require.NoError(t, ds.Insert(ctx, "site", "s1", site("Main", "main")))

	found, err := ds.Delete(ctx, "site", "s1")
	require.NoError(t, err)
	assert.True(t, found)

	// Deleting again is not an error
	found, err = ds.Delete(ctx, "site", "s1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDataset_RequiredField(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.Dataset().Insert(ctx, "site", "s1", map[string]any{"name": "Main"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "slug", verr.Field)
}

func TestDataset_UniqueConstraint(t *testing.T) {
	st := newTestStore(t)
	ds := st.Dataset()
	ctx := context.Background()

	require.NoError(t, ds.Insert(ctx, "site", "s1", site("One", "shared")))

	err := ds.Insert(ctx, "site", "s2", site("Two", "shared"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "slug", verr.Field)

	// Once the first holder is gone the value is free again
	_, err = ds.Delete(ctx, "site", "s1")
	require.NoError(t, err)
	assert.NoError(t, ds.Insert(ctx, "site", "s2", site("Two", "shared")))
}

func TestDataset_ReferenceIntegrity(t *testing.T) {
	st := newTestStore(t)
	ds := st.Dataset()
	ctx := context.Background()

	err := ds.Insert(ctx, "device", "d1", map[string]any{"name": "core", "site": "nope"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	require.NoError(t, ds.Insert(ctx, "site", "s1", site("Main", "main")))
	require.NoError(t, ds.Insert(ctx, "device", "d1", map[string]any{"name": "core", "site": "s1"}))

	// Referenced entities cannot be deleted
	_, err = ds.Delete(ctx, "site", "s1")
	require.ErrorAs(t, err, &verr)

	_, err = ds.Delete(ctx, "device", "d1")
	require.NoError(t, err)
	_, err = ds.Delete(ctx, "site", "s1")
	assert.NoError(t, err)
}

func TestDataset_FileField(t *testing.T) {
	st := newTestStore(t)
	st.FileExists = func(path string) bool { return path == "present.img" }
	ds := st.Dataset()
	ctx := context.Background()

	require.NoError(t, ds.Insert(ctx, "image", "i1", map[string]any{"path": "present.img"}))

	err := ds.Insert(ctx, "image", "i2", map[string]any{"path": "gone.img"})
	assert.ErrorIs(t, err, ErrFileMissing)

	// Put bypasses validation for replay paths
	assert.NoError(t, ds.Put(ctx, "image", "i2", map[string]any{"path": "gone.img"}))
}

// ==================== Branch Tests ====================

func TestStore_BranchCRUD(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	b := &models.Branch{
		Name:     "feature",
		Owner:    "alice",
		Status:   models.StatusNew,
		StoreID:  "abcd1234",
		Strategy: models.StrategySquash,
	}
	require.NoError(t, st.CreateBranch(ctx, b))

	got, err := st.GetBranch(ctx, "feature")
	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, got.Status)
	assert.Equal(t, "alice", got.Owner)
	assert.False(t, got.CreatedAt.IsZero())

	got.Status = models.StatusReady
	got.LastSync = time.Now().UTC()
	require.NoError(t, st.UpdateBranch(ctx, got))

	got, err = st.GetBranch(ctx, "feature")
	require.NoError(t, err)
	assert.True(t, got.Ready())
	assert.False(t, got.LastSync.IsZero())

	byStore, err := st.GetBranchByStoreID(ctx, "abcd1234")
	require.NoError(t, err)
	assert.Equal(t, "feature", byStore.Name)

	_, err = st.GetBranch(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.DeleteBranch(ctx, "feature"))
	_, err = st.GetBranch(ctx, "feature")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_BranchCounts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, b := range []*models.Branch{
		{Name: "a", Status: models.StatusReady, StoreID: "aaaa0000", Strategy: models.StrategySquash},
		{Name: "b", Status: models.StatusMerged, StoreID: "bbbb0000", Strategy: models.StrategySquash},
		{Name: "c", Status: models.StatusArchived, StoreID: "cccc0000", Strategy: models.StrategySquash},
	} {
		require.NoError(t, st.CreateBranch(ctx, b))
		require.NoError(t, st.UpdateBranch(ctx, b))
	}

	n, err := st.CountBranches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n) // archived excluded

	n, err = st.CountWorkingBranches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n) // only ready counts as working
}

// ==================== Diff Tests ====================

func TestStore_DiffUpsert(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	d := &models.ChangeDiff{
		Branch:     "feature",
		EntityType: "site",
		EntityID:   "s1",
		Action:     models.ActionUpdate,
		Original:   map[string]any{"name": "Main"},
		Modified:   map[string]any{"name": "Branch"},
		Current:    map[string]any{"name": "Main"},
	}
	require.NoError(t, st.SaveDiff(ctx, d))

	got, err := st.GetDiff(ctx, "feature", "site", "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.Conflicts)

	// Primary moves the same attribute to a different value: conflict
	d.Current = map[string]any{"name": "Primary"}
	require.NoError(t, st.SaveDiff(ctx, d))

	got, err = st.GetDiff(ctx, "feature", "site", "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, got.Conflicts)

	missing, err := st.GetDiff(ctx, "feature", "site", "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_ListDiffsForEntity(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, b := range []*models.Branch{
		{Name: "open", Status: models.StatusReady, StoreID: "aaaa1111", Strategy: models.StrategySquash},
		{Name: "done", Status: models.StatusMerged, StoreID: "bbbb1111", Strategy: models.StrategySquash},
	} {
		require.NoError(t, st.CreateBranch(ctx, b))
		require.NoError(t, st.UpdateBranch(ctx, b))
	}
	for _, name := range []string{"open", "done"} {
		require.NoError(t, st.SaveDiff(ctx, &models.ChangeDiff{
			Branch: name, EntityType: "site", EntityID: "s1",
			Action: models.ActionUpdate,
		}))
	}

	diffs, err := st.ListDiffsForEntity(ctx, "site", "s1")
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, "open", diffs[0].Branch)
}

// ==================== Provenance and Event Tests ====================

func TestStore_AppliedRecords(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.RecordApplied(ctx, "feature", "rec-1", now))
	require.NoError(t, st.RecordApplied(ctx, "feature", "rec-2", now))

	records, err := st.AppliedRecords(ctx, "feature")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "rec-1", records[0].RecordID)

	require.NoError(t, st.DeleteAppliedRecords(ctx, "feature"))
	records, err = st.AppliedRecords(ctx, "feature")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStore_Events(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.RecordEvent(ctx, "feature", "alice", models.EventProvisioned))
	require.NoError(t, st.RecordEvent(ctx, "feature", "bob", models.EventMerged))

	events, err := st.Events(ctx, "feature")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventProvisioned, events[0].Type)
	assert.Equal(t, "bob", events[1].Actor)
}

// ==================== Provisioner Tests ====================

func TestProvisioner_SeededCopy(t *testing.T) {
	primary := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, primary.Dataset().Insert(ctx, "site", "s1", site("Main", "main")))

	prov := &Provisioner{Dir: t.TempDir(), Prefix: "branch_", Schema: primary.Schema()}
	bs, err := prov.CreateIsolatedStore(ctx, "abcd1234", primary)
	require.NoError(t, err)
	defer bs.Close()

	state, ok, err := bs.Dataset().Get(ctx, "site", "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Main", state["name"])

	// Branch writes stay isolated
	require.NoError(t, bs.Dataset().Insert(ctx, "site", "s2", site("New", "new")))
	_, ok, err = primary.Dataset().Get(ctx, "site", "s2")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = prov.CreateIsolatedStore(ctx, "abcd1234", primary)
	assert.Error(t, err)

	require.NoError(t, bs.Close())
	require.NoError(t, prov.DropIsolatedStore("abcd1234"))
	assert.False(t, prov.Exists("abcd1234"))
	assert.NoError(t, prov.DropIsolatedStore("abcd1234"))
}

// ==================== Tree Tests ====================

func TestStore_RebuildTree(t *testing.T) {
	st := newTestStore(t)
	ds := st.Dataset()
	ctx := context.Background()

	require.NoError(t, ds.Insert(ctx, "region", "world", map[string]any{"parent": nil}))
	require.NoError(t, ds.Insert(ctx, "region", "europe", map[string]any{"parent": "world"}))
	require.NoError(t, ds.Insert(ctx, "region", "norway", map[string]any{"parent": "europe"}))

	require.NoError(t, st.RebuildTree(ctx, "region"))

	nodes, err := st.TreeNodes(ctx, "region")
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, "world", nodes[0].ID)
	assert.Equal(t, 0, nodes[0].Depth)
	assert.Equal(t, "world/europe/norway", nodes[2].Path)
	assert.Equal(t, 2, nodes[2].Depth)

	err = st.RebuildTree(ctx, "site")
	assert.Error(t, err)
}
