package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/relbranch/internal/models"
	"github.com/kilupskalvis/relbranch/internal/schema"
	"github.com/kilupskalvis/relbranch/internal/store"
)

func newEngineStore(t *testing.T, sch *schema.Schema) *store.Store {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"), sch)
	require.NoError(t, err)
	require.NoError(t, st.Initialize())
	t.Cleanup(func() { st.Close() })
	return st
}

func TestForName(t *testing.T) {
	s, err := ForName(models.StrategyIterative)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyIterative, s.Name())

	s, err = ForName(models.StrategySquash)
	require.NoError(t, err)
	assert.Equal(t, models.StrategySquash, s.Name())

	_, err = ForName("rebase")
	assert.Error(t, err)
}

// The branch renamed a slug through a value the primary dataset has since
// claimed. Replaying history verbatim trips the uniqueness constraint on the
// transient value; collapsing first goes straight to the end state.
func TestMerge_TransientSlugCollision(t *testing.T) {
	sch := engineSchema(t)
	records := []*models.MutationRecord{
		rec("site", "s1", models.ActionUpdate,
			map[string]any{"name": "One", "slug": "x"},
			map[string]any{"name": "One", "slug": "y"}),
		rec("site", "s1", models.ActionUpdate,
			map[string]any{"name": "One", "slug": "y"},
			map[string]any{"name": "One", "slug": "z"}),
	}

	setup := func(t *testing.T) *store.Store {
		st := newEngineStore(t, sch)
		ctx := context.Background()
		require.NoError(t, st.Dataset().Insert(ctx, "site", "s1",
			map[string]any{"name": "One", "slug": "x"}))
		// Claimed on the primary side after the branch diverged
		require.NoError(t, st.Dataset().Insert(ctx, "site", "s2",
			map[string]any{"name": "Two", "slug": "y"}))
		return st
	}

	t.Run("iterative fails on the transient value", func(t *testing.T) {
		st := setup(t)
		err := IterativeStrategy{}.Merge(context.Background(), &MergeInput{
			Records: records,
			Store:   st.Dataset(),
			Schema:  sch,
			Logger:  testLogger(),
		})
		var verr *store.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "slug", verr.Field)
	})

	t.Run("squash goes straight to the end state", func(t *testing.T) {
		st := setup(t)
		err := SquashStrategy{}.Merge(context.Background(), &MergeInput{
			Records: records,
			Store:   st.Dataset(),
			Schema:  sch,
			Logger:  testLogger(),
		})
		require.NoError(t, err)

		state, _, err := st.Dataset().Get(context.Background(), "site", "s1")
		require.NoError(t, err)
		assert.Equal(t, "z", state["slug"])
	})
}

// The branch deleted a site and created a replacement reusing its slug. The
// scheduler puts the delete first so the unique value is free again.
func TestMerge_SquashReusesReleasedSlug(t *testing.T) {
	sch := engineSchema(t)
	st := newEngineStore(t, sch)
	ctx := context.Background()
	require.NoError(t, st.Dataset().Insert(ctx, "site", "s1",
		map[string]any{"name": "Old", "slug": "shared"}))

	err := SquashStrategy{}.Merge(ctx, &MergeInput{
		Records: []*models.MutationRecord{
			rec("site", "s2", models.ActionCreate, nil,
				map[string]any{"name": "New", "slug": "shared"}),
			rec("site", "s1", models.ActionDelete,
				map[string]any{"name": "Old", "slug": "shared"}, nil),
		},
		Store:  st.Dataset(),
		Schema: sch,
		Logger: testLogger(),
	})
	require.NoError(t, err)

	_, ok, err := st.Dataset().Get(ctx, "site", "s1")
	require.NoError(t, err)
	assert.False(t, ok)
	state, ok, err := st.Dataset().Get(ctx, "site", "s2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "shared", state["slug"])
}

func TestMerge_AppliedCallback(t *testing.T) {
	sch := engineSchema(t)
	st := newEngineStore(t, sch)

	records := []*models.MutationRecord{
		rec("site", "s1", models.ActionCreate, nil, map[string]any{"name": "One", "slug": "one"}),
		rec("site", "s1", models.ActionUpdate,
			map[string]any{"name": "One", "slug": "one"},
			map[string]any{"name": "One!", "slug": "one"}),
	}

	var applied []string
	err := SquashStrategy{}.Merge(context.Background(), &MergeInput{
		Records: records,
		Store:   st.Dataset(),
		Schema:  sch,
		Logger:  testLogger(),
		Applied: func(rec *models.MutationRecord) error {
			applied = append(applied, rec.ID)
			return nil
		},
	})
	require.NoError(t, err)
	// Every folded record is accounted for, not just one per operation
	assert.Len(t, applied, 2)
}

// Merging and then reverting restores the pre-merge state for updates,
// deletes, creates, and collapsed histories, under both strategies.
func TestRevert_RoundTrip(t *testing.T) {
	sch := engineSchema(t)
	records := []*models.MutationRecord{
		rec("site", "s1", models.ActionUpdate,
			map[string]any{"name": "Keep", "slug": "keep"},
			map[string]any{"name": "Kept", "slug": "keep"}),
		rec("site", "s2", models.ActionDelete,
			map[string]any{"name": "Doomed", "slug": "doomed"}, nil),
		rec("site", "s3", models.ActionCreate, nil,
			map[string]any{"name": "Fresh", "slug": "fresh"}),
		rec("site", "s4", models.ActionCreate, nil,
			map[string]any{"name": "Temp", "slug": "temp"}),
		rec("site", "s4", models.ActionDelete,
			map[string]any{"name": "Temp", "slug": "temp"}, nil),
	}

	for _, strategy := range []Strategy{IterativeStrategy{}, SquashStrategy{}} {
		t.Run(string(strategy.Name()), func(t *testing.T) {
			st := newEngineStore(t, sch)
			ctx := context.Background()
			ds := st.Dataset()
			require.NoError(t, ds.Insert(ctx, "site", "s1", map[string]any{"name": "Keep", "slug": "keep"}))
			require.NoError(t, ds.Insert(ctx, "site", "s2", map[string]any{"name": "Doomed", "slug": "doomed"}))

			in := &MergeInput{Records: records, Store: ds, Schema: sch, Logger: testLogger()}
			require.NoError(t, strategy.Merge(ctx, in))
			require.NoError(t, strategy.Revert(ctx, in))

			state, ok, err := ds.Get(ctx, "site", "s1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "Keep", state["name"])

			state, ok, err = ds.Get(ctx, "site", "s2")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "Doomed", state["name"])

			for _, id := range []string{"s3", "s4"} {
				_, ok, err = ds.Get(ctx, "site", id)
				require.NoError(t, err)
				assert.False(t, ok)
			}
		})
	}
}

func TestApplyRecord_MissingFileIsBenign(t *testing.T) {
	sch, err := schema.New(&schema.EntityType{Name: "image", Files: []string{"path"}})
	require.NoError(t, err)
	st := newEngineStore(t, sch)
	st.FileExists = func(string) bool { return false }
	ctx := context.Background()

	err = ApplyRecord(ctx, st.Dataset(),
		rec("image", "i1", models.ActionCreate, nil, map[string]any{"path": "gone.img"}),
		testLogger())
	require.NoError(t, err)

	_, ok, err := st.Dataset().Get(ctx, "image", "i1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTouchedEntityTypes(t *testing.T) {
	types := TouchedEntityTypes([]*models.MutationRecord{
		rec("site", "s1", models.ActionCreate, nil, nil),
		rec("device", "d1", models.ActionCreate, nil, nil),
		rec("site", "s2", models.ActionCreate, nil, nil),
	})
	assert.Equal(t, []string{"site", "device"}, types)
}
