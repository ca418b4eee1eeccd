package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/relbranch/internal/models"
	"github.com/kilupskalvis/relbranch/internal/schema"
)

func engineSchema(t *testing.T) *schema.Schema {
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
				{Name: "primary_interface", Target: "interface", Nullable: true},
			},
		},
		&schema.EntityType{
			Name:     "interface",
			Required: []string{"name"},
			References: []schema.ReferenceField{
				{Name: "device", Target: "device"},
			},
		},
	)
	require.NoError(t, err)
	return sch
}

func buildAndSchedule(t *testing.T, sch *schema.Schema, records []*models.MutationRecord) []*CollapsedOperation {
	t.Helper()
	c, err := Collapse(records, testLogger())
	require.NoError(t, err)
	require.NoError(t, BuildGraph(c, sch, testLogger()))
	scheduled, err := Schedule(c)
	require.NoError(t, err)
	return scheduled
}

func keys(ops []*CollapsedOperation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = string(op.Action) + " " + op.Key.String()
	}
	return out
}

func TestBuildGraph_UpdateBeforeDelete(t *testing.T) {
	// The device drops its reference to a site that is also being deleted;
	// the update must land first even though deletes normally go first.
	scheduled := buildAndSchedule(t, engineSchema(t), []*models.MutationRecord{
		rec("site", "s1", models.ActionDelete, map[string]any{"name": "Old", "slug": "old"}, nil),
		rec("device", "d1", models.ActionUpdate,
			map[string]any{"name": "core", "site": "s1"},
			map[string]any{"name": "core", "site": "s2"}),
	})

	assert.Equal(t, []string{
		"update device/d1",
		"delete site/s1",
	}, keys(scheduled))
}

func TestBuildGraph_CreateOrdering(t *testing.T) {
	// The device references a site created in the same branch, and an
	// update gains a reference to the new device.
	scheduled := buildAndSchedule(t, engineSchema(t), []*models.MutationRecord{
		rec("device", "d1", models.ActionCreate, nil,
			map[string]any{"name": "core", "site": "s9"}),
		rec("site", "s9", models.ActionCreate, nil,
			map[string]any{"name": "New", "slug": "new"}),
		rec("interface", "i1", models.ActionUpdate,
			map[string]any{"name": "eth0", "device": "d0"},
			map[string]any{"name": "eth0", "device": "d1"}),
	})

	assert.Equal(t, []string{
		"create site/s9",
		"create device/d1",
		"update interface/i1",
	}, keys(scheduled))
}

func TestBuildGraph_DeleteChildrenFirst(t *testing.T) {
	// The interface still references the device in its final pre-state, so
	// its delete must land before the device's.
	scheduled := buildAndSchedule(t, engineSchema(t), []*models.MutationRecord{
		rec("device", "d1", models.ActionDelete,
			map[string]any{"name": "core", "site": "s1"}, nil),
		rec("interface", "i1", models.ActionDelete,
			map[string]any{"name": "eth0", "device": "d1"}, nil),
	})

	assert.Equal(t, []string{
		"delete interface/i1",
		"delete device/d1",
	}, keys(scheduled))
}

func TestBuildGraph_SplitsBidirectionalCycle(t *testing.T) {
	// A new device and a new interface reference each other. The nullable
	// side is created without the reference and a synthesized update
	// restores it once both exist.
	scheduled := buildAndSchedule(t, engineSchema(t), []*models.MutationRecord{
		rec("device", "d1", models.ActionCreate, nil,
			map[string]any{"name": "core", "site": "s1", "primary_interface": "i1"}),
		rec("interface", "i1", models.ActionCreate, nil,
			map[string]any{"name": "eth0", "device": "d1"}),
	})

	require.Len(t, scheduled, 3)
	assert.Equal(t, []string{
		"create device/d1",
		"create interface/i1",
		"update device/d1#update_primary_interface",
	}, keys(scheduled))

	// The create applies without the reference; the follow-up restores it
	assert.Nil(t, scheduled[0].PostState["primary_interface"])
	assert.Equal(t, "i1", scheduled[2].PostState["primary_interface"])
	assert.Equal(t, models.ActionUpdate, scheduled[2].Action)
}

func TestSchedule_CycleIsFatal(t *testing.T) {
	// Neither reference is nullable, so the cycle cannot be split.
	sch, err := schema.New(
		&schema.EntityType{
			Name: "a",
			References: []schema.ReferenceField{
				{Name: "peer", Target: "b"},
			},
		},
		&schema.EntityType{
			Name: "b",
			References: []schema.ReferenceField{
				{Name: "peer", Target: "a"},
			},
		},
	)
	require.NoError(t, err)

	c, err := Collapse([]*models.MutationRecord{
		rec("a", "a1", models.ActionCreate, nil, map[string]any{"name": "left", "peer": "b1"}),
		rec("b", "b1", models.ActionCreate, nil, map[string]any{"name": "right", "peer": "a1"}),
	}, testLogger())
	require.NoError(t, err)
	require.NoError(t, BuildGraph(c, sch, testLogger()))

	_, err = Schedule(c)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Len(t, cycleErr.Remaining, 2)
	assert.Contains(t, err.Error(), "cycle")
	assert.Contains(t, err.Error(), `name="left"`)
}

func TestSchedule_PriorityOrder(t *testing.T) {
	// Independent operations apply deletes first, then updates, then
	// creates; ties break on record time.
	scheduled := buildAndSchedule(t, engineSchema(t), []*models.MutationRecord{
		rec("site", "s1", models.ActionCreate, nil, map[string]any{"name": "A", "slug": "a"}),
		rec("site", "s2", models.ActionUpdate,
			map[string]any{"name": "B"}, map[string]any{"name": "B2"}),
		rec("site", "s3", models.ActionDelete, map[string]any{"name": "C", "slug": "c"}, nil),
		rec("site", "s4", models.ActionCreate, nil, map[string]any{"name": "D", "slug": "d"}),
	})

	assert.Equal(t, []string{
		"delete site/s3",
		"update site/s2",
		"create site/s1",
		"create site/s4",
	}, keys(scheduled))
}
