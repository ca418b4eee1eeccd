package engine

import (
	"github.com/charmbracelet/log"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/kilupskalvis/relbranch/internal/models"
	"github.com/kilupskalvis/relbranch/internal/schema"
)

func emptyKeySet() mapset.Set[OpKey] {
	return mapset.NewSet[OpKey]()
}

func mapsetOf(keys ...OpKey) mapset.Set[OpKey] {
	return mapset.NewSet(keys...)
}

// BuildGraph walks every collapsed operation's reference fields and records
// the ordering constraints between operations, then splits any two-entity
// reference cycle that a nullable field allows.
//
// The constraints are:
//   - an update that drops a reference to a deleted entity must apply before
//     that delete;
//   - an update that gains a reference to a created entity must apply after
//     that create;
//   - a create referencing another created entity must apply after it;
//   - a delete of an entity that still references another deleted entity
//     must apply before the referenced entity's delete.
func BuildGraph(c *Collapser, sch *schema.Schema, logger *log.Logger) error {
	for _, op := range c.Operations() {
		refs := sch.ReferenceFieldsOf(op.Key.EntityType)
		for _, ref := range refs {
			switch op.Action {
			case models.ActionUpdate:
				// Reference held before the update: if its target is being
				// deleted, the update must clear the reference first.
				if target, ok := refTarget(c, ref, op.PreState); ok && target.Action == models.ActionDelete {
					addEdge(target, op)
				}
				// Reference held after the update: its target must exist.
				if target, ok := refTarget(c, ref, op.PostState); ok && target.Action == models.ActionCreate {
					addEdge(op, target)
				}
			case models.ActionCreate:
				if target, ok := refTarget(c, ref, op.PostState); ok && target.Action == models.ActionCreate {
					addEdge(op, target)
				}
			case models.ActionDelete:
				// The referencing entity must go before the entity it
				// references, like a child row before its parent.
				if target, ok := refTarget(c, ref, op.PreState); ok && target.Action == models.ActionDelete {
					addEdge(target, op)
				}
			}
		}
	}

	splitBidirectionalCycles(c, sch, logger)
	return nil
}

// refTarget resolves the operation targeted by a reference field's value in
// the given state, ignoring self-references.
func refTarget(c *Collapser, ref schema.ReferenceField, state map[string]any) (*CollapsedOperation, bool) {
	id, ok := state[ref.Name].(string)
	if !ok || id == "" {
		return nil, false
	}
	target, ok := c.Get(OpKey{EntityType: ref.Target, EntityID: id})
	if !ok {
		return nil, false
	}
	return target, true
}

// addEdge records that from must apply after to.
func addEdge(from, to *CollapsedOperation) {
	if from.Key == to.Key {
		return
	}
	from.DependsOn.Add(to.Key)
	to.DependedBy.Add(from.Key)
}

// splitBidirectionalCycles breaks two-create cycles where each new entity
// references the other. When one side holds the reference in a nullable
// field, that create is rewritten to apply without the reference and a
// synthesized follow-up update restores it once both entities exist. Cycles
// with no nullable edge are left for the scheduler to report.
func splitBidirectionalCycles(c *Collapser, sch *schema.Schema, logger *log.Logger) {
	for _, op := range c.Operations() {
		if op.Action != models.ActionCreate || op.Key.Qualifier != "" {
			continue
		}
		for _, depKey := range op.DependsOn.ToSlice() {
			dep, ok := c.Get(depKey)
			if !ok || dep.Action != models.ActionCreate || !dep.DependsOn.Contains(op.Key) {
				continue
			}
			if splitCycle(c, sch, op, dep, logger) {
				break
			}
		}
	}
}

// splitCycle rewrites op to create without its reference to dep and
// synthesizes the deferred update. Reports whether a nullable field allowed
// the split.
func splitCycle(c *Collapser, sch *schema.Schema, op, dep *CollapsedOperation, logger *log.Logger) bool {
	for _, ref := range sch.ReferenceFieldsOf(op.Key.EntityType) {
		if !ref.Nullable || ref.Target != dep.Key.EntityType {
			continue
		}
		id, ok := op.PostState[ref.Name].(string)
		if !ok || id != dep.Key.EntityID {
			continue
		}

		fullState := clonedState(op.PostState)
		op.PostState[ref.Name] = nil
		op.DependsOn.Remove(dep.Key)
		dep.DependedBy.Remove(op.Key)

		fixup := &CollapsedOperation{
			Key: OpKey{
				EntityType: op.Key.EntityType,
				EntityID:   op.Key.EntityID,
				Qualifier:  "update_" + ref.Name,
			},
			Action:      models.ActionUpdate,
			PreState:    op.PostState,
			PostState:   fullState,
			RecordCount: 1,
			LastRecord:  op.LastRecord,
			DependsOn:   mapsetOf(op.Key, dep.Key),
			DependedBy:  emptyKeySet(),
		}
		op.DependedBy.Add(fixup.Key)
		dep.DependedBy.Add(fixup.Key)
		c.insert(fixup)

		logger.Debug("split reference cycle",
			"entity", op.Key.String(), "field", ref.Name, "peer", dep.Key.String())
		return true
	}
	return false
}
