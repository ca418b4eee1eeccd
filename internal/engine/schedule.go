package engine

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// Schedule orders the collapsed operations so every dependency applies before
// its dependents. Among the operations ready at each step, deletes go first,
// then updates, then creates, with record time breaking ties. An unbreakable
// cycle yields a CycleError.
func Schedule(c *Collapser) ([]*CollapsedOperation, error) {
	ops := c.Operations()
	pending := make(map[OpKey]mapset.Set[OpKey], len(ops))
	for _, op := range ops {
		pending[op.Key] = op.DependsOn.Clone()
	}

	scheduled := make([]*CollapsedOperation, 0, len(ops))
	done := make(map[OpKey]bool, len(ops))

	// Each pass schedules at least one operation, so 2n passes is already
	// generous; exceeding it means the graph is stuck.
	maxPasses := 2 * len(ops)
	for pass := 0; len(scheduled) < len(ops); pass++ {
		if pass >= maxPasses {
			break
		}

		var ready []*CollapsedOperation
		for _, op := range ops {
			if !done[op.Key] && pending[op.Key].Cardinality() == 0 {
				ready = append(ready, op)
			}
		}
		if len(ready) == 0 {
			break
		}

		sort.SliceStable(ready, func(i, j int) bool {
			pi, pj := ready[i].Action.Priority(), ready[j].Action.Priority()
			if pi != pj {
				return pi < pj
			}
			ti, tj := ready[i].LastRecord, ready[j].LastRecord
			if ti != nil && tj != nil && !ti.Time.Equal(tj.Time) {
				return ti.Time.Before(tj.Time)
			}
			return false
		})

		next := ready[0]
		scheduled = append(scheduled, next)
		done[next.Key] = true
		for _, depKey := range next.DependedBy.ToSlice() {
			if set, ok := pending[depKey]; ok {
				set.Remove(next.Key)
			}
		}
	}

	if len(scheduled) < len(ops) {
		var remaining []*CollapsedOperation
		for _, op := range ops {
			if !done[op.Key] {
				remaining = append(remaining, op)
			}
		}
		return nil, &CycleError{Remaining: remaining}
	}
	return scheduled, nil
}
