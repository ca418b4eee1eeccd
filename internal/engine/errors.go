// Package engine implements the merge machinery: collapsing a branch's
// mutation log into one operation per entity, ordering those operations by
// their data dependencies, and replaying them against an entity store under
// either merge strategy.
package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAbortTransaction signals a deliberate rollback at the end of a dry run.
// Callers treat it as success: the work validated cleanly and was then
// discarded.
var ErrAbortTransaction = errors.New("abort transaction")

// CycleError is returned when the scheduler cannot order the remaining
// operations because their dependencies form an unbreakable cycle. This is
// fatal for the merge; the message carries enough node detail to diagnose the
// offending entities.
type CycleError struct {
	Remaining []*CollapsedOperation
}

func (e *CycleError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "dependency cycle among %d unschedulable operations:", len(e.Remaining))
	for i, op := range e.Remaining {
		if i == 5 {
			fmt.Fprintf(&sb, " and %d more", len(e.Remaining)-i)
			break
		}
		fmt.Fprintf(&sb, " %s(%s%s)", op.Action, op.Key, describeState(op.PostState, op.PreState))
	}
	return sb.String()
}

// describeState pulls a human-recognizable field out of an operation's state
// for cycle diagnostics.
func describeState(states ...map[string]any) string {
	for _, state := range states {
		for _, field := range []string{"name", "slug", "label"} {
			if v, ok := state[field].(string); ok && v != "" {
				return fmt.Sprintf(" %s=%q", field, v)
			}
		}
	}
	return ""
}
