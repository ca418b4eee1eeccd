package models

// Action represents the kind of mutation recorded for an entity.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"

	// ActionSkip is only ever produced by collapsing: the entity was created
	// and destroyed within the branch, so merging it has no effect.
	ActionSkip Action = "skip"
)

// Priority returns the scheduling priority for the action. Lower numbers are
// scheduled first when multiple operations are ready at the same time.
func (a Action) Priority() int {
	switch a {
	case ActionDelete:
		return 0
	case ActionUpdate:
		return 1
	case ActionCreate:
		return 2
	default:
		// Skips should never reach the scheduler, but just in case.
		return 3
	}
}
