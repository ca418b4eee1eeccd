package engine

import (
	"fmt"

	"dario.cat/mergo"
	"github.com/charmbracelet/log"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/kilupskalvis/relbranch/internal/models"
)

// OpKey identifies one collapsed operation. Qualifier is empty except for
// synthesized operations, such as the follow-up update produced when a
// two-entity reference cycle is split.
type OpKey struct {
	EntityType string
	EntityID   string
	Qualifier  string
}

func (k OpKey) String() string {
	if k.Qualifier != "" {
		return k.EntityType + "/" + k.EntityID + "#" + k.Qualifier
	}
	return k.EntityType + "/" + k.EntityID
}

// CollapsedOperation is the net effect of every mutation record touching one
// entity: a single action with the earliest pre-state and the folded final
// post-state.
type CollapsedOperation struct {
	Key         OpKey
	Action      models.Action
	PreState    map[string]any
	PostState   map[string]any
	RecordCount int

	// LastRecord is the most recent record folded in, used to break ties
	// when scheduling.
	LastRecord *models.MutationRecord

	// DependsOn holds operations that must apply before this one;
	// DependedBy is the reverse edge set.
	DependsOn  mapset.Set[OpKey]
	DependedBy mapset.Set[OpKey]
}

// Collapser folds an ordered stream of mutation records into one operation
// per entity. It may be fed incrementally; the fold is order-sensitive, so
// records must arrive in chronological order.
type Collapser struct {
	ops    map[OpKey]*CollapsedOperation
	order  []OpKey
	logger *log.Logger
}

// NewCollapser returns an empty collapser.
func NewCollapser(logger *log.Logger) *Collapser {
	return &Collapser{
		ops:    make(map[OpKey]*CollapsedOperation),
		logger: logger,
	}
}

// Collapse folds a full record stream and returns the collapser for
// inspection.
func Collapse(records []*models.MutationRecord, logger *log.Logger) (*Collapser, error) {
	c := NewCollapser(logger)
	for _, rec := range records {
		if err := c.AddRecord(rec); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// AddRecord folds one more record into the running collapse.
//
// The transitions per entity are: a create followed by updates stays a create
// with the folded post-state; a create followed by a delete cancels out to a
// skip; updates fold together keeping the first pre-state; an update followed
// by a delete becomes a delete. Records arriving after a delete or a skip are
// inconsistent history and are logged and ignored.
func (c *Collapser) AddRecord(rec *models.MutationRecord) error {
	key := OpKey{EntityType: rec.EntityType, EntityID: rec.EntityID}
	op, ok := c.ops[key]
	if !ok {
		op = &CollapsedOperation{
			Key:        key,
			Action:     rec.Action,
			PreState:   rec.PreState,
			PostState:  clonedState(rec.PostState),
			DependsOn:  mapset.NewSet[OpKey](),
			DependedBy: mapset.NewSet[OpKey](),
		}
		c.ops[key] = op
		c.order = append(c.order, key)
	} else {
		switch {
		case op.Action == models.ActionDelete || op.Action == models.ActionSkip:
			c.logger.Warn("ignoring record after terminal action",
				"entity", key.String(), "have", op.Action, "got", rec.Action)
		case rec.Action == models.ActionDelete:
			if op.Action == models.ActionCreate {
				// Created and deleted within the branch; nothing to replay.
				op.Action = models.ActionSkip
				op.PostState = nil
			} else {
				op.Action = models.ActionDelete
				op.PostState = clonedState(rec.PostState)
			}
		case rec.Action == models.ActionUpdate:
			if op.PostState == nil {
				op.PostState = clonedState(rec.PostState)
			} else if err := foldState(op.PostState, rec.PostState); err != nil {
				return fmt.Errorf("fold %s: %w", key, err)
			}
		default:
			c.logger.Warn("ignoring inconsistent record",
				"entity", key.String(), "have", op.Action, "got", rec.Action)
		}
	}

	op.RecordCount++
	op.LastRecord = rec
	return nil
}

// Operations returns the collapsed operations in first-touched order.
func (c *Collapser) Operations() []*CollapsedOperation {
	ops := make([]*CollapsedOperation, 0, len(c.order))
	for _, key := range c.order {
		ops = append(ops, c.ops[key])
	}
	return ops
}

// Get returns the operation for a key, if present.
func (c *Collapser) Get(key OpKey) (*CollapsedOperation, bool) {
	op, ok := c.ops[key]
	return op, ok
}

// Len returns the number of collapsed operations, skips included.
func (c *Collapser) Len() int {
	return len(c.ops)
}

// insert registers a synthesized operation, placing it after the existing
// ones. Used by the cycle splitter.
func (c *Collapser) insert(op *CollapsedOperation) {
	c.ops[op.Key] = op
	c.order = append(c.order, op.Key)
}

// foldState merges src into dst in place, later values winning, nested maps
// merged recursively.
func foldState(dst, src map[string]any) error {
	return mergo.Merge(&dst, src, mergo.WithOverride)
}

func clonedState(state map[string]any) map[string]any {
	if state == nil {
		return nil
	}
	out := make(map[string]any, len(state))
	for k, v := range state {
		if nested, ok := v.(map[string]any); ok {
			out[k] = clonedState(nested)
			continue
		}
		out[k] = v
	}
	return out
}
