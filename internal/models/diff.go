package models

import (
	"sort"
	"time"
)

// ChangeDiff is a live three-way comparison for one (branch, entity) pair:
// the state when the branch first touched the entity (Original), the branch's
// latest state (Modified), and the primary dataset's current state (Current).
// One row exists per entity with at least one branch-side change; rows persist
// after merge for audit.
type ChangeDiff struct {
	ID          int64          `json:"id"`
	Branch      string         `json:"branch"`
	EntityType  string         `json:"entity_type"`
	EntityID    string         `json:"entity_id"`
	Action      Action         `json:"action"`
	Original    map[string]any `json:"original,omitempty"`
	Modified    map[string]any `json:"modified,omitempty"`
	Current     map[string]any `json:"current,omitempty"`
	Conflicts   []string       `json:"conflicts,omitempty"`
	LastUpdated time.Time      `json:"last_updated"`
}

// UpdateConflicts recomputes the conflicting attribute set from the three
// states. It must be called before every save.
//
// For an update, attribute k conflicts when the branch and the primary both
// changed it away from the original, to different values. For a delete, any
// primary-side change to the deleted entity conflicts. Creates have nothing
// to compare against. Absent states are treated as empty.
func (d *ChangeDiff) UpdateConflicts() {
	var conflicts []string

	switch d.Action {
	case ActionUpdate:
		for k, orig := range d.Original {
			mod, okMod := d.Modified[k]
			cur, okCur := d.Current[k]
			if !okMod || !okCur {
				continue
			}
			if !equalValue(mod, orig) && !equalValue(cur, orig) && !equalValue(mod, cur) {
				conflicts = append(conflicts, k)
			}
		}
	case ActionDelete:
		for k, orig := range d.Original {
			cur, ok := d.Current[k]
			if !ok {
				continue
			}
			if !equalValue(cur, orig) {
				conflicts = append(conflicts, k)
			}
		}
	}

	sort.Strings(conflicts)
	d.Conflicts = conflicts
}

// AlteredInModified returns the attributes changed within the branch relative
// to the original state.
func (d *ChangeDiff) AlteredInModified() []string {
	return alteredKeys(d.Original, d.Modified)
}

// AlteredInCurrent returns the attributes changed in the primary dataset
// relative to the original state.
func (d *ChangeDiff) AlteredInCurrent() []string {
	return alteredKeys(d.Original, d.Current)
}

// AlteredFields returns the sorted union of attributes modified on either
// side, for side-by-side review rendering.
func (d *ChangeDiff) AlteredFields() []string {
	seen := make(map[string]bool)
	for _, k := range d.AlteredInModified() {
		seen[k] = true
	}
	for _, k := range d.AlteredInCurrent() {
		seen[k] = true
	}
	fields := make([]string, 0, len(seen))
	for k := range seen {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// OriginalDiff returns the original values of every altered attribute.
func (d *ChangeDiff) OriginalDiff() map[string]any {
	return trimTo(d.Original, d.AlteredFields())
}

// ModifiedDiff returns the branch-side values of every altered attribute.
func (d *ChangeDiff) ModifiedDiff() map[string]any {
	return trimTo(d.Modified, d.AlteredFields())
}

// CurrentDiff returns the primary-side values of every altered attribute.
func (d *ChangeDiff) CurrentDiff() map[string]any {
	return trimTo(d.Current, d.AlteredFields())
}

func alteredKeys(original, other map[string]any) []string {
	var keys []string
	for k, v := range other {
		orig, ok := original[k]
		if ok && !equalValue(v, orig) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func trimTo(data map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, k := range fields {
		if v, ok := data[k]; ok {
			out[k] = v
		}
	}
	return out
}
