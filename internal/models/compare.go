package models

import "reflect"

// equalValue compares two attribute values. Attribute maps round-trip through
// JSON, so values may be nested maps or slices; reflect.DeepEqual covers all
// of them.
func equalValue(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	return reflect.DeepEqual(a, b)
}
