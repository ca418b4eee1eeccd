// Package schema defines explicit per-entity-type descriptors consulted by
// the dependency grapher, the apply/undo logic, and store-side validation.
// Field kinds are declared up front rather than discovered by reflection.
package schema

import "fmt"

// FieldKind classifies an entity attribute.
type FieldKind string

const (
	// KindPlain is an ordinary scalar attribute.
	KindPlain FieldKind = "plain"

	// KindReference holds the ID of another entity.
	KindReference FieldKind = "reference"

	// KindFile holds a path-like pointer to an external file resource. A
	// missing file is a known-benign validation condition during merge.
	KindFile FieldKind = "file"
)

// ReferenceField describes one reference-typed field of an entity type.
type ReferenceField struct {
	Name     string
	Target   string // target entity type name
	Nullable bool
}

// EntityType describes one branch-aware entity type.
type EntityType struct {
	Name string

	// References lists every reference-typed field, in declaration order.
	References []ReferenceField

	// Unique lists attributes carrying a uniqueness constraint across the
	// entity type.
	Unique []string

	// Required lists attributes that must be present and non-nil.
	Required []string

	// Files lists file-kind attributes (path-like pointers to external
	// resources) whose targets are checked for existence on validation.
	Files []string

	// Tree marks entity types backed by a hierarchical cache that must be
	// rebuilt after merge, sync, or revert touches the type.
	Tree bool
}

// Reference returns the descriptor for the named field, if it is a reference.
func (t *EntityType) Reference(name string) (ReferenceField, bool) {
	for _, ref := range t.References {
		if ref.Name == name {
			return ref, true
		}
	}
	return ReferenceField{}, false
}

// Schema is the registry of entity type descriptors for a deployment. It is
// built once at startup and read-only afterwards.
type Schema struct {
	types map[string]*EntityType
	order []string
}

// New builds a Schema from the given entity types.
func New(types ...*EntityType) (*Schema, error) {
	s := &Schema{types: make(map[string]*EntityType, len(types))}
	for _, t := range types {
		if _, exists := s.types[t.Name]; exists {
			return nil, fmt.Errorf("duplicate entity type %q", t.Name)
		}
		s.types[t.Name] = t
		s.order = append(s.order, t.Name)
	}
	// Validate reference targets after all types are registered
	for _, t := range types {
		for _, ref := range t.References {
			if _, ok := s.types[ref.Target]; !ok {
				return nil, fmt.Errorf("entity type %q: reference field %q targets unknown type %q", t.Name, ref.Name, ref.Target)
			}
		}
	}
	return s, nil
}

// Type returns the descriptor for the named entity type.
func (s *Schema) Type(name string) (*EntityType, error) {
	t, ok := s.types[name]
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", name)
	}
	return t, nil
}

// ReferenceFieldsOf returns the reference fields of the named entity type, or
// nil if the type is unknown.
func (s *Schema) ReferenceFieldsOf(name string) []ReferenceField {
	if t, ok := s.types[name]; ok {
		return t.References
	}
	return nil
}

// TypeNames returns all registered entity type names in registration order.
func (s *Schema) TypeNames() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Has reports whether the named entity type is registered.
func (s *Schema) Has(name string) bool {
	_, ok := s.types[name]
	return ok
}
