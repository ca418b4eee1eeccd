package schema

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type fileReference struct {
	Name     string `toml:"name"`
	Target   string `toml:"target"`
	Nullable bool   `toml:"nullable"`
}

type fileType struct {
	Name       string          `toml:"name"`
	Tree       bool            `toml:"tree"`
	Unique     []string        `toml:"unique"`
	Required   []string        `toml:"required"`
	Files      []string        `toml:"files"`
	References []fileReference `toml:"references"`
}

type fileSchema struct {
	Types []fileType `toml:"types"`
}

// LoadFile reads entity type descriptors from a TOML file and builds the
// registry.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}

	var f fileSchema
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse schema file: %w", err)
	}

	types := make([]*EntityType, 0, len(f.Types))
	for _, ft := range f.Types {
		if ft.Name == "" {
			return nil, fmt.Errorf("schema file: entity type with no name")
		}
		t := &EntityType{
			Name:     ft.Name,
			Tree:     ft.Tree,
			Unique:   ft.Unique,
			Required: ft.Required,
			Files:    ft.Files,
		}
		for _, fr := range ft.References {
			t.References = append(t.References, ReferenceField{
				Name:     fr.Name,
				Target:   fr.Target,
				Nullable: fr.Nullable,
			})
		}
		types = append(types, t)
	}
	return New(types...)
}
