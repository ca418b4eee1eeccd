package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	_, err := New(
		&EntityType{Name: "site"},
		&EntityType{Name: "site"},
	)
	assert.ErrorContains(t, err, "duplicate entity type")

	_, err = New(
		&EntityType{Name: "device", References: []ReferenceField{
			{Name: "site", Target: "site"},
		}},
	)
	assert.ErrorContains(t, err, "unknown type")

	sch, err := New(
		&EntityType{Name: "site"},
		&EntityType{Name: "device", References: []ReferenceField{
			{Name: "site", Target: "site"},
		}},
	)
	require.NoError(t, err)
	assert.True(t, sch.Has("device"))
	assert.False(t, sch.Has("rack"))
	assert.Equal(t, []string{"site", "device"}, sch.TypeNames())

	_, err = sch.Type("rack")
	assert.Error(t, err)

	dev, err := sch.Type("device")
	require.NoError(t, err)
	ref, ok := dev.Reference("site")
	require.True(t, ok)
	assert.Equal(t, "site", ref.Target)
	_, ok = dev.Reference("rack")
	assert.False(t, ok)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema")
	require.NoError(t, os.WriteFile(path, []byte(`
[[types]]
name = "site"
unique = ["slug"]
required = ["name", "slug"]

[[types]]
name = "region"
tree = true

  [[types.references]]
  name = "parent"
  target = "region"
  nullable = true

[[types]]
name = "image"
files = ["path"]
`), 0644))

	sch, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"site", "region", "image"}, sch.TypeNames())

	region, err := sch.Type("region")
	require.NoError(t, err)
	assert.True(t, region.Tree)
	require.Len(t, region.References, 1)
	assert.True(t, region.References[0].Nullable)

	image, err := sch.Type("image")
	require.NoError(t, err)
	assert.Equal(t, []string{"path"}, image.Files)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "schema")
	require.NoError(t, os.WriteFile(path, []byte(`[[types]]`+"\n"+`tree = true`), 0644))
	_, err = LoadFile(path)
	assert.ErrorContains(t, err, "no name")
}
