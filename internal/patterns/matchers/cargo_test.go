package matchers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cargoManifest = `[package]
name = "app"
version = "2.0.3"

[dependencies]
core-lib = "2.0.3"
serde = { version = "1", features = ["derive"] }
other = { path = "../other" }

[dev-dependencies]
core-lib = { version = "^2.0.3", features = ["test"] }

[dependencies.helper]
version = "0.1"

[target.'cfg(unix)'.dependencies.core-lib]
version = "=2.0.3"
`

func TestCargoMatcher_FindsAllDeclarationForms(t *testing.T) {
	m := &CargoMatcher{}
	content := []byte(cargoManifest)

	occ, err := m.Find(content, "core-lib")
	require.NoError(t, err)
	require.Len(t, occ, 3)

	for _, o := range occ {
		assert.Equal(t, "2.0.3", o.Version)
		assert.Equal(t, "2.0.3", string(content[o.Start:o.End]))
	}

	// The [package] version must not be mistaken for a dependency.
	assert.Greater(t, occ[0].Start, len("[package]\nname = \"app\"\nversion = \"2.0.3\"\n"))
}

func TestCargoMatcher_SkipsPathOnlyDependencies(t *testing.T) {
	m := &CargoMatcher{}
	content := []byte("[dependencies]\ncore-lib = { path = \"../core-lib\" }\n")

	occ, err := m.Find(content, "core-lib")
	require.NoError(t, err)
	assert.Empty(t, occ)
}

func TestCargoMatcher_DoesNotMatchPrefixedNames(t *testing.T) {
	m := &CargoMatcher{}
	content := []byte("[dependencies]\ncore-lib-ext = \"1.0.0\"\ncore-lib = \"1.0.0\"\n")

	occ, err := m.Find(content, "core-lib")
	require.NoError(t, err)
	require.Len(t, occ, 1)
	assert.Equal(t, len("[dependencies]\ncore-lib-ext = \"1.0.0\"\ncore-lib = \""), occ[0].Start)
}

func TestCargoMatcher_InvalidManifest(t *testing.T) {
	m := &CargoMatcher{}
	_, err := m.Find([]byte("[dependencies\ncore-lib = \"1\""), "core-lib")
	assert.Error(t, err)
}

func TestCargoMatcher_Applies(t *testing.T) {
	m := &CargoMatcher{}
	assert.True(t, m.Applies("Cargo.toml"))
	assert.True(t, m.Applies("crates/api/Cargo.toml"))
	assert.False(t, m.Applies("Cargo.lock"))
}

func TestCargoMatcher_LiteralStringsAndDottedKeys(t *testing.T) {
	m := &CargoMatcher{}
	tests := []struct {
		name    string
		content string
		prefix  string
	}{
		{"literal string", "[dependencies]\ncore-lib = '2.0.3'\n", "[dependencies]\ncore-lib = '"},
		{"dotted key", "[dependencies]\ncore-lib.version = \"2.0.3\"\n", "[dependencies]\ncore-lib.version = \""},
		{"dotted key literal", "[dependencies]\ncore-lib.version = '^2.0.3'\ncore-lib.features = [\"x\"]\n", "[dependencies]\ncore-lib.version = '^"},
		{"inline table literal", "[dependencies]\ncore-lib = { version = '2.0.3' }\n", "[dependencies]\ncore-lib = { version = '"},
		{"dotted table literal", "[dependencies.core-lib]\nversion = '2.0.3'\n", "[dependencies.core-lib]\nversion = '"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := []byte(tt.content)
			occ, err := m.Find(content, "core-lib")
			require.NoError(t, err)
			require.Len(t, occ, 1)
			assert.Equal(t, "2.0.3", occ[0].Version)
			assert.Equal(t, len(tt.prefix), occ[0].Start)
			assert.Equal(t, "2.0.3", string(content[occ[0].Start:occ[0].End]))
		})
	}
}

func TestCargoMatcher_UnlocatableDeclarationIsAnError(t *testing.T) {
	m := &CargoMatcher{}
	content := []byte("[dependencies]\ncore-lib = \"\"\"2.0.3\"\"\"\n")

	_, err := m.Find(content, "core-lib")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `core-lib declares version "2.0.3"`)
}
