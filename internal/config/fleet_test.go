package config

import (
	"os"
	"path/filepath"
	"testing"

	"depsync/internal/data"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFleet = `
org: ai-evo-agents
base_dir: ..
packages:
  - name: evo-common
    registry: crates
    changelog_repo: ai-evo-agents/evo-common
  - name: golang.org/x/sync
    registry: go
repos:
  - repo: evo-king
    manifests: [Cargo.toml]
  - repo: other-org/evo-agents
    local: sdk-checkout
    manifests: [evo-agent-sdk/Cargo.toml]
  - repo: evo-kernel-agent-learning
    branch: main
    manifests: [Cargo.toml]
    workflows: [.github/workflows/ci.yml, .github/workflows/release.yml]
`

func writeFleet(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "depsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFleet(t *testing.T) {
	path := writeFleet(t, sampleFleet)
	base := filepath.Join(filepath.Dir(path), "..")

	fleet, err := LoadFleet(path, "", "")
	require.NoError(t, err)

	assert.Equal(t, "ai-evo-agents", fleet.Org)
	assert.Equal(t, base, fleet.BaseDir)
	require.Len(t, fleet.Packages, 2)
	assert.Equal(t, data.RegistryCrates, fleet.Packages[0].Registry)
	assert.Equal(t, data.RegistryGo, fleet.Packages[1].Registry)

	require.Len(t, fleet.Repos, 3)
	assert.Equal(t, "ai-evo-agents/evo-king", fleet.Repos[0].Repo)
	assert.Equal(t, filepath.Join(base, "evo-king"), fleet.Repos[0].LocalPath)
	assert.Equal(t, "other-org/evo-agents", fleet.Repos[1].Repo)
	assert.Equal(t, filepath.Join(base, "sdk-checkout"), fleet.Repos[1].LocalPath)
	assert.Equal(t, "main", fleet.Repos[2].Branch)
	assert.Len(t, fleet.Repos[2].Workflows, 2)
}

func TestLoadFleet_Overrides(t *testing.T) {
	path := writeFleet(t, sampleFleet)
	abs := t.TempDir()

	fleet, err := LoadFleet(path, "acme", abs)
	require.NoError(t, err)

	assert.Equal(t, "acme/evo-king", fleet.Repos[0].Repo)
	assert.Equal(t, "other-org/evo-agents", fleet.Repos[1].Repo)
	assert.Equal(t, filepath.Join(abs, "evo-king"), fleet.Repos[0].LocalPath)
}

func TestLoadFleet_NoBaseDirLeavesLocalPathEmpty(t *testing.T) {
	path := writeFleet(t, `
packages: [{name: evo-common}]
repos:
  - repo: acme/a
    manifests: [Cargo.toml]
`)
	fleet, err := LoadFleet(path, "", "")
	require.NoError(t, err)
	assert.Empty(t, fleet.Repos[0].LocalPath)
	assert.Equal(t, data.RegistryCrates, fleet.Packages[0].Registry)
}

func TestLoadFleet_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty", "", "empty"},
		{"unknown key", "packages: [{name: a}]\nrepos: []\nextra: 1\n", "field extra not found"},
		{"no packages", "repos: [{repo: a/b, manifests: [Cargo.toml]}]\n", "no packages"},
		{"duplicate package", "packages: [{name: a}, {name: a}]\n", "duplicate package"},
		{"bad registry", "packages: [{name: a, registry: npm}]\n", "unsupported registry"},
		{"bad changelog repo", "packages: [{name: a, changelog_repo: nope}]\n", "changelog_repo"},
		{"missing owner", "packages: [{name: a}]\nrepos: [{repo: b, manifests: [Cargo.toml]}]\n", "no owner"},
		{"duplicate repo", "packages: [{name: a}]\nrepos: [{repo: a/b, manifests: [x]}, {repo: A/b, manifests: [x]}]\n", "duplicate repo"},
		{"no files", "packages: [{name: a}]\nrepos: [{repo: a/b}]\n", "no manifests"},
		{"absolute file", "packages: [{name: a}]\nrepos: [{repo: a/b, manifests: [/etc/passwd]}]\n", "relative"},
		{"escaping file", "packages: [{name: a}]\nrepos: [{repo: a/b, manifests: [../x/Cargo.toml]}]\n", "not clean"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFleet(writeFleet(t, tt.body), "", "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFleet_MissingFile(t *testing.T) {
	_, err := LoadFleet(filepath.Join(t.TempDir(), "nope.yaml"), "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read fleet")
}

func TestLoadFleet_RepositoryExample(t *testing.T) {
	fleet, err := LoadFleet(filepath.Join("..", "..", "depsync.yaml"), "", "")
	require.NoError(t, err)

	assert.Len(t, fleet.Packages, 2)
	require.Len(t, fleet.Repos, 9)
	for _, r := range fleet.Repos {
		assert.Equal(t, "ai-evo-agents", r.Owner())
		assert.NotEmpty(t, r.LocalPath)
	}
	assert.Equal(t, []string{".github/workflows/ci.yml", ".github/workflows/release.yml"}, fleet.Repos[8].Workflows)
}
