package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"depsync/internal/data"
	"depsync/internal/patterns"
	_ "depsync/internal/patterns/matchers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapReader map[string]string

func (m mapReader) Read(_ context.Context, repo data.RepoSpec, path string) ([]byte, error) {
	s, ok := m[repo.Repo+":"+path]
	if !ok {
		return nil, errors.New("file not found")
	}
	return []byte(s), nil
}

func newScanner(t *testing.T, r Reader) *Scanner {
	t.Helper()
	s, err := New(r, patterns.List(), 4)
	require.NoError(t, err)
	return s
}

const workflow = `jobs:
  build:
    steps:
      - run: sed -i 's|core-lib = { path = "../core-lib" }|core-lib = "2.0.3"|' Cargo.toml
`

func TestScan_FindsStaleManifestAndWorkflow(t *testing.T) {
	repo := data.RepoSpec{
		Repo:      "acme/agent-a",
		Manifests: []string{"Cargo.toml"},
		Workflows: []string{".github/workflows/ci.yml"},
	}
	reader := mapReader{
		"acme/agent-a:Cargo.toml":               "[dependencies]\ncore-lib = \"2.0.3\"\n",
		"acme/agent-a:.github/workflows/ci.yml": workflow,
	}

	res := newScanner(t, reader).Scan(context.Background(), map[string]string{"core-lib": "2.1.0"}, []data.RepoSpec{repo})
	require.Empty(t, res.Errors)
	require.Len(t, res.Matches, 2)

	// Sorted by file: ".github/..." sorts before "Cargo.toml".
	wf, mf := res.Matches[0], res.Matches[1]
	assert.Equal(t, data.KindWorkflow, wf.Kind)
	assert.Equal(t, "workflow-sed", wf.Matcher)
	assert.Equal(t, data.KindManifest, mf.Kind)
	assert.Equal(t, "cargo", mf.Matcher)
	for _, m := range res.Matches {
		assert.Equal(t, "2.0.3", m.OldVersion)
		assert.Equal(t, "2.1.0", m.NewVersion)
		require.Len(t, m.Locations, 1)
		content, ok := res.Content(m.Repo.Repo, m.File)
		require.True(t, ok)
		assert.Equal(t, "2.0.3", string(content[m.Locations[0].Start:m.Locations[0].End]))
	}
}

func TestScan_UpToDateAndNewerPinsAreNotStale(t *testing.T) {
	repos := []data.RepoSpec{
		{Repo: "acme/current", Manifests: []string{"Cargo.toml"}},
		{Repo: "acme/ahead", Manifests: []string{"Cargo.toml"}},
	}
	reader := mapReader{
		"acme/current:Cargo.toml": "[dependencies]\ncore-lib = \"2.1.0\"\n",
		"acme/ahead:Cargo.toml":   "[dependencies]\ncore-lib = \"3.0.0\"\n",
	}

	res := newScanner(t, reader).Scan(context.Background(), map[string]string{"core-lib": "2.1.0"}, repos)
	assert.Empty(t, res.Matches)
	assert.Empty(t, res.Errors)
}

func TestScan_MultipleOccurrencesShareOneMatch(t *testing.T) {
	repo := data.RepoSpec{Repo: "acme/a", Manifests: []string{"Cargo.toml"}}
	reader := mapReader{
		"acme/a:Cargo.toml": "[dependencies]\ncore-lib = \"2.0.3\"\n\n[dev-dependencies]\ncore-lib = { version = \"2.0.1\" }\n",
	}

	res := newScanner(t, reader).Scan(context.Background(), map[string]string{"core-lib": "2.1.0"}, []data.RepoSpec{repo})
	require.Len(t, res.Matches, 1)
	m := res.Matches[0]
	require.Len(t, m.Locations, 2)
	assert.Equal(t, "2.0.3", m.Locations[0].Old)
	assert.Equal(t, "2.0.1", m.Locations[1].Old)
	assert.Equal(t, "2.0.3", m.OldVersion)
}

func TestScan_UnreadableFileIsPerFileError(t *testing.T) {
	repos := []data.RepoSpec{
		{Repo: "acme/missing", Manifests: []string{"Cargo.toml"}},
		{Repo: "acme/ok", Manifests: []string{"Cargo.toml"}},
	}
	reader := mapReader{
		"acme/ok:Cargo.toml": "[dependencies]\ncore-lib = \"1.0.0\"\n",
	}

	res := newScanner(t, reader).Scan(context.Background(), map[string]string{"core-lib": "2.1.0"}, repos)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "acme/ok", res.Matches[0].Repo.Repo)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, data.StageScan, res.Errors[0].Stage)
	assert.Equal(t, "acme/missing", res.Errors[0].Repo)
	assert.Equal(t, "Cargo.toml", res.Errors[0].File)
}

func TestScan_FileWithoutPatternIsReported(t *testing.T) {
	repo := data.RepoSpec{Repo: "acme/a", Manifests: []string{"package.json"}}
	res := newScanner(t, mapReader{}).Scan(context.Background(), map[string]string{"core-lib": "2.1.0"}, []data.RepoSpec{repo})
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "no manifest pattern")
}

func TestScan_UnlocatableVersionIsReportedNotUpToDate(t *testing.T) {
	repo := data.RepoSpec{Repo: "acme/a", Manifests: []string{"Cargo.toml"}}
	reader := mapReader{
		"acme/a:Cargo.toml": "[dependencies]\ncore-lib = \"\"\"2.0.3\"\"\"\n",
	}

	res := newScanner(t, reader).Scan(context.Background(), map[string]string{"core-lib": "2.1.0"}, []data.RepoSpec{repo})
	assert.Empty(t, res.Matches)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, data.StageScan, res.Errors[0].Stage)
	assert.Equal(t, "core-lib", res.Errors[0].Package)
	assert.Contains(t, res.Errors[0].Message, "cargo: ")
	assert.Contains(t, res.Errors[0].Message, "cannot be located")
}

func TestScan_LocalCheckoutIsReadOnly(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "Cargo.toml")
	original := "[dependencies]\ncore-lib = \"2.0.3\"\n"
	require.NoError(t, os.WriteFile(manifest, []byte(original), 0o644))
	past := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(manifest, past, past))

	repo := data.RepoSpec{Repo: "acme/a", LocalPath: dir, Manifests: []string{"Cargo.toml"}}
	res := newScanner(t, NewAutoReader(nil)).Scan(context.Background(), map[string]string{"core-lib": "2.1.0"}, []data.RepoSpec{repo})
	require.Len(t, res.Matches, 1)

	after, err := os.ReadFile(manifest)
	require.NoError(t, err)
	assert.Equal(t, original, string(after))
	fi, err := os.Stat(manifest)
	require.NoError(t, err)
	assert.True(t, fi.ModTime().Equal(past))
}

func TestAutoReader_NoCheckoutNoClient(t *testing.T) {
	repo := data.RepoSpec{Repo: "acme/a", LocalPath: filepath.Join(t.TempDir(), "absent")}
	_, err := NewAutoReader(nil).Read(context.Background(), repo, "Cargo.toml")
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestScan_CancelledContextRecordsFiles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo := data.RepoSpec{Repo: "acme/a", Manifests: []string{"Cargo.toml"}}
	res := newScanner(t, mapReader{"acme/a:Cargo.toml": "[dependencies]\ncore-lib = \"1.0.0\"\n"}).
		Scan(ctx, map[string]string{"core-lib": "2.1.0"}, []data.RepoSpec{repo})
	assert.Empty(t, res.Matches)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "run cancelled", res.Errors[0].Message)
}

func TestIsStale(t *testing.T) {
	tests := []struct {
		found, latest string
		want          bool
	}{
		{"2.0.3", "2.1.0", true},
		{"2.1.0", "2.1.0", false},
		{"3.0.0", "2.1.0", false},
		{"0.1", "0.1.5", true},
		{"0.2", "0.1.5", false},
		{"v1.4.0", "v1.5.0", true},
		{"1.4.0", "v1.4.0", false},
		{"main", "2.1.0", true},
		{"", "2.1.0", false},
	}
	for _, tt := range tests {
		if got := IsStale(tt.found, tt.latest); got != tt.want {
			t.Errorf("IsStale(%q, %q) = %v, want %v", tt.found, tt.latest, got, tt.want)
		}
	}
}
