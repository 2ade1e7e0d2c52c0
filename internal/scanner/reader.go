package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"depsync/internal/data"
	gh "depsync/internal/github"
)

var ErrNoSource = errors.New("no local checkout and no GitHub client")

// Reader returns the current content of one file of a managed repository.
type Reader interface {
	Read(ctx context.Context, repo data.RepoSpec, path string) ([]byte, error)
}

// LocalReader reads from the repository checkout.
type LocalReader struct{}

func (LocalReader) Read(_ context.Context, repo data.RepoSpec, path string) ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(repo.LocalPath, filepath.FromSlash(path)))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b, nil
}

// GitHubReader reads the blob at the repository's branch, or HEAD when the
// branch is unset, through one GraphQL request.
type GitHubReader struct {
	Client *gh.Client
}

func (r GitHubReader) Read(ctx context.Context, repo data.RepoSpec, path string) ([]byte, error) {
	if r.Client == nil {
		return nil, ErrNoSource
	}
	text, err := gh.ReadFile(ctx, r.Client, repo.Owner(), repo.Name(), repo.Branch, path)
	if err != nil {
		return nil, err
	}
	return []byte(text), nil
}

// AutoReader prefers the local checkout when LocalPath is an existing
// directory and falls back to Remote otherwise.
type AutoReader struct {
	Local  Reader
	Remote Reader
}

func NewAutoReader(client *gh.Client) AutoReader {
	return AutoReader{Local: LocalReader{}, Remote: GitHubReader{Client: client}}
}

func (r AutoReader) Read(ctx context.Context, repo data.RepoSpec, path string) ([]byte, error) {
	if HasCheckout(repo) {
		return r.Local.Read(ctx, repo, path)
	}
	if r.Remote == nil {
		return nil, ErrNoSource
	}
	return r.Remote.Read(ctx, repo, path)
}

// HasCheckout reports whether the repository's LocalPath is an existing directory.
func HasCheckout(repo data.RepoSpec) bool {
	if repo.LocalPath == "" {
		return false
	}
	fi, err := os.Stat(repo.LocalPath)
	return err == nil && fi.IsDir()
}
