package risk

import (
	"context"
	"fmt"
	"strings"

	gh "depsync/internal/github"
)

// ChangelogSource returns release notes for version of the package published
// from repo (OWNER/REPO). Unknown releases yield "".
type ChangelogSource interface {
	ReleaseNotes(ctx context.Context, repo, version string) (string, error)
}

// GitHubReleases reads release bodies through the GitHub API.
type GitHubReleases struct {
	Client *gh.Client
}

func (g *GitHubReleases) ReleaseNotes(ctx context.Context, repo, version string) (string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok {
		return "", fmt.Errorf("invalid changelog repository %q", repo)
	}
	return gh.ReleaseNotes(ctx, g.Client, owner, name, strings.TrimPrefix(version, "v"))
}
