package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/v68/github"
)

// DefaultBranch returns the default branch of owner/repo.
func DefaultBranch(ctx context.Context, c *Client, owner, repo string) (string, error) {
	if err := c.Budget.Acquire(ctx, 1); err != nil {
		return "", err
	}
	r, resp, err := c.Client.Repositories.Get(ctx, owner, repo)
	if resp != nil {
		c.Budget.UpdateFromResponse(resp.Response)
	}
	if err != nil {
		return "", fmt.Errorf("get repository %s/%s: %w", owner, repo, err)
	}
	return r.GetDefaultBranch(), nil
}

// ReleaseNotes returns the body of the release tagged v<version> or <version>.
// A repository without such a release yields "" and no error.
func ReleaseNotes(ctx context.Context, c *Client, owner, repo, version string) (string, error) {
	for _, tag := range []string{"v" + version, version} {
		if err := c.Budget.Acquire(ctx, 1); err != nil {
			return "", err
		}
		rel, resp, err := c.Client.Repositories.GetReleaseByTag(ctx, owner, repo, tag)
		if resp != nil {
			c.Budget.UpdateFromResponse(resp.Response)
		}
		if err == nil {
			return rel.GetBody(), nil
		}
		if !IsNotFound(err) {
			return "", fmt.Errorf("get release %s/%s@%s: %w", owner, repo, tag, err)
		}
	}
	return "", nil
}

// IsNotFound reports whether err is a GitHub 404.
func IsNotFound(err error) bool {
	var er *github.ErrorResponse
	return errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusNotFound
}
