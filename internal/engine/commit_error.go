package engine

import (
	"errors"
	"strings"

	"depsync/internal/commit"
	gh "depsync/internal/github"

	"github.com/google/go-github/v68/github"
)

// presentCommitError renders a commit failure for the report. The most
// specific attempt of a chain comes first; go-github errors lose their
// request URLs unless verbose.
func presentCommitError(err error, verbose bool) string {
	if err == nil {
		return "unknown error"
	}
	var ce *commit.ChainError
	if !errors.As(err, &ce) || len(ce.Attempts) == 0 {
		return presentAttempt(err, verbose)
	}

	parts := make([]string, 0, len(ce.Attempts))
	if ce.Cause != nil {
		parts = append(parts, presentAttempt(ce.Cause, verbose))
	}
	for _, a := range ce.Attempts {
		if a == ce.Cause {
			continue
		}
		parts = append(parts, presentAttempt(a, verbose))
	}
	return strings.Join(parts, "; ")
}

// presentAttempt swaps the raw go-github text inside a wrapped error for its
// one-line presentation, keeping the wrapping context.
func presentAttempt(err error, verbose bool) string {
	full := strings.TrimSpace(err.Error())
	if verbose {
		return full
	}

	var raw error
	var rle *github.RateLimitError
	var arle *github.AbuseRateLimitError
	var er *github.ErrorResponse
	switch {
	case errors.As(err, &rle):
		raw = rle
	case errors.As(err, &arle):
		raw = arle
	case errors.As(err, &er):
		raw = er
	}
	if raw != nil {
		if s := raw.Error(); strings.Contains(full, s) {
			return strings.Replace(full, s, gh.PresentError(raw, false), 1)
		}
	}
	return gh.PresentError(err, false)
}
