package github

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v68/github"
)

// PresentError renders err as one readable line without the request URL that
// go-github includes in its messages. verbose keeps the raw error text.
func PresentError(err error, verbose bool) string {
	if err == nil {
		return "unknown error"
	}
	full := strings.TrimSpace(err.Error())
	if verbose {
		return full
	}

	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		return fmt.Sprintf("GitHub API rate limit exceeded (resets %s)", rle.Rate.Reset.Format("15:04:05 MST"))
	}
	var arle *github.AbuseRateLimitError
	if errors.As(err, &arle) {
		return "GitHub API secondary rate limit exceeded"
	}

	var er *github.ErrorResponse
	if errors.As(err, &er) {
		msg := strings.TrimSpace(er.Message)
		if msg == "" {
			msg = "request failed"
		}
		if er.Response != nil {
			code := er.Response.StatusCode
			return fmt.Sprintf("GitHub API %d %s: %s", code, http.StatusText(code), msg)
		}
		return "GitHub API: " + msg
	}

	if scrubbed := scrubRequestPrefix(full); scrubbed != "" {
		return scrubbed
	}
	return full
}

// scrubRequestPrefix drops a leading "GET https://api.github.com/...: " from
// anywhere in a wrapped error string.
func scrubRequestPrefix(s string) string {
	for _, m := range []string{"GET ", "POST ", "PUT ", "PATCH ", "DELETE "} {
		i := strings.Index(s, m+"http")
		if i < 0 {
			continue
		}
		j := strings.Index(s[i:], ": ")
		if j < 0 {
			return strings.TrimSpace(s[:i])
		}
		return strings.TrimSpace(s[:i] + s[i+j+2:])
	}
	return ""
}
