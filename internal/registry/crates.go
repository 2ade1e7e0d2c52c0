package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

const DefaultCratesURL = "https://crates.io"

// CratesSource queries the crates.io API. max_stable_version already excludes
// pre-release and yanked versions.
type CratesSource struct {
	BaseURL   string
	UserAgent string
	HTTP      *retryablehttp.Client
	Limiter   *rate.Limiter
}

type cratesResponse struct {
	Crate struct {
		MaxStableVersion string `json:"max_stable_version"`
	} `json:"crate"`
}

func (s *CratesSource) Latest(ctx context.Context, name string) (string, error) {
	if s.Limiter != nil {
		if err := s.Limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	base := strings.TrimRight(s.BaseURL, "/")
	if base == "" {
		base = DefaultCratesURL
	}
	endpoint := fmt.Sprintf("%s/api/v1/crates/%s", base, url.PathEscape(name))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	// crates.io rejects requests without a descriptive User-Agent.
	req.Header.Set("User-Agent", s.UserAgent)

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("crates.io lookup %s: %w", name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("crates.io %s: %w", name, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", fmt.Errorf("crates.io %s: unexpected status %d", name, resp.StatusCode)
	}

	var body cratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("crates.io %s: decode: %w", name, err)
	}
	if body.Crate.MaxStableVersion == "" {
		return "", fmt.Errorf("crates.io %s: no stable release: %w", name, ErrNotFound)
	}
	return body.Crate.MaxStableVersion, nil
}
