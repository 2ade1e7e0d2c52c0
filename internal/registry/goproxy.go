package registry

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/mod/module"
	"golang.org/x/mod/semver"
	"golang.org/x/time/rate"
)

const DefaultGoProxyURL = "https://proxy.golang.org"

// GoProxySource queries a Go module proxy. @latest may report a pre-release
// when no release exists; in that case the version list is consulted.
type GoProxySource struct {
	BaseURL string
	HTTP    *retryablehttp.Client
	Limiter *rate.Limiter
}

func (s *GoProxySource) Latest(ctx context.Context, name string) (string, error) {
	escaped, err := module.EscapePath(name)
	if err != nil {
		return "", fmt.Errorf("go proxy %s: %w", name, err)
	}

	body, err := s.get(ctx, name, escaped+"/@latest")
	if err != nil {
		return "", err
	}
	var info struct {
		Version string `json:"Version"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return "", fmt.Errorf("go proxy %s: decode: %w", name, err)
	}
	if isStable(info.Version) {
		return info.Version, nil
	}

	body, err = s.get(ctx, name, escaped+"/@v/list")
	if err != nil {
		return "", err
	}
	best := ""
	sc := bufio.NewScanner(strings.NewReader(string(body)))
	for sc.Scan() {
		v := strings.TrimSpace(sc.Text())
		if !isStable(v) {
			continue
		}
		if best == "" || semver.Compare(v, best) > 0 {
			best = v
		}
	}
	if best == "" {
		return "", fmt.Errorf("go proxy %s: no stable release: %w", name, ErrNotFound)
	}
	return best, nil
}

func isStable(v string) bool {
	return semver.IsValid(v) && semver.Prerelease(v) == ""
}

func (s *GoProxySource) get(ctx context.Context, name, suffix string) ([]byte, error) {
	if s.Limiter != nil {
		if err := s.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	base := strings.TrimRight(s.BaseURL, "/")
	if base == "" {
		base = DefaultGoProxyURL
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, base+"/"+suffix, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("go proxy lookup %s: %w", name, err)
	}
	defer resp.Body.Close()

	// The proxy answers 410 Gone for modules it refuses to serve.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, fmt.Errorf("go proxy %s: %w", name, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("go proxy %s: unexpected status %d", name, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}
