// Package notify signals the downstream health checker that managed
// repositories changed and their configuration should be rechecked.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"depsync/internal/data"

	"github.com/hashicorp/go-retryablehttp"
)

const ConfigSyncPath = "/admin/config-sync"

var ErrDisabled = errors.New("notification target not configured")

type Notifier struct {
	baseURL string
	http    *retryablehttp.Client
}

// New returns a notifier posting to baseURL + /admin/config-sync. An empty
// baseURL yields a notifier whose Notify always returns ErrDisabled.
func New(baseURL string, client *retryablehttp.Client) *Notifier {
	return &Notifier{baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

type payload struct {
	RunID     string                `json:"run_id"`
	Committed []data.CommittedEntry `json:"committed"`
}

// Notify posts once, with the client's bounded retries. Any 2xx is an
// acknowledgement.
func (n *Notifier) Notify(ctx context.Context, runID string, committed []data.CommittedEntry) error {
	if n == nil || n.baseURL == "" {
		return ErrDisabled
	}
	if committed == nil {
		committed = []data.CommittedEntry{}
	}
	body, err := json.Marshal(payload{RunID: runID, Committed: committed})
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+ConfigSyncPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("config sync: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("config sync: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("config sync: http %d", resp.StatusCode)
	}
	return nil
}
