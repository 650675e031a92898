// Package feed implements the data plane's half of the snapshot feed
// contract, per spec.md §4.3: poll the control plane's
// GET /api/v1/config/published endpoint and decode its {version_id,
// sequence, snapshot} body.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/relaymesh/gatewayd/internal/snapshot"
)

// ErrNoPublishedVersion mirrors the control plane's "nothing published yet"
// response (HTTP 404): the reconciler retains its current active state and
// continues, per spec.md §4.4 step 1.
var ErrNoPublishedVersion = errors.New("feed: no published version")

// Result is the decoded response of GET /api/v1/config/published.
type Result struct {
	VersionID string
	Sequence  int64
	Snapshot  *snapshot.Snapshot
}

type publishedResponse struct {
	VersionID string            `json:"version_id"`
	Sequence  int64             `json:"sequence"`
	Snapshot  snapshot.Snapshot `json:"snapshot"`
}

// Client fetches the currently published snapshot from one control plane.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client. baseURL is the bare control-plane base URL (e.g.
// "https://control.internal:8443").
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Fetch retrieves the currently published snapshot. Returns
// ErrNoPublishedVersion if the control plane has never published one.
func (c *Client) Fetch(ctx context.Context) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/config/published", nil)
	if err != nil {
		return nil, fmt.Errorf("feed: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoPublishedVersion
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed: control plane returned %d", resp.StatusCode)
	}

	var body publishedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("feed: decode response: %w", err)
	}

	s := body.Snapshot
	return &Result{VersionID: body.VersionID, Sequence: body.Sequence, Snapshot: &s}, nil
}
