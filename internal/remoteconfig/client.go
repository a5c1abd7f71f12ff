package remoteconfig

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxConfigBytes bounds the config response body.
const maxConfigBytes = 1 << 20

// Fetcher retrieves the snapshot for a client key.
type Fetcher interface {
	Fetch(ctx context.Context, clientKey string) (Snapshot, []string, error)
}

// Client fetches config documents over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client for baseURL. Requests are bounded by timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch issues one GET to {baseURL}/{clientKey}.json and decodes the result.
func (c *Client) Fetch(ctx context.Context, clientKey string) (Snapshot, []string, error) {
	if c == nil {
		return Defaults(), nil, fmt.Errorf("remote config client not configured")
	}

	endpoint := c.baseURL + "/" + url.PathEscape(clientKey) + ".json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Defaults(), nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Defaults(), nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Defaults(), nil, fmt.Errorf("config response status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxConfigBytes))
	if err != nil {
		return Defaults(), nil, fmt.Errorf("read response: %w", err)
	}

	return Decode(body)
}
