package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient makes REST calls to the relay.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:8080").
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// GetStatus fetches /status.
func (c *HTTPClient) GetStatus(ctx context.Context) (*ConnectionInfo, error) {
	var info ConnectionInfo
	if err := c.get(ctx, "/status", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetProcess fetches /api/process.
func (c *HTTPClient) GetProcess(ctx context.Context) (*ProcessReport, error) {
	var r ProcessReport
	if err := c.get(ctx, "/api/process", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
