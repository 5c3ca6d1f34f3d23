package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
)

// Client queries a running agent's API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for addr ("host:port" or a full URL).
func NewClient(addr string) *Client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Status fetches GET /status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.get(ctx, "/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Permissions fetches GET /permissions.
func (c *Client) Permissions(ctx context.Context) (domain.PermissionStatus, error) {
	var out domain.PermissionStatus
	err := c.get(ctx, "/permissions", &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agent not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("GET %s: failed to decode response: %w", path, err)
	}
	return nil
}
