package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bastionhq/bastion/pkg/types"
)

// Client is a thin HTTP client for the panel API, used by the CLI
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the panel at baseURL
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// NodeView is a node as the API reports it, with live connectivity
type NodeView struct {
	*types.Node
	Connected bool             `json:"connected"`
	Stats     *types.NodeStats `json:"stats,omitempty"`
}

// Suggestion is the placement query result
type Suggestion struct {
	Best         *types.Candidate  `json:"best"`
	Alternatives []types.Candidate `json:"alternatives"`
}

// ListNodes returns all nodes with their connectivity state
func (c *Client) ListNodes(ctx context.Context) ([]NodeView, error) {
	var nodes []NodeView
	if err := c.do(ctx, http.MethodGet, "/api/nodes", nil, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// CreateNode registers a node and returns it, including the generated
// daemon secret
func (c *Client) CreateNode(ctx context.Context, node *types.Node) (*types.Node, error) {
	var created types.Node
	if err := c.do(ctx, http.MethodPost, "/api/nodes", node, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ListServers returns all servers
func (c *Client) ListServers(ctx context.Context) ([]*types.Server, error) {
	var servers []*types.Server
	if err := c.do(ctx, http.MethodGet, "/api/servers", nil, &servers); err != nil {
		return nil, err
	}
	return servers, nil
}

// Suggest runs the placement query for a resource request
func (c *Client) Suggest(ctx context.Context, req types.ResourceRequest) (*Suggestion, error) {
	var suggestion Suggestion
	if err := c.do(ctx, http.MethodPost, "/api/deployable", req, &suggestion); err != nil {
		return nil, err
	}
	return &suggestion, nil
}

// Power applies a power action to a server
func (c *Client) Power(ctx context.Context, serverID string, action types.PowerAction) error {
	path := fmt.Sprintf("/api/servers/%s/power", serverID)
	return c.do(ctx, http.MethodPost, path, map[string]types.PowerAction{"action": action}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("panel request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("panel returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("panel returned %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
