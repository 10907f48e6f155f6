// Package client provides a Go SDK for talking to one node of the
// key-value store over its HTTP surface (spec.md §8). It hides HTTP
// request construction, JSON encoding, and status-code handling behind a
// small set of typed methods — the same shape the teacher's client
// package uses, generalized onto the new /get, /set, /delete, /bulk,
// /snapshot, and /debug/info routes.
//
// A Client talks to exactly one node. If that node is not the cluster
// leader, writes come back as an APIError with Status 503 and the caller
// is expected to retry against whichever node it currently believes is
// leader — this SDK does not chase leadership redirects on its own.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a thin HTTP wrapper around a single node's address.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for baseURL (e.g. "http://localhost:8080"). A zero
// timeout defaults to 10s — never call the network without one.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetResponse is the decoded body of a successful GET /get/{key}.
type GetResponse struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// SetResponse is the decoded body of a successful POST /set.
type SetResponse struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Get retrieves the value stored at key. A missing key surfaces as
// ErrNotFound rather than a generic APIError.
func (c *Client) Get(ctx context.Context, key string) (*GetResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/get/%s", c.baseURL, key), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result GetResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// Set stores key=value, failing with an APIError{Status: 503} if this
// node is not currently the leader. debug requests the server's 1%
// simulated-failure injection for this write (spec.md §6: {key, value,
// debug?}).
func (c *Client) Set(ctx context.Context, key string, value any, debug bool) (*SetResponse, error) {
	body, err := json.Marshal(map[string]any{"key": key, "value": value, "debug": debug})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/set", c.baseURL), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST /set failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result SetResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// Delete removes key.
func (c *Client) Delete(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/delete/%s", c.baseURL, key), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("DELETE request failed: %w", err)
	}
	defer resp.Body.Close()

	return checkStatus(resp)
}

// BulkItem is one pair in a Bulk call.
type BulkItem struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Bulk applies every item as a single atomic server-side write. debug
// requests the server's 1% simulated-failure injection for this write.
func (c *Client) Bulk(ctx context.Context, items []BulkItem, debug bool) error {
	body, err := json.Marshal(map[string]any{"items": items, "debug": debug})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/bulk", c.baseURL), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST /bulk failed: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// Snapshot asks the node to persist its current state and truncate its log.
func (c *Client) Snapshot(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/snapshot", c.baseURL), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST /snapshot failed: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// DebugInfo is the decoded body of GET /debug/info: exactly
// {node_id, role, leader, term, peers} per spec.md §6.
type DebugInfo struct {
	NodeID string   `json:"node_id"`
	Role   string   `json:"role"`
	Leader string   `json:"leader"`
	Term   int      `json:"term"`
	Peers  []string `json:"peers"`
}

// DebugInfo fetches the node's current role, term, believed leader, and
// peer list.
func (c *Client) DebugInfo(ctx context.Context) (*DebugInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/debug/info", c.baseURL), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET /debug/info failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var info DebugInfo
	return &info, json.NewDecoder(resp.Body).Decode(&info)
}

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = fmt.Errorf("key not found")

// APIError carries the HTTP status and the error message from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// checkStatus converts a non-2xx HTTP response into an APIError,
// preferring the server's {"error": "..."} body if present.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
