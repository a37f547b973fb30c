// Package syncclient implements remote.Store against a riff-sync server over
// HTTP, with a websocket change feed.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/marcus/riff/internal/models"
	"github.com/marcus/riff/internal/remote"
)

// Client is an HTTP client for the riff-sync server.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	mu     sync.RWMutex
	apiKey string
}

var _ remote.Store = (*Client)(nil)

// New creates a new sync client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		apiKey:  apiKey,
	}
}

// SetAPIKey swaps the bearer credential used by later requests.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	c.apiKey = key
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.apiKey == "" {
		return ""
	}
	return "Bearer " + c.apiKey
}

// --- Wire types (mirrors internal/api, independently defined) ---

// FetchResponse is the body of a collection fetch.
type FetchResponse struct {
	Records []models.Record `json:"records"`
	Cursor  time.Time       `json:"cursor"`
}

// BatchOp is one operation in a batch commit.
type BatchOp struct {
	Collection string        `json:"collection"`
	ID         string        `json:"id"`
	Operation  string        `json:"operation"`
	Record     models.Record `json:"record"`
}

// BatchRequest is the body of POST /v1/users/{uid}/batch.
type BatchRequest struct {
	Ops []BatchOp `json:"ops"`
}

// BatchResponse reports how many ops were applied.
type BatchResponse struct {
	Applied int `json:"applied"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// --- remote.Store ---

// Ping hits /healthz without credentials.
func (c *Client) Ping(ctx context.Context) error {
	var resp HealthResponse
	if err := c.doNoAuth(ctx, "GET", "/healthz", nil, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("%w: health status %q", remote.ErrUnavailable, resp.Status)
	}
	return nil
}

// FetchAll returns the whole collection, tombstones included.
func (c *Client) FetchAll(ctx context.Context, userID string, t models.RecordType) (remote.Page, error) {
	return c.fetch(ctx, userID, t, time.Time{})
}

// FetchSince returns documents that arrived after since.
func (c *Client) FetchSince(ctx context.Context, userID string, t models.RecordType, since time.Time) (remote.Page, error) {
	return c.fetch(ctx, userID, t, since)
}

func (c *Client) fetch(ctx context.Context, userID string, t models.RecordType, since time.Time) (remote.Page, error) {
	path := collectionPath(userID, t)
	if !since.IsZero() {
		path += "?" + url.Values{"since": {since.UTC().Format(time.RFC3339Nano)}}.Encode()
	}

	var resp FetchResponse
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return remote.Page{}, fmt.Errorf("fetch %s: %w", t.RemoteCollection(), err)
	}
	for i := range resp.Records {
		resp.Records[i].Type = t
	}
	return remote.Page{Records: resp.Records, Cursor: resp.Cursor}, nil
}

// Put upserts one document.
func (c *Client) Put(ctx context.Context, userID string, rec models.Record) error {
	if err := c.do(ctx, "PUT", documentPath(userID, rec.Type, rec.ID), rec, nil); err != nil {
		return fmt.Errorf("put %s/%s: %w", rec.Type.RemoteCollection(), rec.ID, err)
	}
	return nil
}

// Delete tombstones one document as of deletedAt.
func (c *Client) Delete(ctx context.Context, userID string, t models.RecordType, id string, deletedAt time.Time) error {
	path := documentPath(userID, t, id)
	if !deletedAt.IsZero() {
		path += "?" + url.Values{"at": {deletedAt.UTC().Format(time.RFC3339Nano)}}.Encode()
	}
	if err := c.do(ctx, "DELETE", path, nil, nil); err != nil && !errors.Is(err, remote.ErrNotFound) {
		return fmt.Errorf("delete %s/%s: %w", t.RemoteCollection(), id, err)
	}
	return nil
}

// BatchCommit applies ops in one server transaction.
func (c *Client) BatchCommit(ctx context.Context, userID string, ops []remote.Op) error {
	if len(ops) == 0 {
		return nil
	}
	req := BatchRequest{Ops: make([]BatchOp, len(ops))}
	for i, op := range ops {
		req.Ops[i] = BatchOp{
			Collection: op.Record.Type.RemoteCollection(),
			ID:         op.Record.ID,
			Operation:  string(op.Kind),
			Record:     op.Record,
		}
	}
	var resp BatchResponse
	if err := c.do(ctx, "POST", "/v1/users/"+url.PathEscape(userID)+"/batch", req, &resp); err != nil {
		return fmt.Errorf("batch commit (%d ops): %w", len(ops), err)
	}
	return nil
}

func collectionPath(userID string, t models.RecordType) string {
	return "/v1/users/" + url.PathEscape(userID) + "/collections/" + t.RemoteCollection()
}

func documentPath(userID string, t models.RecordType, id string) string {
	return collectionPath(userID, t) + "/" + url.PathEscape(id)
}

// --- HTTP helpers ---

// apiError is the standard error body from the server.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// do executes an authenticated HTTP request.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	return c.doRequest(ctx, method, path, body, result, true)
}

// doNoAuth executes an unauthenticated HTTP request.
func (c *Client) doNoAuth(ctx context.Context, method, path string, body, result any) error {
	return c.doRequest(ctx, method, path, body, result, false)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result any, auth bool) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b := c.bearer(); auth && b != "" {
		req.Header.Set("Authorization", b)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", remote.ErrUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		return statusError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// statusError maps an HTTP failure onto the remote error taxonomy.
func statusError(status int, body []byte) error {
	var e apiError
	msg := strings.TrimSpace(string(body))
	code := http.StatusText(status)
	if json.Unmarshal(body, &e) == nil && e.Error.Code != "" {
		code, msg = e.Error.Code, e.Error.Message
	}

	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", remote.ErrUnauthorized, msg)
	case status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", remote.ErrForbidden, msg)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", remote.ErrNotFound, msg)
	case status == http.StatusTooManyRequests, status >= 500:
		return fmt.Errorf("%w: HTTP %d %s", remote.ErrUnavailable, status, msg)
	}
	return &remote.APIError{Status: status, Code: code, Message: msg}
}
