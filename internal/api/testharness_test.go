package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/marcus/riff/internal/serverdb"
)

// TestHarness wraps a full Server with a real HTTP listener for integration tests.
type TestHarness struct {
	t       *testing.T
	Server  *Server
	Store   *serverdb.ServerDB
	BaseURL string
	client  *http.Client
	httpSrv *httptest.Server
}

// newTestHarness creates a TestHarness with a real HTTP server on a random port.
func newTestHarness(t *testing.T, opts ...func(*Config)) *TestHarness {
	t.Helper()

	tmpDir := t.TempDir()

	dbPath := filepath.Join(tmpDir, "server.db")
	store, err := serverdb.Open(dbPath)
	if err != nil {
		t.Fatalf("open server db: %v", err)
	}

	cfg := Config{
		RateLimitRead:      100000,
		RateLimitWrite:     100000,
		RateLimitSubscribe: 100000,
		ListenAddr:         ":0",
		ServerDBPath:       dbPath,
		UserDataDir:        filepath.Join(tmpDir, "users"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	srv, err := NewServer(cfg, store)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}

	httpSrv := httptest.NewServer(srv.Handler())

	h := &TestHarness{
		t:       t,
		Server:  srv,
		Store:   store,
		BaseURL: httpSrv.URL,
		client:  &http.Client{},
		httpSrv: httpSrv,
	}

	t.Cleanup(func() {
		srv.hub.Close()
		httpSrv.Close()
		srv.docs.CloseAll()
		store.Close()
	})

	return h
}

// CreateUser creates a user and returns its id and a fresh API key.
func (h *TestHarness) CreateUser(email string) (string, string) {
	h.t.Helper()
	u, err := h.Store.CreateUser(email)
	if err != nil {
		h.t.Fatalf("create user: %v", err)
	}
	key, _, err := h.Store.GenerateAPIKey(u.ID, "test", nil)
	if err != nil {
		h.t.Fatalf("generate key: %v", err)
	}
	return u.ID, key
}

// Do sends an HTTP request and returns the response.
// Caller must close resp.Body unless using assertion helpers (AssertStatus,
// AssertErrorResponse, ReadJSON) which close it automatically.
func (h *TestHarness) Do(method, path, token string, body any) *http.Response {
	h.t.Helper()

	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		reader = &buf
	}

	req, err := http.NewRequest(method, h.BaseURL+path, reader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.t.Fatalf("do request %s %s: %v", method, path, err)
	}
	return resp
}

// DoJSON sends an HTTP request and decodes the JSON response into out.
// Fatals if the response status is >= 400 or if JSON decoding fails.
func (h *TestHarness) DoJSON(method, path, token string, body any, out any) {
	h.t.Helper()

	resp := h.Do(method, path, token, body)
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		h.t.Fatalf("DoJSON %s %s: expected success, got %d: %s", method, path, resp.StatusCode, respBody)
	}
	if out == nil {
		return
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		h.t.Fatalf("decode response: %v", err)
	}
}

// AssertStatus checks the response status and closes the body.
func (h *TestHarness) AssertStatus(resp *http.Response, want int) {
	h.t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		h.t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, body)
	}
}

// AssertErrorResponse checks status and error code and closes the body.
func (h *TestHarness) AssertErrorResponse(resp *http.Response, wantStatus int, wantCode string) {
	h.t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		body, _ := io.ReadAll(resp.Body)
		h.t.Fatalf("expected status %d, got %d: %s", wantStatus, resp.StatusCode, body)
	}
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		h.t.Fatalf("decode error response: %v", err)
	}
	if er.Error.Code != wantCode {
		h.t.Fatalf("expected error code %q, got %q (%s)", wantCode, er.Error.Code, er.Error.Message)
	}
}
