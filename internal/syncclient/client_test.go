package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/marcus/riff/internal/events"
	"github.com/marcus/riff/internal/models"
	"github.com/marcus/riff/internal/remote"
)

func TestFetchSinceSendsCursor(t *testing.T) {
	since := time.Date(2026, 3, 1, 12, 0, 0, 5, time.UTC)
	cursor := since.Add(time.Minute)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/users/u1/collections/practice_sessions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("since"); got != since.Format(time.RFC3339Nano) {
			t.Errorf("since = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("auth header = %q", got)
		}
		json.NewEncoder(w).Encode(FetchResponse{
			Records: []models.Record{{ID: "s1", Payload: json.RawMessage(`{"date":"2026-03-01","duration_minutes":20}`), UpdatedAt: cursor}},
			Cursor:  cursor,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "key")
	page, err := c.FetchSince(context.Background(), "u1", models.TypePracticeSession, since)
	if err != nil {
		t.Fatalf("FetchSince: %v", err)
	}
	if len(page.Records) != 1 || page.Records[0].Type != models.TypePracticeSession {
		t.Fatalf("records = %+v", page.Records)
	}
	if !page.Cursor.Equal(cursor) {
		t.Errorf("cursor = %v, want %v", page.Cursor, cursor)
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		body   string
		check  func(error) bool
	}{
		{http.StatusUnauthorized, `{"error":{"code":"unauthorized","message":"bad key"}}`, func(err error) bool { return errors.Is(err, remote.ErrUnauthorized) }},
		{http.StatusForbidden, `{"error":{"code":"forbidden","message":"not yours"}}`, func(err error) bool { return errors.Is(err, remote.ErrForbidden) }},
		{http.StatusTooManyRequests, `{"error":{"code":"rate_limited","message":"slow down"}}`, remote.IsUnavailable},
		{http.StatusBadGateway, `upstream down`, remote.IsUnavailable},
		{http.StatusBadRequest, `{"error":{"code":"bad_request","message":"no"}}`, func(err error) bool {
			var apiErr *remote.APIError
			return errors.As(err, &apiErr) && apiErr.Code == "bad_request" && !remote.IsUnavailable(err)
		}},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := New(srv.URL, "key").Put(context.Background(), "u1", models.Record{ID: "g1", Type: models.TypeGoal})
			if err == nil || !tt.check(err) {
				t.Errorf("unexpected classification: %v", err)
			}
		})
	}
}

func TestUnreachableIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, "key").FetchAll(context.Background(), "u1", models.TypeGoal)
	if !remote.IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if !remote.IsUnavailable(New(url, "").Ping(context.Background())) {
		t.Error("ping of closed server should be unavailable")
	}
}

func TestDeleteAndBatch(t *testing.T) {
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	var gotBatch BatchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "DELETE":
			if r.URL.Path != "/v1/users/u1/collections/goals/g1" || r.URL.Query().Get("at") != at.Format(time.RFC3339Nano) {
				t.Errorf("delete url = %s", r.URL)
			}
			w.WriteHeader(http.StatusNoContent)
		case r.Method == "POST" && strings.HasSuffix(r.URL.Path, "/batch"):
			json.NewDecoder(r.Body).Decode(&gotBatch)
			json.NewEncoder(w).Encode(BatchResponse{Applied: len(gotBatch.Ops)})
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "key")
	if err := c.Delete(context.Background(), "u1", models.TypeGoal, "g1", at); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	ops := []remote.Op{
		remote.PutOp(models.Record{ID: "r1", Type: models.TypeRepertoire, Payload: json.RawMessage(`{"title":"So What","status":"learning"}`)}),
		remote.PutOp(models.Record{ID: "s1", Type: models.TypePracticeSession, Deleted: true, UpdatedAt: at}),
	}
	if err := c.BatchCommit(context.Background(), "u1", ops); err != nil {
		t.Fatalf("BatchCommit: %v", err)
	}
	if len(gotBatch.Ops) != 2 {
		t.Fatalf("ops = %+v", gotBatch.Ops)
	}
	if gotBatch.Ops[0].Collection != "repertoire" || gotBatch.Ops[0].Operation != "put" {
		t.Errorf("op 0 = %+v", gotBatch.Ops[0])
	}
	if gotBatch.Ops[1].Collection != "practice_sessions" || gotBatch.Ops[1].Operation != "delete" {
		t.Errorf("op 1 = %+v", gotBatch.Ops[1])
	}
}

func TestSubscribeDeliversBatches(t *testing.T) {
	now := time.Now().UTC()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("collection") != "goals" {
			t.Errorf("collection = %q", r.URL.Query().Get("collection"))
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		frames := []ChangeMessage{
			{Collection: "repertoire", Changes: []ChangeRecord{{ID: "ignored", Kind: "updated"}}},
			{Collection: "goals", Changes: []ChangeRecord{{ID: "g1", Kind: "updated", UpdatedAt: now}, {ID: "g2", Kind: "deleted", UpdatedAt: now}}},
		}
		for _, f := range frames {
			data, _ := json.Marshal(f)
			if err := conn.Write(r.Context(), websocket.MessageText, data); err != nil {
				return
			}
		}
		conn.Read(r.Context())
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, stop, err := New(srv.URL, "key").Subscribe(ctx, "u1", models.TypeGoal)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	select {
	case batch := <-ch:
		if len(batch) != 2 || batch[0].ID != "g1" || batch[1].Kind != events.ChangeDeleted || batch[0].Type != models.TypeGoal {
			t.Fatalf("batch = %+v", batch)
		}
	case <-ctx.Done():
		t.Fatal("no batch received")
	}

	stop()
	for range ch {
	}
}

func TestSetAPIKeySwapsCredential(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	rec := models.Record{ID: "g1", Type: models.TypeGoal, Payload: json.RawMessage(`{"title":"x"}`)}
	if err := c.Put(context.Background(), "u1", rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	c.SetAPIKey("riff_new")
	if err := c.Put(context.Background(), "u1", rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	if len(got) != 2 || got[0] != "" || got[1] != "Bearer riff_new" {
		t.Errorf("auth headers = %q", got)
	}
}
