package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/marcus/riff/internal/models"
	"github.com/marcus/riff/internal/serverdb"
)

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

// RecordResponse wraps a single stored record.
type RecordResponse struct {
	Record models.Record `json:"record"`
}

// handleFetch handles GET /v1/users/{uid}/collections/{collection}.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	collection := r.PathValue("collection")
	t, ok := models.TypeForRemoteCollection(collection)
	if !ok {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "unknown collection: "+collection)
		return
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = parsed
	}

	db, err := s.docs.Get(uid)
	if err != nil {
		logFor(r.Context()).Error("open user db", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to open document store")
		return
	}
	docs, cursor, err := serverdb.ListDocuments(db, collection, since)
	if err != nil {
		logFor(r.Context()).Error("list documents", "collection", collection, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to list documents")
		return
	}
	s.metrics.RecordFetch()

	resp := FetchResponse{Records: make([]models.Record, 0, len(docs)), Cursor: cursor}
	for _, d := range docs {
		resp.Records = append(resp.Records, toRecord(t, d))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePut handles PUT /v1/users/{uid}/collections/{collection}/{id}.
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	var rec models.Record
	if !decodeBody(w, r, &rec) {
		return
	}
	id := r.PathValue("id")
	if rec.ID != "" && rec.ID != id {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "record id does not match path")
		return
	}
	op := serverdb.DocOp{
		Kind:       serverdb.OpPut,
		Collection: r.PathValue("collection"),
		ID:         id,
		Data:       rec.Payload,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
	if rec.Deleted {
		op.Kind, op.Data = serverdb.OpDelete, nil
	}
	s.writeOne(w, r, op)
}

// handleDelete handles DELETE /v1/users/{uid}/collections/{collection}/{id}.
// The optional at parameter is the client's deletion time.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	op := serverdb.DocOp{
		Kind:       serverdb.OpDelete,
		Collection: r.PathValue("collection"),
		ID:         r.PathValue("id"),
	}
	if v := r.URL.Query().Get("at"); v != "" {
		at, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "at must be an RFC 3339 timestamp")
			return
		}
		op.UpdatedAt = at
	}
	s.writeOne(w, r, op)
}

func (s *Server) writeOne(w http.ResponseWriter, r *http.Request, op serverdb.DocOp) {
	docs, ok := s.commit(w, r, []serverdb.DocOp{op})
	if !ok {
		return
	}
	t, _ := models.TypeForRemoteCollection(op.Collection)
	writeJSON(w, http.StatusOK, RecordResponse{Record: toRecord(t, docs[0])})
}

// handleBatch handles POST /v1/users/{uid}/batch.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Ops) > serverdb.MaxBatchOps {
		writeError(w, http.StatusBadRequest, ErrCodeTooLarge,
			fmt.Sprintf("batch has %d ops, limit is %d", len(req.Ops), serverdb.MaxBatchOps))
		return
	}

	ops := make([]serverdb.DocOp, len(req.Ops))
	for i, in := range req.Ops {
		ops[i] = serverdb.DocOp{
			Kind:       in.Operation,
			Collection: in.Collection,
			ID:         in.ID,
			CreatedAt:  in.Record.CreatedAt,
			UpdatedAt:  in.Record.UpdatedAt,
		}
		if in.Operation == serverdb.OpPut {
			ops[i].Data = in.Record.Payload
		}
	}

	docs, ok := s.commit(w, r, ops)
	if !ok {
		return
	}
	s.metrics.RecordBatch()
	writeJSON(w, http.StatusOK, BatchResponse{Applied: len(docs)})
}

// commit applies ops in one transaction on the user's store and publishes
// the result. It writes the error response itself and reports success.
func (s *Server) commit(w http.ResponseWriter, r *http.Request, ops []serverdb.DocOp) ([]serverdb.Document, bool) {
	uid := r.PathValue("uid")
	if err := serverdb.ValidateOps(ops); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidOp, err.Error())
		return nil, false
	}

	db, err := s.docs.Get(uid)
	if err != nil {
		logFor(r.Context()).Error("open user db", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to open document store")
		return nil, false
	}
	tx, err := db.BeginTx(r.Context(), nil)
	if err != nil {
		logFor(r.Context()).Error("begin tx", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to begin transaction")
		return nil, false
	}
	defer tx.Rollback()

	docs, err := serverdb.ApplyOps(tx, ops, time.Now())
	if err != nil {
		if errors.Is(err, serverdb.ErrInvalidOp) {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidOp, err.Error())
			return nil, false
		}
		logFor(r.Context()).Error("apply ops", "count", len(ops), "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to store documents")
		return nil, false
	}
	if err := tx.Commit(); err != nil {
		logFor(r.Context()).Error("commit", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to commit")
		return nil, false
	}

	s.metrics.RecordWrites(int64(len(docs)))
	s.hub.Publish(uid, docs)
	logFor(r.Context()).Debug("committed", "count", len(docs))
	return docs, true
}

func toRecord(t models.RecordType, d serverdb.Document) models.Record {
	return models.Record{
		ID:        d.ID,
		Type:      t,
		Payload:   d.Data,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
		Deleted:   d.Deleted,
	}
}
