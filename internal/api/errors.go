package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// Error codes carried in the error envelope. syncclient maps 401/403 to the
// remote auth sentinels and everything else to a *remote.APIError with the code.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeInternal     = "internal"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeInvalidOp    = "invalid_op"
	ErrCodeTooLarge     = "batch_too_large"
	ErrCodeBodyTooLarge = "body_too_large"
)

// APIError is the body of every non-2xx riff-sync response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the {"error": {...}} envelope.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error: APIError{Code: code, Message: message},
	}); err != nil {
		slog.Error("write error response", "err", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write json response", "err", err)
	}
}

// decodeBody reads a JSON request body into v. On failure it writes the error
// response and returns false: 413 when the body hit the size limit, 400 otherwise.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBodyTooLarge, "request body exceeds the size limit")
		return false
	}
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
	return false
}
