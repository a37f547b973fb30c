package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors for the remote error taxonomy.
var (
	// ErrUnavailable means the remote could not be reached or is temporarily failing.
	// Writes that hit it are redirected to the write queue.
	ErrUnavailable  = errors.New("remote unavailable")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
)

// APIError is a structured error returned by the remote that is neither an
// availability nor an auth failure, e.g. a rejected payload.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// IsUnavailable reports whether err means "try again later": explicit
// ErrUnavailable, a deadline, or a network-level failure.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsAuth reports whether err requires re-authentication before any retry.
func IsAuth(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}
