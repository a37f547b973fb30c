// Package api is the riff-sync HTTP server: per-user document collections,
// atomic batches, and a websocket change feed.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/marcus/riff/internal/serverdb"
)

// MaxRequestBytes caps every request body. Clients split batches to stay under it.
const MaxRequestBytes = 10 << 20

// Server is the HTTP API server for riff-sync.
type Server struct {
	config      Config
	http        *http.Server
	store       *serverdb.ServerDB
	docs        *UserDBPool
	hub         *Hub
	metrics     *Metrics
	rateLimiter *RateLimiter
	cancel      context.CancelFunc
}

// NewServer creates a new Server with the given config and store.
func NewServer(cfg Config, store *serverdb.ServerDB) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("server store is required")
	}
	metrics := NewMetrics()
	s := &Server{
		config:      cfg,
		store:       store,
		docs:        NewUserDBPool(cfg.UserDataDir),
		hub:         NewHub(metrics),
		metrics:     metrics,
		rateLimiter: NewRateLimiter(),
	}

	s.http = &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     s.routes(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: subscribe connections stay open indefinitely.
		IdleTimeout: 120 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.housekeeping(ctx)

	return nil
}

// housekeeping prunes idle rate limit buckets and expired rate limit events.
func (s *Server) housekeeping(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("cleanup panic", "panic", r)
		}
	}()
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.rateLimiter.cleanup(10 * time.Minute)
			n, err := s.store.CleanupRateLimitEvents(s.config.RateLimitEventRetention)
			if err != nil {
				slog.Error("cleanup rate limit events", "err", err)
			} else if n > 0 {
				slog.Info("cleaned up rate limit events", "count", n)
			}
		}
	}
}

// Shutdown gracefully stops the server, ends change feeds, and closes all
// user databases.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.hub.Close()
	err := s.http.Shutdown(ctx)
	s.docs.CloseAll()
	return err
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health & metrics
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metricz", s.handleMetrics)

	// Documents
	mux.HandleFunc("GET /v1/users/{uid}/collections/{collection}", s.requireOwner(s.withRateLimit(s.handleFetch, classRead)))
	mux.HandleFunc("PUT /v1/users/{uid}/collections/{collection}/{id}", s.requireOwner(s.withRateLimit(s.handlePut, classWrite)))
	mux.HandleFunc("DELETE /v1/users/{uid}/collections/{collection}/{id}", s.requireOwner(s.withRateLimit(s.handleDelete, classWrite)))
	mux.HandleFunc("POST /v1/users/{uid}/batch", s.requireOwner(s.withRateLimit(s.handleBatch, classWrite)))

	// Change feed
	mux.HandleFunc("GET /v1/users/{uid}/subscribe", s.requireOwner(s.withRateLimit(s.handleSubscribe, classSubscribe)))

	return chain(mux, recoveryMiddleware, requestIDMiddleware, loggerMiddleware, metricsMiddleware(s.metrics), loggingMiddleware, s.CORSMiddleware, maxBytesMiddleware(MaxRequestBytes))
}

// handleHealth returns a health check response, pinging the server DB.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// metricsResponse adds store gauges to the counter snapshot.
type metricsResponse struct {
	MetricsSnapshot
	Users          int `json:"users"`
	OpenUserStores int `json:"open_user_stores"`
}

// handleMetrics returns a snapshot of server metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.CountUsers()
	if err != nil {
		logFor(r.Context()).Warn("count users", "err", err)
	}
	writeJSON(w, http.StatusOK, metricsResponse{
		MetricsSnapshot: s.metrics.Snapshot(),
		Users:           users,
		OpenUserStores:  s.docs.Len(),
	})
}
