// Package web serves the HTTP API: run submission, status, cancellation,
// a Server-Sent Events progress stream and read-only history.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lucasnoah/writefactory/internal/archive"
	"github.com/lucasnoah/writefactory/internal/cache"
	"github.com/lucasnoah/writefactory/internal/orchestrator"
	"github.com/lucasnoah/writefactory/internal/provider"
)

// Deps are the server's collaborators. Pool and Cache are optional.
type Deps struct {
	Service   *orchestrator.Service
	History   archive.Store
	Pool      *provider.Pool
	Cache     *cache.Cache
	Version   string
	Heartbeat time.Duration // SSE keep-alive interval, default 15s
	Log       zerolog.Logger
}

// Server is the HTTP API server.
type Server struct {
	svc       *orchestrator.Service
	history   archive.Store
	pool      *provider.Pool
	cache     *cache.Cache
	version   string
	heartbeat time.Duration
	log       zerolog.Logger
	mux       *http.ServeMux
}

// NewServer creates a Server with its routes registered.
func NewServer(d Deps) *Server {
	s := &Server{
		svc:       d.Service,
		history:   d.History,
		pool:      d.Pool,
		cache:     d.Cache,
		version:   d.Version,
		heartbeat: d.Heartbeat,
		log:       d.Log.With().Str("component", "web").Logger(),
		mux:       http.NewServeMux(),
	}
	if s.heartbeat <= 0 {
		s.heartbeat = 15 * time.Second
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/generate", s.handleGenerate)
	s.mux.HandleFunc("GET /api/generate", s.handleRuns)
	s.mux.HandleFunc("GET /api/generate/{id}", s.handleStatus)
	s.mux.HandleFunc("DELETE /api/generate/{id}", s.handleCancel)
	s.mux.HandleFunc("GET /api/generate/{id}/stream", s.handleStream)
	s.mux.HandleFunc("GET /api/history", s.handleHistory)
	s.mux.HandleFunc("GET /api/history/{id}", s.handleHistoryItem)
	s.mux.HandleFunc("GET /api/providers", s.handleProviders)
	s.mux.HandleFunc("GET /api/cache", s.handleCacheStats)
	s.mux.HandleFunc("DELETE /api/cache", s.handleCachePurge)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler returns the server's root handler with request logging.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// statusRecorder captures the response status for logging. It forwards
// Flush so SSE keeps working.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}
