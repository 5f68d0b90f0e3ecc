// Package server exposes the latest snapshot over HTTP for downstream
// readers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/steveyegge/pulse/internal/report"
	"github.com/steveyegge/pulse/internal/snapshot"
)

// Options configures a Server.
type Options struct {
	// SnapshotPath is the artifact served.
	SnapshotPath string
	// MaxAge is the freshness threshold reported by /freshness.
	MaxAge time.Duration
	// Refresh, when set, is run by POST /refresh.
	Refresh func(ctx context.Context) error
	Log     *slog.Logger
	Now     func() time.Time
}

// Server serves snapshot reads.
type Server struct {
	opts       Options
	log        *slog.Logger
	refreshing atomic.Bool
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{opts: opts, log: opts.Log}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.health)
	r.Head("/healthz", s.health)
	r.Get("/snapshot", s.snapshot)
	r.Get("/metrics", s.metrics)
	r.Get("/summary", s.summary)
	r.Get("/freshness", s.freshness)
	r.Post("/refresh", s.refresh)
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("serving snapshots", "addr", addr, "path", s.opts.SnapshotPath)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// load reads the artifact, writing the error response itself on failure.
func (s *Server) load(w http.ResponseWriter) (*snapshot.Snapshot, bool) {
	snap, err := snapshot.Read(s.opts.SnapshotPath)
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", "no snapshot has been written yet")
		return nil, false
	case err != nil:
		s.log.Error("failed to read snapshot", "error", err)
		respondError(w, http.StatusInternalServerError, "read_failed", err.Error())
		return nil, false
	}
	return snap, true
}

// snapshot returns the artifact. A failure marker is served with 503 so
// readers cannot mistake it for data.
func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.load(w)
	if !ok {
		return
	}
	status := http.StatusOK
	if !snap.OK() {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, snap)
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.load(w)
	if !ok {
		return
	}
	if !snap.OK() || snap.Metrics == nil {
		respondError(w, http.StatusServiceUnavailable, "extraction_failed", snap.Error)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"run_id":       snap.RunID,
		"extracted_at": snap.ExtractedAt,
		"metrics":      snap.Metrics,
		"degraded":     snap.Degraded,
	})
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.load(w)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	if !snap.OK() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_, _ = w.Write([]byte(report.Summary(snap)))
}

func (s *Server) freshness(w http.ResponseWriter, r *http.Request) {
	rep, err := snapshot.Freshness(s.opts.SnapshotPath, s.opts.MaxAge, s.opts.Now())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "read_failed", err.Error())
		return
	}
	status := http.StatusOK
	if !rep.Fresh {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, rep)
}

// refresh runs one extraction in the background. Only one runs at a time.
func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	if s.opts.Refresh == nil {
		respondError(w, http.StatusNotImplemented, "not_configured", "refresh is not configured")
		return
	}
	if !s.refreshing.CompareAndSwap(false, true) {
		respondError(w, http.StatusConflict, "in_progress", "a refresh is already running")
		return
	}
	go func() {
		defer s.refreshing.Store(false)
		if err := s.opts.Refresh(context.WithoutCancel(r.Context())); err != nil {
			s.log.Error("refresh failed", "error", err)
		}
	}()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		level := slog.LevelDebug
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.log.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("failed to encode JSON response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: errorDetail{Code: code, Message: message}})
}
