// Package api provides the read-only HTTP API over stored simulation
// results. It reads the persistence store only; it never talks to a live
// model.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/talgya/urbansim/internal/persistence"
)

// Store is the read side of the persistence layer.
type Store interface {
	ListRuns(ctx context.Context, limit int) ([]persistence.Run, error)
	GetRun(ctx context.Context, runID string) (persistence.Run, error)
	Timesteps(ctx context.Context, runID string) ([]int, error)
	States(ctx context.Context, runID string, timestep int) ([]persistence.State, error)
	Summary(ctx context.Context, runID string) ([]persistence.TimestepSummary, error)
	Grid(ctx context.Context) ([]persistence.GridCell, error)
}

// Server serves stored runs over HTTP.
type Server struct {
	Store       Store
	Port        int
	CORSOrigins []string     // allowed origins besides the localhost dev servers
	Limiter     *RateLimiter // nil allows 600 requests per minute per IP
	Logger      *slog.Logger
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Handler returns the API's routes wrapped in CORS and rate limiting.
func (s *Server) Handler() http.Handler {
	limiter := s.Limiter
	if limiter == nil {
		limiter = NewRateLimiter(600, time.Minute)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/runs", s.handleRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/timesteps", s.handleTimesteps)
	mux.HandleFunc("GET /api/v1/runs/{id}/states", s.handleStates)
	mux.HandleFunc("GET /api/v1/runs/{id}/summary", s.handleSummary)
	mux.HandleFunc("GET /api/v1/grid", s.handleGrid)

	return corsMiddleware(s.CORSOrigins, RateLimitMiddleware(limiter, mux))
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger().Info("HTTP API starting", "addr", srv.Addr)

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
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

// corsMiddleware adds CORS headers for allowed frontend origins.
// Localhost dev servers are always allowed.
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	for _, origin := range origins {
		if origin != "" {
			allowedOrigins[origin] = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	runs, err := s.Store.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if runs == nil {
		runs = []persistence.Run{}
	}
	writeJSON(w, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.Store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	cfg, err := run.Config()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, struct {
		persistence.Run
		Config map[string]any `json:"config"`
	}{run, cfg})
}

func (s *Server) handleTimesteps(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.Store.GetRun(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	ts, err := s.Store.Timesteps(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if ts == nil {
		ts = []int{}
	}
	writeJSON(w, ts)
}

// handleStates returns every cell at ?timestep=N, or at the last stored
// timestep when the parameter is absent.
func (s *Server) handleStates(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.Store.GetRun(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}

	var timestep int
	if raw := r.URL.Query().Get("timestep"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "timestep must be a non-negative integer", http.StatusBadRequest)
			return
		}
		timestep = n
	} else {
		ts, err := s.Store.Timesteps(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if len(ts) == 0 {
			writeJSON(w, []persistence.State{})
			return
		}
		timestep = ts[len(ts)-1]
	}

	states, err := s.Store.States(r.Context(), id, timestep)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if states == nil {
		states = []persistence.State{}
	}
	writeJSON(w, states)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.Store.GetRun(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	sum, err := s.Store.Summary(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sum == nil {
		sum = []persistence.TimestepSummary{}
	}
	writeJSON(w, sum)
}

func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	cells, err := s.Store.Grid(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if cells == nil {
		cells = []persistence.GridCell{}
	}
	writeJSON(w, cells)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, persistence.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.logger().Error("api request failed", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
