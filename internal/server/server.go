// Package server exposes the detection pipeline over HTTP. Detection and
// approval handlers share one memory store, so state-mutating requests are
// serialized with a mutex; the store itself is single-writer.
package server

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wayscout-io/wayscout/internal/memory"
	"github.com/wayscout-io/wayscout/internal/otel"
	"github.com/wayscout-io/wayscout/internal/runner"
)

const defaultTimeout = 60 * time.Second

// Detection runs can spend minutes inside the agent loop; they bypass the
// short request timeout.
const detectTimeout = 10 * time.Minute

// Server holds the HTTP API dependencies.
type Server struct {
	router    *chi.Mux
	runner    *runner.Runner
	store     *memory.Store
	mu        sync.Mutex
	startTime time.Time
}

// NewServer builds a Server over a runner and memory store.
func NewServer(r *runner.Runner, store *memory.Store) *Server {
	return &Server{
		router:    chi.NewRouter(),
		runner:    r,
		store:     store,
		startTime: time.Now(),
	}
}

// Routes returns the configured http.Handler. Detection routes are
// registered without the default request timeout so the agent loop's own
// deadline applies.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otel.Middleware())

	r.Get("/healthz", s.handleHealth)

	r.Post("/detect-events", s.handleDetectEvents)
	r.Post("/detect-events-with-approvals", s.handleDetectWithApprovals)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(defaultTimeout))
		r.Get("/next-approval", s.handleNextApproval)
		r.Post("/submit-approval", s.handleSubmitApproval)
		r.Post("/approve", s.handleSubmitApproval)
		r.Get("/state", s.handleState)
	})

	return r
}

// RunScheduled executes one cron-triggered detection run under the same
// mutex as the HTTP handlers, so a scheduled run never mutates the store
// concurrently with an approval request. Scheduled runs auto-approve
// nothing; events land in the pending queue for the approval endpoints.
func (s *Server) RunScheduled(ctx context.Context, preferencesPath, itineraryPath string) (*runner.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, detectTimeout)
	defer cancel()

	res, err := s.runner.Detect(ctx, s.store, preferencesPath, itineraryPath, 0)
	if err != nil {
		return nil, err
	}
	s.store.AddHistory(fmt.Sprintf("Scheduled run completed with %d events.", len(res.Batch.Events)))
	s.store.MustSave()
	return res, nil
}

func (s *Server) outputsPath(name string) string {
	return filepath.Join(s.runner.Config().OutputsDir(), name)
}
