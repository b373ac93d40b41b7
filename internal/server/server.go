// Package server exposes calibration studies and metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/copyleftdev/episim-calibrate/internal/errors"
	"github.com/copyleftdev/episim-calibrate/internal/logging"
	"github.com/copyleftdev/episim-calibrate/internal/optimization"
	"github.com/copyleftdev/episim-calibrate/internal/telemetry"
)

// Config holds the HTTP server timeouts.
type Config struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the server timeouts.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// StudySummary is one entry of the study list.
type StudySummary struct {
	Name      string                 `json:"name"`
	Trials    int                    `json:"trials"`
	Complete  int                    `json:"complete"`
	Failed    int                    `json:"failed"`
	Running   int                    `json:"running"`
	BestTrial *int                   `json:"best_trial,omitempty"`
	BestValue *float64               `json:"best_value,omitempty"`
	UserAttrs map[string]interface{} `json:"user_attrs"`
	UpdatedAt time.Time              `json:"updated_at"`
	Live      bool                   `json:"live"`
}

// Server serves persisted studies and the studies running in this process.
type Server struct {
	cfg     Config
	storage telemetry.Lister
	metrics *telemetry.Metrics
	logger  *logging.Logger

	// live studies are read through their own snapshot so that a running
	// calibration is visible before its next save.
	mu   sync.RWMutex
	live map[string]*optimization.Study
}

// NewServer creates a server over storage. metrics may be nil.
func NewServer(cfg Config, storage telemetry.Lister, metrics *telemetry.Metrics, logger *logging.Logger) *Server {
	return &Server{
		cfg:     cfg,
		storage: storage,
		metrics: metrics,
		logger:  logger,
		live:    make(map[string]*optimization.Study),
	}
}

// Track makes a running study visible through the API.
func (s *Server) Track(study *optimization.Study) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live[study.Name()] = study
}

// Handler returns the router with all middleware and routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(s.logger))
	r.Use(errors.RecoveryMiddleware(s.logger))
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	s.RegisterRoutes(r)
	return r
}

// RegisterRoutes adds the study API to r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/studies", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Get("/{name}", s.handleStudy)
		r.Get("/{name}/best", s.handleBest)
	})
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	const op = "server.ListenAndServe"

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting status server", map[string]interface{}{"address": addr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrapf(err, errors.KindConfig, op, "listen on %s", addr)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down status server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "shutdown")
	}
	return nil
}

// record returns a snapshot of the named study, preferring the live one.
func (s *Server) record(name string) (optimization.StudyRecord, bool, error) {
	s.mu.RLock()
	study, ok := s.live[name]
	s.mu.RUnlock()
	if ok {
		return study.Record(), true, nil
	}
	rec, err := s.storage.Load(name)
	if err != nil {
		return optimization.StudyRecord{}, false, err
	}
	return *rec, false, nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	names, err := s.storage.List()
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	s.mu.RLock()
	for n := range s.live {
		if !seen[n] {
			names = append(names, n)
		}
	}
	s.mu.RUnlock()
	sort.Strings(names)

	summaries := make([]StudySummary, 0, len(names))
	for _, name := range names {
		rec, live, err := s.record(name)
		if err != nil {
			s.respondWithError(w, r, err)
			return
		}
		summaries = append(summaries, summarize(rec, live))
	}
	s.respond(w, http.StatusOK, summaries)
}

func (s *Server) handleStudy(w http.ResponseWriter, r *http.Request) {
	rec, _, err := s.record(chi.URLParam(r, "name"))
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, rec)
}

func (s *Server) handleBest(w http.ResponseWriter, r *http.Request) {
	rec, _, err := s.record(chi.URLParam(r, "name"))
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	best, err := rec.BestTrial()
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, best)
}

func summarize(rec optimization.StudyRecord, live bool) StudySummary {
	counts := rec.Count()
	sum := StudySummary{
		Name:      rec.Name,
		Trials:    len(rec.Trials),
		Complete:  counts[optimization.TrialComplete],
		Failed:    counts[optimization.TrialFail],
		Running:   counts[optimization.TrialRunning],
		UserAttrs: rec.UserAttrs,
		UpdatedAt: rec.UpdatedAt,
		Live:      live,
	}
	if best, err := rec.BestTrial(); err == nil {
		number := best.Number
		sum.BestTrial = &number
		sum.BestValue = best.Value
	}
	return sum
}

func statusFor(err error) int {
	switch errors.KindOf(err) {
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindConfig:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).WithError(err).Error("Request failed")
	}
	s.respond(w, status, map[string]interface{}{
		"error": err.Error(),
		"kind":  errors.KindOf(err),
	})
}
