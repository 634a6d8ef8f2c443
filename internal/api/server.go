package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/executor"
	"github.com/JakeFAU/jobcrawler/internal/extract"
	"github.com/JakeFAU/jobcrawler/internal/metrics"
	"github.com/JakeFAU/jobcrawler/internal/scheduler"
	"github.com/JakeFAU/jobcrawler/internal/sources"
)

const (
	defaultOutcomeLimit = 20
	maxOutcomeLimit     = 500
	maxSchemaBytes      = 1 << 20
)

// Scheduler triggers crawls outside the tick.
type Scheduler interface {
	RunDue(ctx context.Context) (scheduler.TickReport, error)
	RunSource(ctx context.Context, id string) (crawler.CrawlOutcome, error)
}

// Prober runs write-free crawls.
type Prober interface {
	Test(ctx context.Context, src crawler.SourceConfig) (extract.TestReport, error)
	Simulate(ctx context.Context, src crawler.SourceConfig, n int) (executor.SimulateResult, error)
}

// SourceAdmin manages source lifecycle.
type SourceAdmin interface {
	Create(ctx context.Context, in sources.Input) (crawler.SourceConfig, error)
	Delete(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
	Activate(ctx context.Context, id string) (crawler.SourceConfig, error)
}

// PolicyWriter stores per-host politeness overrides.
type PolicyWriter interface {
	PutPolicy(ctx context.Context, p crawler.DomainPolicy) error
}

// Deps are the collaborators behind the handlers.
type Deps struct {
	Scheduler Scheduler
	Prober    Prober
	Admin     SourceAdmin
	Sources   crawler.SourceStore
	Outcomes  crawler.OutcomeLog
	Policies  PolicyWriter
}

// Options tunes the server.
type Options struct {
	// APIKey enables X-API-Key authentication on /v1 when non-empty.
	APIKey string
	// RequestTimeout bounds every request; crawl triggers need at least the crawl budget.
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the scheduler, executor and stores.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	s := &Server{deps: deps, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(metrics.Middleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Post("/run-due", s.runDue)
		r.Post("/schemas/validate", s.validateSchema)
		r.Put("/policies/{host}", s.putPolicy)
		r.Route("/sources", func(r chi.Router) {
			r.Post("/", s.createSource)
			r.Route("/{source_id}", func(r chi.Router) {
				r.Get("/", s.getSource)
				r.Delete("/", s.deleteSource)
				r.Post("/run", s.runSource)
				r.Post("/test", s.testSource)
				r.Post("/simulate", s.simulateSource)
				r.Post("/pause", s.pauseSource)
				r.Post("/activate", s.activateSource)
				r.Get("/outcomes", s.listOutcomes)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) runDue(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Scheduler.RunDue(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) createSource(w http.ResponseWriter, r *http.Request) {
	var in sources.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	src, err := s.deps.Admin.Create(r.Context(), in)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, src)
}

func (s *Server) getSource(w http.ResponseWriter, r *http.Request) {
	src, ok := s.loadSource(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (s *Server) deleteSource(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Admin.Delete(r.Context(), chi.URLParam(r, "source_id")); err != nil {
		s.writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) runSource(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.deps.Scheduler.RunSource(r.Context(), chi.URLParam(r, "source_id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) testSource(w http.ResponseWriter, r *http.Request) {
	src, ok := s.loadSource(w, r)
	if !ok {
		return
	}
	report, err := s.deps.Prober.Test(r.Context(), src)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) simulateSource(w http.ResponseWriter, r *http.Request) {
	n, err := parseLimit(r, "n", 0, maxOutcomeLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	src, ok := s.loadSource(w, r)
	if !ok {
		return
	}
	res, err := s.deps.Prober.Simulate(r.Context(), src, n)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) pauseSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "source_id")
	if err := s.deps.Admin.Pause(r.Context(), id); err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"source_id": id, "status": string(crawler.SourcePaused)})
}

func (s *Server) activateSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.deps.Admin.Activate(r.Context(), chi.URLParam(r, "source_id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (s *Server) listOutcomes(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, "limit", defaultOutcomeLimit, maxOutcomeLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	outcomes, err := s.deps.Outcomes.ListOutcomes(r.Context(), chi.URLParam(r, "source_id"), limit)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if outcomes == nil {
		outcomes = []crawler.CrawlOutcome{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": outcomes})
}

func (s *Server) putPolicy(w http.ResponseWriter, r *http.Request) {
	if s.deps.Policies == nil {
		writeError(w, http.StatusServiceUnavailable, "policy store unavailable")
		return
	}
	var p crawler.DomainPolicy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	p.Host = chi.URLParam(r, "host")
	if p.MaxConcurrency < 0 || p.MinRequestIntervalMs < 0 || p.MaxPages < 0 || p.MaxKBPerPage < 0 {
		writeError(w, http.StatusBadRequest, "policy values must be >= 0")
		return
	}
	if err := s.deps.Policies.PutPolicy(r.Context(), p); err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type schemaReport struct {
	Valid   bool     `json:"valid"`
	Host    string   `json:"host,omitempty"`
	Secrets []string `json:"secrets"`
}

func (s *Server) validateSchema(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxSchemaBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	schema, err := extract.ParseSchema(string(raw))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	secrets := schema.SecretNames()
	if secrets == nil {
		secrets = []string{}
	}
	writeJSON(w, http.StatusOK, schemaReport{Valid: true, Host: schema.Host(), Secrets: secrets})
}

func (s *Server) loadSource(w http.ResponseWriter, r *http.Request) (crawler.SourceConfig, bool) {
	src, err := s.deps.Sources.GetSource(r.Context(), chi.URLParam(r, "source_id"))
	if err == nil && src.Status == crawler.SourceDeleted {
		err = crawler.ErrNotFound
	}
	if err != nil {
		s.writeFailure(w, err)
		return crawler.SourceConfig{}, false
	}
	return src, true
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, crawler.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, crawler.ErrLockHeld), errors.Is(err, crawler.ErrDuplicateSource):
		return http.StatusConflict
	case errors.Is(err, crawler.ErrInvalidSource), crawler.IsConfigError(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case crawler.ReasonOf(err) != crawler.ReasonInternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := map[string]any{"error": err.Error()}
	if reason := crawler.ReasonOf(err); reason != crawler.ReasonInternal {
		body["reason"] = reason
		var ce *crawler.Error
		if errors.As(err, &ce) && len(ce.Missing) > 0 {
			body["missing"] = ce.Missing
		}
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
		body["error"] = "internal server error"
	}
	writeJSON(w, status, body)
}

func parseLimit(r *http.Request, key string, def, maxValue int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	if n > maxValue {
		n = maxValue
	}
	return n, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", reqID),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
