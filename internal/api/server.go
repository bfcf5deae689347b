package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	stdsync "sync"
	"time"

	"weelo/internal/config"
	"weelo/internal/database"
	"weelo/internal/domain"
	"weelo/internal/models"
	"weelo/internal/sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// HTTPServer exposes the local admin API: sync status, operation listings,
// manual triggers and the administrative failed-operation reset.
type HTTPServer struct {
	cfg     config.APIConfig
	store   *database.Store
	engine  *sync.Engine
	reports domain.ReportRepository
	logger  *zerolog.Logger
	server  *http.Server
	limiter *clientLimiter
}

func NewHTTPServer(
	cfg config.APIConfig,
	store *database.Store,
	engine *sync.Engine,
	reports domain.ReportRepository,
	logger *zerolog.Logger,
) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{
		cfg:     cfg,
		store:   store,
		engine:  engine,
		reports: reports,
		logger:  logger,
		limiter: newClientLimiter(cfg.RPS, cfg.Burst),
	}

	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/v1/sync/status", srv.handleStatus)
	mux.HandleFunc("/api/v1/sync", srv.handleTrigger)
	mux.HandleFunc("/api/v1/operations", srv.handleOperations)
	mux.HandleFunc("/api/v1/operations/failed/retry", srv.handleRetryFailed)
	mux.HandleFunc("/api/v1/operations/deadletters", srv.handleDeadLetters)
	mux.HandleFunc("/api/v1/operations/", srv.handleOperationByID)

	auth := NewHTTPAuth(cfg)
	handler := srv.loggingMiddleware(srv.rateLimitMiddleware(auth.Wrap(mux)))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("admin API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	pending, err := s.engine.PendingCount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read queue depth")
		return
	}

	counts, err := s.store.CountByStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read operation counts")
		return
	}

	resp := map[string]any{
		"status":  s.engine.Status(),
		"pending": pending,
		"counts":  counts,
	}
	if s.reports != nil {
		if report, err := s.reports.LastReport(r.Context()); err == nil && report != nil {
			resp["last_run"] = report
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if s.engine.Status() == models.SyncSyncing {
		writeError(w, http.StatusConflict, "sync already in progress")
		return
	}

	synced := s.engine.SyncNow(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"synced": synced,
		"status": s.engine.Status(),
	})
}

func (s *HTTPServer) handleOperations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	status := models.OperationStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	ops, err := s.store.ListOperations(r.Context(), status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list operations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": ops})
}

func (s *HTTPServer) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	reset, err := s.engine.RetryFailedOperations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset failed operations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset": reset})
}

func (s *HTTPServer) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.reports == nil {
		writeJSON(w, http.StatusOK, map[string]any{"dead_letters": []models.PendingOperation{}})
		return
	}

	ops, err := s.reports.DeadLetters(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read dead letters")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": ops})
}

func (s *HTTPServer) handleOperationByID(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/operations/"
	id := strings.TrimPrefix(r.URL.Path, prefix)
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		op, err := s.store.GetOperation(r.Context(), id)
		if errors.Is(err, database.ErrOperationNotFound) {
			writeError(w, http.StatusNotFound, "operation not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get operation")
			return
		}
		writeJSON(w, http.StatusOK, op)

	case http.MethodDelete:
		err := s.engine.CancelOperation(r.Context(), id)
		if errors.Is(err, database.ErrOperationNotFound) {
			writeError(w, http.StatusNotFound, "operation not found")
			return
		}
		if errors.Is(err, database.ErrNotCancellable) {
			writeError(w, http.StatusConflict, "operation is not cancellable")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to cancel operation")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(start)).
			Msg("api request")
	})
}

func (s *HTTPServer) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !s.limiter.allow(host) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientLimiter keeps one token bucket per remote host.
type clientLimiter struct {
	limiters stdsync.Map
	rps      float64
	burst    int
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	if burst <= 0 {
		burst = 5
	}
	return &clientLimiter{rps: rps, burst: burst}
}

func (l *clientLimiter) allow(key string) bool {
	if l.rps <= 0 {
		return true
	}
	if v, ok := l.limiters.Load(key); ok {
		return v.(*rate.Limiter).Allow()
	}
	lim := rate.NewLimiter(rate.Limit(l.rps), l.burst)
	actual, _ := l.limiters.LoadOrStore(key, lim)
	return actual.(*rate.Limiter).Allow()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
