package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"transfit/internal/config"
	"transfit/internal/domain"
	"transfit/internal/metrics"
	"transfit/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// LifecycleEmitter forwards host visibility changes into the engine.
type LifecycleEmitter interface {
	Emit(state models.AppState) error
}

// ReportExporter writes a sync report and returns its path.
type ReportExporter interface {
	Export(ctx context.Context) (string, error)
}

// HTTPServer exposes sync status and manual triggers over HTTP.
type HTTPServer struct {
	cfg       config.APIConfig
	engine    domain.SyncEngine
	lifecycle LifecycleEmitter
	exporter  ReportExporter
	logger    *zerolog.Logger
	server    *http.Server
	auth      *HTTPAuth
}

func NewHTTPServer(
	cfg config.APIConfig,
	monitoring config.MonitoringConfig,
	engine domain.SyncEngine,
	lifecycle LifecycleEmitter,
	exporter ReportExporter,
	logger *zerolog.Logger,
) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	srv := &HTTPServer{
		cfg:       cfg,
		engine:    engine,
		lifecycle: lifecycle,
		exporter:  exporter,
		logger:    logger,
		auth:      NewHTTPAuth(cfg),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP, middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler { return loggingMiddleware(logger, next) })
	r.Use(srv.auth.Wrap)

	r.Get("/healthz", srv.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/sync", func(r chi.Router) {
			r.Get("/status", srv.handleStatus)
			r.Get("/pending", srv.handlePending)
			r.Post("/now", srv.handleSyncNow)
			r.Post("/export", srv.handleExport)
		})
		r.Post("/lifecycle/{state}", srv.handleLifecycle)
	})
	if monitoring.PrometheusEnabled {
		metrics.Register()
		r.Handle("/metrics", promhttp.Handler())
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		// manual passes can take a while on a slow link
		WriteTimeout: 2 * time.Minute,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	metrics.IncHTTP("sync_status")
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *HTTPServer) handlePending(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("sync_pending")

	n, err := s.engine.GetPendingSyncCount(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to count pending sync items")
		writeError(w, http.StatusInternalServerError, "failed to read retry queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pending": n})
}

func (s *HTTPServer) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("sync_now")

	result := s.engine.ForceSyncNow(r.Context())
	statusCode := http.StatusOK
	if result.Rejected() {
		statusCode = http.StatusConflict
	}
	writeJSON(w, statusCode, result)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("sync_export")

	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "export is not configured")
		return
	}
	path, err := s.exporter.Export(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("sync report export failed")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}

func (s *HTTPServer) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("lifecycle")

	state := models.AppState(chi.URLParam(r, "state"))
	switch state {
	case models.AppStateActive, models.AppStateBackground, models.AppStateInactive:
	default:
		writeError(w, http.StatusBadRequest, "state must be one of active, background, inactive")
		return
	}

	if s.lifecycle == nil {
		writeError(w, http.StatusServiceUnavailable, "lifecycle source is not configured")
		return
	}
	if err := s.lifecycle.Emit(state); err != nil {
		s.logger.Error().Err(err).Str("state", string(state)).Msg("failed to emit lifecycle change")
		writeError(w, http.StatusInternalServerError, "failed to emit lifecycle change")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"state": string(state)})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
