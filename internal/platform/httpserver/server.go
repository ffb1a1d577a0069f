package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	automationengine "adpilot/contexts/ad-automation/automation-engine"
	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
	automationhttp "adpilot/contexts/ad-automation/automation-engine/transport/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	router     chi.Router
	logger     *slog.Logger
	addr       string
	automation automationengine.Module
	metrics    http.Handler
	srv        *http.Server
}

func New(
	automation automationengine.Module,
	metrics http.Handler,
	logger *slog.Logger,
	addr string,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		router:     chi.NewRouter(),
		logger:     logger,
		addr:       addr,
		automation: automation,
		metrics:    metrics,
	}
	s.registerRoutes()
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Start blocks until the server stops. A graceful Shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLogger)

	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics)
	}

	s.router.Route("/v1/automation", func(r chi.Router) {
		r.Post("/rules/{rule_id}/run", s.handleRequestRun)
		r.Get("/rules/{rule_id}/logs", s.handleListLogs)
		r.Post("/tick", s.handleTick)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request served",
			"event", "http_request_served",
			"module", "internal/platform/httpserver",
			"layer", "platform",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleRequestRun(w http.ResponseWriter, r *http.Request) {
	req := automationhttp.RequestRunRequest{RuleID: chi.URLParam(r, "rule_id")}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAutomationError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
			return
		}
		req.RuleID = chi.URLParam(r, "rule_id")
	}
	if req.RequestedBy == "" {
		req.RequestedBy = r.Header.Get("X-User-Id")
	}

	resp, err := s.automation.Handler.RequestRunHandler(r.Context(), req)
	if err != nil {
		s.writeAutomationDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	resp, err := s.automation.Handler.RunTickHandler(r.Context())
	if err != nil {
		s.writeAutomationDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	req := automationhttp.ListLogsRequest{RuleID: chi.URLParam(r, "rule_id")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeAutomationError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		req.Limit = limit
	}

	resp, err := s.automation.Handler.ListLogsHandler(r.Context(), req)
	if err != nil {
		s.writeAutomationDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeAutomationDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domainerrors.ErrRuleNotFound):
		writeAutomationError(w, http.StatusNotFound, "rule_not_found", err.Error())
	case errors.Is(err, domainerrors.ErrTickInProgress):
		writeAutomationError(w, http.StatusConflict, "tick_in_progress", err.Error())
	case errors.Is(err, domainerrors.ErrInvalidRuleConfig), errors.Is(err, domainerrors.ErrUnsupportedRule):
		writeAutomationError(w, http.StatusUnprocessableEntity, "invalid_rule", err.Error())
	default:
		s.logger.Error("automation request failed",
			"event", "http_automation_request_failed",
			"module", "internal/platform/httpserver",
			"layer", "platform",
			"error", err.Error(),
		)
		writeAutomationError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeAutomationError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, automationhttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
