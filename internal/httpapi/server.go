// Package httpapi serves the admin endpoints: health, metrics, call history,
// live calls and stored notifications.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ent0n29/iris/internal/callflow"
	"github.com/ent0n29/iris/internal/config"
	"github.com/ent0n29/iris/internal/history"
	"github.com/ent0n29/iris/internal/notification"
	"github.com/ent0n29/iris/internal/observability"
)

const maxHistoryLimit = 500

// HubStatus reports the hub connection. *hub.Router implements it.
type HubStatus interface {
	Connected() bool
}

// PendingCounter reports unredeemed pairing tokens. *pairing.Registry
// implements it.
type PendingCounter interface {
	Len() int
}

// Calls exposes live calls. *callflow.Service implements it.
type Calls interface {
	Live() []callflow.Summary
	Hangup(callID string) error
}

type Deps struct {
	Hub           HubStatus
	Pending       PendingCounter
	Calls         Calls
	History       history.Store
	Notifications *notification.Store
	Metrics       *observability.Metrics
	Logger        *zap.Logger
}

type Server struct {
	cfg           config.Config
	hub           HubStatus
	pending       PendingCounter
	calls         Calls
	history       history.Store
	notifications *notification.Store
	metrics       *observability.Metrics
	logger        *zap.Logger
	dial          dialFunc
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:           cfg,
		hub:           deps.Hub,
		pending:       deps.Pending,
		calls:         deps.Calls,
		history:       deps.History,
		notifications: deps.Notifications,
		metrics:       deps.Metrics,
		logger:        logger.Named("httpapi"),
		dial:          defaultDial,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})

	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/perf/speech", s.handlePerfSpeech)
	r.Get("/v1/calls", s.handleListCalls)
	r.Get("/v1/calls/live", s.handleLiveCalls)
	r.Post("/v1/calls/{id}/hangup", s.handleHangup)
	r.Get("/v1/notifications", s.handleListNotifications)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"history_mode": s.historyMode(),
	})
}

// handleReady reports 503 until the hub is connected.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	connected := s.hub != nil && s.hub.Connected()
	pending := 0
	if s.pending != nil {
		pending = s.pending.Len()
	}
	status, code := "ready", http.StatusOK
	if !connected {
		status, code = "waiting_for_hub", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status":        status,
		"hub_connected": connected,
		"pending_calls": pending,
	})
}

func (s *Server) handlePerfSpeech(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"ops":          []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.LatencySnapshot())
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusServiceUnavailable, "history_unavailable", "call history is not configured")
		return
	}
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	target := strings.TrimSpace(r.URL.Query().Get("target"))

	records, err := s.history.Recent(r.Context(), target, limit)
	if err != nil {
		s.logger.Error("list call history failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "history_failed", "failed to read call history")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"calls": records})
}

func (s *Server) handleLiveCalls(w http.ResponseWriter, _ *http.Request) {
	if s.calls == nil {
		respondJSON(w, http.StatusOK, map[string]any{"calls": []callflow.Summary{}})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"calls": s.calls.Live()})
}

func (s *Server) handleHangup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.calls == nil {
		respondError(w, http.StatusNotFound, "not_found", "call not found")
		return
	}
	if err := s.calls.Hangup(id); err != nil {
		if errors.Is(err, callflow.ErrCallNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "call not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "hangup_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"call_id": id, "status": "hung_up"})
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	items := []notification.Notification{}
	if s.notifications != nil {
		items = s.notifications.List(strings.TrimSpace(r.URL.Query().Get("target")))
	}
	respondJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

func (s *Server) historyMode() string {
	if s.history == nil {
		return "disabled"
	}
	return history.Mode(s.history)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
