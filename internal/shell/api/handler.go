// Package api exposes the deployment engine over HTTP. The surface is
// deliberately thin: status and health are snapshots, lifecycle verbs
// delegate to the coordinator, and the journal backs the events feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stackpilot/stackpilot/internal/core/config"
	"github.com/stackpilot/stackpilot/internal/core/health"
	"github.com/stackpilot/stackpilot/internal/shell/coordinator"
	"github.com/stackpilot/stackpilot/internal/shell/store"
)

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// Lifecycle is the coordinator surface the handlers drive.
type Lifecycle interface {
	Deploy(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	UpdateConfiguration(ctx context.Context, partial config.Partial) error
	Logs(ctx context.Context, service string, lines int) (string, error)
	Status() coordinator.Status
}

// HealthRunner is the probe engine surface.
type HealthRunner interface {
	Status() health.Status
	TriggerCheck(ctx context.Context) health.Status
}

// EventReader reads recent journal entries.
type EventReader interface {
	Recent(ctx context.Context, limit int) ([]store.Entry, error)
}

// =============================================================================
// Handler
// =============================================================================

// Handler serves the HTTP API.
type Handler struct {
	lifecycle Lifecycle
	probes    HealthRunner
	journal   EventReader // may be nil
	logger    *slog.Logger
}

// NewHandler creates the API handler. journal may be nil, in which case
// the events feed returns 404.
func NewHandler(lc Lifecycle, probes HealthRunner, journal EventReader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		lifecycle: lc,
		probes:    probes,
		journal:   journal,
		logger:    logger.With("component", "api"),
	}
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.getStatus)
		r.Get("/health", h.getHealth)
		r.Get("/lifecycle", h.getLifecycle)
		r.Get("/logs", h.getLogs)
		r.Get("/events", h.getEvents)

		r.Post("/deploy", h.postDeploy)
		r.Post("/stop", h.postStop)
		r.Post("/restart", h.postRestart)
		r.Post("/health/refresh", h.postHealthRefresh)

		r.Patch("/config", h.patchConfig)
	})
	return r
}

// =============================================================================
// Read Endpoints
// =============================================================================

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.redactedStatus())
}

// redactedStatus snapshots lifecycle status with credentials cleared.
// Every endpoint that serializes a status must go through it.
func (h *Handler) redactedStatus() coordinator.Status {
	status := h.lifecycle.Status()
	status.Config.Database.Password = ""
	return status
}

func (h *Handler) getHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.probes.Status())
}

func (h *Handler) getLifecycle(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.lifecycle.Status().Lifecycle)
}

func (h *Handler) getLogs(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	lines := 100
	if raw := r.URL.Query().Get("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "lines must be a positive integer")
			return
		}
		lines = n
	}

	out, err := h.lifecycle.Logs(r.Context(), service, lines)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": out})
}

func (h *Handler) getEvents(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusNotFound, "event journal not configured")
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := h.journal.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": entries})
}

// =============================================================================
// Lifecycle Endpoints
// =============================================================================

func (h *Handler) postDeploy(w http.ResponseWriter, r *http.Request) {
	h.runLifecycleOp(w, r, "deploy", h.lifecycle.Deploy)
}

func (h *Handler) postStop(w http.ResponseWriter, r *http.Request) {
	h.runLifecycleOp(w, r, "stop", h.lifecycle.Stop)
}

func (h *Handler) postRestart(w http.ResponseWriter, r *http.Request) {
	h.runLifecycleOp(w, r, "restart", h.lifecycle.Restart)
}

func (h *Handler) runLifecycleOp(w http.ResponseWriter, r *http.Request, name string, op func(context.Context) error) {
	h.logger.Info("lifecycle operation requested", "op", name)
	if err := op(r.Context()); err != nil {
		h.logger.Error("lifecycle operation failed", "op", name, "error", err)
		status := http.StatusBadGateway
		if errors.Is(err, coordinator.ErrHealthTimeout) {
			status = http.StatusGatewayTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.redactedStatus())
}

func (h *Handler) postHealthRefresh(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.probes.TriggerCheck(r.Context()))
}

func (h *Handler) patchConfig(w http.ResponseWriter, r *http.Request) {
	var partial config.Partial
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if err := h.lifecycle.UpdateConfiguration(r.Context(), partial); err != nil {
		var vErr *config.ValidationError
		if errors.As(err, &vErr) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.redactedStatus())
}

// =============================================================================
// Helpers
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"status": status,
			"title":  http.StatusText(status),
			"detail": message,
		},
	})
}
