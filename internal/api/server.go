// Package api exposes the scheduler's admin HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"cycle-scheduler/internal/models"
	"cycle-scheduler/internal/ratelimit"
	"cycle-scheduler/internal/scheduler"
	"cycle-scheduler/internal/store"
	"cycle-scheduler/internal/telemetry"
)

// Cycles is the part of the scheduler the API drives.
type Cycles interface {
	Trigger(ctx context.Context, source string) bool
	Status() scheduler.Status
	WorkItems(ctx context.Context, status models.WorkItemStatus) ([]models.WorkItem, error)
	Requeue(ctx context.Context, id string) error
}

// Limiter gates manual triggers.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// Server wires HTTP handlers for the admin API.
type Server struct {
	cycles  Cycles
	limiter Limiter
	logger  *zap.SugaredLogger
}

// New constructs the API server. A nil limiter disables rate limiting.
func New(cycles Cycles, limiter Limiter, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{
		cycles:  cycles,
		limiter: limiter,
		logger:  logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Group(func(r chi.Router) {
		r.Use(contentTypeJSON)
		r.Post("/cycles", s.handleTrigger)
		r.Get("/status", s.handleStatus)
		r.Get("/work-items", s.handleListWorkItems)
		r.Post("/work-items/{id}/requeue", s.handleRequeue)
	})
	return r
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), ratelimit.TriggerKey)
		if err != nil {
			s.logger.Errorw("rate limiter unavailable", "error", err)
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	if !s.cycles.Trigger(r.Context(), scheduler.TriggerManual) {
		writeError(w, http.StatusConflict, scheduler.ErrCycleInProgress.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cycles.Status())
}

type workItemsResponse struct {
	Status models.WorkItemStatus `json:"status"`
	Items  []models.WorkItem     `json:"items"`
}

// handleListWorkItems lists items by status, failed by default.
func (s *Server) handleListWorkItems(w http.ResponseWriter, r *http.Request) {
	status := models.StatusFailed
	if v := r.URL.Query().Get("status"); v != "" {
		status = models.WorkItemStatus(v)
	}
	if !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	items, err := s.cycles.WorkItems(r.Context(), status)
	if err != nil {
		s.logger.Errorw("list work items", "status", status, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read record store")
		return
	}
	if items == nil {
		items = []models.WorkItem{}
	}
	writeJSON(w, http.StatusOK, workItemsResponse{Status: status, Items: items})
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.cycles.Requeue(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(models.StatusApproved)})
	case errors.Is(err, scheduler.ErrCycleInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrUnknownWorkItem):
		writeError(w, http.StatusNotFound, "work item not found")
	case errors.Is(err, store.ErrInvalidTransition):
		writeError(w, http.StatusUnprocessableEntity, "only failed work items can be requeued")
	default:
		s.logger.Errorw("requeue failed", "work_item_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "requeue failed")
	}
}

func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
