// Package api exposes the process engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/altinn/process-engine/internal/engine"
	"github.com/altinn/process-engine/internal/models"
	"github.com/altinn/process-engine/internal/scheduler"
	"github.com/altinn/process-engine/internal/store"
	"github.com/altinn/process-engine/internal/telemetry"
)

// Limiter throttles submissions per organisation.
type Limiter interface {
	Allow(ctx context.Context, org string) (bool, float64, error)
}

// Server wires the HTTP handlers around the engine client.
type Server struct {
	client  *engine.Client
	limiter Limiter
	log     *slog.Logger
}

// New constructs the API server. limiter may be nil to disable
// submission throttling.
func New(client *engine.Client, limiter Limiter, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{client: client, limiter: limiter, log: log.With("component", "api")}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/process/next", s.handleProcessNext)
	r.Get("/process/jobs/{id}", s.handleGetJob)
	r.Post("/process/jobs/{id}/cancel", s.handleCancel)
	r.Delete("/process/jobs/{id}", s.handleDelete)
	r.Get("/process/instances/{partyID}/{instanceGUID}/status", s.handleActiveStatus)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.client.Health()
	code := http.StatusOK
	if snapshot.Flags.Has(models.HealthUnhealthy) {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, snapshot)
}

func (s *Server) handleProcessNext(w http.ResponseWriter, r *http.Request) {
	var req engine.ProcessNextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, engine.ProcessEngineResponse{
			Status:  engine.StatusRejected,
			Message: "invalid request body: " + err.Error(),
		})
		return
	}

	if s.limiter != nil && req.Instance.Org != "" {
		allowed, _, err := s.limiter.Allow(r.Context(), req.Instance.Org)
		if err != nil {
			s.log.Error("rate limiter unavailable", "org", req.Instance.Org, "error", err)
			http.Error(w, "rate limiter unavailable", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	resp := s.client.ProcessNext(r.Context(), req)
	code := http.StatusAccepted
	if resp.Status == engine.StatusRejected {
		code = http.StatusConflict
		if resp.JobID == "" {
			code = http.StatusBadRequest
		}
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.client.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.client.CancelJob(r.Context(), id); err != nil {
		if errors.Is(err, scheduler.ErrNotActive) {
			http.Error(w, "job is not active", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.client.DeleteJob(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleActiveStatus(w http.ResponseWriter, r *http.Request) {
	partyID, err := strconv.Atoi(chi.URLParam(r, "partyID"))
	if err != nil {
		http.Error(w, "invalid party id", http.StatusBadRequest)
		return
	}
	guid, err := uuid.Parse(chi.URLParam(r, "instanceGUID"))
	if err != nil {
		http.Error(w, "invalid instance guid", http.StatusBadRequest)
		return
	}
	instance := models.InstanceInformation{InstanceOwnerPartyID: partyID, InstanceGUID: guid}

	status, err := s.client.GetActiveJobStatus(r.Context(), instance)
	if err != nil {
		if errors.Is(err, engine.ErrNoActiveJob) {
			http.Error(w, "no active job", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
