// Package api is the producer/inspection surface: create jobs, read their
// state, and re-arm terminally failed ones. Creation does not invoke the
// processor; the store's change trigger does that.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Ruvo-Inc/mailq/internal/domain"
	"github.com/Ruvo-Inc/mailq/internal/store"
)

var errNotFailed = errors.New("job is not terminally failed")

type Handler struct {
	store       store.Store
	environment string
	log         *zap.Logger
}

func NewHandler(st store.Store, environment string, log *zap.Logger) *Handler {
	return &Handler{store: st, environment: environment, log: log}
}

func (h *Handler) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Post("/v1/jobs", h.createJob)
	r.Get("/v1/jobs", h.listJobs)
	r.Get("/v1/jobs/{id}", h.getJob)
	r.Post("/v1/jobs/{id}/retry", h.retryJob)
	return r
}

type createJobRequest struct {
	Recipients domain.Recipients `json:"recipients"`
	Content    domain.Content    `json:"content"`
	NotBefore  *time.Time        `json:"notBefore,omitempty"`
}

func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job := &domain.Job{
		Recipients:  req.Recipients,
		Content:     req.Content,
		Environment: h.environment,
	}
	if req.NotBefore != nil {
		job.NotBefore = req.NotBefore.UTC()
	}
	if err := job.ValidateContent(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.store.Create(r.Context(), job)
	if err != nil {
		h.log.Error("create job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create job")
		return
	}
	writeJSON(w, http.StatusCreated, job)
	h.log.Info("job created", zap.String("job_id", id))
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not fetch job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	status := domain.Status(r.URL.Query().Get("status"))
	switch status {
	case domain.StatusQueued, domain.StatusProcessing, domain.StatusSent, domain.StatusFailed:
	default:
		writeError(w, http.StatusBadRequest, "status must be one of queued|processing|sent|failed")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	jobs, err := h.store.ListByStatus(r.Context(), h.environment, status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

// retryJob is the explicit external intervention for a terminally failed
// job. The core never does this on its own: attempts reset to zero and the
// job re-enters queued, which fires the update trigger like any fresh
// retry.
func (h *Handler) retryJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.store.RunTransaction(r.Context(), func(ctx context.Context, tx store.Tx) error {
		j, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if j.Status != domain.StatusFailed {
			return errNotFailed
		}
		now := time.Now().UTC()
		queued := domain.StatusQueued
		zero := 0
		return tx.Update(ctx, id, store.Patch{
			Status:         &queued,
			Attempts:       &zero,
			ClearLastError: true,
			ClearLease:     true,
			NotBefore:      &now,
			UpdatedAt:      now,
		})
	})
	if err != nil {
		switch err {
		case store.ErrNotFound:
			writeError(w, http.StatusNotFound, "job not found")
		case errNotFailed:
			writeError(w, http.StatusConflict, "only terminally failed jobs can be retried")
		default:
			writeError(w, http.StatusInternalServerError, "could not retry job")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
