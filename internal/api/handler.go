package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mangaflow/mangaflow/internal/dispatch"
	"github.com/mangaflow/mangaflow/internal/job"
	"github.com/mangaflow/mangaflow/internal/moderation"
)

// Trigger runs one dispatch invocation.
type Trigger interface {
	RunOnce(ctx context.Context) (*dispatch.Report, error)
}

// JobReader is the part of the ledger exposed to operators.
type JobReader interface {
	Get(ctx context.Context, id string) (*job.Job, error)
	List(ctx context.Context, f job.ListFilter) ([]*job.Job, int, error)
	Requeue(ctx context.Context, id string, now time.Time) error
}

type Moderator interface {
	Moderate(req moderation.Request) moderation.Result
}

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	trigger   Trigger
	jobs      JobReader
	moderator Moderator
	ping      func(ctx context.Context) error
	logger    *slog.Logger
}

// NewHandler constructs a Handler. ping may be nil.
func NewHandler(trigger Trigger, jobs JobReader, moderator Moderator, ping func(context.Context) error, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{trigger: trigger, jobs: jobs, moderator: moderator, ping: ping, logger: logger}
}

// RegisterRoutes registers all API routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/jobs/process", h.ProcessJobs)
	mux.HandleFunc("GET /api/v1/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.GetJob)
	mux.HandleFunc("POST /api/v1/jobs/{id}/retry", h.RetryJob)
	mux.HandleFunc("POST /api/v1/moderate", h.Moderate)
	mux.HandleFunc("GET /api/v1/health", h.Health)
}

// ProcessJobs handles POST /api/v1/jobs/process and responds 200 with the invocation report.
func (h *Handler) ProcessJobs(w http.ResponseWriter, r *http.Request) {
	report, err := h.trigger.RunOnce(r.Context())
	if err != nil {
		h.logger.Error("process jobs", "request_id", RequestID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process jobs")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListJobs handles GET /api/v1/jobs and responds 200 with a page of jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := job.ListFilter{
		State:     job.State(q.Get("state")),
		ProjectID: q.Get("project_id"),
		Limit:     parseIntParam(q.Get("limit"), 20),
		Offset:    parseIntParam(q.Get("offset"), 0),
	}.Normalize()
	if f.State != "" && !f.State.Valid() {
		writeError(w, http.StatusBadRequest, "invalid state filter")
		return
	}

	jobs, total, err := h.jobs.List(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	// Return an empty array instead of null when there are no jobs.
	if jobs == nil {
		jobs = []*job.Job{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":   jobs,
		"total":  total,
		"limit":  f.Limit,
		"offset": f.Offset,
	})
}

// parseIntParam parses a query string integer, returning the fallback on empty or invalid input.
func parseIntParam(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

// GetJob handles GET /api/v1/jobs/{id} and responds 200 with the job.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.jobs.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, job.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// RetryJob handles POST /api/v1/jobs/{id}/retry. Only failed jobs can be retried.
func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := h.jobs.Requeue(r.Context(), id, time.Now().UTC())
	switch {
	case errors.Is(err, job.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
		return
	case errors.Is(err, job.ErrNotRetryable):
		writeError(w, http.StatusConflict, "job is not in failed state")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to retry job")
		return
	}

	j, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	h.logger.Info("job requeued by operator", "job_id", id, "request_id", RequestID(r.Context()))
	writeJSON(w, http.StatusOK, j)
}

// Moderate handles POST /api/v1/moderate and responds 200 with the verdict.
func (h *Handler) Moderate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB max
	var req moderation.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	writeJSON(w, http.StatusOK, h.moderator.Moderate(req))
}

// Health handles GET /api/v1/health. It responds 503 when the database is unreachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok", "database": "ok"}
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			resp["status"] = "degraded"
			resp["database"] = "unreachable"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
