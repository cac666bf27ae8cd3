package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/beacon/internal/models"
	"github.com/ternarybob/beacon/internal/services/audit"
	"github.com/ternarybob/beacon/internal/services/breaker"
	"github.com/ternarybob/beacon/internal/services/jobs"
	"github.com/ternarybob/beacon/internal/services/pool"
	"github.com/ternarybob/beacon/internal/storage/sqlite"
)

// AuditHandler serves audit submission, polling, cancellation, and stats.
type AuditHandler struct {
	logger     arbor.ILogger
	dispatcher *jobs.Dispatcher
	registry   *jobs.Registry
	limiter    *jobs.Limiter
	locks      *audit.URLLockManager
	breakers   *breaker.Registry
	cache      *sqlite.CacheStorage
	browsers   *pool.BrowserPool
	validate   *validator.Validate
}

// NewAuditHandler creates the audit API handler.
func NewAuditHandler(
	logger arbor.ILogger,
	dispatcher *jobs.Dispatcher,
	registry *jobs.Registry,
	limiter *jobs.Limiter,
	locks *audit.URLLockManager,
	breakers *breaker.Registry,
	cache *sqlite.CacheStorage,
	browsers *pool.BrowserPool,
) *AuditHandler {
	return &AuditHandler{
		logger:     logger,
		dispatcher: dispatcher,
		registry:   registry,
		limiter:    limiter,
		locks:      locks,
		breakers:   breakers,
		cache:      cache,
		browsers:   browsers,
		validate:   validator.New(),
	}
}

// SubmitHandler accepts a new audit request. POST /v1/audit
func (h *AuditHandler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.AuditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	options := models.AuditOptions{
		TimeoutSeconds: req.Timeout,
		NoCache:        req.NoCache,
	}

	resp, err := h.dispatcher.Submit(req.URL, options, ClientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrValidation):
			WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, jobs.ErrRateLimited):
			WriteError(w, http.StatusTooManyRequests, "Too many active audits for this client")
		case errors.Is(err, jobs.ErrQueueFull):
			WriteError(w, http.StatusServiceUnavailable, "Audit queue is full, try again later")
		default:
			h.logger.Error().Err(err).Msg("Audit submission failed")
			WriteError(w, http.StatusInternalServerError, "Failed to submit audit")
		}
		return
	}

	WriteJSON(w, http.StatusAccepted, resp)
}

// StatusHandler returns the state of a job. GET /v1/audit/{id}
func (h *AuditHandler) StatusHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	job := h.registry.Get(jobID)
	if job == nil {
		WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	resp := models.JobStatusResponse{
		JobID:  job.ID,
		Status: job.Status,
		URL:    job.URL,
		Progress: models.JobProgress{
			CurrentStage:    job.CurrentStage,
			CompletedStages: job.CompletedStages,
			PendingStages:   job.PendingStages(),
		},
		Result:    job.Result,
		Error:     job.Error,
		CreatedAt: job.CreatedAt,
	}

	if job.Status == models.JobStatusQueued {
		// Position moves as the queue drains, recompute per poll
		if position, err := h.dispatcher.QueuePosition(jobID); err == nil && position > 0 {
			resp.QueuePosition = &position
		} else {
			resp.QueuePosition = &job.QueuePosition
		}
	}

	WriteJSON(w, http.StatusOK, resp)
}

// CancelHandler cancels a queued job. DELETE /v1/audit/{id}
func (h *AuditHandler) CancelHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	job := h.registry.Get(jobID)
	if job == nil {
		WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	cancelled, err := h.dispatcher.Cancel(jobID)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Cancel failed")
		WriteError(w, http.StatusInternalServerError, "Failed to cancel job")
		return
	}
	if !cancelled {
		WriteError(w, http.StatusConflict, "Only queued jobs can be cancelled")
		return
	}

	WriteSuccess(w, "Job cancelled")
}

// RunningHandler lists active job ids with pagination. GET /v1/audits/running
func (h *AuditHandler) RunningHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	ids := h.registry.RunningJobIDs()
	sort.Strings(ids)
	page, perPage := GetPaginationParams(r)

	total := len(ids)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	WriteJSON(w, http.StatusOK, models.PaginatedJobIDs{
		Items:   ids[start:end],
		Total:   total,
		Page:    page,
		PerPage: perPage,
		HasNext: end < total,
	})
}

// StatsHandler reports execution, queue, lock, breaker, and cache metrics.
// GET /v1/audits/stats
func (h *AuditHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"audits":           h.limiter.Stats(),
		"url_locks":        h.locks.Stats(),
		"circuit_breakers": h.breakers.AllStats(),
		"cache":            h.cache.Stats(),
		"browser_pool":     h.browsers.Stats(),
		"tracked_jobs":     h.registry.Count(),
	})
}
