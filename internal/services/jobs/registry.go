package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/beacon/internal/models"
	"github.com/ternarybob/beacon/internal/services/events"
)

const jobTTL = 24 * time.Hour

// Registry tracks jobs in memory with a per-client-IP active job quota.
// Progress events are pushed through the broadcaster; Enqueue never blocks,
// so emitting under the registry lock is safe.
type Registry struct {
	logger      arbor.ILogger
	broadcaster *events.Broadcaster
	maxPerIP    int

	mu       sync.Mutex
	jobs     map[string]*models.Job
	ipActive map[string]map[string]bool
}

// NewRegistry creates a job registry with the given per-IP quota.
func NewRegistry(logger arbor.ILogger, broadcaster *events.Broadcaster, maxPerIP int) *Registry {
	return &Registry{
		logger:      logger,
		broadcaster: broadcaster,
		maxPerIP:    maxPerIP,
		jobs:        make(map[string]*models.Job),
		ipActive:    make(map[string]map[string]bool),
	}
}

// Create registers a new pending job. Returns "" when the client already has
// the maximum number of active jobs.
func (r *Registry) Create(url, clientIP string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.ipActive[clientIP]) >= r.maxPerIP {
		return ""
	}

	jobID := uuid.New().String()
	r.jobs[jobID] = &models.Job{
		ID:              jobID,
		Status:          models.JobStatusPending,
		URL:             url,
		CompletedStages: []models.AuditStage{},
		ClientIP:        clientIP,
		CreatedAt:       time.Now().UTC(),
	}
	if r.ipActive[clientIP] == nil {
		r.ipActive[clientIP] = make(map[string]bool)
	}
	r.ipActive[clientIP][jobID] = true
	return jobID
}

// Get returns a copy of a job, or nil when unknown.
func (r *Registry) Get(jobID string) *models.Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil
	}
	copied := *job
	copied.CompletedStages = append([]models.AuditStage(nil), job.CompletedStages...)
	return &copied
}

// Remove deletes a job and clears its IP tracking.
func (r *Registry) Remove(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobID)
	r.releaseIPLocked(jobID)
}

// UpdateStage marks a job running on the given stage.
func (r *Registry) UpdateStage(jobID string, stage models.AuditStage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return
	}
	job.Status = models.JobStatusRunning
	job.CurrentStage = stage
	r.broadcaster.Enqueue(jobID, string(stage), job.Progress(), string(job.Status))
}

// CompleteStage records one pipeline stage as finished.
func (r *Registry) CompleteStage(jobID string, stage models.AuditStage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return
	}
	job.CompletedStages = append(job.CompletedStages, stage)
	r.broadcaster.Enqueue(jobID, string(job.CurrentStage), job.Progress(), string(job.Status))
}

// Complete moves a job to its terminal completed state and frees its IP slot.
func (r *Registry) Complete(jobID string, result *models.AuditResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return
	}
	job.Status = models.JobStatusCompleted
	job.Result = result
	job.CurrentStage = ""
	job.QueuePosition = 0
	r.broadcaster.Enqueue(jobID, "", 100, string(job.Status))
	r.releaseIPLocked(jobID)
}

// Fail moves a job to its terminal failed state and frees its IP slot.
func (r *Registry) Fail(jobID, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return
	}
	job.Status = models.JobStatusFailed
	job.Error = errMsg
	job.CurrentStage = ""
	job.QueuePosition = 0
	r.broadcaster.Enqueue(jobID, "", job.Progress(), string(job.Status))
	r.releaseIPLocked(jobID)
}

// UpdateStatusAndPosition sets a job's status and queue position.
func (r *Registry) UpdateStatusAndPosition(jobID string, status models.JobStatus, position int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return
	}
	job.Status = status
	job.QueuePosition = position
}

// CleanupExpired evicts jobs older than 24 hours. Returns the number evicted.
func (r *Registry) CleanupExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().UTC().Add(-jobTTL)
	removed := 0
	for jobID, job := range r.jobs {
		if job.CreatedAt.Before(cutoff) {
			delete(r.jobs, jobID)
			r.releaseIPLocked(jobID)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Debug().Int("count", removed).Msg("Evicted expired jobs")
	}
	return removed
}

// RunningJobIDs returns ids of jobs in a non-terminal state, for pagination.
func (r *Registry) RunningJobIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for jobID, job := range r.jobs {
		switch job.Status {
		case models.JobStatusPending, models.JobStatusQueued, models.JobStatusRunning:
			ids = append(ids, jobID)
		}
	}
	return ids
}

// Count returns the number of tracked jobs.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func (r *Registry) releaseIPLocked(jobID string) {
	for ip, jobIDs := range r.ipActive {
		delete(jobIDs, jobID)
		if len(jobIDs) == 0 {
			delete(r.ipActive, ip)
		}
	}
}
