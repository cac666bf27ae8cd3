package models

import "time"

// JobStatus is the lifecycle state of a submitted audit job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// AuditStage names one of the four pipeline stages.
type AuditStage string

const (
	StageLighthouseMobile  AuditStage = "lighthouse_mobile"
	StageLighthouseDesktop AuditStage = "lighthouse_desktop"
	StageCrUX              AuditStage = "crux"
	StageAIAnalysis        AuditStage = "ai_analysis"
)

// AllStages lists the pipeline stages in execution order.
var AllStages = []AuditStage{
	StageLighthouseMobile,
	StageLighthouseDesktop,
	StageCrUX,
	StageAIAnalysis,
}

// Job is the unit of work tracked by the registry.
type Job struct {
	ID              string         `json:"id"`
	Status          JobStatus      `json:"status"`
	URL             string         `json:"url"`
	CurrentStage    AuditStage     `json:"current_stage,omitempty"`
	CompletedStages []AuditStage   `json:"completed_stages"`
	Result          *AuditResponse `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
	QueuePosition   int            `json:"queue_position,omitempty"`
	ClientIP        string         `json:"-"`
	CreatedAt       time.Time      `json:"created_at"`
}

// JobProgress summarizes stage completion for status responses.
type JobProgress struct {
	CurrentStage    AuditStage   `json:"current_stage,omitempty"`
	CompletedStages []AuditStage `json:"completed_stages"`
	PendingStages   []AuditStage `json:"pending_stages"`
}

// JobCreateResponse is returned on submission.
type JobCreateResponse struct {
	JobID   string    `json:"job_id"`
	Status  JobStatus `json:"status"`
	Message string    `json:"message"`
}

// JobStatusResponse is returned when polling a job.
type JobStatusResponse struct {
	JobID         string         `json:"job_id"`
	Status        JobStatus      `json:"status"`
	URL           string         `json:"url"`
	Progress      JobProgress    `json:"progress"`
	Result        *AuditResponse `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	QueuePosition *int           `json:"queue_position,omitempty"`
}

// PaginatedJobIDs is a page of running job identifiers.
type PaginatedJobIDs struct {
	Items   []string `json:"items"`
	Total   int      `json:"total"`
	Page    int      `json:"page"`
	PerPage int      `json:"per_page"`
	HasNext bool     `json:"has_next"`
}

// ProgressEvent is one frame pushed to websocket subscribers.
type ProgressEvent struct {
	Stage     string    `json:"stage"`
	Progress  int       `json:"progress"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Progress returns the percentage of pipeline stages completed.
func (j *Job) Progress() int {
	return len(j.CompletedStages) * 100 / len(AllStages)
}

// PendingStages returns the stages not yet completed, in pipeline order.
func (j *Job) PendingStages() []AuditStage {
	done := make(map[AuditStage]bool, len(j.CompletedStages))
	for _, s := range j.CompletedStages {
		done[s] = true
	}
	pending := make([]AuditStage, 0, len(AllStages))
	for _, s := range AllStages {
		if !done[s] {
			pending = append(pending, s)
		}
	}
	return pending
}
