package model

import (
	"time"
)

// RenderJob is the persisted record of one render job. The broker is the
// source of truth: one JSON record per job, keyed by ID. Exactly one of
// OutputPath (completed) and FailedReason (failed) is ever set; in-flight
// jobs carry neither.
type RenderJob struct {
	ID           string     `json:"id"`
	Status       JobStatus  `json:"status"`
	Progress     int        `json:"progress"`
	CurrentStage string     `json:"currentStage,omitempty"`
	FailedReason *string    `json:"failedReason,omitempty"`
	OutputPath   *string    `json:"outputPath,omitempty"`
	OutputURL    *string    `json:"outputUrl,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	Attempts     int        `json:"attempts"`
}

// AdvanceProgress raises Progress to p if that moves it forward. Progress
// is reported non-decreasing over the job's lifetime, so a retry starting
// over never winds the recorded value back.
func (j *RenderJob) AdvanceProgress(p int) bool {
	if p <= j.Progress {
		return false
	}
	j.Progress = p
	return true
}

// RenderJobPayload is the work description carried by the queue task.
type RenderJobPayload struct {
	ProjectData    ProjectData    `json:"projectData"`
	ExportSettings ExportSettings `json:"exportSettings"`
}

// SubmitJobRequest is the body of POST /api/jobs.
type SubmitJobRequest struct {
	JobID          string         `json:"jobId,omitempty"`
	Priority       Priority       `json:"priority,omitempty" validate:"omitempty,oneof=critical default low"`
	DelaySeconds   int            `json:"delaySeconds,omitempty" validate:"gte=0"`
	ProjectData    ProjectData    `json:"projectData" validate:"required"`
	ExportSettings ExportSettings `json:"exportSettings" validate:"required"`
}

// SubmitJobResponse acknowledges an accepted job.
type SubmitJobResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobStatusResponse is what status pollers see.
type JobStatusResponse struct {
	JobID        string     `json:"jobId"`
	Status       JobStatus  `json:"status"`
	Progress     int        `json:"progress"`
	CurrentStage string     `json:"currentStage,omitempty"`
	FailedReason *string    `json:"failedReason,omitempty"`
	OutputPath   *string    `json:"outputPath,omitempty"`
	OutputURL    *string    `json:"outputUrl,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	Attempts     int        `json:"attempts"`
}

// JobCounts aggregates queue depth per status.
type JobCounts struct {
	Queued    int `json:"queued"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}

// QueueHealth is derived on demand, never persisted as truth.
type QueueHealth struct {
	IsHealthy       bool      `json:"isHealthy"`
	WaitingJobs     int       `json:"waitingJobs"`
	ActiveJobs      int       `json:"activeJobs"`
	FailedJobs      int       `json:"failedJobs"`
	Errors          []string  `json:"errors"`
	LastHealthCheck time.Time `json:"lastHealthCheck"`
}

// ConnectionHealth describes the broker connection from the resilience
// layer's point of view.
type ConnectionHealth struct {
	IsConnected        bool      `json:"isConnected"`
	IsHealthy          bool      `json:"isHealthy"`
	ConnectionAttempts int       `json:"connectionAttempts"`
	LastError          string    `json:"lastError,omitempty"`
	UptimeSeconds      float64   `json:"uptimeSeconds"`
	CommandsExecuted   int64     `json:"commandsExecuted"`
	CommandsFailed     int64     `json:"commandsFailed"`
	LastHealthCheck    time.Time `json:"lastHealthCheck"`
}

// WorkerHealth is the supervisor's periodic self-report.
type WorkerHealth struct {
	ActiveConsumers int        `json:"activeConsumers"`
	RestartCount    int        `json:"restartCount"`
	LastRestart     *time.Time `json:"lastRestart,omitempty"`
	LastSnapshot    *time.Time `json:"lastSnapshot,omitempty"`
	Running         bool       `json:"running"`
	Timestamp       time.Time  `json:"timestamp"`
}
