package models

import "time"

// JobStatus is the lifecycle state of an enrichment job.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition reports whether s may move to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobProcessing
	case JobProcessing:
		return next == JobCompleted || next == JobFailed
	default:
		return false
	}
}

// JobProgress is the externally visible progress of a job.
type JobProgress struct {
	JobID          string    `json:"jobId"`
	Status         JobStatus `json:"status"`
	TotalRows      int       `json:"totalRows"`
	ProcessedRows  int       `json:"processedRows"`
	ErrorCount     int       `json:"errorCount"`
	OutputLocation string    `json:"outputLocation,omitempty"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
}

// JobRecord is the durable job document owned by the orchestrator.
type JobRecord struct {
	JobProgress
	// FileName is the blob key of the uploaded input.
	FileName  string    `json:"fileName"`
	Settings  Settings  `json:"settings"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
