// Package progress persists job state and reports pipeline progress against it.
package progress

import (
	"context"
	"errors"

	"github.com/aluiziolira/bookprice/models"
)

var (
	// ErrJobNotFound is returned when no record exists for a job id.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned for a status change the state machine forbids,
	// or for any update to a job that already reached a terminal state.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Update is a partial change to a job record. Nil fields are left untouched.
type Update struct {
	Status         *models.JobStatus
	TotalRows      *int
	ProcessedRows  *int
	ErrorCount     *int
	OutputLocation *string
	ErrorMessage   *string
}

// Store is the durable job record collaborator.
type Store interface {
	Get(ctx context.Context, id string) (models.JobRecord, error)
	Update(ctx context.Context, id string, u Update) error
}

// apply copies the non-nil fields of u onto rec.
func (u Update) apply(rec *models.JobRecord) {
	if u.Status != nil {
		rec.Status = *u.Status
	}
	if u.TotalRows != nil {
		rec.TotalRows = *u.TotalRows
	}
	if u.ProcessedRows != nil {
		rec.ProcessedRows = *u.ProcessedRows
	}
	if u.ErrorCount != nil {
		rec.ErrorCount = *u.ErrorCount
	}
	if u.OutputLocation != nil {
		rec.OutputLocation = *u.OutputLocation
	}
	if u.ErrorMessage != nil {
		rec.ErrorMessage = *u.ErrorMessage
	}
}

// allowedFrom lists the states a record may be in for u to apply.
func (u Update) allowedFrom() []models.JobStatus {
	if u.Status == nil {
		return []models.JobStatus{models.JobPending, models.JobProcessing}
	}
	var from []models.JobStatus
	for _, s := range []models.JobStatus{models.JobPending, models.JobProcessing, models.JobCompleted, models.JobFailed} {
		if s.CanTransition(*u.Status) {
			from = append(from, s)
		}
	}
	return from
}

func ptr[T any](v T) *T {
	return &v
}
