package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aluiziolira/bookprice/models"
)

// Reporter drives one job through PROCESSING to exactly one terminal state
// and mirrors every change into the store.
type Reporter struct {
	store Store
	mu    sync.Mutex
	state models.JobProgress
}

// NewReporter starts from current, the job's stored progress.
func NewReporter(store Store, current models.JobProgress) *Reporter {
	if current.Status == "" {
		current.Status = models.JobPending
	}
	return &Reporter{store: store, state: current}
}

// Start moves the job to PROCESSING. A job left PROCESSING by an aborted run is resumed as is.
func (r *Reporter) Start(ctx context.Context) error {
	r.mu.Lock()
	resumed := r.state.Status == models.JobProcessing
	r.mu.Unlock()
	if resumed {
		slog.Warn("resuming job left in processing", slog.String("job_id", r.state.JobID))
		return nil
	}
	return r.transition(ctx, models.JobProcessing, Update{})
}

// SetTotal records the parsed row count.
func (r *Reporter) SetTotal(ctx context.Context, total int) error {
	r.mu.Lock()
	r.state.TotalRows = total
	r.mu.Unlock()

	slog.Info("job rows parsed", slog.String("job_id", r.state.JobID), slog.Int("total_rows", total))
	return r.store.Update(ctx, r.state.JobID, Update{TotalRows: ptr(total)})
}

// Progress records processed and error row counts.
func (r *Reporter) Progress(ctx context.Context, processed, errCount int) error {
	r.mu.Lock()
	r.state.ProcessedRows = processed
	r.state.ErrorCount = errCount
	total := r.state.TotalRows
	r.mu.Unlock()

	slog.Info("job progress",
		slog.String("job_id", r.state.JobID),
		slog.Int("processed", processed),
		slog.Int("total", total),
		slog.Int("errors", errCount),
	)
	return r.store.Update(ctx, r.state.JobID, Update{
		ProcessedRows: ptr(processed),
		ErrorCount:    ptr(errCount),
	})
}

// Complete is the successful terminal transition.
func (r *Reporter) Complete(ctx context.Context, summary models.JobProgress, location string) error {
	return r.transition(ctx, models.JobCompleted, Update{
		TotalRows:      ptr(summary.TotalRows),
		ProcessedRows:  ptr(summary.ProcessedRows),
		ErrorCount:     ptr(summary.ErrorCount),
		OutputLocation: ptr(location),
	})
}

// Fail is the failed terminal transition; cause becomes the error message.
func (r *Reporter) Fail(ctx context.Context, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return r.transition(ctx, models.JobFailed, Update{ErrorMessage: ptr(msg)})
}

// Snapshot returns the last state reported.
func (r *Reporter) Snapshot() models.JobProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reporter) transition(ctx context.Context, next models.JobStatus, u Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.state.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.state.Status, next)
	}
	u.Status = ptr(next)
	if err := r.store.Update(ctx, r.state.JobID, u); err != nil {
		return fmt.Errorf("mark job %s %s: %w", r.state.JobID, next, err)
	}

	staged := models.JobRecord{JobProgress: r.state}
	u.apply(&staged)
	r.state = staged.JobProgress

	slog.Info("job status changed", slog.String("job_id", r.state.JobID), slog.String("status", string(next)))
	return nil
}
