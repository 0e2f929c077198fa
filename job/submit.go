package job

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aluiziolira/bookprice/blob"
	"github.com/aluiziolira/bookprice/models"
	"github.com/google/uuid"
)

// Creator stores new job records.
type Creator interface {
	Create(ctx context.Context, rec models.JobRecord) error
}

// Submit uploads input under uploads/<jobID>/<name> and records a PENDING job for it.
func Submit(ctx context.Context, jobs Creator, blobs blob.Store, name string, input io.Reader, settings models.Settings) (models.JobRecord, error) {
	if err := settings.Validate(); err != nil {
		return models.JobRecord{}, err
	}

	id := uuid.NewString()
	key := path.Join("uploads", id, path.Base(name))
	if err := blobs.Put(ctx, key, input, blob.ContentTypeCSV); err != nil {
		return models.JobRecord{}, fmt.Errorf("upload input: %w", err)
	}

	rec := models.JobRecord{
		JobProgress: models.JobProgress{JobID: id, Status: models.JobPending},
		FileName:    key,
		Settings:    settings,
	}
	if err := jobs.Create(ctx, rec); err != nil {
		return models.JobRecord{}, fmt.Errorf("create job: %w", err)
	}
	return rec, nil
}
