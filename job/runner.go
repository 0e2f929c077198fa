// Package job executes stored enrichment jobs end to end.
package job

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aluiziolira/bookprice/blob"
	"github.com/aluiziolira/bookprice/metrics"
	"github.com/aluiziolira/bookprice/models"
	"github.com/aluiziolira/bookprice/pipeline"
	"github.com/aluiziolira/bookprice/progress"
	"github.com/aluiziolira/bookprice/quota"
	"github.com/aluiziolira/bookprice/resolver"
	"github.com/aluiziolira/bookprice/secrets"
)

// Pruner drops quota records past the retention window.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
}

// ClientFactory returns a lookup client authenticated with apiKey.
type ClientFactory func(apiKey string) resolver.Lookuper

// Options tune a Runner.
type Options struct {
	Format        string
	ProgressEvery int
	Metrics       *metrics.Metrics
	// Pruner is optional.
	Pruner Pruner
}

// Runner turns a PENDING job record into a COMPLETED or FAILED one.
type Runner struct {
	store     progress.Store
	blobs     blob.Store
	secrets   secrets.Provider
	resolver  *resolver.Resolver
	newClient ClientFactory
	opts      Options
}

func NewRunner(store progress.Store, blobs blob.Store, secretProvider secrets.Provider, r *resolver.Resolver, newClient ClientFactory, opts Options) *Runner {
	if opts.Format == "" {
		opts.Format = pipeline.FormatCSV
	}
	return &Runner{
		store:     store,
		blobs:     blobs,
		secrets:   secretProvider,
		resolver:  r,
		newClient: newClient,
		opts:      opts,
	}
}

// Run executes jobID. The returned progress is the job's final state; a non-nil error
// means the job ended FAILED (or could not be started) and no output was written.
func (r *Runner) Run(ctx context.Context, jobID string) (models.JobProgress, error) {
	rec, err := r.store.Get(ctx, jobID)
	if err != nil {
		return models.JobProgress{}, err
	}
	if rec.Status.Terminal() {
		return rec.JobProgress, fmt.Errorf("%w: job %s is already %s", progress.ErrInvalidTransition, jobID, rec.Status)
	}

	reporter := progress.NewReporter(r.store, rec.JobProgress)
	if err := reporter.Start(ctx); err != nil {
		return reporter.Snapshot(), err
	}

	logger := slog.With(slog.String("job_id", jobID))
	start := time.Now()

	summary, location, runErr := r.execute(ctx, rec, reporter)

	// Terminal updates must land even when ctx was cancelled mid-run.
	finalCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		r.opts.Metrics.IncJob(string(models.JobFailed))
		logger.Error("job failed", slog.Any("error", runErr), slog.Duration("elapsed", time.Since(start)))
		if err := reporter.Fail(finalCtx, runErr); err != nil {
			logger.Error("record job failure", slog.Any("error", err))
		}
		return reporter.Snapshot(), runErr
	}

	if err := reporter.Complete(finalCtx, summary, location); err != nil {
		return reporter.Snapshot(), fmt.Errorf("record job completion: %w", err)
	}
	r.opts.Metrics.IncJob(string(models.JobCompleted))
	logger.Info("job completed",
		slog.Int("rows", summary.ProcessedRows),
		slog.Int("errors", summary.ErrorCount),
		slog.String("output", location),
		slog.Duration("elapsed", time.Since(start)),
	)
	return reporter.Snapshot(), nil
}

func (r *Runner) execute(ctx context.Context, rec models.JobRecord, reporter *progress.Reporter) (models.JobProgress, string, error) {
	if r.opts.Pruner != nil {
		if n, err := r.opts.Pruner.Prune(ctx, quota.RetentionWindow); err != nil {
			slog.Warn("prune quota records failed", slog.Any("error", err))
		} else if n > 0 {
			slog.Debug("pruned quota records", slog.Int("records", n))
		}
	}

	apiKey, err := r.secrets.PricingAPIKey(ctx)
	if err != nil {
		return models.JobProgress{}, "", fmt.Errorf("fetch pricing API key: %w", err)
	}

	input, err := r.blobs.Get(ctx, rec.FileName)
	if err != nil {
		return models.JobProgress{}, "", fmt.Errorf("read input: %w", err)
	}
	defer input.Close()

	controller := pipeline.NewController(r.resolver.WithClient(r.newClient(apiKey)), pipeline.Options{
		ProgressEvery: r.opts.ProgressEvery,
		Metrics:       r.opts.Metrics,
	})
	result, err := controller.Process(ctx, input, rec.Settings, reporter)
	if err != nil {
		return models.JobProgress{}, "", err
	}

	data, err := result.Encode(r.opts.Format)
	if err != nil {
		return models.JobProgress{}, "", fmt.Errorf("encode output: %w", err)
	}
	key := OutputKey(rec.JobID, rec.FileName, r.opts.Format)
	if err := r.blobs.Put(ctx, key, bytes.NewReader(data), contentType(r.opts.Format)); err != nil {
		return models.JobProgress{}, "", fmt.Errorf("write output: %w", err)
	}
	return result.Progress, r.blobs.Location(key), nil
}

// OutputKey is processed/<jobID>/<input base name>.<ext>.
func OutputKey(jobID, fileName, format string) string {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	name := strings.TrimSuffix(base, path.Ext(base))
	if name == "" || name == "." || name == "/" {
		name = "output"
	}
	ext := ".csv"
	if format == pipeline.FormatJSON {
		ext = ".jsonl"
	}
	return path.Join("processed", jobID, name+ext)
}

func contentType(format string) string {
	if format == pipeline.FormatJSON {
		return "application/x-ndjson"
	}
	return blob.ContentTypeCSV
}
