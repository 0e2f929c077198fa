// Package pipeline drives one enrichment run: parse, resolve, transform, serialize.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aluiziolira/bookprice/metrics"
	"github.com/aluiziolira/bookprice/models"
	"github.com/aluiziolira/bookprice/parser"
	"github.com/aluiziolira/bookprice/transform"
)

// DefaultProgressEvery is the row cadence of progress reports.
const DefaultProgressEvery = 50

const writeBatchSize = 64

// ErrInvalidSettings wraps a settings validation failure.
var ErrInvalidSettings = errors.New("pipeline: invalid settings")

// PriceResolver builds the price map for a set of normalized ISBNs.
type PriceResolver interface {
	Resolve(ctx context.Context, isbns []string) (models.PriceMap, error)
}

// ProgressReporter receives row counts while a run is in flight.
type ProgressReporter interface {
	SetTotal(ctx context.Context, total int) error
	Progress(ctx context.Context, processed, errCount int) error
}

// Options tune a Controller.
type Options struct {
	ProgressEvery int
	Metrics       *metrics.Metrics
}

// Controller runs the enrichment of one input table at a time. It holds no per-run state.
type Controller struct {
	resolver      PriceResolver
	progressEvery int
	metrics       *metrics.Metrics
}

func NewController(resolver PriceResolver, opts Options) *Controller {
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	return &Controller{
		resolver:      resolver,
		progressEvery: opts.ProgressEvery,
		metrics:       opts.Metrics,
	}
}

// Result is the outcome of a run: every input row, in input order, with its pricing.
type Result struct {
	Header   []string
	Rows     []models.ProcessedRow
	Progress models.JobProgress
	Counts   map[models.RowStatus]int
}

// Process enriches input. A returned error is job-level fatal (bad settings, unreadable
// input, quota or authorization failure); row-level problems are recorded on the rows.
func (c *Controller) Process(ctx context.Context, input io.Reader, settings models.Settings, reporter ProgressReporter) (*Result, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	table, err := parser.ReadTable(input)
	if err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	total := len(table.Rows)
	if reporter != nil {
		if err := reporter.SetTotal(ctx, total); err != nil {
			slog.Warn("report total rows failed", slog.Any("error", err))
		}
	}

	isbns := dedupeISBNs(table.Rows)
	prices, err := c.resolver.Resolve(ctx, isbns)
	if err != nil {
		return nil, fmt.Errorf("resolve prices: %w", err)
	}
	slog.Info("prices resolved",
		slog.Int("rows", total),
		slog.Int("unique_isbns", len(isbns)),
		slog.Int("priced", len(prices)),
	)

	result := &Result{
		Header: table.Header,
		Rows:   make([]models.ProcessedRow, 0, total),
		Counts: make(map[models.RowStatus]int),
	}
	errCount := 0
	for i, row := range table.Rows {
		processed := c.processRow(row, settings, prices)
		result.Rows = append(result.Rows, processed)
		result.Counts[processed.Status]++
		c.metrics.IncRow(string(processed.Status))
		if processed.Status == models.StatusError {
			errCount++
			slog.Debug("row failed", slog.Int("line", row.Line), slog.String("error", processed.Err))
		}

		done := i + 1
		if done%c.progressEvery != 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if reporter != nil {
			if err := reporter.Progress(ctx, done, errCount); err != nil {
				slog.Warn("report progress failed", slog.Int("processed", done), slog.Any("error", err))
			}
		}
	}

	result.Progress = models.JobProgress{
		TotalRows:     total,
		ProcessedRows: len(result.Rows),
		ErrorCount:    errCount,
	}
	return result, nil
}

// processRow never panics and never drops a row.
func (c *Controller) processRow(row models.Row, settings models.Settings, prices models.PriceMap) (out models.ProcessedRow) {
	defer func() {
		if r := recover(); r != nil {
			out = transform.Fallback(row, fmt.Errorf("row %d: panic: %v", row.Line, r))
		}
	}()

	processed, err := transform.Transform(row, settings, prices)
	if err != nil {
		return transform.Fallback(row, err)
	}
	return processed
}

// Encode serializes the result in format ("csv" or "json").
func (r *Result) Encode(format string) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := NewWriter(format, &buf, r.Header)
	if err != nil {
		return nil, err
	}
	if err := r.WriteRows(writer); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteRows streams the rows to w in batches and closes it.
func (r *Result) WriteRows(w OutputWriter) error {
	for start := 0; start < len(r.Rows); start += writeBatchSize {
		end := min(start+writeBatchSize, len(r.Rows))
		if err := w.Write(r.Rows[start:end]); err != nil {
			w.Close()
			return fmt.Errorf("write batch: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// dedupeISBNs keeps the first occurrence of each lookup-worthy ISBN.
// Short ISBNs stay on their rows but are never sent to the provider.
func dedupeISBNs(rows []models.Row) []string {
	seen := make(map[string]struct{}, len(rows))
	isbns := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.Malformed {
			continue
		}
		isbn, ok := parser.LookupISBN(row.ISBN)
		if !ok {
			continue
		}
		if _, ok := seen[isbn]; ok {
			continue
		}
		seen[isbn] = struct{}{}
		isbns = append(isbns, isbn)
	}
	return isbns
}
