// Package resolver builds the per-job price map: cache first, then paced bulk lookups
// admitted against the daily quota.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aluiziolira/bookprice/cache"
	"github.com/aluiziolira/bookprice/lookup"
	"github.com/aluiziolira/bookprice/metrics"
	"github.com/aluiziolira/bookprice/models"
	"github.com/aluiziolira/bookprice/parser"
	"github.com/aluiziolira/bookprice/quota"
	"golang.org/x/time/rate"
)

// Lookuper issues one bulk lookup call.
type Lookuper interface {
	Lookup(ctx context.Context, isbns []string) ([]lookup.Book, error)
}

// Options tune batching, admission, pacing and retries.
type Options struct {
	BatchSize  int
	DailyQuota int
	Pacing     time.Duration
	// MaxRetries is the number of extra attempts for a retryable batch failure.
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
}

// Resolver is safe to share across jobs: the pacing limiter, cache and ledger are shared
// by every resolver derived with WithClient.
type Resolver struct {
	cache   cache.Cache
	ledger  quota.Ledger
	client  Lookuper
	limiter *rate.Limiter
	opts    Options
	metrics *metrics.Metrics
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// New builds a resolver. A zero pacing disables the limiter.
func New(c cache.Cache, ledger quota.Ledger, client Lookuper, opts Options, m *metrics.Metrics) *Resolver {
	if opts.BatchSize <= 0 || opts.BatchSize > lookup.MaxBatchSize {
		opts.BatchSize = lookup.MaxBatchSize
	}
	limit := rate.Inf
	if opts.Pacing > 0 {
		limit = rate.Every(opts.Pacing)
	}
	return &Resolver{
		cache:   c,
		ledger:  ledger,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		opts:    opts,
		metrics: m,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// WithClient returns a resolver that dispatches through client and keeps everything else shared.
func (r *Resolver) WithClient(client Lookuper) *Resolver {
	clone := *r
	clone.client = client
	return &clone
}

// Resolve returns prices for isbns. Cache hits never reach the provider. Misses are looked up
// in sequential batches only if the whole job fits in today's remaining quota. Every provider
// attempt, retries included, waits on the pacing limiter and is charged to the ledger.
func (r *Resolver) Resolve(ctx context.Context, isbns []string) (models.PriceMap, error) {
	prices := make(models.PriceMap, len(isbns))
	requested := make(map[string]bool, len(isbns))
	var misses []string

	for _, isbn := range isbns {
		if isbn == "" || requested[isbn] {
			continue
		}
		requested[isbn] = true

		entry, ok, err := r.cache.Get(ctx, isbn)
		if err != nil {
			r.metrics.IncCache("error")
			slog.Warn("price cache read failed", slog.String("isbn", isbn), slog.Any("error", err))
		}
		if err == nil && ok {
			r.metrics.IncCache("hit")
			prices[isbn] = entry.Price
			continue
		}
		if err == nil {
			r.metrics.IncCache("miss")
		}
		misses = append(misses, isbn)
	}

	if len(misses) == 0 {
		return prices, nil
	}

	batches := chunk(misses, r.opts.BatchSize)
	day := quota.Day(r.now())
	if err := quota.Admit(ctx, r.ledger, day, len(batches), r.opts.DailyQuota); err != nil {
		return nil, err
	}

	slog.Info("dispatching bulk lookups",
		slog.Int("cached", len(requested)-len(misses)),
		slog.Int("misses", len(misses)),
		slog.Int("batches", len(batches)),
	)

	for i, batch := range batches {
		books, err := r.lookupBatch(ctx, batch)
		if err != nil {
			if lookup.IsFatal(err) {
				return nil, fmt.Errorf("bulk lookup: %w", err)
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			slog.Warn("bulk lookup batch skipped",
				slog.Int("batch", i+1),
				slog.Int("isbns", len(batch)),
				slog.Any("error", err),
			)
			continue
		}

		found := r.absorb(ctx, books, requested, prices)
		slog.Debug("bulk lookup batch done",
			slog.Int("batch", i+1),
			slog.Int("isbns", len(batch)),
			slog.Int("priced", found),
		)
	}

	return prices, nil
}

// lookupBatch calls the provider for one batch, retrying retryable failures with capped
// exponential backoff. The limiter gates every attempt, so retries keep the provider spacing.
func (r *Resolver) lookupBatch(ctx context.Context, batch []string) ([]lookup.Book, error) {
	var lastErr error
	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			r.metrics.IncRetries()
			if err := r.sleep(ctx, r.backoff(attempt)); err != nil {
				return nil, err
			}
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for pacing: %w", err)
		}

		books, err := r.client.Lookup(ctx, batch)
		if !errors.Is(err, lookup.ErrMissingAPIKey) {
			r.charge(ctx)
		}
		if err == nil {
			return books, nil
		}
		lastErr = err
		if !lookup.IsRetryable(err) || ctx.Err() != nil {
			break
		}
		slog.Debug("bulk lookup attempt failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("isbns", len(batch)),
			slog.Any("error", err),
		)
	}
	return nil, lastErr
}

// charge records one issued provider call against today's quota.
func (r *Resolver) charge(ctx context.Context) {
	if err := r.ledger.Increment(ctx, quota.Day(r.now())); err != nil {
		slog.Error("quota increment failed", slog.Any("error", err))
	}
	r.metrics.IncQuota()
}

func (r *Resolver) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	base := r.opts.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	delay := base * time.Duration(1<<(attempt-1))
	if max := r.opts.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// absorb adds usable prices to the map and the cache and reports how many keys it wrote.
// The 13-digit identifier is the primary key; the 10-digit form is also kept when it was requested.
func (r *Resolver) absorb(ctx context.Context, books []lookup.Book, requested map[string]bool, prices models.PriceMap) int {
	written := 0
	for _, book := range books {
		price, ok := parser.ParsePrice(string(book.MSRP))
		if !ok {
			continue
		}

		isbn13 := parser.NormalizeISBN(book.ISBN13)
		isbn10 := parser.NormalizeISBN(book.ISBN)
		keys := make([]string, 0, 2)
		switch {
		case isbn13 != "":
			keys = append(keys, isbn13)
			if isbn10 != "" && isbn10 != isbn13 && requested[isbn10] {
				keys = append(keys, isbn10)
			}
		case isbn10 != "":
			keys = append(keys, isbn10)
		default:
			continue
		}

		meta := cache.Metadata{Title: book.Title, Author: strings.Join(book.Authors, ", ")}
		for _, key := range keys {
			prices[key] = price
			written++
			if err := r.cache.Put(ctx, key, price, meta); err != nil {
				r.metrics.IncCache("error")
				slog.Warn("price cache write failed", slog.String("isbn", key), slog.Any("error", err))
				continue
			}
			r.metrics.IncCache("write")
		}
	}
	return written
}

func chunk(isbns []string, size int) [][]string {
	batches := make([][]string, 0, (len(isbns)+size-1)/size)
	for start := 0; start < len(isbns); start += size {
		end := min(start+size, len(isbns))
		batches = append(batches, isbns[start:end])
	}
	return batches
}
