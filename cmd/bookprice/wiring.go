package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/bookprice/blob"
	"github.com/aluiziolira/bookprice/cache"
	"github.com/aluiziolira/bookprice/config"
	"github.com/aluiziolira/bookprice/job"
	"github.com/aluiziolira/bookprice/lookup"
	"github.com/aluiziolira/bookprice/metrics"
	"github.com/aluiziolira/bookprice/progress"
	"github.com/aluiziolira/bookprice/quota"
	"github.com/aluiziolira/bookprice/resolver"
	"github.com/aluiziolira/bookprice/secrets"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ledger interface {
	quota.Ledger
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
}

type cachePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type jobStore interface {
	progress.Store
	job.Creator
}

// app holds the process-wide collaborators built from configuration.
type app struct {
	cfg      *config.Config
	metrics  *metrics.Metrics
	pool     *pgxpool.Pool
	cache    cache.Cache
	purger   cachePurger
	ledger   ledger
	jobs     jobStore
	blobs    blob.Store
	secrets  secrets.Provider
	client   *lookup.Client
	resolver *resolver.Resolver
}

func newApp(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*app, error) {
	a := &app{cfg: cfg, metrics: m}

	front := cache.NewMemory(cfg.CacheSize, cfg.CacheTTL)
	switch cfg.Storage {
	case "postgres":
		pool, err := openPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		durable := cache.NewPostgres(pool, cfg.CacheTTL)
		a.cache = cache.NewTiered(front, durable)
		a.purger = durable
		a.ledger = quota.NewPostgres(pool)
		a.jobs = progress.NewPostgresStore(pool)
	default:
		a.cache = front
		a.ledger = quota.NewMemory()
		a.jobs = progress.NewMemory()
	}

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		loaded, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("load aws config: %w", err)
		}
		awsCfg = &loaded
		return loaded, nil
	}

	switch cfg.BlobBackend {
	case "s3":
		loaded, err := loadAWS()
		if err != nil {
			a.Close()
			return nil, err
		}
		a.blobs = blob.NewS3(s3.NewFromConfig(loaded), cfg.S3Bucket)
	default:
		a.blobs = blob.NewFile(cfg.BlobDir)
	}

	switch cfg.SecretSource {
	case "aws":
		loaded, err := loadAWS()
		if err != nil {
			a.Close()
			return nil, err
		}
		a.secrets = secrets.NewAWS(secretsmanager.NewFromConfig(loaded), cfg.SecretName)
	default:
		a.secrets = secrets.NewEnv(cfg.SecretName)
	}

	client, err := lookup.NewClient(cfg, m)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initialising lookup client: %w", err)
	}
	a.client = client
	a.resolver = resolver.New(a.cache, a.ledger, client, resolver.Options{
		BatchSize:       cfg.BatchSize,
		DailyQuota:      cfg.DailyQuota,
		Pacing:          cfg.PacingInterval,
		MaxRetries:      cfg.MaxRetries,
		RetryBackoff:    cfg.RetryBackoff,
		RetryBackoffMax: cfg.RetryBackoffMax,
	}, m)

	slog.Debug("application wired",
		slog.String("storage", cfg.Storage),
		slog.String("blob_backend", cfg.BlobBackend),
		slog.String("secret_source", cfg.SecretSource),
	)
	return a, nil
}

func (a *app) runner() *job.Runner {
	return job.NewRunner(a.jobs, a.blobs, a.secrets, a.resolver,
		func(apiKey string) resolver.Lookuper { return a.client.WithAPIKey(apiKey) },
		job.Options{
			Format:        a.cfg.OutputFormat,
			ProgressEvery: a.cfg.ProgressEvery,
			Metrics:       a.metrics,
			Pruner:        a.ledger,
		})
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

func openPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
