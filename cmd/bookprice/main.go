package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/bookprice/config"
	"github.com/aluiziolira/bookprice/metrics"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load(".env.local")

	cfg := config.DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(cfg).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	m := metrics.New()
	var metricsServer *http.Server

	root := &cobra.Command{
		Use:   "bookprice",
		Short: "Enrich book catalogs with bulk-resolved prices",
		Long: `bookprice resolves catalog prices against a bulk pricing provider,
applies rounding and flat adjustments, and annotates every row with
its price source and processing status.

Examples:
  bookprice enrich --in catalog.csv --out priced.csv --round
  bookprice submit --in catalog.csv --adjust -5 --run
  bookprice run-job 6f1c2d1e-...
  bookprice quota`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, level := newLogger(cfg.Verbose)
			slog.SetDefault(logger)
			slog.SetLogLoggerLevel(level.Level())

			cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)
			if err := cfg.Validate(); err != nil {
				slog.Error("invalid configuration", slog.Any("error", err))
				return err
			}
			metricsServer = startMetricsServer(cfg.MetricsAddr, m)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			stopMetricsServer(metricsServer)
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Enable verbose logging")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	flags.StringVar(&cfg.ProviderURL, "provider-url", cfg.ProviderURL, "Bulk pricing provider base URL")
	flags.StringVar(&cfg.Storage, "storage", cfg.Storage, "Cache, quota and job storage: memory or postgres")
	flags.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "Postgres DSN for postgres storage")
	flags.StringVar(&cfg.BlobBackend, "blob-backend", cfg.BlobBackend, "Input/output blob backend: file or s3")
	flags.StringVar(&cfg.BlobDir, "blob-dir", cfg.BlobDir, "Root directory of the file blob backend")
	flags.StringVar(&cfg.S3Bucket, "s3-bucket", cfg.S3Bucket, "Bucket of the s3 blob backend")
	flags.StringVar(&cfg.SecretSource, "secret-source", cfg.SecretSource, "API key source: env or aws")
	flags.StringVar(&cfg.SecretName, "secret-name", cfg.SecretName, "Environment variable or Secrets Manager id holding the API key")
	flags.StringVar(&cfg.OutputFormat, "format", cfg.OutputFormat, "Output format: csv or json")
	flags.DurationVar(&cfg.PacingInterval, "pacing", cfg.PacingInterval, "Minimum spacing between bulk lookup calls")
	flags.IntVar(&cfg.DailyQuota, "daily-quota", cfg.DailyQuota, "Provider calls allowed per UTC day")
	flags.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Retry attempts per bulk lookup")

	root.AddCommand(
		newEnrichCmd(cfg, m),
		newSubmitCmd(cfg, m),
		newRunJobCmd(cfg, m),
		newQuotaCmd(cfg, m),
		newMigrateCmd(cfg),
	)
	return root
}

func startMetricsServer(addr string, m *metrics.Metrics) *http.Server {
	if addr == "" || m == nil {
		return nil
	}
	server := &http.Server{
		Addr:    addr,
		Handler: promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func stopMetricsServer(server *http.Server) {
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown failed", slog.Any("error", err))
	}
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
