package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aluiziolira/bookprice/config"
	"github.com/aluiziolira/bookprice/job"
	"github.com/aluiziolira/bookprice/metrics"
	"github.com/aluiziolira/bookprice/migrations"
	"github.com/aluiziolira/bookprice/models"
	"github.com/aluiziolira/bookprice/pipeline"
	"github.com/aluiziolira/bookprice/progress"
	"github.com/aluiziolira/bookprice/quota"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// requireDurable rejects commands whose state has to outlive this process.
func requireDurable(cfg *config.Config, command string) error {
	if cfg.Storage == "memory" {
		return fmt.Errorf("%s needs --storage postgres: the memory store loses jobs, quota usage and cached prices when the process exits", command)
	}
	return nil
}

// warnEphemeral flags runs whose quota admission only sees calls made by this process.
func warnEphemeral(cfg *config.Config) {
	if cfg.Storage != "memory" {
		return
	}
	slog.Warn("memory storage: daily quota usage and cached prices reset when this process exits; use --storage postgres to enforce the quota across runs",
		slog.Int("daily_quota", cfg.DailyQuota),
	)
}

type settingsFlags struct {
	round  bool
	adjust string
}

func (s *settingsFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&s.round, "round", false, "Round prices up to the next whole unit")
	cmd.Flags().StringVar(&s.adjust, "adjust", "", "Flat signed adjustment added before rounding, within [-1000, 1000]")
}

func (s *settingsFlags) settings() (models.Settings, error) {
	settings := models.Settings{PriceRounding: s.round}
	if strings.TrimSpace(s.adjust) != "" {
		d, err := decimal.NewFromString(strings.TrimSpace(s.adjust))
		if err != nil {
			return models.Settings{}, fmt.Errorf("invalid --adjust %q: %w", s.adjust, err)
		}
		settings.PriceAdjustment = &d
	}
	return settings, settings.Validate()
}

func newEnrichCmd(cfg *config.Config, m *metrics.Metrics) *cobra.Command {
	var (
		in, out, jsonl string
		sf             settingsFlags
	)
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Enrich a local catalog file",
		Long: `Resolve prices for a local catalog and write the enriched copy.

The output keeps every input column and row, plus calculatedPrice,
priceSource and processingStatus. --jsonl writes a JSON Lines companion.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			settings, err := sf.settings()
			if err != nil {
				return err
			}
			if out == "" {
				out = strings.TrimSuffix(in, filepath.Ext(in)) + ".priced." + cfg.OutputFormat
			}
			warnEphemeral(cfg)

			a, err := newApp(ctx, cfg, m)
			if err != nil {
				return err
			}
			defer a.Close()

			apiKey, err := a.secrets.PricingAPIKey(ctx)
			if err != nil {
				return fmt.Errorf("fetch pricing API key: %w", err)
			}
			input, err := os.Open(in)
			if err != nil {
				return fmt.Errorf("open input: %w", err)
			}
			defer input.Close()

			jobs := progress.NewMemory()
			local := models.JobRecord{JobProgress: models.JobProgress{JobID: uuid.NewString()}, FileName: in, Settings: settings}
			if err := jobs.Create(ctx, local); err != nil {
				return err
			}
			reporter := progress.NewReporter(jobs, local.JobProgress)
			if err := reporter.Start(ctx); err != nil {
				return err
			}

			start := time.Now()
			controller := pipeline.NewController(a.resolver.WithClient(a.client.WithAPIKey(apiKey)), pipeline.Options{
				ProgressEvery: cfg.ProgressEvery,
				Metrics:       m,
			})
			result, err := controller.Process(ctx, input, settings, reporter)
			if err != nil {
				_ = reporter.Fail(context.WithoutCancel(ctx), err)
				return err
			}
			if err := writeLocal(result, cfg.OutputFormat, out, jsonl); err != nil {
				_ = reporter.Fail(context.WithoutCancel(ctx), err)
				return err
			}
			if err := reporter.Complete(ctx, result.Progress, out); err != nil {
				return err
			}

			printSummary(reporter.Snapshot(), result.Counts, time.Since(start))
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "Input catalog (CSV with a header row)")
	cmd.Flags().StringVar(&out, "out", "", "Output path (default <in>.priced.<format>)")
	cmd.Flags().StringVar(&jsonl, "jsonl", "", "Optional JSON Lines companion output path")
	sf.register(cmd)
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

// writeLocal writes into temp files and renames them so a failed write leaves no partial output.
func writeLocal(result *pipeline.Result, format, out, jsonl string) error {
	type target struct {
		path string
		tmp  *os.File
	}
	var (
		targets []target
		writers []pipeline.OutputWriter
	)
	cleanup := func() {
		for _, t := range targets {
			t.tmp.Close()
			os.Remove(t.tmp.Name())
		}
	}

	open := func(path, format string) error {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create directory %q: %w", dir, err)
			}
		}
		tmp, err := os.CreateTemp(filepath.Dir(path), ".bookprice-*")
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		targets = append(targets, target{path: path, tmp: tmp})
		w, err := pipeline.NewWriter(format, tmp, result.Header)
		if err != nil {
			return err
		}
		writers = append(writers, w)
		return nil
	}

	if err := open(out, format); err != nil {
		cleanup()
		return err
	}
	if jsonl != "" {
		if err := open(jsonl, pipeline.FormatJSON); err != nil {
			cleanup()
			return err
		}
	}
	if err := result.WriteRows(pipeline.NewMultiWriter(writers...)); err != nil {
		cleanup()
		return err
	}
	for _, t := range targets {
		if err := t.tmp.Close(); err != nil {
			cleanup()
			return fmt.Errorf("close output: %w", err)
		}
		if err := os.Rename(t.tmp.Name(), t.path); err != nil {
			cleanup()
			return fmt.Errorf("commit output %s: %w", t.path, err)
		}
	}
	return nil
}

func newSubmitCmd(cfg *config.Config, m *metrics.Metrics) *cobra.Command {
	var (
		in  string
		run bool
		sf  settingsFlags
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Upload a catalog and record a PENDING job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if !run {
				if err := requireDurable(cfg, "submit without --run"); err != nil {
					return err
				}
			}
			settings, err := sf.settings()
			if err != nil {
				return err
			}

			a, err := newApp(ctx, cfg, m)
			if err != nil {
				return err
			}
			defer a.Close()

			input, err := os.Open(in)
			if err != nil {
				return fmt.Errorf("open input: %w", err)
			}
			defer input.Close()

			rec, err := job.Submit(ctx, a.jobs, a.blobs, filepath.Base(in), input, settings)
			if err != nil {
				return err
			}
			fmt.Println(rec.JobID)
			if !run {
				return nil
			}
			return runJob(ctx, a, rec.JobID)
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "Input catalog (CSV with a header row)")
	cmd.Flags().BoolVar(&run, "run", false, "Execute the job right after submitting it")
	sf.register(cmd)
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

func newRunJobCmd(cfg *config.Config, m *metrics.Metrics) *cobra.Command {
	return &cobra.Command{
		Use:   "run-job <job-id>",
		Short: "Execute a stored PENDING job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireDurable(cfg, "run-job"); err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, m)
			if err != nil {
				return err
			}
			defer a.Close()
			return runJob(cmd.Context(), a, args[0])
		},
	}
}

func runJob(ctx context.Context, a *app, jobID string) error {
	start := time.Now()
	final, err := a.runner().Run(ctx, jobID)
	printSummary(final, nil, time.Since(start))
	return err
}

func newQuotaCmd(cfg *config.Config, m *metrics.Metrics) *cobra.Command {
	var prune bool
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Show today's provider call usage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			warnEphemeral(cfg)
			a, err := newApp(ctx, cfg, m)
			if err != nil {
				return err
			}
			defer a.Close()

			day := quota.Day(time.Now())
			used, err := a.ledger.Usage(ctx, day)
			if err != nil {
				return err
			}
			report := map[string]any{
				"day":       day,
				"used":      used,
				"limit":     cfg.DailyQuota,
				"remaining": max(cfg.DailyQuota-used, 0),
			}

			if prune {
				removed, err := a.ledger.Prune(ctx, quota.RetentionWindow)
				if err != nil {
					return err
				}
				report["prunedQuotaRecords"] = removed
				if a.purger != nil {
					purged, err := a.purger.PurgeExpired(ctx)
					if err != nil {
						return err
					}
					report["purgedCacheEntries"] = purged
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().BoolVar(&prune, "prune", false, "Drop quota records older than 48h and expired cache entries")
	return cmd
}

func newMigrateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|status]",
		Short:     "Apply or inspect the Postgres schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.DatabaseURL == "" {
				return errors.New("migrate requires --database-url or BOOKPRICE_DATABASE_URL")
			}
			pool, err := openPool(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			if len(args) == 1 && args[0] == "status" {
				return migrations.Status(pool)
			}
			if err := migrations.Up(pool); err != nil {
				return err
			}
			fmt.Println("Migrations applied successfully")
			return nil
		},
	}
}

func printSummary(p models.JobProgress, counts map[models.RowStatus]int, duration time.Duration) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Printf("Job %s\n", p.JobID)
	fmt.Printf("  Status:        %s\n", p.Status)
	fmt.Printf("  Rows:          %d/%d\n", p.ProcessedRows, p.TotalRows)
	fmt.Printf("  Row errors:    %d\n", p.ErrorCount)
	if len(counts) > 0 {
		fmt.Printf("  By status:     %v\n", counts)
	}
	if p.OutputLocation != "" {
		fmt.Printf("  Output:        %s\n", p.OutputLocation)
	}
	if p.ErrorMessage != "" {
		fmt.Printf("  Error:         %s\n", p.ErrorMessage)
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Println(separator)
}
