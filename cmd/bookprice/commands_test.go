package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aluiziolira/bookprice/config"
	"github.com/aluiziolira/bookprice/models"
	"github.com/aluiziolira/bookprice/pipeline"
	"github.com/shopspring/decimal"
)

func TestSettingsFlags(t *testing.T) {
	tests := []struct {
		name    string
		flags   settingsFlags
		wantErr bool
		adjust  string
	}{
		{name: "defaults", flags: settingsFlags{}},
		{name: "negative adjustment", flags: settingsFlags{round: true, adjust: "-5.00"}, adjust: "-5"},
		{name: "upper bound", flags: settingsFlags{adjust: "1000"}, adjust: "1000"},
		{name: "out of range", flags: settingsFlags{adjust: "1000.01"}, wantErr: true},
		{name: "not a number", flags: settingsFlags{adjust: "five"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.flags.settings()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("settings: %v", err)
			}
			if got.PriceRounding != tt.flags.round {
				t.Fatalf("rounding = %v", got.PriceRounding)
			}
			if tt.adjust == "" {
				if got.PriceAdjustment != nil {
					t.Fatalf("unexpected adjustment %v", got.PriceAdjustment)
				}
				return
			}
			if !got.PriceAdjustment.Equal(decimal.RequireFromString(tt.adjust)) {
				t.Fatalf("adjustment = %v, want %s", got.PriceAdjustment, tt.adjust)
			}
		})
	}
}

func TestWriteLocalWritesCSVAndJSONL(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "nested", "priced.csv")
	jsonl := filepath.Join(dir, "priced.jsonl")

	result := &pipeline.Result{
		Header: []string{"isbn"},
		Rows: []models.ProcessedRow{{
			Row:    models.Row{Fields: []string{"9780306406157"}},
			Source: models.SourceOriginal,
			Status: models.StatusNoPriceFound,
		}},
	}
	if err := writeLocal(result, pipeline.FormatCSV, out, jsonl); err != nil {
		t.Fatalf("writeLocal: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if !strings.Contains(string(data), "9780306406157,,original,no_price_found") {
		t.Fatalf("csv = %q", data)
	}
	data, err = os.ReadFile(jsonl)
	if err != nil {
		t.Fatalf("read jsonl: %v", err)
	}
	if !strings.Contains(string(data), `"processingStatus":"no_price_found"`) {
		t.Fatalf("jsonl = %q", data)
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, ".bookprice-*"))
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd(config.DefaultConfig())
	for _, name := range []string{"enrich", "submit", "run-job", "quota", "migrate"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %q not registered: %v", name, err)
		}
	}
}

func TestMemoryStorageRejectsDetachedJobs(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "run-job", args: []string{"run-job", "6f1c2d1e"}},
		{name: "submit without run", args: []string{"submit", "--in", "missing.csv"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCmd(config.DefaultConfig())
			root.SetArgs(tt.args)
			root.SetOut(io.Discard)
			root.SetErr(io.Discard)

			err := root.ExecuteContext(context.Background())
			if err == nil || !strings.Contains(err.Error(), "--storage postgres") {
				t.Fatalf("err = %v, want memory storage rejection", err)
			}
		})
	}
}

func TestRequireDurable(t *testing.T) {
	cfg := config.DefaultConfig()
	if err := requireDurable(cfg, "run-job"); err == nil {
		t.Fatalf("memory storage should be rejected")
	}
	cfg.Storage = "postgres"
	if err := requireDurable(cfg, "run-job"); err != nil {
		t.Fatalf("postgres storage should be accepted: %v", err)
	}
}
