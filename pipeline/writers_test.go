package pipeline

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/aluiziolira/bookprice/models"
	"github.com/shopspring/decimal"
)

func sampleRow() models.ProcessedRow {
	return models.ProcessedRow{
		Row: models.Row{
			Line:   2,
			ISBN:   "9780306406157",
			Fields: []string{"9780306406157", "Signals", "stale"},
		},
		CalculatedPrice: decimal.NullDecimal{Decimal: decimal.RequireFromString("24.1"), Valid: true},
		Source:          models.SourceResolved,
		Status:          models.StatusSuccess,
	}
}

func TestCSVWriterWrite(t *testing.T) {
	var buf bytes.Buffer
	writer, err := NewCSVWriter(&buf, []string{"isbn", "title", "priceSource"})
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	if err := writer.Write([]models.ProcessedRow{sampleRow()}); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records=%d, want 2", len(records))
	}
	if got := strings.Join(records[0], ","); got != "isbn,title,priceSource,calculatedPrice,processingStatus" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	if got := strings.Join(records[1], ","); got != "9780306406157,Signals,resolved,24.10,success" {
		t.Fatalf("unexpected record: %v", records[1])
	}
}

func TestCSVWriterHeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	writer, err := NewCSVWriter(&buf, []string{"isbn"})
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}
	if got := buf.String(); got != "isbn,calculatedPrice,priceSource,processingStatus\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestJSONWriterWrite(t *testing.T) {
	var buf bytes.Buffer
	writer := NewJSONWriter(&buf, []string{"isbn", "title", "note"})

	failed := sampleRow()
	failed.Status = models.StatusError
	failed.Err = "row 3: adjusted price -1.00 is negative"

	if err := writer.Write([]models.ProcessedRow{sampleRow(), failed}); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	scanner := bufio.NewScanner(&buf)
	var docs []map[string]string
	for scanner.Scan() {
		var doc map[string]string
		if err := json.Unmarshal(scanner.Bytes(), &doc); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		docs = append(docs, doc)
	}
	if len(docs) != 2 {
		t.Fatalf("lines = %d, want 2", len(docs))
	}
	if docs[0]["calculatedPrice"] != "24.10" || docs[0]["title"] != "Signals" || docs[0]["note"] != "stale" {
		t.Fatalf("unexpected doc: %v", docs[0])
	}
	if _, ok := docs[0]["processingError"]; ok {
		t.Fatalf("successful row should carry no error: %v", docs[0])
	}
	if docs[1]["processingStatus"] != "error" || docs[1]["processingError"] == "" {
		t.Fatalf("unexpected doc: %v", docs[1])
	}
}

func TestNewWriterFormats(t *testing.T) {
	var buf bytes.Buffer
	if _, err := NewWriter(FormatCSV, &buf, nil); err != nil {
		t.Fatalf("csv: %v", err)
	}
	if _, err := NewWriter(FormatJSON, &buf, nil); err != nil {
		t.Fatalf("json: %v", err)
	}
	if _, err := NewWriter("xml", &buf, nil); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}

type failingWriter struct {
	closed bool
}

func (fw *failingWriter) Write([]models.ProcessedRow) error { return errors.New("disk full") }
func (fw *failingWriter) Close() error {
	fw.closed = true
	return errors.New("close failed")
}

func TestMultiWriter(t *testing.T) {
	var csvBuf, jsonBuf bytes.Buffer
	csvWriter, err := NewCSVWriter(&csvBuf, []string{"isbn", "title", "note"})
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	multi := NewMultiWriter(csvWriter, NewJSONWriter(&jsonBuf, []string{"isbn", "title", "note"}))

	if err := multi.Write([]models.ProcessedRow{sampleRow()}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := multi.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if strings.Count(csvBuf.String(), "\n") != 2 || strings.Count(jsonBuf.String(), "\n") != 1 {
		t.Fatalf("csv=%q json=%q", csvBuf.String(), jsonBuf.String())
	}

	bad := &failingWriter{}
	multi = NewMultiWriter(bad)
	if err := multi.Write([]models.ProcessedRow{sampleRow()}); err == nil {
		t.Fatalf("expected write error")
	}
	if err := multi.Close(); err == nil || !bad.closed {
		t.Fatalf("expected close error and closed writer")
	}
}

func TestJSONWriterKeepsOverflowInError(t *testing.T) {
	row := sampleRow()
	row.Malformed = true
	row.Overflow = []string{"extra"}
	row.Status = models.StatusError
	row.Err = `row 2 has 1 values beyond the header: "extra"`

	var buf bytes.Buffer
	writer := NewJSONWriter(&buf, []string{"isbn", "title", "note"})
	if err := writer.Write([]models.ProcessedRow{row}); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	var doc map[string]string
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(doc["processingError"], `"extra"`) || doc["note"] != "stale" {
		t.Fatalf("unexpected doc: %v", doc)
	}
}
