package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/aluiziolira/bookprice/models"
)

// Output annotation columns.
const (
	ColumnCalculatedPrice  = "calculatedPrice"
	ColumnPriceSource      = "priceSource"
	ColumnProcessingStatus = "processingStatus"
)

// Output formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// OutputWriter defines the interface for enriched row output.
type OutputWriter interface {
	Write(rows []models.ProcessedRow) error
	Close() error
}

// NewWriter returns the writer for format.
func NewWriter(format string, w io.Writer, inputHeader []string) (OutputWriter, error) {
	switch format {
	case FormatCSV, "":
		return NewCSVWriter(w, inputHeader)
	case FormatJSON:
		return NewJSONWriter(w, inputHeader), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

// layout is the output column order: the input header, then any annotation column it lacks.
// Annotation columns already present in the input are overwritten in place.
type layout struct {
	header []string
	price  int
	source int
	status int
}

func newLayout(inputHeader []string) layout {
	l := layout{header: append([]string(nil), inputHeader...)}
	index := func(name string) int {
		for i, h := range l.header {
			if h == name {
				return i
			}
		}
		l.header = append(l.header, name)
		return len(l.header) - 1
	}
	l.price = index(ColumnCalculatedPrice)
	l.source = index(ColumnPriceSource)
	l.status = index(ColumnProcessingStatus)
	return l
}

func (l layout) record(row models.ProcessedRow) []string {
	record := make([]string, len(l.header))
	copy(record, row.Fields)
	record[l.price] = row.PriceText()
	record[l.source] = string(row.Source)
	record[l.status] = string(row.Status)
	return record
}

// CSVWriter writes enriched rows as CSV.
type CSVWriter struct {
	layout layout
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter writes the header row immediately.
func NewCSVWriter(w io.Writer, inputHeader []string) (*CSVWriter, error) {
	cw := &CSVWriter{
		layout: newLayout(inputHeader),
		writer: csv.NewWriter(w),
	}
	if err := cw.writer.Write(cw.layout.header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv header: %w", err)
	}
	return cw, nil
}

// Write appends rows to the CSV output.
func (cw *CSVWriter) Write(rows []models.ProcessedRow) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, row := range rows {
		if len(row.Overflow) > 0 {
			slog.Warn("csv output omits values beyond the header",
				slog.Int("line", row.Line),
				slog.Any("values", row.Overflow),
			)
		}
		if err := cw.writer.Write(cw.layout.record(row)); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return nil
}

// JSONWriter writes newline-delimited JSON objects keyed by output column.
type JSONWriter struct {
	layout  layout
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

func NewJSONWriter(w io.Writer, inputHeader []string) *JSONWriter {
	buffer := bufio.NewWriter(w)
	return &JSONWriter{
		layout:  newLayout(inputHeader),
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}
}

// Write appends rows in JSONL format.
func (jw *JSONWriter) Write(rows []models.ProcessedRow) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, row := range rows {
		record := jw.layout.record(row)
		doc := make(map[string]string, len(record)+1)
		for i, name := range jw.layout.header {
			doc[name] = record[i]
		}
		if row.Err != "" {
			doc["processingError"] = row.Err
		}
		if err := jw.encoder.Encode(doc); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}
