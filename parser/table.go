// Package parser turns delimited catalog files into rows and normalizes their fields.
package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aluiziolira/bookprice/models"
	"github.com/shopspring/decimal"
)

// ErrEmptyInput is returned when the input has no header row.
var ErrEmptyInput = errors.New("parser: empty input")

var (
	isbnHeaders   = []string{"isbn", "isbn13", "isbn10", "ean"}
	titleHeaders  = []string{"title", "name", "booktitle"}
	authorHeaders = []string{"author", "authors", "writer"}
	priceHeaders  = []string{"price", "baseprice", "originalprice", "listprice", "msrp"}
)

// Columns holds header indexes of the mapped fields, -1 when absent.
type Columns struct {
	ISBN   int
	Title  int
	Author int
	Price  int
}

// Table is a parsed catalog file.
type Table struct {
	Header  []string
	Columns Columns
	Rows    []models.Row
}

// ReadTable parses a header-driven CSV. Unknown columns are kept as pass-through fields.
func ReadTable(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyInput
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	table := &Table{
		Header:  header,
		Columns: mapColumns(header),
	}

	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record %d: %w", line+1, err)
		}
		if blankRecord(record) {
			continue
		}
		line++
		table.Rows = append(table.Rows, buildRow(line, header, record, table.Columns))
	}
	return table, nil
}

func buildRow(line int, header, record []string, cols Columns) models.Row {
	row := models.Row{
		Line:      line,
		Fields:    record,
		Malformed: len(record) > len(header),
	}
	if row.Malformed {
		row.Fields = record[:len(header)]
		row.Overflow = record[len(header):]
	}
	if len(record) < len(header) {
		padded := make([]string, len(header))
		copy(padded, record)
		row.Fields = padded
	}

	row.RawISBN = field(row.Fields, cols.ISBN)
	row.ISBN = NormalizeISBN(row.RawISBN)
	row.Title = strings.TrimSpace(field(row.Fields, cols.Title))
	row.Author = strings.TrimSpace(field(row.Fields, cols.Author))
	row.RawPrice = strings.TrimSpace(field(row.Fields, cols.Price))
	if price, ok := ParsePrice(row.RawPrice); ok {
		row.BasePrice = decimal.NullDecimal{Decimal: price, Valid: true}
	}
	return row
}

func mapColumns(header []string) Columns {
	cols := Columns{ISBN: -1, Title: -1, Author: -1, Price: -1}
	for i, name := range header {
		key := headerKey(name)
		switch {
		case cols.ISBN < 0 && contains(isbnHeaders, key):
			cols.ISBN = i
		case cols.Title < 0 && contains(titleHeaders, key):
			cols.Title = i
		case cols.Author < 0 && contains(authorHeaders, key):
			cols.Author = i
		case cols.Price < 0 && contains(priceHeaders, key):
			cols.Price = i
		}
	}
	return cols
}

func headerKey(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(name)
}

func contains(list []string, key string) bool {
	for _, item := range list {
		if item == key {
			return true
		}
	}
	return false
}

func field(fields []string, idx int) string {
	if idx < 0 || idx >= len(fields) {
		return ""
	}
	return fields[idx]
}

func blankRecord(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
