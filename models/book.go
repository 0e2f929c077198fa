// Package models defines the records that flow through the enrichment pipeline.
package models

import (
	"github.com/shopspring/decimal"
)

// PriceSource records where a calculated price came from.
type PriceSource string

const (
	SourceResolved PriceSource = "resolved"
	SourceOriginal PriceSource = "original"
	SourceNone     PriceSource = "none"
)

// RowStatus is the per-row processing outcome written to the output.
type RowStatus string

const (
	StatusSuccess      RowStatus = "success"
	StatusNoISBN       RowStatus = "no_isbn"
	StatusNoPriceFound RowStatus = "no_price_found"
	StatusError        RowStatus = "error"
)

// Row is one parsed catalog record.
type Row struct {
	Line      int
	ISBN      string
	RawISBN   string
	Title     string
	Author    string
	RawPrice  string
	BasePrice decimal.NullDecimal
	// Fields holds every input column in header order, including the ones mapped above.
	Fields []string
	// Malformed is set when the record did not match the header width.
	Malformed bool
	// Overflow holds the values of a malformed record past the last header column.
	Overflow []string
}

// ProcessedRow is a Row annotated with its pricing outcome.
type ProcessedRow struct {
	Row
	CalculatedPrice decimal.NullDecimal
	Source          PriceSource
	Status          RowStatus
	Err             string
}

// PriceText formats the calculated price with exactly two decimals, or "" when absent.
func (p *ProcessedRow) PriceText() string {
	if !p.CalculatedPrice.Valid {
		return ""
	}
	return p.CalculatedPrice.Decimal.StringFixed(2)
}
