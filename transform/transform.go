// Package transform applies per-row pricing policy.
package transform

import (
	"fmt"

	"github.com/aluiziolira/bookprice/models"
	"github.com/aluiziolira/bookprice/parser"
	"github.com/shopspring/decimal"
)

// Transform derives the calculated price of row. Resolved prices win over the original
// base price; adjustment and rounding only apply when a candidate price exists.
// An error means the row could not be priced and should be emitted through Fallback.
func Transform(row models.Row, settings models.Settings, prices models.PriceMap) (models.ProcessedRow, error) {
	if err := parser.ValidateRow(&row); err != nil {
		return models.ProcessedRow{}, err
	}

	out := models.ProcessedRow{Row: row, Source: models.SourceOriginal}

	if row.ISBN == "" {
		out.Status = models.StatusNoISBN
		out.CalculatedPrice = row.BasePrice
		return out, nil
	}

	var candidate decimal.Decimal
	if price, ok := prices[row.ISBN]; ok {
		candidate = price
		out.Source = models.SourceResolved
	} else if row.BasePrice.Valid {
		candidate = row.BasePrice.Decimal
	} else {
		out.Status = models.StatusNoPriceFound
		return out, nil
	}

	price, err := Adjust(candidate, settings)
	if err != nil {
		return models.ProcessedRow{}, fmt.Errorf("row %d: %w", row.Line, err)
	}
	out.CalculatedPrice = decimal.NullDecimal{Decimal: price, Valid: true}
	out.Status = models.StatusSuccess
	return out, nil
}

// Adjust adds the flat adjustment, then rounds up to the next whole unit when requested.
func Adjust(price decimal.Decimal, settings models.Settings) (decimal.Decimal, error) {
	if settings.PriceAdjustment != nil {
		price = price.Add(*settings.PriceAdjustment)
	}
	if price.IsNegative() {
		return decimal.Zero, fmt.Errorf("adjusted price %s is negative", price.StringFixed(2))
	}
	if settings.PriceRounding {
		price = price.Ceil()
	}
	return price.Round(2), nil
}

// Fallback emits a row that failed processing with its original price when it has one.
func Fallback(row models.Row, err error) models.ProcessedRow {
	out := models.ProcessedRow{
		Row:    row,
		Status: models.StatusError,
		Source: models.SourceNone,
	}
	if err != nil {
		out.Err = err.Error()
	}
	if row.BasePrice.Valid {
		out.CalculatedPrice = row.BasePrice
		out.Source = models.SourceOriginal
	}
	return out
}
