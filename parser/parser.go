package parser

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/aluiziolira/bookprice/models"
	"github.com/shopspring/decimal"
)

// MinISBNLength is the shortest normalized ISBN worth looking up.
const MinISBNLength = 10

// ValidateRow ensures the record lines up with the header.
func ValidateRow(r *models.Row) error {
	if r == nil {
		return fmt.Errorf("row is nil")
	}
	if r.Malformed {
		if len(r.Overflow) == 0 {
			return fmt.Errorf("row %d does not match header", r.Line)
		}
		quoted := make([]string, len(r.Overflow))
		for i, v := range r.Overflow {
			quoted[i] = strconv.Quote(v)
		}
		return fmt.Errorf("row %d has %d values beyond the header: %s",
			r.Line, len(r.Overflow), strings.Join(quoted, ", "))
	}
	return nil
}

// NormalizeISBN strips whitespace and hyphens.
func NormalizeISBN(isbn string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' {
			return -1
		}
		return unicode.ToUpper(r)
	}, isbn)
}

// LookupISBN returns the normalized ISBN when it is long enough to send to the provider.
func LookupISBN(isbn string) (string, bool) {
	normalized := NormalizeISBN(isbn)
	if len(normalized) < MinISBNLength {
		return "", false
	}
	return normalized, true
}

// NormalizePrice drops currency symbols, separators and whitespace,
// keeping digits, the decimal point and a leading minus sign.
func NormalizePrice(price string) string {
	price = strings.TrimSpace(price)
	var b strings.Builder
	for _, r := range price {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParsePrice returns a usable price: strictly positive once normalized.
func ParsePrice(price string) (decimal.Decimal, bool) {
	cleaned := NormalizePrice(price)
	if cleaned == "" || cleaned == "-" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	if !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}
