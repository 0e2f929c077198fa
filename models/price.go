package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MaxAdjustment bounds the absolute value of Settings.PriceAdjustment.
var MaxAdjustment = decimal.NewFromInt(1000)

// Settings are the user-selected pricing rules of a job.
type Settings struct {
	PriceRounding   bool             `json:"priceRounding"`
	PriceAdjustment *decimal.Decimal `json:"priceAdjustment,omitempty"`
}

// Validate checks the adjustment range.
func (s Settings) Validate() error {
	if s.PriceAdjustment == nil {
		return nil
	}
	if s.PriceAdjustment.Abs().GreaterThan(MaxAdjustment) {
		return fmt.Errorf("price adjustment %s outside [-%s, %s]", s.PriceAdjustment.String(), MaxAdjustment, MaxAdjustment)
	}
	return nil
}

// PriceMap maps a normalized ISBN to its resolved price for one job.
type PriceMap map[string]decimal.Decimal

// CacheEntry is a previously resolved price.
type CacheEntry struct {
	ISBN      string          `json:"isbn"`
	Price     decimal.Decimal `json:"price"`
	Title     string          `json:"title,omitempty"`
	Author    string          `json:"author,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// ValidAt reports whether the entry is still fresh at t.
func (e CacheEntry) ValidAt(t time.Time) bool {
	return t.Before(e.ExpiresAt)
}

// QuotaRecord counts provider calls consumed on one UTC day.
type QuotaRecord struct {
	Day       string    `json:"day"`
	Calls     int       `json:"calls"`
	UpdatedAt time.Time `json:"updatedAt"`
}
