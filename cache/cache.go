// Package cache stores resolved prices keyed by normalized ISBN with a fixed validity window.
package cache

import (
	"context"
	"time"

	"github.com/aluiziolira/bookprice/models"
	"github.com/shopspring/decimal"
)

// DefaultTTL is how long a resolved price stays valid.
const DefaultTTL = 7 * 24 * time.Hour

// Metadata is optional diagnostic data stored next to a price.
type Metadata struct {
	Title  string
	Author string
}

// Cache is a TTL store of resolved prices. Expired entries are reported as absent.
type Cache interface {
	Get(ctx context.Context, isbn string) (models.CacheEntry, bool, error)
	Put(ctx context.Context, isbn string, price decimal.Decimal, meta Metadata) error
}

func newEntry(isbn string, price decimal.Decimal, meta Metadata, now time.Time, ttl time.Duration) models.CacheEntry {
	return models.CacheEntry{
		ISBN:      isbn,
		Price:     price,
		Title:     meta.Title,
		Author:    meta.Author,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}
