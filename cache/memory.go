package cache

import (
	"context"
	"time"

	"github.com/aluiziolira/bookprice/models"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"
)

// Memory is a size-bounded in-process cache.
type Memory struct {
	lru *expirable.LRU[string, models.CacheEntry]
	ttl time.Duration
	now func() time.Time
}

// NewMemory builds a cache holding at most size entries for ttl each.
func NewMemory(size int, ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		lru: expirable.NewLRU[string, models.CacheEntry](size, nil, ttl),
		ttl: ttl,
		now: time.Now,
	}
}

// Get returns the entry for isbn if it has not expired.
func (m *Memory) Get(_ context.Context, isbn string) (models.CacheEntry, bool, error) {
	entry, ok := m.lru.Get(isbn)
	if !ok {
		return models.CacheEntry{}, false, nil
	}
	if !entry.ValidAt(m.now()) {
		m.lru.Remove(isbn)
		return models.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

// Put stores price with a fresh expiry, replacing any previous entry.
func (m *Memory) Put(_ context.Context, isbn string, price decimal.Decimal, meta Metadata) error {
	m.lru.Add(isbn, newEntry(isbn, price, meta, m.now(), m.ttl))
	return nil
}

// Len reports the number of entries currently held.
func (m *Memory) Len() int {
	return m.lru.Len()
}

func (m *Memory) store(entry models.CacheEntry) {
	if !entry.ValidAt(m.now()) {
		return
	}
	m.lru.Add(entry.ISBN, entry)
}
