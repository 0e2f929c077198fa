package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aluiziolira/bookprice/models"
	"github.com/shopspring/decimal"
)

func TestMemoryGetTreatsExpiredAsAbsent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	c := NewMemory(10, DefaultTTL)
	c.now = func() time.Time { return now }

	if err := c.Put(ctx, "9780306406157", decimal.RequireFromString("24.16"), Metadata{Title: "Signals"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	now = now.Add(DefaultTTL - time.Second)
	entry, ok, err := c.Get(ctx, "9780306406157")
	if err != nil || !ok {
		t.Fatalf("entry should be valid just before expiry: ok=%v err=%v", ok, err)
	}
	if entry.Title != "Signals" || !entry.Price.Equal(decimal.RequireFromString("24.16")) {
		t.Fatalf("entry = %+v", entry)
	}
	if !entry.ExpiresAt.Equal(entry.CreatedAt.Add(7 * 24 * time.Hour)) {
		t.Fatalf("expiry should be seven days after creation: %+v", entry)
	}

	now = now.Add(time.Second)
	if _, ok, _ := c.Get(ctx, "9780306406157"); ok {
		t.Fatalf("entry should be absent once expiry is reached")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be evicted, len=%d", c.Len())
	}
}

func TestMemoryPutOverwritesWithFreshExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	c := NewMemory(10, DefaultTTL)
	c.now = func() time.Time { return now }

	_ = c.Put(ctx, "0306406152", decimal.RequireFromString("10"), Metadata{})
	now = now.Add(6 * 24 * time.Hour)
	_ = c.Put(ctx, "0306406152", decimal.RequireFromString("11"), Metadata{})
	now = now.Add(3 * 24 * time.Hour)

	entry, ok, _ := c.Get(ctx, "0306406152")
	if !ok {
		t.Fatalf("overwritten entry should carry a fresh expiry")
	}
	if !entry.Price.Equal(decimal.NewFromInt(11)) {
		t.Fatalf("price = %s, want 11", entry.Price)
	}
}

type mapCache struct {
	entries map[string]models.CacheEntry
	gets    int
	puts    int
	err     error
}

func (m *mapCache) Get(_ context.Context, isbn string) (models.CacheEntry, bool, error) {
	m.gets++
	if m.err != nil {
		return models.CacheEntry{}, false, m.err
	}
	e, ok := m.entries[isbn]
	return e, ok, nil
}

func (m *mapCache) Put(_ context.Context, isbn string, price decimal.Decimal, meta Metadata) error {
	m.puts++
	if m.err != nil {
		return m.err
	}
	m.entries[isbn] = newEntry(isbn, price, meta, time.Now(), DefaultTTL)
	return nil
}

func TestTieredFillsFrontFromBack(t *testing.T) {
	ctx := context.Background()
	back := &mapCache{entries: map[string]models.CacheEntry{
		"9780306406157": newEntry("9780306406157", decimal.RequireFromString("5.50"), Metadata{}, time.Now(), DefaultTTL),
	}}
	front := NewMemory(10, DefaultTTL)
	tiered := NewTiered(front, back)

	for i := 0; i < 3; i++ {
		entry, ok, err := tiered.Get(ctx, "9780306406157")
		if err != nil || !ok {
			t.Fatalf("get %d: ok=%v err=%v", i, ok, err)
		}
		if entry.Price.StringFixed(2) != "5.50" {
			t.Fatalf("price = %s", entry.Price)
		}
	}
	if back.gets != 1 {
		t.Fatalf("back store reads = %d, want 1", back.gets)
	}
}

func TestTieredPutWritesBothAndReportsBackError(t *testing.T) {
	ctx := context.Background()
	back := &mapCache{entries: map[string]models.CacheEntry{}, err: errors.New("db down")}
	front := NewMemory(10, DefaultTTL)
	tiered := NewTiered(front, back)

	if err := tiered.Put(ctx, "0306406152", decimal.NewFromInt(3), Metadata{}); err == nil {
		t.Fatalf("expected back store error")
	}
	if _, ok, _ := front.Get(ctx, "0306406152"); !ok {
		t.Fatalf("front should still hold the entry")
	}
}
