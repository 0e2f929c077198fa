package cache

import (
	"context"

	"github.com/aluiziolira/bookprice/models"
	"github.com/shopspring/decimal"
)

// Tiered serves reads from an in-process front and falls back to a durable back store,
// copying back-store hits forward.
type Tiered struct {
	front *Memory
	back  Cache
}

func NewTiered(front *Memory, back Cache) *Tiered {
	return &Tiered{front: front, back: back}
}

func (t *Tiered) Get(ctx context.Context, isbn string) (models.CacheEntry, bool, error) {
	if entry, ok, _ := t.front.Get(ctx, isbn); ok {
		return entry, true, nil
	}
	entry, ok, err := t.back.Get(ctx, isbn)
	if err != nil || !ok {
		return entry, ok, err
	}
	t.front.store(entry)
	return entry, true, nil
}

func (t *Tiered) Put(ctx context.Context, isbn string, price decimal.Decimal, meta Metadata) error {
	_ = t.front.Put(ctx, isbn, price, meta)
	return t.back.Put(ctx, isbn, price, meta)
}
