package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aluiziolira/bookprice/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DB is the subset of *pgxpool.Pool used by Postgres.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres persists entries in the price_cache table.
type Postgres struct {
	db  DB
	ttl time.Duration
	now func() time.Time
}

func NewPostgres(db DB, ttl time.Duration) *Postgres {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Postgres{db: db, ttl: ttl, now: time.Now}
}

func (p *Postgres) Get(ctx context.Context, isbn string) (models.CacheEntry, bool, error) {
	const sql = `
		SELECT price::text, title, author, created_at, expires_at
		FROM price_cache
		WHERE isbn = $1 AND expires_at > $2`

	var (
		priceText string
		entry     = models.CacheEntry{ISBN: isbn}
	)
	err := p.db.QueryRow(ctx, sql, isbn, p.now()).Scan(&priceText, &entry.Title, &entry.Author, &entry.CreatedAt, &entry.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CacheEntry{}, false, nil
	}
	if err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("query price cache: %w", err)
	}
	price, err := decimal.NewFromString(priceText)
	if err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("decode cached price for %s: %w", isbn, err)
	}
	entry.Price = price
	return entry, true, nil
}

func (p *Postgres) Put(ctx context.Context, isbn string, price decimal.Decimal, meta Metadata) error {
	const sql = `
		INSERT INTO price_cache (isbn, price, title, author, created_at, expires_at)
		VALUES ($1, $2::numeric, $3, $4, $5, $6)
		ON CONFLICT (isbn) DO UPDATE SET
			price = EXCLUDED.price,
			title = EXCLUDED.title,
			author = EXCLUDED.author,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at`

	entry := newEntry(isbn, price, meta, p.now(), p.ttl)
	if _, err := p.db.Exec(ctx, sql, entry.ISBN, entry.Price.String(), entry.Title, entry.Author, entry.CreatedAt, entry.ExpiresAt); err != nil {
		return fmt.Errorf("upsert price cache: %w", err)
	}
	return nil
}

// PurgeExpired deletes entries whose validity has ended.
func (p *Postgres) PurgeExpired(ctx context.Context) (int64, error) {
	const sql = `DELETE FROM price_cache WHERE expires_at <= $1`

	tag, err := p.db.Exec(ctx, sql, p.now())
	if err != nil {
		return 0, fmt.Errorf("purge price cache: %w", err)
	}
	return tag.RowsAffected(), nil
}
