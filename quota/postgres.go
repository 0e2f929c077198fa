package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool used by Postgres.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres keeps one api_quota row per day; increments are single upserts.
type Postgres struct {
	db  DB
	now func() time.Time
}

func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

func (p *Postgres) Usage(ctx context.Context, day string) (int, error) {
	const sql = `SELECT calls FROM api_quota WHERE day = $1::date`

	var calls int
	err := p.db.QueryRow(ctx, sql, day).Scan(&calls)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query quota: %w", err)
	}
	return calls, nil
}

func (p *Postgres) Increment(ctx context.Context, day string) error {
	const sql = `
		INSERT INTO api_quota (day, calls, updated_at)
		VALUES ($1::date, 1, $2)
		ON CONFLICT (day) DO UPDATE SET
			calls = api_quota.calls + 1,
			updated_at = EXCLUDED.updated_at`

	if _, err := p.db.Exec(ctx, sql, day, p.now()); err != nil {
		return fmt.Errorf("increment quota: %w", err)
	}
	return nil
}

func (p *Postgres) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	const sql = `DELETE FROM api_quota WHERE updated_at < $1`

	tag, err := p.db.Exec(ctx, sql, p.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune quota: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
