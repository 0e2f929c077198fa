package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aluiziolira/bookprice/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool used by PostgresStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps job records in the jobs table. Transition rules are enforced
// in the UPDATE predicate so concurrent writers cannot skip a state.
type PostgresStore struct {
	db  DB
	now func() time.Time
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func (p *PostgresStore) Create(ctx context.Context, rec models.JobRecord) error {
	const sql = `
		INSERT INTO jobs (id, status, file_name, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`

	if rec.Status == "" {
		rec.Status = models.JobPending
	}
	settings, err := json.Marshal(rec.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if _, err := p.db.Exec(ctx, sql, rec.JobID, string(rec.Status), rec.FileName, settings, p.now()); err != nil {
		return fmt.Errorf("insert job %s: %w", rec.JobID, err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (models.JobRecord, error) {
	const sql = `
		SELECT id, status, file_name, settings, total_rows, processed_rows, error_count,
			output_location, error_message, created_at, updated_at
		FROM jobs
		WHERE id = $1`

	var (
		rec      models.JobRecord
		status   string
		settings []byte
	)
	err := p.db.QueryRow(ctx, sql, id).Scan(
		&rec.JobID, &status, &rec.FileName, &settings,
		&rec.TotalRows, &rec.ProcessedRows, &rec.ErrorCount,
		&rec.OutputLocation, &rec.ErrorMessage, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.JobRecord{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return models.JobRecord{}, fmt.Errorf("query job %s: %w", id, err)
	}
	rec.Status = models.JobStatus(status)
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &rec.Settings); err != nil {
			return models.JobRecord{}, fmt.Errorf("decode settings of job %s: %w", id, err)
		}
	}
	return rec, nil
}

func (p *PostgresStore) Update(ctx context.Context, id string, u Update) error {
	const sql = `
		UPDATE jobs SET
			status = COALESCE($2::text, status),
			total_rows = COALESCE($3::integer, total_rows),
			processed_rows = COALESCE($4::integer, processed_rows),
			error_count = COALESCE($5::integer, error_count),
			output_location = COALESCE($6::text, output_location),
			error_message = COALESCE($7::text, error_message),
			updated_at = $8
		WHERE id = $1 AND status = ANY($9::text[])`

	var status *string
	if u.Status != nil {
		status = ptr(string(*u.Status))
	}
	from := make([]string, 0, 2)
	for _, s := range u.allowedFrom() {
		from = append(from, string(s))
	}

	tag, err := p.db.Exec(ctx, sql, id, status, u.TotalRows, u.ProcessedRows, u.ErrorCount,
		u.OutputLocation, u.ErrorMessage, p.now(), from)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = p.db.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("query job %s: %w", id, err)
	}
	return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, current)
}
