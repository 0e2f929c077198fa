// Package migrations holds the Postgres schema for the cache, quota ledger and job store.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var FS embed.FS

// Up applies every pending migration.
func Up(pool *pgxpool.Pool) error {
	return run(pool, goose.Up)
}

// Status prints the applied state of each migration.
func Status(pool *pgxpool.Pool) error {
	return run(pool, goose.Status)
}

func run(pool *pgxpool.Pool, cmd func(db *sql.DB, dir string, opts ...goose.OptionsFunc) error) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := cmd(db, "."); err != nil {
		return fmt.Errorf("goose: %w", err)
	}
	return nil
}
