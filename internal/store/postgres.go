package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withActor runs fn in a transaction whose row-level security context is
// actor. Every policy-guarded table is reached through here.
func (s *PostgresStore) withActor(ctx context.Context, actor string, fn func(tx *sql.Tx) error) error {
	if actor == "" {
		return errors.New("store: actor is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := setActor(ctx, tx, actor); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// RunAs exposes the actor-scoped transaction to read-only collaborators
// such as full-text search.
func (s *PostgresStore) RunAs(ctx context.Context, actor string, fn func(tx *sql.Tx) error) error {
	return s.withActor(ctx, actor, fn)
}

func setActor(ctx context.Context, tx *sql.Tx, actor string) error {
	if actor == SystemActor {
		if _, err := tx.ExecContext(ctx, `SELECT set_config('app.system', 'on', true)`); err != nil {
			return fmt.Errorf("set system actor: %w", err)
		}
		return nil
	}
	if _, err := tx.ExecContext(ctx, `SELECT set_config('app.user_id', $1, true)`, actor); err != nil {
		return fmt.Errorf("set actor: %w", err)
	}
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
