package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	pingAttempts = 5
	pingBackoff  = 500 * time.Millisecond
)

// Open connects through the pgx stdlib driver and waits for the server,
// retrying the ping while Postgres is still starting.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	var pingErr error
	backoff := pingBackoff
	for attempt := 1; attempt <= pingAttempts; attempt++ {
		if pingErr = db.PingContext(ctx); pingErr == nil {
			return db, nil
		}
		if attempt == pingAttempts {
			break
		}
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, fmt.Errorf("ping db: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	_ = db.Close()
	return nil, fmt.Errorf("ping db: %w", pingErr)
}
