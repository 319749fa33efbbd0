package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type idempotencyRef struct {
	DocumentID string
	ResultID   string
}

func lookupIdempotencyTx(ctx context.Context, tx *sql.Tx, userID, operation, key string) (idempotencyRef, bool, error) {
	var ref idempotencyRef
	err := tx.QueryRowContext(ctx, `
		SELECT document_id, result_id FROM idempotency_keys
		WHERE user_id = $1 AND operation = $2 AND key = $3
	`, userID, operation, key).Scan(&ref.DocumentID, &ref.ResultID)
	if errors.Is(err, sql.ErrNoRows) {
		return idempotencyRef{}, false, nil
	}
	if err != nil {
		return idempotencyRef{}, false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	return ref, true, nil
}

func recordIdempotencyTx(ctx context.Context, tx *sql.Tx, userID, operation, key, documentID, resultID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO idempotency_keys (user_id, operation, key, document_id, result_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, operation, key) DO NOTHING
	`, userID, operation, key, documentID, resultID)
	if err != nil {
		return fmt.Errorf("record idempotency key: %w", err)
	}
	return nil
}
