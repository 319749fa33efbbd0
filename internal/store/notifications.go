package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"eurobansync/api/internal/apperr"
	"eurobansync/api/internal/workflow"
)

const notificationColumns = `id, user_id, type, title, message, COALESCE(document_id::text, ''), read, created_at`

func scanNotification(row rowScanner) (Notification, error) {
	var item Notification
	var kind string
	if err := row.Scan(&item.ID, &item.UserID, &kind, &item.Title, &item.Message, &item.DocumentID, &item.Read, &item.CreatedAt); err != nil {
		return Notification{}, err
	}
	item.Type = workflow.NotificationType(kind)
	return item, nil
}

// insertNotificationTx writes a notification for another user. The row is
// built in Go because RETURNING would be checked against the recipient-only
// select policy.
func insertNotificationTx(ctx context.Context, tx *sql.Tx, n Notification) (Notification, error) {
	n.ID = uuid.NewString()
	n.Read = false
	n.CreatedAt = time.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, document_id, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
	`, n.ID, n.UserID, string(n.Type), n.Title, n.Message, nullString(n.DocumentID), n.CreatedAt)
	if err != nil {
		return Notification{}, fmt.Errorf("insert notification: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) InsertNotification(ctx context.Context, actor string, n Notification) (Notification, error) {
	if n.UserID == "" || n.Title == "" || n.Message == "" {
		return Notification{}, apperr.Validation("recipient, title and message are required")
	}
	var created Notification
	err := s.withActor(ctx, actor, func(tx *sql.Tx) error {
		var err error
		created, err = insertNotificationTx(ctx, tx, n)
		return err
	})
	return created, err
}

// ListNotifications returns the actor's own notifications, newest first.
func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = $1`
	if unreadOnly {
		query += ` AND NOT read`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $2`

	items := make([]Notification, 0)
	err := s.withActor(ctx, userID, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, userID, limit)
		if err != nil {
			return fmt.Errorf("list notifications: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			item, err := scanNotification(rows)
			if err != nil {
				return fmt.Errorf("scan notification: %w", err)
			}
			items = append(items, item)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate notifications: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	return s.withActor(ctx, userID, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, notificationID, userID)
		if err != nil {
			return fmt.Errorf("mark notification read: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark notification read: %w", err)
		}
		if affected == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}
