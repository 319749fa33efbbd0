package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"eurobansync/api/internal/apperr"
	"eurobansync/api/internal/workflow"
)

const approvalColumns = `
	a.id, a.document_id, a.version_number, a.requested_by, COALESCE(a.reviewed_by::text, ''),
	COALESCE(p.full_name, ''), a.status, COALESCE(a.comments, ''), a.requested_at, a.reviewed_at
`

const approvalFrom = `FROM approvals a LEFT JOIN profiles p ON p.id = a.reviewed_by`

func scanApproval(row rowScanner) (Approval, error) {
	var item Approval
	var status string
	var reviewedAt sql.NullTime
	if err := row.Scan(
		&item.ID, &item.DocumentID, &item.VersionNumber, &item.RequestedBy, &item.ReviewedBy,
		&item.ReviewerName, &status, &item.Comments, &item.RequestedAt, &reviewedAt,
	); err != nil {
		return Approval{}, err
	}
	item.Status = workflow.Status(status)
	if reviewedAt.Valid {
		t := reviewedAt.Time
		item.ReviewedAt = &t
	}
	return item, nil
}

func latestDecisionTx(ctx context.Context, tx *sql.Tx, documentID string) (*workflow.Decision, error) {
	var decision workflow.Decision
	var status string
	err := tx.QueryRowContext(ctx, `
		SELECT version_number, status FROM approvals
		WHERE document_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, documentID).Scan(&decision.VersionNumber, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read latest decision: %w", err)
	}
	decision.Status = workflow.Status(status)
	return &decision, nil
}

func insertApprovalTx(ctx context.Context, tx *sql.Tx, a Approval) (Approval, error) {
	var id string
	err := tx.QueryRowContext(ctx, `
		INSERT INTO approvals (document_id, version_number, requested_by, reviewed_by, status, comments, reviewed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, a.DocumentID, a.VersionNumber, a.RequestedBy, nullString(a.ReviewedBy), string(a.Status), nullString(a.Comments), a.ReviewedAt).Scan(&id)
	if err != nil {
		return Approval{}, fmt.Errorf("insert approval: %w", err)
	}
	return scanApproval(tx.QueryRowContext(ctx, `SELECT `+approvalColumns+` `+approvalFrom+` WHERE a.id = $1`, id))
}

func decisionOperation(status workflow.Status) string {
	return "decision:" + string(status)
}

// RecordDecision appends a review decision against the current version and,
// in the same transaction, re-projects the document status and notifies the
// uploader.
func (s *PostgresStore) RecordDecision(ctx context.Context, actor string, p DecisionParams) (DecisionResult, error) {
	if p.ReviewerID == "" {
		return DecisionResult{}, apperr.Validation("reviewer is required")
	}
	var result DecisionResult
	err := s.withActor(ctx, actor, func(tx *sql.Tx) error {
		doc, err := getDocumentTx(ctx, tx, p.DocumentID, true)
		if err != nil {
			return err
		}

		if p.IdempotencyKey != "" {
			ref, ok, err := lookupIdempotencyTx(ctx, tx, p.ReviewerID, decisionOperation(p.Status), p.IdempotencyKey)
			if err != nil {
				return err
			}
			if ok {
				approval, err := scanApproval(tx.QueryRowContext(ctx, `SELECT `+approvalColumns+` `+approvalFrom+` WHERE a.id = $1`, ref.ResultID))
				if err != nil {
					return fmt.Errorf("load replayed approval: %w", err)
				}
				result = DecisionResult{Document: doc, Approval: approval, Replayed: true}
				return nil
			}
		}

		if err := checkRowVersion(doc, p.ExpectedRowVersion); err != nil {
			return err
		}
		if err := checkVersionNumber(doc, p.ReviewedVersion); err != nil {
			return err
		}
		if err := workflow.CheckDecision(doc.Status, p.Status, p.Override); err != nil {
			return err
		}

		comments := strings.TrimSpace(p.Comments)
		if comments == "" {
			comments = workflow.DefaultComments(p.Status)
		}
		reviewedAt := time.Now().UTC()
		approval, err := insertApprovalTx(ctx, tx, Approval{
			DocumentID:    doc.ID,
			VersionNumber: doc.CurrentVersion,
			RequestedBy:   p.ReviewerID,
			ReviewedBy:    p.ReviewerID,
			Status:        p.Status,
			Comments:      comments,
			ReviewedAt:    &reviewedAt,
		})
		if err != nil {
			return err
		}

		status := workflow.Project(doc.CurrentVersion, &workflow.Decision{VersionNumber: approval.VersionNumber, Status: approval.Status})
		updated, err := setStatusTx(ctx, tx, doc.ID, status)
		if err != nil {
			return err
		}

		msg := workflow.DecisionMessage(p.Status, doc.Title, comments)
		notification, err := insertNotificationTx(ctx, tx, Notification{
			UserID:     doc.UploadedBy,
			Type:       msg.Type,
			Title:      msg.Title,
			Message:    msg.Body,
			DocumentID: doc.ID,
		})
		if err != nil {
			return err
		}

		if p.IdempotencyKey != "" {
			if err := recordIdempotencyTx(ctx, tx, p.ReviewerID, decisionOperation(p.Status), p.IdempotencyKey, doc.ID, approval.ID); err != nil {
				return err
			}
		}

		result = DecisionResult{Document: updated, Approval: approval, Notification: &notification}
		return nil
	})
	return result, err
}

// ListApprovals returns the decision history of a document, oldest first.
func (s *PostgresStore) ListApprovals(ctx context.Context, actor, documentID string) ([]Approval, error) {
	items := make([]Approval, 0)
	err := s.withActor(ctx, actor, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+approvalColumns+` `+approvalFrom+`
			WHERE a.document_id = $1
			ORDER BY a.seq ASC
		`, documentID)
		if err != nil {
			return fmt.Errorf("list approvals: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			item, err := scanApproval(rows)
			if err != nil {
				return fmt.Errorf("scan approval: %w", err)
			}
			items = append(items, item)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate approvals: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
