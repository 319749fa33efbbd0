package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"eurobansync/api/internal/apperr"
	"eurobansync/api/internal/workflow"
)

const documentColumns = `
	d.id, d.title, COALESCE(d.description, ''), d.document_type, d.current_version, d.status,
	d.uploaded_by, COALESCE(p.full_name, ''), d.row_version, d.created_at, d.updated_at
`

const documentFrom = `FROM documents d LEFT JOIN profiles p ON p.id = d.uploaded_by`

func scanDocument(row rowScanner) (Document, error) {
	var item Document
	var docType, status string
	if err := row.Scan(
		&item.ID, &item.Title, &item.Description, &docType, &item.CurrentVersion, &status,
		&item.UploadedBy, &item.UploaderName, &item.RowVersion, &item.CreatedAt, &item.UpdatedAt,
	); err != nil {
		return Document{}, err
	}
	item.DocumentType = workflow.DocumentType(docType)
	item.Status = workflow.Status(status)
	return item, nil
}

func validateNewDocument(input NewDocument) error {
	if strings.TrimSpace(input.Title) == "" {
		return apperr.Validation("title is required")
	}
	if _, ok := workflow.ParseDocumentType(string(input.DocumentType)); !ok {
		return apperr.Validation(fmt.Sprintf("unknown document type %q", input.DocumentType))
	}
	if input.UploadedBy == "" {
		return apperr.Validation("uploader is required")
	}
	return nil
}

// CreateDocument opens a draft document with no versions.
func (s *PostgresStore) CreateDocument(ctx context.Context, actor string, input NewDocument) (Document, error) {
	if err := validateNewDocument(input); err != nil {
		return Document{}, err
	}
	var created Document
	err := s.withActor(ctx, actor, func(tx *sql.Tx) error {
		var err error
		created, err = insertDocumentTx(ctx, tx, input)
		return err
	})
	return created, err
}

func insertDocumentTx(ctx context.Context, tx *sql.Tx, input NewDocument) (Document, error) {
	var id string
	err := tx.QueryRowContext(ctx, `
		INSERT INTO documents (title, description, document_type, uploaded_by, current_version, status)
		VALUES ($1, $2, $3, $4, 0, 'draft')
		RETURNING id
	`, strings.TrimSpace(input.Title), nullString(strings.TrimSpace(input.Description)), string(input.DocumentType), input.UploadedBy).Scan(&id)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return getDocumentTx(ctx, tx, id, false)
}

func getDocumentTx(ctx context.Context, tx *sql.Tx, documentID string, forUpdate bool) (Document, error) {
	query := `SELECT ` + documentColumns + ` ` + documentFrom + ` WHERE d.id = $1`
	if forUpdate {
		query += ` FOR UPDATE OF d`
	}
	return scanDocument(tx.QueryRowContext(ctx, query, documentID))
}

func (s *PostgresStore) GetDocument(ctx context.Context, actor, documentID string) (Document, error) {
	var item Document
	err := s.withActor(ctx, actor, func(tx *sql.Tx) error {
		var err error
		item, err = getDocumentTx(ctx, tx, documentID, false)
		return err
	})
	return item, err
}

// GetDocumentByType returns the most recently created document of the type,
// or nil when there is none.
func (s *PostgresStore) GetDocumentByType(ctx context.Context, actor string, documentType workflow.DocumentType) (*Document, error) {
	var found *Document
	err := s.withActor(ctx, actor, func(tx *sql.Tx) error {
		var err error
		found, err = getDocumentByTypeTx(ctx, tx, documentType, false)
		return err
	})
	return found, err
}

func getDocumentByTypeTx(ctx context.Context, tx *sql.Tx, documentType workflow.DocumentType, forUpdate bool) (*Document, error) {
	query := `SELECT ` + documentColumns + ` ` + documentFrom + `
		WHERE d.document_type = $1
		ORDER BY d.created_at DESC, d.id DESC
		LIMIT 1`
	if forUpdate {
		query += ` FOR UPDATE OF d`
	}
	item, err := scanDocument(tx.QueryRowContext(ctx, query, string(documentType)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document by type: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, actor string, filter DocumentFilter) ([]Document, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("d.status = $%d", len(args)))
	}
	if filter.DocumentType != "" {
		args = append(args, string(filter.DocumentType))
		where = append(where, fmt.Sprintf("d.document_type = $%d", len(args)))
	}
	if filter.UploadedBy != "" {
		args = append(args, filter.UploadedBy)
		where = append(where, fmt.Sprintf("d.uploaded_by = $%d", len(args)))
	}
	query := `SELECT ` + documentColumns + ` ` + documentFrom
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY d.created_at DESC, d.id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	items := make([]Document, 0)
	err := s.withActor(ctx, actor, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("list documents: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			item, err := scanDocument(rows)
			if err != nil {
				return fmt.Errorf("scan document: %w", err)
			}
			items = append(items, item)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate documents: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// IncrementVersion moves the version pointer of a document. newVersion must be
// the highest stored version_number, so the pointer can never drift from the
// version set. expectedRowVersion guards against stale writers.
func (s *PostgresStore) IncrementVersion(ctx context.Context, actor, documentID string, newVersion int, expectedRowVersion int64) (Document, error) {
	var updated Document
	err := s.withActor(ctx, actor, func(tx *sql.Tx) error {
		doc, err := getDocumentTx(ctx, tx, documentID, true)
		if err != nil {
			return err
		}
		if err := checkRowVersion(doc, expectedRowVersion); err != nil {
			return err
		}
		maxVersion, err := maxVersionTx(ctx, tx, documentID)
		if err != nil {
			return err
		}
		if newVersion != maxVersion {
			return apperr.Conflict("VERSION_MISMATCH", fmt.Sprintf("version %d is not the latest stored version", newVersion)).
				WithDetails(map[string]any{"latestVersion": maxVersion})
		}
		updated, err = advanceVersionTx(ctx, tx, documentID, newVersion)
		return err
	})
	return updated, err
}

// advanceVersionTx sets the pointer and re-projects the status against the
// latest decision.
func advanceVersionTx(ctx context.Context, tx *sql.Tx, documentID string, newVersion int) (Document, error) {
	latest, err := latestDecisionTx(ctx, tx, documentID)
	if err != nil {
		return Document{}, err
	}
	status := workflow.Project(newVersion, latest)
	if _, err := tx.ExecContext(ctx, `
		UPDATE documents
		SET current_version = $2, status = $3, row_version = row_version + 1, updated_at = NOW()
		WHERE id = $1
	`, documentID, newVersion, string(status)); err != nil {
		return Document{}, fmt.Errorf("increment document version: %w", err)
	}
	return getDocumentTx(ctx, tx, documentID, false)
}

func setStatusTx(ctx context.Context, tx *sql.Tx, documentID string, status workflow.Status) (Document, error) {
	if _, err := tx.ExecContext(ctx, `
		UPDATE documents
		SET status = $2, row_version = row_version + 1, updated_at = NOW()
		WHERE id = $1
	`, documentID, string(status)); err != nil {
		return Document{}, fmt.Errorf("update document status: %w", err)
	}
	return getDocumentTx(ctx, tx, documentID, false)
}

func checkRowVersion(doc Document, expected int64) error {
	if expected <= 0 || doc.RowVersion == expected {
		return nil
	}
	return apperr.Conflict("STALE_WRITE", "document was modified by someone else; reload and try again").
		WithDetails(map[string]any{"currentRowVersion": doc.RowVersion, "expectedRowVersion": expected})
}

// checkVersionNumber fails when the version a reviewer looked at is no
// longer the current one. Zero skips the check.
func checkVersionNumber(doc Document, reviewed int) error {
	if reviewed <= 0 || doc.CurrentVersion == reviewed {
		return nil
	}
	return apperr.Conflict("VERSION_MISMATCH", fmt.Sprintf("version %d is no longer the current version", reviewed)).
		WithDetails(map[string]any{"currentVersion": doc.CurrentVersion})
}
