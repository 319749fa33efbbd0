package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"eurobansync/api/internal/apperr"
	"eurobansync/api/internal/workflow"
)

const versionColumns = `
	v.id, v.document_id, v.version_number, v.file_path, v.file_name, v.file_size,
	v.uploaded_by, COALESCE(p.full_name, ''), COALESCE(v.notes, ''), v.created_at
`

const versionFrom = `FROM document_versions v LEFT JOIN profiles p ON p.id = v.uploaded_by`

const opUpload = "upload"

func scanVersion(row rowScanner) (DocumentVersion, error) {
	var item DocumentVersion
	err := row.Scan(
		&item.ID, &item.DocumentID, &item.VersionNumber, &item.FilePath, &item.FileName, &item.FileSize,
		&item.UploadedBy, &item.UploaderName, &item.Notes, &item.CreatedAt,
	)
	return item, err
}

func maxVersionTx(ctx context.Context, tx *sql.Tx, documentID string) (int, error) {
	var maxVersion int
	err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version_number), 0) FROM document_versions WHERE document_id = $1
	`, documentID).Scan(&maxVersion)
	if err != nil {
		return 0, fmt.Errorf("read max version: %w", err)
	}
	return maxVersion, nil
}

func insertVersionTx(ctx context.Context, tx *sql.Tx, v DocumentVersion) (DocumentVersion, error) {
	var id string
	err := tx.QueryRowContext(ctx, `
		INSERT INTO document_versions (document_id, version_number, file_path, file_name, file_size, uploaded_by, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, v.DocumentID, v.VersionNumber, v.FilePath, v.FileName, v.FileSize, v.UploadedBy, nullString(strings.TrimSpace(v.Notes))).Scan(&id)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return DocumentVersion{}, apperr.Conflict("VERSION_CONFLICT", fmt.Sprintf("version %d already exists", v.VersionNumber))
		}
		return DocumentVersion{}, fmt.Errorf("insert document version: %w", err)
	}
	return scanVersion(tx.QueryRowContext(ctx, `SELECT `+versionColumns+` `+versionFrom+` WHERE v.id = $1`, id))
}

// AddVersion appends v to its document. v.VersionNumber must be exactly one
// past the highest stored version; the document pointer moves in the same
// transaction.
func (s *PostgresStore) AddVersion(ctx context.Context, actor string, v DocumentVersion) (DocumentVersion, error) {
	if v.VersionNumber <= 0 || v.FilePath == "" || v.FileName == "" || v.UploadedBy == "" {
		return DocumentVersion{}, apperr.Validation("version number, file path, file name and uploader are required")
	}
	var added DocumentVersion
	err := s.withActor(ctx, actor, func(tx *sql.Tx) error {
		if _, err := getDocumentTx(ctx, tx, v.DocumentID, true); err != nil {
			return err
		}
		maxVersion, err := maxVersionTx(ctx, tx, v.DocumentID)
		if err != nil {
			return err
		}
		if v.VersionNumber != maxVersion+1 {
			return apperr.Conflict("VERSION_CONFLICT", fmt.Sprintf("next version is %d, got %d", maxVersion+1, v.VersionNumber)).
				WithDetails(map[string]any{"latestVersion": maxVersion})
		}
		added, err = insertVersionTx(ctx, tx, v)
		if err != nil {
			return err
		}
		_, err = advanceVersionTx(ctx, tx, v.DocumentID, v.VersionNumber)
		return err
	})
	return added, err
}

func (s *PostgresStore) LatestVersion(ctx context.Context, actor, documentID string) (DocumentVersion, error) {
	var item DocumentVersion
	err := s.withActor(ctx, actor, func(tx *sql.Tx) error {
		var err error
		item, err = scanVersion(tx.QueryRowContext(ctx, `
			SELECT `+versionColumns+` `+versionFrom+`
			WHERE v.document_id = $1
			ORDER BY v.version_number DESC
			LIMIT 1
		`, documentID))
		return err
	})
	return item, err
}

func (s *PostgresStore) GetVersion(ctx context.Context, actor, documentID string, versionNumber int) (DocumentVersion, error) {
	var item DocumentVersion
	err := s.withActor(ctx, actor, func(tx *sql.Tx) error {
		var err error
		item, err = scanVersion(tx.QueryRowContext(ctx, `
			SELECT `+versionColumns+` `+versionFrom+`
			WHERE v.document_id = $1 AND v.version_number = $2
		`, documentID, versionNumber))
		return err
	})
	return item, err
}

func (s *PostgresStore) ListVersions(ctx context.Context, actor, documentID string) ([]DocumentVersion, error) {
	items := make([]DocumentVersion, 0)
	err := s.withActor(ctx, actor, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+versionColumns+` `+versionFrom+`
			WHERE v.document_id = $1
			ORDER BY v.version_number DESC
		`, documentID)
		if err != nil {
			return fmt.Errorf("list versions: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			item, err := scanVersion(rows)
			if err != nil {
				return fmt.Errorf("scan version: %w", err)
			}
			items = append(items, item)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate versions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// AppendVersion is the whole upload in one transaction: find or create the
// live document of the type, store the blob, append the version, move the
// pointer and notify executives. Uploads of the same type are serialized.
func (s *PostgresStore) AppendVersion(ctx context.Context, actor string, p AppendVersionParams, write BlobWriter) (AppendVersionResult, error) {
	var result AppendVersionResult
	err := s.withActor(ctx, actor, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "document_type:"+string(p.DocumentType)); err != nil {
			return fmt.Errorf("lock document type: %w", err)
		}

		if p.IdempotencyKey != "" {
			ref, ok, err := lookupIdempotencyTx(ctx, tx, p.UploadedBy, opUpload, p.IdempotencyKey)
			if err != nil {
				return err
			}
			if ok {
				doc, err := getDocumentTx(ctx, tx, ref.DocumentID, false)
				if err != nil {
					return err
				}
				version, err := scanVersion(tx.QueryRowContext(ctx, `SELECT `+versionColumns+` `+versionFrom+` WHERE v.id = $1`, ref.ResultID))
				if err != nil {
					return fmt.Errorf("load replayed version: %w", err)
				}
				result = AppendVersionResult{Document: doc, Version: version, Replayed: true}
				return nil
			}
		}

		doc, err := getDocumentByTypeTx(ctx, tx, p.DocumentType, true)
		if err != nil {
			return err
		}
		created := false
		if doc == nil {
			input := NewDocument{Title: p.Title, Description: p.Description, DocumentType: p.DocumentType, UploadedBy: p.UploadedBy}
			if err := validateNewDocument(input); err != nil {
				return err
			}
			inserted, err := insertDocumentTx(ctx, tx, input)
			if err != nil {
				return err
			}
			doc = &inserted
			created = true
		}

		maxVersion, err := maxVersionTx(ctx, tx, doc.ID)
		if err != nil {
			return err
		}
		next := maxVersion + 1
		path := workflow.BlobPath(doc.ID, next, p.FileName)
		if err := write(ctx, path); err != nil {
			return err
		}

		version, err := insertVersionTx(ctx, tx, DocumentVersion{
			DocumentID:    doc.ID,
			VersionNumber: next,
			FilePath:      path,
			FileName:      p.FileName,
			FileSize:      p.FileSize,
			UploadedBy:    p.UploadedBy,
			Notes:         p.Notes,
		})
		if err != nil {
			return err
		}
		updated, err := advanceVersionTx(ctx, tx, doc.ID, next)
		if err != nil {
			return err
		}

		recipients, err := userIDsWithRoleTx(ctx, tx, "executive")
		if err != nil {
			return err
		}
		msg := workflow.UploadMessage(created, updated.Title, next, p.UploaderName)
		notifications := make([]Notification, 0, len(recipients))
		for _, userID := range recipients {
			if userID == p.UploadedBy {
				continue
			}
			n, err := insertNotificationTx(ctx, tx, Notification{
				UserID:     userID,
				Type:       msg.Type,
				Title:      msg.Title,
				Message:    msg.Body,
				DocumentID: updated.ID,
			})
			if err != nil {
				return err
			}
			notifications = append(notifications, n)
		}

		if p.IdempotencyKey != "" {
			if err := recordIdempotencyTx(ctx, tx, p.UploadedBy, opUpload, p.IdempotencyKey, updated.ID, version.ID); err != nil {
				return err
			}
		}

		result = AppendVersionResult{Document: updated, Version: version, Created: created, Notifications: notifications}
		return nil
	})
	return result, err
}
