package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// TxRunner opens a transaction scoped to an actor's row-level permissions.
type TxRunner interface {
	RunAs(ctx context.Context, actor string, fn func(tx *sql.Tx) error) error
}

// PgFTS searches documents.search_vector when Meilisearch is unavailable.
type PgFTS struct {
	db TxRunner
}

func NewPgFTS(db TxRunner) *PgFTS {
	return &PgFTS{db: db}
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	if q.Actor == "" {
		return nil, 0, fmt.Errorf("pgfts: actor is required")
	}

	tsQuery := "plainto_tsquery('spanish', $1)"
	args := []any{q.Text}
	where := []string{"d.search_vector @@ " + tsQuery}
	if q.Status != "" {
		args = append(args, q.Status)
		where = append(where, fmt.Sprintf("d.status = $%d", len(args)))
	}
	if q.DocumentType != "" {
		args = append(args, q.DocumentType)
		where = append(where, fmt.Sprintf("d.document_type = $%d", len(args)))
	}
	whereSQL := strings.Join(where, " AND ")

	countSQL := `SELECT count(*) FROM documents d WHERE ` + whereSQL
	dataSQL := fmt.Sprintf(`
		SELECT d.id, d.title,
			ts_headline('spanish', coalesce(d.description, ''), %s, 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>'),
			d.document_type, d.status, coalesce(p.full_name, '')
		FROM documents d
		LEFT JOIN profiles p ON p.id = d.uploaded_by
		WHERE %s
		ORDER BY ts_rank(d.search_vector, %s) DESC, d.created_at DESC
		LIMIT %d OFFSET %d`, tsQuery, whereSQL, tsQuery, q.limit(), q.offset())

	var (
		results []Result
		total   int
	)
	err := p.db.RunAs(ctx, q.Actor, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
			return fmt.Errorf("pgfts count: %w", err)
		}
		rows, err := tx.QueryContext(ctx, dataSQL, args...)
		if err != nil {
			return fmt.Errorf("pgfts query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r Result
			if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.DocumentType, &r.Status, &r.UploaderName); err != nil {
				return fmt.Errorf("pgfts scan: %w", err)
			}
			results = append(results, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

// LoadAllRecords returns every document for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context, actor string) ([]DocumentRecord, error) {
	documents := make([]DocumentRecord, 0)
	err := p.db.RunAs(ctx, actor, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT d.id, d.title, coalesce(d.description, ''), d.document_type, d.status,
				coalesce(p.full_name, ''), d.current_version, d.updated_at
			FROM documents d
			LEFT JOIN profiles p ON p.id = d.uploaded_by
		`)
		if err != nil {
			return fmt.Errorf("load documents: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				d         DocumentRecord
				updatedAt time.Time
			)
			if err := rows.Scan(&d.ID, &d.Title, &d.Description, &d.DocumentType, &d.Status, &d.UploaderName, &d.CurrentVersion, &updatedAt); err != nil {
				return fmt.Errorf("scan document: %w", err)
			}
			d.UpdatedAt = updatedAt.Unix()
			documents = append(documents, d)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate documents: %w", err)
		}
		return nil
	})
	return documents, err
}
