package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notaflow/notaflow/internal/domain"
)

// documentRepository implements DocumentRepository on Postgres.
type documentRepository struct {
	pool *pgxpool.Pool
}

// NewDocumentRepository creates a new document repository.
func NewDocumentRepository(pool *pgxpool.Pool) DocumentRepository {
	return &documentRepository{pool: pool}
}

const documentColumns = `id, batch_id, file_name, format, payload, doc_type, status,
schema_revision, extraction, validation, analysis, failure_reason, received_at, completed_at`

func (r *documentRepository) Create(ctx context.Context, doc domain.DocumentRecord) (domain.DocumentRecord, error) {
	extraction, validation, analysis, err := marshalDocumentJSON(doc)
	if err != nil {
		return domain.DocumentRecord{}, err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		doc.ID, doc.BatchID, doc.FileName, string(doc.Format), doc.Payload,
		string(doc.Type), string(doc.Status), doc.SchemaRevision,
		extraction, validation, analysis,
		nullable(doc.FailureReason), doc.ReceivedAt, doc.CompletedAt)
	if err != nil {
		return domain.DocumentRecord{}, fmt.Errorf("failed to create document: %w", err)
	}
	return doc, nil
}

func (r *documentRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.DocumentRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DocumentRecord{}, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.DocumentRecord{}, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

func (r *documentRepository) Update(ctx context.Context, doc domain.DocumentRecord) (domain.DocumentRecord, error) {
	extraction, validation, analysis, err := marshalDocumentJSON(doc)
	if err != nil {
		return domain.DocumentRecord{}, err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE documents
		SET batch_id = $2, doc_type = $3, status = $4, schema_revision = $5,
		    extraction = $6, validation = $7, analysis = $8,
		    failure_reason = $9, completed_at = $10
		WHERE id = $1`,
		doc.ID, doc.BatchID, string(doc.Type), string(doc.Status), doc.SchemaRevision,
		extraction, validation, analysis, nullable(doc.FailureReason), doc.CompletedAt)
	if err != nil {
		return domain.DocumentRecord{}, fmt.Errorf("failed to update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.DocumentRecord{}, fmt.Errorf("document %s: %w", doc.ID, domain.ErrNotFound)
	}
	return doc, nil
}

func (r *documentRepository) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]domain.DocumentRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE batch_id = $1 ORDER BY received_at`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch documents: %w", err)
	}
	defer rows.Close()
	return collectDocuments(rows)
}

func (r *documentRepository) List(ctx context.Context, status *domain.DocumentStatus, limit, offset int) ([]domain.DocumentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows pgx.Rows
		err  error
	)
	if status != nil {
		rows, err = r.pool.Query(ctx, `
			SELECT `+documentColumns+` FROM documents
			WHERE status = $1 ORDER BY received_at DESC LIMIT $2 OFFSET $3`,
			string(*status), limit, offset)
	} else {
		rows, err = r.pool.Query(ctx, `
			SELECT `+documentColumns+` FROM documents
			ORDER BY received_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()
	return collectDocuments(rows)
}

func collectDocuments(rows pgx.Rows) ([]domain.DocumentRecord, error) {
	var docs []domain.DocumentRecord
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func scanDocument(row pgx.Row) (domain.DocumentRecord, error) {
	var (
		doc           domain.DocumentRecord
		format        string
		docType       string
		status        string
		extraction    []byte
		validation    []byte
		analysis      []byte
		failureReason *string
	)
	err := row.Scan(&doc.ID, &doc.BatchID, &doc.FileName, &format, &doc.Payload,
		&docType, &status, &doc.SchemaRevision,
		&extraction, &validation, &analysis,
		&failureReason, &doc.ReceivedAt, &doc.CompletedAt)
	if err != nil {
		return domain.DocumentRecord{}, err
	}
	doc.Format = domain.SourceFormat(format)
	doc.Type = domain.DocumentType(docType)
	doc.Status = domain.DocumentStatus(status)
	if failureReason != nil {
		doc.FailureReason = *failureReason
	}
	if len(extraction) > 0 {
		doc.Extraction = &domain.Extraction{}
		if err := json.Unmarshal(extraction, doc.Extraction); err != nil {
			return domain.DocumentRecord{}, fmt.Errorf("failed to decode extraction: %w", err)
		}
	}
	if len(validation) > 0 {
		doc.Validation = &domain.Validation{}
		if err := json.Unmarshal(validation, doc.Validation); err != nil {
			return domain.DocumentRecord{}, fmt.Errorf("failed to decode validation: %w", err)
		}
	}
	if len(analysis) > 0 {
		doc.Analysis = &domain.DocumentStats{}
		if err := json.Unmarshal(analysis, doc.Analysis); err != nil {
			return domain.DocumentRecord{}, fmt.Errorf("failed to decode analysis: %w", err)
		}
	}
	return doc, nil
}

func marshalDocumentJSON(doc domain.DocumentRecord) (extraction, validation, analysis []byte, err error) {
	if doc.Extraction != nil {
		if extraction, err = json.Marshal(doc.Extraction); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode extraction: %w", err)
		}
	}
	if doc.Validation != nil {
		if validation, err = json.Marshal(doc.Validation); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode validation: %w", err)
		}
	}
	if doc.Analysis != nil {
		if analysis, err = json.Marshal(doc.Analysis); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode analysis: %w", err)
		}
	}
	return extraction, validation, analysis, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
