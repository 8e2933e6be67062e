package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"paperbase/internal/model"
	"paperbase/internal/repository"
)

const documentJoinColumns = `d.id, d.physical_file_id, d.filename, d.status, d.template, d.category, d.created_at, d.updated_at,
		d.legacy_file_path, d.legacy_parse_job_ref, d.legacy_parse_result,
		pf.fingerprint, pf.storage_path, pf.original_filename, pf.size, pf.content_type, pf.canonical,
		pf.parse_job_ref, pf.parse_result, pf.parse_error, pf.parse_attempted_at, pf.created_at`

const documentJoin = `documents d LEFT JOIN physical_files pf ON pf.id = d.physical_file_id`

// DocumentPostgres is a PostgreSQL implementation of repository.DocumentRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type DocumentPostgres struct {
	db DBTX
}

// NewDocumentPostgres creates a new DocumentPostgres repository.
func NewDocumentPostgres(db DBTX) *DocumentPostgres {
	return &DocumentPostgres{db: db}
}

var _ repository.DocumentRepository = (*DocumentPostgres)(nil)

// scanDocument reads one row of documentJoinColumns. Physical file columns are NULL when the
// document is not linked.
func scanDocument(row rowScanner) (*model.Document, error) {
	var (
		d            model.Document
		status       string
		legacyResult []byte

		pfFingerprint *string
		pfPath        *string
		pfName        *string
		pfSize        *int64
		pfType        *string
		pfCanonical   *bool
		pfJobRef      *string
		pfResult      []byte
		pfError       *string
		pfAttempted   *time.Time
		pfCreated     *time.Time
	)
	if err := row.Scan(
		&d.ID,
		&d.PhysicalFileID,
		&d.Filename,
		&status,
		&d.Template,
		&d.Category,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.LegacyFilePath,
		&d.LegacyParseJobRef,
		&legacyResult,
		&pfFingerprint,
		&pfPath,
		&pfName,
		&pfSize,
		&pfType,
		&pfCanonical,
		&pfJobRef,
		&pfResult,
		&pfError,
		&pfAttempted,
		&pfCreated,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	d.Status = model.DocumentStatus(status)
	if len(legacyResult) > 0 {
		d.LegacyParseResult = json.RawMessage(legacyResult)
	}

	if d.IsLinked() && pfFingerprint != nil {
		pf := &model.PhysicalFile{
			ID:               *d.PhysicalFileID,
			Fingerprint:      *pfFingerprint,
			ParseJobRef:      pfJobRef,
			ParseError:       pfError,
			ParseAttemptedAt: pfAttempted,
		}
		if pfPath != nil {
			pf.StoragePath = *pfPath
		}
		if pfName != nil {
			pf.OriginalFilename = *pfName
		}
		if pfSize != nil {
			pf.Size = *pfSize
		}
		if pfType != nil {
			pf.ContentType = *pfType
		}
		if pfCanonical != nil {
			pf.Canonical = *pfCanonical
		}
		if len(pfResult) > 0 {
			pf.ParseResult = json.RawMessage(pfResult)
		}
		if pfCreated != nil {
			pf.CreatedAt = *pfCreated
		}
		d.PhysicalFile = pf
	}
	return &d, nil
}

// Create inserts a new document row and returns the stored record.
func (r *DocumentPostgres) Create(ctx context.Context, doc *model.Document) (*model.Document, error) {
	const q = `
		INSERT INTO documents (id, physical_file_id, filename, status, template, category, created_at, updated_at,
			legacy_file_path, legacy_parse_job_ref, legacy_parse_result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, physical_file_id, filename, status, template, category, created_at, updated_at
	`
	row := r.db.QueryRowContext(ctx, q,
		doc.ID,
		doc.PhysicalFileID,
		doc.Filename,
		string(doc.Status),
		doc.Template,
		doc.Category,
		doc.CreatedAt,
		doc.UpdatedAt,
		doc.LegacyFilePath,
		doc.LegacyParseJobRef,
		nullJSON(doc.LegacyParseResult),
	)
	var (
		out    model.Document
		status string
	)
	if err := row.Scan(
		&out.ID,
		&out.PhysicalFileID,
		&out.Filename,
		&status,
		&out.Template,
		&out.Category,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		return nil, err
	}
	out.Status = model.DocumentStatus(status)
	out.LegacyFilePath = doc.LegacyFilePath
	out.LegacyParseJobRef = doc.LegacyParseJobRef
	out.LegacyParseResult = doc.LegacyParseResult
	out.PhysicalFile = doc.PhysicalFile
	return &out, nil
}

// FindByID fetches a single document by its ID, joined with its physical file.
func (r *DocumentPostgres) FindByID(ctx context.Context, id string) (*model.Document, error) {
	const q = `
		SELECT ` + documentJoinColumns + `
		FROM ` + documentJoin + `
		WHERE d.id = $1
	`
	return scanDocument(r.db.QueryRowContext(ctx, q, id))
}

// LockByID fetches a document and locks its row. The joined physical file row is not locked.
func (r *DocumentPostgres) LockByID(ctx context.Context, id string) (*model.Document, error) {
	const q = `
		SELECT ` + documentJoinColumns + `
		FROM ` + documentJoin + `
		WHERE d.id = $1
		FOR UPDATE OF d
	`
	return scanDocument(r.db.QueryRowContext(ctx, q, id))
}

// List returns documents using LIMIT/OFFSET pagination and a total count.
func (r *DocumentPostgres) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.Document], error) {
	const qCount = `SELECT COUNT(*) FROM documents`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount).Scan(&total); err != nil {
		return nil, err
	}

	const qList = `
		SELECT ` + documentJoinColumns + `
		FROM ` + documentJoin + `
		ORDER BY d.created_at DESC, d.id DESC
		LIMIT $1 OFFSET $2
	`
	items, err := r.queryDocuments(ctx, qList, pq.Limit, pq.Offset)
	if err != nil {
		return nil, err
	}
	return &repository.PageResult[model.Document]{
		Items: items,
		Total: total,
	}, nil
}

// ListUnlinked returns documents without a physical file, keyset-paginated by id.
func (r *DocumentPostgres) ListUnlinked(ctx context.Context, afterID string, limit int) ([]model.Document, error) {
	const q = `
		SELECT ` + documentJoinColumns + `
		FROM ` + documentJoin + `
		WHERE d.physical_file_id IS NULL AND d.id::text > $1
		ORDER BY d.id::text
		LIMIT $2
	`
	return r.queryDocuments(ctx, q, afterID, limit)
}

func (r *DocumentPostgres) queryDocuments(ctx context.Context, q string, args ...any) ([]model.Document, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// CountUnlinkedByLegacyPath counts unlinked documents whose legacy path is path.
func (r *DocumentPostgres) CountUnlinkedByLegacyPath(ctx context.Context, path string) (int, error) {
	const q = `SELECT COUNT(*) FROM documents WHERE physical_file_id IS NULL AND legacy_file_path = $1`
	var n int
	if err := r.db.QueryRowContext(ctx, q, path).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// LinkPhysicalFile sets the physical file reference of an unlinked document.
func (r *DocumentPostgres) LinkPhysicalFile(ctx context.Context, docID, physicalFileID string) (bool, error) {
	const q = `
		UPDATE documents
		SET physical_file_id = $2, updated_at = now()
		WHERE id = $1 AND physical_file_id IS NULL
	`
	res, err := r.db.ExecContext(ctx, q, docID, physicalFileID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Repoint switches the document to another physical file.
func (r *DocumentPostgres) Repoint(ctx context.Context, docID, physicalFileID, category string) error {
	const q = `
		UPDATE documents
		SET physical_file_id = $2, category = $3, updated_at = now()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, q, docID, physicalFileID, category)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateCategory sets the category label.
func (r *DocumentPostgres) UpdateCategory(ctx context.Context, docID, category string) error {
	const q = `UPDATE documents SET category = $2, updated_at = now() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, docID, category)
	return err
}

// SetStatusByPhysicalFile updates every document sharing a physical file.
func (r *DocumentPostgres) SetStatusByPhysicalFile(ctx context.Context, physicalFileID string, status model.DocumentStatus) (int, error) {
	const q = `
		UPDATE documents
		SET status = $2, updated_at = now()
		WHERE physical_file_id = $1 AND status <> $2
	`
	res, err := r.db.ExecContext(ctx, q, physicalFileID, string(status))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ListFields returns the extracted fields of a document ordered by name.
func (r *DocumentPostgres) ListFields(ctx context.Context, docID string) ([]model.ExtractedField, error) {
	const q = `
		SELECT id, document_id, name, value, confidence, verified, provenance, created_at
		FROM extracted_fields
		WHERE document_id = $1
		ORDER BY name, id
	`
	rows, err := r.db.QueryContext(ctx, q, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := make([]model.ExtractedField, 0)
	for rows.Next() {
		var (
			f     model.ExtractedField
			value []byte
		)
		if err := rows.Scan(&f.ID, &f.DocumentID, &f.Name, &value, &f.Confidence, &f.Verified, &f.Provenance, &f.CreatedAt); err != nil {
			return nil, err
		}
		if len(value) > 0 {
			f.Value = json.RawMessage(value)
		}
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return fields, nil
}

// Delete removes a document by ID. It does not return an error if the row does not exist.
// The referenced physical file is left in place.
func (r *DocumentPostgres) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM documents WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}
