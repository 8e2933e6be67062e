package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"paperbase/internal/database"
	"paperbase/internal/model"
	"paperbase/internal/repository"
)

const physicalFileColumns = `id, fingerprint, storage_path, original_filename, size, content_type, canonical,
		parse_job_ref, parse_result, parse_error, parse_attempted_at, created_at`

// PhysicalFilePostgres is a PostgreSQL implementation of repository.PhysicalFileRepository.
type PhysicalFilePostgres struct {
	db DBTX
}

// NewPhysicalFilePostgres creates a new PhysicalFilePostgres repository.
func NewPhysicalFilePostgres(db DBTX) *PhysicalFilePostgres {
	return &PhysicalFilePostgres{db: db}
}

var _ repository.PhysicalFileRepository = (*PhysicalFilePostgres)(nil)

func scanPhysicalFile(row rowScanner) (*model.PhysicalFile, error) {
	var (
		pf     model.PhysicalFile
		result []byte
	)
	if err := row.Scan(
		&pf.ID,
		&pf.Fingerprint,
		&pf.StoragePath,
		&pf.OriginalFilename,
		&pf.Size,
		&pf.ContentType,
		&pf.Canonical,
		&pf.ParseJobRef,
		&result,
		&pf.ParseError,
		&pf.ParseAttemptedAt,
		&pf.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if len(result) > 0 {
		pf.ParseResult = json.RawMessage(result)
	}
	return &pf, nil
}

// FindByFingerprint returns the canonical row for a fingerprint via the unique index.
func (r *PhysicalFilePostgres) FindByFingerprint(ctx context.Context, fp string) (*model.PhysicalFile, error) {
	const q = `
		SELECT ` + physicalFileColumns + `
		FROM physical_files
		WHERE fingerprint = $1 AND canonical
	`
	return scanPhysicalFile(r.db.QueryRowContext(ctx, q, fp))
}

// FindByID fetches a single physical file by its ID.
func (r *PhysicalFilePostgres) FindByID(ctx context.Context, id string) (*model.PhysicalFile, error) {
	const q = `
		SELECT ` + physicalFileColumns + `
		FROM physical_files
		WHERE id = $1
	`
	return scanPhysicalFile(r.db.QueryRowContext(ctx, q, id))
}

// LockByID fetches a physical file with FOR UPDATE. Inserting a document that references the
// row takes a conflicting key-share lock, so new links wait for the lock holder to finish.
func (r *PhysicalFilePostgres) LockByID(ctx context.Context, id string) (*model.PhysicalFile, error) {
	const q = `
		SELECT ` + physicalFileColumns + `
		FROM physical_files
		WHERE id = $1
		FOR UPDATE
	`
	return scanPhysicalFile(r.db.QueryRowContext(ctx, q, id))
}

// Insert stores a new physical file. Canonical fingerprint collisions are reported as
// repository.ErrDuplicateFingerprint without aborting a surrounding transaction.
func (r *PhysicalFilePostgres) Insert(ctx context.Context, pf *model.PhysicalFile) (*model.PhysicalFile, error) {
	const q = `
		INSERT INTO physical_files (id, fingerprint, storage_path, original_filename, size, content_type, canonical,
			parse_job_ref, parse_result, parse_error, parse_attempted_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (fingerprint) WHERE canonical DO NOTHING
		RETURNING ` + physicalFileColumns

	row := r.db.QueryRowContext(ctx, q,
		pf.ID,
		pf.Fingerprint,
		pf.StoragePath,
		pf.OriginalFilename,
		pf.Size,
		pf.ContentType,
		pf.Canonical,
		pf.ParseJobRef,
		nullJSON(pf.ParseResult),
		pf.ParseError,
		pf.ParseAttemptedAt,
		pf.CreatedAt,
	)
	out, err := scanPhysicalFile(row)
	switch {
	case errors.Is(err, repository.ErrNotFound), database.IsUniqueViolation(err):
		return nil, fmt.Errorf("insert physical file %s: %w", pf.Fingerprint, repository.ErrDuplicateFingerprint)
	case err != nil:
		return nil, err
	}
	return out, nil
}

// AttachParseResult writes the parse result if none is attached yet. First write wins.
func (r *PhysicalFilePostgres) AttachParseResult(ctx context.Context, id, jobRef string, result json.RawMessage) (bool, error) {
	const q = `
		UPDATE physical_files
		SET parse_job_ref = $2, parse_result = $3, parse_error = NULL
		WHERE id = $1 AND parse_result IS NULL
	`
	res, err := r.db.ExecContext(ctx, q, id, jobRef, nullJSON(result))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RecordParseFailure stores the failure unless a result was attached in the meantime.
func (r *PhysicalFilePostgres) RecordParseFailure(ctx context.Context, id, message string) error {
	const q = `
		UPDATE physical_files
		SET parse_error = $2
		WHERE id = $1 AND parse_result IS NULL
	`
	_, err := r.db.ExecContext(ctx, q, id, message)
	return err
}

// ClaimParse marks the row as being parsed by the caller. It succeeds only when no result is
// attached and the row either recorded a failure or its last attempt is older than staleBefore.
func (r *PhysicalFilePostgres) ClaimParse(ctx context.Context, id string, staleBefore time.Time) (bool, error) {
	const q = `
		UPDATE physical_files
		SET parse_attempted_at = now(), parse_error = NULL
		WHERE id = $1
		  AND parse_result IS NULL
		  AND (parse_error IS NOT NULL OR parse_attempted_at IS NULL OR parse_attempted_at < $2)
	`
	res, err := r.db.ExecContext(ctx, q, id, staleBefore)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateStoragePath changes the row's storage location.
func (r *PhysicalFilePostgres) UpdateStoragePath(ctx context.Context, id, path string) error {
	const q = `UPDATE physical_files SET storage_path = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id, path)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CountReferences counts the documents pointing at the row.
func (r *PhysicalFilePostgres) CountReferences(ctx context.Context, id string) (int, error) {
	const q = `SELECT COUNT(*) FROM documents WHERE physical_file_id = $1`
	var n int
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
