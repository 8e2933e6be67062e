package repository

import (
	"context"
	"encoding/json"
	"time"

	"paperbase/internal/model"
)

// PhysicalFileRepository persists content-addressed file rows.
type PhysicalFileRepository interface {
	// FindByFingerprint returns the canonical row for fp, or ErrNotFound.
	FindByFingerprint(ctx context.Context, fp string) (*model.PhysicalFile, error)

	// FindByID returns a row by id, or ErrNotFound.
	FindByID(ctx context.Context, id string) (*model.PhysicalFile, error)

	// LockByID returns a row by id and holds a row lock until the surrounding transaction ends.
	// Outside a transaction it behaves like FindByID.
	LockByID(ctx context.Context, id string) (*model.PhysicalFile, error)

	// Insert stores a new row. A canonical row colliding with an existing canonical
	// fingerprint fails with ErrDuplicateFingerprint and leaves no trace.
	Insert(ctx context.Context, pf *model.PhysicalFile) (*model.PhysicalFile, error)

	// AttachParseResult sets the parse result only if none is attached yet and clears any
	// recorded failure. It reports whether this call wrote the result.
	AttachParseResult(ctx context.Context, id, jobRef string, result json.RawMessage) (bool, error)

	// RecordParseFailure stores the failure message unless a result is already attached.
	RecordParseFailure(ctx context.Context, id, message string) error

	// ClaimParse stamps a parse attempt on a row that has no result and either recorded a
	// failure or was last attempted before staleBefore. It reports whether the claim succeeded.
	ClaimParse(ctx context.Context, id string, staleBefore time.Time) (bool, error)

	// UpdateStoragePath changes where the row's bytes live.
	UpdateStoragePath(ctx context.Context, id, path string) error

	// CountReferences returns how many documents reference the row.
	CountReferences(ctx context.Context, id string) (int, error)
}
