package repository

import (
	"context"

	"paperbase/internal/model"
)

// DocumentRepository defines data access for documents using SQL queries only.
// No business logic here, strictly persistence operations.
type DocumentRepository interface {
	// Create inserts a new document record and returns the stored row.
	Create(ctx context.Context, doc *model.Document) (*model.Document, error)

	// FindByID returns a document by its ID with its PhysicalFile joined when linked.
	FindByID(ctx context.Context, id string) (*model.Document, error)

	// LockByID is FindByID that also holds a row lock on the document until the surrounding
	// transaction ends. Outside a transaction it behaves like FindByID.
	LockByID(ctx context.Context, id string) (*model.Document, error)

	// List returns a paginated list of documents and total rows count.
	List(ctx context.Context, pq PageQuery) (*PageResult[model.Document], error)

	// ListUnlinked returns up to limit documents without a PhysicalFile reference whose id
	// sorts after afterID, ordered by id.
	ListUnlinked(ctx context.Context, afterID string, limit int) ([]model.Document, error)

	// CountUnlinkedByLegacyPath returns how many unlinked documents still read their bytes
	// from path.
	CountUnlinkedByLegacyPath(ctx context.Context, path string) (int, error)

	// LinkPhysicalFile sets the reference only if the document has none yet.
	// It reports whether the row changed.
	LinkPhysicalFile(ctx context.Context, docID, physicalFileID string) (bool, error)

	// Repoint replaces the document's PhysicalFile reference and category.
	Repoint(ctx context.Context, docID, physicalFileID, category string) error

	// UpdateCategory sets the category label of a document.
	UpdateCategory(ctx context.Context, docID, category string) error

	// SetStatusByPhysicalFile updates the status of every document referencing the file.
	SetStatusByPhysicalFile(ctx context.Context, physicalFileID string, status model.DocumentStatus) (int, error)

	// ListFields returns the extracted fields owned by a document.
	ListFields(ctx context.Context, docID string) ([]model.ExtractedField, error)

	// Delete removes a document by ID. It returns nil if the row was deleted or did not exist.
	Delete(ctx context.Context, id string) error
}
