package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"paperbase/internal/compat"
	"paperbase/internal/model"
	"paperbase/internal/repository"
	"paperbase/internal/storage"
)

// DocumentListResult is the service-level DTO for paginated documents.
type DocumentListResult struct {
	Items []compat.View `json:"data"`
	Total int           `json:"total"`
}

// Content is an open stream of a document's stored bytes. Callers close Body.
type Content struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

// DocumentService defines the use cases collaborators have on documents.
type DocumentService interface {
	// UploadBatch stores a batch of files as documents, parsing each distinct new content once.
	UploadBatch(ctx context.Context, files []UploadFile, opts BatchOptions) (*BatchSummary, error)

	// List returns documents using limit/offset and a total count.
	List(ctx context.Context, limit, offset int) (*DocumentListResult, error)

	// Get returns a single document with its effective path, parse artifacts and fields.
	Get(ctx context.Context, id string) (*compat.View, error)

	// Reorganize files a document under a category directory.
	Reorganize(ctx context.Context, id, category string) (*ReorganizeOutcome, error)

	// Backfill links legacy documents to physical files.
	Backfill(ctx context.Context) (*MigrationReport, error)

	// Delete removes a document record. Its physical file is kept, shared or not.
	Delete(ctx context.Context, id string) error

	// ResolveEffectiveParseResult returns the parse result the document should be read with, or nil.
	ResolveEffectiveParseResult(ctx context.Context, id string) (json.RawMessage, error)

	// ResolveEffectiveFilePath returns where the document's bytes live, or nil.
	ResolveEffectiveFilePath(ctx context.Context, id string) (*string, error)

	// OpenContent streams the bytes at the document's effective file path.
	OpenContent(ctx context.Context, id string) (*Content, error)

	// ContentURL returns a presigned download URL for the document's bytes.
	ContentURL(ctx context.Context, id string, expiry time.Duration) (string, error)
}

// documentService is a concrete implementation of DocumentService.
type documentService struct {
	repo     repository.Store
	files    *PhysicalFileStore
	coord    *Coordinator
	guard    *ReorganizationGuard
	migrator *BackfillMigrator
}

// NewDocumentService constructs a new DocumentService.
func NewDocumentService(repo repository.Store, files *PhysicalFileStore, coord *Coordinator, guard *ReorganizationGuard, migrator *BackfillMigrator) DocumentService {
	return &documentService{repo: repo, files: files, coord: coord, guard: guard, migrator: migrator}
}

func (s *documentService) UploadBatch(ctx context.Context, files []UploadFile, opts BatchOptions) (*BatchSummary, error) {
	return s.coord.UploadBatch(ctx, files, opts)
}

// List returns paginated documents without exposing repository types.
func (s *documentService) List(ctx context.Context, limit, offset int) (*DocumentListResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	res, err := s.repo.Documents().List(ctx, repository.PageQuery{Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	items := make([]compat.View, 0, len(res.Items))
	for i := range res.Items {
		items = append(items, compat.Resolve(&res.Items[i]))
	}
	return &DocumentListResult{Items: items, Total: res.Total}, nil
}

// Get returns a document by ID together with its extracted fields.
func (s *documentService) Get(ctx context.Context, id string) (*compat.View, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	doc, err := s.repo.Documents().FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	fields, err := s.repo.Documents().ListFields(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	v := compat.Resolve(doc)
	v.Fields = fields
	return &v, nil
}

func (s *documentService) Reorganize(ctx context.Context, id, category string) (*ReorganizeOutcome, error) {
	return s.guard.Reorganize(ctx, id, category)
}

func (s *documentService) Backfill(ctx context.Context) (*MigrationReport, error) {
	return s.migrator.Run(ctx)
}

// Delete removes the document row. Stored bytes stay with the physical file.
func (s *documentService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrIDRequired
	}
	if _, err := s.repo.Documents().FindByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return s.repo.Documents().Delete(ctx, id)
}

func (s *documentService) ResolveEffectiveParseResult(ctx context.Context, id string) (json.RawMessage, error) {
	v, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return v.ParseResult, nil
}

func (s *documentService) ResolveEffectiveFilePath(ctx context.Context, id string) (*string, error) {
	v, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return v.FilePath, nil
}

// contentKey resolves the storage key the document reads its bytes from.
func (s *documentService) contentKey(ctx context.Context, id string) (*model.Document, string, error) {
	if id == "" {
		return nil, "", ErrIDRequired
	}
	doc, err := s.repo.Documents().FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}
	p := compat.EffectiveFilePath(doc)
	if p == nil || *p == "" {
		return nil, "", ErrNoContent
	}
	return doc, *p, nil
}

func (s *documentService) OpenContent(ctx context.Context, id string) (*Content, error) {
	doc, key, err := s.contentKey(ctx, id)
	if err != nil {
		return nil, err
	}
	rc, info, err := s.files.Open(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s is missing", ErrNoContent, key)
		}
		return nil, fmt.Errorf("open content: %w", err)
	}
	ct := info.ContentType
	if doc.PhysicalFile != nil && doc.PhysicalFile.ContentType != "" {
		ct = doc.PhysicalFile.ContentType
	}
	return &Content{
		Filename:    doc.Filename,
		ContentType: contentTypeOrDefault(ct),
		Size:        info.Size,
		Body:        rc,
	}, nil
}

func (s *documentService) ContentURL(ctx context.Context, id string, expiry time.Duration) (string, error) {
	_, key, err := s.contentKey(ctx, id)
	if err != nil {
		return "", err
	}
	return s.files.Presign(ctx, key, expiry)
}
