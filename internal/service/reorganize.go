package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"paperbase/internal/metrics"
	"paperbase/internal/model"
	"paperbase/internal/repository"
	"paperbase/internal/storage"
)

// ReorganizeMode says what a reorganization did to the stored bytes.
type ReorganizeMode string

const (
	// ModeMoved relocated the bytes of a file owned by one document.
	ModeMoved ReorganizeMode = "moved"
	// ModeCopied gave the document its own copy of bytes other readers still use.
	ModeCopied ReorganizeMode = "copied"
	// ModeUnchanged found the bytes already at the target path.
	ModeUnchanged ReorganizeMode = "unchanged"
)

// ReorganizeOutcome reports a completed reorganization.
type ReorganizeOutcome struct {
	DocumentID     string         `json:"document_id"`
	Mode           ReorganizeMode `json:"mode"`
	PhysicalFileID string         `json:"physical_file_id"`
	Path           string         `json:"path"`
}

// ReorganizedKey is the storage key of a document filed under category.
func ReorganizedKey(category, docID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		name = "file"
	}
	return category + "/" + docID + "/" + name
}

func validCategory(category string) error {
	if category == "" {
		return ErrCategoryRequired
	}
	if category == "." || category == ".." || strings.ContainsAny(category, "/\\\x00") {
		return ErrInvalidCategory
	}
	return nil
}

// ReorganizationGuard relocates a document's bytes without disturbing documents that share them.
type ReorganizationGuard struct {
	repo    repository.Store
	objects storage.Storage
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

// NewReorganizationGuard constructs a ReorganizationGuard.
func NewReorganizationGuard(repo repository.Store, objects storage.Storage, m *metrics.Metrics, log zerolog.Logger) *ReorganizationGuard {
	return &ReorganizationGuard{
		repo:    repo,
		objects: objects,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// Reorganize files the document under category. The reference count is read and acted upon
// while the document and physical file rows are locked: a sole owner has its bytes moved in
// place, a sharer gets a copy and a new row, and nobody else's view changes. Bytes an
// unmigrated document still reads through its legacy path are copied, never moved. If the
// document was repointed while its file was being locked, ErrReorganizeConflict is returned.
// If storage fails the document keeps its current reference and a *ReorganizationIOError is
// returned.
func (g *ReorganizationGuard) Reorganize(ctx context.Context, docID, category string) (*ReorganizeOutcome, error) {
	if docID == "" {
		return nil, ErrIDRequired
	}
	if err := validCategory(category); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "reorganize.Document", trace.WithAttributes(
		attribute.String("document.id", docID),
		attribute.String("category", category),
	))
	defer span.End()

	var (
		out  ReorganizeOutcome
		undo func(context.Context) error
	)
	err := g.repo.WithTx(ctx, func(tx repository.Store) error {
		doc, err := tx.Documents().LockByID(ctx, docID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if !doc.IsLinked() {
			return ErrDocumentNotLinked
		}

		pf, err := tx.PhysicalFiles().LockByID(ctx, *doc.PhysicalFileID)
		if err != nil {
			return fmt.Errorf("lock physical file: %w", err)
		}
		// The reference count below is only meaningful for the file the document points at now.
		current, err := tx.Documents().FindByID(ctx, doc.ID)
		if err != nil {
			return fmt.Errorf("reload document: %w", err)
		}
		if current.PhysicalFileID == nil || *current.PhysicalFileID != pf.ID {
			return ErrReorganizeConflict
		}

		target := ReorganizedKey(category, doc.ID, doc.Filename)
		out = ReorganizeOutcome{DocumentID: doc.ID, PhysicalFileID: pf.ID, Path: target}

		if pf.StoragePath == target {
			out.Mode = ModeUnchanged
			return tx.Documents().UpdateCategory(ctx, doc.ID, category)
		}

		refs, err := tx.PhysicalFiles().CountReferences(ctx, pf.ID)
		if err != nil {
			return fmt.Errorf("count references: %w", err)
		}

		if refs <= 1 {
			from := pf.StoragePath
			legacyReaders, err := tx.Documents().CountUnlinkedByLegacyPath(ctx, from)
			if err != nil {
				return fmt.Errorf("count legacy readers: %w", err)
			}
			if legacyReaders > 0 {
				// Unmigrated documents still read from the adopted legacy path.
				out.Mode = ModeCopied
				if err := g.objects.Copy(ctx, from, target); err != nil {
					return &ReorganizationIOError{DocumentID: doc.ID, Op: "copy", From: from, To: target, Err: err}
				}
				undo = func(ctx context.Context) error { return g.objects.Delete(ctx, target) }
			} else {
				out.Mode = ModeMoved
				if err := g.objects.Move(ctx, from, target); err != nil {
					return &ReorganizationIOError{DocumentID: doc.ID, Op: "move", From: from, To: target, Err: err}
				}
				undo = func(ctx context.Context) error { return g.objects.Move(ctx, target, from) }
			}

			if err := tx.PhysicalFiles().UpdateStoragePath(ctx, pf.ID, target); err != nil {
				return fmt.Errorf("update storage path: %w", err)
			}
			return tx.Documents().UpdateCategory(ctx, doc.ID, category)
		}

		if !pf.HasParseResult() && !pf.ParseFailed() {
			return ErrParsePending
		}

		out.Mode = ModeCopied
		if err := g.objects.Copy(ctx, pf.StoragePath, target); err != nil {
			return &ReorganizationIOError{DocumentID: doc.ID, Op: "copy", From: pf.StoragePath, To: target, Err: err}
		}
		undo = func(ctx context.Context) error { return g.objects.Delete(ctx, target) }

		clone := &model.PhysicalFile{
			ID:               uuid.NewString(),
			Fingerprint:      pf.Fingerprint,
			StoragePath:      target,
			OriginalFilename: pf.OriginalFilename,
			Size:             pf.Size,
			ContentType:      pf.ContentType,
			Canonical:        false,
			ParseJobRef:      pf.ParseJobRef,
			ParseResult:      pf.ParseResult,
			ParseError:       pf.ParseError,
			ParseAttemptedAt: pf.ParseAttemptedAt,
			CreatedAt:        g.now().UTC(),
		}
		if _, err := tx.PhysicalFiles().Insert(ctx, clone); err != nil {
			return fmt.Errorf("insert physical file copy: %w", err)
		}
		if err := tx.Documents().Repoint(ctx, doc.ID, clone.ID, category); err != nil {
			return fmt.Errorf("repoint document: %w", err)
		}
		out.PhysicalFileID = clone.ID
		return nil
	})
	if err != nil {
		if undo != nil {
			if uerr := undo(context.WithoutCancel(ctx)); uerr != nil {
				g.log.Error().
					Str("event", "reorganize_compensation_failed").
					Str("document_id", docID).
					Str("path", out.Path).
					Err(uerr).
					Send()
			}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.log.Warn().Str("event", "reorganize_failed").Str("document_id", docID).Err(err).Send()
		return nil, err
	}

	g.metrics.Reorganized(string(out.Mode))
	g.log.Info().
		Str("event", "reorganized").
		Str("document_id", out.DocumentID).
		Str("mode", string(out.Mode)).
		Str("physical_file_id", out.PhysicalFileID).
		Str("path", out.Path).
		Send()
	return &out, nil
}
