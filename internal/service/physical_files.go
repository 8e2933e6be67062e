package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"paperbase/internal/hashing"
	"paperbase/internal/model"
	"paperbase/internal/parser"
	"paperbase/internal/repository"
	"paperbase/internal/storage"
)

// ContentKey is the storage key of freshly uploaded bytes with fingerprint fp.
func ContentKey(fp string) string {
	if len(fp) < 2 {
		return "files/" + fp
	}
	return "files/" + fp[:2] + "/" + fp
}

// NewFile describes bytes to be stored as a new PhysicalFile.
type NewFile struct {
	Fingerprint string
	Size        int64
	Filename    string
	ContentType string
	Body        io.Reader
}

// PhysicalFileStore maps fingerprints to stored bytes and their cached parse result.
type PhysicalFileStore struct {
	repo       repository.Store
	objects    storage.Storage
	log        zerolog.Logger
	staleAfter time.Duration
	now        func() time.Time
}

// NewPhysicalFileStore constructs a PhysicalFileStore. staleAfter bounds how long a pending
// parse blocks other callers from parsing the same file.
func NewPhysicalFileStore(repo repository.Store, objects storage.Storage, log zerolog.Logger, staleAfter time.Duration) *PhysicalFileStore {
	return &PhysicalFileStore{
		repo:       repo,
		objects:    objects,
		log:        log,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// FindByFingerprint returns the canonical file for fp, or nil if there is none.
func (s *PhysicalFileStore) FindByFingerprint(ctx context.Context, fp string) (*model.PhysicalFile, error) {
	pf, err := s.repo.PhysicalFiles().FindByFingerprint(ctx, fp)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return pf, err
}

// Create writes the bytes under their content key and inserts a canonical row. When another
// caller inserted the same fingerprint first, the winner's row is returned with created=false.
func (s *PhysicalFileStore) Create(ctx context.Context, in NewFile) (pf *model.PhysicalFile, created bool, err error) {
	if !hashing.Valid(in.Fingerprint) {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidFingerprint, in.Fingerprint)
	}
	key := ContentKey(in.Fingerprint)
	if _, err := s.objects.Put(ctx, key, in.Body, storage.PutObjectOptions{
		Size:        in.Size,
		ContentType: in.ContentType,
		Metadata:    map[string]string{"fingerprint": in.Fingerprint},
	}); err != nil {
		return nil, false, fmt.Errorf("store bytes: %w", err)
	}

	row := &model.PhysicalFile{
		ID:               uuid.NewString(),
		Fingerprint:      in.Fingerprint,
		StoragePath:      key,
		OriginalFilename: in.Filename,
		Size:             in.Size,
		ContentType:      in.ContentType,
		Canonical:        true,
		CreatedAt:        s.now().UTC(),
	}
	return s.insertCanonical(ctx, row)
}

// Adopt registers bytes that already live at path as the canonical file for row.Fingerprint,
// without copying them. It resolves insert races like Create.
func (s *PhysicalFileStore) Adopt(ctx context.Context, row *model.PhysicalFile) (*model.PhysicalFile, bool, error) {
	if !hashing.Valid(row.Fingerprint) {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidFingerprint, row.Fingerprint)
	}
	row.Canonical = true
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now().UTC()
	}
	return s.insertCanonical(ctx, row)
}

func (s *PhysicalFileStore) insertCanonical(ctx context.Context, row *model.PhysicalFile) (*model.PhysicalFile, bool, error) {
	stored, err := s.repo.PhysicalFiles().Insert(ctx, row)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, repository.ErrDuplicateFingerprint) {
		return nil, false, fmt.Errorf("insert physical file: %w", err)
	}

	winner, err := s.repo.PhysicalFiles().FindByFingerprint(ctx, row.Fingerprint)
	if err != nil {
		return nil, false, fmt.Errorf("lookup after duplicate insert: %w", err)
	}
	s.log.Debug().
		Str("event", "create_race_lost").
		Str("fingerprint", row.Fingerprint).
		Str("physical_file_id", winner.ID).
		Send()
	return winner, false, nil
}

// Claim reserves the right to parse pf. It fails while another caller's parse is in flight and
// younger than the stale threshold, and once a result is attached.
func (s *PhysicalFileStore) Claim(ctx context.Context, pf *model.PhysicalFile) (bool, error) {
	return s.repo.PhysicalFiles().ClaimParse(ctx, pf.ID, s.now().Add(-s.staleAfter))
}

// AttachParseResult stores res on the file unless a result is already attached, then marks
// every document sharing the file as parsed. It reports whether res was the one stored.
func (s *PhysicalFileStore) AttachParseResult(ctx context.Context, pfID string, res parser.Result) (bool, error) {
	var attached bool
	err := s.repo.WithTx(ctx, func(tx repository.Store) error {
		var err error
		attached, err = tx.PhysicalFiles().AttachParseResult(ctx, pfID, res.JobRef, res.Tree)
		if err != nil {
			return fmt.Errorf("attach parse result: %w", err)
		}
		if _, err := tx.Documents().SetStatusByPhysicalFile(ctx, pfID, model.StatusParsed); err != nil {
			return fmt.Errorf("update document status: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if !attached {
		s.log.Info().
			Str("event", "parse_result_discarded").
			Str("physical_file_id", pfID).
			Msg("a result was already attached")
	}
	return attached, nil
}

// RecordFailure stores cause on the file and marks every sharing document as failed, unless a
// concurrent parse already attached a result.
func (s *PhysicalFileStore) RecordFailure(ctx context.Context, pfID string, cause error) (model.DocumentStatus, error) {
	status := model.StatusError
	err := s.repo.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.PhysicalFiles().RecordParseFailure(ctx, pfID, cause.Error()); err != nil {
			return fmt.Errorf("record parse failure: %w", err)
		}
		pf, err := tx.PhysicalFiles().FindByID(ctx, pfID)
		if err != nil {
			return err
		}
		if pf.HasParseResult() {
			status = model.StatusParsed
		}
		if _, err := tx.Documents().SetStatusByPhysicalFile(ctx, pfID, status); err != nil {
			return fmt.Errorf("update document status: %w", err)
		}
		return nil
	})
	return status, err
}

// Settle brings the documents of pf in line with its current parse state and returns that
// state. It is used after linking documents to a file whose parse ran elsewhere.
func (s *PhysicalFileStore) Settle(ctx context.Context, pfID string) (model.DocumentStatus, error) {
	pf, err := s.repo.PhysicalFiles().FindByID(ctx, pfID)
	if err != nil {
		return "", err
	}
	status := statusOf(pf)
	if status == model.StatusPending {
		return status, nil
	}
	if _, err := s.repo.Documents().SetStatusByPhysicalFile(ctx, pfID, status); err != nil {
		return "", err
	}
	return status, nil
}

// Open streams the bytes stored under key.
func (s *PhysicalFileStore) Open(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	return s.objects.Get(ctx, key)
}

// Presign returns a time-limited download URL for key. Backends without presigning return
// storage.ErrNotSupported.
func (s *PhysicalFileStore) Presign(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return s.objects.PresignGet(ctx, key, expiry)
}

func statusOf(pf *model.PhysicalFile) model.DocumentStatus {
	switch {
	case pf.HasParseResult():
		return model.StatusParsed
	case pf.ParseFailed():
		return model.StatusError
	default:
		return model.StatusPending
	}
}
