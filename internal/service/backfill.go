package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"paperbase/internal/hashing"
	"paperbase/internal/metrics"
	"paperbase/internal/model"
	"paperbase/internal/parser"
	"paperbase/internal/repository"
	"paperbase/internal/storage"
)

// MigrationOutcome is the per-document result of a backfill run.
type MigrationOutcome string

const (
	OutcomeMigrated MigrationOutcome = "migrated"
	OutcomeSkipped  MigrationOutcome = "skipped"
	OutcomeError    MigrationOutcome = "error"
)

// DocumentMigration reports what happened to one legacy document.
type DocumentMigration struct {
	DocumentID     string           `json:"document_id"`
	Outcome        MigrationOutcome `json:"outcome"`
	PhysicalFileID string           `json:"physical_file_id,omitempty"`
	Fingerprint    string           `json:"fingerprint,omitempty"`
	Reason         string           `json:"reason,omitempty"`
}

// MigrationReport summarizes a backfill run. SharedDocuments counts the documents migrated in
// this run whose physical file ended up referenced by more than one document, including files
// that uploads created earlier.
type MigrationReport struct {
	StartedAt            time.Time           `json:"started_at"`
	FinishedAt           time.Time           `json:"finished_at"`
	Processed            int                 `json:"processed"`
	Migrated             int                 `json:"migrated"`
	Skipped              int                 `json:"skipped"`
	Errors               int                 `json:"errors"`
	PhysicalFilesCreated int                 `json:"physical_files_created"`
	SharedDocuments      int                 `json:"shared_documents"`
	Documents            []DocumentMigration `json:"documents"`
}

func (r *MigrationReport) add(m DocumentMigration) {
	r.Processed++
	switch m.Outcome {
	case OutcomeMigrated:
		r.Migrated++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeError:
		r.Errors++
	}
	r.Documents = append(r.Documents, m)
}

// BackfillMigrator links documents created before physical files existed to one, merging
// legacy documents with identical content onto the same physical file.
type BackfillMigrator struct {
	repo      repository.Store
	files     *PhysicalFileStore
	objects   storage.Storage
	metrics   *metrics.Metrics
	log       zerolog.Logger
	batchSize int
	now       func() time.Time
}

// NewBackfillMigrator constructs a BackfillMigrator reading unlinked documents batchSize at a time.
func NewBackfillMigrator(repo repository.Store, files *PhysicalFileStore, objects storage.Storage, m *metrics.Metrics, log zerolog.Logger, batchSize int) *BackfillMigrator {
	if batchSize < 1 {
		batchSize = 100
	}
	return &BackfillMigrator{
		repo:      repo,
		files:     files,
		objects:   objects,
		metrics:   m,
		log:       log,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Run walks every unlinked document once. Per-document failures are reported, not returned;
// an error is returned only when listing documents fails or ctx ends, together with the
// partial report.
func (b *BackfillMigrator) Run(ctx context.Context) (*MigrationReport, error) {
	ctx, span := tracer.Start(ctx, "backfill.Run")
	defer span.End()

	report := &MigrationReport{StartedAt: b.now().UTC(), Documents: []DocumentMigration{}}
	linksPerFile := make(map[string]int)

	b.log.Info().Str("event", "backfill_start").Int("batch_size", b.batchSize).Send()

	var runErr error
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		docs, err := b.repo.Documents().ListUnlinked(ctx, after, b.batchSize)
		if err != nil {
			runErr = fmt.Errorf("list unlinked documents: %w", err)
			break
		}
		for i := range docs {
			m, created := b.migrate(ctx, &docs[i])
			if created {
				report.PhysicalFilesCreated++
			}
			if m.Outcome == OutcomeMigrated {
				linksPerFile[m.PhysicalFileID]++
			}
			b.metrics.Migrated(string(m.Outcome))
			report.add(m)
		}
		if len(docs) < b.batchSize {
			break
		}
		after = docs[len(docs)-1].ID
	}

	for pfID, n := range linksPerFile {
		if n > 1 {
			report.SharedDocuments += n
			continue
		}
		refs, err := b.repo.PhysicalFiles().CountReferences(context.WithoutCancel(ctx), pfID)
		if err != nil {
			b.log.Warn().Str("event", "count_references_failed").Str("physical_file_id", pfID).Err(err).Send()
			continue
		}
		if refs > 1 {
			report.SharedDocuments += n
		}
	}
	report.FinishedAt = b.now().UTC()

	span.SetAttributes(
		attribute.Int("backfill.processed", report.Processed),
		attribute.Int("backfill.migrated", report.Migrated),
		attribute.Int("backfill.errors", report.Errors),
	)
	ev := b.log.Info()
	if runErr != nil {
		ev = b.log.Error().Err(runErr)
	}
	ev.Str("event", "backfill_finished").
		Int("processed", report.Processed).
		Int("migrated", report.Migrated).
		Int("skipped", report.Skipped).
		Int("errors", report.Errors).
		Int("physical_files_created", report.PhysicalFilesCreated).
		Int("shared_documents", report.SharedDocuments).
		Int64("duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds()).
		Send()
	return report, runErr
}

// migrate links one document. created reports whether a new physical file row was inserted.
func (b *BackfillMigrator) migrate(ctx context.Context, doc *model.Document) (m DocumentMigration, created bool) {
	m = DocumentMigration{DocumentID: doc.ID}
	fail := func(err error) (DocumentMigration, bool) {
		m.Outcome = OutcomeError
		m.Reason = err.Error()
		b.log.Warn().Str("event", "backfill_document_failed").Str("document_id", doc.ID).Err(err).Send()
		return m, created
	}
	skip := func(reason string) (DocumentMigration, bool) {
		m.Outcome = OutcomeSkipped
		m.Reason = reason
		return m, created
	}

	if doc.IsLinked() {
		return skip("already linked")
	}
	if doc.LegacyFilePath == nil || *doc.LegacyFilePath == "" {
		return skip("no legacy file path")
	}
	legacyPath := *doc.LegacyFilePath

	rc, info, err := b.objects.Get(ctx, legacyPath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return fail(fmt.Errorf("legacy file %s is missing", legacyPath))
		}
		return fail(fmt.Errorf("open legacy file: %w", err))
	}
	fp, size, err := hashing.Fingerprint(rc)
	rc.Close()
	if err != nil {
		return fail(err)
	}
	m.Fingerprint = fp

	legacyResult := doc.LegacyParseResult
	if string(legacyResult) == "null" {
		legacyResult = nil
	}

	pf, err := b.files.FindByFingerprint(ctx, fp)
	if err != nil {
		return fail(fmt.Errorf("lookup fingerprint: %w", err))
	}
	if pf == nil {
		row := &model.PhysicalFile{
			Fingerprint:      fp,
			StoragePath:      legacyPath,
			OriginalFilename: doc.Filename,
			Size:             size,
			ContentType:      contentTypeOrDefault(info.ContentType),
		}
		if len(legacyResult) > 0 {
			row.ParseJobRef = doc.LegacyParseJobRef
			row.ParseResult = legacyResult
		}
		pf, created, err = b.files.Adopt(ctx, row)
		if err != nil {
			return fail(err)
		}
	}
	if !pf.HasParseResult() && len(legacyResult) > 0 {
		var jobRef string
		if doc.LegacyParseJobRef != nil {
			jobRef = *doc.LegacyParseJobRef
		}
		if _, err := b.files.AttachParseResult(ctx, pf.ID, parser.Result{JobRef: jobRef, Tree: legacyResult}); err != nil {
			return fail(err)
		}
	}

	linked, err := b.repo.Documents().LinkPhysicalFile(ctx, doc.ID, pf.ID)
	if err != nil {
		return fail(fmt.Errorf("link physical file: %w", err))
	}
	if !linked {
		return skip("linked concurrently")
	}
	if _, err := b.files.Settle(ctx, pf.ID); err != nil {
		b.log.Warn().Str("event", "settle_failed").Str("physical_file_id", pf.ID).Err(err).Send()
	}

	m.Outcome = OutcomeMigrated
	m.PhysicalFileID = pf.ID
	b.log.Debug().
		Str("event", "backfill_document_migrated").
		Str("document_id", doc.ID).
		Str("physical_file_id", pf.ID).
		Bool("physical_file_created", created).
		Send()
	return m, created
}
