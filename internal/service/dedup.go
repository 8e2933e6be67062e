package service

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"paperbase/internal/hashing"
	"paperbase/internal/metrics"
	"paperbase/internal/model"
	"paperbase/internal/parser"
	"paperbase/internal/repository"
)

var tracer = otel.Tracer("paperbase/internal/service")

// UploadFile is one file of a batch. Open may be called more than once and must return the
// same bytes every time.
type UploadFile struct {
	Filename    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// BatchOptions apply to every document created by a batch.
type BatchOptions struct {
	Template string
	Category string
}

// BatchItem is the outcome for one uploaded file, in upload order.
type BatchItem struct {
	Index          int                  `json:"index"`
	Filename       string               `json:"filename"`
	Fingerprint    string               `json:"fingerprint,omitempty"`
	DocumentID     string               `json:"document_id,omitempty"`
	PhysicalFileID string               `json:"physical_file_id,omitempty"`
	Status         model.DocumentStatus `json:"status"`
	Reused         bool                 `json:"reused"`
	Error          string               `json:"error,omitempty"`
}

// BatchSummary reports a batch upload.
type BatchSummary struct {
	TotalFiles         int         `json:"total_files"`
	UniqueFingerprints int         `json:"unique_fingerprints"`
	ParseCallsMade     int         `json:"parse_calls_made"`
	DocumentsCreated   int         `json:"documents_created"`
	Items              []BatchItem `json:"items"`
}

// Coordinator turns uploaded files into documents while calling the parser at most once per
// distinct uncached fingerprint.
type Coordinator struct {
	repo        repository.Store
	files       *PhysicalFileStore
	parser      parser.Parser
	metrics     *metrics.Metrics
	log         zerolog.Logger
	concurrency int
	now         func() time.Time
}

// NewCoordinator constructs a Coordinator. concurrency bounds parallel hashing and parallel
// per-fingerprint work; values below 1 mean 1.
func NewCoordinator(repo repository.Store, files *PhysicalFileStore, p parser.Parser, m *metrics.Metrics, log zerolog.Logger, concurrency int) *Coordinator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Coordinator{
		repo:        repo,
		files:       files,
		parser:      p,
		metrics:     m,
		log:         log,
		concurrency: concurrency,
		now:         time.Now,
	}
}

type fingerprintGroup struct {
	fp      string
	indices []int
}

// UploadBatch fingerprints every file, resolves each distinct fingerprint once and creates one
// document per file. Failures are reported per item and never abort the batch.
func (c *Coordinator) UploadBatch(ctx context.Context, files []UploadFile, opts BatchOptions) (*BatchSummary, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	ctx, span := tracer.Start(ctx, "dedup.UploadBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.files", len(files)))
	c.metrics.FilesReceived(len(files))

	items := make([]BatchItem, len(files))
	sizes := make([]int64, len(files))
	for i, f := range files {
		items[i] = BatchItem{Index: i, Filename: f.Filename}
	}

	var hg errgroup.Group
	hg.SetLimit(c.concurrency)
	for i := range files {
		i := i
		hg.Go(func() error {
			fp, n, err := c.fingerprint(ctx, files[i])
			if err != nil {
				items[i].Status = model.StatusError
				items[i].Error = err.Error()
				c.log.Warn().
					Str("event", "fingerprint_failed").
					Str("filename", files[i].Filename).
					Err(err).
					Send()
				return nil
			}
			items[i].Fingerprint = fp
			sizes[i] = n
			return nil
		})
	}
	_ = hg.Wait()

	groups := groupByFingerprint(items)

	var parseCalls atomic.Int64
	var rg errgroup.Group
	rg.SetLimit(c.concurrency)
	for _, grp := range groups {
		grp := grp
		rg.Go(func() error {
			c.resolveGroup(ctx, grp, files, sizes, items, opts, &parseCalls)
			return nil
		})
	}
	_ = rg.Wait()

	summary := &BatchSummary{
		TotalFiles:         len(files),
		UniqueFingerprints: len(groups),
		ParseCallsMade:     int(parseCalls.Load()),
		Items:              items,
	}
	for _, it := range items {
		if it.DocumentID != "" {
			summary.DocumentsCreated++
		}
	}

	span.SetAttributes(
		attribute.Int("batch.unique_fingerprints", summary.UniqueFingerprints),
		attribute.Int("batch.parse_calls", summary.ParseCallsMade),
	)
	c.log.Info().
		Str("event", "batch_uploaded").
		Int("total_files", summary.TotalFiles).
		Int("unique_fingerprints", summary.UniqueFingerprints).
		Int("parse_calls_made", summary.ParseCallsMade).
		Int("documents_created", summary.DocumentsCreated).
		Send()
	return summary, nil
}

func (c *Coordinator) fingerprint(ctx context.Context, f UploadFile) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, &hashing.Error{Err: err}
	}
	rc, err := f.Open()
	if err != nil {
		return "", 0, &hashing.Error{Err: err}
	}
	defer rc.Close()
	return hashing.Fingerprint(rc)
}

// groupByFingerprint keeps first-occurrence order; files that failed hashing are left out.
func groupByFingerprint(items []BatchItem) []fingerprintGroup {
	pos := make(map[string]int)
	var groups []fingerprintGroup
	for i, it := range items {
		if it.Fingerprint == "" {
			continue
		}
		if p, ok := pos[it.Fingerprint]; ok {
			groups[p].indices = append(groups[p].indices, i)
			continue
		}
		pos[it.Fingerprint] = len(groups)
		groups = append(groups, fingerprintGroup{fp: it.Fingerprint, indices: []int{i}})
	}
	return groups
}

// resolveGroup finds or creates the physical file for one fingerprint, links a document for
// every file in the group and parses the first file if nobody else has.
func (c *Coordinator) resolveGroup(ctx context.Context, grp fingerprintGroup, files []UploadFile, sizes []int64, items []BatchItem, opts BatchOptions, parseCalls *atomic.Int64) {
	ctx, span := tracer.Start(ctx, "dedup.resolveFingerprint")
	defer span.End()
	span.SetAttributes(attribute.String("fingerprint", grp.fp), attribute.Int("files", len(grp.indices)))

	log := c.log.With().Str("fingerprint", grp.fp).Logger()
	first := grp.indices[0]

	fail := func(err error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		for _, i := range grp.indices {
			items[i].Status = model.StatusError
			items[i].Error = err.Error()
		}
		log.Error().Str("event", "resolve_failed").Err(err).Send()
	}

	pf, err := c.files.FindByFingerprint(ctx, grp.fp)
	if err != nil {
		fail(fmt.Errorf("lookup fingerprint: %w", err))
		return
	}
	reused := pf != nil
	if pf == nil {
		pf, reused, err = c.create(ctx, grp.fp, files[first], sizes[first])
		if err != nil {
			fail(err)
			return
		}
	}
	if reused && pf.HasParseResult() {
		c.metrics.CacheHit()
	}

	status := model.StatusPending
	if pf.HasParseResult() {
		status = model.StatusParsed
	}
	for _, i := range grp.indices {
		items[i].PhysicalFileID = pf.ID
		items[i].Reused = reused || i != first
		docID, err := c.createDocument(ctx, pf.ID, files[i].Filename, status, opts)
		if err != nil {
			items[i].Status = model.StatusError
			items[i].Error = err.Error()
			log.Error().Str("event", "document_create_failed").Str("filename", files[i].Filename).Err(err).Send()
			continue
		}
		items[i].DocumentID = docID
		items[i].Status = status
	}

	if status == model.StatusParsed {
		return
	}

	claimed, err := c.files.Claim(ctx, pf)
	if err != nil {
		fail(fmt.Errorf("claim parse: %w", err))
		return
	}
	if claimed {
		parseCalls.Add(1)
		status = c.parse(ctx, pf, files[first], log)
	} else {
		// Someone else is parsing, or finished between lookup and link.
		status, err = c.files.Settle(ctx, pf.ID)
		if err != nil {
			log.Warn().Str("event", "settle_failed").Err(err).Send()
			return
		}
	}
	for _, i := range grp.indices {
		if items[i].DocumentID != "" {
			items[i].Status = status
		}
	}
}

func (c *Coordinator) create(ctx context.Context, fp string, f UploadFile, size int64) (*model.PhysicalFile, bool, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, false, fmt.Errorf("open upload: %w", err)
	}
	defer rc.Close()

	pf, created, err := c.files.Create(ctx, NewFile{
		Fingerprint: fp,
		Size:        size,
		Filename:    f.Filename,
		ContentType: contentTypeOrDefault(f.ContentType),
		Body:        rc,
	})
	if err != nil {
		return nil, false, err
	}
	return pf, !created, nil
}

func (c *Coordinator) createDocument(ctx context.Context, pfID, filename string, status model.DocumentStatus, opts BatchOptions) (string, error) {
	now := c.now().UTC()
	id := pfID
	doc, err := c.repo.Documents().Create(ctx, &model.Document{
		ID:             uuid.NewString(),
		PhysicalFileID: &id,
		Filename:       filename,
		Status:         status,
		Template:       opts.Template,
		Category:       opts.Category,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return "", fmt.Errorf("create document: %w", err)
	}
	return doc.ID, nil
}

// parse calls the parser once for pf and records the outcome on it and on every document
// sharing it.
func (c *Coordinator) parse(ctx context.Context, pf *model.PhysicalFile, f UploadFile, log zerolog.Logger) model.DocumentStatus {
	ctx, span := tracer.Start(ctx, "dedup.parse")
	defer span.End()

	start := time.Now()
	res, err := c.callParser(ctx, f)
	if err != nil {
		c.metrics.ParseCall(false)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn().
			Str("event", "parse_failed").
			Str("physical_file_id", pf.ID).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Err(err).
			Send()
		status, recErr := c.files.RecordFailure(ctx, pf.ID, err)
		if recErr != nil {
			log.Error().Str("event", "record_failure_failed").Err(recErr).Send()
			return model.StatusError
		}
		return status
	}
	c.metrics.ParseCall(true)

	if _, err := c.files.AttachParseResult(ctx, pf.ID, res); err != nil {
		log.Error().Str("event", "attach_failed").Str("physical_file_id", pf.ID).Err(err).Send()
		return model.StatusPending
	}
	log.Info().
		Str("event", "parsed").
		Str("physical_file_id", pf.ID).
		Str("job_ref", res.JobRef).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Send()
	return model.StatusParsed
}

func (c *Coordinator) callParser(ctx context.Context, f UploadFile) (parser.Result, error) {
	rc, err := f.Open()
	if err != nil {
		return parser.Result{}, &parser.Error{Filename: f.Filename, Err: err}
	}
	defer rc.Close()
	return c.parser.Parse(ctx, rc, f.Filename)
}

func contentTypeOrDefault(ct string) string {
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}
