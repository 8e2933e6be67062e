package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperbase/internal/model"
	"paperbase/internal/storage"
)

func strPtr(s string) *string { return &s }

// seedLegacy stores content at path (when non-empty) and creates an unlinked document
// pointing at it.
func seedLegacy(t *testing.T, e *testEnv, id, path, content string, jobRef *string, result string) {
	t.Helper()
	ctx := context.Background()
	if content != "" {
		_, err := e.objects.Put(ctx, path, strings.NewReader(content), storage.PutObjectOptions{Size: int64(len(content))})
		require.NoError(t, err)
	}
	doc := &model.Document{
		ID:                id,
		Filename:          path[strings.LastIndex(path, "/")+1:],
		Status:            model.StatusParsed,
		LegacyParseJobRef: jobRef,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
	if path != "" {
		doc.LegacyFilePath = strPtr(path)
	}
	if result != "" {
		doc.LegacyParseResult = json.RawMessage(result)
	}
	_, err := e.store.Documents().Create(ctx, doc)
	require.NoError(t, err)
}

func outcomes(r *MigrationReport) map[string]MigrationOutcome {
	out := map[string]MigrationOutcome{}
	for _, d := range r.Documents {
		out[d.DocumentID] = d.Outcome
	}
	return out
}

func TestBackfill_LinksAndMergesLegacyDocuments(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	seedLegacy(t, e, "01-a", "legacy/01/contract.pdf", "contract v1", strPtr("job-old-1"), `{"pages":3}`)
	seedLegacy(t, e, "02-b", "legacy/02/contract-copy.pdf", "contract v1", nil, "")
	seedLegacy(t, e, "03-c", "legacy/03/memo.pdf", "memo", strPtr("job-old-3"), `{"pages":1}`)
	seedLegacy(t, e, "04-d", "", "", nil, "")
	seedLegacy(t, e, "05-e", "legacy/05/missing.pdf", "", nil, "")

	report, err := e.migrator.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 5, report.Processed)
	assert.Equal(t, 3, report.Migrated)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 2, report.PhysicalFilesCreated)
	assert.Equal(t, 2, report.SharedDocuments)
	assert.Equal(t, map[string]MigrationOutcome{
		"01-a": OutcomeMigrated,
		"02-b": OutcomeMigrated,
		"03-c": OutcomeMigrated,
		"04-d": OutcomeSkipped,
		"05-e": OutcomeError,
	}, outcomes(report))
	assert.Equal(t, 2, e.store.PhysicalFileCount())
	assert.Zero(t, e.parser.calls.Load())

	a, err := e.svc.Get(ctx, "01-a")
	require.NoError(t, err)
	b, err := e.svc.Get(ctx, "02-b")
	require.NoError(t, err)
	assert.Equal(t, *a.PhysicalFileID, *b.PhysicalFileID)
	assert.Equal(t, "legacy/01/contract.pdf", *a.FilePath)
	assert.Equal(t, "legacy/01/contract.pdf", *b.FilePath)
	assert.JSONEq(t, `{"pages":3}`, string(b.ParseResult))
	assert.Equal(t, "job-old-1", *b.ParseJobRef)
}

func TestBackfill_IsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	seedLegacy(t, e, "01", "legacy/1.pdf", "one", nil, `{"n":1}`)
	seedLegacy(t, e, "02", "legacy/2.pdf", "two", nil, `{"n":2}`)
	seedLegacy(t, e, "03", "legacy/3.pdf", "one", nil, "")
	seedLegacy(t, e, "04", "", "", nil, "")

	first, err := e.migrator.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Migrated)

	links := map[string]string{}
	for _, id := range []string{"01", "02", "03"} {
		d, err := e.store.Documents().FindByID(ctx, id)
		require.NoError(t, err)
		links[id] = *d.PhysicalFileID
	}
	files := e.store.PhysicalFileCount()

	second, err := e.migrator.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, second.PhysicalFilesCreated)
	assert.Equal(t, 0, second.Migrated)
	assert.Equal(t, 1, second.Processed)
	assert.Equal(t, files, e.store.PhysicalFileCount())
	for id, pfID := range links {
		d, err := e.store.Documents().FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, pfID, *d.PhysicalFileID)
	}
}

func TestBackfill_PrefersCachedResultOverStaleLegacy(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	sum, err := e.coord.UploadBatch(ctx, []UploadFile{upload("new.pdf", "report body")}, BatchOptions{})
	require.NoError(t, err)
	seedLegacy(t, e, "legacy-1", "legacy/report.pdf", "report body", strPtr("job-stale"), `{"text":"stale"}`)

	report, err := e.migrator.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Migrated)
	assert.Equal(t, 0, report.PhysicalFilesCreated)
	assert.Equal(t, 1, report.SharedDocuments)

	res, err := e.svc.ResolveEffectiveParseResult(ctx, "legacy-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"report body"}`, string(res))

	path, err := e.svc.ResolveEffectiveFilePath(ctx, "legacy-1")
	require.NoError(t, err)
	assert.Equal(t, ContentKey(sum.Items[0].Fingerprint), *path)
}

func TestBackfill_FillsMissingResultFromLegacy(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.parser.failOn("needs parse", assert.AnError)

	sum, err := e.coord.UploadBatch(ctx, []UploadFile{upload("n.pdf", "needs parse")}, BatchOptions{})
	require.NoError(t, err)
	require.Equal(t, model.StatusError, sum.Items[0].Status)

	seedLegacy(t, e, "legacy-1", "legacy/n.pdf", "needs parse", strPtr("job-legacy"), `{"from":"legacy"}`)
	_, err = e.migrator.Run(ctx)
	require.NoError(t, err)

	uploaded, err := e.svc.Get(ctx, sum.Items[0].DocumentID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"legacy"}`, string(uploaded.ParseResult))
	assert.Equal(t, model.StatusParsed, uploaded.Status)
}

func TestBackfill_CancelledContext(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := e.migrator.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Zero(t, report.Processed)
}
