package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperbase/internal/model"
	"paperbase/internal/repository"
)

var documentCols = []string{
	"id", "physical_file_id", "filename", "status", "template", "category", "created_at", "updated_at",
	"legacy_file_path", "legacy_parse_job_ref", "legacy_parse_result",
	"fingerprint", "storage_path", "original_filename", "size", "content_type", "canonical",
	"parse_job_ref", "parse_result", "parse_error", "parse_attempted_at", "pf_created_at",
}

func linkedDocumentRow(rows *sqlmock.Rows, id, pfID string, now time.Time) *sqlmock.Rows {
	return rows.AddRow(
		id, pfID, "a.pdf", "parsed", "", "", now, now,
		"legacy/a.pdf", nil, []byte(`{"v":"stale"}`),
		"fp-1", "files/fp/fp-1", "a.pdf", int64(3), "application/pdf", true,
		"job-1", []byte(`{"v":"cached"}`), nil, nil, now,
	)
}

func legacyDocumentRow(rows *sqlmock.Rows, id string, now time.Time) *sqlmock.Rows {
	return rows.AddRow(
		id, nil, "old.pdf", "parsed", "invoice", "", now, now,
		"legacy/old.pdf", "job-old", []byte(`{"v":"old"}`),
		nil, nil, nil, nil, nil, nil,
		nil, nil, nil, nil, nil,
	)
}

func TestDocumentPostgres_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewDocumentPostgres(db)
	ctx := context.Background()

	now := time.Now().UTC()
	pfID := "pf-1"
	doc := &model.Document{
		ID:             "doc-1",
		PhysicalFileID: &pfID,
		Filename:       "test.txt",
		Status:         model.StatusParsed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	rows := sqlmock.NewRows([]string{"id", "physical_file_id", "filename", "status", "template", "category", "created_at", "updated_at"}).
		AddRow(doc.ID, pfID, doc.Filename, "parsed", "", "", now, now)

	mock.ExpectQuery("INSERT INTO documents").
		WithArgs(doc.ID, pfID, doc.Filename, "parsed", "", "", now, now, nil, nil, nil).
		WillReturnRows(rows)

	result, err := repo.Create(ctx, doc)

	require.NoError(t, err)
	assert.Equal(t, doc.ID, result.ID)
	assert.Equal(t, model.StatusParsed, result.Status)
	assert.Equal(t, pfID, *result.PhysicalFileID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_FindByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewDocumentPostgres(db)
	ctx := context.Background()
	now := time.Now()

	t.Run("linked", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM documents d LEFT JOIN physical_files pf ON pf.id = d.physical_file_id WHERE d.id = \\$1").
			WithArgs("doc-1").
			WillReturnRows(linkedDocumentRow(sqlmock.NewRows(documentCols), "doc-1", "pf-1", now))

		doc, err := repo.FindByID(ctx, "doc-1")

		require.NoError(t, err)
		require.NotNil(t, doc.PhysicalFile)
		assert.Equal(t, "pf-1", doc.PhysicalFile.ID)
		assert.Equal(t, "files/fp/fp-1", doc.PhysicalFile.StoragePath)
		assert.JSONEq(t, `{"v":"cached"}`, string(doc.PhysicalFile.ParseResult))
		assert.JSONEq(t, `{"v":"stale"}`, string(doc.LegacyParseResult))
	})

	t.Run("legacy", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM documents d LEFT JOIN physical_files pf").
			WithArgs("doc-2").
			WillReturnRows(legacyDocumentRow(sqlmock.NewRows(documentCols), "doc-2", now))

		doc, err := repo.FindByID(ctx, "doc-2")

		require.NoError(t, err)
		assert.False(t, doc.IsLinked())
		assert.Nil(t, doc.PhysicalFile)
		assert.Equal(t, "legacy/old.pdf", *doc.LegacyFilePath)
		assert.Equal(t, "job-old", *doc.LegacyParseJobRef)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM documents d").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		doc, err := repo.FindByID(ctx, "missing")

		assert.ErrorIs(t, err, repository.ErrNotFound)
		assert.Nil(t, doc)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewDocumentPostgres(db)
	now := time.Now()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM documents").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	rows := sqlmock.NewRows(documentCols)
	linkedDocumentRow(rows, "doc-1", "pf-1", now)
	legacyDocumentRow(rows, "doc-2", now)
	mock.ExpectQuery("SELECT (.+) FROM documents d (.+) ORDER BY d.created_at DESC").
		WithArgs(10, 0).
		WillReturnRows(rows)

	res, err := repo.List(context.Background(), repository.PageQuery{Limit: 10, Offset: 0})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Len(t, res.Items, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_ListUnlinked(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) WHERE d.physical_file_id IS NULL AND d.id::text > \\$1 ORDER BY d.id::text LIMIT \\$2").
		WithArgs("", 50).
		WillReturnRows(legacyDocumentRow(sqlmock.NewRows(documentCols), "doc-2", time.Now()))

	docs, err := NewDocumentPostgres(db).ListUnlinked(context.Background(), "", 50)

	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc-2", docs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_LockByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM documents d LEFT JOIN physical_files pf (.+) WHERE d.id = \\$1 FOR UPDATE OF d").
		WithArgs("doc-1").
		WillReturnRows(linkedDocumentRow(sqlmock.NewRows(documentCols), "doc-1", "pf-1", time.Now()))

	doc, err := NewDocumentPostgres(db).LockByID(context.Background(), "doc-1")

	require.NoError(t, err)
	assert.Equal(t, "pf-1", *doc.PhysicalFileID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_CountUnlinkedByLegacyPath(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM documents WHERE physical_file_id IS NULL AND legacy_file_path = \\$1").
		WithArgs("legacy/a.pdf").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := NewDocumentPostgres(db).CountUnlinkedByLegacyPath(context.Background(), "legacy/a.pdf")

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_LinkPhysicalFile(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewDocumentPostgres(db)
	ctx := context.Background()

	mock.ExpectExec("UPDATE documents SET physical_file_id = \\$2, updated_at = now\\(\\) WHERE id = \\$1 AND physical_file_id IS NULL").
		WithArgs("doc-1", "pf-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE documents SET physical_file_id").
		WithArgs("doc-1", "pf-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := repo.LinkPhysicalFile(ctx, "doc-1", "pf-1")
	require.NoError(t, err)
	again, err := repo.LinkPhysicalFile(ctx, "doc-1", "pf-1")
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, again)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_RepointAndStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewDocumentPostgres(db)
	ctx := context.Background()

	mock.ExpectExec("UPDATE documents SET physical_file_id = \\$2, category = \\$3").
		WithArgs("doc-1", "pf-2", "invoices").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE documents SET status = \\$2, updated_at = now\\(\\) WHERE physical_file_id = \\$1").
		WithArgs("pf-1", "error").
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.Repoint(ctx, "doc-1", "pf-2", "invoices"))
	n, err := repo.SetStatusByPhysicalFile(ctx, "pf-1", model.StatusError)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_ListFields(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM extracted_fields WHERE document_id = \\$1").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_id", "name", "value", "confidence", "verified", "provenance", "created_at"}).
			AddRow("f-1", "doc-1", "total", []byte(`"12.50"`), 0.93, false, "parser", now))

	fields, err := NewDocumentPostgres(db).ListFields(context.Background(), "doc-1")

	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "total", fields[0].Name)
	assert.Equal(t, json.RawMessage(`"12.50"`), fields[0].Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("DELETE FROM documents WHERE id = ?").
		WithArgs("test-id").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewDocumentPostgres(db).Delete(context.Background(), "test-id")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
