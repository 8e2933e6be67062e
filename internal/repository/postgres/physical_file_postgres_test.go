package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperbase/internal/model"
	"paperbase/internal/repository"
)

var physicalFileCols = []string{
	"id", "fingerprint", "storage_path", "original_filename", "size", "content_type", "canonical",
	"parse_job_ref", "parse_result", "parse_error", "parse_attempted_at", "created_at",
}

func physicalFileRow(pf model.PhysicalFile) *sqlmock.Rows {
	var result any
	if len(pf.ParseResult) > 0 {
		result = []byte(pf.ParseResult)
	}
	var jobRef any
	if pf.ParseJobRef != nil {
		jobRef = *pf.ParseJobRef
	}
	return sqlmock.NewRows(physicalFileCols).AddRow(
		pf.ID, pf.Fingerprint, pf.StoragePath, pf.OriginalFilename, pf.Size, pf.ContentType, pf.Canonical,
		jobRef, result, nil, nil, pf.CreatedAt,
	)
}

func TestPhysicalFilePostgres_FindByFingerprint(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPhysicalFilePostgres(db)
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		job := "job-1"
		mock.ExpectQuery("SELECT (.+) FROM physical_files WHERE fingerprint = \\$1 AND canonical").
			WithArgs("fp-1").
			WillReturnRows(physicalFileRow(model.PhysicalFile{
				ID: "pf-1", Fingerprint: "fp-1", StoragePath: "files/fp/fp-1", Size: 10, Canonical: true,
				ParseJobRef: &job, ParseResult: json.RawMessage(`{"a":1}`), CreatedAt: time.Now(),
			}))

		pf, err := repo.FindByFingerprint(ctx, "fp-1")

		require.NoError(t, err)
		assert.Equal(t, "pf-1", pf.ID)
		assert.True(t, pf.HasParseResult())
		assert.Equal(t, "job-1", *pf.ParseJobRef)
		assert.Nil(t, pf.ParseError)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM physical_files WHERE fingerprint").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		pf, err := repo.FindByFingerprint(ctx, "missing")

		assert.ErrorIs(t, err, repository.ErrNotFound)
		assert.Nil(t, pf)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPhysicalFilePostgres_LockByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM physical_files WHERE id = \\$1 FOR UPDATE").
		WithArgs("pf-1").
		WillReturnRows(physicalFileRow(model.PhysicalFile{ID: "pf-1", Fingerprint: "fp", CreatedAt: time.Now()}))

	pf, err := NewPhysicalFilePostgres(db).LockByID(context.Background(), "pf-1")

	require.NoError(t, err)
	assert.Equal(t, "pf-1", pf.ID)
	assert.Nil(t, pf.ParseResult)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPhysicalFilePostgres_Insert(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	in := &model.PhysicalFile{
		ID:               "pf-1",
		Fingerprint:      "fp-1",
		StoragePath:      "files/fp/fp-1",
		OriginalFilename: "a.pdf",
		Size:             3,
		ContentType:      "application/pdf",
		Canonical:        true,
		ParseAttemptedAt: &now,
		CreatedAt:        now,
	}

	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "inserted",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("INSERT INTO physical_files (.+) ON CONFLICT \\(fingerprint\\) WHERE canonical DO NOTHING").
					WithArgs(in.ID, in.Fingerprint, in.StoragePath, in.OriginalFilename, in.Size, in.ContentType, true,
						nil, nil, nil, now, now).
					WillReturnRows(physicalFileRow(*in))
			},
		},
		{
			name: "conflict returns no row",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("INSERT INTO physical_files").WillReturnError(sql.ErrNoRows)
			},
			wantErr: repository.ErrDuplicateFingerprint,
		},
		{
			name: "unique violation from the driver",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("INSERT INTO physical_files").WillReturnError(&pgconn.PgError{Code: "23505"})
			},
			wantErr: repository.ErrDuplicateFingerprint,
		},
		{
			name: "other error",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("INSERT INTO physical_files").WillReturnError(errors.New("disk full"))
			},
			wantErr: errors.New("disk full"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			tt.setup(mock)

			out, err := NewPhysicalFilePostgres(db).Insert(ctx, in)

			switch {
			case tt.wantErr == nil:
				require.NoError(t, err)
				assert.Equal(t, in.ID, out.ID)
			case errors.Is(tt.wantErr, repository.ErrDuplicateFingerprint):
				assert.ErrorIs(t, err, repository.ErrDuplicateFingerprint)
			default:
				assert.EqualError(t, err, tt.wantErr.Error())
				assert.NotErrorIs(t, err, repository.ErrDuplicateFingerprint)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPhysicalFilePostgres_AttachParseResult(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPhysicalFilePostgres(db)
	ctx := context.Background()
	result := json.RawMessage(`{"fields":[]}`)

	mock.ExpectExec("UPDATE physical_files SET parse_job_ref = \\$2, parse_result = \\$3, parse_error = NULL WHERE id = \\$1 AND parse_result IS NULL").
		WithArgs("pf-1", "job-1", []byte(result)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE physical_files SET parse_job_ref").
		WithArgs("pf-1", "job-2", []byte(result)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := repo.AttachParseResult(ctx, "pf-1", "job-1", result)
	require.NoError(t, err)
	second, err := repo.AttachParseResult(ctx, "pf-1", "job-2", result)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPhysicalFilePostgres_RecordParseFailureAndClaim(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPhysicalFilePostgres(db)
	ctx := context.Background()
	stale := time.Now().Add(-time.Minute)

	mock.ExpectExec("UPDATE physical_files SET parse_error = \\$2 WHERE id = \\$1 AND parse_result IS NULL").
		WithArgs("pf-1", "timeout").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE physical_files SET parse_attempted_at = now\\(\\), parse_error = NULL").
		WithArgs("pf-1", stale).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.RecordParseFailure(ctx, "pf-1", "timeout"))
	claimed, err := repo.ClaimParse(ctx, "pf-1", stale)

	require.NoError(t, err)
	assert.True(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPhysicalFilePostgres_CountReferences(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM documents WHERE physical_file_id = \\$1").
		WithArgs("pf-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := NewPhysicalFilePostgres(db).CountReferences(context.Background(), "pf-1")

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPhysicalFilePostgres_UpdateStoragePath(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPhysicalFilePostgres(db)

	mock.ExpectExec("UPDATE physical_files SET storage_path = \\$2 WHERE id = \\$1").
		WithArgs("pf-1", "invoices/doc/a.pdf").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE physical_files SET storage_path").
		WithArgs("gone", "x").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.UpdateStoragePath(context.Background(), "pf-1", "invoices/doc/a.pdf"))
	assert.ErrorIs(t, repo.UpdateStoragePath(context.Background(), "gone", "x"), repository.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commits and binds repositories to the transaction", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM documents").
			WithArgs("pf-1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectCommit()

		err = NewStore(db).WithTx(ctx, func(tx repository.Store) error {
			// nested calls reuse the transaction
			return tx.WithTx(ctx, func(inner repository.Store) error {
				_, err := inner.PhysicalFiles().CountReferences(ctx, "pf-1")
				return err
			})
		})

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err = NewStore(db).WithTx(ctx, func(tx repository.Store) error { return boom })

		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
