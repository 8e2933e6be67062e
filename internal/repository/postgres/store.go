package postgres

import (
	"context"
	"database/sql"

	"paperbase/internal/database"
	"paperbase/internal/repository"
)

// DBTX is the subset of *sql.DB and *sql.Tx the repositories need.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the PostgreSQL implementation of repository.Store.
type Store struct {
	db   *sql.DB
	q    DBTX
	inTx bool
}

// NewStore creates a Store over a connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

var _ repository.Store = (*Store)(nil)

// PhysicalFiles returns the physical file repository bound to this store's connection.
func (s *Store) PhysicalFiles() repository.PhysicalFileRepository {
	return NewPhysicalFilePostgres(s.q)
}

// Documents returns the document repository bound to this store's connection.
func (s *Store) Documents() repository.DocumentRepository {
	return NewDocumentPostgres(s.q)
}

// WithTx runs fn in a READ COMMITTED transaction. Callers needing a consistent
// read-then-act take row locks explicitly (PhysicalFileRepository.LockByID).
// Nested calls reuse the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return database.WithTx(ctx, s.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(tx *sql.Tx) error {
		return fn(&Store{db: s.db, q: tx, inTx: true})
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

// nullJSON maps an empty payload to SQL NULL.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
