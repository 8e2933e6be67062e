package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type migrationStep struct {
	Name string
	SQL  string
}

// Steps are idempotent so that a database created before physical files existed can be
// upgraded in place; legacy document columns are added rather than assumed.
var steps = []migrationStep{
	{
		Name: "create_extension_uuid_ossp",
		SQL:  `CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	},
	{
		Name: "create_table_physical_files",
		SQL: `CREATE TABLE IF NOT EXISTS physical_files (
  id                 UUID        PRIMARY KEY DEFAULT uuid_generate_v4(),
  fingerprint        TEXT        NOT NULL,
  storage_path       TEXT        NOT NULL,
  original_filename  TEXT        NOT NULL DEFAULT '',
  size               BIGINT      NOT NULL CHECK (size >= 0),
  content_type       TEXT        NOT NULL DEFAULT 'application/octet-stream',
  canonical          BOOLEAN     NOT NULL DEFAULT TRUE,
  parse_job_ref      TEXT,
  parse_result       JSONB,
  parse_error        TEXT,
  parse_attempted_at TIMESTAMPTZ,
  created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_unique_index_physical_files_fingerprint",
		SQL:  `CREATE UNIQUE INDEX IF NOT EXISTS uq_physical_files_fingerprint ON physical_files (fingerprint) WHERE canonical;`,
	},
	{
		Name: "create_index_physical_files_fingerprint_all",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_physical_files_fingerprint ON physical_files (fingerprint);`,
	},
	{
		Name: "create_table_documents",
		SQL: `CREATE TABLE IF NOT EXISTS documents (
  id         UUID        PRIMARY KEY DEFAULT uuid_generate_v4(),
  filename   TEXT        NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "alter_table_documents_columns",
		SQL: `ALTER TABLE documents
  ADD COLUMN IF NOT EXISTS physical_file_id     UUID REFERENCES physical_files (id),
  ADD COLUMN IF NOT EXISTS status               TEXT        NOT NULL DEFAULT 'pending',
  ADD COLUMN IF NOT EXISTS template             TEXT        NOT NULL DEFAULT '',
  ADD COLUMN IF NOT EXISTS category             TEXT        NOT NULL DEFAULT '',
  ADD COLUMN IF NOT EXISTS updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
  ADD COLUMN IF NOT EXISTS legacy_file_path     TEXT,
  ADD COLUMN IF NOT EXISTS legacy_parse_job_ref TEXT,
  ADD COLUMN IF NOT EXISTS legacy_parse_result  JSONB;`,
	},
	{
		Name: "create_index_documents_physical_file_id",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_documents_physical_file_id ON documents (physical_file_id);`,
	},
	{
		Name: "create_index_documents_unlinked",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_documents_unlinked ON documents ((id::text)) WHERE physical_file_id IS NULL;`,
	},
	{
		Name: "create_index_documents_created_at",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents (created_at);`,
	},
	{
		Name: "create_table_extracted_fields",
		SQL: `CREATE TABLE IF NOT EXISTS extracted_fields (
  id          UUID             PRIMARY KEY DEFAULT uuid_generate_v4(),
  document_id UUID             NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
  name        TEXT             NOT NULL,
  value       JSONB,
  confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
  verified    BOOLEAN          NOT NULL DEFAULT FALSE,
  provenance  TEXT             NOT NULL DEFAULT '',
  created_at  TIMESTAMPTZ      NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_index_extracted_fields_document_id",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_extracted_fields_document_id ON extracted_fields (document_id);`,
	},
}

// EnsureMigrated applies every step in order. Steps are idempotent, so running them on an
// up-to-date schema is a no-op and a run interrupted by a failing step is completed by the next.
func EnsureMigrated(ctx context.Context, db *sql.DB, logger zerolog.Logger, dbHost string) error {
	start := time.Now()
	log := logger.With().Str("component", "database").Str("db_host", dbHost).Logger()

	log.Info().Str("event", "db_migration_start").Str("status", "in_progress").Int("steps", len(steps)).Send()

	for _, step := range steps {
		stepStart := time.Now()
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			log.Error().
				Str("event", "db_migration_failed").
				Str("status", "error").
				Str("migration_step", step.Name).
				Err(err).
				Int64("duration_ms", time.Since(start).Milliseconds()).
				Int64("step_duration_ms", time.Since(stepStart).Milliseconds()).
				Send()
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}

		log.Debug().
			Str("event", "db_migration_step").
			Str("status", "success").
			Str("migration_step", step.Name).
			Int64("step_duration_ms", time.Since(stepStart).Milliseconds()).
			Send()
	}

	log.Info().
		Str("event", "db_migration_success").
		Str("status", "success").
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Send()

	return nil
}
