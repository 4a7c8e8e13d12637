package schema

import (
	"fmt"
	"strconv"
)

// IndexStrategy names the approximate-nearest-neighbour index built on the embedding column.
type IndexStrategy string

// Index strategies by target width.
const (
	IndexHNSW    IndexStrategy = "hnsw"
	IndexIVFFlat IndexStrategy = "ivfflat"
	IndexNone    IndexStrategy = "none"
)

// IndexConfig bounds and tunes the vector index.
type IndexConfig struct {
	HNSWMaxDimensions    int
	IVFFlatMaxDimensions int
	HNSWM                int
	HNSWEFConstruction   int
	IVFFlatLists         int
}

// DefaultIndexConfig matches pgvector's indexing limits.
func DefaultIndexConfig() IndexConfig {
	return IndexConfig{
		HNSWMaxDimensions:    1000,
		IVFFlatMaxDimensions: 2000,
		HNSWM:                16,
		HNSWEFConstruction:   64,
		IVFFlatLists:         100,
	}
}

// StrategyFor picks the index for a column width.
func (c IndexConfig) StrategyFor(dim int) IndexStrategy {
	switch {
	case dim <= 0:
		return IndexNone
	case dim <= c.HNSWMaxDimensions:
		return IndexHNSW
	case dim <= c.IVFFlatMaxDimensions:
		return IndexIVFFlat
	default:
		return IndexNone
	}
}

const (
	documentsTable  = "vector_documents"
	ledgerTable     = "vecstore_schema_migrations"
	embeddingIndex  = "idx_vector_documents_embedding"
	migrationLockID = 0x7665637374 // "vecst"
)

// params feed the width-dependent migrations.
type params struct {
	dimension int
	index     IndexConfig
}

// migration is one versioned, idempotent schema step.
type migration struct {
	version int
	name    string
	stmts   func(p params) []string
}

var migrations = []migration{
	{1, "create_vector_documents", createDocuments},
	{2, "create_vector_index", createVectorIndex},
	{3, "record_identity", recordIdentity},
	{4, "jsonb_path_indexes", jsonbPathIndexes},
	{5, "backfill_legacy_source", backfillLegacySource},
	{6, "create_reduction_models", createReductionModels},
	// Databases that ran 5 before it handled NULL metadata get the rows it skipped.
	{7, "backfill_legacy_source_null_metadata", backfillLegacySource},
}

const ensureExtensionSQL = `CREATE EXTENSION IF NOT EXISTS vector`

const createLedgerSQL = `CREATE TABLE IF NOT EXISTS ` + ledgerTable + ` (
	version    INT PRIMARY KEY,
	name       TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const (
	lockSQL          = `SELECT pg_advisory_xact_lock($1)`
	appliedSQL       = `SELECT EXISTS (SELECT 1 FROM ` + ledgerTable + ` WHERE version = $1)`
	recordAppliedSQL = `INSERT INTO ` + ledgerTable + ` (version, name) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING`
	listAppliedSQL   = `SELECT version FROM ` + ledgerTable + ` ORDER BY version`
)

// columnWidthSQL reads the declared vector width; pgvector stores it as the type modifier.
const columnWidthSQL = `SELECT a.atttypmod
FROM pg_attribute a
WHERE a.attrelid = to_regclass('` + documentsTable + `')
  AND a.attname = 'embedding'
  AND NOT a.attisdropped`

func createDocuments(p params) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + documentsTable + ` (
	id              UUID PRIMARY KEY,
	user_id         VARCHAR(255) NOT NULL,
	collection_name VARCHAR(255) NOT NULL,
	text            TEXT NOT NULL,
	embedding       vector(` + strconv.Itoa(p.dimension) + `),
	metadata        JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_vector_documents_scope ON ` + documentsTable + ` (user_id, collection_name)`,
		`CREATE INDEX IF NOT EXISTS idx_vector_documents_metadata ON ` + documentsTable + ` USING GIN (metadata)`,
		`CREATE OR REPLACE FUNCTION vecstore_touch_updated_at() RETURNS trigger AS $$
BEGIN
	NEW.updated_at = now();
	RETURN NEW;
END;
$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS trg_vector_documents_updated_at ON ` + documentsTable,
		`CREATE TRIGGER trg_vector_documents_updated_at BEFORE UPDATE ON ` + documentsTable + `
	FOR EACH ROW EXECUTE FUNCTION vecstore_touch_updated_at()`,
	}
}

func createVectorIndex(p params) []string {
	stmt := vectorIndexSQL(p.index.StrategyFor(p.dimension), p.index)
	if stmt == "" {
		return nil
	}
	return []string{stmt}
}

// vectorIndexSQL renders the index DDL for a strategy. IndexNone yields "".
func vectorIndexSQL(s IndexStrategy, c IndexConfig) string {
	switch s {
	case IndexHNSW:
		return fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops) WITH (m = %d, ef_construction = %d)`,
			embeddingIndex, documentsTable, c.HNSWM, c.HNSWEFConstruction)
	case IndexIVFFlat:
		return fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS %s ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d)`,
			embeddingIndex, documentsTable, c.IVFFlatLists)
	default:
		return ""
	}
}

// recordIdentity promotes the logical identity out of metadata, keeps only the
// newest row per identity and enforces uniqueness from then on. Legacy tables
// may hold NULL timestamps, which order as oldest.
func recordIdentity(_ params) []string {
	return []string{
		`ALTER TABLE ` + documentsTable + ` ADD COLUMN IF NOT EXISTS record_type TEXT`,
		`ALTER TABLE ` + documentsTable + ` ADD COLUMN IF NOT EXISTS record_id TEXT`,
		`UPDATE ` + documentsTable + `
SET record_type = metadata->>'record_type', record_id = metadata->>'record_id'
WHERE record_id IS NULL AND metadata ? 'record_type' AND metadata ? 'record_id'`,
		`DELETE FROM ` + documentsTable + ` d
USING ` + documentsTable + ` newer
WHERE d.record_id IS NOT NULL
  AND d.user_id = newer.user_id
  AND d.collection_name = newer.collection_name
  AND d.record_type = newer.record_type
  AND d.record_id = newer.record_id
  AND (COALESCE(d.updated_at, d.created_at, 'epoch'::timestamptz), d.id)
    < (COALESCE(newer.updated_at, newer.created_at, 'epoch'::timestamptz), newer.id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_vector_documents_record ON ` + documentsTable + `
	(user_id, collection_name, record_type, record_id)
	WHERE record_type IS NOT NULL AND record_id IS NOT NULL`,
	}
}

func jsonbPathIndexes(_ params) []string {
	return []string{
		`CREATE INDEX IF NOT EXISTS idx_vector_documents_meta_record_type ON ` + documentsTable + ` ((metadata->>'record_type'))`,
		`CREATE INDEX IF NOT EXISTS idx_vector_documents_meta_source ON ` + documentsTable + ` (user_id, collection_name, (metadata->>'source'))`,
	}
}

// backfillLegacySource tags rows ingested before source metadata existed with
// the file label embedded in their text. Legacy tables allow NULL metadata.
func backfillLegacySource(_ params) []string {
	return []string{
		`UPDATE ` + documentsTable + `
SET metadata = jsonb_set(COALESCE(metadata, '{}'::jsonb), '{source}',
	to_jsonb(btrim(substring(text from 'Filename: ([^\n]+)\n'))))
WHERE metadata->>'source' IS NULL
  AND text ~ 'Filename: [^\n]+\n'`,
	}
}

func createReductionModels(_ params) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS reduction_models (
	tenant_id  VARCHAR(255) NOT NULL,
	collection VARCHAR(255) NOT NULL,
	mode       TEXT NOT NULL,
	source_dim INT NOT NULL,
	target_dim INT NOT NULL,
	samples    INT NOT NULL DEFAULT 0,
	mean       BYTEA,
	components BYTEA,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tenant_id, collection)
)`,
	}
}
