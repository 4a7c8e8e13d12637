package record

import (
	"strconv"
	"strings"

	domrec "github.com/kailas-cloud/vecstore/internal/domain/record"
)

// recordColumns tolerates the NULLs that tables created before the current
// schema may still hold.
const recordColumns = `id::text, user_id, collection_name, COALESCE(record_type, ''), COALESCE(record_id, ''),
	COALESCE(text, ''), COALESCE(metadata, '{}'::jsonb),
	COALESCE(created_at, updated_at, 'epoch'::timestamptz), COALESCE(updated_at, created_at, 'epoch'::timestamptz)`

const upsertSQL = `INSERT INTO vector_documents
	(id, user_id, collection_name, text, embedding, metadata, record_type, record_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (user_id, collection_name, record_type, record_id)
	WHERE record_type IS NOT NULL AND record_id IS NOT NULL
DO UPDATE SET
	text = EXCLUDED.text,
	embedding = EXCLUDED.embedding,
	metadata = EXCLUDED.metadata
RETURNING id::text`

const insertChunkSQL = `INSERT INTO vector_documents
	(id, user_id, collection_name, text, embedding, metadata)
VALUES ($1, $2, $3, $4, $5, $6)`

const getSQL = `SELECT ` + recordColumns + `
FROM vector_documents
WHERE user_id = $1 AND collection_name = $2 AND record_type = $3 AND record_id = $4`

const deleteSQL = `DELETE FROM vector_documents
WHERE user_id = $1 AND collection_name = $2 AND record_type = $3 AND record_id = $4`

// tuneSearchSQL widens the ANN scan for the current transaction only.
const tuneSearchSQL = `SELECT set_config('hnsw.ef_search', $1, true), set_config('ivfflat.probes', $2, true)`

const searchSQL = `SELECT ` + recordColumns + `, 1 - (embedding <=> $3) AS score
FROM vector_documents
WHERE user_id = $1 AND collection_name = $2 AND embedding IS NOT NULL
ORDER BY embedding <=> $3
LIMIT $4`

const deleteBySourceSQL = `DELETE FROM vector_documents
WHERE user_id = $1 AND collection_name = $2 AND metadata->>'source' = $3`

const listSourcesSQL = `SELECT metadata->>'source', count(*)
FROM vector_documents
WHERE user_id = $1 AND collection_name = $2 AND metadata->>'source' IS NOT NULL
GROUP BY 1
ORDER BY 1`

const statsSQL = `SELECT count(*), count(record_id), count(DISTINCT metadata->>'source')
FROM vector_documents
WHERE user_id = $1 AND collection_name = $2`

const recordTypesSQL = `SELECT record_type, count(*)
FROM vector_documents
WHERE user_id = $1 AND collection_name = $2 AND record_type IS NOT NULL
GROUP BY record_type`

// migrateTenantSQL moves a collection between tenants only when the target is empty.
const migrateTenantSQL = `UPDATE vector_documents
SET user_id = $1
WHERE user_id = $2 AND collection_name = $3
  AND NOT EXISTS (
	SELECT 1 FROM vector_documents
	WHERE user_id = $1 AND collection_name = $3
  )`

// listSQL renders a normalized plan. Field names are bound as parameters;
// the sort expression comes from a fixed set.
func listSQL(p domrec.Plan) (string, []any) {
	var b strings.Builder
	args := []any{p.Scope.Tenant, p.Scope.Collection, p.RecordType}

	b.WriteString(`SELECT `)
	b.WriteString(recordColumns)
	b.WriteString(`
FROM vector_documents
WHERE user_id = $1 AND collection_name = $2 AND record_type = $3`)

	for _, pr := range p.Predicates {
		args = append(args, pr.Field, pr.Value)
		b.WriteString("\n  AND metadata->'data'->>$")
		b.WriteString(strconv.Itoa(len(args) - 1))
		b.WriteString("::text = $")
		b.WriteString(strconv.Itoa(len(args)))
	}

	dir := " ASC"
	if p.Descending {
		dir = " DESC"
	}
	b.WriteString("\nORDER BY ")
	b.WriteString(sortExpr(p.Sort))
	b.WriteString(dir)
	if !p.Sort.IsColumn() {
		b.WriteString(" NULLS LAST")
	}
	b.WriteString(", id")
	b.WriteString(dir)

	args = append(args, p.Limit)
	b.WriteString("\nLIMIT $")
	b.WriteString(strconv.Itoa(len(args)))
	return b.String(), args
}

func sortExpr(f domrec.SortField) string {
	switch f {
	case domrec.SortUpdatedAt:
		return "updated_at"
	case domrec.SortAppliedDate:
		return "metadata->'data'->>'applied_date'"
	case domrec.SortCompany:
		return "metadata->'data'->>'company'"
	case domrec.SortStatus:
		return "metadata->'data'->>'status'"
	default:
		return "created_at"
	}
}
