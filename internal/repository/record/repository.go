// Package record stores Documents in the vector_documents table.
package record

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/kailas-cloud/vecstore/internal/db"
	"github.com/kailas-cloud/vecstore/internal/db/postgres"
	"github.com/kailas-cloud/vecstore/internal/domain"
	domrec "github.com/kailas-cloud/vecstore/internal/domain/record"
)

// Database runs work in a pooled transaction.
type Database interface {
	WithConnection(ctx context.Context, fn postgres.TxFunc) error
}

// maxEFSearch is pgvector's upper bound for hnsw.ef_search.
const maxEFSearch = 1000

// SearchTuning sets the approximate index scan width per query.
type SearchTuning struct {
	// EFSearch is the HNSW candidate list size; raised to k when k is larger.
	EFSearch int
	// Probes is the number of IVFFlat lists visited.
	Probes int
}

func (t SearchTuning) efSearch(k int) int {
	return min(max(t.EFSearch, k, 1), maxEFSearch)
}

func (t SearchTuning) probes() int {
	return max(t.Probes, 1)
}

// Repository implements Document storage on PostgreSQL with pgvector.
type Repository struct {
	db     Database
	tuning SearchTuning
}

// New creates a record repository.
func New(database Database, tuning SearchTuning) *Repository {
	return &Repository{db: database, tuning: tuning}
}

// UpsertMany writes logical records in one transaction, in order.
func (r *Repository) UpsertMany(ctx context.Context, docs []domrec.Document) ([]string, error) {
	for _, d := range docs {
		if !d.HasIdentity() {
			return nil, fmt.Errorf("upsert without record identity: %w", domain.ErrInvalidRecord)
		}
	}
	ids := make([]string, len(docs))
	err := r.db.WithConnection(ctx, func(ctx context.Context, tx pgx.Tx) error {
		for i, d := range docs {
			err := tx.QueryRow(ctx, upsertSQL,
				uuid.New(), d.Scope.Tenant, d.Scope.Collection, d.Text,
				pgvector.NewVector(d.Embedding), d.Metadata, d.RecordType, d.RecordID,
			).Scan(&ids[i])
			if err != nil {
				return &db.Error{Op: db.OpExec, Err: err}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upsert records: %w", err)
	}
	return ids, nil
}

// InsertChunks stores free-form Documents without a logical identity.
func (r *Repository) InsertChunks(ctx context.Context, docs []domrec.Document) ([]string, error) {
	ids := make([]string, len(docs))
	err := r.db.WithConnection(ctx, func(ctx context.Context, tx pgx.Tx) error {
		for i, d := range docs {
			id := uuid.New()
			_, err := tx.Exec(ctx, insertChunkSQL,
				id, d.Scope.Tenant, d.Scope.Collection, d.Text,
				pgvector.NewVector(d.Embedding), d.Metadata)
			if err != nil {
				return &db.Error{Op: db.OpExec, Err: err}
			}
			ids[i] = id.String()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("insert chunks: %w", err)
	}
	return ids, nil
}

// Get returns the record or domain.ErrRecordNotFound.
func (r *Repository) Get(ctx context.Context, id domrec.Identity) (domrec.Record, error) {
	var rec domrec.Record
	err := r.db.WithConnection(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, getSQL, id.Tenant, id.Collection, id.Type, id.ID)
		if err != nil {
			return &db.Error{Op: db.OpQuery, Err: err}
		}
		rec, err = pgx.CollectExactlyOneRow(rows, scanRecord)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%s/%s/%s: %w", id.Scope, id.Type, id.ID, domain.ErrRecordNotFound)
		}
		if err != nil {
			return &db.Error{Op: db.OpQuery, Err: err}
		}
		return nil
	})
	if err != nil {
		return domrec.Record{}, err
	}
	return rec, nil
}

// List returns records matching a normalized plan.
func (r *Repository) List(ctx context.Context, plan domrec.Plan) ([]domrec.Record, error) {
	query, args := listSQL(plan)
	var out []domrec.Record
	err := r.db.WithConnection(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return &db.Error{Op: db.OpQuery, Err: err}
		}
		out, err = pgx.CollectRows(rows, scanRecord)
		if err != nil {
			return &db.Error{Op: db.OpQuery, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return out, nil
}

// Delete removes one logical record and reports whether it existed.
func (r *Repository) Delete(ctx context.Context, id domrec.Identity) (bool, error) {
	var n int64
	err := r.db.WithConnection(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, deleteSQL, id.Tenant, id.Collection, id.Type, id.ID)
		if err != nil {
			return &db.Error{Op: db.OpExec, Err: err}
		}
		n = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete record: %w", err)
	}
	return n > 0, nil
}

// Search returns at most k Documents nearest to query by cosine distance.
// The index scan is widened so an approximate index can return k rows.
func (r *Repository) Search(ctx context.Context, scope domrec.Scope, query []float32, k int) ([]domrec.SearchHit, error) {
	var out []domrec.SearchHit
	err := r.db.WithConnection(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, tuneSearchSQL,
			strconv.Itoa(r.tuning.efSearch(k)), strconv.Itoa(r.tuning.probes()))
		if err != nil {
			return &db.Error{Op: db.OpExec, Err: err}
		}
		rows, err := tx.Query(ctx, searchSQL, scope.Tenant, scope.Collection, pgvector.NewVector(query), k)
		if err != nil {
			return &db.Error{Op: db.OpQuery, Err: err}
		}
		out, err = pgx.CollectRows(rows, scanHit)
		if err != nil {
			return &db.Error{Op: db.OpQuery, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	return out, nil
}

// DeleteBySource removes every Document tagged with source.
func (r *Repository) DeleteBySource(ctx context.Context, scope domrec.Scope, source string) (int64, error) {
	var n int64
	err := r.db.WithConnection(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, deleteBySourceSQL, scope.Tenant, scope.Collection, source)
		if err != nil {
			return &db.Error{Op: db.OpExec, Err: err}
		}
		n = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete by source: %w", err)
	}
	return n, nil
}

// ListSources counts Documents per source label.
func (r *Repository) ListSources(ctx context.Context, scope domrec.Scope) ([]domrec.SourceCount, error) {
	var out []domrec.SourceCount
	err := r.db.WithConnection(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, listSourcesSQL, scope.Tenant, scope.Collection)
		if err != nil {
			return &db.Error{Op: db.OpQuery, Err: err}
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domrec.SourceCount, error) {
			var sc domrec.SourceCount
			err := row.Scan(&sc.Source, &sc.Documents)
			return sc, err
		})
		if err != nil {
			return &db.Error{Op: db.OpQuery, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return out, nil
}

// Stats summarizes a collection.
func (r *Repository) Stats(ctx context.Context, scope domrec.Scope) (domrec.CollectionStats, error) {
	st := domrec.CollectionStats{
		Tenant:      scope.Tenant,
		Collection:  scope.Collection,
		RecordTypes: map[string]int64{},
	}
	err := r.db.WithConnection(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, statsSQL, scope.Tenant, scope.Collection).
			Scan(&st.Documents, &st.Records, &st.Sources); err != nil {
			return &db.Error{Op: db.OpQuery, Err: err}
		}
		rows, err := tx.Query(ctx, recordTypesSQL, scope.Tenant, scope.Collection)
		if err != nil {
			return &db.Error{Op: db.OpQuery, Err: err}
		}
		var (
			typ string
			n   int64
		)
		_, err = pgx.ForEachRow(rows, []any{&typ, &n}, func() error {
			st.RecordTypes[typ] = n
			return nil
		})
		if err != nil {
			return &db.Error{Op: db.OpQuery, Err: err}
		}
		return nil
	})
	if err != nil {
		return domrec.CollectionStats{}, fmt.Errorf("collection stats: %w", err)
	}
	return st, nil
}

// MigrateTenant moves from's Documents in the collection to scope's tenant
// when that tenant has none there yet. It returns the number moved.
func (r *Repository) MigrateTenant(ctx context.Context, from string, scope domrec.Scope) (int64, error) {
	var n int64
	err := r.db.WithConnection(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, migrateTenantSQL, scope.Tenant, from, scope.Collection)
		if err != nil {
			return &db.Error{Op: db.OpExec, Err: err}
		}
		n = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("migrate tenant: %w", err)
	}
	return n, nil
}

func scanRecord(row pgx.CollectableRow) (domrec.Record, error) {
	var (
		rec      domrec.Record
		metadata map[string]any
		created  time.Time
		updated  time.Time
	)
	err := row.Scan(&rec.DocumentID, &rec.Tenant, &rec.Collection, &rec.RecordType, &rec.RecordID,
		&rec.Text, &metadata, &created, &updated)
	if err != nil {
		return domrec.Record{}, err
	}
	fillRecord(&rec, metadata, created, updated)
	return rec, nil
}

func scanHit(row pgx.CollectableRow) (domrec.SearchHit, error) {
	var (
		hit      domrec.SearchHit
		metadata map[string]any
		created  time.Time
		updated  time.Time
	)
	rec := &hit.Record
	err := row.Scan(&rec.DocumentID, &rec.Tenant, &rec.Collection, &rec.RecordType, &rec.RecordID,
		&rec.Text, &metadata, &created, &updated, &hit.Score)
	if err != nil {
		return domrec.SearchHit{}, err
	}
	fillRecord(rec, metadata, created, updated)
	return hit, nil
}

func fillRecord(rec *domrec.Record, metadata map[string]any, created, updated time.Time) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	rec.Metadata = metadata
	if data, ok := metadata[domrec.MetaData].(map[string]any); ok {
		rec.Data = data
	} else {
		rec.Data = map[string]any{}
	}
	rec.CreatedAt = created.UTC()
	rec.UpdatedAt = updated.UTC()
}
