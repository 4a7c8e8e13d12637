package record

import (
	"context"

	domrec "github.com/kailas-cloud/vecstore/internal/domain/record"
)

// Store defines the storage contract for Documents.
type Store interface {
	UpsertMany(ctx context.Context, docs []domrec.Document) ([]string, error)
	InsertChunks(ctx context.Context, docs []domrec.Document) ([]string, error)
	Get(ctx context.Context, id domrec.Identity) (domrec.Record, error)
	List(ctx context.Context, plan domrec.Plan) ([]domrec.Record, error)
	Delete(ctx context.Context, id domrec.Identity) (bool, error)
	Search(ctx context.Context, scope domrec.Scope, query []float32, k int) ([]domrec.SearchHit, error)
	DeleteBySource(ctx context.Context, scope domrec.Scope, source string) (int64, error)
	ListSources(ctx context.Context, scope domrec.Scope) ([]domrec.SourceCount, error)
	Stats(ctx context.Context, scope domrec.Scope) (domrec.CollectionStats, error)
	MigrateTenant(ctx context.Context, from string, scope domrec.Scope) (int64, error)
}

// Embedder turns texts into raw provider vectors.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Reducer maps raw vectors to the stored width.
type Reducer interface {
	Reduce(ctx context.Context, tenant, collection string, vectors [][]float32, fitIfAbsent bool) ([][]float32, error)
	ReduceQuery(ctx context.Context, tenant, collection string, vector []float32) ([]float32, error)
}

// Readiness reports the schema bootstrap state.
type Readiness interface {
	Ready() bool
	Dimension() int
}
