// Package record implements the multi-tenant record store.
package record

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecstore/internal/domain"
	domrec "github.com/kailas-cloud/vecstore/internal/domain/record"
	"github.com/kailas-cloud/vecstore/internal/metrics"
	"github.com/kailas-cloud/vecstore/internal/tracing"
)

// DefaultSearchK is used when a similarity search asks for k <= 0.
const DefaultSearchK = 4

// MaxSearchK bounds a single similarity search.
const MaxSearchK = 1000

// Config holds tenancy settings.
type Config struct {
	LegacyTenant      string
	AutoMigrateLegacy bool
}

// Service stores, retrieves and searches records scoped by tenant and collection.
type Service struct {
	store    Store
	embedder Embedder
	reducer  Reducer
	ready    Readiness
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	migrated map[domrec.Scope]bool
}

// New creates a record service.
func New(store Store, embedder Embedder, reducer Reducer, ready Readiness, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		embedder: embedder,
		reducer:  reducer,
		ready:    ready,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		migrated: make(map[domrec.Scope]bool),
	}
}

// Upsert embeds the record text and replaces the record's Document.
// Calling it twice with the same identity leaves exactly one Document.
func (s *Service) Upsert(ctx context.Context, req domrec.UpsertRequest) (id string, err error) {
	ctx, done := s.begin(ctx, "upsert", req.Tenant, req.Collection)
	defer func() { done(err) }()

	if err := req.Validate(); err != nil {
		return "", err
	}
	ids, err := s.upsert(ctx, req.Identity().Scope, []domrec.UpsertRequest{req})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// UpsertMany writes several records of one (tenant, collection) in one
// embedding pass, so a first ingestion can fit the reduction model on all of them.
func (s *Service) UpsertMany(ctx context.Context, tenant, collection string, reqs []domrec.UpsertRequest) (ids []string, err error) {
	ctx, done := s.begin(ctx, "upsert_many", tenant, collection)
	defer func() { done(err) }()

	scope := domrec.Scope{Tenant: tenant, Collection: collection}
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return []string{}, nil
	}
	for i, r := range reqs {
		if r.Tenant != tenant || r.Collection != collection {
			return nil, fmt.Errorf("record %d is outside %s: %w", i, scope, domain.ErrInvalidRecord)
		}
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return s.upsert(ctx, scope, reqs)
}

func (s *Service) upsert(ctx context.Context, scope domrec.Scope, reqs []domrec.UpsertRequest) ([]string, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	s.autoMigrate(ctx, scope)

	texts := make([]string, len(reqs))
	for i, r := range reqs {
		texts[i] = r.Text
	}
	vectors, err := s.embed(ctx, scope, texts)
	if err != nil {
		return nil, err
	}

	now := s.now()
	docs := make([]domrec.Document, len(reqs))
	for i, r := range reqs {
		docs[i] = domrec.Document{
			Scope:      scope,
			RecordType: r.RecordType,
			RecordID:   r.RecordID,
			Text:       r.Text,
			Embedding:  vectors[i],
			Metadata:   r.BuildMetadata(now),
		}
	}

	ids, err := s.store.UpsertMany(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("store records: %w", err)
	}
	s.logger.Debug("Records upserted",
		zap.String("tenant", scope.Tenant),
		zap.String("collection", scope.Collection),
		zap.Int("count", len(ids)),
	)
	return ids, nil
}

// AddTexts ingests free-form texts with no logical identity. metadatas may be
// nil or must match texts in length.
func (s *Service) AddTexts(
	ctx context.Context, tenant, collection string, texts []string, metadatas []map[string]any,
) (ids []string, err error) {
	ctx, done := s.begin(ctx, "add_texts", tenant, collection)
	defer func() { done(err) }()

	scope := domrec.Scope{Tenant: tenant, Collection: collection}
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if metadatas != nil && len(metadatas) != len(texts) {
		return nil, fmt.Errorf("%d metadatas for %d texts: %w", len(metadatas), len(texts), domain.ErrInvalidRecord)
	}
	if len(texts) == 0 {
		return []string{}, nil
	}
	chunks := make([]domrec.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = domrec.Chunk{Text: text}
		if metadatas != nil {
			chunks[i].Metadata = metadatas[i]
		}
		if err := chunks[i].Validate(); err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
	}
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	s.autoMigrate(ctx, scope)

	vectors, err := s.embed(ctx, scope, texts)
	if err != nil {
		return nil, err
	}
	now := s.now()
	docs := make([]domrec.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = domrec.Document{
			Scope:     scope,
			Text:      c.Text,
			Embedding: vectors[i],
			Metadata:  c.BuildMetadata(now),
		}
	}
	ids, err = s.store.InsertChunks(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("store texts: %w", err)
	}
	return ids, nil
}

// embed runs the ingestion pipeline and reduces the result, fitting a model if needed.
func (s *Service) embed(ctx context.Context, scope domrec.Scope, texts []string) ([][]float32, error) {
	raw, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	vectors, err := s.reducer.Reduce(ctx, scope.Tenant, scope.Collection, raw, true)
	if err != nil {
		return nil, fmt.Errorf("reduce: %w", err)
	}
	if dim := s.ready.Dimension(); dim > 0 && len(vectors) > 0 && len(vectors[0]) != dim {
		return nil, fmt.Errorf("embeddings are %d wide, store expects %d: %w",
			len(vectors[0]), dim, domain.ErrVectorDimMismatch)
	}
	return vectors, nil
}

// GetByID returns one record or domain.ErrRecordNotFound.
func (s *Service) GetByID(ctx context.Context, tenant, collection, recordType, recordID string) (rec domrec.Record, err error) {
	ctx, done := s.begin(ctx, "get", tenant, collection)
	defer func() { done(err) }()

	id := domrec.Identity{Scope: domrec.Scope{Tenant: tenant, Collection: collection}, Type: recordType, ID: recordID}
	if err := id.Validate(); err != nil {
		return domrec.Record{}, err
	}
	if err := s.checkReady(); err != nil {
		return domrec.Record{}, err
	}
	s.autoMigrate(ctx, id.Scope)

	rec, err = s.store.Get(ctx, id)
	if err != nil {
		return domrec.Record{}, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// List returns records of one type matching exact-match data filters.
func (s *Service) List(ctx context.Context, q domrec.ListQuery) (recs []domrec.Record, err error) {
	ctx, done := s.begin(ctx, "list", q.Tenant, q.Collection)
	defer func() { done(err) }()

	plan, err := q.Normalize()
	if err != nil {
		return nil, err
	}
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	s.autoMigrate(ctx, plan.Scope)

	recs, err = s.store.List(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	if recs == nil {
		recs = []domrec.Record{}
	}
	return recs, nil
}

// Delete removes one record and reports whether it existed.
func (s *Service) Delete(ctx context.Context, tenant, collection, recordType, recordID string) (deleted bool, err error) {
	ctx, done := s.begin(ctx, "delete", tenant, collection)
	defer func() { done(err) }()

	id := domrec.Identity{Scope: domrec.Scope{Tenant: tenant, Collection: collection}, Type: recordType, ID: recordID}
	if err := id.Validate(); err != nil {
		return false, err
	}
	if err := s.checkReady(); err != nil {
		return false, err
	}
	s.autoMigrate(ctx, id.Scope)

	deleted, err = s.store.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete record: %w", err)
	}
	return deleted, nil
}

// SimilaritySearch returns at most k Documents ordered by descending cosine
// similarity to query. Embedding and storage failures are logged and yield
// an empty result.
func (s *Service) SimilaritySearch(
	ctx context.Context, tenant, collection, query string, k int,
) (hits []domrec.SearchHit, err error) {
	ctx, done := s.begin(ctx, "search", tenant, collection)
	defer func() { done(err) }()

	scope := domrec.Scope{Tenant: tenant, Collection: collection}
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if query == "" {
		return nil, fmt.Errorf("query is required: %w", domain.ErrInvalidRecord)
	}
	switch {
	case k <= 0:
		k = DefaultSearchK
	case k > MaxSearchK:
		k = MaxSearchK
	}
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	s.autoMigrate(ctx, scope)

	hits, searchErr := s.search(ctx, scope, query, k)
	if searchErr != nil {
		s.logger.Error("Similarity search failed",
			zap.String("tenant", tenant),
			zap.String("collection", collection),
			zap.Error(searchErr),
		)
		trace.SpanFromContext(ctx).RecordError(searchErr)
		return []domrec.SearchHit{}, nil
	}
	return hits, nil
}

func (s *Service) search(ctx context.Context, scope domrec.Scope, query string, k int) ([]domrec.SearchHit, error) {
	raw, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	vec, err := s.reducer.ReduceQuery(ctx, scope.Tenant, scope.Collection, raw)
	if err != nil {
		return nil, fmt.Errorf("reduce query: %w", err)
	}
	hits, err := s.store.Search(ctx, scope, vec, k)
	if err != nil {
		return nil, err
	}
	if hits == nil {
		hits = []domrec.SearchHit{}
	}
	return hits, nil
}

// DeleteBySource removes every Document tagged with source and returns the count.
func (s *Service) DeleteBySource(ctx context.Context, tenant, collection, source string) (n int64, err error) {
	ctx, done := s.begin(ctx, "delete_by_source", tenant, collection)
	defer func() { done(err) }()

	scope := domrec.Scope{Tenant: tenant, Collection: collection}
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	if source == "" {
		return 0, fmt.Errorf("source is required: %w", domain.ErrInvalidRecord)
	}
	if err := s.checkReady(); err != nil {
		return 0, err
	}
	s.autoMigrate(ctx, scope)

	n, err = s.store.DeleteBySource(ctx, scope, source)
	if err != nil {
		return 0, fmt.Errorf("delete by source: %w", err)
	}
	s.logger.Info("Deleted documents by source",
		zap.String("tenant", tenant),
		zap.String("collection", collection),
		zap.String("source", source),
		zap.Int64("deleted", n),
	)
	return n, nil
}

// ListSources counts Documents per source label.
func (s *Service) ListSources(ctx context.Context, tenant, collection string) (out []domrec.SourceCount, err error) {
	ctx, done := s.begin(ctx, "list_sources", tenant, collection)
	defer func() { done(err) }()

	scope := domrec.Scope{Tenant: tenant, Collection: collection}
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	s.autoMigrate(ctx, scope)

	out, err = s.store.ListSources(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	if out == nil {
		out = []domrec.SourceCount{}
	}
	return out, nil
}

// Stats summarizes one collection.
func (s *Service) Stats(ctx context.Context, tenant, collection string) (st domrec.CollectionStats, err error) {
	ctx, done := s.begin(ctx, "stats", tenant, collection)
	defer func() { done(err) }()

	scope := domrec.Scope{Tenant: tenant, Collection: collection}
	if err := scope.Validate(); err != nil {
		return domrec.CollectionStats{}, err
	}
	if err := s.checkReady(); err != nil {
		return domrec.CollectionStats{}, err
	}
	s.autoMigrate(ctx, scope)

	st, err = s.store.Stats(ctx, scope)
	if err != nil {
		return domrec.CollectionStats{}, fmt.Errorf("collection stats: %w", err)
	}
	st.Dimension = s.ready.Dimension()
	return st, nil
}

// MigrateLegacyTenant moves the legacy tenant's Documents in collection to
// tenant. Nothing moves when tenant is the legacy tenant or already has
// Documents there.
func (s *Service) MigrateLegacyTenant(ctx context.Context, tenant, collection string) (n int64, err error) {
	ctx, done := s.begin(ctx, "migrate_legacy", tenant, collection)
	defer func() { done(err) }()

	scope := domrec.Scope{Tenant: tenant, Collection: collection}
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	if err := s.checkReady(); err != nil {
		return 0, err
	}
	n, err = s.migrate(ctx, scope)
	if err != nil {
		return 0, err
	}
	s.markMigrated(scope)
	return n, nil
}

func (s *Service) migrate(ctx context.Context, scope domrec.Scope) (int64, error) {
	if s.cfg.LegacyTenant == "" || scope.Tenant == s.cfg.LegacyTenant {
		return 0, nil
	}
	n, err := s.store.MigrateTenant(ctx, s.cfg.LegacyTenant, scope)
	if err != nil {
		return 0, fmt.Errorf("migrate legacy tenant: %w", err)
	}
	if n > 0 {
		s.logger.Info("Migrated legacy documents",
			zap.String("from", s.cfg.LegacyTenant),
			zap.String("tenant", scope.Tenant),
			zap.String("collection", scope.Collection),
			zap.Int64("documents", n),
		)
	}
	return n, nil
}

// autoMigrate runs the legacy migration once per scope per process. Failures
// are logged and retried on the next call.
func (s *Service) autoMigrate(ctx context.Context, scope domrec.Scope) {
	if !s.cfg.AutoMigrateLegacy {
		return
	}
	s.mu.Lock()
	done := s.migrated[scope]
	s.mu.Unlock()
	if done {
		return
	}
	if _, err := s.migrate(ctx, scope); err != nil {
		s.logger.Warn("Automatic legacy migration failed",
			zap.String("tenant", scope.Tenant),
			zap.String("collection", scope.Collection),
			zap.Error(err),
		)
		return
	}
	s.markMigrated(scope)
}

func (s *Service) markMigrated(scope domrec.Scope) {
	s.mu.Lock()
	s.migrated[scope] = true
	s.mu.Unlock()
}

func (s *Service) checkReady() error {
	if s.ready == nil || !s.ready.Ready() {
		return fmt.Errorf("schema bootstrap has not completed: %w", domain.ErrNotReady)
	}
	return nil
}

// begin opens the span and returns a completion func that records the outcome.
func (s *Service) begin(ctx context.Context, op, tenant, collection string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracing.StartScopeSpan(ctx, op, tenant, collection)
	return ctx, func(err error) {
		metrics.ObserveRecordOp(op, start, err)
		if err != nil {
			tracing.RecordError(span, err)
			if !isCallerError(err) {
				s.logger.Error("Record operation failed",
					zap.String("op", op),
					zap.String("tenant", tenant),
					zap.String("collection", collection),
					zap.Error(err),
				)
			}
		}
		span.SetAttributes(attribute.Int64("vecstore.duration_ms", time.Since(start).Milliseconds()))
		span.End()
	}
}

func isCallerError(err error) bool {
	return errors.Is(err, domain.ErrInvalidRecord) ||
		errors.Is(err, domain.ErrRecordNotFound) ||
		errors.Is(err, domain.ErrNotReady)
}
