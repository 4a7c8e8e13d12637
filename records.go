package vecstore

import (
	"context"
	"time"

	domrec "github.com/kailas-cloud/vecstore/internal/domain/record"
)

// Record is a stored document as returned by Get, List, and Search.
type Record struct {
	DocumentID string
	Tenant     string
	Collection string
	RecordType string
	RecordID   string
	Text       string
	Data       map[string]any
	Metadata   map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Upsert replaces the stored document for one logical record.
type Upsert struct {
	RecordType string
	RecordID   string
	Text       string
	Data       map[string]any
	Metadata   map[string]any
}

// ListOptions narrows and orders List results.
type ListOptions struct {
	Filters    map[string]any
	SortBy     string
	Descending bool
	Limit      int
}

// SearchHit is a similarity result. Score is 1 - cosine distance.
type SearchHit struct {
	Record Record
	Score  float64
}

// SourceCount is the number of documents ingested from one source.
type SourceCount struct {
	Source    string
	Documents int64
}

// Stats summarizes a collection.
type Stats struct {
	Documents   int64
	Records     int64
	Sources     int64
	RecordTypes map[string]int64
	Dimension   int
}

// recordUseCase is the record store as the client uses it; tests substitute it.
type recordUseCase interface {
	Upsert(ctx context.Context, req domrec.UpsertRequest) (string, error)
	UpsertMany(ctx context.Context, tenant, collection string, reqs []domrec.UpsertRequest) ([]string, error)
	AddTexts(ctx context.Context, tenant, collection string, texts []string, metadatas []map[string]any) ([]string, error)
	GetByID(ctx context.Context, tenant, collection, recordType, recordID string) (domrec.Record, error)
	List(ctx context.Context, q domrec.ListQuery) ([]domrec.Record, error)
	Delete(ctx context.Context, tenant, collection, recordType, recordID string) (bool, error)
	SimilaritySearch(ctx context.Context, tenant, collection, query string, k int) ([]domrec.SearchHit, error)
	DeleteBySource(ctx context.Context, tenant, collection, source string) (int64, error)
	ListSources(ctx context.Context, tenant, collection string) ([]domrec.SourceCount, error)
	Stats(ctx context.Context, tenant, collection string) (domrec.CollectionStats, error)
	MigrateLegacyTenant(ctx context.Context, tenant, collection string) (int64, error)
}

// RecordService stores and retrieves records for any (tenant, collection).
type RecordService struct {
	svc recordUseCase
	obs *observer
}

// Upsert stores one record and returns its document id.
func (s *RecordService) Upsert(ctx context.Context, tenant, collection string, u Upsert) (id string, err error) {
	start := time.Now()
	defer func() { s.obs.observe("upsert", start, err) }()

	return s.svc.Upsert(ctx, toUpsertRequest(tenant, collection, u))
}

// UpsertMany stores several records with one embedding pass.
func (s *RecordService) UpsertMany(
	ctx context.Context, tenant, collection string, us []Upsert,
) (ids []string, err error) {
	start := time.Now()
	defer func() { s.obs.observe("upsert_many", start, err) }()

	reqs := make([]domrec.UpsertRequest, len(us))
	for i, u := range us {
		reqs[i] = toUpsertRequest(tenant, collection, u)
	}
	return s.svc.UpsertMany(ctx, tenant, collection, reqs)
}

// AddTexts ingests free-form chunks. metadatas is nil or parallel to texts.
func (s *RecordService) AddTexts(
	ctx context.Context, tenant, collection string, texts []string, metadatas []map[string]any,
) (ids []string, err error) {
	start := time.Now()
	defer func() { s.obs.observe("add_texts", start, err) }()

	return s.svc.AddTexts(ctx, tenant, collection, texts, metadatas)
}

// Get returns one record or ErrRecordNotFound.
func (s *RecordService) Get(
	ctx context.Context, tenant, collection, recordType, recordID string,
) (rec Record, err error) {
	start := time.Now()
	defer func() { s.obs.observe("get", start, err) }()

	r, err := s.svc.GetByID(ctx, tenant, collection, recordType, recordID)
	if err != nil {
		return Record{}, err
	}
	return fromRecord(r), nil
}

// List returns records of one type.
func (s *RecordService) List(
	ctx context.Context, tenant, collection, recordType string, opts ListOptions,
) (out []Record, err error) {
	start := time.Now()
	defer func() { s.obs.observe("list", start, err) }()

	recs, err := s.svc.List(ctx, domrec.ListQuery{
		Tenant:     tenant,
		Collection: collection,
		RecordType: recordType,
		Filters:    opts.Filters,
		SortBy:     opts.SortBy,
		Descending: opts.Descending,
		Limit:      opts.Limit,
	})
	if err != nil {
		return nil, err
	}
	out = make([]Record, len(recs))
	for i, r := range recs {
		out[i] = fromRecord(r)
	}
	return out, nil
}

// Delete removes one record. It reports false when nothing matched.
func (s *RecordService) Delete(
	ctx context.Context, tenant, collection, recordType, recordID string,
) (deleted bool, err error) {
	start := time.Now()
	defer func() { s.obs.observe("delete", start, err) }()

	return s.svc.Delete(ctx, tenant, collection, recordType, recordID)
}

// Search returns the k documents closest to query, best first.
func (s *RecordService) Search(
	ctx context.Context, tenant, collection, query string, k int,
) (out []SearchHit, err error) {
	start := time.Now()
	defer func() { s.obs.observe("search", start, err) }()

	hits, err := s.svc.SimilaritySearch(ctx, tenant, collection, query, k)
	if err != nil {
		return nil, err
	}
	out = make([]SearchHit, len(hits))
	for i, h := range hits {
		out[i] = SearchHit{Record: fromRecord(h.Record), Score: h.Score}
	}
	return out, nil
}

// DeleteBySource removes every document ingested from source.
func (s *RecordService) DeleteBySource(ctx context.Context, tenant, collection, source string) (n int64, err error) {
	start := time.Now()
	defer func() { s.obs.observe("delete_by_source", start, err) }()

	return s.svc.DeleteBySource(ctx, tenant, collection, source)
}

// Sources lists source labels with document counts.
func (s *RecordService) Sources(ctx context.Context, tenant, collection string) (out []SourceCount, err error) {
	start := time.Now()
	defer func() { s.obs.observe("sources", start, err) }()

	src, err := s.svc.ListSources(ctx, tenant, collection)
	if err != nil {
		return nil, err
	}
	out = make([]SourceCount, len(src))
	for i, sc := range src {
		out[i] = SourceCount{Source: sc.Source, Documents: sc.Documents}
	}
	return out, nil
}

// Stats summarizes a collection.
func (s *RecordService) Stats(ctx context.Context, tenant, collection string) (st Stats, err error) {
	start := time.Now()
	defer func() { s.obs.observe("stats", start, err) }()

	cs, err := s.svc.Stats(ctx, tenant, collection)
	if err != nil {
		return Stats{}, err
	}
	return fromStats(cs), nil
}

// MigrateLegacy moves pre-tenancy rows into (tenant, collection).
func (s *RecordService) MigrateLegacy(ctx context.Context, tenant, collection string) (n int64, err error) {
	start := time.Now()
	defer func() { s.obs.observe("migrate_legacy", start, err) }()

	return s.svc.MigrateLegacyTenant(ctx, tenant, collection)
}

func toUpsertRequest(tenant, collection string, u Upsert) domrec.UpsertRequest {
	return domrec.UpsertRequest{
		Tenant:     tenant,
		Collection: collection,
		RecordType: u.RecordType,
		RecordID:   u.RecordID,
		Text:       u.Text,
		Data:       u.Data,
		Metadata:   u.Metadata,
	}
}

func fromRecord(r domrec.Record) Record {
	return Record{
		DocumentID: r.DocumentID,
		Tenant:     r.Tenant,
		Collection: r.Collection,
		RecordType: r.RecordType,
		RecordID:   r.RecordID,
		Text:       r.Text,
		Data:       r.Data,
		Metadata:   r.Metadata,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func fromStats(s domrec.CollectionStats) Stats {
	return Stats{
		Documents:   s.Documents,
		Records:     s.Records,
		Sources:     s.Sources,
		RecordTypes: s.RecordTypes,
		Dimension:   s.Dimension,
	}
}
