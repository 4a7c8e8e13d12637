package vecstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	domrec "github.com/kailas-cloud/vecstore/internal/domain/record"
)

// mockRecordUC implements recordUseCase.
type mockRecordUC struct {
	upsertFn func(ctx context.Context, req domrec.UpsertRequest) (string, error)
	manyFn   func(ctx context.Context, tenant, collection string, reqs []domrec.UpsertRequest) ([]string, error)
	getFn    func(ctx context.Context, tenant, collection, recordType, recordID string) (domrec.Record, error)
	listFn   func(ctx context.Context, q domrec.ListQuery) ([]domrec.Record, error)
	searchFn func(ctx context.Context, tenant, collection, query string, k int) ([]domrec.SearchHit, error)
	sources  []domrec.SourceCount
	stats    domrec.CollectionStats
	err      error
}

func (m *mockRecordUC) Upsert(ctx context.Context, req domrec.UpsertRequest) (string, error) {
	return m.upsertFn(ctx, req)
}

func (m *mockRecordUC) UpsertMany(
	ctx context.Context, tenant, collection string, reqs []domrec.UpsertRequest,
) ([]string, error) {
	return m.manyFn(ctx, tenant, collection, reqs)
}

func (m *mockRecordUC) AddTexts(context.Context, string, string, []string, []map[string]any) ([]string, error) {
	return nil, m.err
}

func (m *mockRecordUC) GetByID(
	ctx context.Context, tenant, collection, recordType, recordID string,
) (domrec.Record, error) {
	return m.getFn(ctx, tenant, collection, recordType, recordID)
}

func (m *mockRecordUC) List(ctx context.Context, q domrec.ListQuery) ([]domrec.Record, error) {
	return m.listFn(ctx, q)
}

func (m *mockRecordUC) Delete(context.Context, string, string, string, string) (bool, error) {
	return m.err == nil, m.err
}

func (m *mockRecordUC) SimilaritySearch(
	ctx context.Context, tenant, collection, query string, k int,
) ([]domrec.SearchHit, error) {
	return m.searchFn(ctx, tenant, collection, query, k)
}

func (m *mockRecordUC) DeleteBySource(context.Context, string, string, string) (int64, error) {
	return 0, m.err
}

func (m *mockRecordUC) ListSources(context.Context, string, string) ([]domrec.SourceCount, error) {
	return m.sources, m.err
}

func (m *mockRecordUC) Stats(context.Context, string, string) (domrec.CollectionStats, error) {
	return m.stats, m.err
}

func (m *mockRecordUC) MigrateLegacyTenant(context.Context, string, string) (int64, error) {
	return 0, m.err
}

func TestRecordService_Upsert(t *testing.T) {
	mock := &mockRecordUC{
		upsertFn: func(_ context.Context, req domrec.UpsertRequest) (string, error) {
			if req.Tenant != "acme" || req.Collection != "crm" || req.RecordID != "c-1" {
				t.Errorf("request = %+v", req)
			}
			return "doc-1", nil
		},
	}
	svc := &RecordService{svc: mock}
	id, err := svc.Upsert(context.Background(), "acme", "crm", Upsert{
		RecordType: "company", RecordID: "c-1", Text: "Acme Corp",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "doc-1" {
		t.Errorf("id = %q, want doc-1", id)
	}
}

func TestRecordService_UpsertMany(t *testing.T) {
	mock := &mockRecordUC{
		manyFn: func(_ context.Context, _, _ string, reqs []domrec.UpsertRequest) ([]string, error) {
			ids := make([]string, len(reqs))
			for i, r := range reqs {
				ids[i] = "doc-" + r.RecordID
			}
			return ids, nil
		},
	}
	svc := &RecordService{svc: mock}
	ids, err := svc.UpsertMany(context.Background(), "acme", "crm", []Upsert{
		{RecordType: "deal", RecordID: "1", Text: "a"},
		{RecordType: "deal", RecordID: "2", Text: "b"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 || ids[1] != "doc-2" {
		t.Errorf("ids = %v", ids)
	}
}

func TestRecordService_Get_NotFound(t *testing.T) {
	mock := &mockRecordUC{
		getFn: func(context.Context, string, string, string, string) (domrec.Record, error) {
			return domrec.Record{}, ErrRecordNotFound
		},
	}
	svc := &RecordService{svc: mock}
	_, err := svc.Get(context.Background(), "acme", "crm", "company", "missing")
	if !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestRecordService_List(t *testing.T) {
	mock := &mockRecordUC{
		listFn: func(_ context.Context, q domrec.ListQuery) ([]domrec.Record, error) {
			if q.RecordType != "deal" || q.SortBy != "amount" || !q.Descending || q.Limit != 10 {
				t.Errorf("query = %+v", q)
			}
			return []domrec.Record{{DocumentID: "d1", Data: map[string]any{"amount": 5.0}}}, nil
		},
	}
	svc := &RecordService{svc: mock}
	recs, err := svc.List(context.Background(), "acme", "crm", "deal", ListOptions{
		SortBy: "amount", Descending: true, Limit: 10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 1 || recs[0].Data["amount"] != 5.0 {
		t.Errorf("records = %+v", recs)
	}
}

func TestRecordService_Search(t *testing.T) {
	mock := &mockRecordUC{
		searchFn: func(_ context.Context, _, _, query string, k int) ([]domrec.SearchHit, error) {
			if query != "machine learning" || k != 2 {
				t.Errorf("query = %q k = %d", query, k)
			}
			return []domrec.SearchHit{
				{Record: domrec.Record{DocumentID: "a"}, Score: 0.91},
				{Record: domrec.Record{DocumentID: "b"}, Score: 0.42},
			}, nil
		},
	}
	svc := &RecordService{svc: mock}
	hits, err := svc.Search(context.Background(), "acme", "docs", "machine learning", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 || hits[0].Record.DocumentID != "a" || hits[0].Score != 0.91 {
		t.Errorf("hits = %+v", hits)
	}
}

func TestRecordService_SourcesAndStats(t *testing.T) {
	mock := &mockRecordUC{
		sources: []domrec.SourceCount{{Source: "a.pdf", Documents: 4}},
		stats:   domrec.CollectionStats{Documents: 4, Sources: 1, Dimension: 1000},
	}
	svc := &RecordService{svc: mock}

	src, err := svc.Sources(context.Background(), "acme", "docs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(src) != 1 || src[0].Source != "a.pdf" {
		t.Errorf("sources = %+v", src)
	}

	st, err := svc.Stats(context.Background(), "acme", "docs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Documents != 4 || st.Dimension != 1000 {
		t.Errorf("stats = %+v", st)
	}
}

func TestRecordService_ObservesOperations(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs, err := newObserver(nil, reg)
	if err != nil {
		t.Fatal(err)
	}
	mock := &mockRecordUC{err: errors.New("db down")}
	svc := &RecordService{svc: mock, obs: obs}

	_, _ = svc.Stats(context.Background(), "acme", "docs")
	_, _ = svc.Stats(context.Background(), "acme", "docs")
	mock.err = nil
	_, _ = svc.Delete(context.Background(), "acme", "docs", "deal", "1")

	if got := testutil.ToFloat64(obs.metrics.operations.WithLabelValues("stats", "error")); got != 2 {
		t.Errorf("stats errors = %v, want 2", got)
	}
	if got := testutil.ToFloat64(obs.metrics.operations.WithLabelValues("delete", "ok")); got != 1 {
		t.Errorf("delete ok = %v, want 1", got)
	}
}

func TestNewObserver_ReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := newObserver(nil, reg)
	if err != nil {
		t.Fatal(err)
	}
	second, err := newObserver(nil, reg)
	if err != nil {
		t.Fatalf("second registration: %v", err)
	}
	if first.metrics.operations != second.metrics.operations {
		t.Error("expected the existing collector to be reused")
	}
}

func TestObserver_Nil(t *testing.T) {
	var o *observer
	o.observe("noop", time.Now(), nil) // must not panic
}
