package vecstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/vecstore/internal/config"
	domrec "github.com/kailas-cloud/vecstore/internal/domain/record"
)

func TestNew_NoDatabase(t *testing.T) {
	_, err := New(WithOpenAI("key", "", ""))
	if err == nil {
		t.Fatal("expected error without database settings")
	}
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestNew_InvalidPolicy(t *testing.T) {
	_, err := New(WithDSN("postgres://localhost/db"), WithReductionPolicy("sometimes"))
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestClientOptions(t *testing.T) {
	cc := &clientConfig{}
	opts := []Option{
		WithPostgres("db.internal", 6432, "vec", "app", "secret"),
		WithPoolSize(2, 20),
		WithOpenAI("sk-test", "text-embedding-3-small", "http://llm.local/v1"),
		WithEmbeddingDimensions(512),
		WithEmbeddingTimeout(1500*time.Millisecond),
		WithInstructions("passage: ", "query: "),
		WithBatching(10, 0),
		WithRetry(3, 100*time.Millisecond, 3),
		WithMaxDimensions(1000),
		WithReductionPolicy(config.PolicyBootstrap),
		WithLegacyTenant("legacy", false),
		WithCache([]string{"localhost:6379"}, "pw", 48*time.Hour),
		WithStartTimeout(time.Second),
	}
	for _, o := range opts {
		o(cc)
	}
	cfg := cc.cfg

	if cfg.Database.Host != "db.internal" || cfg.Database.Port != 6432 || cfg.Database.Name != "vec" {
		t.Errorf("postgres: got %+v", cfg.Database)
	}
	if cfg.Database.MinConns != 2 || cfg.Database.MaxConns != 20 {
		t.Errorf("pool: got %d/%d", cfg.Database.MinConns, cfg.Database.MaxConns)
	}
	if cfg.Embedding.Model != "text-embedding-3-small" || cfg.Embedding.Dimensions != 512 {
		t.Errorf("embedding: got %+v", cfg.Embedding)
	}
	if cfg.Embedding.Timeout() != 2*time.Second {
		t.Errorf("embedding timeout: got %v", cfg.Embedding.Timeout())
	}
	if cfg.Embedding.QueryInstruction != "query: " {
		t.Errorf("query instruction: got %q", cfg.Embedding.QueryInstruction)
	}
	if cfg.Ingestion.BatchSize != 10 || cfg.Ingestion.BatchDelayMS != -1 {
		t.Errorf("batching: got %+v", cfg.Ingestion)
	}
	if cfg.Ingestion.MaxAttempts != 3 || cfg.Ingestion.BaseDelayMS != 100 {
		t.Errorf("retry: got %+v", cfg.Ingestion)
	}
	if cfg.Tenancy.AutoMigrate() {
		t.Error("auto migrate should be disabled")
	}
	if !cfg.Cache.Enabled || cfg.Cache.TTLHours != 48 {
		t.Errorf("cache: got %+v", cfg.Cache)
	}
	if cc.timeout != time.Second {
		t.Errorf("timeout: got %v", cc.timeout)
	}

	cfg.ApplyDefaults()
	if cfg.Ingestion.BatchDelay() != 0 {
		t.Errorf("zero batch delay should disable the pause, got %v", cfg.Ingestion.BatchDelay())
	}
	if err := cfg.ValidateStore(); err != nil {
		t.Errorf("ValidateStore: %v", err)
	}
}

func TestClient_Close_NilApp(t *testing.T) {
	c := &Client{}
	c.Close() // must not panic
}

type mockEmbedder struct {
	result EmbeddingResult
	err    error
}

func (m *mockEmbedder) Embed(context.Context, string) (EmbeddingResult, error) {
	return m.result, m.err
}

func TestEmbedderAdapter(t *testing.T) {
	a := &embedderAdapter{inner: &mockEmbedder{result: EmbeddingResult{
		Embedding: []float32{1, 2}, PromptTokens: 3, TotalTokens: 4,
	}}}
	r, err := a.Embed(t.Context(), "x")
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Embedding) != 2 || r.PromptTokens != 3 || r.TotalTokens != 4 {
		t.Errorf("got %+v", r)
	}
}

func TestEmbedderAdapter_Error(t *testing.T) {
	boom := errors.New("boom")
	a := &embedderAdapter{inner: &mockEmbedder{err: boom}}
	if _, err := a.Embed(t.Context(), "x"); !errors.Is(err, boom) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}

func TestConverters(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := fromRecord(domrec.Record{
		DocumentID: "d", Tenant: "t", Collection: "c", RecordType: "company", RecordID: "1",
		Text: "Acme", Data: map[string]any{"name": "Acme"}, Metadata: map[string]any{},
		CreatedAt: now, UpdatedAt: now,
	})
	if r.DocumentID != "d" || r.RecordType != "company" || r.Data["name"] != "Acme" || !r.CreatedAt.Equal(now) {
		t.Errorf("fromRecord: got %+v", r)
	}

	req := toUpsertRequest("t", "c", Upsert{RecordType: "company", RecordID: "1", Text: "Acme"})
	if req.Identity().Scope != (domrec.Scope{Tenant: "t", Collection: "c"}) || req.RecordID != "1" {
		t.Errorf("toUpsertRequest: got %+v", req)
	}

	st := fromStats(domrec.CollectionStats{Documents: 3, RecordTypes: map[string]int64{"deal": 1}, Dimension: 8})
	if st.Documents != 3 || st.RecordTypes["deal"] != 1 || st.Dimension != 8 {
		t.Errorf("fromStats: got %+v", st)
	}
}
