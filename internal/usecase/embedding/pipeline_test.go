package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecstore/internal/domain"
)

// scriptedEmbedder fails every call with failWith when set. Otherwise it
// rate-limits the first rateLimits calls, then returns one vector per text.
type scriptedEmbedder struct {
	mu         sync.Mutex
	rateLimits int
	failWith   error
	calls      int
	batches    [][]string
}

func (s *scriptedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := s.BatchEmbed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{Embedding: res.Embeddings[0], TotalTokens: res.TotalTokens}, nil
}

func (s *scriptedEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.batches = append(s.batches, texts)
	if s.failWith != nil {
		return domain.BatchEmbeddingResult{}, s.failWith
	}
	if s.rateLimits > 0 {
		s.rateLimits--
		return domain.BatchEmbeddingResult{}, &domain.RateLimitError{StatusCode: 429, Message: "too many requests"}
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return domain.BatchEmbeddingResult{Embeddings: out, TotalTokens: len(texts)}, nil
}

type recordingSleeper struct {
	waits []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

// fastConfig keeps the production shape with zero waits.
func fastConfig() PipelineConfig {
	cfg := DefaultPipelineConfig()
	cfg.BaseDelay = 0
	cfg.MaxJitter = 0
	return cfg
}

func newTestPipeline(e domain.Embedder, cfg PipelineConfig) (*Pipeline, *recordingSleeper) {
	s := &recordingSleeper{}
	p := NewPipeline(e, e, cfg, zap.NewNop(), WithSleeper(s.sleep))
	return p, s
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("text-%d", i)
	}
	return out
}

func TestEmbedDocuments_BatchesInOrder(t *testing.T) {
	emb := &scriptedEmbedder{}
	p, sleeper := newTestPipeline(emb, fastConfig())

	in := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff", "g"}
	vecs, err := p.EmbedDocuments(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != len(in) {
		t.Fatalf("expected %d vectors, got %d", len(in), len(vecs))
	}
	for i, v := range vecs {
		if int(v[0]) != len(in[i]) {
			t.Errorf("vector %d out of order: %v", i, v)
		}
	}
	if len(emb.batches) != 2 || len(emb.batches[0]) != 5 || len(emb.batches[1]) != 2 {
		t.Errorf("batches = %v, want sizes 5 and 2", emb.batches)
	}
	if len(sleeper.waits) != 1 || sleeper.waits[0] != time.Second {
		t.Errorf("inter-batch waits = %v, want one 1s pause", sleeper.waits)
	}
}

func TestEmbedDocuments_RetriesRateLimitNPlusOneCalls(t *testing.T) {
	for _, n := range []int{1, 3, 6} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			emb := &scriptedEmbedder{rateLimits: n}
			p, _ := newTestPipeline(emb, fastConfig())
			ctx, usage := domain.NewContextWithUsage(context.Background())

			vecs, err := p.EmbedDocuments(ctx, texts(3))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(vecs) != 3 {
				t.Fatalf("expected 3 vectors, got %d", len(vecs))
			}
			if emb.calls != n+1 {
				t.Errorf("calls = %d, want %d", emb.calls, n+1)
			}
			if _, _, retries := usage.Snapshot(); retries != n {
				t.Errorf("recorded retries = %d, want %d", retries, n)
			}
		})
	}
}

func TestEmbedDocuments_PermanentRateLimitStopsAfterSevenAttempts(t *testing.T) {
	emb := &scriptedEmbedder{rateLimits: 1000}
	p, _ := newTestPipeline(emb, fastConfig())

	_, err := p.EmbedDocuments(context.Background(), texts(2))
	if err == nil {
		t.Fatal("expected error")
	}
	if emb.calls != 7 {
		t.Errorf("calls = %d, want 7", emb.calls)
	}
	if !errors.Is(err, domain.ErrRateLimitExhausted) {
		t.Errorf("expected ErrRateLimitExhausted, got %v", err)
	}
}

func TestEmbedDocuments_NonRateLimitFailsImmediately(t *testing.T) {
	emb := &scriptedEmbedder{failWith: fmt.Errorf("invalid api key: %w", domain.ErrEmbeddingProviderError)}
	p, _ := newTestPipeline(emb, fastConfig())

	_, err := p.EmbedDocuments(context.Background(), texts(12))
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if errors.Is(err, domain.ErrRateLimitExhausted) {
		t.Error("non-rate-limit failure must not read as exhausted retries")
	}
	if emb.calls != 1 {
		t.Errorf("calls = %d, want 1", emb.calls)
	}
}

func TestEmbedDocuments_LaterBatchFailureFailsWholeCall(t *testing.T) {
	emb := &scriptedEmbedder{}
	p, _ := newTestPipeline(emb, fastConfig())
	failing := &failOnCall{inner: emb, failAt: 2}
	p.documents = failing

	vecs, err := p.EmbedDocuments(context.Background(), texts(12))
	if err == nil {
		t.Fatal("expected error")
	}
	if vecs != nil {
		t.Errorf("expected no partial result, got %d vectors", len(vecs))
	}
}

type failOnCall struct {
	inner  *scriptedEmbedder
	failAt int
	n      int
}

func (f *failOnCall) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	return f.inner.Embed(ctx, text)
}

func (f *failOnCall) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	f.n++
	if f.n == f.failAt {
		return domain.BatchEmbeddingResult{}, errors.New("malformed input")
	}
	return f.inner.BatchEmbed(ctx, texts)
}

func TestBackOff_ExponentialWithJitter(t *testing.T) {
	p := NewPipeline(nil, nil, DefaultPipelineConfig(), zap.NewNop(), WithJitterSource(func() float64 { return 0.5 }))
	b := p.newBackOff()
	b.Reset()

	want := []time.Duration{5500, 10500, 20500, 40500, 80500, 160500}
	for i, w := range want {
		if got := b.NextBackOff(); got != w*time.Millisecond {
			t.Errorf("wait %d = %v, want %v", i, got, w*time.Millisecond)
		}
	}
}

func TestEmbedDocuments_ContextCancelledDuringDelay(t *testing.T) {
	emb := &scriptedEmbedder{}
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPipeline(emb, emb, fastConfig(), zap.NewNop(), WithSleeper(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := p.EmbedDocuments(ctx, texts(6))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if emb.calls != 1 {
		t.Errorf("calls = %d, want 1", emb.calls)
	}
}

func TestEmbedDocuments_Empty(t *testing.T) {
	emb := &scriptedEmbedder{}
	p, _ := newTestPipeline(emb, fastConfig())

	vecs, err := p.EmbedDocuments(context.Background(), nil)
	if err != nil || len(vecs) != 0 || emb.calls != 0 {
		t.Fatalf("vecs=%v err=%v calls=%d", vecs, err, emb.calls)
	}
}

func TestEmbedQuery_RetriesRateLimit(t *testing.T) {
	emb := &scriptedEmbedder{rateLimits: 2}
	p, _ := newTestPipeline(emb, fastConfig())

	vec, err := p.EmbedQuery(context.Background(), "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vec[0] != 3 {
		t.Errorf("vector = %v", vec)
	}
	if emb.calls != 3 {
		t.Errorf("calls = %d, want 3", emb.calls)
	}
}
