package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecstore/internal/domain"
	"github.com/kailas-cloud/vecstore/internal/metrics"
)

// PipelineConfig controls batching and rate-limit retries.
type PipelineConfig struct {
	BatchSize   int
	BatchDelay  time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxJitter   time.Duration
}

// DefaultPipelineConfig returns the provider-friendly defaults:
// batches of 5, 1s apart, 7 attempts starting at 5s and doubling, up to 1s jitter.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		BatchSize:   5,
		BatchDelay:  time.Second,
		MaxAttempts: 7,
		BaseDelay:   5 * time.Second,
		Multiplier:  2,
		MaxJitter:   time.Second,
	}
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithSleeper replaces the inter-batch pause.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) PipelineOption {
	return func(p *Pipeline) { p.sleep = fn }
}

// WithJitterSource replaces the [0,1) random source used for retry jitter.
func WithJitterSource(fn func() float64) PipelineOption {
	return func(p *Pipeline) { p.rand = fn }
}

// Pipeline turns texts into raw provider vectors without tripping the provider's
// rate limit. Batches run sequentially; any failed batch fails the whole call.
type Pipeline struct {
	documents domain.Embedder
	queries   domain.Embedder
	cfg       PipelineConfig
	sleep     func(ctx context.Context, d time.Duration) error
	rand      func() float64
	logger    *zap.Logger
}

// NewPipeline creates a pipeline. documents embeds stored text, queries embeds search text;
// pass the same embedder twice when the model uses no instruction prefixes.
func NewPipeline(
	documents, queries domain.Embedder, cfg PipelineConfig, logger *zap.Logger, opts ...PipelineOption,
) *Pipeline {
	def := DefaultPipelineConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	p := &Pipeline{
		documents: documents,
		queries:   queries,
		cfg:       cfg,
		sleep:     sleepCtx,
		rand:      rand.Float64,
		logger:    logger,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// EmbedDocuments embeds texts in order, batch by batch, pausing between batches.
func (p *Pipeline) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.cfg.BatchSize {
		if start > 0 && p.cfg.BatchDelay > 0 {
			if err := p.sleep(ctx, p.cfg.BatchDelay); err != nil {
				return nil, fmt.Errorf("inter-batch delay: %w", err)
			}
		}
		end := min(start+p.cfg.BatchSize, len(texts))
		batchNo := start / p.cfg.BatchSize

		res, err := p.withRetry(ctx, batchNo, func() (domain.BatchEmbeddingResult, error) {
			return domain.EmbedBatch(ctx, p.documents, texts[start:end])
		})
		if err != nil {
			return nil, fmt.Errorf("batch %d (texts %d-%d): %w", batchNo, start, end-1, err)
		}
		out = append(out, res.Embeddings...)
	}
	return out, nil
}

// EmbedQuery embeds one search text under the same retry envelope.
func (p *Pipeline) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	res, err := p.withRetry(ctx, 0, func() (domain.BatchEmbeddingResult, error) {
		r, err := p.queries.Embed(ctx, text)
		if err != nil {
			return domain.BatchEmbeddingResult{}, err //nolint:wrapcheck // classified by withRetry
		}
		return domain.BatchEmbeddingResult{Embeddings: [][]float32{r.Embedding}}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return res.Embeddings[0], nil
}

// withRetry retries rate-limited calls up to MaxAttempts times and fails
// immediately on any other error.
func (p *Pipeline) withRetry(
	ctx context.Context, batchNo int, call func() (domain.BatchEmbeddingResult, error),
) (domain.BatchEmbeddingResult, error) {
	attempts := 0
	op := func() (domain.BatchEmbeddingResult, error) {
		attempts++
		res, err := call()
		if err != nil && !domain.IsRateLimited(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}
	notify := func(err error, wait time.Duration) {
		metrics.EmbeddingRetriesTotal.Inc()
		domain.UsageFromContext(ctx).AddRetry()
		p.logger.Warn("Rate limited by embedding provider, backing off",
			zap.Int("batch", batchNo),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", p.cfg.MaxAttempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxTries(uint(p.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err == nil {
		return res, nil
	}
	if domain.IsRateLimited(err) {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("%w after %d attempts: %w",
			domain.ErrRateLimitExhausted, attempts, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("retry interrupted: %w", err)
	}
	return domain.BatchEmbeddingResult{}, err
}

// newBackOff builds base·multiplier^attempt plus uniform jitter in [0, MaxJitter).
func (p *Pipeline) newBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.cfg.BaseDelay
	exp.Multiplier = p.cfg.Multiplier
	exp.RandomizationFactor = 0
	exp.MaxInterval = time.Duration(float64(p.cfg.BaseDelay) * math.Pow(p.cfg.Multiplier, float64(p.cfg.MaxAttempts)))
	return &jitterBackOff{BackOff: exp, max: p.cfg.MaxJitter, rand: p.rand}
}

type jitterBackOff struct {
	backoff.BackOff
	max  time.Duration
	rand func() float64
}

func (j *jitterBackOff) NextBackOff() time.Duration {
	d := j.BackOff.NextBackOff()
	if d == backoff.Stop || j.max <= 0 {
		return d
	}
	return d + time.Duration(j.rand()*float64(j.max))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
