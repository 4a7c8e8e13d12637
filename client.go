// Package vecstore is an embedded client for the multi-tenant record store.
package vecstore

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecstore/internal/app"
	"github.com/kailas-cloud/vecstore/internal/domain"
)

const defaultStartTimeout = 2 * time.Minute

// Errors returned by the client; match with errors.Is.
var (
	ErrConfiguration      = domain.ErrConfiguration
	ErrNotReady           = domain.ErrNotReady
	ErrInvalidRecord      = domain.ErrInvalidRecord
	ErrRecordNotFound     = domain.ErrRecordNotFound
	ErrVectorDimMismatch  = domain.ErrVectorDimMismatch
	ErrRateLimited        = domain.ErrRateLimited
	ErrRateLimitExhausted = domain.ErrRateLimitExhausted
	ErrEmbeddingProvider  = domain.ErrEmbeddingProviderError
)

// Embedder produces embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// EmbeddingResult is one embedding and its token usage.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// Client is the vecstore entry point.
type Client struct {
	app     *app.App
	records *RecordService
}

// New creates a Client, waits for the database, and bootstraps the schema.
func New(opts ...Option) (*Client, error) {
	cc := &clientConfig{timeout: defaultStartTimeout}
	for _, o := range opts {
		o(cc)
	}
	cc.cfg.ApplyDefaults()
	if err := cc.cfg.ValidateStore(); err != nil {
		return nil, fmt.Errorf("vecstore: %w: %w", domain.ErrConfiguration, err)
	}

	logger := cc.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var appOpts []app.Option
	if cc.embedder != nil {
		appOpts = append(appOpts, app.WithEmbedder(&embedderAdapter{inner: cc.embedder}))
	}

	obs, err := newObserver(cc.logger, cc.registry)
	if err != nil {
		return nil, err
	}

	a, err := app.Build(cc.cfg, logger, appOpts...)
	if err != nil {
		return nil, fmt.Errorf("vecstore: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cc.timeout)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("vecstore: start: %w", err)
	}

	return &Client{app: a, records: &RecordService{svc: a.Records(), obs: obs}}, nil
}

// Records returns the record store.
func (c *Client) Records() *RecordService {
	return c.records
}

// Close releases all resources.
func (c *Client) Close() {
	if c.app != nil {
		c.app.Close()
	}
}

// embedderAdapter wraps public Embedder to satisfy internal domain.Embedder.
type embedderAdapter struct {
	inner Embedder
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	r, err := a.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}
	return domain.EmbeddingResult{
		Embedding:    r.Embedding,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}
