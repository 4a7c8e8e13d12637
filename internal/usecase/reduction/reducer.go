// Package reduction keeps embeddings within the storable width.
package reduction

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecstore/internal/domain"
	domred "github.com/kailas-cloud/vecstore/internal/domain/reduction"
	"github.com/kailas-cloud/vecstore/internal/metrics"
)

// Policy decides what happens when a collection's first batch is too small to fit PCA.
type Policy string

// Supported policies.
const (
	// PolicyLock persists a truncate model so the collection never mixes strategies.
	PolicyLock Policy = "lock"
	// PolicyBootstrap truncates without persisting; a later, larger batch may fit PCA.
	PolicyBootstrap Policy = "bootstrap"
)

// ModelStore persists write-once models.
type ModelStore interface {
	Load(ctx context.Context, tenant, collection string) (*domred.Model, error)
	Save(ctx context.Context, tenant, collection string, m *domred.Model) (*domred.Model, bool, error)
}

// Reducer projects embeddings wider than the ceiling using one model per collection.
type Reducer struct {
	store   ModelStore
	ceiling int
	policy  Policy
	logger  *zap.Logger

	// models keeps the most recently used models; evicted ones reload from the store.
	models *lru.Cache[string, *domred.Model]

	// fitMu serializes model creation within the process.
	fitMu sync.Mutex
}

// DefaultModelCacheSize bounds the in-memory models. A 2000x3072 PCA model
// holds about 49MB of components.
const DefaultModelCacheSize = 16

// Option configures a Reducer.
type Option func(*options)

type options struct {
	cacheSize int
}

// WithModelCacheSize sets how many collection models stay in memory.
func WithModelCacheSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.cacheSize = n
		}
	}
}

// New creates a reducer with the given width ceiling.
func New(store ModelStore, ceiling int, policy Policy, logger *zap.Logger, opts ...Option) *Reducer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == "" {
		policy = PolicyLock
	}
	o := options{cacheSize: DefaultModelCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	models, _ := lru.New[string, *domred.Model](o.cacheSize) // size is always positive
	return &Reducer{
		store:   store,
		ceiling: ceiling,
		policy:  policy,
		logger:  logger,
		models:  models,
	}
}

// Ceiling returns the maximum stored width.
func (r *Reducer) Ceiling() int { return r.ceiling }

// Reduce maps vectors to at most Ceiling() dimensions. With fitIfAbsent a
// missing model is created from this batch and persisted.
func (r *Reducer) Reduce(ctx context.Context, tenant, collection string, vectors [][]float32, fitIfAbsent bool) ([][]float32, error) {
	if len(vectors) == 0 {
		return [][]float32{}, nil
	}
	raw := len(vectors[0])
	for i, v := range vectors {
		if len(v) != raw {
			return nil, fmt.Errorf("vector %d has %d dims, want %d: %w", i, len(v), raw, domain.ErrVectorDimMismatch)
		}
	}
	if raw <= r.ceiling {
		return vectors, nil
	}

	model, err := r.cached(ctx, tenant, collection)
	if err != nil {
		return nil, err
	}
	if model == nil {
		if !fitIfAbsent {
			return truncateAll(vectors, r.ceiling), nil
		}
		model, err = r.create(ctx, tenant, collection, vectors)
		if err != nil {
			return nil, err
		}
		if model == nil {
			return truncateAll(vectors, r.ceiling), nil
		}
	}

	out, err := model.Apply(vectors)
	if err != nil {
		return nil, fmt.Errorf("reduce %s/%s: %w", tenant, collection, err)
	}
	return out, nil
}

// ReduceQuery projects a query vector with the collection's model, truncating
// when none exists yet.
func (r *Reducer) ReduceQuery(ctx context.Context, tenant, collection string, vector []float32) ([]float32, error) {
	if len(vector) <= r.ceiling {
		return vector, nil
	}
	model, err := r.cached(ctx, tenant, collection)
	if err != nil {
		return nil, err
	}
	if model == nil {
		return domred.Truncate(vector, r.ceiling), nil
	}
	out, err := model.ApplyOne(vector)
	if err != nil {
		return nil, fmt.Errorf("reduce query %s/%s: %w", tenant, collection, err)
	}
	return out, nil
}

// cached returns the collection's model from memory or the store; nil when none exists.
func (r *Reducer) cached(ctx context.Context, tenant, collection string) (*domred.Model, error) {
	key := cacheKey(tenant, collection)
	if m, ok := r.models.Get(key); ok {
		return m, nil
	}

	m, err := r.store.Load(ctx, tenant, collection)
	if errors.Is(err, domain.ErrReductionModelMissing) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load reduction model %s/%s: %w", tenant, collection, err)
	}
	r.remember(key, m)
	return m, nil
}

// create fits or locks a model for the collection. A nil model means the
// batch is truncated without persisting anything.
func (r *Reducer) create(ctx context.Context, tenant, collection string, vectors [][]float32) (*domred.Model, error) {
	r.fitMu.Lock()
	defer r.fitMu.Unlock()

	// Another goroutine may have created it while we waited.
	if m, err := r.cached(ctx, tenant, collection); err != nil || m != nil {
		return m, err
	}

	raw := len(vectors[0])
	var (
		candidate *domred.Model
		err       error
	)
	switch {
	case len(vectors) >= r.ceiling:
		candidate, err = domred.Fit(vectors, r.ceiling)
	case r.policy == PolicyLock:
		candidate, err = domred.NewTruncate(raw, r.ceiling, len(vectors))
	default:
		r.logger.Info("Too few samples to fit PCA, truncating",
			zap.String("tenant", tenant),
			zap.String("collection", collection),
			zap.Int("samples", len(vectors)),
			zap.Int("target_dim", r.ceiling),
		)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create reduction model %s/%s: %w", tenant, collection, err)
	}

	stored, inserted, err := r.store.Save(ctx, tenant, collection, candidate)
	if err != nil {
		return nil, fmt.Errorf("save reduction model %s/%s: %w", tenant, collection, err)
	}
	if inserted {
		metrics.ReductionFitsTotal.WithLabelValues(string(stored.Mode())).Inc()
		r.logger.Info("Reduction model created",
			zap.String("tenant", tenant),
			zap.String("collection", collection),
			zap.String("mode", string(stored.Mode())),
			zap.Int("source_dim", stored.SourceDim()),
			zap.Int("target_dim", stored.TargetDim()),
			zap.Int("samples", stored.Samples()),
		)
	} else {
		r.logger.Debug("Adopted concurrently created reduction model",
			zap.String("tenant", tenant),
			zap.String("collection", collection),
			zap.String("mode", string(stored.Mode())),
		)
	}
	r.remember(cacheKey(tenant, collection), stored)
	return stored, nil
}

func (r *Reducer) remember(key string, m *domred.Model) {
	r.models.Add(key, m)
}

func cacheKey(tenant, collection string) string {
	return tenant + "\x00" + collection
}

func truncateAll(vectors [][]float32, width int) [][]float32 {
	out := make([][]float32, len(vectors))
	for i, v := range vectors {
		out[i] = domred.Truncate(v, width)
	}
	return out
}
