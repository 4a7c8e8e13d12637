// Package app wires configuration into a running record store.
// The HTTP server, the admin CLI, and the embedded client share it.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecstore/internal/config"
	"github.com/kailas-cloud/vecstore/internal/db/postgres"
	dbRedis "github.com/kailas-cloud/vecstore/internal/db/redis"
	"github.com/kailas-cloud/vecstore/internal/domain"
	"github.com/kailas-cloud/vecstore/internal/metrics"
	"github.com/kailas-cloud/vecstore/internal/repository/embcache"
	recordrepo "github.com/kailas-cloud/vecstore/internal/repository/record"
	reductionrepo "github.com/kailas-cloud/vecstore/internal/repository/reduction"
	"github.com/kailas-cloud/vecstore/internal/repository/schema"
	openaiEmb "github.com/kailas-cloud/vecstore/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/vecstore/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/vecstore/internal/usecase/health"
	recorduc "github.com/kailas-cloud/vecstore/internal/usecase/record"
	reductionuc "github.com/kailas-cloud/vecstore/internal/usecase/reduction"
)

const providerName = "openai"

// App is a fully wired record store. Build does not touch the database;
// call Start before serving requests.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	db        *postgres.Manager
	cache     *dbRedis.Store
	documents domain.Embedder
	schema    *schema.Manager
	records   *recorduc.Service
	health    *healthuc.Service
	provider  domain.Embedder
}

// Option customizes Build.
type Option func(*App)

// WithEmbedder replaces the OpenAI-compatible provider. The cache and
// instrumentation decorators still wrap it.
func WithEmbedder(e domain.Embedder) Option {
	return func(a *App) { a.provider = e }
}

// Build assembles every component from cfg.
func Build(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterStoreMetrics()

	a := &App{cfg: cfg, logger: logger}
	for _, o := range opts {
		o(a)
	}
	if a.provider == nil {
		a.provider = openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			Provider:   providerName,
			Timeout:    cfg.Embedding.Timeout(),
			Logger:     logger,
		})
	}
	a.db = postgres.NewManager(postgresConfig(cfg.Database), logger)

	if cfg.Cache.Enabled {
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Cache.Addrs,
			Password: cfg.Cache.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("embedding cache: %w", err)
		}
		a.cache = store
	}

	a.documents = a.buildEmbedder(cfg.Embedding.DocumentInstruction)
	queries := a.buildEmbedder(cfg.Embedding.QueryInstruction)
	pipeline := embeddinguc.NewPipeline(a.documents, queries, embeddinguc.PipelineConfig{
		BatchSize:   cfg.Ingestion.BatchSize,
		BatchDelay:  cfg.Ingestion.BatchDelay(),
		MaxAttempts: cfg.Ingestion.MaxAttempts,
		BaseDelay:   cfg.Ingestion.BaseDelay(),
		Multiplier:  cfg.Ingestion.Multiplier,
		MaxJitter:   cfg.Ingestion.MaxJitter(),
	}, logger)

	a.schema = schema.NewManager(a.db, a.documents, cfg.Reduction.MaxDimensions, indexConfig(cfg), logger)
	reducer := reductionuc.New(
		reductionrepo.New(a.db),
		cfg.Reduction.MaxDimensions,
		reductionuc.Policy(cfg.Reduction.Policy),
		logger,
		reductionuc.WithModelCacheSize(cfg.Reduction.ModelCacheSize),
	)
	store := recordrepo.New(a.db, recordrepo.SearchTuning{
		EFSearch: cfg.Index.HNSWEFSearch,
		Probes:   cfg.Index.IVFFlatProbes,
	})
	a.records = recorduc.New(store, pipeline, reducer, a.schema, recorduc.Config{
		LegacyTenant:      cfg.Tenancy.LegacyTenantID,
		AutoMigrateLegacy: cfg.Tenancy.AutoMigrate(),
	}, logger)

	checks := []healthuc.Option{healthuc.WithCheck("embedding", embeddingChecker{a.documents})}
	if a.cache != nil {
		checks = append(checks, healthuc.WithCheck("cache", a.cache))
	}
	a.health = healthuc.New(a.db, a.schema, checks...)
	return a, nil
}

// Start waits for the database and bootstraps the schema.
func (a *App) Start(ctx context.Context) error {
	timeout := time.Duration(a.cfg.Database.ReadinessTimeout) * time.Second
	if err := a.db.WaitForReady(ctx, timeout); err != nil {
		return fmt.Errorf("database not ready: %w", err)
	}
	if _, err := a.db.Pool(ctx); err != nil {
		return err
	}
	if a.cache != nil {
		if err := a.cache.WaitForReady(ctx, timeout); err != nil {
			// The cache is optional; requests fall through to the provider.
			a.logger.Warn("embedding cache not ready", zap.Error(err))
		}
	}
	if _, err := a.schema.Bootstrap(ctx); err != nil {
		return err
	}
	return nil
}

// Records returns the record store service.
func (a *App) Records() *recorduc.Service { return a.records }

// Health returns the health service.
func (a *App) Health() *healthuc.Service { return a.health }

// Schema returns the schema manager.
func (a *App) Schema() *schema.Manager { return a.schema }

// Close releases the pool and the cache client.
func (a *App) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
	a.db.Close()
}

// buildEmbedder assembles the decorator chain: provider -> Cached -> Instrumented -> Instruction.
func (a *App) buildEmbedder(instruction string) domain.Embedder {
	cfg := a.cfg.Embedding
	embedder := a.provider
	if a.cache != nil {
		embedder = embcache.New(a.provider, a.cache, embcache.Config{
			KeyPrefix: a.cfg.Cache.KeyPrefix,
			Model:     cfg.Model,
			TTL:       time.Duration(a.cfg.Cache.TTLHours) * time.Hour,
		}, metrics.EmbeddingCacheTotal, a.logger)
	}

	embedder = embeddinguc.NewInstrumentedEmbedder(embedder, providerName, cfg.Model, a.logger)

	// Outermost, so the cache key includes the instruction.
	if instruction != "" {
		return domain.NewInstructionEmbedder(embedder, instruction)
	}
	return embedder
}

func postgresConfig(c config.DatabaseConfig) postgres.Config {
	return postgres.Config{
		DSN:              c.DSN,
		Host:             c.Host,
		Port:             c.Port,
		Name:             c.Name,
		User:             c.User,
		Password:         c.Password,
		SSLMode:          c.SSLMode,
		MinConns:         int32(c.MinConns), //nolint:gosec // bounded by Validate
		MaxConns:         int32(c.MaxConns), //nolint:gosec // bounded by Validate
		ConnectTimeout:   time.Duration(c.ConnectTimeoutSec) * time.Second,
		AcquireTimeout:   time.Duration(c.AcquireTimeoutSec) * time.Second,
		StatementTimeout: time.Duration(c.StatementTimeoutSec) * time.Second,
	}
}

func indexConfig(cfg config.Config) schema.IndexConfig {
	idx := schema.DefaultIndexConfig()
	idx.HNSWMaxDimensions = cfg.Index.HNSWMaxDimensions
	idx.IVFFlatMaxDimensions = cfg.Reduction.MaxDimensions
	idx.HNSWM = cfg.Index.HNSWM
	idx.HNSWEFConstruction = cfg.Index.HNSWEFConstruct
	idx.IVFFlatLists = cfg.Index.IVFFlatLists
	return idx
}

// embeddingChecker reports provider health when the embedder supports it.
type embeddingChecker struct {
	embedder domain.Embedder
}

func (c embeddingChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := c.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}
