package vecstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecstore/internal/config"
)

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	cfg      config.Config
	embedder Embedder
	logger   *zap.Logger
	registry prometheus.Registerer
	timeout  time.Duration
}

// WithDSN sets the PostgreSQL connection string.
func WithDSN(dsn string) Option {
	return func(c *clientConfig) { c.cfg.Database.DSN = dsn }
}

// WithPostgres sets discrete PostgreSQL connection parameters.
func WithPostgres(host string, port int, database, user, password string) Option {
	return func(c *clientConfig) {
		c.cfg.Database.Host = host
		c.cfg.Database.Port = port
		c.cfg.Database.Name = database
		c.cfg.Database.User = user
		c.cfg.Database.Password = password
	}
}

// WithPoolSize bounds the connection pool.
func WithPoolSize(minConns, maxConns int) Option {
	return func(c *clientConfig) {
		c.cfg.Database.MinConns = minConns
		c.cfg.Database.MaxConns = maxConns
	}
}

// WithOpenAI configures the OpenAI-compatible embedding provider.
// An empty baseURL uses the OpenAI API.
func WithOpenAI(apiKey, model, baseURL string) Option {
	return func(c *clientConfig) {
		c.cfg.Embedding.APIKey = apiKey
		c.cfg.Embedding.Model = model
		c.cfg.Embedding.BaseURL = baseURL
	}
}

// WithEmbeddingTimeout bounds each provider request. Sub-second values round up to 1s.
func WithEmbeddingTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.cfg.Embedding.TimeoutSec = int((d + time.Second - 1) / time.Second)
	}
}

// WithEmbeddingDimensions asks the provider for shorter vectors (0 = model default).
func WithEmbeddingDimensions(n int) Option {
	return func(c *clientConfig) { c.cfg.Embedding.Dimensions = n }
}

// WithInstructions sets the prefixes prepended to stored texts and to search queries.
func WithInstructions(document, query string) Option {
	return func(c *clientConfig) {
		c.cfg.Embedding.DocumentInstruction = document
		c.cfg.Embedding.QueryInstruction = query
	}
}

// WithEmbedder replaces the OpenAI-compatible provider.
func WithEmbedder(e Embedder) Option {
	return func(c *clientConfig) { c.embedder = e }
}

// WithBatching sets the provider batch size and the pause between batches.
func WithBatching(size int, delay time.Duration) Option {
	return func(c *clientConfig) {
		c.cfg.Ingestion.BatchSize = size
		c.cfg.Ingestion.BatchDelayMS = int(delay / time.Millisecond)
		if delay == 0 {
			c.cfg.Ingestion.BatchDelayMS = -1
		}
	}
}

// WithRetry sets the rate-limit retry schedule.
func WithRetry(maxAttempts int, baseDelay time.Duration, multiplier float64) Option {
	return func(c *clientConfig) {
		c.cfg.Ingestion.MaxAttempts = maxAttempts
		c.cfg.Ingestion.BaseDelayMS = int(baseDelay / time.Millisecond)
		c.cfg.Ingestion.Multiplier = multiplier
	}
}

// WithMaxDimensions sets the width vectors are reduced to before storage.
func WithMaxDimensions(n int) Option {
	return func(c *clientConfig) { c.cfg.Reduction.MaxDimensions = n }
}

// WithReductionPolicy sets what happens when a first batch is too small to fit PCA:
// "lock" (default) or "bootstrap".
func WithReductionPolicy(policy string) Option {
	return func(c *clientConfig) { c.cfg.Reduction.Policy = policy }
}

// WithLegacyTenant sets the tenant id pre-tenancy rows were written under
// and whether they move to the first scope that touches them.
func WithLegacyTenant(id string, autoMigrate bool) Option {
	return func(c *clientConfig) {
		c.cfg.Tenancy.LegacyTenantID = id
		c.cfg.Tenancy.AutoMigrateLegacy = &autoMigrate
	}
}

// WithCache enables the Redis/Valkey embedding cache.
func WithCache(addrs []string, password string, ttl time.Duration) Option {
	return func(c *clientConfig) {
		c.cfg.Cache.Enabled = true
		c.cfg.Cache.Addrs = addrs
		c.cfg.Cache.Password = password
		c.cfg.Cache.TTLHours = int(ttl / time.Hour)
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}

// WithStartTimeout bounds database readiness and schema bootstrap in New.
func WithStartTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.timeout = d }
}

// WithMetrics registers client operation metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *clientConfig) { c.registry = reg }
}
