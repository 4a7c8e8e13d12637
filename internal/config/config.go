package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Reduction policies for collections that see fewer samples than the target width.
const (
	PolicyLock      = "lock"
	PolicyBootstrap = "bootstrap"
)

// Config holds the vecstore configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Reduction ReductionConfig `yaml:"reduction"`
	Index     IndexConfig     `yaml:"index"`
	Tenancy   TenancyConfig   `yaml:"tenancy"`
	Cache     CacheConfig     `yaml:"cache"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// TracingConfig holds OpenTelemetry export settings. Empty endpoint disables export.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
	ServiceName string  `yaml:"service_name"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds PostgreSQL connection settings.
// DSN wins over the discrete fields when set.
type DatabaseConfig struct {
	DSN                 string `yaml:"dsn"`
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	Name                string `yaml:"name"`
	User                string `yaml:"user"`
	Password            string `yaml:"password"`
	SSLMode             string `yaml:"sslmode"`
	MinConns            int    `yaml:"min_conns"`
	MaxConns            int    `yaml:"max_conns"`
	ConnectTimeoutSec   int    `yaml:"connect_timeout_sec"`
	AcquireTimeoutSec   int    `yaml:"acquire_timeout_sec"`
	StatementTimeoutSec int    `yaml:"statement_timeout_sec"`
	ReadinessTimeout    int    `yaml:"readiness_timeout_sec"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	APIKey              string `yaml:"api_key"`
	BaseURL             string `yaml:"base_url"`
	Model               string `yaml:"model"`
	Dimensions          int    `yaml:"dimensions"` // 0 = provider default
	DocumentInstruction string `yaml:"document_instruction"`
	QueryInstruction    string `yaml:"query_instruction"`
	TimeoutSec          int    `yaml:"timeout_sec"` // per provider request
}

// Timeout returns the deadline for one provider request.
func (c EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// IngestionConfig holds batching and rate-limit retry settings.
type IngestionConfig struct {
	BatchSize    int     `yaml:"batch_size"`
	BatchDelayMS int     `yaml:"batch_delay_ms"`
	MaxAttempts  int     `yaml:"max_attempts"`
	BaseDelayMS  int     `yaml:"base_delay_ms"`
	Multiplier   float64 `yaml:"multiplier"`
	MaxJitterMS  int     `yaml:"max_jitter_ms"`
}

// BatchDelay returns the pause between consecutive provider batches.
func (c IngestionConfig) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMS) * time.Millisecond
}

// BaseDelay returns the first retry delay.
func (c IngestionConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

// MaxJitter returns the upper bound of the random retry jitter.
func (c IngestionConfig) MaxJitter() time.Duration {
	return time.Duration(c.MaxJitterMS) * time.Millisecond
}

// ReductionConfig holds dimensionality reduction settings.
type ReductionConfig struct {
	MaxDimensions int    `yaml:"max_dimensions"`
	Policy        string `yaml:"policy"` // lock (default) | bootstrap
	// ModelCacheSize bounds the models held in memory per process.
	ModelCacheSize int `yaml:"model_cache_size"`
}

// IndexConfig holds vector index settings.
type IndexConfig struct {
	HNSWMaxDimensions int `yaml:"hnsw_max_dimensions"`
	HNSWM             int `yaml:"hnsw_m"`
	HNSWEFConstruct   int `yaml:"hnsw_ef_construction"`
	IVFFlatLists      int `yaml:"ivfflat_lists"`
	// Query-time scan width. ef_search is raised to k when k is larger.
	HNSWEFSearch  int `yaml:"hnsw_ef_search"`
	IVFFlatProbes int `yaml:"ivfflat_probes"`
}

// TenancyConfig holds legacy tenant migration settings.
type TenancyConfig struct {
	LegacyTenantID    string `yaml:"legacy_tenant_id"`
	AutoMigrateLegacy *bool  `yaml:"auto_migrate_legacy"`
}

// AutoMigrate reports whether legacy rows move on first use (default true).
func (t TenancyConfig) AutoMigrate() bool {
	return t.AutoMigrateLegacy == nil || *t.AutoMigrateLegacy
}

// CacheConfig holds embedding cache settings (Redis/Valkey).
type CacheConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Addrs     []string `yaml:"addrs"`
	Password  string   `yaml:"password"`
	KeyPrefix string   `yaml:"key_prefix"`
	TTLHours  int      `yaml:"ttl_hours"` // 0 = no expiry
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse expands env variables in data, decodes it, applies defaults, and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
//
//nolint:gocyclo // flat list of defaults
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		// Ingestion backs off for minutes under sustained rate limiting.
		c.HTTP.WriteTimeoutSec = 660
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}

	if c.Database.Port <= 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "prefer"
	}
	if c.Database.MinConns <= 0 {
		c.Database.MinConns = 1
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	if c.Database.ConnectTimeoutSec <= 0 {
		c.Database.ConnectTimeoutSec = 30
	}
	if c.Database.AcquireTimeoutSec <= 0 {
		c.Database.AcquireTimeoutSec = 30
	}
	if c.Database.StatementTimeoutSec <= 0 {
		c.Database.StatementTimeoutSec = 60
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}

	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-large"
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 60
	}

	if c.Ingestion.BatchSize <= 0 {
		c.Ingestion.BatchSize = 5
	}
	if c.Ingestion.BatchDelayMS < 0 {
		c.Ingestion.BatchDelayMS = 0
	} else if c.Ingestion.BatchDelayMS == 0 {
		c.Ingestion.BatchDelayMS = 1000
	}
	if c.Ingestion.MaxAttempts <= 0 {
		c.Ingestion.MaxAttempts = 7
	}
	if c.Ingestion.BaseDelayMS <= 0 {
		c.Ingestion.BaseDelayMS = 5000
	}
	if c.Ingestion.Multiplier <= 0 {
		c.Ingestion.Multiplier = 2
	}
	if c.Ingestion.MaxJitterMS <= 0 {
		c.Ingestion.MaxJitterMS = 1000
	}

	if c.Reduction.MaxDimensions <= 0 {
		c.Reduction.MaxDimensions = 2000
	}
	if c.Reduction.Policy == "" {
		c.Reduction.Policy = PolicyLock
	}
	if c.Reduction.ModelCacheSize <= 0 {
		c.Reduction.ModelCacheSize = 16
	}

	if c.Index.HNSWMaxDimensions <= 0 {
		c.Index.HNSWMaxDimensions = min(1000, c.Reduction.MaxDimensions)
	}
	if c.Index.HNSWM <= 0 {
		c.Index.HNSWM = 16
	}
	if c.Index.HNSWEFConstruct <= 0 {
		c.Index.HNSWEFConstruct = 64
	}
	if c.Index.IVFFlatLists <= 0 {
		c.Index.IVFFlatLists = 100
	}
	if c.Index.HNSWEFSearch <= 0 {
		c.Index.HNSWEFSearch = 100
	}
	// Lists trained on an empty table are arbitrary; scanning all of them keeps recall exact.
	if c.Index.IVFFlatProbes <= 0 {
		c.Index.IVFFlatProbes = c.Index.IVFFlatLists
	}

	if c.Tenancy.LegacyTenantID == "" {
		c.Tenancy.LegacyTenantID = "default_user"
	}

	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = "vecstore:emb:"
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "vecstore"
	}
	if c.Tracing.SampleRatio <= 0 {
		c.Tracing.SampleRatio = 1
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	return c.ValidateStore()
}

// ValidateStore checks everything except the HTTP section.
// Embedded clients run without an HTTP server.
func (c *Config) ValidateStore() error {
	if c.Database.DSN == "" && (c.Database.Host == "" || c.Database.Name == "") {
		return fmt.Errorf("database.dsn or database.host and database.name are required")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns (%d) exceeds database.max_conns (%d)",
			c.Database.MinConns, c.Database.MaxConns)
	}
	switch c.Reduction.Policy {
	case PolicyLock, PolicyBootstrap:
		// ok
	default:
		return fmt.Errorf("reduction.policy must be %q or %q, got %q",
			PolicyLock, PolicyBootstrap, c.Reduction.Policy)
	}
	if c.Reduction.MaxDimensions > 2000 {
		return fmt.Errorf("reduction.max_dimensions must be at most 2000 (pgvector index limit), got %d",
			c.Reduction.MaxDimensions)
	}
	if c.Index.HNSWMaxDimensions > c.Reduction.MaxDimensions {
		return fmt.Errorf("index.hnsw_max_dimensions (%d) exceeds reduction.max_dimensions (%d)",
			c.Index.HNSWMaxDimensions, c.Reduction.MaxDimensions)
	}
	if c.Index.HNSWEFSearch > 1000 {
		return fmt.Errorf("index.hnsw_ef_search must be at most 1000, got %d", c.Index.HNSWEFSearch)
	}
	if c.Index.IVFFlatProbes > c.Index.IVFFlatLists {
		return fmt.Errorf("index.ivfflat_probes (%d) exceeds index.ivfflat_lists (%d)",
			c.Index.IVFFlatProbes, c.Index.IVFFlatLists)
	}
	if c.Ingestion.MaxAttempts > 20 {
		return fmt.Errorf("ingestion.max_attempts must be at most 20, got %d", c.Ingestion.MaxAttempts)
	}
	if c.Cache.Enabled && len(c.Cache.Addrs) == 0 {
		return fmt.Errorf("cache.addrs is required when cache is enabled")
	}
	if c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be in (0, 1], got %v", c.Tracing.SampleRatio)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
