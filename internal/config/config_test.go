package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Config{
		HTTP:     HTTPConfig{Port: 8080},
		Database: DatabaseConfig{DSN: "postgres://vecstore@localhost:5432/vecstore"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := validConfig()

	if cfg.Database.MinConns != 1 || cfg.Database.MaxConns != 10 {
		t.Errorf("pool bounds = %d/%d, want 1/10", cfg.Database.MinConns, cfg.Database.MaxConns)
	}
	if cfg.Database.ConnectTimeoutSec != 30 {
		t.Errorf("connect timeout = %d, want 30", cfg.Database.ConnectTimeoutSec)
	}
	if cfg.Ingestion.BatchSize != 5 || cfg.Ingestion.BatchDelayMS != 1000 {
		t.Errorf("batching = %d/%dms, want 5/1000ms", cfg.Ingestion.BatchSize, cfg.Ingestion.BatchDelayMS)
	}
	if cfg.Ingestion.MaxAttempts != 7 || cfg.Ingestion.BaseDelayMS != 5000 || cfg.Ingestion.Multiplier != 2 {
		t.Errorf("retry = %d/%dms/x%v", cfg.Ingestion.MaxAttempts, cfg.Ingestion.BaseDelayMS, cfg.Ingestion.Multiplier)
	}
	if cfg.Reduction.MaxDimensions != 2000 || cfg.Reduction.Policy != PolicyLock {
		t.Errorf("reduction = %d/%s", cfg.Reduction.MaxDimensions, cfg.Reduction.Policy)
	}
	if cfg.Index.HNSWM != 16 || cfg.Index.HNSWEFConstruct != 64 || cfg.Index.IVFFlatLists != 100 {
		t.Errorf("index = m%d ef%d lists%d", cfg.Index.HNSWM, cfg.Index.HNSWEFConstruct, cfg.Index.IVFFlatLists)
	}
	if cfg.Tenancy.LegacyTenantID != "default_user" || !cfg.Tenancy.AutoMigrate() {
		t.Errorf("tenancy = %q auto=%v", cfg.Tenancy.LegacyTenantID, cfg.Tenancy.AutoMigrate())
	}
}

func TestApplyDefaults_NegativeBatchDelayDisablesPause(t *testing.T) {
	cfg := Config{Ingestion: IngestionConfig{BatchDelayMS: -1}}
	cfg.ApplyDefaults()
	if cfg.Ingestion.BatchDelay() != 0 {
		t.Errorf("batch delay = %v, want 0", cfg.Ingestion.BatchDelay())
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_MissingDatabase(t *testing.T) {
	cfg := validConfig()
	cfg.Database.DSN = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for missing database settings")
	}

	cfg.Database.Host = "localhost"
	cfg.Database.Name = "vecstore"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("discrete settings should be enough: %v", err)
	}
}

func TestValidate_InvalidPolicy(t *testing.T) {
	cfg := validConfig()
	cfg.Reduction.Policy = "eager"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid policy")
	}
	expected := `reduction.policy must be "lock" or "bootstrap", got "eager"`
	if err.Error() != expected {
		t.Errorf("unexpected error message:\ngot:  %q\nwant: %q", err.Error(), expected)
	}
}

func TestValidate_DimensionCeiling(t *testing.T) {
	cfg := validConfig()
	cfg.Reduction.MaxDimensions = 4096

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error above the index limit")
	}
}

func TestValidate_PoolBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Database.MinConns = 20

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when min_conns exceeds max_conns")
	}
}

func TestValidate_CacheNeedsAddrs(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.Enabled = true

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for enabled cache without addrs")
	}
}

func TestParse_ExpandsEnvVars(t *testing.T) {
	t.Setenv("VECSTORE_TEST_DSN", "postgres://u:p@db:5432/app")

	cfg, err := Parse([]byte(`
http:
  port: ${VECSTORE_TEST_PORT:-9090}
database:
  dsn: ${VECSTORE_TEST_DSN}
tenancy:
  auto_migrate_legacy: false
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("port = %d, want default 9090", cfg.HTTP.Port)
	}
	if cfg.Database.DSN != "postgres://u:p@db:5432/app" {
		t.Errorf("dsn = %q", cfg.Database.DSN)
	}
	if cfg.Tenancy.AutoMigrate() {
		t.Error("explicit false must disable auto migration")
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("http: [1, 2"))
	if err == nil || !strings.Contains(err.Error(), "failed to parse config") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestValidateStore_IgnoresHTTP(t *testing.T) {
	cfg := Config{Database: DatabaseConfig{DSN: "postgres://localhost/vecstore"}}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate should require http.port")
	}
	if err := cfg.ValidateStore(); err != nil {
		t.Fatalf("ValidateStore: %v", err)
	}
}

func TestApplyDefaults_HNSWCeilingFollowsReduction(t *testing.T) {
	cfg := Config{Reduction: ReductionConfig{MaxDimensions: 512}}
	cfg.ApplyDefaults()

	if cfg.Index.HNSWMaxDimensions != 512 {
		t.Errorf("hnsw max = %d, want 512", cfg.Index.HNSWMaxDimensions)
	}
}

func TestApplyDefaults_EmbeddingTimeout(t *testing.T) {
	cfg := validConfig()
	if cfg.Embedding.Timeout() != 60*time.Second {
		t.Errorf("embedding timeout = %v, want 60s", cfg.Embedding.Timeout())
	}
}

func TestApplyDefaults_ModelCacheSize(t *testing.T) {
	cfg := validConfig()
	if cfg.Reduction.ModelCacheSize != 16 {
		t.Errorf("model cache size = %d, want 16", cfg.Reduction.ModelCacheSize)
	}
}

func TestApplyDefaults_SearchScanWidth(t *testing.T) {
	cfg := validConfig()
	if cfg.Index.HNSWEFSearch != 100 {
		t.Errorf("hnsw ef_search = %d, want 100", cfg.Index.HNSWEFSearch)
	}
	if cfg.Index.IVFFlatProbes != cfg.Index.IVFFlatLists {
		t.Errorf("ivfflat probes = %d, want all %d lists", cfg.Index.IVFFlatProbes, cfg.Index.IVFFlatLists)
	}
}

func TestValidate_SearchScanWidth(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"ef_search above pgvector max", func(c *Config) { c.Index.HNSWEFSearch = 1001 }},
		{"probes above lists", func(c *Config) { c.Index.IVFFlatProbes = c.Index.IVFFlatLists + 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
