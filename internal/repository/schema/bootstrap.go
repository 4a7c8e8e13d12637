// Package schema prepares the PostgreSQL schema and reports readiness.
package schema

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecstore/internal/db"
	"github.com/kailas-cloud/vecstore/internal/db/postgres"
	"github.com/kailas-cloud/vecstore/internal/domain"
)

// Database is the subset of the connection manager bootstrap needs.
type Database interface {
	WithConnection(ctx context.Context, fn postgres.TxFunc) error
	ResetConnections()
}

// Readiness describes the bootstrapped schema.
type Readiness struct {
	Ready          bool
	RawDimension   int
	Dimension      int
	IndexStrategy  IndexStrategy
	Migrations     []int
	BootstrappedAt time.Time
}

// Manager runs the bootstrap phase once and answers readiness queries after.
type Manager struct {
	db       Database
	embedder domain.Embedder
	ceiling  int
	index    IndexConfig
	logger   *zap.Logger

	mu        sync.RWMutex
	readiness Readiness
}

// NewManager creates a schema manager. ceiling caps the stored vector width.
func NewManager(database Database, embedder domain.Embedder, ceiling int, index IndexConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{db: database, embedder: embedder, ceiling: ceiling, index: index, logger: logger}
}

// Ready reports whether Bootstrap completed.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readiness.Ready
}

// Dimension returns the stored embedding width, or 0 before Bootstrap.
func (m *Manager) Dimension() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readiness.Dimension
}

// Readiness returns a snapshot of the bootstrap outcome.
func (m *Manager) Readiness() Readiness {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := m.readiness
	r.Migrations = append([]int(nil), m.readiness.Migrations...)
	return r
}

// Bootstrap probes the embedding width, installs pgvector, applies pending
// migrations and checks the stored column width. Safe to run from several
// processes at once; migrations serialize on an advisory lock.
func (m *Manager) Bootstrap(ctx context.Context) (Readiness, error) {
	start := time.Now()

	raw, err := domain.ProbeDimension(ctx, m.embedder)
	if err != nil {
		return Readiness{}, fmt.Errorf("bootstrap: %w", err)
	}
	target := TargetDimension(raw, m.ceiling)
	strategy := m.index.StrategyFor(target)
	if strategy == IndexNone {
		m.logger.Warn("No vector index for this width, similarity search will scan",
			zap.Int("dimension", target))
	}

	if err := m.ensureExtension(ctx); err != nil {
		return Readiness{}, err
	}
	m.db.ResetConnections()

	applied, err := m.migrate(ctx, params{dimension: target, index: m.index})
	if err != nil {
		return Readiness{}, err
	}

	if err := m.verifyWidth(ctx, target); err != nil {
		return Readiness{}, err
	}

	r := Readiness{
		Ready:          true,
		RawDimension:   raw,
		Dimension:      target,
		IndexStrategy:  strategy,
		Migrations:     applied,
		BootstrappedAt: time.Now().UTC(),
	}
	m.mu.Lock()
	m.readiness = r
	m.mu.Unlock()

	m.logger.Info("Schema ready",
		zap.Int("raw_dimension", raw),
		zap.Int("dimension", target),
		zap.String("index", string(strategy)),
		zap.Ints("migrations", applied),
		zap.Duration("took", time.Since(start)),
	)
	return r, nil
}

// TargetDimension is the stored width for a provider width.
func TargetDimension(raw, ceiling int) int {
	if ceiling > 0 && raw > ceiling {
		return ceiling
	}
	return raw
}

func (m *Manager) ensureExtension(ctx context.Context) error {
	err := m.db.WithConnection(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, ensureExtensionSQL)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrConfiguration) {
			return fmt.Errorf("ensure vector extension: %w", err)
		}
		return fmt.Errorf("ensure vector extension: %w: %w", domain.ErrConfiguration, err)
	}
	return nil
}

func (m *Manager) migrate(ctx context.Context, p params) ([]int, error) {
	err := m.db.WithConnection(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, createLedgerSQL)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create migration ledger: %w", &db.Error{Op: db.OpMigrate, Err: err})
	}

	for _, mg := range migrations {
		if err := m.apply(ctx, mg, p); err != nil {
			return nil, err
		}
	}

	var applied []int
	err = m.db.WithConnection(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, listAppliedSQL)
		if err != nil {
			return err
		}
		applied, err = pgx.CollectRows(rows, pgx.RowTo[int])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read migration ledger: %w", &db.Error{Op: db.OpMigrate, Err: err})
	}
	return applied, nil
}

// apply runs one migration and its ledger entry in a single transaction.
func (m *Manager) apply(ctx context.Context, mg migration, p params) error {
	var ran bool
	err := m.db.WithConnection(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockSQL, int64(migrationLockID)); err != nil {
			return err
		}
		var done bool
		if err := tx.QueryRow(ctx, appliedSQL, mg.version).Scan(&done); err != nil {
			return err
		}
		if done {
			return nil
		}
		for _, stmt := range mg.stmts(p) {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, recordAppliedSQL, mg.version, mg.name); err != nil {
			return err
		}
		ran = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("migration %d %s: %w", mg.version, mg.name, &db.Error{Op: db.OpMigrate, Err: err})
	}
	if ran {
		m.logger.Info("Migration applied", zap.Int("version", mg.version), zap.String("name", mg.name))
	}
	return nil
}

func (m *Manager) verifyWidth(ctx context.Context, target int) error {
	var width int32
	err := m.db.WithConnection(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctx, columnWidthSQL).Scan(&width)
	})
	if err != nil {
		return fmt.Errorf("read embedding column width: %w", &db.Error{Op: db.OpQuery, Err: err})
	}
	if err := checkWidth(int(width), target); err != nil {
		m.logger.Error("Embedding column width mismatch",
			zap.Int("column", int(width)), zap.Int("expected", target))
		return err
	}
	return nil
}

// checkWidth compares the declared column width with the target. An
// unconstrained column (typmod -1) accepts any width.
func checkWidth(column, target int) error {
	if column <= 0 || column == target {
		return nil
	}
	return fmt.Errorf("embedding column is vector(%d), embeddings are %d wide: %w",
		column, target, domain.ErrVectorDimMismatch)
}
