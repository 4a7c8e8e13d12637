// Package postgres owns the process-wide PostgreSQL connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecstore/internal/db"
	"github.com/kailas-cloud/vecstore/internal/domain"
)

var (
	_ db.Pinger = (*Manager)(nil)
	_ db.Waiter = (*Manager)(nil)
)

// TxFunc runs inside one transaction on one pooled connection.
type TxFunc func(ctx context.Context, tx pgx.Tx) error

// Manager lazily creates the pool on first use. The creation outcome, pool or
// error, is kept for the life of the Manager; a failed pool is never retried.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	once sync.Once
	pool *pgxpool.Pool
	err  error

	closeOnce sync.Once
}

// NewManager reads connection parameters once. No connection is opened here.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, logger: logger}
}

// Pool returns the shared pool, creating it on the first call.
func (m *Manager) Pool(ctx context.Context) (*pgxpool.Pool, error) {
	m.once.Do(func() {
		m.pool, m.err = m.open(ctx)
		if m.err != nil {
			m.logger.Error("Failed to create connection pool",
				zap.String("dsn", SanitizeDSN(m.cfg.ConnString())),
				zap.Error(m.err),
			)
		}
	})
	return m.pool, m.err
}

func (m *Manager) open(ctx context.Context) (*pgxpool.Pool, error) {
	pcfg, err := m.poolConfig()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	pool, err := pgxpool.NewWithConfig(context.WithoutCancel(ctx), pcfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w: %w", domain.ErrConfiguration, &db.Error{Op: db.OpConnect, Err: err})
	}

	pingCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to %s: %w: %w",
			SanitizeDSN(m.cfg.ConnString()), domain.ErrConfiguration, &db.Error{Op: db.OpConnect, Err: err})
	}

	m.logger.Info("Connection pool created",
		zap.String("dsn", SanitizeDSN(m.cfg.ConnString())),
		zap.Int32("min_conns", pcfg.MinConns),
		zap.Int32("max_conns", pcfg.MaxConns),
		zap.Duration("took", time.Since(start)),
	)
	return pool, nil
}

func (m *Manager) poolConfig() (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(m.cfg.ConnString())
	if err != nil {
		// ParseConfig errors can echo the connection string; report the sanitized form only.
		return nil, fmt.Errorf("parse connection string %s: %w",
			SanitizeDSN(m.cfg.ConnString()), domain.ErrConfiguration)
	}
	if m.cfg.MinConns > 0 {
		pcfg.MinConns = m.cfg.MinConns
	}
	if m.cfg.MaxConns > 0 {
		pcfg.MaxConns = m.cfg.MaxConns
	}
	if m.cfg.ConnectTimeout > 0 {
		pcfg.ConnConfig.ConnectTimeout = m.cfg.ConnectTimeout
	}
	if m.cfg.StatementTimeout > 0 {
		pcfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(m.cfg.StatementTimeout.Milliseconds(), 10)
	}
	pcfg.ConnConfig.RuntimeParams["application_name"] = "vecstore"
	pcfg.AfterConnect = m.afterConnect
	return pcfg, nil
}

// afterConnect registers the vector type for binary transfer. Before the
// extension exists the type is missing; bootstrap resets the pool once it is created.
func (m *Manager) afterConnect(ctx context.Context, conn *pgx.Conn) error {
	if err := pgxvec.RegisterTypes(ctx, conn); err != nil {
		m.logger.Debug("vector type not registered on connection", zap.Error(err))
	}
	return nil
}

// ResetConnections drops idle connections so new ones pick up freshly created types.
func (m *Manager) ResetConnections() {
	if m.pool != nil {
		m.pool.Reset()
	}
}

// Acquire takes a connection, waiting at most AcquireTimeout for a free slot.
func (m *Manager) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	pool, err := m.Pool(ctx)
	if err != nil {
		return nil, err
	}
	if m.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.AcquireTimeout)
		defer cancel()
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, &db.Error{Op: db.OpAcquire, Err: err}
	}
	return conn, nil
}

// Release returns a connection to the pool. Nil is ignored.
func (m *Manager) Release(conn *pgxpool.Conn) {
	if conn != nil {
		conn.Release()
	}
}

// WithConnection runs fn in a transaction on one pooled connection. The
// transaction commits when fn returns nil and rolls back on error or panic;
// the connection is released on every path.
func (m *Manager) WithConnection(ctx context.Context, fn TxFunc) error {
	conn, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	defer m.Release(conn)

	err = pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
		return fn(ctx, tx)
	})
	if err != nil {
		var dbErr *db.Error
		if errors.As(err, &dbErr) || errors.Is(err, domain.ErrRecordNotFound) {
			return err
		}
		return fmt.Errorf("transaction: %w", err)
	}
	return nil
}

// Ping checks connectivity through the pool.
func (m *Manager) Ping(ctx context.Context) error {
	pool, err := m.Pool(ctx)
	if err != nil {
		return err
	}
	if err := pool.Ping(ctx); err != nil {
		return &db.Error{Op: db.OpConnect, Err: err}
	}
	return nil
}

// WaitForReady polls the server with single connections until one succeeds or
// the timeout expires. It does not touch the shared pool.
func (m *Manager) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ccfg, err := pgx.ParseConfig(m.cfg.ConnString())
	if err != nil {
		return fmt.Errorf("parse connection string %s: %w", SanitizeDSN(m.cfg.ConnString()), domain.ErrConfiguration)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var lastErr error
	for {
		conn, err := pgx.ConnectConfig(ctx, ccfg)
		if err == nil {
			_ = conn.Close(ctx)
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for database (last error: %v): %w", lastErr, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close shuts the pool down. Safe to call more than once and before first use.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		// Mark the pool as created so a late caller cannot resurrect it.
		m.once.Do(func() { m.err = fmt.Errorf("pool closed: %w", domain.ErrConfiguration) })
		if m.pool != nil {
			m.pool.Close()
			m.logger.Info("Connection pool closed")
		}
	})
}
