// Package reduction persists per-collection reduction models in PostgreSQL.
package reduction

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kailas-cloud/vecstore/internal/db"
	"github.com/kailas-cloud/vecstore/internal/db/postgres"
	"github.com/kailas-cloud/vecstore/internal/domain"
	domred "github.com/kailas-cloud/vecstore/internal/domain/reduction"
)

// Database runs work in a pooled transaction.
type Database interface {
	WithConnection(ctx context.Context, fn postgres.TxFunc) error
}

// Repository stores one write-once model per (tenant, collection).
type Repository struct {
	db Database
}

// New creates a model repository.
func New(database Database) *Repository {
	return &Repository{db: database}
}

const selectSQL = `SELECT mode, source_dim, target_dim, samples, mean, components, created_at
FROM reduction_models
WHERE tenant_id = $1 AND collection = $2`

const insertSQL = `INSERT INTO reduction_models
	(tenant_id, collection, mode, source_dim, target_dim, samples, mean, components, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (tenant_id, collection) DO NOTHING`

// Load returns the stored model or domain.ErrReductionModelMissing.
func (r *Repository) Load(ctx context.Context, tenant, collection string) (*domred.Model, error) {
	var model *domred.Model
	err := r.db.WithConnection(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		model, err = load(ctx, tx, tenant, collection)
		return err
	})
	if err != nil {
		return nil, err
	}
	return model, nil
}

// Save stores m unless a model already exists. It returns the model now on
// record and whether it is m; a concurrent writer's model wins over m.
func (r *Repository) Save(ctx context.Context, tenant, collection string, m *domred.Model) (*domred.Model, bool, error) {
	enc, err := m.Encode()
	if err != nil {
		return nil, false, fmt.Errorf("save reduction model: %w", err)
	}

	var (
		stored   *domred.Model
		inserted bool
	)
	err = r.db.WithConnection(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, insertSQL,
			tenant, collection, string(enc.Mode), enc.SourceDim, enc.TargetDim, enc.Samples,
			enc.Mean, enc.Components, enc.CreatedAt)
		if err != nil {
			return &db.Error{Op: db.OpExec, Err: err}
		}
		if tag.RowsAffected() == 1 {
			stored, inserted = m, true
			return nil
		}
		stored, err = load(ctx, tx, tenant, collection)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return stored, inserted, nil
}

func load(ctx context.Context, tx pgx.Tx, tenant, collection string) (*domred.Model, error) {
	var (
		enc  domred.Encoded
		mode string
	)
	err := tx.QueryRow(ctx, selectSQL, tenant, collection).Scan(
		&mode, &enc.SourceDim, &enc.TargetDim, &enc.Samples, &enc.Mean, &enc.Components, &enc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", tenant, collection, domain.ErrReductionModelMissing)
	}
	if err != nil {
		return nil, &db.Error{Op: db.OpQuery, Err: err}
	}
	enc.Mode = domred.Mode(mode)
	model, err := domred.Decode(enc)
	if err != nil {
		return nil, fmt.Errorf("reduction model %s/%s: %w", tenant, collection, err)
	}
	return model, nil
}
