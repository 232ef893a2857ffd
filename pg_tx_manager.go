package planq

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgTxManager runs callbacks inside pgx transactions. The transaction is
// carried in ctx, so store methods called from the callback pick it up via
// TxFromContext and join it transparently.
type PgTxManager struct {
	pool *pgxpool.Pool
}

func NewPgTxManager(pool *pgxpool.Pool) *PgTxManager {
	return &PgTxManager{pool: pool}
}

func (m *PgTxManager) ReadCommitted(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.withTx(ctx, pgx.ReadCommitted, fn)
}

func (m *PgTxManager) RepeatableRead(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.withTx(ctx, pgx.RepeatableRead, fn)
}

func (m *PgTxManager) withTx(
	ctx context.Context,
	isoLevel pgx.TxIsoLevel,
	fn func(ctx context.Context) error,
) error {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: isoLevel})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(contextWithTx(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback tx: %v (original: %w)", rbErr, err)
		}

		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}
