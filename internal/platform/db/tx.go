package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/credinvoice/credinvoice/internal/shared"
)

// WithTx executes a function within a transaction using the RepeatableRead
// isolation level. Engine writes additionally guard with version columns, so
// a losing writer surfaces as zero rows affected rather than a silent
// overwrite.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return conflictOr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return conflictOr(fmt.Errorf("platform/db: commit tx: %w", err))
	}

	return nil
}

// conflictOr maps SQLSTATE 40001 serialization failures to the conflict
// error callers already retry on.
func conflictOr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "40001" {
		return fmt.Errorf("platform/db: serialization failure: %w", shared.ErrConcurrentModification)
	}
	return err
}
