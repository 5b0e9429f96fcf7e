package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"

	"github.com/velstra/corecms/internal/metrics"
)

// PostgreSQL error codes that indicate a transaction lost a race with a
// concurrent one and is safe to run again from the top.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// TxRunner executes a function inside a transaction and retries the
// whole transaction from scratch when it aborts with a serialization
// failure or deadlock. Every attempt gets a fresh transaction, so the
// body must be restartable: no side effects outside the transaction.
type TxRunner struct {
	pool       *pgxpool.Pool
	maxRetries uint64
	delay      time.Duration
	logger     *slog.Logger
}

// NewTxRunner creates a new TxRunner instance. A non-positive delay is
// clamped to one millisecond.
func NewTxRunner(pool *pgxpool.Pool, maxRetries int, delay time.Duration, logger *slog.Logger) *TxRunner {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if delay <= 0 {
		delay = time.Millisecond
	}
	return &TxRunner{
		pool:       pool,
		maxRetries: uint64(maxRetries),
		delay:      delay,
		logger:     logger,
	}
}

// WithinTransaction runs fn inside a transaction, committing when fn
// returns nil and rolling back otherwise. On a retryable abort the
// transaction is restarted after a fixed delay, up to the configured
// number of retries; the last error is returned when retries run out.
func (r *TxRunner) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	attempt := 0
	backoff := retry.WithMaxRetries(r.maxRetries, retry.NewConstant(r.delay))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := r.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if IsRetryable(err) {
			metrics.AccountTransactionRetries.Inc()
			r.logger.WarnContext(ctx, "transaction aborted, retrying",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			return retry.RetryableError(err)
		}
		return err
	})
}

func (r *TxRunner) runOnce(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("database: begin transaction: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			r.logger.ErrorContext(ctx, "transaction rollback failed", slog.String("error", rbErr.Error()))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("database: commit transaction: %w", err)
	}
	return nil
}

// IsRetryable reports whether err is a transient transaction abort that
// warrants restarting the whole transaction.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}
