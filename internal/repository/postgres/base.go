package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/nutri-api/internal/repository"
	"github.com/jwalitptl/nutri-api/pkg/metrics"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"

	linkedUIDConstraint = "patients_linked_uid_key"
)

// Store implements repository.Store on PostgreSQL. Outside a transaction
// queries run directly against the pool.
type Store struct {
	queries
	db         *sqlx.DB
	maxRetries int
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

func NewStore(db *sqlx.DB, maxRetries int, m *metrics.Metrics, logger zerolog.Logger) *Store {
	return &Store{
		queries:    queries{ext: db},
		db:         db,
		maxRetries: maxRetries,
		metrics:    m,
		logger:     logger,
	}
}

// RunInTx executes fn at SERIALIZABLE isolation and retries it when the
// database reports a serialization failure.
func (s *Store) RunInTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil || !isRetryable(err) || attempt >= s.maxRetries {
			return err
		}
		s.metrics.TxRetry("postgres")
		s.logger.Debug().Err(err).Int("attempt", attempt+1).Msg("retrying serializable transaction")
	}
}

func (s *Store) runOnce(ctx context.Context, fn func(tx repository.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&queries{ext: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == codeSerializationFailure || pqErr.Code == codeDeadlockDetected
}

// mapWriteError translates constraint violations into repository errors.
func mapWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == codeUniqueViolation && pqErr.Constraint == linkedUIDConstraint {
		return repository.ErrDuplicateLink
	}
	return err
}

// queries runs statements against either the pool or an open transaction.
type queries struct {
	ext sqlx.ExtContext
}

func get[T any](ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) (*T, error) {
	var dest T
	if err := sqlx.GetContext(ctx, q, &dest, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &dest, nil
}

func listLimit(limit int) int {
	if limit <= 0 || limit > repository.MaxListResults {
		return repository.MaxListResults
	}
	return limit
}
