// internal/inventory/postgres/store.go

// Package postgres is the PostgreSQL-backed inventory.Store.
//
// Each unit of work runs in a READ COMMITTED transaction. Rows read through
// Title, Unit and Slot are locked with SELECT ... FOR UPDATE, so concurrent
// transitions on the same slot, unit or title serialize. Serialization
// failures, deadlocks and dropped connections are retried with exponential
// backoff; everything else is returned to the caller unchanged.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"hdlend/internal/inventory"
)

const defaultMaxTries = 5

// Store implements inventory.Store on top of a sqlx connection pool.
type Store struct {
	db       *sqlx.DB
	tracer   trace.Tracer
	logger   *slog.Logger
	maxTries uint
}

// Option configures a Store.
type Option func(*Store)

// WithMaxTries bounds the attempts made for a transaction that keeps failing
// with transient errors.
func WithMaxTries(n uint) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxTries = n
		}
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(db, opts...), nil
}

// New wraps an existing pool.
func New(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{
		db:       db,
		tracer:   otel.Tracer("hdlend/inventory/postgres"),
		logger:   slog.Default(),
		maxTries: defaultMaxTries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying pool.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

// WithTx runs fn in a transaction, retrying the whole unit of work when it
// fails with a transient error.
func (s *Store) WithTx(ctx context.Context, fn func(inventory.Tx) error) error {
	ctx, span := s.tracer.Start(ctx, "postgres.tx")
	defer span.End()

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := s.runTx(ctx, fn)
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, inventory.ErrTransient):
			s.logger.WarnContext(ctx, "transient store failure, retrying",
				"attempt", attempt,
				"error", err,
			)
			span.AddEvent("tx.retry", trace.WithAttributes(attribute.Int("attempt", attempt)))
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	},
		backoff.WithBackOff(newBackOff()),
		backoff.WithMaxTries(s.maxTries),
	)

	span.SetAttributes(
		attribute.Int("tx.attempts", attempt),
		attribute.Bool("tx.committed", err == nil),
	)
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(inventory.Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", mapError(err))
	}
	defer sqlTx.Rollback()

	if err := fn(&tx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", mapError(err))
	}
	return nil
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	return b
}

// mapError translates driver errors into the inventory store sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", inventory.ErrNoRecord, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			return fmt.Errorf("%w: %s", inventory.ErrDuplicate, pqErr.Constraint)
		case pqErr.Code == "40001", pqErr.Code == "40P01", pqErr.Code == "57P01":
			return fmt.Errorf("%w: %w", inventory.ErrTransient, err)
		case pqErr.Code.Class() == "08":
			return fmt.Errorf("%w: %w", inventory.ErrTransient, err)
		}
		return err
	}

	if errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %w", inventory.ErrTransient, err)
	}
	return err
}
