// Package postgres is the sqlx backed ledger driver. Row locks taken with
// SELECT ... FOR UPDATE serialize bid admission and settlement per item.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jensholdgaard/auctiond/internal/auctionerrors"
	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/config"
	"github.com/jensholdgaard/auctiond/internal/event"
	"github.com/jensholdgaard/auctiond/internal/ledger"
)

func init() {
	ledger.Register("postgres", func(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (ledger.Store, error) {
		if cfg.Migrate {
			if err := Migrate(cfg.DSN()); err != nil {
				return nil, err
			}
		}
		db, err := Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return New(db, clk), nil
	})
}

// Connect opens and verifies a Postgres connection with OTEL instrumentation.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := cfg.DSN()

	// Register the OTel-instrumented driver wrapping lib/pq.
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("registering otel driver: %w", err)
	}

	// sqlx picks bindvars by driver name; the wrapped name is unknown to it.
	sqlx.BindDriver(driverName, sqlx.DOLLAR)

	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}

// Store implements ledger.Store on Postgres.
type Store struct {
	db    *sqlx.DB
	clock clock.Clock
}

// New wraps an open connection pool.
func New(db *sqlx.DB, clk clock.Clock) *Store {
	return &Store{db: db, clock: clk}
}

// Atomic runs fn in a read-write transaction.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	return s.run(ctx, nil, fn)
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	return s.run(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}

func (s *Store) run(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context, tx ledger.Tx) error) error {
	t, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = t.Rollback() }()

	if err := fn(ctx, &tx{q: t, clock: s.clock}); err != nil {
		return err
	}

	if err := t.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// tx binds the repositories to one database transaction.
type tx struct {
	q     sqlx.ExtContext
	clock clock.Clock
}

func (t *tx) Users() ledger.UserRepository { return &UserRepo{q: t.q, clock: t.clock} }
func (t *tx) Accounts() ledger.AccountRepository { return &AccountRepo{q: t.q, clock: t.clock} }
func (t *tx) Categories() ledger.CategoryRepository { return &CategoryRepo{q: t.q} }
func (t *tx) Items() ledger.ItemRepository { return &ItemRepo{q: t.q, clock: t.clock} }
func (t *tx) Auctions() ledger.AuctionRepository { return &AuctionRepo{q: t.q} }
func (t *tx) Bids() ledger.BidRepository { return &BidRepo{q: t.q} }
func (t *tx) Events() event.Store { return &EventStore{q: t.q} }

// noRows maps sql.ErrNoRows to sentinel and wraps anything else with msg.
func noRows(err error, sentinel error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// settledOrMissing interprets a conditional update. Zero affected rows mean
// either no row with id exists (missing) or the row was already changed.
func settledOrMissing(ctx context.Context, q sqlx.QueryerContext, result sql.Result, table string, missing error, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}
	ok, err := exists(ctx, q, table, "id", id)
	if err != nil {
		return err
	}
	if !ok {
		return missing
	}
	return auctionerrors.ErrAlreadySettled
}

// exists reports whether a row with the given id is present in table.
func exists(ctx context.Context, q sqlx.QueryerContext, table, column string, id int64) (bool, error) {
	var ok bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1)`, table, column)
	if err := sqlx.GetContext(ctx, q, &ok, query, id); err != nil {
		return false, fmt.Errorf("checking %s existence: %w", table, err)
	}
	return ok, nil
}
