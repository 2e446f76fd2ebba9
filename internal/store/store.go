// Package store is the durable state of the quiz engine. Writes are serialized
// through a single writer: one transaction at a time, each bounded by TxTimeout.
// Reads run concurrently and only observe committed data.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver "pgx"
	"github.com/mattn/go-sqlite3"

	"github.com/victornm/discernment/internal/errors"
	"github.com/victornm/discernment/internal/telemetry"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"

	defaultTxTimeout = 5 * time.Second
	defaultDSN       = "file:data/discernment.db?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
)

type Config struct {
	Driver    string
	DSN       string
	TxTimeout time.Duration
}

type Store struct {
	conn

	db        *sql.DB
	writer    chan struct{}
	txTimeout time.Duration
	now       func() time.Time
}

// Open connects to the database and applies the schema.
func Open(ctx context.Context, c Config) (*Store, error) {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if c.DSN == "" && c.Driver == DriverSQLite {
		c.DSN = defaultDSN
	}
	if c.TxTimeout <= 0 {
		c.TxTimeout = defaultTxTimeout
	}

	switch c.Driver {
	case DriverSQLite:
		if err := ensureDir(c.DSN); err != nil {
			return nil, err
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", c.Driver)
	}

	db, err := sql.Open(c.Driver, c.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", c.Driver, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", c.Driver, err)
	}

	s := &Store{
		conn:      conn{q: db, driver: c.Driver},
		db:        db,
		writer:    make(chan struct{}, 1),
		txTimeout: c.TxTimeout,
		now:       func() time.Time { return time.Now().UTC() },
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	slog.InfoContext(ctx, "store: opened", "driver", c.Driver)
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.StorageUnavailable(err)
	}
	return nil
}

// WithTx runs fn inside one write transaction while holding the writer. The
// transaction commits when fn returns nil and rolls back otherwise. The writer
// is released on every path.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	start := time.Now()
	defer func() {
		result := "commit"
		if err != nil {
			result = "rollback"
		}
		telemetry.StoreTx.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return errors.StorageUnavailable(fmt.Errorf("acquire writer: %w", ctx.Err()))
	}
	defer func() { <-s.writer }()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageUnavailable(fmt.Errorf("begin transaction: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}

		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !stderrors.Is(rbErr, sql.ErrTxDone) {
				err = stderrors.Join(err, rbErr)
			}
		}
	}()

	if err = fn(&Tx{conn: conn{q: sqlTx, driver: s.driver}, now: s.now()}); err != nil {
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		return errors.StorageUnavailable(fmt.Errorf("commit: %w", err))
	}

	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn carries the queries shared by Store (reads) and Tx (reads inside a write).
type conn struct {
	q      querier
	driver string
}

// rebind turns $N placeholders into ?N for SQLite.
func (c conn) rebind(query string) string {
	if c.driver == DriverSQLite {
		return strings.ReplaceAll(query, "$", "?")
	}
	return query
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := c.q.ExecContext(ctx, c.rebind(query), args...)
	return res, classify(err)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := c.q.QueryContext(ctx, c.rebind(query), args...)
	return rows, classify(err)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.rebind(query), args...)
}

// classify maps driver failures that a retry of the whole operation may fix onto
// StorageUnavailable. Anything else is internal.
func classify(err error) error {
	if err == nil || stderrors.Is(err, sql.ErrNoRows) {
		return err
	}

	if errors.IsCode(err, errors.CodeUnavailable) {
		return err
	}

	if stderrors.Is(err, context.DeadlineExceeded) ||
		stderrors.Is(err, context.Canceled) ||
		stderrors.Is(err, driver.ErrBadConn) ||
		stderrors.Is(err, sql.ErrConnDone) {
		return errors.StorageUnavailable(err)
	}

	var liteErr sqlite3.Error
	if stderrors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr, sqlite3.ErrFull, sqlite3.ErrCantOpen:
			return errors.StorageUnavailable(err)
		}
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), // connection exception
			strings.HasPrefix(pgErr.Code, "40"), // transaction rollback
			strings.HasPrefix(pgErr.Code, "53"), // insufficient resources
			strings.HasPrefix(pgErr.Code, "57P"):
			return errors.StorageUnavailable(err)
		}
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return errors.StorageUnavailable(err)
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return errors.StorageUnavailable(err)
	}

	return errors.Internal(err)
}

func ensureDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: create database directory: %w", err)
	}
	return nil
}
