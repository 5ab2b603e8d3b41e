// Package notedb provides the relational note store on SQLite or Postgres.
package notedb

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

//go:embed migrations
var migrationsFS embed.FS

// Options configures Open.
type Options struct {
	Driver       string
	DSN          string
	PingAttempts uint
	Logger       *slog.Logger
}

// DB wraps a sql.DB with note-specific operations.
type DB struct {
	conn   *sql.DB
	driver string
}

// Open connects to the store, waits for it to answer and applies migrations.
func Open(ctx context.Context, opts Options) (*DB, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PingAttempts == 0 {
		opts.PingAttempts = 1
	}

	var (
		sqlDriver string
		dsn       string
		dialect   goose.Dialect
	)
	switch opts.Driver {
	case DriverSQLite, "":
		opts.Driver = DriverSQLite
		sqlDriver = "sqlite3"
		dsn = sqliteDSN(opts.DSN)
		dialect = goose.DialectSQLite3
	case DriverPostgres:
		sqlDriver = "pgx"
		dsn = opts.DSN
		dialect = goose.DialectPostgres
	default:
		return nil, fmt.Errorf("notedb: unsupported driver %q", opts.Driver)
	}

	conn, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("notedb: open db: %w", err)
	}

	if err := retry.Do(
		func() error { return conn.PingContext(ctx) },
		retry.Context(ctx),
		retry.Delay(300*time.Millisecond),
		retry.Attempts(opts.PingAttempts),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			opts.Logger.Warn("failed ping to database",
				slog.Uint64("attempt", uint64(attempt)),
				slog.String("error", err.Error()))
		}),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("notedb: ping: %w", err)
	}

	if err := migrate(ctx, conn, dialect, opts.Driver); err != nil {
		conn.Close()
		return nil, err
	}

	return &DB{conn: conn, driver: opts.Driver}, nil
}

const sqliteParams = "_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// sqliteDSN appends the connection pragmas, keeping any query string the
// caller already supplied.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + sqliteParams
	}
	return dsn + "?" + sqliteParams
}

func migrate(ctx context.Context, conn *sql.DB, dialect goose.Dialect, driver string) error {
	fsys, err := fs.Sub(migrationsFS, "migrations/"+driver)
	if err != nil {
		return fmt.Errorf("notedb: migrations for %s: %w", driver, err)
	}
	provider, err := goose.NewProvider(dialect, conn, fsys)
	if err != nil {
		return fmt.Errorf("notedb: init migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("notedb: apply migrations: %w", err)
	}
	return nil
}

// Driver returns the configured driver name.
func (db *DB) Driver() string {
	return db.driver
}

// Ping checks that the store is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// withTx runs fn inside a transaction, committing only when fn succeeds.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("notedb: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("notedb: commit: %w", err)
	}
	return nil
}
