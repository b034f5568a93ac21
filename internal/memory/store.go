// Package memory is the SQL persistence layer of the planning engines. It
// runs on SQLite (modernc.org/sqlite, the default) or PostgreSQL (pgx), with
// queries built by squirrel and schema managed by golang-migrate.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	zaptracer "github.com/jackc/pgx-zap"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/tracelog"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/zenamanage/planengine/internal/memory/migrations"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options configures Open.
type Options struct {
	Driver   string // sqlite (default) or postgres
	Path     string // SQLite database file
	DSN      string // PostgreSQL connection string
	MaxConns int    // PostgreSQL pool size; SQLite always uses one connection
	Trace    bool   // log every PostgreSQL query through zap
	Logger   *zap.Logger
}

// Store implements the persistence contracts of the project, task, component,
// visibility and baseline packages on one database.
type Store struct {
	db     *sql.DB
	sb     squirrel.StatementBuilderType
	driver string
	log    *zap.Logger
}

// Open connects to the database and applies pending migrations.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Driver == "" {
		opts.Driver = DriverSQLite
	}

	var (
		db  *sql.DB
		err error
		sb  squirrel.StatementBuilderType
	)
	switch opts.Driver {
	case DriverSQLite:
		db, err = openSQLite(opts.Path)
		sb = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)
	case DriverPostgres:
		db, err = openPostgres(opts)
		sb = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, sb: sb, driver: opts.Driver, log: opts.Logger}
	if err := s.migrate(opts); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: a transaction carried in a context owns the database,
	// which gives SQLite the same serialization a row lock gives Postgres.
	db.SetMaxOpenConns(1)
	return db, nil
}

func openPostgres(opts Options) (*sql.DB, error) {
	if opts.DSN == "" {
		return nil, errors.New("postgres dsn is required")
	}
	cfg, err := pgx.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if opts.Trace {
		cfg.Tracer = &tracelog.TraceLog{
			Logger:   zaptracer.NewLogger(opts.Logger),
			LogLevel: tracelog.LogLevelInfo,
		}
	}
	db := stdlib.OpenDB(*cfg)
	if opts.MaxConns > 0 {
		db.SetMaxOpenConns(opts.MaxConns)
	}
	return db, nil
}

// migrate applies the embedded migrations of the store's dialect.
func (s *Store) migrate(opts Options) error {
	src, err := iofs.New(migrations.FS, s.driver)
	if err != nil {
		return err
	}

	var m *migrate.Migrate
	switch s.driver {
	case DriverSQLite:
		// The instance driver reuses our *sql.DB; closing m would close it too.
		drv, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
		if err != nil {
			return err
		}
		if m, err = migrate.NewWithInstance("iofs", src, "sqlite", drv); err != nil {
			return err
		}
	default:
		url := "pgx5://" + strings.TrimPrefix(strings.TrimPrefix(opts.DSN, "postgres://"), "postgresql://")
		if m, err = migrate.NewWithSourceInstance("iofs", src, url); err != nil {
			return err
		}
		defer func() { _, _ = m.Close() }()
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	version, dirty, _ := m.Version()
	s.log.Debug("Schema migrated", zap.String("driver", s.driver), zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the SQL dialect in use.
func (s *Store) Driver() string { return s.driver }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// conn returns the transaction carried by ctx, or the database.
func (s *Store) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// InTx runs fn inside a transaction carried by the context passed to fn.
// Nested calls join the outer transaction. fn must only use the context it
// receives; on SQLite the outer context would wait for the connection the
// transaction holds.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// exec runs a squirrel statement on the current connection.
func (s *Store) exec(ctx context.Context, b squirrel.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.conn(ctx).ExecContext(ctx, query, args...)
}

// query runs a squirrel select on the current connection.
func (s *Store) query(ctx context.Context, b squirrel.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.conn(ctx).QueryContext(ctx, query, args...)
}

// queryRow runs a squirrel select expected to return one row.
func (s *Store) queryRow(ctx context.Context, b squirrel.Sqlizer) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.conn(ctx).QueryRowContext(ctx, query, args...), nil
}

// execAffecting runs b and fails with notFound when no row was affected.
func (s *Store) execAffecting(ctx context.Context, b squirrel.Sqlizer, notFound error) error {
	res, err := s.exec(ctx, b)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
