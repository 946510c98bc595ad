// Package db is the SQL-first database layer under schemakit. It wraps
// database/sql with context-aware helpers, hook dispatch, unified error
// mapping and transaction management. It is NOT an ORM: every statement is
// written out by the caller.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Config
// ─────────────────────────────────────────────────────────────────────────────

// Config holds all options for opening and managing the connection pool.
type Config struct {
	// DSN is the driver-specific data-source name.
	DSN string

	// DriverName is "postgres", "pgx", "mysql", or "sqlite3". It selects the
	// Dialect and, except for SQLite, the database/sql driver.
	DriverName string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// DefaultTimeout bounds statements and transactions whose context has no
	// deadline. Zero disables it.
	DefaultTimeout time.Duration

	// Hooks run around every statement, DDL included. nil entries are skipped.
	Hooks []Hook
}

func (c Config) tune(sqldb *sql.DB) {
	if c.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(c.ConnMaxLifetime)
	}
	if c.ConnMaxIdleTime > 0 {
		sqldb.SetConnMaxIdleTime(c.ConnMaxIdleTime)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// engine: state shared by DB, Tx and Stmt
// ─────────────────────────────────────────────────────────────────────────────

// runner is the part of *sql.DB and *sql.Tx the wrappers drive.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// engine carries what every statement needs besides the connection: the
// dialect, the hooks and the error mapper. A Tx copies its DB's engine when
// it begins.
type engine struct {
	dialect Dialect
	hooks   hookChain
	errMap  ErrorMapper
}

func (e engine) mapErr(err error) error {
	if err == nil {
		return nil
	}
	return e.errMap.Map(err)
}

func (e engine) exec(ctx context.Context, r runner, query string, args []any) (sql.Result, error) {
	var res sql.Result
	err := e.hooks.observe(ctx, query, args, func() (err error) {
		res, err = r.ExecContext(ctx, query, args...)
		return e.mapErr(err)
	})
	return res, err
}

func (e engine) query(ctx context.Context, r runner, query string, args []any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := e.hooks.observe(ctx, query, args, func() (err error) {
		rows, err = r.QueryContext(ctx, query, args...)
		return e.mapErr(err)
	})
	return rows, err
}

// queryRow reports a nil error to the hooks: the outcome is only known at Scan.
func (e engine) queryRow(ctx context.Context, r runner, query string, args []any) *Row {
	var raw *sql.Row
	_ = e.hooks.observe(ctx, query, args, func() error {
		raw = r.QueryRowContext(ctx, query, args...)
		return nil
	})
	return &Row{raw: raw, errMap: e.errMap}
}

func (e engine) prepare(ctx context.Context, r runner, query string) (*Stmt, error) {
	s, err := r.PrepareContext(ctx, query)
	if err != nil {
		return nil, e.mapErr(err)
	}
	return &Stmt{stmt: s, query: query, engine: e}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// DB
// ─────────────────────────────────────────────────────────────────────────────

// DB is a concurrency-safe wrapper around *sql.DB. The underlying pool is
// reachable through Raw, which is how migrations share it.
type DB struct {
	engine
	sqldb   *sql.DB
	timeout time.Duration
}

// Open opens the database described by cfg and verifies connectivity with Ping.
// Callers are responsible for calling Close() when the application shuts down.
//
// SQLite connections are opened through a driver that registers the casefold
// SQL function, which case-insensitive email triggers call.
func Open(cfg Config) (*DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("schemakit/db: DSN must not be empty")
	}
	if cfg.DriverName == "" {
		return nil, fmt.Errorf("schemakit/db: DriverName must not be empty")
	}
	dialect, err := ParseDialect(cfg.DriverName)
	if err != nil {
		return nil, err
	}

	driverName := cfg.DriverName
	if dialect == SQLite {
		driverName = sqliteDriverName
	}
	sqldb, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("schemakit/db: open: %w", err)
	}
	cfg.tune(sqldb)

	d := &DB{
		engine: engine{
			dialect: dialect,
			hooks:   newHookChain(cfg.Hooks),
			errMap:  DefaultErrorMapper(),
		},
		sqldb:   sqldb,
		timeout: cfg.DefaultTimeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("schemakit/db: ping: %w", d.mapErr(err))
	}
	return d, nil
}

// Raw returns the underlying *sql.DB for advanced use cases such as handing
// the pool to a migration driver.
func (d *DB) Raw() *sql.DB { return d.sqldb }

// Dialect reports the SQL dialect spoken by the connected engine.
func (d *DB) Dialect() Dialect { return d.dialect }

// SetErrorMapper replaces the default error mapper. Transactions begun
// afterwards use the new mapper.
func (d *DB) SetErrorMapper(m ErrorMapper) { d.errMap = m }

// Close closes all pooled connections. Closing twice is harmless.
func (d *DB) Close() error { return d.sqldb.Close() }

// Ping verifies that the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	return d.mapErr(d.sqldb.PingContext(ctx))
}

// Stats returns pool statistics.
func (d *DB) Stats() sql.DBStats { return d.sqldb.Stats() }

// Exec executes a statement that returns no rows (INSERT, UPDATE, DELETE, DDL).
func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	return d.exec(ctx, d.sqldb, query, args)
}

// Query executes a query that returns rows. The caller MUST close the rows.
// The default timeout is not applied: it would cancel the rows before the
// caller reads them.
func (d *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.query(ctx, d.sqldb, query, args)
}

// QueryRow executes a query expected to return at most one row.
// ErrNotFound is returned from Scan when no row matches.
func (d *DB) QueryRow(ctx context.Context, query string, args ...any) *Row {
	return d.queryRow(ctx, d.sqldb, query, args)
}

// Prepare creates a prepared statement. The caller must Close it.
func (d *DB) Prepare(ctx context.Context, query string) (*Stmt, error) {
	return d.prepare(ctx, d.sqldb, query)
}

func (d *DB) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout == 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.timeout)
}

// ─────────────────────────────────────────────────────────────────────────────
// Row and Stmt
// ─────────────────────────────────────────────────────────────────────────────

// Row wraps *sql.Row and maps errors through the unified error mapper.
type Row struct {
	raw    *sql.Row
	errMap ErrorMapper
}

// Scan copies columns from the matched row into dest values.
// ErrNotFound is returned when no row was found.
func (r *Row) Scan(dest ...any) error {
	if err := r.raw.Scan(dest...); err != nil {
		return r.errMap.Map(err)
	}
	return nil
}

// Stmt wraps a prepared *sql.Stmt with hook dispatch and error mapping.
type Stmt struct {
	engine
	stmt  *sql.Stmt
	query string
}

// Exec executes the prepared statement.
func (s *Stmt) Exec(ctx context.Context, args ...any) (sql.Result, error) {
	var res sql.Result
	err := s.hooks.observe(ctx, s.query, args, func() (err error) {
		res, err = s.stmt.ExecContext(ctx, args...)
		return s.mapErr(err)
	})
	return res, err
}

// QueryRow executes the prepared statement expecting one row.
func (s *Stmt) QueryRow(ctx context.Context, args ...any) *Row {
	var raw *sql.Row
	_ = s.hooks.observe(ctx, s.query, args, func() error {
		raw = s.stmt.QueryRowContext(ctx, args...)
		return nil
	})
	return &Row{raw: raw, errMap: s.errMap}
}

// Close releases the prepared statement.
func (s *Stmt) Close() error { return s.stmt.Close() }

// ─────────────────────────────────────────────────────────────────────────────
// BatchExec
// ─────────────────────────────────────────────────────────────────────────────

// BatchExec runs query once per item on a single prepared statement, inside
// q's transaction when q is a *Tx and in a new one otherwise. Either every
// item is written or none is. Results are returned in item order.
//
//	res, err := db.BatchExec(ctx, q, "INSERT INTO names (name, score) VALUES (?, ?)", rows,
//	    func(r models.CreateNameParams) []any { return []any{r.Name, r.Score} })
func BatchExec[T any](
	ctx context.Context,
	q Querier,
	query string,
	items []T,
	argsFn func(T) []any,
) ([]sql.Result, error) {
	results := make([]sql.Result, 0, len(items))
	err := RunInTx(ctx, q, func(tx *Tx) error {
		results = results[:0]
		stmt, err := tx.Prepare(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, item := range items {
			res, err := stmt.Exec(ctx, argsFn(item)...)
			if err != nil {
				return fmt.Errorf("schemakit/db: batch item %d: %w", i, err)
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
