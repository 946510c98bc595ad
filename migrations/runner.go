package migrations

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/Skryldev/schemakit/db"
	"github.com/Skryldev/schemakit/rules"
	"github.com/Skryldev/schemakit/schema"
)

// Options configures a Runner.
type Options struct {
	// Compare is baked into the rendered trigger condition.
	Compare rules.Comparison
	// Path, when set, reads migrations from that directory instead of the
	// built-in set.
	Path string
	// Logger receives golang-migrate's progress lines. Defaults to slog.Default().
	Logger *slog.Logger
	// Verbose forwards golang-migrate's verbose output too.
	Verbose bool
}

// Runner applies and rolls back migrations against one database.
type Runner struct {
	m       *migrate.Migrate
	dialect db.Dialect
}

// New builds a Runner on conn. The runner takes ownership of the pool:
// Close closes it.
func New(conn *db.DB, opts Options) (*Runner, error) {
	dialect := conn.Dialect()
	driver, err := databaseDriver(conn, dialect)
	if err != nil {
		return nil, fmt.Errorf("migrations: %s driver: %w", dialect, err)
	}

	var m *migrate.Migrate
	if opts.Path != "" {
		m, err = migrate.NewWithDatabaseInstance("file://"+opts.Path, string(dialect), driver)
	} else {
		set, rerr := schema.Render(schema.Options{Dialect: dialect, Compare: opts.Compare})
		if rerr != nil {
			return nil, rerr
		}
		m, err = migrate.NewWithInstance(sourceName, NewSource(set), string(dialect), driver)
	}
	if err != nil {
		return nil, fmt.Errorf("migrations: init: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m.Log = &migrateLogger{logger: logger, verbose: opts.Verbose}

	return &Runner{m: m, dialect: dialect}, nil
}

func databaseDriver(conn *db.DB, dialect db.Dialect) (database.Driver, error) {
	switch dialect {
	case db.MySQL:
		return migratemysql.WithInstance(conn.Raw(), &migratemysql.Config{})
	case db.Postgres:
		return postgres.WithInstance(conn.Raw(), &postgres.Config{})
	case db.SQLite:
		return sqlite3.WithInstance(conn.Raw(), &sqlite3.Config{})
	}
	return nil, fmt.Errorf("unsupported dialect %q", dialect)
}

// Dialect reports the dialect the runner migrates.
func (r *Runner) Dialect() db.Dialect { return r.dialect }

// Up applies every pending migration. Nothing to do is not an error.
func (r *Runner) Up() error {
	if err := r.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}

// Down rolls back steps migrations.
func (r *Runner) Down(steps int) error {
	if steps < 1 {
		return fmt.Errorf("migrations: down: steps must be positive, got %d", steps)
	}
	if err := r.m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: down: %w", err)
	}
	return nil
}

// Migrate moves to exactly version, up or down.
func (r *Runner) Migrate(version uint) error {
	if err := r.m.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: migrate to %d: %w", version, err)
	}
	return nil
}

// Version returns the applied version. A database with no migrations
// reports version 0.
func (r *Runner) Version() (version uint, dirty bool, err error) {
	version, dirty, err = r.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("migrations: version: %w", err)
	}
	return version, dirty, nil
}

// Force records version as applied and clears the dirty flag without
// running anything.
func (r *Runner) Force(version int) error {
	if err := r.m.Force(version); err != nil {
		return fmt.Errorf("migrations: force %d: %w", version, err)
	}
	return nil
}

// Drop removes everything in the database, migration bookkeeping included.
func (r *Runner) Drop() error {
	if err := r.m.Drop(); err != nil {
		return fmt.Errorf("migrations: drop: %w", err)
	}
	return nil
}

// Close releases the source and the database pool.
func (r *Runner) Close() error {
	srcErr, dbErr := r.m.Close()
	return errors.Join(srcErr, dbErr)
}

// ─────────────────────────────────────────────────────────────────────────────

type migrateLogger struct {
	logger  *slog.Logger
	verbose bool
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "migrate")
}

func (l *migrateLogger) Verbose() bool { return l.verbose }
