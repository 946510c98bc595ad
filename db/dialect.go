package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Dialect names the SQL flavour a statement is written for. Its string value
// is the driver name accepted by Config.DriverName; SQLite is opened through
// its own registration of the mattn driver (see sqliteDriverName).
type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

// Dialects lists every supported dialect in a stable order.
var Dialects = []Dialect{MySQL, Postgres, SQLite}

// ParseDialect maps a driver name (or common alias) onto a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch name {
	case "mysql":
		return MySQL, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite3", "sqlite":
		return SQLite, nil
	}
	return "", fmt.Errorf("schemakit/db: unsupported driver %q", name)
}

func (d Dialect) String() string { return string(d) }

// Rebind rewrites a query written with '?' placeholders into the dialect's
// native bind style ($1, $2, ... for PostgreSQL).
func (d Dialect) Rebind(query string) string {
	return sqlx.Rebind(sqlx.BindType(string(d)), query)
}

// LockClause returns the row-locking suffix for SELECTs that read a row the
// same transaction is about to update. SQLite serialises writers on its own
// and has no such clause.
func (d Dialect) LockClause() string {
	if d == SQLite {
		return ""
	}
	return " FOR UPDATE"
}

// SupportsReturning reports whether INSERT ... RETURNING is available.
// MySQL lacks it; callers fall back to LastInsertId.
func (d Dialect) SupportsReturning() bool {
	return d == Postgres
}
