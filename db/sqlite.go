package db

import (
	"database/sql"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/text/cases"
)

// sqliteDriverName is the database/sql driver Open uses for the SQLite
// dialect: mattn/go-sqlite3 with casefold registered on every connection.
const sqliteDriverName = "sqlite3_schemakit"

func init() {
	sql.Register(sqliteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("casefold", CaseFold, true)
		},
	})
}

// CaseFold is the full Unicode case fold (ß folds to ss, É to é) that
// case-insensitive email comparison uses, in Go and as SQLite's casefold().
// SQLite's own LOWER only folds ASCII.
func CaseFold(s string) string { return cases.Fold().String(s) }
