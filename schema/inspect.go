package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Skryldev/schemakit/db"
)

// IndexColumn is one key part of an index as the catalog reports it. Column
// is set for plain column keys, Expr for expression keys. Prefix is the
// column-prefix length in characters, zero when the full value is indexed.
type IndexColumn struct {
	Column string
	Expr   string
	Prefix int
}

func (c IndexColumn) String() string {
	switch {
	case c.Expr != "":
		return c.Expr
	case c.Prefix > 0:
		return fmt.Sprintf("%s(%d)", c.Column, c.Prefix)
	}
	return c.Column
}

// IndexInfo describes an index found in the catalog.
type IndexInfo struct {
	Name    string
	Table   string
	Columns []IndexColumn
	// Definition is the CREATE INDEX text where the engine keeps one.
	Definition string
}

// KeyedOnInitialAndScore reports whether the index is keyed first on the
// first character of name and then on the full score.
func (i IndexInfo) KeyedOnInitialAndScore() bool {
	if len(i.Columns) != 2 {
		return false
	}
	first, second := i.Columns[0], i.Columns[1]
	if second.Column != "score" || second.Prefix != 0 {
		return false
	}
	if first.Column == "name" && first.Prefix == 1 {
		return true
	}
	return normalizeExpr(first.Expr) == normalizeExpr(initialExpr)
}

// InspectIndex reads the names_name_prefix_score index from the catalog.
// It returns db.ErrNotFound when the index does not exist.
func InspectIndex(ctx context.Context, q db.Querier) (IndexInfo, error) {
	info := IndexInfo{Name: NameIndexName, Table: NamesTable}
	var err error
	switch q.Dialect() {
	case db.MySQL:
		info.Columns, err = mysqlIndexColumns(ctx, q)
	case db.Postgres:
		err = q.QueryRow(ctx,
			`SELECT pg_get_indexdef(c.oid) FROM pg_class c WHERE c.relkind = 'i' AND c.relname = $1`,
			NameIndexName).Scan(&info.Definition)
	case db.SQLite:
		err = q.QueryRow(ctx,
			`SELECT sql FROM sqlite_master WHERE type = 'index' AND name = ?`,
			NameIndexName).Scan(&info.Definition)
	default:
		err = fmt.Errorf("schema: unsupported dialect %q", q.Dialect())
	}
	if err != nil {
		return IndexInfo{}, fmt.Errorf("schema: inspect index %s: %w", NameIndexName, err)
	}
	if info.Definition != "" {
		info.Columns = parseIndexColumns(info.Definition)
	}
	if len(info.Columns) == 0 {
		return IndexInfo{}, fmt.Errorf("schema: inspect index %s: %w", NameIndexName, db.ErrNotFound)
	}
	return info, nil
}

func mysqlIndexColumns(ctx context.Context, q db.Querier) ([]IndexColumn, error) {
	rows, err := q.Query(ctx, `
		SELECT column_name, sub_part
		FROM   information_schema.statistics
		WHERE  table_schema = DATABASE() AND table_name = ? AND index_name = ?
		ORDER  BY seq_in_index`, NamesTable, NameIndexName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []IndexColumn
	for rows.Next() {
		var (
			name   sql.NullString
			prefix sql.NullInt64
		)
		if err := rows.Scan(&name, &prefix); err != nil {
			return nil, err
		}
		cols = append(cols, IndexColumn{Column: strings.ToLower(name.String), Prefix: int(prefix.Int64)})
	}
	return cols, rows.Err()
}

// parseIndexColumns extracts the key list from a CREATE INDEX statement:
// the first parenthesised group after ON, split on top-level commas.
func parseIndexColumns(def string) []IndexColumn {
	on := strings.Index(strings.ToUpper(def), " ON ")
	if on < 0 {
		return nil
	}
	open := strings.IndexByte(def[on:], '(')
	if open < 0 {
		return nil
	}
	body := def[on+open+1:]

	var (
		cols  []IndexColumn
		depth int
		start int
	)
	emit := func(part string) {
		part = strings.TrimSpace(part)
		if part == "" {
			return
		}
		if isIdent(part) {
			cols = append(cols, IndexColumn{Column: strings.ToLower(strings.Trim(part, `"`))})
			return
		}
		cols = append(cols, IndexColumn{Expr: part})
	}
	for i, r := range body {
		switch r {
		case '(':
			depth++
		case ')':
			if depth == 0 {
				emit(body[start:i])
				return cols
			}
			depth--
		case ',':
			if depth == 0 {
				emit(body[start:i])
				start = i + 1
			}
		}
	}
	return nil
}

func isIdent(s string) bool {
	s = strings.Trim(s, `"`)
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func normalizeExpr(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), ""))
	for strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = s[1 : len(s)-1]
	}
	return s
}

// TriggerExists reports whether the users_email_change trigger is installed.
func TriggerExists(ctx context.Context, q db.Querier) (bool, error) {
	var query string
	switch q.Dialect() {
	case db.MySQL:
		query = `SELECT COUNT(*) FROM information_schema.triggers
		         WHERE trigger_schema = DATABASE() AND trigger_name = ?`
	case db.Postgres:
		query = `SELECT COUNT(*) FROM pg_trigger WHERE tgname = $1 AND NOT tgisinternal`
	case db.SQLite:
		query = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'trigger' AND name = ?`
	default:
		return false, fmt.Errorf("schema: unsupported dialect %q", q.Dialect())
	}
	var n int
	if err := q.QueryRow(ctx, query, EmailTriggerName).Scan(&n); err != nil {
		return false, fmt.Errorf("schema: inspect trigger %s: %w", EmailTriggerName, err)
	}
	return n > 0, nil
}

// Plan is the planner's answer for the first-character/score query.
type Plan struct {
	Query string
	Lines []string
	// IndexUsable is true when the plan mentions names_name_prefix_score,
	// either as the chosen access path or, on MySQL, as a possible key.
	IndexUsable bool
}

// ExplainInitialScan asks the planner how it would run InitialScanQuery for
// initial. On PostgreSQL sequential scans are disabled for the duration of
// the transaction so a small table still reveals whether the index applies.
func ExplainInitialScan(ctx context.Context, q db.Querier, initial string) (Plan, error) {
	d := q.Dialect()
	_, arg := InitialPredicate(d, initial)
	plan := Plan{Query: InitialScanQuery(d)}

	var prefix string
	switch d {
	case db.SQLite:
		prefix = "EXPLAIN QUERY PLAN "
	case db.MySQL, db.Postgres:
		prefix = "EXPLAIN "
	default:
		return Plan{}, fmt.Errorf("schema: unsupported dialect %q", d)
	}

	err := db.RunInTx(ctx, q, func(tx *db.Tx) error {
		if d == db.Postgres {
			if _, err := tx.Exec(ctx, "SET LOCAL enable_seqscan = off"); err != nil {
				return err
			}
		}
		rows, err := tx.Query(ctx, d.Rebind(prefix+plan.Query), arg)
		if err != nil {
			return err
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return err
		}
		for rows.Next() {
			vals := make([]sql.NullString, len(cols))
			dest := make([]any, len(cols))
			for i := range vals {
				dest[i] = &vals[i]
			}
			if err := rows.Scan(dest...); err != nil {
				return err
			}
			parts := make([]string, 0, len(vals))
			for _, v := range vals {
				if v.Valid && v.String != "" {
					parts = append(parts, v.String)
				}
			}
			plan.Lines = append(plan.Lines, strings.Join(parts, " "))
		}
		return rows.Err()
	})
	if err != nil {
		return Plan{}, fmt.Errorf("schema: explain: %w", err)
	}

	for _, l := range plan.Lines {
		if strings.Contains(l, NameIndexName) {
			plan.IndexUsable = true
			break
		}
	}
	return plan, nil
}
