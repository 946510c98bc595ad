package repo

import (
	"context"

	"github.com/Skryldev/schemakit/db"
)

// insertReturningID runs an INSERT written with '?' placeholders and returns
// the new row's id: via RETURNING where the engine has it, LastInsertId
// elsewhere.
func insertReturningID(ctx context.Context, q db.Querier, query string, args ...any) (int64, error) {
	d := q.Dialect()
	if d.SupportsReturning() {
		var id int64
		err := q.QueryRow(ctx, d.Rebind(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := q.Exec(ctx, d.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// preparedInsert is insertReturningID over one prepared statement.
type preparedInsert struct {
	stmt      *db.Stmt
	returning bool
}

func prepareInsert(ctx context.Context, q db.Querier, query string) (*preparedInsert, error) {
	d := q.Dialect()
	returning := d.SupportsReturning()
	if returning {
		query += " RETURNING id"
	}
	stmt, err := q.Prepare(ctx, d.Rebind(query))
	if err != nil {
		return nil, err
	}
	return &preparedInsert{stmt: stmt, returning: returning}, nil
}

func (p *preparedInsert) insert(ctx context.Context, args ...any) (int64, error) {
	if p.returning {
		var id int64
		err := p.stmt.QueryRow(ctx, args...).Scan(&id)
		return id, err
	}
	res, err := p.stmt.Exec(ctx, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (p *preparedInsert) Close() error { return p.stmt.Close() }
