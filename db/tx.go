package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Querier is what repositories and schema helpers accept: *DB and *Tx both
// satisfy it, so the same code runs inside and outside a transaction.
type Querier interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *Row
	Prepare(ctx context.Context, query string) (*Stmt, error)
	Dialect() Dialect
}

var (
	_ Querier = (*DB)(nil)
	_ Querier = (*Tx)(nil)
)

// Tx is an open transaction with the same statement API as DB.
type Tx struct {
	engine
	sqltx *sql.Tx
}

// Raw returns the underlying *sql.Tx.
func (t *Tx) Raw() *sql.Tx { return t.sqltx }

// Dialect reports the SQL dialect of the connection the transaction runs on.
func (t *Tx) Dialect() Dialect { return t.dialect }

func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.exec(ctx, t.sqltx, query, args)
}

// Query executes a query returning rows. The caller MUST close them.
func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.query(ctx, t.sqltx, query, args)
}

func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) *Row {
	return t.queryRow(ctx, t.sqltx, query, args)
}

// Prepare creates a statement bound to the transaction; it is closed with
// the transaction at the latest.
func (t *Tx) Prepare(ctx context.Context, query string) (*Stmt, error) {
	return t.prepare(ctx, t.sqltx, query)
}

// TxOptions sets the isolation level and read-only flag of a transaction.
type TxOptions struct {
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

// ExecTx runs fn in a new transaction. It commits when fn returns nil and
// rolls back when fn returns an error or panics; the panic is re-raised after
// the rollback. database/sql has no nested transactions: use RunInTx to join
// one that is already open.
//
//	err := d.ExecTx(ctx, func(tx *db.Tx) error {
//	    _, err := tx.Exec(ctx, "UPDATE users SET email = ? WHERE id = ?", email, id)
//	    return err
//	})
func (d *DB) ExecTx(ctx context.Context, fn func(*Tx) error, opts ...TxOptions) (err error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	var txOpts *sql.TxOptions
	if len(opts) > 0 {
		txOpts = &sql.TxOptions{Isolation: opts[0].Isolation, ReadOnly: opts[0].ReadOnly}
	}
	sqltx, err := d.sqldb.BeginTx(ctx, txOpts)
	if err != nil {
		return d.mapErr(err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		p := recover()
		if rbErr := sqltx.Rollback(); rbErr != nil && err != nil {
			err = fmt.Errorf("schemakit/db: rollback failed (%v) after: %w", rbErr, err)
		}
		if p != nil {
			panic(p)
		}
	}()

	if err = fn(&Tx{engine: d.engine, sqltx: sqltx}); err != nil {
		return d.mapErr(err)
	}
	if err = sqltx.Commit(); err != nil {
		// A failed commit has already ended the transaction.
		committed = true
		return d.mapErr(err)
	}
	committed = true
	return nil
}

// RunInTx runs fn inside a transaction. When q is already a *Tx, fn joins it
// and the caller keeps ownership of commit and rollback; when q is a *DB a new
// transaction is started with ExecTx.
func RunInTx(ctx context.Context, q Querier, fn func(*Tx) error) error {
	switch v := q.(type) {
	case *Tx:
		return fn(v)
	case *DB:
		return v.ExecTx(ctx, fn)
	default:
		return fmt.Errorf("schemakit/db: %T cannot start a transaction", q)
	}
}

// RetryInTx is RunInTx with WithRetry around it when q is a pool. fn may run
// more than once and must not leak state between attempts. When q is a *Tx
// a deadlock or timeout has already doomed the caller's transaction, so fn
// runs once and the error goes back to the transaction's owner.
func RetryInTx(ctx context.Context, q Querier, cfg RetryConfig, fn func(*Tx) error) error {
	if _, ok := q.(*Tx); ok {
		return RunInTx(ctx, q, fn)
	}
	return WithRetry(ctx, cfg, func() error { return RunInTx(ctx, q, fn) })
}
