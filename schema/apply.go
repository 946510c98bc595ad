package schema

import (
	"context"
	"fmt"

	"github.com/Skryldev/schemakit/db"
)

// Apply runs the Up statements of every step in version order inside one
// transaction. On PostgreSQL and SQLite a failure leaves nothing behind;
// MySQL commits each DDL statement implicitly, so a failure there leaves the
// steps before it in place.
//
// Apply does not use IF NOT EXISTS: applying a set twice fails with
// db.ErrDuplicateObject.
func Apply(ctx context.Context, q db.Querier, set Set) error {
	return db.RunInTx(ctx, q, func(tx *db.Tx) error {
		for _, st := range set.Steps {
			if err := ApplyStep(ctx, tx, st); err != nil {
				return err
			}
		}
		return nil
	})
}

// ApplyStep runs one step's Up statements.
func ApplyStep(ctx context.Context, q db.Querier, st Step) error {
	for _, stmt := range st.Up {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema: %d_%s: %w", st.Version, st.Name, err)
		}
	}
	return nil
}

// Drop undoes every step in reverse version order inside one transaction.
func Drop(ctx context.Context, q db.Querier, set Set) error {
	return db.RunInTx(ctx, q, func(tx *db.Tx) error {
		for i := len(set.Steps) - 1; i >= 0; i-- {
			st := set.Steps[i]
			for _, stmt := range st.Down {
				if _, err := tx.Exec(ctx, stmt); err != nil {
					return fmt.Errorf("schema: drop %d_%s: %w", st.Version, st.Name, err)
				}
			}
		}
		return nil
	})
}
