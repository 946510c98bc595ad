package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Skryldev/schemakit/db"
	"github.com/Skryldev/schemakit/models"
	"github.com/Skryldev/schemakit/schema"
)

// ErrInvalidInitial is returned when a lookup by first character is given
// anything other than exactly one character.
var ErrInvalidInitial = errors.New("repo/name: initial must be exactly one character")

// NameRepository defines the contract for names persistence operations.
type NameRepository interface {
	Insert(ctx context.Context, params models.CreateNameParams) (*models.NameRecord, error)
	GetByID(ctx context.Context, id int64) (*models.NameRecord, error)
	Update(ctx context.Context, params models.UpdateNameParams) (*models.NameRecord, error)
	Delete(ctx context.Context, id int64) error
	BatchInsert(ctx context.Context, params []models.CreateNameParams) ([]*models.NameRecord, error)
	// ListByInitial returns names whose first character is initial, ordered
	// by score then id.
	ListByInitial(ctx context.Context, initial string, limit, offset int) ([]*models.NameRecord, error)
	// RangeByInitial is ListByInitial restricted to min <= score <= max.
	RangeByInitial(ctx context.Context, initial string, min, max int64) ([]*models.NameRecord, error)
}

type nameRepo struct {
	q db.Querier
}

// NewNameRepo returns a NameRepository backed by q.
func NewNameRepo(q db.Querier) NameRepository {
	return &nameRepo{q: q}
}

const (
	sqlInsertName = `
		INSERT INTO names (name, score)
		VALUES (?, ?)`

	sqlGetNameByID = `
		SELECT id, name, score
		FROM   names
		WHERE  id = ?`

	sqlDeleteName = `
		DELETE FROM names WHERE id = ?`
)

func (r *nameRepo) rebind(query string) string { return r.q.Dialect().Rebind(query) }

// Insert creates a name record.
func (r *nameRepo) Insert(ctx context.Context, params models.CreateNameParams) (*models.NameRecord, error) {
	id, err := insertReturningID(ctx, r.q, sqlInsertName, params.Name, params.Score)
	if err != nil {
		return nil, fmt.Errorf("repo/name: insert: %w", err)
	}
	return &models.NameRecord{ID: id, Name: params.Name, Score: params.Score}, nil
}

// GetByID returns db.ErrNotFound when no record matches.
func (r *nameRepo) GetByID(ctx context.Context, id int64) (*models.NameRecord, error) {
	n := &models.NameRecord{}
	if err := r.q.QueryRow(ctx, r.rebind(sqlGetNameByID), id).Scan(&n.ID, &n.Name, &n.Score); err != nil {
		return nil, fmt.Errorf("repo/name: %w", err)
	}
	return n, nil
}

// Update writes the non-nil fields of params and returns the stored record.
func (r *nameRepo) Update(ctx context.Context, params models.UpdateNameParams) (*models.NameRecord, error) {
	setClauses := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if params.Name != nil {
		setClauses = append(setClauses, "name = ?")
		args = append(args, *params.Name)
	}
	if params.Score != nil {
		setClauses = append(setClauses, "score = ?")
		args = append(args, *params.Score)
	}
	if len(setClauses) == 0 {
		return r.GetByID(ctx, params.ID)
	}
	args = append(args, params.ID)

	var out *models.NameRecord
	err := db.RunInTx(ctx, r.q, func(tx *db.Tx) error {
		query := fmt.Sprintf(`
			UPDATE names
			SET    %s
			WHERE  id = ?`, strings.Join(setClauses, ", "))
		if _, err := tx.Exec(ctx, r.rebind(query), args...); err != nil {
			return fmt.Errorf("repo/name: update %d: %w", params.ID, err)
		}
		n, err := (&nameRepo{q: tx}).GetByID(ctx, params.ID)
		out = n
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete returns db.ErrNotFound if no row was deleted.
func (r *nameRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.q.Exec(ctx, r.rebind(sqlDeleteName), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return db.ErrNotFound
	}
	return nil
}

// BatchInsert inserts every record in one transaction. Engines without
// RETURNING go through db.BatchExec and read each id from its result.
func (r *nameRepo) BatchInsert(ctx context.Context, params []models.CreateNameParams) ([]*models.NameRecord, error) {
	if len(params) == 0 {
		return nil, nil
	}
	d := r.q.Dialect()
	if !d.SupportsReturning() {
		results, err := db.BatchExec(ctx, r.q, d.Rebind(sqlInsertName), params,
			func(p models.CreateNameParams) []any { return []any{p.Name, p.Score} })
		if err != nil {
			return nil, fmt.Errorf("repo/name: batch insert: %w", err)
		}
		out := make([]*models.NameRecord, len(params))
		for i, res := range results {
			id, err := res.LastInsertId()
			if err != nil {
				return nil, fmt.Errorf("repo/name: batch insert %q: %w", params[i].Name, err)
			}
			out[i] = &models.NameRecord{ID: id, Name: params[i].Name, Score: params[i].Score}
		}
		return out, nil
	}

	out := make([]*models.NameRecord, 0, len(params))
	err := db.RunInTx(ctx, r.q, func(tx *db.Tx) error {
		ins, err := prepareInsert(ctx, tx, sqlInsertName)
		if err != nil {
			return err
		}
		defer ins.Close()

		for _, p := range params {
			id, err := ins.insert(ctx, p.Name, p.Score)
			if err != nil {
				return fmt.Errorf("repo/name: batch insert %q: %w", p.Name, err)
			}
			out = append(out, &models.NameRecord{ID: id, Name: p.Name, Score: p.Score})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListByInitial uses the same predicate the names_name_prefix_score index is
// built for, so the engine can serve it from the index.
func (r *nameRepo) ListByInitial(ctx context.Context, initial string, limit, offset int) ([]*models.NameRecord, error) {
	if utf8.RuneCountInString(initial) != 1 {
		return nil, ErrInvalidInitial
	}
	_, arg := schema.InitialPredicate(r.q.Dialect(), initial)
	query := schema.InitialScanQuery(r.q.Dialect()) + " LIMIT ? OFFSET ?"
	return r.list(ctx, query, arg, limit, offset)
}

func (r *nameRepo) RangeByInitial(ctx context.Context, initial string, min, max int64) ([]*models.NameRecord, error) {
	if utf8.RuneCountInString(initial) != 1 {
		return nil, ErrInvalidInitial
	}
	if min > max {
		return nil, nil
	}
	d := r.q.Dialect()
	pred, arg := schema.InitialPredicate(d, initial)
	query := `
		SELECT id, name, score
		FROM   names
		WHERE  ` + pred + ` AND score BETWEEN ? AND ?
		ORDER  BY score, id`
	return r.list(ctx, query, arg, min, max)
}

func (r *nameRepo) list(ctx context.Context, query string, args ...any) ([]*models.NameRecord, error) {
	rows, err := r.q.Query(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNames(rows)
}

func scanNames(rows *sql.Rows) ([]*models.NameRecord, error) {
	var out []*models.NameRecord
	for rows.Next() {
		n := &models.NameRecord{}
		if err := rows.Scan(&n.ID, &n.Name, &n.Score); err != nil {
			return nil, fmt.Errorf("repo/name: scan: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

var _ NameRepository = (*nameRepo)(nil)
