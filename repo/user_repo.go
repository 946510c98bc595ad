package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Skryldev/schemakit/db"
	"github.com/Skryldev/schemakit/models"
	"github.com/Skryldev/schemakit/rules"
)

// ─────────────────────────────────────────────────────────────────────────────
// UserRepository interface: for mocking in tests
// ─────────────────────────────────────────────────────────────────────────────

// UserRepository defines the contract for user persistence operations.
type UserRepository interface {
	Insert(ctx context.Context, params models.CreateUserParams) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context, limit, offset int) ([]*models.User, error)
	Update(ctx context.Context, params models.UpdateUserParams) (*models.User, error)
	UpdateMany(ctx context.Context, params []models.UpdateUserParams) ([]*models.User, error)
	MarkEmailValid(ctx context.Context, id int64) (*models.User, error)
	Delete(ctx context.Context, id int64) error
	BatchInsert(ctx context.Context, params []models.CreateUserParams) ([]*models.User, error)
	Count(ctx context.Context) (int64, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// userRepo: concrete implementation
// ─────────────────────────────────────────────────────────────────────────────

// userRepo is the production implementation backed by a db.Querier.
type userRepo struct {
	q       db.Querier
	rule    rules.EmailRule
	useRule bool
}

// UserRepoOption configures NewUserRepo.
type UserRepoOption func(*userRepo)

// WithEmailRule sets the comparison the in-process email rule uses.
func WithEmailRule(rule rules.EmailRule) UserRepoOption {
	return func(r *userRepo) {
		r.rule = rule
		r.useRule = true
	}
}

// WithoutEmailRule leaves the valid_email reset entirely to the
// users_email_change trigger.
func WithoutEmailRule() UserRepoOption {
	return func(r *userRepo) { r.useRule = false }
}

// NewUserRepo returns a UserRepository backed by q.
// q can be a *db.DB or *db.Tx: both satisfy db.Querier. The email rule is
// on by default with engine-default comparison.
func NewUserRepo(q db.Querier, opts ...UserRepoOption) UserRepository {
	r := &userRepo{q: q, useRule: true}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *userRepo) with(q db.Querier) *userRepo {
	cp := *r
	cp.q = q
	return &cp
}

// ─────────────────────────────────────────────────────────────────────────────
// SQL constants: written with '?' and rebound per dialect
// ─────────────────────────────────────────────────────────────────────────────

const (
	userColumns = `id, name, email, valid_email, created_at, updated_at`

	sqlInsertUser = `
		INSERT INTO users (name, email, valid_email, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`

	sqlGetUserByID = `
		SELECT ` + userColumns + `
		FROM   users
		WHERE  id = ?`

	sqlGetUserByEmail = `
		SELECT ` + userColumns + `
		FROM   users
		WHERE  email = ?`

	sqlListUsers = `
		SELECT ` + userColumns + `
		FROM   users
		ORDER  BY id
		LIMIT  ? OFFSET ?`

	sqlDeleteUser = `
		DELETE FROM users WHERE id = ?`

	sqlCountUsers = `
		SELECT COUNT(*) FROM users`

	// sqlEmailDiffers lets the column's collation judge an email change.
	sqlEmailDiffers = `
		SELECT CASE WHEN email <> ? THEN 1 ELSE 0 END
		FROM   users
		WHERE  id = ?`
)

func (r *userRepo) rebind(query string) string { return r.q.Dialect().Rebind(query) }

// ─────────────────────────────────────────────────────────────────────────────
// Insert
// ─────────────────────────────────────────────────────────────────────────────

// Insert creates a new user and returns the persisted record including the
// database-assigned id and timestamps.
func (r *userRepo) Insert(ctx context.Context, params models.CreateUserParams) (*models.User, error) {
	now := time.Now().UTC()
	id, err := insertReturningID(ctx, r.q, sqlInsertUser,
		params.Name, params.Email, params.ValidEmail, now, now)
	if err != nil {
		return nil, fmt.Errorf("repo/user: insert: %w", err)
	}
	return &models.User{
		ID:         id,
		Name:       params.Name,
		Email:      params.Email,
		ValidEmail: params.ValidEmail,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// GetByID / GetByEmail
// ─────────────────────────────────────────────────────────────────────────────

// GetByID returns a single user by primary key.
// Returns db.ErrNotFound when no record matches.
func (r *userRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(r.q.QueryRow(ctx, r.rebind(sqlGetUserByID), id))
}

// GetByEmail looks up a user by their unique email address.
// Returns db.ErrNotFound when no record matches.
func (r *userRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.q.QueryRow(ctx, r.rebind(sqlGetUserByEmail), email))
}

// ─────────────────────────────────────────────────────────────────────────────
// List
// ─────────────────────────────────────────────────────────────────────────────

// List returns a paginated slice of users ordered by id.
func (r *userRepo) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	rows, err := r.q.Query(ctx, r.rebind(sqlListUsers), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u := &models.User{}
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.ValidEmail, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repo/user: scan: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Update: read, apply the email rule, write, re-read; one transaction
// ─────────────────────────────────────────────────────────────────────────────

// Update applies a partial update to a user record. Only fields with non-nil
// pointers in params are written. The current row is read and locked first,
// the email rule is applied to the result, and the row is read back after the
// write so the returned record is what the database committed, trigger
// effects included. If q is a *db.Tx the caller's transaction is joined;
// otherwise deadlocks and lock timeouts are retried with db.DefaultRetry.
func (r *userRepo) Update(ctx context.Context, params models.UpdateUserParams) (*models.User, error) {
	var out *models.User
	err := db.RetryInTx(ctx, r.q, db.DefaultRetry, func(tx *db.Tx) error {
		u, err := r.with(tx).update(ctx, params)
		out = u
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateMany applies every update in one transaction. Either all rows are
// written or none are. Outside a caller's transaction a deadlock or lock
// timeout retries the whole batch.
func (r *userRepo) UpdateMany(ctx context.Context, params []models.UpdateUserParams) ([]*models.User, error) {
	if len(params) == 0 {
		return nil, nil
	}
	var out []*models.User
	err := db.RetryInTx(ctx, r.q, db.DefaultRetry, func(tx *db.Tx) error {
		out = make([]*models.User, 0, len(params))
		txRepo := r.with(tx)
		for _, p := range params {
			u, err := txRepo.update(ctx, p)
			if err != nil {
				return err
			}
			out = append(out, u)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkEmailValid sets valid_email without touching email, the path a
// verification flow takes.
func (r *userRepo) MarkEmailValid(ctx context.Context, id int64) (*models.User, error) {
	valid := true
	return r.Update(ctx, models.UpdateUserParams{ID: id, ValidEmail: &valid})
}

// update must run on a *db.Tx-backed repo.
func (r *userRepo) update(ctx context.Context, params models.UpdateUserParams) (*models.User, error) {
	lock := r.q.Dialect().LockClause()
	cur, err := scanUser(r.q.QueryRow(ctx, r.rebind(sqlGetUserByID+lock), params.ID))
	if err != nil {
		return nil, err
	}

	next := *cur
	if params.Name != nil {
		next.Name = *params.Name
	}
	if params.Email != nil {
		next.Email = *params.Email
	}
	if params.ValidEmail != nil {
		next.ValidEmail = *params.ValidEmail
	}
	if r.useRule {
		changed, err := r.emailChanged(ctx, cur, next)
		if err != nil {
			return nil, err
		}
		if changed {
			next.ValidEmail = false
		}
	}

	setClauses := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if params.Name != nil {
		setClauses = append(setClauses, "name = ?")
		args = append(args, next.Name)
	}
	if params.Email != nil {
		setClauses = append(setClauses, "email = ?")
		args = append(args, next.Email)
	}
	if params.ValidEmail != nil || next.ValidEmail != cur.ValidEmail {
		setClauses = append(setClauses, "valid_email = ?")
		args = append(args, next.ValidEmail)
	}
	if len(setClauses) == 0 {
		return cur, nil
	}

	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, time.Now().UTC(), params.ID)

	query := fmt.Sprintf(`
		UPDATE users
		SET    %s
		WHERE  id = ?`, strings.Join(setClauses, ", "))
	if _, err := r.q.Exec(ctx, r.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("repo/user: update %d: %w", params.ID, err)
	}
	return r.GetByID(ctx, params.ID)
}

// emailChanged applies the email rule. Under engine-default comparison only
// the database knows the column's collation, so it is asked directly.
func (r *userRepo) emailChanged(ctx context.Context, cur *models.User, next models.User) (bool, error) {
	if r.rule.Compare != rules.CompareEngineDefault {
		return r.rule.EmailChanged(*cur, next), nil
	}
	if next.Email == cur.Email {
		return false, nil
	}
	var differs bool
	if err := r.q.QueryRow(ctx, r.rebind(sqlEmailDiffers), next.Email, cur.ID).Scan(&differs); err != nil {
		return false, fmt.Errorf("repo/user: compare email %d: %w", cur.ID, err)
	}
	return differs, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Delete
// ─────────────────────────────────────────────────────────────────────────────

// Delete removes a user by id.
// Returns db.ErrNotFound if no row was deleted.
func (r *userRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.q.Exec(ctx, r.rebind(sqlDeleteUser), id)
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

// ─────────────────────────────────────────────────────────────────────────────
// BatchInsert
// ─────────────────────────────────────────────────────────────────────────────

// BatchInsert inserts multiple users in a single transaction using one
// prepared statement. All rows are inserted or none are.
func (r *userRepo) BatchInsert(ctx context.Context, params []models.CreateUserParams) ([]*models.User, error) {
	if len(params) == 0 {
		return nil, nil
	}
	users := make([]*models.User, 0, len(params))
	err := db.RunInTx(ctx, r.q, func(tx *db.Tx) error {
		ins, err := prepareInsert(ctx, tx, sqlInsertUser)
		if err != nil {
			return err
		}
		defer ins.Close()

		now := time.Now().UTC()
		for _, p := range params {
			id, err := ins.insert(ctx, p.Name, p.Email, p.ValidEmail, now, now)
			if err != nil {
				return fmt.Errorf("repo/user: batch insert %q: %w", p.Email, err)
			}
			users = append(users, &models.User{
				ID: id, Name: p.Name, Email: p.Email, ValidEmail: p.ValidEmail,
				CreatedAt: now, UpdatedAt: now,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Count
// ─────────────────────────────────────────────────────────────────────────────

// Count returns the total number of users.
func (r *userRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q.QueryRow(ctx, sqlCountUsers).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// scanUser: centralised column mapping
// ─────────────────────────────────────────────────────────────────────────────

func scanUser(row *db.Row) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.ValidEmail, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("repo/user: %w", err)
	}
	return u, nil
}

var _ UserRepository = (*userRepo)(nil)
