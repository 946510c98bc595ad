package repo_test

import (
	"context"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Skryldev/schemakit/db"
	"github.com/Skryldev/schemakit/models"
	"github.com/Skryldev/schemakit/repo"
	"github.com/Skryldev/schemakit/rules"
	"github.com/Skryldev/schemakit/schema"
)

// ─────────────────────────────────────────────────────────────────────────────
// Test fixture
// ─────────────────────────────────────────────────────────────────────────────

func newTestDB(t *testing.T, compare rules.Comparison) *db.DB {
	t.Helper()

	database, err := db.Open(db.Config{
		DSN:          ":memory:",
		DriverName:   "sqlite3",
		MaxOpenConns: 1,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	set, err := schema.Render(schema.Options{Dialect: db.SQLite, Compare: compare})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if err := schema.Apply(context.Background(), database, set); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return database
}

func newTestRepo(t *testing.T, opts ...repo.UserRepoOption) (repo.UserRepository, *db.DB) {
	t.Helper()
	database := newTestDB(t, rules.CompareEngineDefault)
	return repo.NewUserRepo(database, opts...), database
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func insertValid(t *testing.T, r repo.UserRepository, name, email string) *models.User {
	t.Helper()
	u, err := r.Insert(context.Background(), models.CreateUserParams{Name: name, Email: email, ValidEmail: true})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return u
}

// ─────────────────────────────────────────────────────────────────────────────
// Insert
// ─────────────────────────────────────────────────────────────────────────────

func TestUserRepo_Insert(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	u, err := r.Insert(ctx, models.CreateUserParams{
		Name:  "Alice",
		Email: "alice@repo.com",
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if u.ID == 0 {
		t.Fatal("expected non-zero ID")
	}
	if u.ValidEmail {
		t.Fatal("expected valid_email to default to false")
	}
	if u.CreatedAt.IsZero() {
		t.Fatal("expected non-zero CreatedAt")
	}
}

func TestUserRepo_Insert_DuplicateEmail(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	params := models.CreateUserParams{Name: "Alice", Email: "dup@repo.com"}
	if _, err := r.Insert(ctx, params); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := r.Insert(ctx, params)
	if !db.IsDuplicateKey(err) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// GetByID / GetByEmail
// ─────────────────────────────────────────────────────────────────────────────

func TestUserRepo_GetByID(t *testing.T) {
	r, _ := newTestRepo(t)
	created := insertValid(t, r, "Bob", "bob@repo.com")

	fetched, err := r.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fetched.Email != "bob@repo.com" || !fetched.ValidEmail {
		t.Fatalf("unexpected row: %+v", fetched)
	}
}

func TestUserRepo_GetByID_NotFound(t *testing.T) {
	r, _ := newTestRepo(t)
	_, err := r.GetByID(context.Background(), 99999)
	if !db.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserRepo_GetByEmail(t *testing.T) {
	r, _ := newTestRepo(t)
	created := insertValid(t, r, "Carol", "carol@repo.com")

	fetched, err := r.GetByEmail(context.Background(), "carol@repo.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if fetched.ID != created.ID {
		t.Fatalf("expected id %d, got %d", created.ID, fetched.ID)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Update: email reset
// ─────────────────────────────────────────────────────────────────────────────

func TestUserRepo_Update_EmailChangeResetsValid(t *testing.T) {
	r, _ := newTestRepo(t)
	u := insertValid(t, r, "Alice", "a@x.com")

	updated, err := r.Update(context.Background(), models.UpdateUserParams{
		ID:    u.ID,
		Email: strPtr("b@x.com"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Email != "b@x.com" {
		t.Fatalf("email not updated: %q", updated.Email)
	}
	if updated.ValidEmail {
		t.Fatal("expected valid_email reset after email change")
	}
}

func TestUserRepo_Update_ExplicitValidIgnoredOnEmailChange(t *testing.T) {
	r, _ := newTestRepo(t)
	u := insertValid(t, r, "Alice", "a@x.com")

	updated, err := r.Update(context.Background(), models.UpdateUserParams{
		ID:         u.ID,
		Email:      strPtr("b@x.com"),
		ValidEmail: boolPtr(true),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ValidEmail {
		t.Fatal("a changed email must commit with valid_email false")
	}
}

func TestUserRepo_Update_SameEmailKeepsValid(t *testing.T) {
	r, _ := newTestRepo(t)
	u := insertValid(t, r, "Alice", "a@x.com")

	updated, err := r.Update(context.Background(), models.UpdateUserParams{
		ID:    u.ID,
		Email: strPtr("a@x.com"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.ValidEmail {
		t.Fatal("rewriting the same email must not reset valid_email")
	}
}

func TestUserRepo_Update_NameOnlyKeepsValid(t *testing.T) {
	r, _ := newTestRepo(t)
	u := insertValid(t, r, "Alice", "a@x.com")

	updated, err := r.Update(context.Background(), models.UpdateUserParams{
		ID:   u.ID,
		Name: strPtr("Alicia"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Alicia" {
		t.Fatalf("name not updated: %q", updated.Name)
	}
	if !updated.ValidEmail {
		t.Fatal("unrelated update must not touch valid_email")
	}
}

func TestUserRepo_Update_TriggerWithoutRule(t *testing.T) {
	r, _ := newTestRepo(t, repo.WithoutEmailRule())
	u := insertValid(t, r, "Alice", "a@x.com")

	updated, err := r.Update(context.Background(), models.UpdateUserParams{
		ID:    u.ID,
		Email: strPtr("b@x.com"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ValidEmail {
		t.Fatal("trigger should have reset valid_email")
	}
}

func TestUserRepo_Update_CaseInsensitive(t *testing.T) {
	database := newTestDB(t, rules.CompareCaseInsensitive)
	r := repo.NewUserRepo(database, repo.WithEmailRule(rules.EmailRule{Compare: rules.CompareCaseInsensitive}))
	u := insertValid(t, r, "Alice", "a@x.com")

	updated, err := r.Update(context.Background(), models.UpdateUserParams{
		ID:    u.ID,
		Email: strPtr("A@X.com"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Email != "A@X.com" {
		t.Fatalf("email not updated: %q", updated.Email)
	}
	if !updated.ValidEmail {
		t.Fatal("case-only change must keep valid_email under case-insensitive comparison")
	}
}

func TestUserRepo_Update_NotFound(t *testing.T) {
	r, _ := newTestRepo(t)
	_, err := r.Update(context.Background(), models.UpdateUserParams{ID: 424242, Name: strPtr("x")})
	if !db.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserRepo_Update_NoFields(t *testing.T) {
	r, _ := newTestRepo(t)
	u := insertValid(t, r, "Alice", "a@x.com")

	got, err := r.Update(context.Background(), models.UpdateUserParams{ID: u.ID})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Email != u.Email || !got.ValidEmail {
		t.Fatalf("unexpected row: %+v", got)
	}
}

// The worked example: a verified user changes email, then a second update
// touches only the name after re-verification.
func TestUserRepo_EndToEnd(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	u := insertValid(t, r, "Alice", "a@x.com")

	got, err := r.Update(ctx, models.UpdateUserParams{ID: u.ID, Email: strPtr("b@x.com")})
	if err != nil {
		t.Fatalf("update email: %v", err)
	}
	if got.Email != "b@x.com" || got.ValidEmail {
		t.Fatalf("after email change: %+v", got)
	}

	if _, err := r.MarkEmailValid(ctx, u.ID); err != nil {
		t.Fatalf("mark valid: %v", err)
	}
	got, err = r.Update(ctx, models.UpdateUserParams{ID: u.ID, Name: strPtr("Alicia")})
	if err != nil {
		t.Fatalf("update name: %v", err)
	}
	if got.Email != "b@x.com" || !got.ValidEmail {
		t.Fatalf("after name change: %+v", got)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Raw statements: the trigger alone enforces the rule
// ─────────────────────────────────────────────────────────────────────────────

func TestTrigger_RawUpdate(t *testing.T) {
	r, database := newTestRepo(t)
	ctx := context.Background()
	u := insertValid(t, r, "Alice", "a@x.com")

	if _, err := database.Exec(ctx, `UPDATE users SET name = 'Al' WHERE id = ?`, u.ID); err != nil {
		t.Fatalf("raw name update: %v", err)
	}
	got, _ := r.GetByID(ctx, u.ID)
	if !got.ValidEmail {
		t.Fatal("name-only statement reset valid_email")
	}

	if _, err := database.Exec(ctx, `UPDATE users SET email = 'a@x.com' WHERE id = ?`, u.ID); err != nil {
		t.Fatalf("raw same-email update: %v", err)
	}
	got, _ = r.GetByID(ctx, u.ID)
	if !got.ValidEmail {
		t.Fatal("same-email statement reset valid_email")
	}

	if _, err := database.Exec(ctx, `UPDATE users SET email = 'b@x.com', valid_email = 1 WHERE id = ?`, u.ID); err != nil {
		t.Fatalf("raw email update: %v", err)
	}
	got, _ = r.GetByID(ctx, u.ID)
	if got.ValidEmail {
		t.Fatal("email change committed with valid_email still set")
	}
}

func TestTrigger_RolledBackWithStatement(t *testing.T) {
	r, database := newTestRepo(t)
	ctx := context.Background()
	u := insertValid(t, r, "Alice", "a@x.com")
	other := insertValid(t, r, "Bob", "b@x.com")

	// The second row makes the statement fail on the unique email key.
	_, err := database.Exec(ctx, `UPDATE users SET email = 'c@x.com' WHERE id IN (?, ?)`, u.ID, other.ID)
	if !db.IsDuplicateKey(err) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	got, _ := r.GetByID(ctx, u.ID)
	if got.Email != "a@x.com" || !got.ValidEmail {
		t.Fatalf("failed statement left partial effects: %+v", got)
	}
}

// One statement touching several rows: only the row whose email changed loses
// its flag, even though the statement sets valid_email on every row.
func TestTrigger_RawMultiRowUpdate(t *testing.T) {
	r, database := newTestRepo(t)
	ctx := context.Background()
	a := insertValid(t, r, "A", "a@x.com")
	b := insertValid(t, r, "B", "b@x.com")
	c := insertValid(t, r, "C", "c@x.com")

	res, err := database.Exec(ctx,
		`UPDATE users SET email = CASE id WHEN ? THEN 'a2@x.com' ELSE email END, valid_email = 1`, a.ID)
	if err != nil {
		t.Fatalf("raw update: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 3 {
		t.Fatalf("rows affected = %d", n)
	}

	want := map[int64]bool{a.ID: false, b.ID: true, c.ID: true}
	for id, valid := range want {
		got, err := r.GetByID(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if got.ValidEmail != valid {
			t.Errorf("user %d (%s): valid_email = %v, want %v", id, got.Email, got.ValidEmail, valid)
		}
	}
}

func TestUserRepo_Update_CaseInsensitiveUnicode(t *testing.T) {
	database := newTestDB(t, rules.CompareCaseInsensitive)
	r := repo.NewUserRepo(database, repo.WithEmailRule(rules.EmailRule{Compare: rules.CompareCaseInsensitive}))
	ctx := context.Background()
	u := insertValid(t, r, "Émile", "émile@x.com")

	got, err := r.Update(ctx, models.UpdateUserParams{ID: u.ID, Email: strPtr("Émile@x.com")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !got.ValidEmail {
		t.Fatal("non-ASCII case-only change reset valid_email")
	}

	got, err = r.Update(ctx, models.UpdateUserParams{ID: u.ID, Email: strPtr("emile@x.com")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.ValidEmail {
		t.Fatal("accent change kept valid_email")
	}
}

// Under engine-default comparison the column's collation decides, in the
// repository as well as in the trigger.
func TestUserRepo_Update_EngineDefaultFollowsCollation(t *testing.T) {
	ctx := context.Background()
	database, err := db.Open(db.Config{DSN: ":memory:", DriverName: "sqlite3", MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	if _, err := database.Exec(ctx, `
CREATE TABLE users (
    id          INTEGER  PRIMARY KEY AUTOINCREMENT,
    name        TEXT     NOT NULL,
    email       TEXT     NOT NULL UNIQUE COLLATE NOCASE,
    valid_email INTEGER  NOT NULL DEFAULT 0,
    created_at  DATETIME NOT NULL,
    updated_at  DATETIME NOT NULL
)`); err != nil {
		t.Fatal(err)
	}
	trigger, err := schema.TriggerDDL(schema.Options{Dialect: db.SQLite, Compare: rules.CompareEngineDefault})
	if err != nil {
		t.Fatal(err)
	}
	if err := schema.ApplyStep(ctx, database, trigger); err != nil {
		t.Fatal(err)
	}

	r := repo.NewUserRepo(database)
	u := insertValid(t, r, "Alice", "alice@x.com")

	got, err := r.Update(ctx, models.UpdateUserParams{ID: u.ID, Email: strPtr("ALICE@x.com")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Email != "ALICE@x.com" || !got.ValidEmail {
		t.Fatalf("case-only change under NOCASE: %+v", got)
	}

	got, err = r.Update(ctx, models.UpdateUserParams{ID: u.ID, Email: strPtr("bob@x.com")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.ValidEmail {
		t.Fatal("real change kept valid_email")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// MarkEmailValid / UpdateMany
// ─────────────────────────────────────────────────────────────────────────────

func TestUserRepo_MarkEmailValid(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	u, _ := r.Insert(ctx, models.CreateUserParams{Name: "Dan", Email: "dan@x.com"})

	got, err := r.MarkEmailValid(ctx, u.ID)
	if err != nil {
		t.Fatalf("mark valid: %v", err)
	}
	if !got.ValidEmail {
		t.Fatal("expected valid_email set")
	}
}

func TestUserRepo_UpdateMany_AllOrNothing(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	u := insertValid(t, r, "Alice", "a@x.com")

	_, err := r.UpdateMany(ctx, []models.UpdateUserParams{
		{ID: u.ID, Email: strPtr("z@x.com")},
		{ID: 999999, Name: strPtr("ghost")},
	})
	if !db.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	got, _ := r.GetByID(ctx, u.ID)
	if got.Email != "a@x.com" || !got.ValidEmail {
		t.Fatalf("first update should have been rolled back: %+v", got)
	}
}

func TestUserRepo_UpdateMany(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	a := insertValid(t, r, "Alice", "a@x.com")
	b := insertValid(t, r, "Bob", "b@x.com")

	out, err := r.UpdateMany(ctx, []models.UpdateUserParams{
		{ID: a.ID, Email: strPtr("a2@x.com")},
		{ID: b.ID, Name: strPtr("Robert")},
	})
	if err != nil {
		t.Fatalf("update many: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	if out[0].ValidEmail || !out[1].ValidEmail {
		t.Fatalf("unexpected flags: %v %v", out[0].ValidEmail, out[1].ValidEmail)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Delete / List / BatchInsert / Count
// ─────────────────────────────────────────────────────────────────────────────

func TestUserRepo_Delete(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	u := insertValid(t, r, "Eve", "eve@repo.com")

	if err := r.Delete(ctx, u.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := r.Delete(ctx, u.ID); !db.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestUserRepo_BatchInsert_ListCount(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	users, err := r.BatchInsert(ctx, []models.CreateUserParams{
		{Name: "U1", Email: "u1@batch.com"},
		{Name: "U2", Email: "u2@batch.com", ValidEmail: true},
		{Name: "U3", Email: "u3@batch.com"},
	})
	if err != nil {
		t.Fatalf("batch insert: %v", err)
	}
	if len(users) != 3 {
		t.Fatalf("expected 3 users, got %d", len(users))
	}

	n, err := r.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected count 3, got %d", n)
	}

	page, err := r.List(ctx, 2, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].Email != "u2@batch.com" || !page[0].ValidEmail {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestUserRepo_BatchInsert_Rollback(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := r.BatchInsert(ctx, []models.CreateUserParams{
		{Name: "U1", Email: "same@batch.com"},
		{Name: "U2", Email: "same@batch.com"},
	})
	if !db.IsDuplicateKey(err) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	if n, _ := r.Count(ctx); n != 0 {
		t.Fatalf("expected no rows after rollback, got %d", n)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Transaction joining
// ─────────────────────────────────────────────────────────────────────────────

func TestUserRepo_UpdateJoinsCallerTx(t *testing.T) {
	r, database := newTestRepo(t)
	ctx := context.Background()
	u := insertValid(t, r, "Alice", "a@x.com")

	sentinel := errors.New("abort")
	err := database.ExecTx(ctx, func(tx *db.Tx) error {
		txRepo := repo.NewUserRepo(tx)
		if _, err := txRepo.Update(ctx, models.UpdateUserParams{ID: u.ID, Email: strPtr("b@x.com")}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}

	got, _ := r.GetByID(ctx, u.ID)
	if got.Email != "a@x.com" || !got.ValidEmail {
		t.Fatalf("caller rollback did not undo update: %+v", got)
	}
}
