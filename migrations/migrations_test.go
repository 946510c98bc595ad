package migrations_test

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Skryldev/schemakit/db"
	"github.com/Skryldev/schemakit/migrations"
	"github.com/Skryldev/schemakit/rules"
	"github.com/Skryldev/schemakit/schema"
)

func sqliteSet(t *testing.T) schema.Set {
	t.Helper()
	set, err := schema.Render(schema.Options{Dialect: db.SQLite})
	if err != nil {
		t.Fatal(err)
	}
	return set
}

// ─────────────────────────────────────────────────────────────────────────────
// Source
// ─────────────────────────────────────────────────────────────────────────────

func TestSource_Walk(t *testing.T) {
	src := migrations.NewSource(sqliteSet(t))

	v, err := src.First()
	if err != nil || v != 1 {
		t.Fatalf("First = %d, %v", v, err)
	}
	var seen []uint
	for {
		seen = append(seen, v)
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		v = next
	}
	if len(seen) != 4 || seen[3] != 4 {
		t.Fatalf("walked %v", seen)
	}

	if p, err := src.Prev(3); err != nil || p != 2 {
		t.Fatalf("Prev(3) = %d, %v", p, err)
	}
	if _, err := src.Prev(1); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Prev(1) = %v", err)
	}
	if _, err := src.Next(99); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Next(99) = %v", err)
	}
}

func TestSource_Read(t *testing.T) {
	src := migrations.NewSource(sqliteSet(t))

	r, ident, err := src.ReadUp(schema.VersionEmailTrigger)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(r)
	_ = r.Close()
	if ident != "users_email_change_trigger" {
		t.Errorf("identifier = %q", ident)
	}
	if !strings.Contains(string(body), "AFTER UPDATE OF email ON users") || !strings.HasSuffix(string(body), ";\n") {
		t.Errorf("unexpected up body:\n%s", body)
	}

	r, _, err = src.ReadDown(schema.VersionNameIndex)
	if err != nil {
		t.Fatal(err)
	}
	body, _ = io.ReadAll(r)
	_ = r.Close()
	if string(body) != "DROP INDEX names_name_prefix_score;\n" {
		t.Errorf("down body = %q", body)
	}

	if _, _, err := src.ReadUp(42); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadUp(42) = %v", err)
	}
	if _, err := src.Open("schemakit://x"); err == nil {
		t.Error("Open should fail")
	}
}

func TestSource_Empty(t *testing.T) {
	src := migrations.NewSource(schema.Set{Dialect: db.SQLite})
	if _, err := src.First(); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("First on empty source = %v", err)
	}
}

func TestBody(t *testing.T) {
	got := migrations.Body([]string{"A", "B"})
	if got != "A;\n\nB;\n" {
		t.Fatalf("Body = %q", got)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Files
// ─────────────────────────────────────────────────────────────────────────────

func TestWriteDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "migrations")
	set := sqliteSet(t)
	if err := migrations.WriteDir(dir, set); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 8 {
		t.Fatalf("wrote %d files", len(entries))
	}
	if got := migrations.FileName(set.Steps[0], "up"); got != "000001_create_users.up.sql" {
		t.Fatalf("FileName = %q", got)
	}
	b, err := os.ReadFile(filepath.Join(dir, "000004_names_name_prefix_score_index.up.sql"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "(substr(name, 1, 1), score)") {
		t.Fatalf("unexpected file content:\n%s", b)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Runner (SQLite)
// ─────────────────────────────────────────────────────────────────────────────

func openFileDB(t *testing.T, path string) *db.DB {
	t.Helper()
	d, err := db.Open(db.Config{DSN: path, DriverName: "sqlite3", MaxOpenConns: 1})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func newRunner(t *testing.T, d *db.DB, opts migrations.Options) *migrations.Runner {
	t.Helper()
	r, err := migrations.New(d, opts)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func assertVersion(t *testing.T, r *migrations.Runner, want uint) {
	t.Helper()
	v, dirty, err := r.Version()
	if err != nil {
		t.Fatal(err)
	}
	if v != want || dirty {
		t.Fatalf("version = %d dirty = %v, want %d clean", v, dirty, want)
	}
}

func TestRunner_UpDown(t *testing.T) {
	ctx := context.Background()
	d := openFileDB(t, filepath.Join(t.TempDir(), "m.db"))
	r := newRunner(t, d, migrations.Options{Compare: rules.CompareBinary})

	if r.Dialect() != db.SQLite {
		t.Fatalf("dialect = %s", r.Dialect())
	}
	assertVersion(t, r, 0)

	if err := r.Up(); err != nil {
		t.Fatal(err)
	}
	assertVersion(t, r, 4)
	if err := r.Up(); err != nil {
		t.Fatalf("second Up should be a no-op: %v", err)
	}

	ok, err := schema.TriggerExists(ctx, d)
	if err != nil || !ok {
		t.Fatalf("trigger after up: %v, %v", ok, err)
	}

	if err := r.Down(2); err != nil {
		t.Fatal(err)
	}
	assertVersion(t, r, 2)
	ok, err = schema.TriggerExists(ctx, d)
	if err != nil || ok {
		t.Fatalf("trigger after down: %v, %v", ok, err)
	}

	if err := r.Down(0); err == nil {
		t.Fatal("Down(0) should fail")
	}

	if err := r.Migrate(3); err != nil {
		t.Fatal(err)
	}
	assertVersion(t, r, 3)

	if err := r.Force(4); err != nil {
		t.Fatal(err)
	}
	assertVersion(t, r, 4)
}

func TestRunner_FromDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := migrations.WriteDir(dir, sqliteSet(t)); err != nil {
		t.Fatal(err)
	}
	d := openFileDB(t, filepath.Join(t.TempDir(), "m.db"))
	r := newRunner(t, d, migrations.Options{Path: dir})

	if err := r.Up(); err != nil {
		t.Fatal(err)
	}
	assertVersion(t, r, 4)

	info, err := schema.InspectIndex(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if !info.KeyedOnInitialAndScore() {
		t.Fatalf("index columns = %+v", info.Columns)
	}
}
