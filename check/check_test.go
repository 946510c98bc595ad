package check_test

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Skryldev/schemakit/check"
	"github.com/Skryldev/schemakit/db"
	"github.com/Skryldev/schemakit/rules"
	"github.com/Skryldev/schemakit/schema"
)

func openSQLite(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(db.Config{DSN: ":memory:", DriverName: "sqlite3", MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestRun_InstalledSchema(t *testing.T) {
	d := openSQLite(t)
	ctx := context.Background()
	set, err := schema.Render(schema.Options{Dialect: db.SQLite})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if err := schema.Apply(ctx, d, set); err != nil {
		t.Fatalf("apply: %v", err)
	}

	report, err := check.Run(ctx, d, check.Options{Compare: rules.CompareEngineDefault})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, r := range report.Results {
		if !r.Pass {
			t.Errorf("%s failed: %s", r.Name, r.Detail)
		}
	}
	if len(report.Results) != 7 || !report.OK() {
		t.Fatalf("unexpected report: %+v", report)
	}

	// Everything written by the checks is rolled back.
	var n int
	if err := d.QueryRow(ctx, "SELECT (SELECT COUNT(*) FROM users) + (SELECT COUNT(*) FROM names)").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no rows left behind, got %d", n)
	}
}

func TestRun_MissingTrigger(t *testing.T) {
	d := openSQLite(t)
	ctx := context.Background()
	set, err := schema.Render(schema.Options{Dialect: db.SQLite})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	// Tables only.
	set.Steps = set.Steps[:2]
	if err := schema.Apply(ctx, d, set); err != nil {
		t.Fatalf("apply: %v", err)
	}

	report, err := check.Run(ctx, d, check.Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.OK() {
		t.Fatalf("expected failure without trigger: %+v", report)
	}
	if len(report.Results) != 1 || report.Results[0].Name != "trigger installed" {
		t.Fatalf("unexpected report: %+v", report)
	}
}
