// Package check exercises an installed schema end to end: the email reset
// through raw statements and through the repository, the shape of the name
// index and the ordering of first-character lookups. Everything runs in one
// transaction that is always rolled back.
package check

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Skryldev/schemakit/db"
	"github.com/Skryldev/schemakit/models"
	"github.com/Skryldev/schemakit/nameindex"
	"github.com/Skryldev/schemakit/repo"
	"github.com/Skryldev/schemakit/rules"
	"github.com/Skryldev/schemakit/schema"
)

// Result is the outcome of one check.
type Result struct {
	Name   string
	Pass   bool
	Detail string
}

// Report lists results in the order they ran.
type Report struct {
	Results []Result
}

// OK reports whether every check passed.
func (r Report) OK() bool {
	for _, res := range r.Results {
		if !res.Pass {
			return false
		}
	}
	return len(r.Results) > 0
}

func (r *Report) add(name string, pass bool, format string, args ...any) {
	r.Results = append(r.Results, Result{Name: name, Pass: pass, Detail: fmt.Sprintf(format, args...)})
}

type Options struct {
	Compare rules.Comparison
	// Initial is the first character of the seeded names.
	Initial string
	Logger  *slog.Logger
}

var errRollback = errors.New("check: rollback")

// Run executes every check against conn and rolls back whatever it wrote.
// A deadlock or lock timeout starts the checks over.
func Run(ctx context.Context, conn *db.DB, opts Options) (Report, error) {
	if opts.Initial == "" {
		opts.Initial = "q"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var report Report
	err := db.WithRetry(ctx, db.DefaultRetry, func() error {
		report = Report{}
		return conn.ExecTx(ctx, func(tx *db.Tx) error {
			if err := run(ctx, tx, opts, &report); err != nil {
				return err
			}
			return errRollback
		})
	})
	if err != nil && !errors.Is(err, errRollback) {
		return report, err
	}
	logger.Info("check finished", "checks", len(report.Results), "ok", report.OK())
	return report, nil
}

func run(ctx context.Context, tx *db.Tx, opts Options, report *Report) error {
	exists, err := schema.TriggerExists(ctx, tx)
	if err != nil {
		return err
	}
	report.add("trigger installed", exists, "%s", schema.EmailTriggerName)
	if !exists {
		return nil
	}

	if err := checkTrigger(ctx, tx, report); err != nil {
		return err
	}
	if err := checkRule(ctx, tx, opts.Compare, report); err != nil {
		return err
	}

	info, err := schema.InspectIndex(ctx, tx)
	switch {
	case db.IsNotFound(err):
		report.add("index keyed on (initial, score)", false, "%s missing", schema.NameIndexName)
		return nil
	case err != nil:
		return err
	}
	report.add("index keyed on (initial, score)", info.KeyedOnInitialAndScore(), "%v", info.Columns)

	return checkOrdering(ctx, tx, opts, report)
}

const (
	emailA = "schemakit-check-a@example.invalid"
	emailB = "schemakit-check-b@example.invalid"
)

func checkTrigger(ctx context.Context, tx *db.Tx, report *Report) error {
	users := repo.NewUserRepo(tx, repo.WithoutEmailRule())
	u, err := users.Insert(ctx, models.CreateUserParams{Name: "check", Email: emailA, ValidEmail: true})
	if err != nil {
		return err
	}
	d := tx.Dialect()

	if _, err := tx.Exec(ctx, d.Rebind("UPDATE users SET name = ? WHERE id = ?"), "check-renamed", u.ID); err != nil {
		return err
	}
	got, err := users.GetByID(ctx, u.ID)
	if err != nil {
		return err
	}
	report.add("unrelated update keeps valid_email", got.ValidEmail, "valid_email=%v", got.ValidEmail)

	if _, err := tx.Exec(ctx, d.Rebind("UPDATE users SET email = ? WHERE id = ?"), emailA, u.ID); err != nil {
		return err
	}
	if got, err = users.GetByID(ctx, u.ID); err != nil {
		return err
	}
	report.add("same email keeps valid_email", got.ValidEmail, "valid_email=%v", got.ValidEmail)

	if _, err := tx.Exec(ctx, d.Rebind("UPDATE users SET email = ? WHERE id = ?"), emailB, u.ID); err != nil {
		return err
	}
	if got, err = users.GetByID(ctx, u.ID); err != nil {
		return err
	}
	report.add("email change resets valid_email", !got.ValidEmail && got.Email == emailB,
		"email=%s valid_email=%v", got.Email, got.ValidEmail)

	return users.Delete(ctx, u.ID)
}

func checkRule(ctx context.Context, tx *db.Tx, compare rules.Comparison, report *Report) error {
	users := repo.NewUserRepo(tx, repo.WithEmailRule(rules.EmailRule{Compare: compare}))
	u, err := users.Insert(ctx, models.CreateUserParams{Name: "check", Email: emailA, ValidEmail: true})
	if err != nil {
		return err
	}
	next := emailB
	valid := true
	got, err := users.Update(ctx, models.UpdateUserParams{ID: u.ID, Email: &next, ValidEmail: &valid})
	if err != nil {
		return err
	}
	report.add("repository update resets valid_email", !got.ValidEmail,
		"valid_email=%v after requesting true with a new email", got.ValidEmail)
	return users.Delete(ctx, u.ID)
}

func checkOrdering(ctx context.Context, tx *db.Tx, opts Options, report *Report) error {
	names := repo.NewNameRepo(tx)
	seeded, err := names.BatchInsert(ctx, []models.CreateNameParams{
		{Name: opts.Initial + "uinn", Score: 40},
		{Name: opts.Initial + "uill", Score: -3},
		{Name: opts.Initial + "uay", Score: 40},
		{Name: opts.Initial + "ubit", Score: 12},
	})
	if err != nil {
		return err
	}

	fromDB, err := names.ListByInitial(ctx, opts.Initial, 10000, 0)
	if err != nil {
		return err
	}
	// MySQL's default collations match LIKE 'q%' case-insensitively.
	compare := opts.Compare
	if tx.Dialect() == db.MySQL && compare == rules.CompareEngineDefault {
		compare = rules.CompareCaseInsensitive
	}
	idx, err := nameindex.New(compare)
	if err != nil {
		return err
	}
	recs := make([]models.NameRecord, len(fromDB))
	for i, n := range fromDB {
		recs[i] = *n
	}
	if err := idx.Load(recs); err != nil {
		return err
	}
	fromIndex := idx.ByInitial(opts.Initial, 0)

	same := len(fromIndex) == len(fromDB)
	for i := 0; same && i < len(fromDB); i++ {
		same = fromIndex[i].ID == fromDB[i].ID
	}
	present := map[int64]bool{}
	for _, n := range fromDB {
		present[n.ID] = true
	}
	for _, n := range seeded {
		same = same && present[n.ID]
	}
	report.add("lookup by initial ordered by score", same,
		"%d rows with initial %q, database and in-memory order agree=%v", len(fromDB), opts.Initial, same)
	return nil
}
