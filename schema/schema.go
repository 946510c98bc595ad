// Package schema renders, applies and inspects the two schema artifacts
// schemakit manages: the users_email_change trigger, which clears
// users.valid_email whenever users.email changes, and the
// names_name_prefix_score index over the first character of names.name and
// names.score. DDL is produced per dialect; the tables both artifacts hang
// off are rendered alongside them so a fresh database can be brought up from
// nothing.
package schema

import (
	"errors"
	"fmt"

	"github.com/Skryldev/schemakit/db"
	"github.com/Skryldev/schemakit/rules"
)

const (
	UsersTable = "users"
	NamesTable = "names"

	// EmailTriggerName names the trigger and, on PostgreSQL, its function.
	EmailTriggerName = "users_email_change"
	// NameIndexName names the composite prefix index on names.
	NameIndexName = "names_name_prefix_score"
)

// Options selects the dialect and the email comparison baked into the
// trigger condition.
type Options struct {
	Dialect db.Dialect
	Compare rules.Comparison
}

// Step is one versioned unit of DDL. Up statements run in order; Down
// statements undo them and also run in order.
type Step struct {
	Version uint
	Name    string
	Up      []string
	Down    []string
}

// Set is the ordered list of steps for one dialect.
type Set struct {
	Dialect db.Dialect
	Steps   []Step
}

// Step returns the step with the given version.
func (s Set) Step(version uint) (Step, bool) {
	for _, st := range s.Steps {
		if st.Version == version {
			return st, true
		}
	}
	return Step{}, false
}

// Versions of the built-in steps.
const (
	VersionCreateUsers uint = iota + 1
	VersionCreateNames
	VersionEmailTrigger
	VersionNameIndex
)

// Render produces every step for opts.Dialect.
func Render(opts Options) (Set, error) {
	r, err := renderer(opts)
	if err != nil {
		return Set{}, err
	}
	return Set{
		Dialect: opts.Dialect,
		Steps: []Step{
			{
				Version: VersionCreateUsers,
				Name:    "create_users",
				Up:      []string{r.usersTable()},
				Down:    []string{"DROP TABLE " + UsersTable},
			},
			{
				Version: VersionCreateNames,
				Name:    "create_names",
				Up:      []string{r.namesTable()},
				Down:    []string{"DROP TABLE " + NamesTable},
			},
			r.emailTrigger(),
			r.nameIndex(),
		},
	}, nil
}

// TriggerDDL renders only the users_email_change step.
func TriggerDDL(opts Options) (Step, error) {
	r, err := renderer(opts)
	if err != nil {
		return Step{}, err
	}
	return r.emailTrigger(), nil
}

// IndexDDL renders only the names_name_prefix_score step.
func IndexDDL(opts Options) (Step, error) {
	r, err := renderer(opts)
	if err != nil {
		return Step{}, err
	}
	return r.nameIndex(), nil
}

type dialectDDL interface {
	usersTable() string
	namesTable() string
	emailTrigger() Step
	nameIndex() Step
}

// ErrFoldUnsupported is returned when case-insensitive comparison is asked of
// a dialect whose LOWER is not a full Unicode fold (MySQL, PostgreSQL). The
// trigger would disagree with the repository on values like "ß".
var ErrFoldUnsupported = errors.New("schema: case-insensitive email comparison needs sqlite3; use engine-default with a case-insensitive collation")

func renderer(opts Options) (dialectDDL, error) {
	if opts.Compare == rules.CompareCaseInsensitive && (opts.Dialect == db.MySQL || opts.Dialect == db.Postgres) {
		return nil, fmt.Errorf("%w (dialect %s)", ErrFoldUnsupported, opts.Dialect)
	}
	switch opts.Dialect {
	case db.MySQL:
		return mysqlDDL{compare: opts.Compare}, nil
	case db.Postgres:
		return postgresDDL{compare: opts.Compare}, nil
	case db.SQLite:
		return sqliteDDL{compare: opts.Compare}, nil
	}
	return nil, fmt.Errorf("schema: unsupported dialect %q", opts.Dialect)
}
