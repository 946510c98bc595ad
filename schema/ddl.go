package schema

import (
	"fmt"

	"github.com/Skryldev/schemakit/rules"
)

// emailChangedCondition renders the boolean expression that is true when the
// row's email changes, as seen from a row-level trigger. Engine-default
// comparison is the bare <> so the column's collation decides. Only SQLite
// reaches the case-insensitive branch; renderer refuses it elsewhere.
func emailChangedCondition(compare rules.Comparison, binaryOld, binaryNew string) string {
	switch compare {
	case rules.CompareBinary:
		return fmt.Sprintf("%s <> %s", binaryOld, binaryNew)
	case rules.CompareCaseInsensitive:
		return "casefold(OLD.email) <> casefold(NEW.email)"
	}
	return "OLD.email <> NEW.email"
}

// ─────────────────────────────────────────────────────────────────────────────
// MySQL
// ─────────────────────────────────────────────────────────────────────────────

type mysqlDDL struct{ compare rules.Comparison }

func (mysqlDDL) usersTable() string {
	return `
CREATE TABLE users (
    id          BIGINT       NOT NULL AUTO_INCREMENT,
    name        VARCHAR(255) NOT NULL,
    email       VARCHAR(255) NOT NULL,
    valid_email TINYINT(1)   NOT NULL DEFAULT 0,
    created_at  DATETIME(6)  NOT NULL,
    updated_at  DATETIME(6)  NOT NULL,
    PRIMARY KEY (id),
    UNIQUE KEY users_email_key (email)
)`[1:]
}

func (mysqlDDL) namesTable() string {
	return `
CREATE TABLE names (
    id    BIGINT       NOT NULL AUTO_INCREMENT,
    name  VARCHAR(255) NOT NULL,
    score BIGINT       NOT NULL DEFAULT 0,
    PRIMARY KEY (id)
)`[1:]
}

// MySQL lets a BEFORE trigger assign to NEW, so the override happens before
// the row is written.
func (m mysqlDDL) emailTrigger() Step {
	cond := emailChangedCondition(m.compare,
		"CAST(OLD.email AS BINARY)", "CAST(NEW.email AS BINARY)")
	return Step{
		Version: VersionEmailTrigger,
		Name:    EmailTriggerName + "_trigger",
		Up: []string{fmt.Sprintf(`
CREATE TRIGGER %[1]s
BEFORE UPDATE ON %[2]s
FOR EACH ROW
BEGIN
    IF %[3]s THEN
        SET NEW.valid_email = 0;
    END IF;
END`[1:], EmailTriggerName, UsersTable, cond)},
		Down: []string{"DROP TRIGGER " + EmailTriggerName},
	}
}

func (mysqlDDL) nameIndex() Step {
	return Step{
		Version: VersionNameIndex,
		Name:    NameIndexName + "_index",
		Up:      []string{fmt.Sprintf("CREATE INDEX %s ON %s (name(1), score)", NameIndexName, NamesTable)},
		Down:    []string{fmt.Sprintf("DROP INDEX %s ON %s", NameIndexName, NamesTable)},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// PostgreSQL
// ─────────────────────────────────────────────────────────────────────────────

type postgresDDL struct{ compare rules.Comparison }

func (postgresDDL) usersTable() string {
	return `
CREATE TABLE users (
    id          BIGSERIAL   PRIMARY KEY,
    name        TEXT        NOT NULL,
    email       TEXT        NOT NULL,
    valid_email BOOLEAN     NOT NULL DEFAULT FALSE,
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL,
    CONSTRAINT users_email_key UNIQUE (email)
)`[1:]
}

func (postgresDDL) namesTable() string {
	return `
CREATE TABLE names (
    id    BIGSERIAL PRIMARY KEY,
    name  TEXT      NOT NULL,
    score BIGINT    NOT NULL DEFAULT 0
)`[1:]
}

// PostgreSQL triggers call a function; the function shares the trigger's name.
func (p postgresDDL) emailTrigger() Step {
	cond := emailChangedCondition(p.compare,
		`OLD.email COLLATE "C"`, `NEW.email COLLATE "C"`)
	return Step{
		Version: VersionEmailTrigger,
		Name:    EmailTriggerName + "_trigger",
		Up: []string{
			fmt.Sprintf(`
CREATE FUNCTION %[1]s() RETURNS trigger AS $$
BEGIN
    IF %[2]s THEN
        NEW.valid_email := FALSE;
    END IF;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql`[1:], EmailTriggerName, cond),
			fmt.Sprintf(`
CREATE TRIGGER %[1]s
BEFORE UPDATE ON %[2]s
FOR EACH ROW
EXECUTE FUNCTION %[1]s()`[1:], EmailTriggerName, UsersTable),
		},
		Down: []string{
			fmt.Sprintf("DROP TRIGGER %s ON %s", EmailTriggerName, UsersTable),
			fmt.Sprintf("DROP FUNCTION %s()", EmailTriggerName),
		},
	}
}

func (postgresDDL) nameIndex() Step {
	return Step{
		Version: VersionNameIndex,
		Name:    NameIndexName + "_index",
		Up:      []string{fmt.Sprintf("CREATE INDEX %s ON %s (%s, score)", NameIndexName, NamesTable, initialExpr)},
		Down:    []string{"DROP INDEX " + NameIndexName},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// SQLite
// ─────────────────────────────────────────────────────────────────────────────

type sqliteDDL struct{ compare rules.Comparison }

func (sqliteDDL) usersTable() string {
	return `
CREATE TABLE users (
    id          INTEGER  PRIMARY KEY AUTOINCREMENT,
    name        TEXT     NOT NULL,
    email       TEXT     NOT NULL UNIQUE,
    valid_email INTEGER  NOT NULL DEFAULT 0,
    created_at  DATETIME NOT NULL,
    updated_at  DATETIME NOT NULL
)`[1:]
}

func (sqliteDDL) namesTable() string {
	return `
CREATE TABLE names (
    id    INTEGER PRIMARY KEY AUTOINCREMENT,
    name  TEXT    NOT NULL,
    score INTEGER NOT NULL DEFAULT 0
)`[1:]
}

// SQLite cannot assign to NEW, so the reset is an AFTER trigger that rewrites
// the row. It runs within the UPDATE statement itself, so no reader ever sees
// the new email paired with the old flag.
func (s sqliteDDL) emailTrigger() Step {
	cond := emailChangedCondition(s.compare,
		"OLD.email COLLATE BINARY", "NEW.email COLLATE BINARY")
	return Step{
		Version: VersionEmailTrigger,
		Name:    EmailTriggerName + "_trigger",
		Up: []string{fmt.Sprintf(`
CREATE TRIGGER %[1]s
AFTER UPDATE OF email ON %[2]s
FOR EACH ROW
WHEN %[3]s
BEGIN
    UPDATE %[2]s SET valid_email = 0 WHERE id = NEW.id;
END`[1:], EmailTriggerName, UsersTable, cond)},
		Down: []string{"DROP TRIGGER " + EmailTriggerName},
	}
}

func (sqliteDDL) nameIndex() Step {
	return Step{
		Version: VersionNameIndex,
		Name:    NameIndexName + "_index",
		Up:      []string{fmt.Sprintf("CREATE INDEX %s ON %s (%s, score)", NameIndexName, NamesTable, initialExpr)},
		Down:    []string{"DROP INDEX " + NameIndexName},
	}
}
