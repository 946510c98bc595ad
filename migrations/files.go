package migrations

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Skryldev/schemakit/schema"
)

// FileName is the golang-migrate file name for one direction of a step,
// e.g. 000003_users_email_change_trigger.up.sql.
func FileName(st schema.Step, direction string) string {
	return fmt.Sprintf("%06d_%s.%s.sql", st.Version, st.Name, direction)
}

// WriteDir writes set as migration files into dir, creating it if needed.
// The result can be run with Options.Path.
func WriteDir(dir string, set schema.Set) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	for _, st := range set.Steps {
		for direction, stmts := range map[string][]string{"up": st.Up, "down": st.Down} {
			path := filepath.Join(dir, FileName(st, direction))
			if err := os.WriteFile(path, []byte(Body(stmts)), 0o644); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
		}
	}
	return nil
}
