// Package migrations runs the schema steps through golang-migrate so that
// installs are versioned, resumable and reversible.
package migrations

import (
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4/source"

	"github.com/Skryldev/schemakit/schema"
)

// sourceName is the name the built-in source is reported under.
const sourceName = "schemakit"

// Source serves a rendered schema.Set as golang-migrate migrations. Each
// step becomes <version>_<name>.up.sql / .down.sql, with the step's
// statements joined by semicolons.
type Source struct {
	set      schema.Set
	versions []uint
}

// NewSource returns a source.Driver over set.
func NewSource(set schema.Set) *Source {
	versions := make([]uint, 0, len(set.Steps))
	for _, st := range set.Steps {
		versions = append(versions, st.Version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return &Source{set: set, versions: versions}
}

// Open is part of source.Driver. The source is built in-process, so there is
// no URL to open.
func (s *Source) Open(url string) (source.Driver, error) {
	return nil, fmt.Errorf("migrations: %s source cannot be opened from %q", sourceName, url)
}

func (s *Source) Close() error { return nil }

func (s *Source) First() (uint, error) {
	if len(s.versions) == 0 {
		return 0, s.notExist("first", 0)
	}
	return s.versions[0], nil
}

func (s *Source) Prev(version uint) (uint, error) {
	i := s.index(version)
	if i <= 0 {
		return 0, s.notExist("prev", version)
	}
	return s.versions[i-1], nil
}

func (s *Source) Next(version uint) (uint, error) {
	i := s.index(version)
	if i < 0 || i+1 >= len(s.versions) {
		return 0, s.notExist("next", version)
	}
	return s.versions[i+1], nil
}

func (s *Source) ReadUp(version uint) (io.ReadCloser, string, error) {
	st, ok := s.set.Step(version)
	if !ok || len(st.Up) == 0 {
		return nil, "", s.notExist("read up", version)
	}
	return s.body(st.Up), st.Name, nil
}

func (s *Source) ReadDown(version uint) (io.ReadCloser, string, error) {
	st, ok := s.set.Step(version)
	if !ok || len(st.Down) == 0 {
		return nil, "", s.notExist("read down", version)
	}
	return s.body(st.Down), st.Name, nil
}

// Body returns the text served for a step in one direction, as it would
// appear in a migration file.
func Body(stmts []string) string {
	return strings.Join(stmts, ";\n\n") + ";\n"
}

func (s *Source) body(stmts []string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(Body(stmts)))
}

func (s *Source) index(version uint) int {
	i := sort.Search(len(s.versions), func(i int) bool { return s.versions[i] >= version })
	if i < len(s.versions) && s.versions[i] == version {
		return i
	}
	return -1
}

// notExist mirrors the errors golang-migrate's own sources return; migrate
// detects the end of the list with errors.Is(err, fs.ErrNotExist).
func (s *Source) notExist(op string, version uint) error {
	return &fs.PathError{
		Op:   fmt.Sprintf("%s %d", op, version),
		Path: sourceName + "://" + string(s.set.Dialect),
		Err:  fs.ErrNotExist,
	}
}

var _ source.Driver = (*Source)(nil)
