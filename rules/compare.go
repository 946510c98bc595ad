// Package rules holds the application-side versions of the schema rules:
// the email reset performed by the users_email_change trigger and the
// first-character key of the names_name_prefix_score index.
package rules

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// Comparison selects how two text values are compared. The same choice drives
// the rendered trigger condition, the in-process rule and index key folding.
type Comparison int

const (
	// CompareEngineDefault leaves comparison to the column's collation in the
	// database. Go code cannot know that collation, so it asks the engine
	// (see repo.UserRepository); Equal and Fold fall back to bytes.
	CompareEngineDefault Comparison = iota
	// CompareBinary compares byte for byte.
	CompareBinary
	// CompareCaseInsensitive compares after full Unicode case folding, so
	// "straße" equals "STRASSE". Only SQLite can render it into a trigger,
	// through the casefold function db registers; MySQL and PostgreSQL LOWER
	// is not a full fold.
	CompareCaseInsensitive
)

var comparisonNames = map[Comparison]string{
	CompareEngineDefault:   "engine-default",
	CompareBinary:          "binary",
	CompareCaseInsensitive: "case-insensitive",
}

func (c Comparison) String() string {
	if s, ok := comparisonNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Comparison(%d)", int(c))
}

// ParseComparison parses the names printed by Comparison.String. The empty
// string means CompareEngineDefault.
func ParseComparison(s string) (Comparison, error) {
	switch s {
	case "", "engine-default", "default":
		return CompareEngineDefault, nil
	case "binary":
		return CompareBinary, nil
	case "case-insensitive", "ci":
		return CompareCaseInsensitive, nil
	}
	return 0, fmt.Errorf("rules: unknown comparison %q", s)
}

// Fold returns the form of s that comparisons under c operate on.
func (c Comparison) Fold(s string) string {
	if c != CompareCaseInsensitive {
		return s
	}
	// A Caser carries state, so each call gets its own.
	return cases.Fold().String(s)
}

// Equal reports whether a and b are the same value under c.
func (c Comparison) Equal(a, b string) bool {
	if c != CompareCaseInsensitive {
		return a == b
	}
	return c.Fold(a) == c.Fold(b)
}

// Initial returns the first character of s as the names_name_prefix_score
// index keys it: one rune, folded under c. It returns "" for an empty string.
// A leading invalid byte comes back as U+FFFD, so every invalid name shares
// one initial; nameindex refuses such names.
func Initial(s string, c Comparison) string {
	if s == "" {
		return ""
	}
	r, _ := utf8.DecodeRuneInString(s)
	return c.Fold(string(r))
}
