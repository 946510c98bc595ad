package schema

import (
	"strings"

	"github.com/Skryldev/schemakit/db"
)

// initialExpr is the index key expression on engines without column-prefix
// indexes. Queries must repeat it verbatim for the planner to match it.
const initialExpr = "substr(name, 1, 1)"

// InitialPredicate returns a WHERE fragment with one '?' placeholder that
// selects names starting with initial, written so the names_name_prefix_score
// index can serve it, together with the value to bind.
//
// MySQL prefix indexes are used for LIKE 'x%' ranges; elsewhere the predicate
// is the indexed expression itself.
func InitialPredicate(d db.Dialect, initial string) (string, any) {
	if d == db.MySQL {
		return "name LIKE ?", escapeLike(initial) + "%"
	}
	return initialExpr + " = ?", initial
}

// InitialScanQuery is the canonical "names with this first character,
// ordered by score" query, with '?' placeholders. The repository and
// ExplainInitialScan both use it.
func InitialScanQuery(d db.Dialect) string {
	pred, _ := InitialPredicate(d, "")
	return "SELECT id, name, score FROM " + NamesTable + " WHERE " + pred + " ORDER BY score, id"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
