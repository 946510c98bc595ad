package schema

import "testing"

func TestParseIndexColumns(t *testing.T) {
	cases := []struct {
		def  string
		want []IndexColumn
		keys bool
	}{
		{
			def:  "CREATE INDEX names_name_prefix_score ON public.names USING btree (substr(name, 1, 1), score)",
			want: []IndexColumn{{Expr: "substr(name, 1, 1)"}, {Column: "score"}},
			keys: true,
		},
		{
			def:  `CREATE INDEX names_name_prefix_score ON names ("substr"(name, 1, 1), "score")`,
			want: []IndexColumn{{Expr: `"substr"(name, 1, 1)`}, {Column: "score"}},
			keys: false,
		},
		{
			def:  "CREATE INDEX names_name_prefix_score ON names (SUBSTR(name,1,1), Score)",
			want: []IndexColumn{{Expr: "SUBSTR(name,1,1)"}, {Column: "score"}},
			keys: true,
		},
		{
			def:  "CREATE INDEX i ON names (score, substr(name, 1, 1))",
			want: []IndexColumn{{Column: "score"}, {Expr: "substr(name, 1, 1)"}},
			keys: false,
		},
		{
			def: "not an index",
		},
	}
	for _, tc := range cases {
		got := parseIndexColumns(tc.def)
		if len(got) != len(tc.want) {
			t.Errorf("%s: got %+v, want %+v", tc.def, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("%s: column %d = %+v, want %+v", tc.def, i, got[i], tc.want[i])
			}
		}
		if len(got) > 0 {
			info := IndexInfo{Columns: got}
			if info.KeyedOnInitialAndScore() != tc.keys {
				t.Errorf("%s: KeyedOnInitialAndScore = %v", tc.def, !tc.keys)
			}
		}
	}
}

func TestKeyedOnInitialAndScore_MySQLPrefix(t *testing.T) {
	info := IndexInfo{Columns: []IndexColumn{{Column: "name", Prefix: 1}, {Column: "score"}}}
	if !info.KeyedOnInitialAndScore() {
		t.Fatal("name(1), score not recognised")
	}
	if got := info.Columns[0].String(); got != "name(1)" {
		t.Fatalf("String() = %q", got)
	}
	info.Columns[0].Prefix = 2
	if info.KeyedOnInitialAndScore() {
		t.Fatal("name(2) accepted")
	}
}
