package models

// NameRecord represents a row in the "names" table. Lookups by the first
// character of Name combined with Score are served by the
// names_name_prefix_score index.
type NameRecord struct {
	ID    int64
	Name  string
	Score int64
}

// CreateNameParams holds the fields required to create a name record.
type CreateNameParams struct {
	Name  string
	Score int64
}

// UpdateNameParams holds the fields of a name record that can be updated.
type UpdateNameParams struct {
	ID    int64
	Name  *string
	Score *int64
}
