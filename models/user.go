package models

import "time"

// User represents a row in the "users" table.
// Fields map 1-to-1 with columns; no automatic relation loading.
type User struct {
	ID    int64
	Name  string
	Email string
	// ValidEmail is cleared whenever Email changes, by the users_email_change
	// trigger in the database and by rules.EmailRule in the repository.
	ValidEmail bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CreateUserParams holds the fields required to create a new user.
type CreateUserParams struct {
	Name       string
	Email      string
	ValidEmail bool
}

// UpdateUserParams holds fields that can be updated. All fields are pointers
// so callers only set what needs changing; the repository builds the explicit
// SQL accordingly. A ValidEmail set alongside a changed Email is overridden
// to false.
type UpdateUserParams struct {
	ID         int64
	Name       *string
	Email      *string
	ValidEmail *bool
}
