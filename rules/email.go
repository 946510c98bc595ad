package rules

import "github.com/Skryldev/schemakit/models"

// EmailRule is the in-process form of the users_email_change trigger. It is
// applied to every update between reading the current row and writing the
// new one, inside the same transaction.
type EmailRule struct {
	Compare Comparison
}

// EmailChanged reports whether next carries a different email than old.
func (r EmailRule) EmailChanged(old, next models.User) bool {
	return !r.Compare.Equal(old.Email, next.Email)
}

// Apply returns next with ValidEmail forced to false when the email changed.
// When the email is unchanged next is returned as given, so a ValidEmail the
// caller set explicitly survives.
func (r EmailRule) Apply(old, next models.User) models.User {
	if r.EmailChanged(old, next) {
		next.ValidEmail = false
	}
	return next
}
