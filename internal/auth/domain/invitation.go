package domain

import "time"

// Invitation is a pending account. Accepting it (with the invitation
// recovery token) creates the account.
type Invitation struct {
	ID         string
	Email      string
	Role       string
	InvitedBy  string // empty for the bootstrap invitation
	CreatedAt  time.Time
	ExpiresAt  time.Time
	AcceptedAt *time.Time
	AccountID  string // set once accepted
}

// Accepted reports whether the invitation has already produced an account.
func (i Invitation) Accepted() bool { return i.AcceptedAt != nil }
