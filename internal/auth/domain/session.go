package domain

import "time"

// Session is the server side of a refresh credential. Its ID is the token
// id embedded in the credential and stays stable across refreshes, so
// revoking it ends the whole chain.
type Session struct {
	ID         string
	AccountID  string
	DeviceID   string
	CreatedAt  time.Time
	LastUsedAt time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
}

// Usable reports whether a refresh presented at now may be honoured.
func (s Session) Usable(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
