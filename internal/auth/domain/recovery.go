package domain

import "time"

// RecoveryPurpose scopes a recovery token to one flow. A token minted for
// one purpose is never accepted by another.
type RecoveryPurpose string

const (
	PurposePasswordReset    RecoveryPurpose = "password_reset"
	PurposeUsernameRecovery RecoveryPurpose = "username_recovery"
	PurposeInvitation       RecoveryPurpose = "invitation"
)

// RecoveryToken is the stored half of a single-use token. The raw value is
// mailed out and never persisted; TokenHash is its keyed fingerprint.
type RecoveryToken struct {
	ID           string
	OwnerID      string // account id, or invitation id for PurposeInvitation
	Purpose      RecoveryPurpose
	TokenHash    string
	OriginIP     string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	ConsumedAt   *time.Time
	SupersededAt *time.Time
}

// RecoveryState is the lifecycle position of a token at a given instant.
type RecoveryState string

const (
	RecoveryIssued     RecoveryState = "token_issued"
	RecoveryConsumed   RecoveryState = "consumed"
	RecoverySuperseded RecoveryState = "superseded"
	RecoveryExpired    RecoveryState = "expired"
)

// State derives the lifecycle state at now. Consumption and supersession
// win over expiry.
func (t RecoveryToken) State(now time.Time) RecoveryState {
	switch {
	case t.ConsumedAt != nil:
		return RecoveryConsumed
	case t.SupersededAt != nil:
		return RecoverySuperseded
	case !now.Before(t.ExpiresAt):
		return RecoveryExpired
	default:
		return RecoveryIssued
	}
}
