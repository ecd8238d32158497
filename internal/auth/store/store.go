package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrConflict reports a lost compare-and-set: the row exists but was
	// changed (consumed, accepted, revoked) by someone else first.
	ErrConflict = errors.New("store: conflicting update")
)

// UniqueViolation is returned (wrapping ErrAlreadyExists) when an insert
// collides with a unique column. Column is the bare column name, e.g.
// "username".
type UniqueViolation struct {
	Table  string
	Column string
}

func (e *UniqueViolation) Error() string {
	return "store: duplicate " + e.Table + "." + e.Column
}

func (e *UniqueViolation) Unwrap() error { return ErrAlreadyExists }

// Store is the root data access interface. Concrete drivers implement this.
// It exposes sub-repositories to keep concerns tidy and testable, and so a
// transaction hands out the same repos bound to the transaction.
type Store interface {
	Accounts() Accounts
	RecoveryTokens() RecoveryTokens
	Invitations() Invitations
	Sessions() Sessions
	AuditEvents() AuditEvents

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed. Inside fn only
	// the repos of tx may be used.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Accounts interface {
	GetAccountByID(ctx context.Context, id string) (domain.Account, error)

	// GetAccountByEmail matches the lower-cased email.
	GetAccountByEmail(ctx context.Context, email string) (domain.Account, error)

	GetAccountByUsername(ctx context.Context, username string) (domain.Account, error)

	// CreateAccount inserts a new account. Duplicate email or username
	// returns a *UniqueViolation.
	CreateAccount(ctx context.Context, a domain.Account) error

	// UpdatePasswordHash sets the argon2 hash and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error

	UpdateStatus(ctx context.Context, id string, status domain.AccountStatus, now time.Time) error

	CountAccounts(ctx context.Context) (int, error)
}

type RecoveryTokens interface {
	CreateRecoveryToken(ctx context.Context, t domain.RecoveryToken) error

	// GetRecoveryTokenByHash returns the record regardless of state; the
	// caller decides whether it is still usable.
	GetRecoveryTokenByHash(ctx context.Context, hash string) (domain.RecoveryToken, error)

	// SupersedeRecoveryTokens marks every live token of purpose for owner
	// superseded and returns how many it touched.
	SupersedeRecoveryTokens(ctx context.Context, ownerID string, purpose domain.RecoveryPurpose, now time.Time) (int64, error)

	// ConsumeRecoveryToken sets consumed_at only if the token is neither
	// consumed nor superseded and expires after now. A lost race or a token
	// that expired in the meantime returns ErrConflict.
	ConsumeRecoveryToken(ctx context.Context, id string, now time.Time) error

	// ListRecoveryTokens returns owner's tokens of purpose, newest first.
	ListRecoveryTokens(ctx context.Context, ownerID string, purpose domain.RecoveryPurpose) ([]domain.RecoveryToken, error)

	CountRecoveryTokens(ctx context.Context) (int, error)

	// DeleteExpiredRecoveryTokens is housekeeping.
	DeleteExpiredRecoveryTokens(ctx context.Context, before time.Time) (int64, error)
}

type Invitations interface {
	CreateInvitation(ctx context.Context, inv domain.Invitation) error

	GetInvitationByID(ctx context.Context, id string) (domain.Invitation, error)

	// ExtendInvitation moves expires_at of a pending invitation.
	ExtendInvitation(ctx context.Context, id string, expiresAt time.Time) error

	// MarkInvitationAccepted records the created account. Only succeeds
	// once; afterwards returns ErrConflict.
	MarkInvitationAccepted(ctx context.Context, id, accountID string, now time.Time) error

	// DeleteExpiredInvitations removes pending invitations that expired
	// before the cutoff.
	DeleteExpiredInvitations(ctx context.Context, before time.Time) (int64, error)
}

type Sessions interface {
	CreateSession(ctx context.Context, s domain.Session) error

	GetSession(ctx context.Context, id string) (domain.Session, error)

	// TouchSession records a refresh. Revoked sessions return ErrConflict.
	TouchSession(ctx context.Context, id string, usedAt, expiresAt time.Time) error

	// RevokeSession is idempotent.
	RevokeSession(ctx context.Context, id string, now time.Time) error

	// RevokeAccountSessions revokes every live session of the account.
	RevokeAccountSessions(ctx context.Context, accountID string, now time.Time) (int64, error)

	// DeleteExpiredSessions is housekeeping.
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}

type AuditEvents interface {
	InsertAuditEvent(ctx context.Context, e domain.AuditEvent) error

	// ListAuditEvents returns matching events, newest first.
	ListAuditEvents(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEvent, error)
}
