package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/authcore/pkg/idx"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()

	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	return s
}

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func seedAccount(t *testing.T, s store.Store, username, email string) domain.Account {
	t.Helper()
	a := domain.Account{
		ID:           idx.New().String(),
		Email:        email,
		Username:     username,
		PasswordHash: "argon2id$dummy",
		Role:         domain.RoleMember,
		Permissions:  domain.PermissionsFor(domain.RoleMember),
		Status:       domain.AccountActive,
		CreatedAt:    epoch,
		UpdatedAt:    epoch,
	}
	require.NoError(t, s.Accounts().CreateAccount(context.Background(), a))
	return a
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.ApplyMigrations())
	require.NoError(t, s.Ping(context.Background()))
}

func TestAccounts(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	a := seedAccount(t, s, "alice", "Alice@Example.com")

	t.Run("lookups", func(t *testing.T) {
		got, err := s.Accounts().GetAccountByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		require.Equal(t, a.ID, got.ID)
		require.Equal(t, "alice@example.com", got.Email)
		require.Equal(t, []string{domain.PermProfileRead}, got.Permissions)
		require.True(t, got.CreatedAt.Equal(epoch))

		got, err = s.Accounts().GetAccountByUsername(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, a.ID, got.ID)

		_, err = s.Accounts().GetAccountByID(ctx, "missing")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("duplicate username reports the column", func(t *testing.T) {
		dup := a
		dup.ID = idx.New().String()
		dup.Email = "other@example.com"

		err := s.Accounts().CreateAccount(ctx, dup)
		require.ErrorIs(t, err, store.ErrAlreadyExists)

		var uv *store.UniqueViolation
		require.True(t, errors.As(err, &uv))
		require.Equal(t, "accounts", uv.Table)
		require.Equal(t, "username", uv.Column)
	})

	t.Run("duplicate email reports the column", func(t *testing.T) {
		dup := a
		dup.ID = idx.New().String()
		dup.Username = "alice2"

		var uv *store.UniqueViolation
		require.True(t, errors.As(s.Accounts().CreateAccount(ctx, dup), &uv))
		require.Equal(t, "email", uv.Column)
	})

	t.Run("update password", func(t *testing.T) {
		later := epoch.Add(time.Hour)
		require.NoError(t, s.Accounts().UpdatePasswordHash(ctx, a.ID, "argon2id$new", later))

		got, err := s.Accounts().GetAccountByID(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, "argon2id$new", got.PasswordHash)
		require.True(t, got.UpdatedAt.Equal(later))

		require.ErrorIs(t, s.Accounts().UpdatePasswordHash(ctx, "missing", "x", later), store.ErrNotFound)
	})

	t.Run("status and count", func(t *testing.T) {
		require.NoError(t, s.Accounts().UpdateStatus(ctx, a.ID, domain.AccountInactive, epoch))
		got, err := s.Accounts().GetAccountByID(ctx, a.ID)
		require.NoError(t, err)
		require.False(t, got.Active())

		n, err := s.Accounts().CountAccounts(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})
}

func newRecoveryToken(owner string, purpose domain.RecoveryPurpose, hash string, createdAt time.Time) domain.RecoveryToken {
	return domain.RecoveryToken{
		ID:        idx.NewAt(createdAt).String(),
		OwnerID:   owner,
		Purpose:   purpose,
		TokenHash: hash,
		OriginIP:  "198.51.100.7",
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(15 * time.Minute),
	}
}

func TestRecoveryTokens(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	repo := s.RecoveryTokens()

	first := newRecoveryToken("acct-1", domain.PurposePasswordReset, "hash-1", epoch)
	require.NoError(t, repo.CreateRecoveryToken(ctx, first))

	t.Run("lookup by hash", func(t *testing.T) {
		got, err := repo.GetRecoveryTokenByHash(ctx, "hash-1")
		require.NoError(t, err)
		require.Equal(t, first.ID, got.ID)
		require.Equal(t, domain.RecoveryIssued, got.State(epoch))

		_, err = repo.GetRecoveryTokenByHash(ctx, "nope")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("supersede only touches the same owner and purpose", func(t *testing.T) {
		other := newRecoveryToken("acct-1", domain.PurposeUsernameRecovery, "hash-u", epoch)
		require.NoError(t, repo.CreateRecoveryToken(ctx, other))

		n, err := repo.SupersedeRecoveryTokens(ctx, "acct-1", domain.PurposePasswordReset, epoch.Add(time.Minute))
		require.NoError(t, err)
		require.EqualValues(t, 1, n)

		got, err := repo.GetRecoveryTokenByHash(ctx, "hash-1")
		require.NoError(t, err)
		require.Equal(t, domain.RecoverySuperseded, got.State(epoch))

		got, err = repo.GetRecoveryTokenByHash(ctx, "hash-u")
		require.NoError(t, err)
		require.Equal(t, domain.RecoveryIssued, got.State(epoch))

		// Superseded tokens cannot be consumed.
		require.ErrorIs(t, repo.ConsumeRecoveryToken(ctx, first.ID, epoch), store.ErrConflict)
	})

	t.Run("consume is single use", func(t *testing.T) {
		tok := newRecoveryToken("acct-2", domain.PurposePasswordReset, "hash-2", epoch)
		require.NoError(t, repo.CreateRecoveryToken(ctx, tok))

		require.NoError(t, repo.ConsumeRecoveryToken(ctx, tok.ID, epoch.Add(time.Minute)))
		require.ErrorIs(t, repo.ConsumeRecoveryToken(ctx, tok.ID, epoch.Add(2*time.Minute)), store.ErrConflict)

		got, err := repo.GetRecoveryTokenByHash(ctx, "hash-2")
		require.NoError(t, err)
		require.Equal(t, domain.RecoveryConsumed, got.State(epoch))
	})

	t.Run("consume refuses expired tokens", func(t *testing.T) {
		tok := newRecoveryToken("acct-4", domain.PurposePasswordReset, "hash-4", epoch)
		require.NoError(t, repo.CreateRecoveryToken(ctx, tok))

		require.ErrorIs(t, repo.ConsumeRecoveryToken(ctx, tok.ID, tok.ExpiresAt), store.ErrConflict)

		got, err := repo.GetRecoveryTokenByHash(ctx, "hash-4")
		require.NoError(t, err)
		require.Nil(t, got.ConsumedAt)
		require.Equal(t, domain.RecoveryExpired, got.State(tok.ExpiresAt))
	})

	t.Run("duplicate hash", func(t *testing.T) {
		dup := newRecoveryToken("acct-3", domain.PurposePasswordReset, "hash-2", epoch)
		require.ErrorIs(t, repo.CreateRecoveryToken(ctx, dup), store.ErrAlreadyExists)
	})

	t.Run("list newest first", func(t *testing.T) {
		second := newRecoveryToken("acct-1", domain.PurposePasswordReset, "hash-1b", epoch.Add(time.Minute))
		require.NoError(t, repo.CreateRecoveryToken(ctx, second))

		list, err := repo.ListRecoveryTokens(ctx, "acct-1", domain.PurposePasswordReset)
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, second.ID, list[0].ID)
		require.Equal(t, first.ID, list[1].ID)
	})

	t.Run("housekeeping", func(t *testing.T) {
		before, err := repo.CountRecoveryTokens(ctx)
		require.NoError(t, err)

		n, err := repo.DeleteExpiredRecoveryTokens(ctx, epoch.Add(15*time.Minute+30*time.Second))
		require.NoError(t, err)
		require.EqualValues(t, 4, n) // everything but hash-1b

		after, err := repo.CountRecoveryTokens(ctx)
		require.NoError(t, err)
		require.Equal(t, before-4, after)
	})
}

func TestInvitations(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	repo := s.Invitations()

	inv := domain.Invitation{
		ID:        idx.New().String(),
		Email:     "New@Example.com",
		Role:      domain.RoleMember,
		CreatedAt: epoch,
		ExpiresAt: epoch.Add(24 * time.Hour),
	}
	require.NoError(t, repo.CreateInvitation(ctx, inv))

	got, err := repo.GetInvitationByID(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, "new@example.com", got.Email)
	require.Empty(t, got.InvitedBy)
	require.False(t, got.Accepted())

	require.NoError(t, repo.ExtendInvitation(ctx, inv.ID, epoch.Add(48*time.Hour)))

	require.NoError(t, repo.MarkInvitationAccepted(ctx, inv.ID, "acct-9", epoch.Add(time.Hour)))
	require.ErrorIs(t, repo.MarkInvitationAccepted(ctx, inv.ID, "acct-10", epoch.Add(time.Hour)), store.ErrConflict)
	require.ErrorIs(t, repo.ExtendInvitation(ctx, inv.ID, epoch), store.ErrConflict)

	got, err = repo.GetInvitationByID(ctx, inv.ID)
	require.NoError(t, err)
	require.True(t, got.Accepted())
	require.Equal(t, "acct-9", got.AccountID)

	// Accepted invitations survive housekeeping.
	n, err := repo.DeleteExpiredInvitations(ctx, epoch.Add(100*time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := seedAccount(t, s, "bob", "bob@example.com")
	repo := s.Sessions()

	sess := domain.Session{
		ID:         idx.New().String(),
		AccountID:  a.ID,
		DeviceID:   "Firefox on Linux",
		CreatedAt:  epoch,
		LastUsedAt: epoch,
		ExpiresAt:  epoch.Add(30 * 24 * time.Hour),
	}
	require.NoError(t, repo.CreateSession(ctx, sess))

	t.Run("touch slides expiry", func(t *testing.T) {
		used := epoch.Add(time.Hour)
		require.NoError(t, repo.TouchSession(ctx, sess.ID, used, used.Add(30*24*time.Hour)))

		got, err := repo.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		require.True(t, got.LastUsedAt.Equal(used))
		require.True(t, got.Usable(used))
	})

	t.Run("revoke is idempotent and blocks touch", func(t *testing.T) {
		require.NoError(t, repo.RevokeSession(ctx, sess.ID, epoch.Add(2*time.Hour)))
		require.NoError(t, repo.RevokeSession(ctx, sess.ID, epoch.Add(3*time.Hour)))
		require.NoError(t, repo.RevokeSession(ctx, "unknown", epoch))

		got, err := repo.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		require.NotNil(t, got.RevokedAt)
		require.True(t, got.RevokedAt.Equal(epoch.Add(2*time.Hour)))

		require.ErrorIs(t, repo.TouchSession(ctx, sess.ID, epoch, epoch), store.ErrConflict)
	})

	t.Run("revoke all", func(t *testing.T) {
		for range 3 {
			require.NoError(t, repo.CreateSession(ctx, domain.Session{
				ID:         idx.New().String(),
				AccountID:  a.ID,
				CreatedAt:  epoch,
				LastUsedAt: epoch,
				ExpiresAt:  epoch.Add(time.Hour),
			}))
		}
		n, err := repo.RevokeAccountSessions(ctx, a.ID, epoch)
		require.NoError(t, err)
		require.EqualValues(t, 3, n)

		n, err = repo.DeleteExpiredSessions(ctx, epoch.Add(2*time.Hour))
		require.NoError(t, err)
		require.EqualValues(t, 3, n)
	})

	t.Run("unknown account violates the foreign key", func(t *testing.T) {
		err := repo.CreateSession(ctx, domain.Session{ID: "x", AccountID: "ghost", ExpiresAt: epoch})
		require.Error(t, err)
	})
}

func TestAuditEvents(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	repo := s.AuditEvents()

	for i, typ := range []domain.AuditEventType{domain.EventLogin, domain.EventFailedLogin, domain.EventLogin} {
		at := epoch.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.InsertAuditEvent(ctx, domain.AuditEvent{
			ID:        idx.NewAt(at).String(),
			ActorID:   "acct-1",
			Type:      typ,
			Category:  typ.Category(),
			Success:   typ == domain.EventLogin,
			IP:        "203.0.113.1",
			UserAgent: "curl/8.0",
			Metadata:  map[string]string{"n": string(rune('a' + i))},
			CreatedAt: at,
		}))
	}
	require.NoError(t, repo.InsertAuditEvent(ctx, domain.AuditEvent{
		ID:        idx.New().String(),
		Type:      domain.EventRateLimited,
		Category:  domain.CategoryAbuse,
		CreatedAt: epoch.Add(time.Hour),
	}))

	t.Run("all newest first", func(t *testing.T) {
		list, err := repo.ListAuditEvents(ctx, domain.AuditFilter{})
		require.NoError(t, err)
		require.Len(t, list, 4)
		require.Equal(t, domain.EventRateLimited, list[0].Type)
		require.Empty(t, list[0].ActorID)
		require.Nil(t, list[0].Metadata)
	})

	t.Run("filter by actor and type", func(t *testing.T) {
		list, err := repo.ListAuditEvents(ctx, domain.AuditFilter{ActorID: "acct-1", Type: domain.EventLogin})
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.True(t, list[0].Success)
		require.Equal(t, "c", list[0].Metadata["n"])
		require.Equal(t, "a", list[1].Metadata["n"])
	})

	t.Run("before and limit", func(t *testing.T) {
		list, err := repo.ListAuditEvents(ctx, domain.AuditFilter{Before: epoch.Add(90 * time.Second), Limit: 1})
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.Equal(t, domain.EventFailedLogin, list[0].Type)
		require.False(t, list[0].Success)
	})
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	t.Run("commit", func(t *testing.T) {
		err := s.WithTx(ctx, func(tx store.Tx) error {
			return tx.Accounts().CreateAccount(ctx, domain.Account{
				ID: "tx-1", Email: "tx1@example.com", Username: "tx1", Role: domain.RoleMember,
				CreatedAt: epoch, UpdatedAt: epoch,
			})
		})
		require.NoError(t, err)

		_, err = s.Accounts().GetAccountByID(ctx, "tx-1")
		require.NoError(t, err)
	})

	t.Run("rollback on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.WithTx(ctx, func(tx store.Tx) error {
			require.NoError(t, tx.Accounts().CreateAccount(ctx, domain.Account{
				ID: "tx-2", Email: "tx2@example.com", Username: "tx2", Role: domain.RoleMember,
				CreatedAt: epoch, UpdatedAt: epoch,
			}))
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, err = s.Accounts().GetAccountByID(ctx, "tx-2")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("no nesting", func(t *testing.T) {
		err := s.WithTx(ctx, func(tx store.Tx) error {
			return tx.WithTx(ctx, func(store.Tx) error { return nil })
		})
		require.Error(t, err)
	})
}
