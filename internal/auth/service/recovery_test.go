package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/mailer"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
)

func (s *serviceSuite) TestPasswordResetFlow() {
	r := s.Require()
	alice := s.seedAccount("alice", "alice@example.com", "old-password")

	before, err := s.sessions.Login(s.ctx, "alice", "old-password", "", testMeta)
	r.NoError(err)

	res, err := s.recovery.RequestPasswordReset(s.ctx, "  Alice@Example.com ", testMeta)
	r.NoError(err)
	r.Equal("a***e@example.com", res.MaskedEmail)

	msgs := s.mailsOf(mailer.KindPasswordReset)
	r.Len(msgs, 1)
	r.Equal("alice@example.com", msgs[0].To)
	r.Equal("15 minutes", msgs[0].Data["expires_in"])
	r.Contains(msgs[0].Data["link"], "https://auth.example.com/password/reset?token=")
	r.NotContains(msgs[0].Data, "username")

	tok := s.lastToken(mailer.KindPasswordReset)
	r.NoError(s.recovery.ResetPassword(s.ctx, tok, "new-password-1", testMeta))

	_, err = s.sessions.Login(s.ctx, "alice", "old-password", "", testMeta)
	r.ErrorIs(err, ErrInvalidCredentials)
	_, err = s.sessions.Login(s.ctx, "alice@example.com", "new-password-1", "", testMeta)
	r.NoError(err)

	// Sessions opened before the reset are gone.
	_, err = s.sessions.Refresh(s.ctx, before.Refresh.Raw, testMeta)
	r.ErrorIs(err, ErrInvalidRefresh)

	// Single use.
	r.ErrorIs(s.recovery.ResetPassword(s.ctx, tok, "another-password", testMeta), ErrTokenUsed)

	r.Len(s.mailsOf(mailer.KindPasswordChanged), 1)

	done := s.audit.ofType(domain.EventPasswordResetCompleted)
	r.Len(done, 1)
	r.Equal(alice.ID, done[0].ActorID)
	r.Equal("1", done[0].Metadata["sessions_revoked"])

	requested := s.audit.ofType(domain.EventPasswordResetRequested)
	r.Len(requested, 1)
	r.Equal("true", requested[0].Metadata["account_found"])
}

func (s *serviceSuite) TestRequestForUnknownEmailLooksTheSame() {
	r := s.Require()
	s.seedAccount("alice", "alice@example.com", "old-password")

	known, err := s.recovery.RequestPasswordReset(s.ctx, "alice@example.com", testMeta)
	r.NoError(err)
	ghost, err := s.recovery.RequestPasswordReset(s.ctx, "ghost@example.com", testMeta)
	r.NoError(err)

	r.Equal("a***e@example.com", known.MaskedEmail)
	r.Equal("g***t@example.com", ghost.MaskedEmail)

	r.Len(s.mailsOf(mailer.KindPasswordReset), 1)
	n, err := s.store.RecoveryTokens().CountRecoveryTokens(s.ctx)
	r.NoError(err)
	r.Equal(1, n)

	events := s.audit.ofType(domain.EventPasswordResetRequested)
	r.Len(events, 2)
	r.Equal("false", events[1].Metadata["account_found"])
	r.Empty(events[1].ActorID)
}

func (s *serviceSuite) TestRequestForInactiveAccountIssuesNothing() {
	r := s.Require()
	a := s.seedAccount("alice", "alice@example.com", "old-password")
	r.NoError(s.store.Accounts().UpdateStatus(s.ctx, a.ID, domain.AccountInactive, s.clock.Now()))

	res, err := s.recovery.RequestUsernameRecovery(s.ctx, "alice@example.com", testMeta)
	r.NoError(err)
	r.Equal("a***e@example.com", res.MaskedEmail)
	r.Empty(s.mailsOf(mailer.KindUsernameRecovery))
}

func (s *serviceSuite) TestRequestRejectsMalformedEmail() {
	_, err := s.recovery.RequestPasswordReset(s.ctx, "not-an-email", testMeta)
	s.Require().ErrorIs(err, ErrInvalidRequest)
}

func (s *serviceSuite) TestRequestRateLimitPerEmail() {
	r := s.Require()
	s.seedAccount("alice", "alice@example.com", "old-password")

	for range 3 {
		_, err := s.recovery.RequestPasswordReset(s.ctx, "alice@example.com", testMeta)
		r.NoError(err)
	}

	_, err := s.recovery.RequestPasswordReset(s.ctx, "alice@example.com", testMeta)
	var rl *RateLimitError
	r.ErrorAs(err, &rl)
	r.ErrorIs(err, ErrRateLimited)
	r.Equal(s.clock.Now().Add(time.Hour), rl.ResetAt)
	r.Equal(time.Hour, rl.RetryAfter(s.clock.Now()))
	r.Len(s.mailsOf(mailer.KindPasswordReset), 3)

	limited := s.audit.ofType(domain.EventRateLimited)
	r.Len(limited, 1)
	r.Equal("password_reset", limited[0].Metadata["scope"])

	// Each flow has its own budget.
	_, err = s.recovery.RequestUsernameRecovery(s.ctx, "alice@example.com", testMeta)
	r.NoError(err)

	s.clock.Advance(time.Hour)
	_, err = s.recovery.RequestPasswordReset(s.ctx, "alice@example.com", testMeta)
	r.NoError(err)
}

func (s *serviceSuite) TestRequestRateLimitPerIP() {
	r := s.Require()

	for i := range 20 {
		_, err := s.recovery.RequestPasswordReset(s.ctx, fmt.Sprintf("user%d@example.com", i), testMeta)
		r.NoError(err)
	}

	_, err := s.recovery.RequestPasswordReset(s.ctx, "user99@example.com", testMeta)
	r.ErrorIs(err, ErrRateLimited)

	limited := s.audit.ofType(domain.EventRateLimited)
	r.Len(limited, 1)
	r.Equal("password_reset-ip", limited[0].Metadata["scope"])

	// Another caller is unaffected.
	_, err = s.recovery.RequestPasswordReset(s.ctx, "user99@example.com", domain.RequestMeta{IP: "198.51.100.1"})
	r.NoError(err)
}

func (s *serviceSuite) TestNewerTokenSupersedesOlder() {
	r := s.Require()
	a := s.seedAccount("alice", "alice@example.com", "old-password")

	_, err := s.recovery.RequestPasswordReset(s.ctx, "alice@example.com", testMeta)
	r.NoError(err)
	first := s.lastToken(mailer.KindPasswordReset)

	s.clock.Advance(time.Minute)
	_, err = s.recovery.RequestPasswordReset(s.ctx, "alice@example.com", testMeta)
	r.NoError(err)
	second := s.lastToken(mailer.KindPasswordReset)
	r.NotEqual(first, second)

	toks, err := s.store.RecoveryTokens().ListRecoveryTokens(s.ctx, a.ID, domain.PurposePasswordReset)
	r.NoError(err)
	r.Len(toks, 2)
	r.Equal(domain.RecoveryIssued, toks[0].State(s.clock.Now()))
	r.Equal(domain.RecoverySuperseded, toks[1].State(s.clock.Now()))

	r.ErrorIs(s.recovery.ResetPassword(s.ctx, first, "new-password-1", testMeta), ErrTokenUsed)
	r.NoError(s.recovery.ResetPassword(s.ctx, second, "new-password-1", testMeta))
}

func (s *serviceSuite) TestExpiredToken() {
	r := s.Require()
	s.seedAccount("alice", "alice@example.com", "old-password")

	_, err := s.recovery.RequestPasswordReset(s.ctx, "alice@example.com", testMeta)
	r.NoError(err)
	tok := s.lastToken(mailer.KindPasswordReset)

	s.clock.Advance(15 * time.Minute)
	r.ErrorIs(s.recovery.ResetPassword(s.ctx, tok, "new-password-1", testMeta), ErrTokenExpired)

	rejected := s.audit.ofType(domain.EventRecoveryTokenRejected)
	r.Len(rejected, 1)
	r.Equal("expired_token", rejected[0].Metadata["reason"])
	r.False(rejected[0].Success)
}

func (s *serviceSuite) TestTokenExpiringBeforeConsumeIsRejected() {
	r := s.Require()
	s.seedAccount("alice", "alice@example.com", "old-password")

	_, err := s.recovery.RequestPasswordReset(s.ctx, "alice@example.com", testMeta)
	r.NoError(err)
	tok := s.lastToken(mailer.KindPasswordReset)

	// The lookup sees a live token; by the time the transaction runs it has
	// expired.
	calls := 0
	s.recovery.Now = func() time.Time {
		calls++
		if calls == 1 {
			return s.clock.Now()
		}
		return s.clock.Now().Add(15 * time.Minute)
	}

	r.ErrorIs(s.recovery.ResetPassword(s.ctx, tok, "new-password-1", testMeta), ErrTokenExpired)

	_, err = s.sessions.Login(s.ctx, "alice", "old-password", "", testMeta)
	r.NoError(err)

	rejected := s.audit.ofType(domain.EventRecoveryTokenRejected)
	r.Len(rejected, 1)
	r.Equal("expired_token", rejected[0].Metadata["reason"])
}

func (s *serviceSuite) TestInvalidTokens() {
	r := s.Require()
	s.seedAccount("alice", "alice@example.com", "old-password")

	r.ErrorIs(s.recovery.ResetPassword(s.ctx, "not-a-token", "new-password-1", testMeta), ErrTokenInvalid)
	r.ErrorIs(s.recovery.ResetPassword(s.ctx, cryptox.MustGenerateToken(cryptox.TokenSize256), "new-password-1", testMeta), ErrTokenInvalid)

	// A token minted for another purpose is unknown here.
	_, err := s.recovery.RequestUsernameRecovery(s.ctx, "alice@example.com", testMeta)
	r.NoError(err)
	tok := s.lastToken(mailer.KindUsernameRecovery)
	r.ErrorIs(s.recovery.ResetPassword(s.ctx, tok, "new-password-1", testMeta), ErrTokenInvalid)

	username, err := s.recovery.RecoverUsername(s.ctx, tok, testMeta)
	r.NoError(err)
	r.Equal("alice", username)
}

func (s *serviceSuite) TestWeakPasswordLeavesTokenUsable() {
	r := s.Require()
	s.seedAccount("alice", "alice@example.com", "old-password")

	_, err := s.recovery.RequestPasswordReset(s.ctx, "alice@example.com", testMeta)
	r.NoError(err)
	tok := s.lastToken(mailer.KindPasswordReset)

	r.ErrorIs(s.recovery.ResetPassword(s.ctx, tok, "short", testMeta), ErrInvalidPassword)
	r.ErrorIs(s.recovery.ResetPassword(s.ctx, tok, "         ", testMeta), ErrInvalidPassword)
	r.NoError(s.recovery.ResetPassword(s.ctx, tok, "long-enough", testMeta))
}

func (s *serviceSuite) TestUsernameRecovery() {
	r := s.Require()
	s.seedAccount("alice", "alice@example.com", "old-password")

	_, err := s.recovery.RequestUsernameRecovery(s.ctx, "alice@example.com", testMeta)
	r.NoError(err)
	msgs := s.mailsOf(mailer.KindUsernameRecovery)
	r.Len(msgs, 1)
	r.NotContains(msgs[0].Data, "username")
	tok := s.lastToken(mailer.KindUsernameRecovery)

	username, err := s.recovery.RecoverUsername(s.ctx, tok, testMeta)
	r.NoError(err)
	r.Equal("alice", username)

	_, err = s.recovery.RecoverUsername(s.ctx, tok, testMeta)
	r.ErrorIs(err, ErrTokenUsed)
	r.Len(s.audit.ofType(domain.EventUsernameRecovered), 1)
}

func (s *serviceSuite) TestInvitationConcurrentAccept() {
	r := s.Require()

	inv, err := s.recovery.CreateInvitation(s.ctx, "", "Carol@Example.com", domain.RoleMember, testMeta)
	r.NoError(err)
	r.Equal("carol@example.com", inv.Email)

	msgs := s.mailsOf(mailer.KindInvitation)
	r.Len(msgs, 1)
	r.Equal("carol@example.com", msgs[0].To)
	r.Equal("24 hours", msgs[0].Data["expires_in"])
	r.Equal(domain.RoleMember, msgs[0].Data["role"])
	tok := s.lastToken(mailer.KindInvitation)

	const n = 4
	var (
		wg        sync.WaitGroup
		errs      = make([]error, n)
		successes = make([]domain.Account, n)
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			successes[i], errs[i] = s.recovery.AcceptInvitation(s.ctx, tok, fmt.Sprintf("carol%d", i), "carol-password", testMeta)
		}()
	}
	wg.Wait()

	won := 0
	for i, err := range errs {
		if err == nil {
			won++
			r.Equal("carol@example.com", successes[i].Email)
			r.Equal(domain.PermissionsFor(domain.RoleMember), successes[i].Permissions)
			continue
		}
		r.ErrorIs(err, ErrTokenUsed)
	}
	r.Equal(1, won)

	count, err := s.store.Accounts().CountAccounts(s.ctx)
	r.NoError(err)
	r.Equal(1, count)

	got, err := s.store.Invitations().GetInvitationByID(s.ctx, inv.ID)
	r.NoError(err)
	r.True(got.Accepted())
}

func (s *serviceSuite) TestInvitationUsernameTakenKeepsToken() {
	r := s.Require()
	s.seedAccount("bob", "bob@example.com", "bob-password")

	_, err := s.recovery.CreateInvitation(s.ctx, "", "carol@example.com", domain.RoleAdmin, testMeta)
	r.NoError(err)
	tok := s.lastToken(mailer.KindInvitation)

	_, err = s.recovery.AcceptInvitation(s.ctx, tok, "bob", "carol-password", testMeta)
	r.ErrorIs(err, ErrUsernameTaken)

	acct, err := s.recovery.AcceptInvitation(s.ctx, tok, "carol", "carol-password", testMeta)
	r.NoError(err)
	r.Equal(domain.RoleAdmin, acct.Role)

	pair, err := s.sessions.Login(s.ctx, "carol", "carol-password", "", testMeta)
	r.NoError(err)
	claims, err := s.sessions.Authenticate(s.ctx, pair.Access.Raw)
	r.NoError(err)
	r.True(claims.HasPermission(domain.PermInvitationsWrite))
}

func (s *serviceSuite) TestCreateInvitationValidation() {
	r := s.Require()
	s.seedAccount("bob", "bob@example.com", "bob-password")

	_, err := s.recovery.CreateInvitation(s.ctx, "", "BOB@example.com", domain.RoleMember, testMeta)
	r.ErrorIs(err, ErrEmailTaken)
	_, err = s.recovery.CreateInvitation(s.ctx, "", "dave@example.com", "overlord", testMeta)
	r.ErrorIs(err, ErrInvalidRequest)
	_, err = s.recovery.CreateInvitation(s.ctx, "", "dave", domain.RoleMember, testMeta)
	r.ErrorIs(err, ErrInvalidRequest)

	_, err = s.recovery.CreateInvitation(s.ctx, "", "dave@example.com", domain.RoleMember, testMeta)
	r.NoError(err)
	tok := s.lastToken(mailer.KindInvitation)

	_, err = s.recovery.AcceptInvitation(s.ctx, tok, "d", "dave-password", testMeta)
	r.ErrorIs(err, ErrInvalidRequest)
	_, err = s.recovery.AcceptInvitation(s.ctx, tok, "dave", "short", testMeta)
	r.ErrorIs(err, ErrInvalidPassword)
}

func (s *serviceSuite) TestResendInvitation() {
	r := s.Require()

	inv, err := s.recovery.CreateInvitation(s.ctx, "", "carol@example.com", domain.RoleMember, testMeta)
	r.NoError(err)
	first := s.lastToken(mailer.KindInvitation)

	s.clock.Advance(time.Hour)
	r.NoError(s.recovery.ResendInvitation(s.ctx, "", inv.ID, testMeta))
	second := s.lastToken(mailer.KindInvitation)
	r.NotEqual(first, second)

	got, err := s.store.Invitations().GetInvitationByID(s.ctx, inv.ID)
	r.NoError(err)
	r.Equal(s.clock.Now().Add(24*time.Hour), got.ExpiresAt)

	_, err = s.recovery.AcceptInvitation(s.ctx, first, "carol", "carol-password", testMeta)
	r.ErrorIs(err, ErrTokenUsed)

	rejected := s.audit.ofType(domain.EventRecoveryTokenRejected)
	r.Len(rejected, 1)
	r.Empty(rejected[0].ActorID)
	r.Equal(inv.ID, rejected[0].Metadata["invitation_id"])

	_, err = s.recovery.AcceptInvitation(s.ctx, second, "carol", "carol-password", testMeta)
	r.NoError(err)

	r.ErrorIs(s.recovery.ResendInvitation(s.ctx, "", inv.ID, testMeta), ErrTokenUsed)
	r.ErrorIs(s.recovery.ResendInvitation(s.ctx, "", "01HZZZZZZZZZZZZZZZZZZZZZZZ", testMeta), ErrInvitationNotFound)
}

func (s *serviceSuite) TestExpiredInvitation() {
	r := s.Require()

	_, err := s.recovery.CreateInvitation(s.ctx, "", "carol@example.com", domain.RoleMember, testMeta)
	r.NoError(err)
	tok := s.lastToken(mailer.KindInvitation)

	s.clock.Advance(24 * time.Hour)
	_, err = s.recovery.AcceptInvitation(s.ctx, tok, "carol", "carol-password", testMeta)
	r.ErrorIs(err, ErrTokenExpired)
}

func (s *serviceSuite) TestRequestLatencyIsPadded() {
	r := s.Require()
	s.seedAccount("alice", "alice@example.com", "old-password")
	s.recovery.Policy.MinResponseTime = 100 * time.Millisecond

	measure := func(email string) time.Duration {
		start := time.Now()
		_, err := s.recovery.RequestPasswordReset(s.ctx, email, testMeta)
		r.NoError(err)
		return time.Since(start)
	}

	known := measure("alice@example.com")
	ghost := measure("ghost@example.com")

	r.GreaterOrEqual(known, 100*time.Millisecond)
	r.GreaterOrEqual(ghost, 100*time.Millisecond)
	diff := known - ghost
	if diff < 0 {
		diff = -diff
	}
	r.Less(diff, 60*time.Millisecond)
}

func (s *serviceSuite) TestStorageFailureIsInternal() {
	r := s.Require()
	r.NoError(s.store.Close())

	_, err := s.recovery.RequestPasswordReset(s.ctx, "alice@example.com", testMeta)
	r.ErrorIs(err, ErrInternal)
	r.False(errors.Is(err, ErrRateLimited))
}
