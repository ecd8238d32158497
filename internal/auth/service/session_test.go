package service

import (
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/google/uuid"
)

func (s *serviceSuite) TestLoginIssuesCredentialPair() {
	r := s.Require()
	alice := s.seedAccount("alice", "alice@example.com", "alice-password")

	device := uuid.NewString()
	pair, err := s.sessions.Login(s.ctx, "alice", "alice-password", device, testMeta)
	r.NoError(err)
	r.Equal(alice.ID, pair.Account.ID)
	r.Equal(15*time.Minute, pair.Access.TTL())
	r.Equal(30*24*time.Hour, pair.Refresh.TTL())

	claims, err := s.sessions.Authenticate(s.ctx, pair.Access.Raw)
	r.NoError(err)
	r.Equal(alice.ID, claims.Subject)
	r.Equal("alice", claims.Username)
	r.True(claims.HasPermission(domain.PermProfileRead))

	// A refresh credential is not an access credential.
	_, err = s.sessions.Authenticate(s.ctx, pair.Refresh.Raw)
	r.ErrorIs(err, ErrUnauthorized)

	refresh, err := s.creds.Verify(pair.Refresh.Raw, jwtx.ClassRefresh)
	r.NoError(err)
	r.Equal(device, refresh.DeviceID)

	sess, err := s.store.Sessions().GetSession(s.ctx, refresh.TokenID())
	r.NoError(err)
	r.Equal(alice.ID, sess.AccountID)
	r.Equal(device, sess.DeviceID)

	// Emails match case-insensitively.
	_, err = s.sessions.Login(s.ctx, "ALICE@example.com", "alice-password", "", testMeta)
	r.NoError(err)
	r.Len(s.audit.ofType(domain.EventLogin), 2)
}

func (s *serviceSuite) TestLoginRejectsMalformedInput() {
	r := s.Require()

	_, err := s.sessions.Login(s.ctx, "", "password", "", testMeta)
	r.ErrorIs(err, ErrInvalidRequest)
	_, err = s.sessions.Login(s.ctx, "alice", "password", "not-a-uuid", testMeta)
	r.ErrorIs(err, ErrInvalidRequest)
}

func (s *serviceSuite) TestLoginFailuresAreIndistinguishable() {
	r := s.Require()
	s.seedAccount("alice", "alice@example.com", "alice-password")
	bob := s.seedAccount("bob", "bob@example.com", "bob-password")
	r.NoError(s.store.Accounts().UpdateStatus(s.ctx, bob.ID, domain.AccountInactive, s.clock.Now()))

	_, err := s.sessions.Login(s.ctx, "nobody", "whatever-password", "", testMeta)
	r.ErrorIs(err, ErrInvalidCredentials)
	_, err = s.sessions.Login(s.ctx, "alice", "wrong-password", "", testMeta)
	r.ErrorIs(err, ErrInvalidCredentials)
	_, err = s.sessions.Login(s.ctx, "bob", "bob-password", "", testMeta)
	r.ErrorIs(err, ErrInvalidCredentials)

	failed := s.audit.ofType(domain.EventFailedLogin)
	r.Len(failed, 3)
	r.Equal("unknown_account", failed[0].Metadata["reason"])
	r.Empty(failed[0].ActorID)
	r.Equal("bad_password", failed[1].Metadata["reason"])
	r.Equal("inactive", failed[2].Metadata["reason"])
	r.Equal(bob.ID, failed[2].ActorID)
}

func (s *serviceSuite) TestLoginRateLimit() {
	r := s.Require()
	s.seedAccount("alice", "alice@example.com", "alice-password")

	for range 5 {
		_, err := s.sessions.Login(s.ctx, "alice", "wrong-password", "", testMeta)
		r.ErrorIs(err, ErrInvalidCredentials)
	}

	// Even the right password is refused once the budget is spent.
	_, err := s.sessions.Login(s.ctx, "Alice", "alice-password", "", testMeta)
	var rl *RateLimitError
	r.ErrorAs(err, &rl)
	r.Equal(s.clock.Now().Add(15*time.Minute), rl.ResetAt)

	s.clock.Advance(15 * time.Minute)
	_, err = s.sessions.Login(s.ctx, "alice", "alice-password", "", testMeta)
	r.NoError(err)
}

func (s *serviceSuite) TestLoginSuccessResetsBudget() {
	r := s.Require()
	s.seedAccount("alice", "alice@example.com", "alice-password")

	for range 4 {
		_, err := s.sessions.Login(s.ctx, "alice", "wrong-password", "", testMeta)
		r.ErrorIs(err, ErrInvalidCredentials)
	}
	_, err := s.sessions.Login(s.ctx, "alice", "alice-password", "", testMeta)
	r.NoError(err)

	for range 5 {
		_, err := s.sessions.Login(s.ctx, "alice", "wrong-password", "", testMeta)
		r.ErrorIs(err, ErrInvalidCredentials)
	}
}

func (s *serviceSuite) TestRefreshKeepsSessionID() {
	r := s.Require()
	s.seedAccount("alice", "alice@example.com", "alice-password")

	pair, err := s.sessions.Login(s.ctx, "alice", "alice-password", "", testMeta)
	r.NoError(err)
	first, err := s.creds.Verify(pair.Refresh.Raw, jwtx.ClassRefresh)
	r.NoError(err)

	s.clock.Advance(time.Hour)
	next, err := s.sessions.Refresh(s.ctx, pair.Refresh.Raw, testMeta)
	r.NoError(err)
	r.NotEqual(pair.Access.Raw, next.Access.Raw)

	second, err := s.creds.Verify(next.Refresh.Raw, jwtx.ClassRefresh)
	r.NoError(err)
	r.Equal(first.TokenID(), second.TokenID())

	sess, err := s.store.Sessions().GetSession(s.ctx, first.TokenID())
	r.NoError(err)
	r.Equal(s.clock.Now(), sess.LastUsedAt)
	r.Equal(s.clock.Now().Add(30*24*time.Hour), sess.ExpiresAt)

	refreshed := s.audit.ofType(domain.EventTokenRefresh)
	r.Len(refreshed, 1)
	r.True(refreshed[0].Success)
}

func (s *serviceSuite) TestRefreshRejections() {
	r := s.Require()
	alice := s.seedAccount("alice", "alice@example.com", "alice-password")

	pair, err := s.sessions.Login(s.ctx, "alice", "alice-password", "", testMeta)
	r.NoError(err)

	_, err = s.sessions.Refresh(s.ctx, "garbage", testMeta)
	r.ErrorIs(err, ErrInvalidRefresh)
	_, err = s.sessions.Refresh(s.ctx, pair.Access.Raw, testMeta)
	r.ErrorIs(err, ErrInvalidRefresh)

	r.NoError(s.store.Accounts().UpdateStatus(s.ctx, alice.ID, domain.AccountInactive, s.clock.Now()))
	_, err = s.sessions.Refresh(s.ctx, pair.Refresh.Raw, testMeta)
	r.ErrorIs(err, ErrInvalidRefresh)

	rejected := s.audit.ofType(domain.EventTokenRefresh)
	r.Len(rejected, 3)
	for _, e := range rejected {
		r.False(e.Success)
	}
	r.Equal("inactive", rejected[2].Metadata["reason"])
}

func (s *serviceSuite) TestRefreshAfterExpiry() {
	r := s.Require()
	s.seedAccount("alice", "alice@example.com", "alice-password")

	pair, err := s.sessions.Login(s.ctx, "alice", "alice-password", "", testMeta)
	r.NoError(err)

	s.clock.Advance(30*24*time.Hour + time.Minute)
	_, err = s.sessions.Refresh(s.ctx, pair.Refresh.Raw, testMeta)
	r.ErrorIs(err, ErrInvalidRefresh)
}

func (s *serviceSuite) TestLogout() {
	r := s.Require()
	s.seedAccount("alice", "alice@example.com", "alice-password")

	pair, err := s.sessions.Login(s.ctx, "alice", "alice-password", "", testMeta)
	r.NoError(err)

	r.NoError(s.sessions.Logout(s.ctx, pair.Refresh.Raw, testMeta))
	_, err = s.sessions.Refresh(s.ctx, pair.Refresh.Raw, testMeta)
	r.ErrorIs(err, ErrInvalidRefresh)

	refreshed := s.audit.ofType(domain.EventTokenRefresh)
	r.Len(refreshed, 1)
	r.Equal("revoked", refreshed[0].Metadata["reason"])

	// Logging out twice is fine.
	r.NoError(s.sessions.Logout(s.ctx, pair.Refresh.Raw, testMeta))
	r.ErrorIs(s.sessions.Logout(s.ctx, pair.Access.Raw, testMeta), ErrInvalidRefresh)
}

func (s *serviceSuite) TestLogoutAll() {
	r := s.Require()
	alice := s.seedAccount("alice", "alice@example.com", "alice-password")

	laptop, err := s.sessions.Login(s.ctx, "alice", "alice-password", "", testMeta)
	r.NoError(err)
	phone, err := s.sessions.Login(s.ctx, "alice", "alice-password", "", testMeta)
	r.NoError(err)

	r.NoError(s.sessions.LogoutAll(s.ctx, alice.ID, testMeta))

	_, err = s.sessions.Refresh(s.ctx, laptop.Refresh.Raw, testMeta)
	r.ErrorIs(err, ErrInvalidRefresh)
	_, err = s.sessions.Refresh(s.ctx, phone.Refresh.Raw, testMeta)
	r.ErrorIs(err, ErrInvalidRefresh)

	r.Len(s.audit.ofType(domain.EventLogoutAll), 1)
	revoked := s.audit.ofType(domain.EventTokenRevoked)
	r.Len(revoked, 1)
	r.Equal("2", revoked[0].Metadata["sessions_revoked"])
}

func (s *serviceSuite) TestCurrentAccountAndAudit() {
	r := s.Require()
	alice := s.seedAccount("alice", "alice@example.com", "alice-password")

	got, err := s.sessions.CurrentAccount(s.ctx, alice.ID)
	r.NoError(err)
	r.Equal("alice", got.Username)

	_, err = s.sessions.CurrentAccount(s.ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	r.ErrorIs(err, ErrUnauthorized)

	r.NoError(s.store.AuditEvents().InsertAuditEvent(s.ctx, domain.AuditEvent{
		ID:        "01J00000000000000000000000",
		ActorID:   alice.ID,
		Type:      domain.EventLogin,
		Category:  domain.EventLogin.Category(),
		Success:   true,
		CreatedAt: s.clock.Now(),
	}))
	events, err := s.sessions.ListAudit(s.ctx, domain.AuditFilter{ActorID: alice.ID})
	r.NoError(err)
	r.Len(events, 1)
	r.Equal(domain.EventLogin, events[0].Type)
}
