package service

import (
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/mailer"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

func (s *serviceSuite) TestEnsureAdmin() {
	r := s.Require()

	b := &BootstrapService{Store: s.store, Recovery: s.recovery}
	inv, err := b.EnsureAdmin(s.ctx)
	r.NoError(err)
	r.Nil(inv, "no admin email configured")

	b.AdminEmail = "root@example.com"
	inv, err = b.EnsureAdmin(s.ctx)
	r.NoError(err)
	r.NotNil(inv)
	r.Equal(domain.RoleAdmin, inv.Role)
	r.Len(s.mailsOf(mailer.KindInvitation), 1)

	_, err = s.recovery.AcceptInvitation(s.ctx, s.lastToken(mailer.KindInvitation), "root", "root-password", testMeta)
	r.NoError(err)

	ok, err := b.IsBootstrapped(s.ctx)
	r.NoError(err)
	r.True(ok)

	inv, err = b.EnsureAdmin(s.ctx)
	r.NoError(err)
	r.Nil(inv)
	r.Len(s.mailsOf(mailer.KindInvitation), 1)
}

func (s *serviceSuite) TestHousekeepingCleanup() {
	r := s.Require()
	s.seedAccount("alice", "alice@example.com", "alice-password")

	_, err := s.recovery.RequestPasswordReset(s.ctx, "alice@example.com", testMeta)
	r.NoError(err)
	_, err = s.recovery.CreateInvitation(s.ctx, "", "carol@example.com", domain.RoleMember, testMeta)
	r.NoError(err)
	_, err = s.sessions.Login(s.ctx, "alice", "alice-password", "", testMeta)
	r.NoError(err)
	r.Positive(s.limiter.Len())

	hk := NewHousekeepingService(s.store, slogx.Discard(), time.Minute)
	hk.Limiters = []Sweeper{s.limiter}
	hk.Now = s.clock.Now

	// Nothing has expired yet.
	hk.Cleanup(s.ctx)
	n, err := s.store.RecoveryTokens().CountRecoveryTokens(s.ctx)
	r.NoError(err)
	r.Equal(2, n)

	s.clock.Advance(49 * time.Hour)
	hk.Cleanup(s.ctx)

	n, err = s.store.RecoveryTokens().CountRecoveryTokens(s.ctx)
	r.NoError(err)
	r.Zero(n)
	r.Zero(s.limiter.Len())

	// Sessions last 30 days.
	s.clock.Advance(30 * 24 * time.Hour)
	hk.Cleanup(s.ctx)
	deleted, err := s.store.Sessions().DeleteExpiredSessions(s.ctx, s.clock.Now())
	r.NoError(err)
	r.Zero(deleted)
}

func (s *serviceSuite) TestHousekeepingStartStop() {
	hk := NewHousekeepingService(s.store, slogx.Discard(), 0)
	s.Require().Equal(time.Hour, hk.Interval)
	hk.Start()
	hk.Stop()
}
