package domain_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/stretchr/testify/require"
)

func TestRecoveryTokenState(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	earlier := now.Add(-time.Minute)

	tests := []struct {
		name string
		tok  domain.RecoveryToken
		want domain.RecoveryState
	}{
		{"live", domain.RecoveryToken{ExpiresAt: now.Add(time.Minute)}, domain.RecoveryIssued},
		{"expired at boundary", domain.RecoveryToken{ExpiresAt: now}, domain.RecoveryExpired},
		{"consumed wins over expiry", domain.RecoveryToken{ExpiresAt: earlier, ConsumedAt: &earlier}, domain.RecoveryConsumed},
		{"superseded", domain.RecoveryToken{ExpiresAt: now.Add(time.Minute), SupersededAt: &earlier}, domain.RecoverySuperseded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.tok.State(now))
		})
	}
}

func TestSessionUsable(t *testing.T) {
	now := time.Now()
	s := domain.Session{ExpiresAt: now.Add(time.Hour)}
	require.True(t, s.Usable(now))
	require.False(t, s.Usable(now.Add(time.Hour)))

	revoked := now
	s.RevokedAt = &revoked
	require.False(t, s.Usable(now))
}

func TestPermissionsFor(t *testing.T) {
	admin := domain.PermissionsFor(domain.RoleAdmin)
	require.Contains(t, admin, domain.PermInvitationsWrite)
	require.Contains(t, admin, domain.PermAuditRead)

	member := domain.PermissionsFor(domain.RoleMember)
	require.Equal(t, []string{domain.PermProfileRead}, member)

	// Callers get a copy.
	member[0] = "tampered"
	require.Equal(t, []string{domain.PermProfileRead}, domain.PermissionsFor(domain.RoleMember))

	require.Nil(t, domain.PermissionsFor("nobody"))
	require.False(t, domain.KnownRole("nobody"))
	require.True(t, domain.KnownRole(domain.RoleMember))
}

func TestAuditEventCategory(t *testing.T) {
	require.Equal(t, domain.CategoryAbuse, domain.EventRateLimited.Category())
	require.Equal(t, domain.CategoryRecovery, domain.EventPasswordResetRequested.Category())
	require.Equal(t, domain.CategorySession, domain.EventTokenRefresh.Category())
	require.Equal(t, domain.CategoryInvitation, domain.EventInvitationAccepted.Category())
}
