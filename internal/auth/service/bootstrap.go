package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

var ErrBootstrapFailed = errors.New("bootstrap failed")

// BootstrapService seeds the first administrator. There is no sign-up in
// this system, so an empty database can only gain accounts through an
// invitation; the bootstrap one is addressed to AdminEmail.
type BootstrapService struct {
	Store      store.Store
	Recovery   *RecoveryService
	AdminEmail string
}

// IsBootstrapped reports whether at least one account exists.
func (s *BootstrapService) IsBootstrapped(ctx context.Context) (bool, error) {
	n, err := s.Store.Accounts().CountAccounts(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// EnsureAdmin invites AdminEmail as administrator when no account exists
// yet. It is a no-op when AdminEmail is empty or the system already has
// accounts, and returns the invitation it created otherwise.
func (s *BootstrapService) EnsureAdmin(ctx context.Context) (*domain.Invitation, error) {
	l := slogx.FromContext(ctx)

	if s.AdminEmail == "" {
		return nil, nil
	}

	// 1. Check if already bootstrapped
	bootstrapped, err := s.IsBootstrapped(ctx)
	if err != nil {
		l.Error("failed to count accounts", slog.Any("error", err))
		return nil, ErrBootstrapFailed
	}
	if bootstrapped {
		l.Debug("accounts exist, skipping bootstrap invitation")
		return nil, nil
	}

	// 2. Invite the administrator
	inv, err := s.Recovery.CreateInvitation(ctx, "", s.AdminEmail, domain.RoleAdmin, domain.RequestMeta{IP: "bootstrap"})
	if err != nil {
		l.Error("failed to create bootstrap invitation", slog.Any("error", err))
		return nil, errors.Join(ErrBootstrapFailed, err)
	}

	l.Info("bootstrap invitation created",
		slog.String("invitation_id", inv.ID),
		slog.String("email", MaskEmail(inv.Email)),
	)
	return &inv, nil
}
