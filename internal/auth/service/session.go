package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/metrics"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/idx"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
	"github.com/google/uuid"
)

// DefaultLoginLimit bounds login attempts per identifier.
var DefaultLoginLimit = ratelimit.Policy{Max: 5, Window: 15 * time.Minute}

// LoginResult is a freshly issued credential pair.
type LoginResult struct {
	Access  jwtx.Token
	Refresh jwtx.Token
	Account domain.Account
}

// SessionService logs accounts in, refreshes their credentials and
// revokes them.
type SessionService struct {
	Store       store.Store
	Limiter     Limiter
	Audit       AuditRecorder
	Passwords   *cryptox.PasswordHasher
	Credentials Credentials
	LoginLimit  ratelimit.Policy
	Metrics     *metrics.Metrics

	Now func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func (s *SessionService) now() time.Time { return nowFunc(s.Now) }

func (s *SessionService) loginLimit() ratelimit.Policy {
	if s.LoginLimit.Window <= 0 {
		return DefaultLoginLimit
	}
	return s.LoginLimit
}

// dummy returns a valid hash to verify against when no account matched,
// so unknown identifiers cost the same as wrong passwords.
func (s *SessionService) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.Passwords.HashPassword(cryptox.MustGenerateToken(cryptox.TokenSize128))
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}

// Login checks identifier (an email or a username) and password and opens
// a refresh session. Every kind of failure returns ErrInvalidCredentials.
func (s *SessionService) Login(ctx context.Context, identifier, password, deviceID string, meta domain.RequestMeta) (LoginResult, error) {
	log := slogx.FromContext(ctx)

	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return LoginResult{}, ErrInvalidRequest
	}
	if deviceID == "" {
		deviceID = uuid.NewString()
	} else if _, err := uuid.Parse(deviceID); err != nil {
		return LoginResult{}, ErrInvalidRequest
	}

	key := "login:" + strings.ToLower(identifier)
	limit := s.loginLimit()
	if res := s.Limiter.Check(key, limit.Max, limit.Window); !res.Allowed {
		s.Metrics.IncLimiterDenial("login")
		s.Metrics.IncLogin("rate_limited")
		s.Audit.Record(ctx, auditEvent(domain.EventRateLimited, "", false, meta, map[string]string{
			"scope":    "login",
			"reset_at": res.ResetAt.UTC().Format(time.RFC3339),
		}))
		return LoginResult{}, &RateLimitError{ResetAt: res.ResetAt}
	}

	acct, err := s.findAccount(ctx, identifier)
	if errors.Is(err, store.ErrNotFound) {
		_ = s.Passwords.VerifyPassword(password, s.dummy())
		return LoginResult{}, s.loginFailed(ctx, "", "unknown_account", meta)
	}
	if err != nil {
		log.Error("failed to look up account", slog.Any("error", err))
		return LoginResult{}, ErrInternal
	}

	if err := s.Passwords.VerifyPassword(password, acct.PasswordHash); err != nil {
		reason := "bad_password"
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			reason = "bad_hash"
			log.Error("stored password hash unusable", slog.String("account_id", acct.ID), slog.Any("error", err))
		}
		return LoginResult{}, s.loginFailed(ctx, acct.ID, reason, meta)
	}
	if !acct.Active() {
		return LoginResult{}, s.loginFailed(ctx, acct.ID, "inactive", meta)
	}

	now := s.now()
	sess := domain.Session{
		ID:         idx.NewAt(now).String(),
		AccountID:  acct.ID,
		DeviceID:   deviceID,
		CreatedAt:  now,
		LastUsedAt: now,
		ExpiresAt:  now.Add(s.Credentials.RefreshTTL()),
	}
	if err := s.Store.Sessions().CreateSession(ctx, sess); err != nil {
		log.Error("failed to create session", slog.Any("error", err))
		return LoginResult{}, ErrInternal
	}

	result, err := s.issuePair(acct, sess)
	if err != nil {
		log.Error("failed to issue credentials", slog.Any("error", err))
		return LoginResult{}, ErrInternal
	}

	s.Limiter.Reset(key)
	s.Metrics.IncLogin("success")
	s.Audit.Record(ctx, auditEvent(domain.EventLogin, acct.ID, true, meta, map[string]string{
		"session_id": sess.ID,
	}))
	log.Info("login succeeded", slog.String("account_id", acct.ID), slog.String("session_id", sess.ID))
	return result, nil
}

func (s *SessionService) findAccount(ctx context.Context, identifier string) (domain.Account, error) {
	if strings.Contains(identifier, "@") {
		return s.Store.Accounts().GetAccountByEmail(ctx, strings.ToLower(identifier))
	}
	return s.Store.Accounts().GetAccountByUsername(ctx, identifier)
}

func (s *SessionService) loginFailed(ctx context.Context, actor, reason string, meta domain.RequestMeta) error {
	s.Metrics.IncLogin("failure")
	s.Audit.Record(ctx, auditEvent(domain.EventFailedLogin, actor, false, meta, map[string]string{
		"reason": reason,
	}))
	slogx.FromContext(ctx).Info("login failed", slog.String("reason", reason))
	return ErrInvalidCredentials
}

func (s *SessionService) issuePair(acct domain.Account, sess domain.Session) (LoginResult, error) {
	access, err := s.Credentials.IssueAccess(jwtx.AccessInput{
		Subject:     acct.ID,
		Username:    acct.Username,
		Email:       acct.Email,
		Role:        acct.Role,
		Permissions: acct.Permissions,
	})
	if err != nil {
		return LoginResult{}, err
	}
	refresh, err := s.Credentials.IssueRefresh(acct.ID, sess.ID, sess.DeviceID)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Access: access, Refresh: refresh, Account: acct}, nil
}

// Refresh exchanges a refresh credential for a new pair. The session id
// carried by the credential stays the same for the life of the session;
// its expiry slides forward.
func (s *SessionService) Refresh(ctx context.Context, raw string, meta domain.RequestMeta) (LoginResult, error) {
	log := slogx.FromContext(ctx)

	claims, err := s.Credentials.Verify(raw, jwtx.ClassRefresh)
	if err != nil {
		s.Metrics.IncTokenRejection(jwtx.Reason(err))
		return LoginResult{}, s.refreshFailed(ctx, "", jwtx.Reason(err), meta)
	}

	sess, err := s.Store.Sessions().GetSession(ctx, claims.TokenID())
	if errors.Is(err, store.ErrNotFound) {
		return LoginResult{}, s.refreshFailed(ctx, claims.Subject, "unknown_session", meta)
	}
	if err != nil {
		log.Error("failed to load session", slog.Any("error", err))
		return LoginResult{}, ErrInternal
	}

	now := s.now()
	switch {
	case sess.AccountID != claims.Subject:
		return LoginResult{}, s.refreshFailed(ctx, claims.Subject, "subject_mismatch", meta)
	case sess.RevokedAt != nil:
		return LoginResult{}, s.refreshFailed(ctx, claims.Subject, "revoked", meta)
	case !sess.Usable(now):
		return LoginResult{}, s.refreshFailed(ctx, claims.Subject, "expired", meta)
	}

	acct, err := s.Store.Accounts().GetAccountByID(ctx, sess.AccountID)
	if errors.Is(err, store.ErrNotFound) {
		return LoginResult{}, s.refreshFailed(ctx, claims.Subject, "unknown_account", meta)
	}
	if err != nil {
		log.Error("failed to load account", slog.Any("error", err))
		return LoginResult{}, ErrInternal
	}
	if !acct.Active() {
		return LoginResult{}, s.refreshFailed(ctx, acct.ID, "inactive", meta)
	}

	err = s.Store.Sessions().TouchSession(ctx, sess.ID, now, now.Add(s.Credentials.RefreshTTL()))
	if errors.Is(err, store.ErrConflict) {
		return LoginResult{}, s.refreshFailed(ctx, acct.ID, "revoked", meta)
	}
	if err != nil {
		log.Error("failed to touch session", slog.Any("error", err))
		return LoginResult{}, ErrInternal
	}

	result, err := s.issuePair(acct, sess)
	if err != nil {
		log.Error("failed to issue credentials", slog.Any("error", err))
		return LoginResult{}, ErrInternal
	}

	s.Metrics.IncRefresh("success")
	s.Audit.Record(ctx, auditEvent(domain.EventTokenRefresh, acct.ID, true, meta, map[string]string{
		"session_id": sess.ID,
	}))
	return result, nil
}

func (s *SessionService) refreshFailed(ctx context.Context, actor, reason string, meta domain.RequestMeta) error {
	s.Metrics.IncRefresh("failure")
	s.Audit.Record(ctx, auditEvent(domain.EventTokenRefresh, actor, false, meta, map[string]string{
		"reason": reason,
	}))
	slogx.FromContext(ctx).Info("refresh rejected", slog.String("reason", reason))
	return ErrInvalidRefresh
}

// Logout revokes the session behind a refresh credential. Revoking an
// already revoked session succeeds.
func (s *SessionService) Logout(ctx context.Context, raw string, meta domain.RequestMeta) error {
	claims, err := s.Credentials.Verify(raw, jwtx.ClassRefresh)
	if err != nil {
		s.Metrics.IncTokenRejection(jwtx.Reason(err))
		return ErrInvalidRefresh
	}

	if err := s.Store.Sessions().RevokeSession(ctx, claims.TokenID(), s.now()); err != nil {
		slogx.FromContext(ctx).Error("failed to revoke session", slog.Any("error", err))
		return ErrInternal
	}

	s.Metrics.AddSessionsRevoked(1)
	s.Audit.Record(ctx, auditEvent(domain.EventLogout, claims.Subject, true, meta, map[string]string{
		"session_id": claims.TokenID(),
	}))
	return nil
}

// LogoutAll revokes every session of accountID.
func (s *SessionService) LogoutAll(ctx context.Context, accountID string, meta domain.RequestMeta) error {
	n, err := s.Store.Sessions().RevokeAccountSessions(ctx, accountID, s.now())
	if err != nil {
		slogx.FromContext(ctx).Error("failed to revoke sessions", slog.Any("error", err))
		return ErrInternal
	}

	s.Metrics.AddSessionsRevoked(n)
	s.Audit.Record(ctx, auditEvent(domain.EventLogoutAll, accountID, true, meta, nil))
	s.Audit.Record(ctx, auditEvent(domain.EventTokenRevoked, accountID, true, meta, map[string]string{
		"sessions_revoked": formatInt(n),
	}))
	return nil
}

// Authenticate verifies an access credential.
func (s *SessionService) Authenticate(ctx context.Context, raw string) (jwtx.Claims, error) {
	claims, err := s.Credentials.Verify(raw, jwtx.ClassAccess)
	if err != nil {
		s.Metrics.IncTokenRejection(jwtx.Reason(err))
		slogx.FromContext(ctx).Debug("access credential rejected", slog.String("reason", jwtx.Reason(err)))
		return jwtx.Claims{}, ErrUnauthorized
	}
	return claims, nil
}

// CurrentAccount returns the account behind an authenticated request.
func (s *SessionService) CurrentAccount(ctx context.Context, accountID string) (domain.Account, error) {
	acct, err := s.Store.Accounts().GetAccountByID(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Account{}, ErrUnauthorized
	}
	if err != nil {
		slogx.FromContext(ctx).Error("failed to load account", slog.Any("error", err))
		return domain.Account{}, ErrInternal
	}
	return acct, nil
}

// ListAudit returns audit events matching f, newest first.
func (s *SessionService) ListAudit(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEvent, error) {
	events, err := s.Store.AuditEvents().ListAuditEvents(ctx, f)
	if err != nil {
		slogx.FromContext(ctx).Error("failed to list audit events", slog.Any("error", err))
		return nil, ErrInternal
	}
	return events, nil
}
