package service

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/mailer"
	"github.com/aussiebroadwan/authcore/internal/auth/metrics"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/idx"
	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{2,31}$`)

// RecoveryPolicy tunes the recovery flows. Zero fields take the value of
// DefaultRecoveryPolicy.
type RecoveryPolicy struct {
	ResetTTL      time.Duration
	UsernameTTL   time.Duration
	InvitationTTL time.Duration

	// EmailLimit is the per-address budget of each request flow, IPLimit
	// the per-address budget of the caller.
	EmailLimit ratelimit.Policy
	IPLimit    ratelimit.Policy

	// MinResponseTime pads every request flow so a matched address cannot
	// be told apart from an unknown one by latency.
	MinResponseTime time.Duration
}

func DefaultRecoveryPolicy() RecoveryPolicy {
	return RecoveryPolicy{
		ResetTTL:        15 * time.Minute,
		UsernameTTL:     15 * time.Minute,
		InvitationTTL:   24 * time.Hour,
		EmailLimit:      ratelimit.Policy{Max: 3, Window: time.Hour},
		IPLimit:         ratelimit.Policy{Max: 20, Window: time.Hour},
		MinResponseTime: 400 * time.Millisecond,
	}
}

func (p RecoveryPolicy) withDefaults() RecoveryPolicy {
	d := DefaultRecoveryPolicy()
	if p.ResetTTL <= 0 {
		p.ResetTTL = d.ResetTTL
	}
	if p.UsernameTTL <= 0 {
		p.UsernameTTL = d.UsernameTTL
	}
	if p.InvitationTTL <= 0 {
		p.InvitationTTL = d.InvitationTTL
	}
	if p.EmailLimit.Window <= 0 {
		p.EmailLimit = d.EmailLimit
	}
	if p.IPLimit.Window <= 0 {
		p.IPLimit = d.IPLimit
	}
	if p.MinResponseTime < 0 {
		p.MinResponseTime = 0
	}
	return p
}

// RequestResult is the generic answer to a recovery request. It is the
// same whether or not an account matched.
type RequestResult struct {
	MaskedEmail string
}

// RecoveryService orchestrates password reset, username recovery and
// invitation activation.
type RecoveryService struct {
	Store     store.Store
	Limiter   Limiter
	Audit     AuditRecorder
	Mailer    mailer.Dispatcher
	Passwords *cryptox.PasswordHasher
	Tokens    *cryptox.TokenHasher
	Policy    RecoveryPolicy
	Metrics   *metrics.Metrics

	// PublicURL is the base of the links placed in emails.
	PublicURL string

	Now func() time.Time
}

// flow describes one recovery purpose.
type flow struct {
	purpose  domain.RecoveryPurpose
	kind     mailer.Kind
	event    domain.AuditEventType
	done     domain.AuditEventType
	path     string
	ttl      func(RecoveryPolicy) time.Duration
	required bool // whether the account must be active to receive a token
}

var (
	passwordResetFlow = flow{
		purpose:  domain.PurposePasswordReset,
		kind:     mailer.KindPasswordReset,
		event:    domain.EventPasswordResetRequested,
		done:     domain.EventPasswordResetCompleted,
		path:     "/password/reset",
		ttl:      func(p RecoveryPolicy) time.Duration { return p.ResetTTL },
		required: true,
	}
	usernameRecoveryFlow = flow{
		purpose:  domain.PurposeUsernameRecovery,
		kind:     mailer.KindUsernameRecovery,
		event:    domain.EventUsernameRecoveryRequested,
		done:     domain.EventUsernameRecovered,
		path:     "/username/recover",
		ttl:      func(p RecoveryPolicy) time.Duration { return p.UsernameTTL },
		required: true,
	}
	invitationFlow = flow{
		purpose: domain.PurposeInvitation,
		kind:    mailer.KindInvitation,
		event:   domain.EventInvitationCreated,
		done:    domain.EventInvitationAccepted,
		path:    "/invitations/accept",
		ttl:     func(p RecoveryPolicy) time.Duration { return p.InvitationTTL },
	}
)

func (s *RecoveryService) now() time.Time { return nowFunc(s.Now) }

func (s *RecoveryService) policy() RecoveryPolicy { return s.Policy.withDefaults() }

// RequestPasswordReset mails a reset link if email belongs to an active
// account. The result does not reveal whether it did.
func (s *RecoveryService) RequestPasswordReset(ctx context.Context, email string, meta domain.RequestMeta) (RequestResult, error) {
	return s.request(ctx, passwordResetFlow, email, meta)
}

// RequestUsernameRecovery mails a username recovery link if email belongs
// to an active account. The result does not reveal whether it did.
func (s *RecoveryService) RequestUsernameRecovery(ctx context.Context, email string, meta domain.RequestMeta) (RequestResult, error) {
	return s.request(ctx, usernameRecoveryFlow, email, meta)
}

func (s *RecoveryService) request(ctx context.Context, f flow, email string, meta domain.RequestMeta) (RequestResult, error) {
	start := time.Now()
	log := slogx.FromContext(ctx).With(slog.String("purpose", string(f.purpose)))

	email, ok := normalizeEmail(email)
	if !ok {
		return RequestResult{}, ErrInvalidRequest
	}

	if err := s.checkLimits(ctx, f.purpose, email, meta); err != nil {
		return RequestResult{}, err
	}

	issued, actor, err := s.issueForEmail(ctx, f, email, meta)
	if err != nil {
		log.Error("recovery request failed", slog.Any("error", err))
		s.pad(ctx, start)
		return RequestResult{}, ErrInternal
	}

	s.Metrics.IncRecoveryRequest(string(f.purpose), issued)
	s.Audit.Record(ctx, auditEvent(f.event, actor, true, meta, map[string]string{
		"account_found": boolString(issued),
	}))

	s.pad(ctx, start)
	return RequestResult{MaskedEmail: MaskEmail(email)}, nil
}

// issueForEmail mints and mails a token when email matches an active
// account. It reports whether a token was issued and for whom.
func (s *RecoveryService) issueForEmail(ctx context.Context, f flow, email string, meta domain.RequestMeta) (bool, string, error) {
	acct, err := s.Store.Accounts().GetAccountByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	if f.required && !acct.Active() {
		return false, acct.ID, nil
	}

	ttl := f.ttl(s.policy())
	var raw string
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		raw, err = s.mint(ctx, tx, acct.ID, f.purpose, ttl, meta.IP)
		return err
	})
	if err != nil {
		return false, acct.ID, err
	}

	s.send(ctx, mailer.Message{
		Kind: f.kind,
		To:   acct.Email,
		Data: map[string]string{
			"link":       s.link(f.path, raw),
			"expires_in": humanDuration(ttl),
		},
	})
	return true, acct.ID, nil
}

// mint supersedes every live token of purpose for owner and stores the
// hash of a fresh one. It returns the raw token.
func (s *RecoveryService) mint(ctx context.Context, tx store.Tx, ownerID string, purpose domain.RecoveryPurpose, ttl time.Duration, ip string) (string, error) {
	raw, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", err
	}

	now := s.now()
	if _, err := tx.RecoveryTokens().SupersedeRecoveryTokens(ctx, ownerID, purpose, now); err != nil {
		return "", err
	}
	err = tx.RecoveryTokens().CreateRecoveryToken(ctx, domain.RecoveryToken{
		ID:        idx.NewAt(now).String(),
		OwnerID:   ownerID,
		Purpose:   purpose,
		TokenHash: s.Tokens.Hash(raw),
		OriginIP:  ip,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return "", err
	}
	return raw, nil
}

func (s *RecoveryService) checkLimits(ctx context.Context, purpose domain.RecoveryPurpose, email string, meta domain.RequestMeta) error {
	p := s.policy()
	checks := []struct {
		scope  string
		key    string
		policy ratelimit.Policy
	}{
		{string(purpose), string(purpose) + ":" + email, p.EmailLimit},
		{string(purpose) + "-ip", string(purpose) + "-ip:" + meta.IP, p.IPLimit},
	}

	for _, c := range checks {
		if strings.HasSuffix(c.key, ":") {
			continue
		}
		res := s.Limiter.Check(c.key, c.policy.Max, c.policy.Window)
		if res.Allowed {
			continue
		}

		s.Metrics.IncLimiterDenial(c.scope)
		s.Audit.Record(ctx, auditEvent(domain.EventRateLimited, "", false, meta, map[string]string{
			"scope":    c.scope,
			"reset_at": res.ResetAt.UTC().Format(time.RFC3339),
		}))
		slogx.FromContext(ctx).Warn("recovery request rate limited", slog.String("scope", c.scope))
		return &RateLimitError{ResetAt: res.ResetAt}
	}
	return nil
}

// lookup resolves a presented raw token of purpose to its live record.
func (s *RecoveryService) lookup(ctx context.Context, raw string, purpose domain.RecoveryPurpose) (domain.RecoveryToken, error) {
	raw = strings.TrimSpace(raw)
	if !cryptox.LooksLikeToken(raw, cryptox.TokenSize256) {
		return domain.RecoveryToken{}, ErrTokenInvalid
	}

	tok, err := s.Store.RecoveryTokens().GetRecoveryTokenByHash(ctx, s.Tokens.Hash(raw))
	if errors.Is(err, store.ErrNotFound) {
		return domain.RecoveryToken{}, ErrTokenInvalid
	}
	if err != nil {
		return domain.RecoveryToken{}, err
	}
	if tok.Purpose != purpose {
		return domain.RecoveryToken{}, ErrTokenInvalid
	}

	switch tok.State(s.now()) {
	case domain.RecoveryConsumed, domain.RecoverySuperseded:
		return tok, ErrTokenUsed
	case domain.RecoveryExpired:
		return tok, ErrTokenExpired
	}
	return tok, nil
}

// consume marks tok used inside tx. A lost race reports ErrTokenUsed, a
// token that expired since lookup ErrTokenExpired.
func (s *RecoveryService) consume(ctx context.Context, tx store.Tx, tok domain.RecoveryToken) error {
	now := s.now()
	err := tx.RecoveryTokens().ConsumeRecoveryToken(ctx, tok.ID, now)
	if errors.Is(err, store.ErrConflict) {
		if !now.Before(tok.ExpiresAt) {
			return ErrTokenExpired
		}
		return ErrTokenUsed
	}
	return err
}

// ResetPassword consumes a reset token, sets the new password and signs
// the account out everywhere.
func (s *RecoveryService) ResetPassword(ctx context.Context, raw, newPassword string, meta domain.RequestMeta) error {
	f := passwordResetFlow
	if err := checkPassword(newPassword); err != nil {
		return err
	}

	tok, err := s.lookup(ctx, raw, f.purpose)
	if err != nil {
		return s.rejected(ctx, f, tok, err, meta)
	}

	hash, err := s.Passwords.HashPassword(newPassword)
	if err != nil {
		return s.rejected(ctx, f, tok, err, meta)
	}

	var (
		acct    domain.Account
		revoked int64
	)
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := s.consume(ctx, tx, tok); err != nil {
			return err
		}

		var err error
		acct, err = tx.Accounts().GetAccountByID(ctx, tok.OwnerID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrTokenInvalid
		}
		if err != nil {
			return err
		}

		now := s.now()
		if err := tx.Accounts().UpdatePasswordHash(ctx, acct.ID, hash, now); err != nil {
			return err
		}
		revoked, err = tx.Sessions().RevokeAccountSessions(ctx, acct.ID, now)
		return err
	})
	if err != nil {
		return s.rejected(ctx, f, tok, err, meta)
	}

	s.Metrics.IncRecoveryConsume(string(f.purpose), "success")
	s.Metrics.AddSessionsRevoked(revoked)
	s.Audit.Record(ctx, auditEvent(f.done, acct.ID, true, meta, map[string]string{
		"sessions_revoked": formatInt(revoked),
	}))
	s.send(ctx, mailer.Message{Kind: mailer.KindPasswordChanged, To: acct.Email})

	slogx.FromContext(ctx).Info("password reset completed",
		slog.String("account_id", acct.ID),
		slog.Int64("sessions_revoked", revoked),
	)
	return nil
}

// RecoverUsername consumes a username recovery token and returns the
// username of its account.
func (s *RecoveryService) RecoverUsername(ctx context.Context, raw string, meta domain.RequestMeta) (string, error) {
	f := usernameRecoveryFlow

	tok, err := s.lookup(ctx, raw, f.purpose)
	if err != nil {
		return "", s.rejected(ctx, f, tok, err, meta)
	}

	var acct domain.Account
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := s.consume(ctx, tx, tok); err != nil {
			return err
		}
		var err error
		acct, err = tx.Accounts().GetAccountByID(ctx, tok.OwnerID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrTokenInvalid
		}
		return err
	})
	if err != nil {
		return "", s.rejected(ctx, f, tok, err, meta)
	}

	s.Metrics.IncRecoveryConsume(string(f.purpose), "success")
	s.Audit.Record(ctx, auditEvent(f.done, acct.ID, true, meta, nil))
	return acct.Username, nil
}

// CreateInvitation records a pending account for email and mails it an
// activation link. Only administrators reach this.
func (s *RecoveryService) CreateInvitation(ctx context.Context, actorID, email, role string, meta domain.RequestMeta) (domain.Invitation, error) {
	log := slogx.FromContext(ctx)

	email, ok := normalizeEmail(email)
	if !ok || !domain.KnownRole(role) {
		return domain.Invitation{}, ErrInvalidRequest
	}

	_, err := s.Store.Accounts().GetAccountByEmail(ctx, email)
	switch {
	case err == nil:
		return domain.Invitation{}, ErrEmailTaken
	case !errors.Is(err, store.ErrNotFound):
		log.Error("failed to check invitation email", slog.Any("error", err))
		return domain.Invitation{}, ErrInternal
	}

	now := s.now()
	ttl := s.policy().InvitationTTL
	inv := domain.Invitation{
		ID:        idx.NewAt(now).String(),
		Email:     email,
		Role:      role,
		InvitedBy: actorID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	var raw string
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Invitations().CreateInvitation(ctx, inv); err != nil {
			return err
		}
		var err error
		raw, err = s.mint(ctx, tx, inv.ID, domain.PurposeInvitation, ttl, meta.IP)
		return err
	})
	if err != nil {
		log.Error("failed to create invitation", slog.Any("error", err))
		return domain.Invitation{}, ErrInternal
	}

	s.sendInvitation(ctx, inv, raw, ttl)
	s.Audit.Record(ctx, auditEvent(domain.EventInvitationCreated, actorID, true, meta, map[string]string{
		"invitation_id": inv.ID,
		"role":          role,
	}))
	log.Info("invitation created", slog.String("invitation_id", inv.ID), slog.String("role", role))
	return inv, nil
}

// ResendInvitation mails a fresh activation link for a pending invitation
// and extends its expiry. The previous link stops working.
func (s *RecoveryService) ResendInvitation(ctx context.Context, actorID, invitationID string, meta domain.RequestMeta) error {
	log := slogx.FromContext(ctx)

	inv, err := s.Store.Invitations().GetInvitationByID(ctx, invitationID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrInvitationNotFound
	}
	if err != nil {
		log.Error("failed to load invitation", slog.Any("error", err))
		return ErrInternal
	}
	if inv.Accepted() {
		return ErrTokenUsed
	}

	ttl := s.policy().InvitationTTL
	inv.ExpiresAt = s.now().Add(ttl)

	var raw string
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Invitations().ExtendInvitation(ctx, inv.ID, inv.ExpiresAt); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrTokenUsed
			}
			return err
		}
		var err error
		raw, err = s.mint(ctx, tx, inv.ID, domain.PurposeInvitation, ttl, meta.IP)
		return err
	})
	if errors.Is(err, ErrTokenUsed) {
		return err
	}
	if err != nil {
		log.Error("failed to resend invitation", slog.Any("error", err))
		return ErrInternal
	}

	s.sendInvitation(ctx, inv, raw, ttl)
	s.Audit.Record(ctx, auditEvent(domain.EventInvitationCreated, actorID, true, meta, map[string]string{
		"invitation_id": inv.ID,
		"resent":        "true",
	}))
	return nil
}

func (s *RecoveryService) sendInvitation(ctx context.Context, inv domain.Invitation, raw string, ttl time.Duration) {
	s.send(ctx, mailer.Message{
		Kind: mailer.KindInvitation,
		To:   inv.Email,
		Data: map[string]string{
			"link":       s.link(invitationFlow.path, raw),
			"expires_in": humanDuration(ttl),
			"role":       inv.Role,
		},
	})
}

// AcceptInvitation consumes an invitation token and creates the account it
// describes. Of several concurrent submissions of one token exactly one
// succeeds; the others get ErrTokenUsed.
func (s *RecoveryService) AcceptInvitation(ctx context.Context, raw, username, password string, meta domain.RequestMeta) (domain.Account, error) {
	f := invitationFlow

	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return domain.Account{}, ErrInvalidRequest
	}
	if err := checkPassword(password); err != nil {
		return domain.Account{}, err
	}

	tok, err := s.lookup(ctx, raw, f.purpose)
	if err != nil {
		return domain.Account{}, s.rejected(ctx, f, tok, err, meta)
	}

	hash, err := s.Passwords.HashPassword(password)
	if err != nil {
		return domain.Account{}, s.rejected(ctx, f, tok, err, meta)
	}

	var acct domain.Account
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := s.consume(ctx, tx, tok); err != nil {
			return err
		}

		inv, err := tx.Invitations().GetInvitationByID(ctx, tok.OwnerID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvitationNotFound
		}
		if err != nil {
			return err
		}
		if inv.Accepted() {
			return ErrTokenUsed
		}

		now := s.now()
		if !now.Before(inv.ExpiresAt) {
			return ErrTokenExpired
		}

		acct = domain.Account{
			ID:           idx.NewAt(now).String(),
			Email:        inv.Email,
			Username:     username,
			PasswordHash: hash,
			Role:         inv.Role,
			Permissions:  domain.PermissionsFor(inv.Role),
			Status:       domain.AccountActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.Accounts().CreateAccount(ctx, acct); err != nil {
			var uv *store.UniqueViolation
			if errors.As(err, &uv) {
				if uv.Column == "username" {
					return ErrUsernameTaken
				}
				return ErrEmailTaken
			}
			return err
		}

		err = tx.Invitations().MarkInvitationAccepted(ctx, inv.ID, acct.ID, now)
		if errors.Is(err, store.ErrConflict) {
			return ErrTokenUsed
		}
		return err
	})
	if err != nil {
		return domain.Account{}, s.rejected(ctx, f, tok, err, meta)
	}

	s.Metrics.IncRecoveryConsume(string(f.purpose), "success")
	s.Audit.Record(ctx, auditEvent(f.done, acct.ID, true, meta, map[string]string{
		"invitation_id": tok.OwnerID,
		"role":          acct.Role,
	}))
	slogx.FromContext(ctx).Info("invitation accepted",
		slog.String("account_id", acct.ID),
		slog.String("invitation_id", tok.OwnerID),
	)
	return acct, nil
}

// rejected audits a failed consumption and maps err onto the errors a
// caller may see. Anything unknown becomes ErrInternal.
func (s *RecoveryService) rejected(ctx context.Context, f flow, tok domain.RecoveryToken, err error, meta domain.RequestMeta) error {
	var public error
	switch {
	case errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenUsed),
		errors.Is(err, ErrUsernameTaken),
		errors.Is(err, ErrEmailTaken),
		errors.Is(err, ErrInvitationNotFound):
		public = err
	default:
		slogx.FromContext(ctx).Error("recovery token consumption failed",
			slog.String("purpose", string(f.purpose)),
			slog.Any("error", err),
		)
		public = ErrInternal
	}

	kv := map[string]string{
		"purpose": string(f.purpose),
		"reason":  public.Error(),
	}
	actor := tok.OwnerID
	if f.purpose == domain.PurposeInvitation {
		actor = ""
		if tok.OwnerID != "" {
			kv["invitation_id"] = tok.OwnerID
		}
	}

	s.Metrics.IncRecoveryConsume(string(f.purpose), public.Error())
	s.Audit.Record(ctx, auditEvent(domain.EventRecoveryTokenRejected, actor, false, meta, kv))
	return public
}

func (s *RecoveryService) send(ctx context.Context, msg mailer.Message) {
	if err := s.Mailer.Send(ctx, msg); err != nil {
		s.Metrics.IncEmailFailure(string(msg.Kind))
		slogx.FromContext(ctx).Error("failed to dispatch email",
			slog.String("kind", string(msg.Kind)),
			slog.Any("error", err),
		)
	}
}

func (s *RecoveryService) link(path, raw string) string {
	return strings.TrimRight(s.PublicURL, "/") + path + "?token=" + url.QueryEscape(raw)
}

// pad sleeps until MinResponseTime has passed since start or ctx ends.
func (s *RecoveryService) pad(ctx context.Context, start time.Time) {
	remaining := s.policy().MinResponseTime - time.Since(start)
	if remaining <= 0 {
		return
	}

	t := time.NewTimer(remaining)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func checkPassword(password string) error {
	n := len([]rune(password))
	if n < MinPasswordLength || n > MaxPasswordLength || strings.TrimSpace(password) == "" {
		return ErrInvalidPassword
	}
	return nil
}
