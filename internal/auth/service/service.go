package service

import (
	"context"
	"strings"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
	"github.com/go-playground/validator/v10"
)

// Limiter is the attempt counter the orchestrators gate on.
// *ratelimit.Limiter satisfies it.
type Limiter interface {
	Check(id string, max int, window time.Duration) ratelimit.Result
	Reset(id string)
}

// AuditRecorder accepts events without blocking. *audit.Recorder
// satisfies it.
type AuditRecorder interface {
	Record(ctx context.Context, e domain.AuditEvent)
}

// Credentials issues and verifies signed session credentials.
// *jwtx.Manager satisfies it.
type Credentials interface {
	IssueAccess(in jwtx.AccessInput) (jwtx.Token, error)
	IssueRefresh(subject, tokenID, deviceID string) (jwtx.Token, error)
	Verify(raw string, class jwtx.Class) (jwtx.Claims, error)
	RefreshTTL() time.Duration
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// normalizeEmail trims and lower-cases an address and reports whether it
// is well formed.
func normalizeEmail(email string) (string, bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validate.Var(email, "required,email,max=254"); err != nil {
		return email, false
	}
	return email, true
}

func nowFunc(now func() time.Time) time.Time {
	if now != nil {
		return now().UTC()
	}
	return time.Now().UTC()
}

// auditEvent builds an event carrying the caller context of meta.
func auditEvent(typ domain.AuditEventType, actor string, success bool, meta domain.RequestMeta, kv map[string]string) domain.AuditEvent {
	return domain.AuditEvent{
		ActorID:   actor,
		Type:      typ,
		Category:  typ.Category(),
		Success:   success,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Metadata:  kv,
	}
}
