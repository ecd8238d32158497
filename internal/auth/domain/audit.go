package domain

import "time"

type AuditEventType string

const (
	EventLogin                     AuditEventType = "login"
	EventFailedLogin               AuditEventType = "failed_login"
	EventLogout                    AuditEventType = "logout"
	EventLogoutAll                 AuditEventType = "logout_all"
	EventTokenRefresh              AuditEventType = "token_refresh"
	EventTokenRevoked              AuditEventType = "token_revoked"
	EventRateLimited               AuditEventType = "rate_limited"
	EventPasswordResetRequested    AuditEventType = "password_reset_requested"
	EventPasswordResetCompleted    AuditEventType = "password_reset_completed"
	EventUsernameRecoveryRequested AuditEventType = "username_recovery_requested"
	EventUsernameRecovered         AuditEventType = "username_recovered"
	EventInvitationCreated         AuditEventType = "invitation_created"
	EventInvitationAccepted        AuditEventType = "invitation_accepted"
	EventRecoveryTokenRejected     AuditEventType = "recovery_token_rejected"
)

type AuditCategory string

const (
	CategoryAuthentication AuditCategory = "authentication"
	CategorySession        AuditCategory = "session"
	CategoryRecovery       AuditCategory = "recovery"
	CategoryInvitation     AuditCategory = "invitation"
	CategoryAbuse          AuditCategory = "abuse"
)

var eventCategories = map[AuditEventType]AuditCategory{
	EventLogin:                     CategoryAuthentication,
	EventFailedLogin:               CategoryAuthentication,
	EventLogout:                    CategorySession,
	EventLogoutAll:                 CategorySession,
	EventTokenRefresh:              CategorySession,
	EventTokenRevoked:              CategorySession,
	EventRateLimited:               CategoryAbuse,
	EventPasswordResetRequested:    CategoryRecovery,
	EventPasswordResetCompleted:    CategoryRecovery,
	EventUsernameRecoveryRequested: CategoryRecovery,
	EventUsernameRecovered:         CategoryRecovery,
	EventInvitationCreated:         CategoryInvitation,
	EventInvitationAccepted:        CategoryInvitation,
	EventRecoveryTokenRejected:     CategoryRecovery,
}

// Category returns the default category for t.
func (t AuditEventType) Category() AuditCategory {
	if c, ok := eventCategories[t]; ok {
		return c
	}
	return CategoryAuthentication
}

// AuditEvent is an append-only security record. Nothing in this service
// updates or deletes one.
type AuditEvent struct {
	ID        string
	ActorID   string // empty when the actor is unknown
	Type      AuditEventType
	Category  AuditCategory
	Success   bool
	IP        string
	UserAgent string
	Metadata  map[string]string
	CreatedAt time.Time
}

// AuditFilter narrows ListAuditEvents. Zero fields match everything.
type AuditFilter struct {
	ActorID string
	Type    AuditEventType
	Before  time.Time
	Limit   int
}

// RequestMeta is the caller context every orchestrator operation carries
// into audit records and recovery tokens.
type RequestMeta struct {
	IP        string
	UserAgent string
}
