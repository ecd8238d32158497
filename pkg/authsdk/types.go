package authsdk

import "time"

// ============================================================================
// Errors
// ============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the machine readable code (e.g., "invalid_request", "token_used")
	Error string `json:"error"`

	// ErrorDescription is a human-readable description of the error
	ErrorDescription string `json:"error_description"`

	// Fields maps offending request fields to a message on validation errors
	Fields map[string]string `json:"fields,omitempty"`

	// ResetAt is set on rate_limited errors
	ResetAt *time.Time `json:"reset_at,omitempty"`
}

// ============================================================================
// Health
// ============================================================================

// HealthResponse is returned by /livez and /readyz.
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks reports the state of the dependencies /readyz looks at.
type HealthChecks struct {
	Database string `json:"database"`
	Signer   string `json:"signer"`
}

// ============================================================================
// Recovery
// ============================================================================

// ForgotRequest starts a password reset or username recovery.
type ForgotRequest struct {
	Email string `json:"email" validate:"required,max=254"`
}

// ForgotResponse is identical whether or not the address is known.
type ForgotResponse struct {
	Message     string `json:"message"`
	MaskedEmail string `json:"masked_email"`
}

// ResetPasswordRequest completes a password reset.
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// RecoverUsernameRequest completes a username recovery.
type RecoverUsernameRequest struct {
	Token string `json:"token" validate:"required"`
}

// RecoverUsernameResponse reveals the username of the token's account.
type RecoverUsernameResponse struct {
	Username string `json:"username"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// ============================================================================
// Invitations
// ============================================================================

// CreateInvitationRequest invites email to join with role.
type CreateInvitationRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Role  string `json:"role" validate:"required,oneof=admin member"`
}

// InvitationResponse describes a pending invitation.
type InvitationResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AcceptInvitationRequest activates an invitation.
type AcceptInvitationRequest struct {
	Token    string `json:"token" validate:"required"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AcceptInvitationResponse identifies the account just created.
type AcceptInvitationResponse struct {
	AccountID string `json:"account_id"`
	Username  string `json:"username"`
}

// ============================================================================
// Sessions
// ============================================================================

// LoginRequest authenticates with a username or email.
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
	Password   string `json:"password" validate:"required,max=128"`

	// DeviceID optionally ties the session to a client generated UUID
	DeviceID string `json:"device_id,omitempty" validate:"omitempty,uuid"`
}

// TokenResponse is returned by login and refresh. The refresh credential
// travels in an HttpOnly cookie and never appears in the body.
type TokenResponse struct {
	// AccessToken is the signed access credential for the Authorization header
	AccessToken string `json:"access_token"`

	// TokenType is always "Bearer"
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime in seconds of the access token
	ExpiresIn int `json:"expires_in"`

	Account AccountResponse `json:"account"`
}

// AccountResponse is the public view of an account.
type AccountResponse struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	Permissions []string  `json:"permissions"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// ============================================================================
// Audit
// ============================================================================

// AuditEventResponse is one audit record.
type AuditEventResponse struct {
	ID        string            `json:"id"`
	ActorID   string            `json:"actor_id,omitempty"`
	Type      string            `json:"type"`
	Category  string            `json:"category"`
	Success   bool              `json:"success"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// AuditListResponse is a page of audit events, newest first.
type AuditListResponse struct {
	Events []AuditEventResponse `json:"events"`
}

// AuditQuery narrows ListAudit. Zero fields match everything.
type AuditQuery struct {
	ActorID string
	Type    string
	Before  time.Time
	Limit   int
}
