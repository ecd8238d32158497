package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
)

var (
	ErrInvalidRequest  = errors.New("invalid_request")
	ErrInvalidPassword = errors.New("invalid_password")
	ErrRateLimited     = errors.New("rate_limited")
	ErrInternal        = errors.New("server_error")

	// Token consumption outcomes. These may be shown to the holder of a
	// well-formed token.
	ErrTokenInvalid = errors.New("invalid_token")
	ErrTokenExpired = errors.New("expired_token")
	ErrTokenUsed    = errors.New("token_used")

	ErrUsernameTaken      = errors.New("username_taken")
	ErrEmailTaken         = errors.New("email_taken")
	ErrInvitationNotFound = errors.New("invitation_not_found")

	// Session outcomes. Every cause collapses into one of these.
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrInvalidRefresh     = errors.New("invalid_refresh_token")
	ErrUnauthorized       = errors.New("unauthorized")
)

// RateLimitError reports a denied attempt and when the window reopens.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited until %s", e.ResetAt.UTC().Format(time.RFC3339))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfter returns the whole seconds until ResetAt, at least one.
func (e *RateLimitError) RetryAfter(now time.Time) time.Duration {
	return ratelimit.Result{ResetAt: e.ResetAt}.RetryAfter(now)
}
