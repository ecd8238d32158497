package jwtx

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default credential lifetimes.
const (
	// DefaultAccessTTL is the lifetime of access credentials. Short-lived so
	// a leaked token is only useful for a few minutes.
	DefaultAccessTTL = 15 * time.Minute

	// DefaultRefreshTTL is the lifetime of refresh credentials.
	DefaultRefreshTTL = 30 * 24 * time.Hour

	// DefaultLeeway is the clock skew tolerated when checking exp/nbf/iat.
	// Zero: skew tolerance must be configured explicitly via Options.Leeway.
	DefaultLeeway time.Duration = 0
)

// Class identifies which key a credential was minted with.
type Class string

const (
	ClassAccess  Class = "access"
	ClassRefresh Class = "refresh"
)

// Valid reports whether c is a known class.
func (c Class) Valid() bool {
	return c == ClassAccess || c == ClassRefresh
}

// Claims is the claim set carried by both credential classes. Access
// credentials carry the identity snapshot, refresh credentials only the
// subject, token id (jti) and optional device id.
type Claims struct {
	jwt.RegisteredClaims

	// Class is "access" or "refresh".
	Class Class `json:"cls"`

	Username    string   `json:"username,omitempty"`
	Email       string   `json:"email,omitempty"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"perms,omitempty"`

	// DeviceID is set on refresh credentials when the client supplied one.
	DeviceID string `json:"did,omitempty"`
}

// HasPermission reports whether the permission snapshot contains perm.
func (c Claims) HasPermission(perm string) bool {
	return slices.Contains(c.Permissions, perm)
}

// TokenID returns the jti claim.
func (c Claims) TokenID() string { return c.ID }

// AccessInput is the identity snapshot embedded in an access credential.
type AccessInput struct {
	Subject     string
	Username    string
	Email       string
	Role        string
	Permissions []string
}

// Token is a freshly signed credential.
type Token struct {
	Raw       string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TTL returns the full lifetime of t.
func (t Token) TTL() time.Duration {
	return t.ExpiresAt.Sub(t.IssuedAt)
}
