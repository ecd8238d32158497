package jwtx

import (
	"bytes"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinKeySize is the minimum HMAC key length in bytes.
const MinKeySize = 32

var (
	ErrShortKey  = errors.New("jwtx: signing key must be at least 32 bytes")
	ErrKeyReuse  = errors.New("jwtx: access and refresh keys must differ")
	ErrNoSubject = errors.New("jwtx: subject is required")
	ErrNoTokenID = errors.New("jwtx: token id is required")
)

// Keys holds the two independent HMAC secrets. A leaked access key cannot
// forge refresh credentials and vice versa.
type Keys struct {
	access  []byte
	refresh []byte
}

// NewKeys validates and copies the signing secrets.
func NewKeys(access, refresh []byte) (Keys, error) {
	if len(access) < MinKeySize || len(refresh) < MinKeySize {
		return Keys{}, ErrShortKey
	}
	if bytes.Equal(access, refresh) {
		return Keys{}, ErrKeyReuse
	}
	return Keys{
		access:  bytes.Clone(access),
		refresh: bytes.Clone(refresh),
	}, nil
}

func (k Keys) forClass(c Class) []byte {
	if c == ClassRefresh {
		return k.refresh
	}
	return k.access
}

// Options tunes a Manager. Zero values fall back to the package defaults.
type Options struct {
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Leeway is the tolerated clock skew. Defaults to DefaultLeeway.
	Leeway time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Manager issues and verifies both credential classes. It is safe for
// concurrent use and performs no I/O.
type Manager struct {
	keys       Keys
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	leeway     time.Duration
	now        func() time.Time
}

// NewManager builds a Manager around keys obtained from NewKeys.
func NewManager(keys Keys, opts Options) (*Manager, error) {
	if len(keys.access) == 0 || len(keys.refresh) == 0 {
		return nil, ErrShortKey
	}

	m := &Manager{
		keys:       keys,
		issuer:     opts.Issuer,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		leeway:     opts.Leeway,
		now:        opts.Now,
	}
	if m.accessTTL <= 0 {
		m.accessTTL = DefaultAccessTTL
	}
	if m.refreshTTL <= 0 {
		m.refreshTTL = DefaultRefreshTTL
	}
	if m.leeway < 0 {
		m.leeway = DefaultLeeway
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// AccessTTL returns the configured access credential lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.accessTTL }

// RefreshTTL returns the configured refresh credential lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.refreshTTL }

// IssueAccess signs an access credential with a fresh jti.
func (m *Manager) IssueAccess(in AccessInput) (Token, error) {
	if in.Subject == "" {
		return Token{}, ErrNoSubject
	}

	now := m.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   in.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
			ID:        uuid.NewString(),
		},
		Class:       ClassAccess,
		Username:    in.Username,
		Email:       in.Email,
		Role:        in.Role,
		Permissions: slices.Clone(in.Permissions),
	}
	return m.sign(claims)
}

// IssueRefresh signs a refresh credential carrying tokenID as its jti.
// The caller owns tokenID; it is the handle used for revocation.
func (m *Manager) IssueRefresh(subject, tokenID, deviceID string) (Token, error) {
	if subject == "" {
		return Token{}, ErrNoSubject
	}
	if tokenID == "" {
		return Token{}, ErrNoTokenID
	}

	now := m.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.refreshTTL)),
			ID:        tokenID,
		},
		Class:    ClassRefresh,
		DeviceID: deviceID,
	}
	return m.sign(claims)
}

func (m *Manager) sign(c Claims) (Token, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	raw, err := tok.SignedString(m.keys.forClass(c.Class))
	if err != nil {
		return Token{}, err
	}
	return Token{
		Raw:       raw,
		ID:        c.ID,
		IssuedAt:  c.IssuedAt.Time,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}
