package jwtx

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates a credential of the expected class and gives back the
// claims if it's legit.
type Verifier interface {
	Verify(raw string, class Class) (Claims, error)
}

// ErrInvalidToken is wrapped by every verification failure. External
// callers should only ever test for this one; the reason errors below are
// for logs and metrics.
var ErrInvalidToken = errors.New("jwtx: invalid token")

var (
	ErrMalformed        = errors.New("malformed")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrExpired          = errors.New("expired")
	ErrWrongKeyClass    = errors.New("wrong key class")
	ErrInvalidClaims    = errors.New("invalid claims")
)

func invalid(reason error) error {
	return fmt.Errorf("%w: %w", ErrInvalidToken, reason)
}

// Reason returns a short label for a verification error, suitable for a
// log attribute or metric label.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrWrongKeyClass):
		return "wrong_key_class"
	case errors.Is(err, ErrInvalidClaims):
		return "invalid_claims"
	default:
		return "unknown"
	}
}

// Verify checks raw against the key for class. It fails closed: any
// problem yields an error wrapping ErrInvalidToken and never a panic.
func (m *Manager) Verify(raw string, class Class) (Claims, error) {
	if !class.Valid() {
		return Claims{}, invalid(ErrWrongKeyClass)
	}
	if raw == "" {
		return Claims{}, invalid(ErrMalformed)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(m.leeway),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	parser := jwt.NewParser(opts...)

	var claims Claims
	token, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return m.keys.forClass(class), nil
	})
	if err != nil {
		return Claims{}, invalid(m.classify(raw, class, err))
	}
	if !token.Valid {
		return Claims{}, invalid(ErrInvalidClaims)
	}

	// Keys are distinct, so a valid signature already implies the class.
	// Checked anyway in case a credential was minted by something else.
	if claims.Class != class {
		return Claims{}, invalid(ErrWrongKeyClass)
	}
	if claims.Subject == "" || claims.ID == "" {
		return Claims{}, invalid(ErrInvalidClaims)
	}

	return claims, nil
}

// classify maps a jwt library error onto one of the reason errors.
func (m *Manager) classify(raw string, class Class, err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		// Signature failed under the expected key. If the unverified body
		// says it belongs to the other class, report that instead.
		var peek Claims
		if _, _, perr := jwt.NewParser().ParseUnverified(raw, &peek); perr == nil {
			if peek.Class.Valid() && peek.Class != class {
				return ErrWrongKeyClass
			}
		}
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenInvalidClaims):
		return ErrInvalidClaims
	default:
		return ErrMalformed
	}
}
