package cryptox

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
)

// Token size constants (in bytes before encoding).
const (
	// TokenSize128 provides 128 bits of entropy (22 chars base64url).
	TokenSize128 = 16
	// TokenSize256 provides 256 bits of entropy (43 chars base64url).
	TokenSize256 = 32
	// TokenSize512 provides 512 bits of entropy (86 chars base64url).
	TokenSize512 = 64
)

// ErrShortKey is returned when a hashing key is too short to be useful.
var ErrShortKey = errors.New("cryptox: key must be at least 32 bytes")

// GenerateToken creates a cryptographically secure random token of the specified byte length.
// The token is returned as a base64url-encoded string (URL-safe, no padding).
// Returns an error if the random number generator fails.
//
// Common sizes:
//   - TokenSize128 (16 bytes): Short-lived tokens, CSRF tokens
//   - TokenSize256 (32 bytes): Recovery and invitation tokens (recommended)
//   - TokenSize512 (64 bytes): High-security tokens
func GenerateToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("token size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// MustGenerateToken is like GenerateToken but panics on error.
// Use this only during initialization or in contexts where failure is unrecoverable.
func MustGenerateToken(size int) string {
	token, err := GenerateToken(size)
	if err != nil {
		panic(fmt.Sprintf("cryptox: failed to generate token: %v", err))
	}
	return token
}

// FingerprintToken returns a deterministic SHA-256 fingerprint of a token,
// base64url encoded (43 chars).
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// LooksLikeToken reports whether raw has the exact shape GenerateToken(size)
// produces. It performs no I/O and is meant to reject garbage input early.
func LooksLikeToken(raw string, size int) bool {
	if size <= 0 || len(raw) != base64.RawURLEncoding.EncodedLen(size) {
		return false
	}
	for i := range len(raw) {
		c := raw[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// TimingSafeEqual compares two secrets in constant time with respect to
// their contents.
func TimingSafeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// TokenHasher produces keyed HMAC-SHA256 fingerprints of high-entropy tokens.
//
// Only the fingerprint is ever persisted. A database dump without the key
// cannot be used to confirm a guessed token.
type TokenHasher struct {
	key []byte
}

// NewTokenHasher returns a hasher keyed with key (at least 32 bytes).
func NewTokenHasher(key []byte) (*TokenHasher, error) {
	if len(key) < 32 {
		return nil, ErrShortKey
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &TokenHasher{key: k}, nil
}

// Hash returns the base64url HMAC-SHA256 of raw. It is deterministic for a
// given key, so it can be used as a lookup index.
func (h *TokenHasher) Hash(raw string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Matches reports whether raw hashes to digest, in constant time.
func (h *TokenHasher) Matches(raw, digest string) bool {
	return TimingSafeEqual(h.Hash(raw), digest)
}
