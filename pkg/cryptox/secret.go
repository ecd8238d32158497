package cryptox

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LoadOrCreateSecret returns the secret stored (base64url) in file, creating
// the file with size fresh random bytes when it does not exist yet.
//
// The parent directory is created 0750 and the file 0600. Existing secrets
// shorter than size are rejected rather than silently used.
func LoadOrCreateSecret(file string, size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret size must be positive, got %d", size)
	}

	file = filepath.Clean(file)
	if err := os.MkdirAll(filepath.Dir(file), 0750); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(file)
	switch {
	case err == nil:
		secret, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("decode secret %s: %w", file, err)
		}
		if len(secret) < size {
			return nil, fmt.Errorf("secret %s is %d bytes, want at least %d", file, len(secret), size)
		}
		return secret, nil

	case errors.Is(err, fs.ErrNotExist):
		secret := make([]byte, size)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}

		encoded := base64.RawURLEncoding.EncodeToString(secret)
		// O_EXCL so two processes racing on first start cannot clobber each other.
		f, err := os.OpenFile(file, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err != nil {
			if errors.Is(err, fs.ErrExist) {
				return LoadOrCreateSecret(file, size)
			}
			return nil, err
		}
		if _, err := f.WriteString(encoded); err != nil {
			_ = f.Close()
			return nil, err
		}
		if err := f.Close(); err != nil {
			return nil, err
		}
		return secret, nil

	default:
		return nil, err
	}
}
