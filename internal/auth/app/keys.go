package app

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

// Secret files inside Config.SecretsDir. Each one is independent so a
// leak of one never lets an attacker forge another class of credential.
const (
	PepperFile     = "pepper"
	TokenHashFile  = "token_hash.key"
	AccessKeyFile  = "access.key"
	RefreshKeyFile = "refresh.key"

	pepperSize     = 32
	tokenHashSize  = 32
	signingKeySize = 64
)

// Secrets bundles everything derived from the secret files.
type Secrets struct {
	Passwords   *cryptox.PasswordHasher
	Tokens      *cryptox.TokenHasher
	Credentials *jwtx.Manager
}

// InitSecrets loads the secret files from cfg.SecretsDir, creating any that
// are missing, and builds the hashers and the credential manager on top.
//
// Secrets created here survive restarts; deleting access.key or
// refresh.key invalidates every outstanding credential of that class.
func InitSecrets(cfg Config, logger *slog.Logger) (*Secrets, error) {
	load := func(name string, size int) ([]byte, error) {
		secret, err := cryptox.LoadOrCreateSecret(filepath.Join(cfg.SecretsDir, name), size)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
		return secret, nil
	}

	pepper, err := load(PepperFile, pepperSize)
	if err != nil {
		return nil, err
	}
	hashKey, err := load(TokenHashFile, tokenHashSize)
	if err != nil {
		return nil, err
	}
	accessKey, err := load(AccessKeyFile, signingKeySize)
	if err != nil {
		return nil, err
	}
	refreshKey, err := load(RefreshKeyFile, signingKeySize)
	if err != nil {
		return nil, err
	}

	tokens, err := cryptox.NewTokenHasher(hashKey)
	if err != nil {
		return nil, fmt.Errorf("token hasher: %w", err)
	}

	keys, err := jwtx.NewKeys(accessKey, refreshKey)
	if err != nil {
		return nil, fmt.Errorf("signing keys: %w", err)
	}
	creds, err := jwtx.NewManager(keys, jwtx.Options{Issuer: cfg.Issuer})
	if err != nil {
		return nil, fmt.Errorf("credential manager: %w", err)
	}

	logger.Info("secrets loaded",
		slog.String("dir", cfg.SecretsDir),
		slog.Duration("access_ttl", creds.AccessTTL()),
		slog.Duration("refresh_ttl", creds.RefreshTTL()),
	)

	return &Secrets{
		Passwords:   cryptox.NewPasswordHasher(pepper),
		Tokens:      tokens,
		Credentials: creds,
	}, nil
}
