// Package webhub implements the WebSocket hub and HTTP façade that exposes
// workflow/ceremony events to a browser client: session-token auth, a
// reconnect replay buffer, and read-only enforcement tied to the session
// lock.
package webhub

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
)

// tokenByteLength matches the original's secrets.token_urlsafe(32): 32 random
// bytes, base64url-encoded.
const tokenByteLength = 32

// TokenManager generates, persists, and validates the session token used to
// authenticate WebSocket connections. Localhost-only deployments use this in
// place of full user auth.
type TokenManager struct {
	tokenFile string
	token     string
}

// NewTokenManager loads an existing token from tokenFile, or generates and
// persists a new one. Matches the original's "only store if the parent
// directory already exists" guard so it never prematurely creates project
// directories.
func NewTokenManager(tokenFile string) (*TokenManager, error) {
	m := &TokenManager{tokenFile: tokenFile}

	if data, err := os.ReadFile(tokenFile); err == nil {
		m.token = string(data)
		return m, nil
	}

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generating session token: %w", err)
	}
	m.token = token

	if _, err := os.Stat(filepath.Dir(tokenFile)); err == nil {
		_ = os.WriteFile(tokenFile, []byte(token), 0o600)
	}
	return m, nil
}

func generateToken() (string, error) {
	b := make([]byte, tokenByteLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Token returns the current session token.
func (m *TokenManager) Token() string {
	return m.token
}

// EnsurePersisted writes the token file if it doesn't already exist,
// creating parent directories. Called once the server is actually starting,
// not at construction time.
func (m *TokenManager) EnsurePersisted() error {
	if _, err := os.Stat(m.tokenFile); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.tokenFile), 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.tokenFile, []byte(m.token), 0o600)
}

// Validate reports whether token matches the current session token, using a
// constant-time comparison to avoid timing side channels.
func (m *TokenManager) Validate(token string) bool {
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(m.token)) == 1
}

// Regenerate replaces the current token, invalidating all existing
// connections' ability to reconnect with the old one, and persists it.
func (m *TokenManager) Regenerate() (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	m.token = token
	if err := os.MkdirAll(filepath.Dir(m.tokenFile), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(m.tokenFile, []byte(token), 0o600); err != nil {
		return "", err
	}
	return token, nil
}
