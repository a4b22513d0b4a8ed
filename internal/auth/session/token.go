package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// TokenSigner mints and verifies opaque session tokens.
//
// A token is the session identifier plus an HMAC-SHA256 signature over it:
// "<id>.<base64url signature>". The persisted session record and the signing
// secret together reconstruct validity; the token itself is never stored.
type TokenSigner struct {
	secret []byte
}

// NewTokenSigner constructs a signer from a server-side secret.
func NewTokenSigner(secret []byte) (*TokenSigner, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("session secret must be at least 32 bytes")
	}
	return &TokenSigner{secret: secret}, nil
}

// Sign produces a signed token bound to the session identifier.
func (s *TokenSigner) Sign(sessionID string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("token signer is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", fmt.Errorf("session id is required")
	}
	return sessionID + "." + s.signature(sessionID), nil
}

// Verify checks a token's signature and returns the embedded session id.
// Any malformed or tampered token yields ok=false; there is no error detail
// to leak.
func (s *TokenSigner) Verify(token string) (string, bool) {
	if s == nil {
		return "", false
	}
	token = strings.TrimSpace(token)
	sessionID, signature, found := strings.Cut(token, ".")
	if !found || sessionID == "" || signature == "" {
		return "", false
	}
	expected := s.signature(sessionID)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return "", false
	}
	return sessionID, true
}

func (s *TokenSigner) signature(sessionID string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte("session:" + sessionID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
