package session

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scope restricts what an API token may do.
type Scope string

const (
	// ScopeRead permits safe methods only.
	ScopeRead Scope = "read"
	// ScopeFull permits all methods.
	ScopeFull Scope = "full"
)

// Permits reports whether the scope allows the HTTP method.
func (s Scope) Permits(method string) bool {
	switch s {
	case ScopeFull:
		return true
	case ScopeRead:
		switch strings.ToUpper(strings.TrimSpace(method)) {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return true
		}
		return false
	default:
		return false
	}
}

const bearerIssuer = "fizzy-auth"

// BearerClaims captures the validated content of an API token.
type BearerClaims struct {
	IdentityID string
	Scope      Scope
}

// bearerClaims is the internal claims type used for JWT parsing.
type bearerClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// BearerVerifier mints and validates API bearer tokens. They form a separate
// credential family from session cookies: HS256 JWTs carrying the identity id
// and a scope, signed with their own secret, with no backing session record.
type BearerVerifier struct {
	secret []byte
}

// NewBearerVerifier constructs a verifier from a server-side secret.
func NewBearerVerifier(secret []byte) (*BearerVerifier, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("api token secret must be at least 32 bytes")
	}
	return &BearerVerifier{secret: secret}, nil
}

// Mint issues a signed API token for an identity. Tokens carry no expiry;
// like sessions they live until the secret rotates.
func (v *BearerVerifier) Mint(identityID string, scope Scope, issuedAt time.Time) (string, error) {
	if v == nil {
		return "", fmt.Errorf("bearer verifier is not configured")
	}
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return "", fmt.Errorf("identity id is required")
	}
	if scope != ScopeRead && scope != ScopeFull {
		return "", fmt.Errorf("unknown scope %q", scope)
	}

	claims := bearerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   bearerIssuer,
			Subject:  identityID,
			IssuedAt: jwt.NewNumericDate(issuedAt.UTC()),
		},
		Scope: string(scope),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign api token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an API token. Every failure mode yields
// ok=false without detail.
func (v *BearerVerifier) Verify(token string, now time.Time) (BearerClaims, bool) {
	if v == nil {
		return BearerClaims{}, false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return BearerClaims{}, false
	}

	var parsed bearerClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(bearerIssuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return BearerClaims{}, false
	}

	identityID := strings.TrimSpace(parsed.Subject)
	scope := Scope(parsed.Scope)
	if identityID == "" {
		return BearerClaims{}, false
	}
	if scope != ScopeRead && scope != ScopeFull {
		return BearerClaims{}, false
	}
	return BearerClaims{IdentityID: identityID, Scope: scope}, true
}
