// Package session manages the session lifecycle and both credential families:
// signed cookie tokens for browsers and bearer JWTs for API callers.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/steamwings/fizzy/internal/auth/identity"
	"github.com/steamwings/fizzy/internal/auth/storage"
	"github.com/steamwings/fizzy/internal/platform/id"
)

// Manager is the single component authorized to mint sessions. Every
// authentication strategy resolves an identity and hands it here.
type Manager struct {
	sessions    storage.SessionStore
	identities  storage.IdentityStore
	signer      *TokenSigner
	bearer      *BearerVerifier
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewManager creates a Manager with default clock and id generation.
func NewManager(sessions storage.SessionStore, identities storage.IdentityStore, config Config) (*Manager, error) {
	signer, err := NewTokenSigner(config.Secret)
	if err != nil {
		return nil, fmt.Errorf("session signer: %w", err)
	}
	bearer, err := NewBearerVerifier(config.APITokenSecret)
	if err != nil {
		return nil, fmt.Errorf("bearer verifier: %w", err)
	}
	return &Manager{
		sessions:    sessions,
		identities:  identities,
		signer:      signer,
		bearer:      bearer,
		clock:       time.Now,
		idGenerator: id.NewID,
	}, nil
}

// WithClock overrides time for tests.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	if clock != nil {
		m.clock = clock
	}
	return m
}

// Bearer exposes the bearer verifier for token minting by operator tooling.
func (m *Manager) Bearer() *BearerVerifier {
	if m == nil {
		return nil
	}
	return m.bearer
}

// Start creates a new session for the identity and returns it with its signed
// token. Sessions are never reused; every successful authentication gets a
// fresh record.
func (m *Manager) Start(ctx context.Context, ident identity.Identity, userAgent, ipAddress string) (storage.Session, string, error) {
	if m.sessions == nil {
		return storage.Session{}, "", fmt.Errorf("session store is not configured")
	}
	if strings.TrimSpace(ident.ID) == "" {
		return storage.Session{}, "", fmt.Errorf("identity id is required")
	}

	sessionID, err := m.idGenerator()
	if err != nil {
		return storage.Session{}, "", fmt.Errorf("generate session id: %w", err)
	}
	session := storage.Session{
		ID:         sessionID,
		IdentityID: ident.ID,
		UserAgent:  userAgent,
		IPAddress:  ipAddress,
		CreatedAt:  m.clock().UTC(),
	}
	if err := m.sessions.PutSession(ctx, session); err != nil {
		return storage.Session{}, "", fmt.Errorf("persist session: %w", err)
	}

	token, err := m.signer.Sign(session.ID)
	if err != nil {
		return storage.Session{}, "", fmt.Errorf("sign session token: %w", err)
	}
	return session, token, nil
}

// Resume resolves a signed cookie token back to its session. A bad signature
// or a destroyed session both yield ok=false; this is the ordinary
// "not authenticated" outcome, not an error.
func (m *Manager) Resume(ctx context.Context, token string) (storage.Session, bool, error) {
	if m.sessions == nil {
		return storage.Session{}, false, fmt.Errorf("session store is not configured")
	}

	sessionID, ok := m.signer.Verify(token)
	if !ok {
		return storage.Session{}, false, nil
	}

	session, err := m.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Session{}, false, nil
		}
		return storage.Session{}, false, fmt.Errorf("load session: %w", err)
	}
	return session, true, nil
}

// Terminate destroys a session. Terminating an already-gone session succeeds.
func (m *Manager) Terminate(ctx context.Context, sessionID string) error {
	if m.sessions == nil {
		return fmt.Errorf("session store is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	if err := m.sessions.DeleteSession(ctx, sessionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// AuthenticateBearer validates an API bearer token and resolves the identity
// it names, without creating a session. Scope checks run against the request
// method; every failure mode yields ok=false with no distinguishing detail.
func (m *Manager) AuthenticateBearer(ctx context.Context, token, requestMethod string) (identity.Identity, bool, error) {
	if m.identities == nil {
		return identity.Identity{}, false, fmt.Errorf("identity store is not configured")
	}

	claims, ok := m.bearer.Verify(token, m.clock())
	if !ok {
		return identity.Identity{}, false, nil
	}
	if !claims.Scope.Permits(requestMethod) {
		return identity.Identity{}, false, nil
	}

	ident, err := m.identities.GetIdentity(ctx, claims.IdentityID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return identity.Identity{}, false, nil
		}
		return identity.Identity{}, false, fmt.Errorf("load identity: %w", err)
	}
	return ident, true, nil
}
