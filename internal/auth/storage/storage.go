package storage

import (
	"context"
	"time"

	"github.com/steamwings/fizzy/internal/auth/identity"
	"github.com/steamwings/fizzy/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ErrConflict indicates an insert or update lost a uniqueness race. It is the
// sole concurrency-detection mechanism for identity writes; callers retry the
// surrounding resolution rather than report a failure.
var ErrConflict = errors.New(errors.CodeConflict, "record conflicts with a concurrent write")

// IdentityStore persists canonical identity records.
//
// Email lookups expect pre-normalized addresses (identity.NormalizeEmail);
// the store matches exactly, never partially.
type IdentityStore interface {
	PutIdentity(ctx context.Context, ident identity.Identity) error
	GetIdentity(ctx context.Context, identityID string) (identity.Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (identity.Identity, error)
	GetIdentityByOIDC(ctx context.Context, subject, provider string) (identity.Identity, error)
	// UpdateIdentityEmail changes the address through the verified update path.
	UpdateIdentityEmail(ctx context.Context, identityID, email string, verified bool, now time.Time) error
	// LinkIdentityOIDC sets the (subject, provider) composite key on an identity.
	LinkIdentityOIDC(ctx context.Context, identityID, subject, provider string, verified bool, now time.Time) error
	// DeleteIdentity removes an identity administratively. Owned sessions and
	// magic links cascade away with it.
	DeleteIdentity(ctx context.Context, identityID string) error
	CountIdentities(ctx context.Context) (int64, error)
}

// Session represents one authenticated browser or agent. Sessions carry no
// expiry; they live until revoked.
type Session struct {
	ID         string
	IdentityID string
	UserAgent  string
	IPAddress  string
	CreatedAt  time.Time
}

// SessionStore persists session records.
type SessionStore interface {
	PutSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, sessionID string) (Session, error)
	// DeleteSession is idempotent: deleting an absent session is not an error.
	DeleteSession(ctx context.Context, sessionID string) error
}

// MagicLinkPurpose distinguishes sign-up completion links from plain sign-in.
type MagicLinkPurpose string

const (
	PurposeSignIn MagicLinkPurpose = "sign_in"
	PurposeSignUp MagicLinkPurpose = "sign_up"
)

// MagicLink is a single-use, time-boxed sign-in credential.
type MagicLink struct {
	ID         string
	IdentityID string
	Code       string
	Purpose    MagicLinkPurpose
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// MagicLinkStore persists magic link codes.
type MagicLinkStore interface {
	PutMagicLink(ctx context.Context, link MagicLink) error
	GetMagicLinkByCode(ctx context.Context, code string) (MagicLink, error)
	// ConsumeMagicLink marks a link consumed if and only if it is currently
	// unconsumed. It reports false when another request won the race.
	ConsumeMagicLink(ctx context.Context, linkID string, consumedAt time.Time) (bool, error)
}
