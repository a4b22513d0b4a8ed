// Package magiclink issues and consumes single-use sign-in codes.
package magiclink

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/steamwings/fizzy/internal/auth/delivery"
	"github.com/steamwings/fizzy/internal/auth/identity"
	"github.com/steamwings/fizzy/internal/auth/storage"
	apperrors "github.com/steamwings/fizzy/internal/platform/errors"
	"github.com/steamwings/fizzy/internal/platform/id"
)

// Engine owns the magic link lifecycle: issued, then consumed or expired.
// Expiry is implicit via the time check on consumption; no transition is
// stored for it.
type Engine struct {
	store       storage.MagicLinkStore
	deliverer   delivery.Deliverer
	config      Config
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewEngine creates an Engine with default clock and id generation.
func NewEngine(store storage.MagicLinkStore, deliverer delivery.Deliverer, config Config) *Engine {
	return &Engine{
		store:       store,
		deliverer:   deliverer,
		config:      config,
		clock:       time.Now,
		idGenerator: id.NewID,
	}
}

// WithClock overrides time for tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	if clock != nil {
		e.clock = clock
	}
	return e
}

// WithIDGenerator overrides id generation for tests.
func (e *Engine) WithIDGenerator(gen func() (string, error)) *Engine {
	if gen != nil {
		e.idGenerator = gen
	}
	return e
}

// Issue creates a fresh magic link for the identity and dispatches it
// out-of-band. Prior unconsumed links stay valid; every request gets a new
// code. Delivery failure does not invalidate the stored link.
func (e *Engine) Issue(ctx context.Context, ident identity.Identity, purpose storage.MagicLinkPurpose) (storage.MagicLink, error) {
	if e.store == nil {
		return storage.MagicLink{}, fmt.Errorf("magic link store is not configured")
	}
	if strings.TrimSpace(ident.ID) == "" {
		return storage.MagicLink{}, fmt.Errorf("identity id is required")
	}
	if purpose != storage.PurposeSignIn && purpose != storage.PurposeSignUp {
		return storage.MagicLink{}, apperrors.New(apperrors.CodeMagicLinkInvalidPurpose, fmt.Sprintf("unknown magic link purpose %q", purpose))
	}

	linkID, err := e.idGenerator()
	if err != nil {
		return storage.MagicLink{}, fmt.Errorf("generate magic link id: %w", err)
	}
	code, err := e.idGenerator()
	if err != nil {
		return storage.MagicLink{}, fmt.Errorf("generate magic link code: %w", err)
	}

	now := e.clock().UTC()
	link := storage.MagicLink{
		ID:         linkID,
		IdentityID: ident.ID,
		Code:       code,
		Purpose:    purpose,
		CreatedAt:  now,
		ExpiresAt:  now.Add(e.config.TTL),
	}
	if err := e.store.PutMagicLink(ctx, link); err != nil {
		return storage.MagicLink{}, fmt.Errorf("store magic link: %w", err)
	}

	if e.deliverer != nil {
		linkURL, err := buildMagicLinkURL(e.config.BaseURL, code)
		if err != nil {
			log.Printf("build magic link url: %v", err)
			linkURL = ""
		}
		if err := e.deliverer.DeliverMagicLink(ctx, ident, code, linkURL); err != nil {
			// Availability over consistency: the code stays valid even when
			// the notification channel failed.
			log.Printf("deliver magic link to %s: %v", ident.Email, err)
		}
	}

	return link, nil
}

// Consume redeems a code. It returns (link, true) exactly once per code; a
// code that is unknown, already consumed, or expired yields (zero, false)
// with no signal about which case applied, so responses cannot be used to
// enumerate accounts or probe code state.
func (e *Engine) Consume(ctx context.Context, code string) (storage.MagicLink, bool, error) {
	if e.store == nil {
		return storage.MagicLink{}, false, fmt.Errorf("magic link store is not configured")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return storage.MagicLink{}, false, nil
	}

	link, err := e.store.GetMagicLinkByCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.MagicLink{}, false, nil
		}
		return storage.MagicLink{}, false, fmt.Errorf("load magic link: %w", err)
	}

	// The lookup already matched on the code; the constant-time recheck keeps
	// the comparison of the secret itself timing-independent.
	if subtle.ConstantTimeCompare([]byte(link.Code), []byte(code)) != 1 {
		return storage.MagicLink{}, false, nil
	}

	now := e.clock().UTC()
	if link.ConsumedAt != nil || now.After(link.ExpiresAt) {
		return storage.MagicLink{}, false, nil
	}

	consumed, err := e.store.ConsumeMagicLink(ctx, link.ID, now)
	if err != nil {
		return storage.MagicLink{}, false, fmt.Errorf("consume magic link: %w", err)
	}
	if !consumed {
		return storage.MagicLink{}, false, nil
	}

	link.ConsumedAt = &now
	return link, true, nil
}

// EmailMatches compares a pending-authentication address against the link
// owner's address in constant time.
func EmailMatches(pendingEmail, identityEmail string) bool {
	pending := identity.NormalizeEmail(pendingEmail)
	owner := identity.NormalizeEmail(identityEmail)
	return subtle.ConstantTimeCompare([]byte(pending), []byte(owner)) == 1
}

func buildMagicLinkURL(base string, code string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", fmt.Errorf("base url is required")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Set("code", code)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
