// Package oidc maps federated identity assertions onto canonical identities.
package oidc

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

// Assertion is the normalized bundle handed over by the provider client after
// token exchange and ID-token verification.
type Assertion struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// Reason classifies resolution failures for logging; the end user only ever
// sees a generic message.
type Reason string

const (
	ReasonMissingFields       Reason = "missing_fields"
	ReasonPersistenceConflict Reason = "persistence_conflict"
	ReasonUnknown             Reason = "unknown"
)

// ResolutionError reports why an assertion could not be mapped to an identity.
type ResolutionError struct {
	Reason Reason
	Cause  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("identity resolution failed: %s", e.Reason)
}

func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

// maxResolveAttempts bounds the create-or-link retry loop so sustained
// contention surfaces as a failure instead of spinning.
const maxResolveAttempts = 3

// Resolver maps assertions to exactly one identity, creating or linking as
// needed.
//
// Linking policy: an assertion whose subject is unknown but whose email
// matches an existing identity links onto that identity without requiring
// email_verified — the address came from the provider, not the user. A
// verified assertion may update a stale stored email on subject match; an
// unverified one never touches it.
type Resolver struct {
	store       storage.IdentityStore
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewResolver creates a Resolver with default clock and id generation.
func NewResolver(store storage.IdentityStore) *Resolver {
	return &Resolver{
		store:       store,
		clock:       time.Now,
		idGenerator: id.NewID,
	}
}

// WithClock overrides time for tests.
func (r *Resolver) WithClock(clock func() time.Time) *Resolver {
	if clock != nil {
		r.clock = clock
	}
	return r
}

// Resolve maps an assertion to its identity. A lost uniqueness race restarts
// the whole resolution: the winning write is then visible and the retry takes
// the lookup path instead.
func (r *Resolver) Resolve(ctx context.Context, assertion Assertion) (identity.Identity, error) {
	if r.store == nil {
		return identity.Identity{}, &ResolutionError{Reason: ReasonUnknown, Cause: fmt.Errorf("identity store is not configured")}
	}

	subject := strings.TrimSpace(assertion.Subject)
	provider := strings.TrimSpace(assertion.Provider)
	email := identity.NormalizeEmail(assertion.Email)
	if subject == "" || email == "" {
		return identity.Identity{}, &ResolutionError{Reason: ReasonMissingFields}
	}
	if err := identity.ValidateEmail(email); err != nil {
		return identity.Identity{}, &ResolutionError{Reason: ReasonMissingFields, Cause: err}
	}
	if provider == "" {
		return identity.Identity{}, &ResolutionError{Reason: ReasonMissingFields}
	}

	var lastErr error
	for attempt := 0; attempt < maxResolveAttempts; attempt++ {
		ident, err := r.resolveOnce(ctx, subject, provider, email, assertion.EmailVerified)
		if err == nil {
			return ident, nil
		}
		if errors.Is(err, storage.ErrConflict) {
			lastErr = err
			continue
		}
		return identity.Identity{}, &ResolutionError{Reason: ReasonUnknown, Cause: err}
	}
	return identity.Identity{}, &ResolutionError{Reason: ReasonPersistenceConflict, Cause: lastErr}
}

func (r *Resolver) resolveOnce(ctx context.Context, subject, provider, email string, verified bool) (identity.Identity, error) {
	now := r.clock().UTC()

	// Step 1: exact match on the federated composite key.
	ident, err := r.store.GetIdentityByOIDC(ctx, subject, provider)
	switch {
	case err == nil:
		// Trust a verified federated email over a stale local copy; never
		// overwrite from an unverified assertion.
		if verified && ident.Email != email {
			if err := r.store.UpdateIdentityEmail(ctx, ident.ID, email, true, now); err != nil {
				return identity.Identity{}, err
			}
			ident.Email = email
			ident.OIDCEmailVerified = true
			ident.UpdatedAt = now
		}
		return ident, nil
	case !errors.Is(err, storage.ErrNotFound):
		return identity.Identity{}, err
	}

	// Step 2: no subject match; link onto an existing identity by email.
	ident, err = r.store.GetIdentityByEmail(ctx, email)
	switch {
	case err == nil:
		if err := r.store.LinkIdentityOIDC(ctx, ident.ID, subject, provider, verified, now); err != nil {
			return identity.Identity{}, err
		}
		ident.OIDCSubject = subject
		ident.OIDCProvider = provider
		ident.OIDCEmailVerified = verified
		ident.UpdatedAt = now
		return ident, nil
	case !errors.Is(err, storage.ErrNotFound):
		return identity.Identity{}, err
	}

	// Step 3: first contact; create the identity with its linkage.
	created, err := identity.CreateIdentity(identity.CreateIdentityInput{
		Email:             email,
		OIDCSubject:       subject,
		OIDCProvider:      provider,
		OIDCEmailVerified: verified,
	}, r.clock, r.idGenerator)
	if err != nil {
		return identity.Identity{}, err
	}
	if err := r.store.PutIdentity(ctx, created); err != nil {
		return identity.Identity{}, err
	}
	return created, nil
}
