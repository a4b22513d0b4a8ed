// Package identity provides the tenant-independent authentication root.
package identity

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	apperrors "github.com/steamwings/fizzy/internal/platform/errors"
	"github.com/steamwings/fizzy/internal/platform/id"
)

var (
	// ErrEmptyEmail indicates a missing email address.
	ErrEmptyEmail = apperrors.New(apperrors.CodeIdentityEmptyEmail, "email address is required")
	// ErrInvalidEmail indicates an email address that does not parse or carries header-injection characters.
	ErrInvalidEmail = apperrors.New(apperrors.CodeIdentityInvalidEmail, "email address is invalid")
)

// Identity is the canonical authentication record. One identity may be
// reachable through several authentication methods (magic link, OIDC) and,
// in a multi-tenant deployment, own several per-tenant user records.
type Identity struct {
	ID                string
	Email             string
	OIDCSubject       string
	OIDCProvider      string
	OIDCEmailVerified bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AuthenticatedViaOIDC reports whether a federated credential is linked.
func (i Identity) AuthenticatedViaOIDC() bool {
	return i.OIDCSubject != ""
}

// CreateIdentityInput describes the data needed to create an identity.
type CreateIdentityInput struct {
	Email             string
	OIDCSubject       string
	OIDCProvider      string
	OIDCEmailVerified bool
}

// NormalizeEmail trims surrounding whitespace and lowercases the address so
// uniqueness checks are case-insensitive at the storage layer.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail enforces the canonical address constraints. Addresses with
// CR/LF are rejected outright; they are never legitimate and are the vector
// for header injection through the delivery channel.
func ValidateEmail(email string) error {
	if email == "" {
		return ErrEmptyEmail
	}
	if strings.ContainsAny(email, "\r\n") {
		return ErrInvalidEmail
	}
	parsed, err := mail.ParseAddress(email)
	if err != nil {
		return ErrInvalidEmail
	}
	// Reject display-name forms; only the bare address is an identity key.
	if parsed.Address != email {
		return ErrInvalidEmail
	}
	return nil
}

// CreateIdentity builds a durable identity record from validated input.
func CreateIdentity(input CreateIdentityInput, now func() time.Time, idGenerator func() (string, error)) (Identity, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateIdentityInput(input)
	if err != nil {
		return Identity{}, err
	}

	identityID, err := idGenerator()
	if err != nil {
		return Identity{}, fmt.Errorf("generate identity id: %w", err)
	}

	createdAt := now().UTC()
	return Identity{
		ID:                identityID,
		Email:             normalized.Email,
		OIDCSubject:       normalized.OIDCSubject,
		OIDCProvider:      normalized.OIDCProvider,
		OIDCEmailVerified: normalized.OIDCEmailVerified,
		CreatedAt:         createdAt,
		UpdatedAt:         createdAt,
	}, nil
}

// NormalizeCreateIdentityInput trims and normalizes input before validation.
func NormalizeCreateIdentityInput(input CreateIdentityInput) (CreateIdentityInput, error) {
	input.Email = NormalizeEmail(input.Email)
	if err := ValidateEmail(input.Email); err != nil {
		return CreateIdentityInput{}, err
	}
	input.OIDCSubject = strings.TrimSpace(input.OIDCSubject)
	input.OIDCProvider = strings.TrimSpace(input.OIDCProvider)
	return input, nil
}
