// Package delivery defines the out-of-band magic link delivery collaborator.
package delivery

import (
	"context"
	"log"

	"github.com/steamwings/fizzy/internal/auth/identity"
)

// Deliverer sends a magic link code to an identity's email address.
//
// Delivery is fire-and-forget from the issuing transaction's perspective: a
// failed send is logged, never propagated, so the code stays redeemable even
// when the notification channel is down.
type Deliverer interface {
	DeliverMagicLink(ctx context.Context, ident identity.Identity, code string, linkURL string) error
}

// LogDeliverer writes the magic link to the process log. It stands in for a
// real mailer in development and tests.
type LogDeliverer struct{}

// DeliverMagicLink logs the link destination and URL.
func (LogDeliverer) DeliverMagicLink(_ context.Context, ident identity.Identity, _ string, linkURL string) error {
	log.Printf("magic link for %s: %s", ident.Email, linkURL)
	return nil
}

// Func adapts a function to the Deliverer interface.
type Func func(ctx context.Context, ident identity.Identity, code string, linkURL string) error

// DeliverMagicLink calls the wrapped function.
func (f Func) DeliverMagicLink(ctx context.Context, ident identity.Identity, code string, linkURL string) error {
	return f(ctx, ident, code, linkURL)
}
