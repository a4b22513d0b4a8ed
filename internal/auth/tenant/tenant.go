// Package tenant declares the contract to the per-tenant account directory.
//
// The authentication core is tenant-independent: it resolves which tenant a
// request addresses and records it in the request context, but membership
// lives with the hosting application. The directory is consulted only after
// authentication succeeds.
package tenant

import "context"

// Directory answers membership questions for authenticated identities.
type Directory interface {
	// HasMembership reports whether the identity already holds a user record
	// in the tenant.
	HasMembership(ctx context.Context, identityID, tenantID string) (bool, error)
	// CreateMembership provisions a user record for the identity in the
	// tenant, typically during sign-up completion.
	CreateMembership(ctx context.Context, identityID, tenantID, displayName string) error
}

// StaticDirectory is a single-tenant Directory where every identity is a
// member. It backs deployments that run one tenant per process.
type StaticDirectory struct{}

func (StaticDirectory) HasMembership(context.Context, string, string) (bool, error) {
	return true, nil
}

func (StaticDirectory) CreateMembership(context.Context, string, string, string) error {
	return nil
}
