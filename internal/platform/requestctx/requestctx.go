// Package requestctx carries per-request authentication state through context.
//
// It replaces ambient "current user" globals: every value is attached to the
// request's context by middleware and read back explicitly by handlers, which
// keeps the auth core safe under concurrent request handling.
package requestctx

import "context"

type identityIDContextKey struct{}
type sessionIDContextKey struct{}
type tenantIDContextKey struct{}

// WithIdentityID stores a resolved identity identifier in context.
func WithIdentityID(ctx context.Context, identityID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, identityIDContextKey{}, identityID)
}

// IdentityIDFromContext returns the identity identifier stored in context.
func IdentityIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(identityIDContextKey{}).(string)
	return value
}

// WithSessionID stores the resumed session identifier in context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, sessionIDContextKey{}, sessionID)
}

// SessionIDFromContext returns the session identifier stored in context.
//
// Bearer-authenticated requests carry an identity but no session, so an empty
// value here does not imply the request is unauthenticated.
func SessionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(sessionIDContextKey{}).(string)
	return value
}

// WithTenantID stores the resolved tenant identifier in context.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, tenantIDContextKey{}, tenantID)
}

// TenantIDFromContext returns the tenant identifier stored in context.
func TenantIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(tenantIDContextKey{}).(string)
	return value
}
