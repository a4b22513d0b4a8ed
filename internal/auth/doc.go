// Package auth defines the identity boundary of the application.
//
// It is the single place that owns identity lifecycle, authentication
// methods, and session issuance so hosting applications can depend on stable
// identity IDs and authorization checks instead of re-implementing
// authentication rules.
//
// Subpackages:
//   - app: auth server wiring, middleware, and HTTP handlers
//   - identity: canonical identity record and email rules
//   - magiclink: single-use emailed sign-in codes
//   - oidc: federated sign-in and identity linking
//   - session: session lifecycle, cookie tokens, and bearer tokens
//   - ratelimit: throttling of credential-probing endpoints
//   - storage: persistence interfaces and the SQLite implementation
//   - delivery: magic-link delivery collaborator contract
//   - tenant: tenant-membership collaborator contract
package auth
