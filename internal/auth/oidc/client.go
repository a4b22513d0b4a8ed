package oidc

import (
	"context"
	"fmt"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// ProviderClient abstracts the upstream provider so handlers and tests do not
// depend on live discovery.
type ProviderClient interface {
	// AuthCodeURL builds the authorization redirect carrying state and nonce.
	AuthCodeURL(state, nonce string) string
	// Exchange redeems an authorization code and verifies the ID token,
	// returning the normalized assertion. The nonce must match the one sent
	// with the authorization request.
	Exchange(ctx context.Context, code, nonce string) (Assertion, error)
}

// RelyingParty is the live ProviderClient backed by OIDC discovery.
type RelyingParty struct {
	providerName string
	oauth        oauth2.Config
	verifier     *gooidc.IDTokenVerifier
}

// NewRelyingParty discovers the provider's endpoints from the issuer and
// prepares code exchange and ID-token verification.
func NewRelyingParty(ctx context.Context, cfg Config) (*RelyingParty, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	provider, err := gooidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover oidc provider %q: %w", cfg.Issuer, err)
	}

	return &RelyingParty{
		providerName: cfg.ProviderName,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       cfg.Scopes,
		},
		verifier: provider.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

// AuthCodeURL builds the provider authorization URL for one sign-in attempt.
func (rp *RelyingParty) AuthCodeURL(state, nonce string) string {
	return rp.oauth.AuthCodeURL(state, gooidc.Nonce(nonce))
}

// Exchange redeems the authorization code, verifies the ID token signature,
// audience, expiry and nonce, and extracts the assertion claims.
func (rp *RelyingParty) Exchange(ctx context.Context, code, nonce string) (Assertion, error) {
	token, err := rp.oauth.Exchange(ctx, code)
	if err != nil {
		return Assertion{}, fmt.Errorf("exchange authorization code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return Assertion{}, fmt.Errorf("token response carries no id_token")
	}

	idToken, err := rp.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Assertion{}, fmt.Errorf("verify id token: %w", err)
	}
	if idToken.Nonce != nonce {
		return Assertion{}, fmt.Errorf("id token nonce mismatch")
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return Assertion{}, fmt.Errorf("decode id token claims: %w", err)
	}

	return Assertion{
		Provider:      rp.providerName,
		Subject:       idToken.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
	}, nil
}
