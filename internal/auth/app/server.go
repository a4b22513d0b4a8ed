// Package server wires the authentication core behind its HTTP surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/steamwings/fizzy/internal/auth/delivery"
	"github.com/steamwings/fizzy/internal/auth/magiclink"
	"github.com/steamwings/fizzy/internal/auth/oidc"
	"github.com/steamwings/fizzy/internal/auth/ratelimit"
	"github.com/steamwings/fizzy/internal/auth/session"
	"github.com/steamwings/fizzy/internal/auth/storage"
	authsqlite "github.com/steamwings/fizzy/internal/auth/storage/sqlite"
	"github.com/steamwings/fizzy/internal/auth/tenant"
)

// Dependencies carries the assembled collaborators. Tests inject fakes here;
// NewFromEnv builds the production set.
type Dependencies struct {
	Identities storage.IdentityStore
	Sessions   *session.Manager
	MagicLinks *magiclink.Engine
	// MagicLinkTTL bounds the pending-authentication cookie to the link
	// lifetime.
	MagicLinkTTL time.Duration
	Resolver     *oidc.Resolver
	// Provider is nil when federated sign-in is disabled.
	Provider oidc.ProviderClient
	// OIDCRequired removes the magic-link routes, forcing every sign-in
	// through the provider.
	OIDCRequired bool
	Guard        *ratelimit.Guard
	Directory    tenant.Directory
	// CookieSecret signs the pending-authentication and state cookies.
	CookieSecret []byte
	// Logf defaults to log.Printf.
	Logf func(format string, args ...any)
}

// Server hosts the authentication HTTP surface.
type Server struct {
	config       Config
	identities   storage.IdentityStore
	sessions     *session.Manager
	magicLinks   *magiclink.Engine
	magicLinkTTL time.Duration
	resolver     *oidc.Resolver
	provider     oidc.ProviderClient
	providerOnly bool
	guard        *ratelimit.Guard
	directory    tenant.Directory
	codec        cookieCodec
	logf         func(format string, args ...any)

	closers []func() error
}

// New assembles a Server from pre-built collaborators.
func New(config Config, deps Dependencies) (*Server, error) {
	if deps.Identities == nil {
		return nil, fmt.Errorf("identity store is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if deps.MagicLinks == nil {
		return nil, fmt.Errorf("magic link engine is required")
	}
	if deps.Guard == nil {
		return nil, fmt.Errorf("rate limit guard is required")
	}
	if len(deps.CookieSecret) < 32 {
		return nil, fmt.Errorf("cookie secret must be at least 32 bytes")
	}
	if deps.Provider != nil && deps.Resolver == nil {
		return nil, fmt.Errorf("resolver is required when a provider is configured")
	}
	logf := deps.Logf
	if logf == nil {
		logf = log.Printf
	}
	ttl := deps.MagicLinkTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	directory := deps.Directory
	if directory == nil {
		directory = tenant.StaticDirectory{}
	}
	return &Server{
		config:       config,
		identities:   deps.Identities,
		sessions:     deps.Sessions,
		magicLinks:   deps.MagicLinks,
		magicLinkTTL: ttl,
		resolver:     deps.Resolver,
		provider:     deps.Provider,
		providerOnly: deps.OIDCRequired && deps.Provider != nil,
		guard:        deps.Guard,
		directory:    directory,
		codec:        cookieCodec{secret: deps.CookieSecret},
		logf:         logf,
	}, nil
}

// NewFromEnv assembles the production Server: SQLite store, env-configured
// components, and live provider discovery when one is configured.
func NewFromEnv(ctx context.Context, config Config) (*Server, error) {
	store, err := openStore(config.DBPath)
	if err != nil {
		return nil, err
	}

	sessionConfig, err := session.LoadConfigFromEnv()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	manager, err := session.NewManager(store, store, sessionConfig)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	linkConfig := magiclink.LoadConfigFromEnv()
	engine := magiclink.NewEngine(store, delivery.LogDeliverer{}, linkConfig)

	oidcConfig, err := oidc.LoadConfigFromEnv()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	var provider oidc.ProviderClient
	if oidcConfig.Enabled() {
		rp, err := oidc.NewRelyingParty(ctx, oidcConfig)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		provider = rp
	}

	guard := ratelimit.NewGuard(ratelimit.DefaultPolicies())

	server, err := New(config, Dependencies{
		Identities:   store,
		Sessions:     manager,
		MagicLinks:   engine,
		MagicLinkTTL: linkConfig.TTL,
		Resolver:     oidc.NewResolver(store),
		Provider:     provider,
		OIDCRequired: oidcConfig.Required,
		Guard:        guard,
		CookieSecret: sessionConfig.Secret,
	})
	if err != nil {
		guard.Stop()
		_ = store.Close()
		return nil, err
	}
	server.closers = append(server.closers, store.Close, func() error {
		guard.Stop()
		return nil
	})
	return server, nil
}

func openStore(path string) (*authsqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := authsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open auth sqlite store: %w", err)
	}
	return store, nil
}

// Handler builds the routed HTTP surface with its middleware pipeline:
// tenant resolution, then session resumption, then per-route rate limits.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, policy string, handler http.HandlerFunc) {
		var h http.Handler = handler
		if policy != "" {
			h = s.rateLimited(policy, h)
		}
		h = s.withSession(h)
		h = s.withTenant(h)
		mux.Handle(pattern, traced(pattern, h))
	}

	if s.providerOnly {
		// Registered explicitly so ServeMux answers 404, not a 405 hinting
		// the route exists for other methods.
		mux.HandleFunc("POST /session", http.NotFound)
		mux.HandleFunc("GET /session/magic_link", http.NotFound)
		mux.HandleFunc("POST /session/magic_link", http.NotFound)
	} else {
		route("POST /session", ratelimit.PolicySignIn, s.handleRequestMagicLink)
		route("GET /session/magic_link", ratelimit.PolicyMagicLinkConsume, s.handleConsumeMagicLink)
		route("POST /session/magic_link", ratelimit.PolicyMagicLinkConsume, s.handleConsumeMagicLink)
	}
	route("GET /auth/oidc", "", s.handleOIDCStart)
	route("GET /auth/oidc/callback", ratelimit.PolicyOIDCCallback, s.handleOIDCCallback)
	route("POST /auth/oidc/callback", ratelimit.PolicyOIDCCallback, s.handleOIDCCallback)
	route("DELETE /session", "", s.handleSignOut)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return mux
}

// Serve listens on the configured address until the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.close()

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr, err)
	}
	httpServer := &http.Server{Handler: s.Handler()}

	s.logf("auth server listening at %v", listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

func (s *Server) close() {
	for _, closer := range s.closers {
		if err := closer(); err != nil {
			s.logf("close: %v", err)
		}
	}
}

// Run assembles the production server and serves until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewFromEnv(ctx, config)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}
