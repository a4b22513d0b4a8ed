// Package apitoken mints bearer tokens for API callers.
package apitoken

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/steamwings/fizzy/internal/auth/session"
)

// Config holds configuration for token minting.
type Config struct {
	IdentityID string
	Scope      string
	SecretHex  string
}

// ParseConfig parses flags into a Config. The signing secret falls back to
// FIZZY_API_TOKEN_SECRET.
func ParseConfig(fs *flag.FlagSet, args []string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Config{Scope: string(session.ScopeFull)}
	if lookup != nil {
		if value, ok := lookup("FIZZY_API_TOKEN_SECRET"); ok {
			cfg.SecretHex = strings.TrimSpace(value)
		}
	}

	fs.StringVar(&cfg.IdentityID, "identity", cfg.IdentityID, "identity id the token acts as")
	fs.StringVar(&cfg.Scope, "scope", cfg.Scope, "token scope: read or full")
	fs.StringVar(&cfg.SecretHex, "secret", cfg.SecretHex, "hex-encoded signing secret")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run mints the token and writes it to out.
func Run(cfg Config, out io.Writer, now func() time.Time) error {
	if strings.TrimSpace(cfg.IdentityID) == "" {
		return errors.New("identity is required")
	}
	scope := session.Scope(cfg.Scope)
	if scope != session.ScopeRead && scope != session.ScopeFull {
		return fmt.Errorf("unknown scope %q", cfg.Scope)
	}
	if out == nil {
		return errors.New("output is required")
	}
	if now == nil {
		now = time.Now
	}

	secret, err := hex.DecodeString(strings.TrimSpace(cfg.SecretHex))
	if err != nil {
		return fmt.Errorf("decode secret: %w", err)
	}
	verifier, err := session.NewBearerVerifier(secret)
	if err != nil {
		return err
	}

	token, err := verifier.Mint(strings.TrimSpace(cfg.IdentityID), scope, now())
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
