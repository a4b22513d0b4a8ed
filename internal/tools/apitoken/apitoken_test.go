package apitoken

import (
	"bytes"
	"encoding/hex"
	"flag"
	"strings"
	"testing"
	"time"

	"github.com/steamwings/fizzy/internal/auth/session"
)

func testSecretHex() string {
	return hex.EncodeToString(bytes.Repeat([]byte{0x11}, 32))
}

func TestParseConfigEnvSecret(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == "FIZZY_API_TOKEN_SECRET" {
			return testSecretHex(), true
		}
		return "", false
	}

	fs := flag.NewFlagSet("api-token", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-identity", "id-1"}, lookup)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.SecretHex != testSecretHex() {
		t.Fatalf("secret not taken from env")
	}
	if cfg.Scope != "full" {
		t.Fatalf("default scope = %q", cfg.Scope)
	}
}

func TestRunMintsVerifiableToken(t *testing.T) {
	var out bytes.Buffer
	issued := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	err := Run(Config{IdentityID: "id-1", Scope: "read", SecretHex: testSecretHex()}, &out, func() time.Time { return issued })
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	token := strings.TrimSpace(out.String())
	secret, _ := hex.DecodeString(testSecretHex())
	verifier, err := session.NewBearerVerifier(secret)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	claims, ok := verifier.Verify(token, issued.Add(time.Minute))
	if !ok {
		t.Fatal("minted token failed verification")
	}
	if claims.IdentityID != "id-1" {
		t.Fatalf("identity = %q", claims.IdentityID)
	}
	if claims.Scope != session.ScopeRead {
		t.Fatalf("scope = %q", claims.Scope)
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	var out bytes.Buffer
	if err := Run(Config{Scope: "full", SecretHex: testSecretHex()}, &out, nil); err == nil {
		t.Fatal("expected error for missing identity")
	}
	if err := Run(Config{IdentityID: "id-1", Scope: "admin", SecretHex: testSecretHex()}, &out, nil); err == nil {
		t.Fatal("expected error for unknown scope")
	}
	if err := Run(Config{IdentityID: "id-1", Scope: "full", SecretHex: "zz"}, &out, nil); err == nil {
		t.Fatal("expected error for bad secret hex")
	}
}
