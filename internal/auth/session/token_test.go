package session

import (
	"bytes"
	"strings"
	"testing"
)

func testSecret() []byte {
	return bytes.Repeat([]byte{0xAB}, 32)
}

func TestNewTokenSignerRejectsShortSecret(t *testing.T) {
	if _, err := NewTokenSigner([]byte("short")); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	signer, err := NewTokenSigner(testSecret())
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	token, err := signer.Sign("session-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !strings.HasPrefix(token, "session-1.") {
		t.Fatalf("token %q should embed the session id", token)
	}

	got, ok := signer.Verify(token)
	if !ok {
		t.Fatal("expected valid token")
	}
	if got != "session-1" {
		t.Fatalf("Verify = %q, want session-1", got)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	signer, err := NewTokenSigner(testSecret())
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	token, err := signer.Sign("session-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	// Flipping any single byte must invalidate the token.
	for i := 0; i < len(token); i++ {
		mutated := []byte(token)
		mutated[i] ^= 0x01
		if _, ok := signer.Verify(string(mutated)); ok {
			t.Fatalf("mutated token at byte %d still verified", i)
		}
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	signer, _ := NewTokenSigner(testSecret())
	other, _ := NewTokenSigner(bytes.Repeat([]byte{0xCD}, 32))

	token, err := other.Sign("session-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, ok := signer.Verify(token); ok {
		t.Fatal("token signed with a different secret should not verify")
	}
}

func TestVerifyRejectsMalformedTokens(t *testing.T) {
	signer, _ := NewTokenSigner(testSecret())

	for _, token := range []string{"", "no-separator", ".", "id.", ".sig"} {
		if _, ok := signer.Verify(token); ok {
			t.Fatalf("malformed token %q verified", token)
		}
	}
}

func TestSignRequiresSessionID(t *testing.T) {
	signer, _ := NewTokenSigner(testSecret())
	if _, err := signer.Sign("  "); err == nil {
		t.Fatal("expected error for empty session id")
	}
}

func TestNilSignerFailsClosed(t *testing.T) {
	var signer *TokenSigner
	if _, err := signer.Sign("session-1"); err == nil {
		t.Fatal("expected error from nil signer")
	}
	if _, ok := signer.Verify("anything"); ok {
		t.Fatal("nil signer should not verify")
	}
}
