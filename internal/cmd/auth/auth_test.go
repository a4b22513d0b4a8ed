package auth

import (
	"flag"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Server.Addr != ":8422" {
		t.Fatalf("expected default addr :8422, got %q", cfg.Server.Addr)
	}
	if cfg.Server.DBPath != "data/auth.db" {
		t.Fatalf("expected default db path, got %q", cfg.Server.DBPath)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == "FIZZY_HTTP_ADDR" {
			return "env-addr", true
		}
		return "", false
	}

	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	args := []string{"-addr", "flag-addr", "-db", "/tmp/auth.db"}
	cfg, err := ParseConfig(fs, args, lookup)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Server.Addr != "flag-addr" {
		t.Fatalf("expected flag addr, got %q", cfg.Server.Addr)
	}
	if cfg.Server.DBPath != "/tmp/auth.db" {
		t.Fatalf("expected flag db path, got %q", cfg.Server.DBPath)
	}
}

func TestParseConfigEnvFallback(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == "FIZZY_HTTP_ADDR" {
			return "env-addr", true
		}
		return "", false
	}

	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil, lookup)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Server.Addr != "env-addr" {
		t.Fatalf("expected env addr, got %q", cfg.Server.Addr)
	}
}
