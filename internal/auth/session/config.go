package session

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// sessionEnv holds raw env values before post-parse validation.
type sessionEnv struct {
	Secret         string `env:"FIZZY_SESSION_SECRET"`
	APITokenSecret string `env:"FIZZY_API_TOKEN_SECRET"`
}

// Config carries the signing secrets for the two credential families.
type Config struct {
	// Secret signs session cookie tokens.
	Secret []byte
	// APITokenSecret signs bearer API tokens. Kept separate so rotating one
	// family does not invalidate the other.
	APITokenSecret []byte
}

// LoadConfigFromEnv reads session signing configuration.
//
// Both secrets are hex-encoded (cmd/hmac-key generates suitable values) and
// must decode to at least 32 bytes.
func LoadConfigFromEnv() (Config, error) {
	var raw sessionEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse session env: %w", err)
	}
	secret, err := decodeSecret(raw.Secret, "FIZZY_SESSION_SECRET")
	if err != nil {
		return Config{}, err
	}
	apiSecret, err := decodeSecret(raw.APITokenSecret, "FIZZY_API_TOKEN_SECRET")
	if err != nil {
		return Config{}, err
	}
	return Config{Secret: secret, APITokenSecret: apiSecret}, nil
}

func decodeSecret(value, name string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("%s is required", name)
	}
	decoded, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	if len(decoded) < 32 {
		return nil, fmt.Errorf("%s must decode to at least 32 bytes", name)
	}
	return decoded, nil
}
