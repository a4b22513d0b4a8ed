package server

import (
	"fmt"

	"github.com/steamwings/fizzy/internal/platform/config"
)

// Config carries the HTTP-surface settings. Component-specific settings
// (session secrets, magic link TTL, provider credentials) load through their
// own packages; everything is resolved once at startup.
type Config struct {
	Addr             string `env:"FIZZY_HTTP_ADDR" envDefault:":8422"`
	DBPath           string `env:"FIZZY_AUTH_DB_PATH" envDefault:"data/auth.db"`
	AcceptingSignups bool   `env:"FIZZY_ACCEPTING_SIGNUPS" envDefault:"true"`
	// DefaultReturnTo is where authenticated browsers land when no return-to
	// was captured.
	DefaultReturnTo      string `env:"FIZZY_DEFAULT_RETURN_TO" envDefault:"/"`
	SignInPath           string `env:"FIZZY_SIGN_IN_PATH" envDefault:"/session/new"`
	SignupCompletionPath string `env:"FIZZY_SIGNUP_COMPLETION_PATH" envDefault:"/signup/completion"`
}

// LoadConfigFromEnv reads HTTP-surface settings from the environment.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse server config: %w", err)
	}
	return cfg, nil
}
