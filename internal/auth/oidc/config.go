package oidc

import (
	"fmt"
	"strings"

	"github.com/steamwings/fizzy/internal/platform/config"
)

// Config carries the relying-party settings for the single configured
// upstream provider. All fields empty means federated sign-in is disabled
// and the related routes answer 404.
type Config struct {
	Issuer       string   `env:"FIZZY_OIDC_ISSUER"`
	ClientID     string   `env:"FIZZY_OIDC_CLIENT_ID"`
	ClientSecret string   `env:"FIZZY_OIDC_CLIENT_SECRET"`
	RedirectURL  string   `env:"FIZZY_OIDC_REDIRECT_URL"`
	Scopes       []string `env:"FIZZY_OIDC_SCOPES" envSeparator:","`
	// ProviderName labels linked identities; defaults to the issuer host.
	ProviderName string `env:"FIZZY_OIDC_PROVIDER_NAME"`
	// Required forces all sign-ins through the provider; magic-link routes
	// answer 404 when set.
	Required bool `env:"FIZZY_OIDC_REQUIRED"`
}

// LoadConfigFromEnv reads relying-party settings from the environment.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse oidc config: %w", err)
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"openid", "email", "profile"}
	}
	if cfg.ProviderName == "" && cfg.Issuer != "" {
		cfg.ProviderName = issuerHost(cfg.Issuer)
	}
	if cfg.Enabled() {
		if err := cfg.validate(); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.validateRequired(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Enabled reports whether any relying-party setting is present.
func (c Config) Enabled() bool {
	return c.Issuer != "" || c.ClientID != "" || c.ClientSecret != "" || c.RedirectURL != ""
}

func (c Config) validateRequired() error {
	if c.Required && !c.Enabled() {
		return fmt.Errorf("FIZZY_OIDC_REQUIRED is set but no provider is configured")
	}
	return nil
}

func (c Config) validate() error {
	var missing []string
	if c.Issuer == "" {
		missing = append(missing, "FIZZY_OIDC_ISSUER")
	}
	if c.ClientID == "" {
		missing = append(missing, "FIZZY_OIDC_CLIENT_ID")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "FIZZY_OIDC_CLIENT_SECRET")
	}
	if c.RedirectURL == "" {
		missing = append(missing, "FIZZY_OIDC_REDIRECT_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("oidc partially configured; missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func issuerHost(issuer string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(issuer, "https://"), "http://")
	if host, _, found := strings.Cut(trimmed, "/"); found {
		return host
	}
	return trimmed
}
