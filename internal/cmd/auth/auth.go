// Package auth wires flags and environment into the auth server.
package auth

import (
	"context"
	"flag"
	"log"
	"strings"

	server "github.com/steamwings/fizzy/internal/auth/app"
	"github.com/steamwings/fizzy/internal/platform/otel"
)

// Config holds auth command configuration.
type Config struct {
	Server server.Config
}

// EnvLookup returns the value for a key when present.
type EnvLookup func(string) (string, bool)

// ParseConfig resolves the server configuration from environment then flags;
// flags win.
func ParseConfig(fs *flag.FlagSet, args []string, lookup EnvLookup) (Config, error) {
	serverConfig, err := server.LoadConfigFromEnv()
	if err != nil {
		return Config{}, err
	}
	if addr := envValue(lookup, "FIZZY_HTTP_ADDR"); addr != "" {
		serverConfig.Addr = addr
	}

	fs.StringVar(&serverConfig.Addr, "addr", serverConfig.Addr, "The auth HTTP server address")
	fs.StringVar(&serverConfig.DBPath, "db", serverConfig.DBPath, "Path to the auth SQLite database")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return Config{Server: serverConfig}, nil
}

// Run starts the auth server with tracing when an OTLP endpoint is set.
func Run(ctx context.Context, cfg Config) error {
	shutdown, err := otel.Setup(ctx, "fizzy-auth")
	if err != nil {
		log.Printf("tracing setup: %v", err)
	} else if shutdown != nil {
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Printf("tracing shutdown: %v", err)
			}
		}()
	}

	return server.Run(ctx, cfg.Server)
}

func envValue(lookup EnvLookup, key string) string {
	if lookup == nil {
		return ""
	}
	value, ok := lookup(key)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}
