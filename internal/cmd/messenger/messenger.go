// Package messenger parses messenger command flags and composes the
// realtime transport entrypoint.
package messenger

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/paircast/paircast/internal/platform/cmd"
	app "github.com/paircast/paircast/internal/services/messenger/app"
)

// Config holds messenger command configuration.
type Config struct {
	HTTPAddr  string `env:"PAIRCAST_MESSENGER_HTTP_ADDR" envDefault:":5000"`
	DBPath    string `env:"PAIRCAST_MESSENGER_DB_PATH"   envDefault:"data/messenger.db"`
	JWTSecret string `env:"PAIRCAST_JWT_SECRET"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "messenger HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "messenger SQLite database path")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "token signing secret")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the messenger app and starts realtime transport behavior.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceMessenger, func(context.Context) error {
		if err := app.Run(ctx, app.Config{
			HTTPAddr:  cfg.HTTPAddr,
			DBPath:    cfg.DBPath,
			JWTSecret: cfg.JWTSecret,
		}); err != nil {
			return fmt.Errorf("serve messenger: %w", err)
		}
		return nil
	})
}
