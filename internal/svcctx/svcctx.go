// Package svcctx provides service context for dependency injection via context.
// Commands receive the services the root command built without package globals.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/sieve/internal/config"
	"github.com/jackzampolin/sieve/internal/home"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	ConfigManager *config.Manager
	Logger        *slog.Logger
	// LogLevel is shared by every handler of Logger, so changing it applies
	// to a running command.
	LogLevel *slog.LevelVar
	Home     *home.Dir
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// ConfigManagerFrom extracts the config manager from context.
func ConfigManagerFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.ConfigManager
	}
	return nil
}

// LoggerFrom extracts the logger from context, falling back to
// slog.Default.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil && s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}
