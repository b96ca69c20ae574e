// Package core provides the API chassis for the Flightdeck platform: a chi
// router with the cross-cutting middleware chain (recovery, timeouts,
// request IDs, logging, auth) applied before requests reach domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"flightdeck/internal/config"
	"flightdeck/internal/types"
)

// Authenticator resolves a bearer token into an Actor. The implementation
// performs the live role lookup on every request so role changes take effect
// immediately.
type Authenticator interface {
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// Pinger is the health-check view of the database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server bundles the dependencies of the HTTP API so tests can inject
// substitutes per field.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Authenticator Authenticator
	DB            Pinger

	// V1RouteRegistrars mount domain handler routes under /v1. Populated by
	// the entry point to avoid an import cycle between core and handlers.
	V1RouteRegistrars []func(chi.Router)

	router *chi.Mux
}

// NewServer validates the critical dependencies and prepares the router.
// The caller mounts routes afterwards via MountRoutes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi mux for route registration and tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
