// Package api exposes the resource manager over HTTP.
//
// Routes:
//
//	GET    /healthz
//	GET    /v1/usage
//	GET    /v1/domains
//	GET    /v1/domains/:id/resources
//	GET    /v1/domains/:id/lookup?uuid=&source=&version=
//	POST   /v1/domains/:id/resources
//	DELETE /v1/domains/:id/resources/:uuid
//
// Every route but /healthz is throttled per client address.
package api

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/marmos91/dittostash/internal/logger"
	"github.com/marmos91/dittostash/internal/ratelimiter"
	"github.com/marmos91/dittostash/pkg/domain"
	"github.com/marmos91/dittostash/pkg/manager"
	"github.com/marmos91/dittostash/pkg/store/metadata"
)

// Service is the part of the resource manager served over HTTP.
// *manager.Manager satisfies it.
type Service interface {
	LookupWait(ctx context.Context, req manager.LookupRequest) (*metadata.Resource, error)
	RegisterWait(ctx context.Context, req manager.RegisterRequest) (*metadata.Resource, error)
	PurgeWait(ctx context.Context, domainID string, id uuid.UUID) (*metadata.Resource, error)
	Usage(ctx context.Context) (*manager.Usage, error)
	Resources(ctx context.Context, domainID string) ([]*metadata.Resource, error)
	Domains() *domain.Index
}

// Options configures the HTTP facade.
type Options struct {
	// Service handles the requests (required)
	Service Service

	// StagingDir is the only directory register accepts staged files from
	// (required)
	StagingDir string

	// Listen is the TCP address to bind, e.g. "127.0.0.1:8080"
	Listen string

	// RequestsPerSecond is the sustained rate allowed per client address.
	// Zero or negative disables throttling.
	RequestsPerSecond float64

	// Burst is the number of requests a client may issue at once
	Burst int

	// RequestTimeout bounds how long a handler waits for the manager
	// (default: 30s)
	RequestTimeout time.Duration
}

const defaultRequestTimeout = 30 * time.Second

// Server serves the HTTP facade.
type Server struct {
	app    *fiber.App
	listen string
}

// NewApp builds the Fiber application with recovery, throttling and the
// JSON error handler installed.
func NewApp(opts Options) (*fiber.App, error) {
	if opts.Service == nil {
		return nil, errors.New("service is required")
	}
	if opts.StagingDir == "" {
		return nil, errors.New("staging directory is required")
	}
	stagingDir, err := filepath.Abs(opts.StagingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve staging directory: %w", err)
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  errorHandler,
	})

	app.Use(recover.New())

	h := &handlers{svc: opts.Service, stagingDir: stagingDir, timeout: opts.RequestTimeout}
	app.Get("/healthz", h.health)

	v1 := app.Group("/v1")
	if opts.RequestsPerSecond > 0 {
		limiter := ratelimiter.NewKeyed(opts.RequestsPerSecond, opts.Burst, 0)
		v1.Use(rateLimitMiddleware(limiter))
	}
	v1.Get("/usage", h.usage)
	v1.Get("/domains", h.listDomains)
	v1.Get("/domains/:id/resources", h.listResources)
	v1.Get("/domains/:id/lookup", h.lookup)
	v1.Post("/domains/:id/resources", h.register)
	v1.Delete("/domains/:id/resources/:uuid", h.purge)

	return app, nil
}

// NewServer creates a Server for opts. Listen is required.
func NewServer(opts Options) (*Server, error) {
	if opts.Listen == "" {
		return nil, errors.New("listen address is required")
	}
	app, err := NewApp(opts)
	if err != nil {
		return nil, err
	}
	return &Server{app: app, listen: opts.Listen}, nil
}

// App returns the underlying Fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start serves until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	logger.Info("API server listening on %s", s.listen)
	if err := s.app.Listen(s.listen, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("API server failed: %w", err)
	}
	return nil
}

// Stop waits for in-flight requests to finish, or for ctx to end.
func (s *Server) Stop(ctx context.Context) error {
	logger.Info("API server shutting down")
	return s.app.ShutdownWithContext(ctx)
}
