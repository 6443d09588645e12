// Package server wires the HTTP API, the session janitor and shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/tablesense/internal/profile"
	"github.com/hrygo/tablesense/plugin/ai/session"
	"github.com/hrygo/tablesense/server/middleware"
	apiv1 "github.com/hrygo/tablesense/server/router/api/v1"
	"github.com/hrygo/tablesense/store"
)

const (
	bodyLimit       = "32M"
	shutdownTimeout = 10 * time.Second
)

// Options tune the server beyond the profile.
type Options struct {
	Cleanup           session.CleanupConfig
	RequestsPerSecond float64
	Burst             int
}

type Server struct {
	Profile  *profile.Profile
	Store    *store.Store
	Registry *session.Registry

	echoServer *echo.Echo
	cleanup    *session.CleanupJob
}

func NewServer(profile *profile.Profile, store *store.Store, registry *session.Registry, opts Options) *Server {
	echoServer := echo.New()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(echomiddleware.Recover())
	echoServer.Use(echomiddleware.RequestID())
	echoServer.Use(middleware.TurnContext(slog.Default()))
	echoServer.Use(echomiddleware.BodyLimit(bodyLimit))

	s := &Server{
		Profile:    profile,
		Store:      store,
		Registry:   registry,
		echoServer: echoServer,
		cleanup:    session.NewCleanupJob(registry, opts.Cleanup),
	}

	// Register healthz endpoint.
	echoServer.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})
	echoServer.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"message": "tablesense API is running",
			"version": profile.Version,
		})
	})

	api := echoServer.Group("/api", middleware.RateLimit(middleware.NewRateLimiter(opts.RequestsPerSecond, opts.Burst)))
	apiv1.NewAPIV1Service(profile, store, registry).RegisterRoutes(api)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

// Start listens on the profile address, starts the session janitor and
// serves in the background.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", address)
	}
	s.echoServer.Listener = listener

	s.cleanup.Start(ctx)

	go func() {
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start echo server", "error", err)
		}
	}()
	slog.Info("tablesense server started", "address", listener.Addr().String(), "mode", s.Profile.Mode)
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() net.Addr {
	if s.echoServer.Listener == nil {
		return nil
	}
	return s.echoServer.Listener.Addr()
}

// Shutdown stops accepting requests, closes every session and the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	s.cleanup.Stop()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", slog.String("error", err.Error()))
	}
	if err := s.Registry.Close(ctx); err != nil {
		slog.Error("failed to close sessions", slog.String("error", err.Error()))
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			slog.Error("failed to close database", slog.String("error", err.Error()))
		}
	}
	slog.Info("tablesense server stopped properly")
}
