package server

import (
	"context"
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"go.uber.org/zap"

	"github.com/keygate/keygate/internal/appid"
	"github.com/keygate/keygate/internal/observability"
	"github.com/keygate/keygate/internal/server/handlers"
)

func (s *Server) registerRoutes() {
	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)
	s.router.Get("/health/startup", handlers.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", MetricsHandler)
	s.router.Get("/pool", handlers.PoolHandler(s.pool))

	if s.forwarder != nil {
		for _, method := range ProxyMethods {
			s.router.Method(method, "/proxy/*", s.forwarder)
		}
	}

	s.registerAdminEndpoint()
}

// registerAdminEndpoint mounts the gofulmen signal endpoint when
// <PREFIX>ADMIN_TOKEN is set. POST /admin/signal with {"signal":"SIGHUP"}
// re-reads configuration.
func (s *Server) registerAdminEndpoint() {
	envPrefix := appid.EnvPrefix(context.Background())
	adminToken := os.Getenv(envPrefix + "ADMIN_TOKEN")
	logger := observability.ServerLogger

	if adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no " + envPrefix + "ADMIN_TOKEN set)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: adminToken,
		RateLimit: 10, // per minute
		RateBurst: 5,
		Manager:   nil,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("auth", "bearer token"),
			zap.String("rate_limit", "10/min, burst 5"))
	}
}
