// Package api provides the HTTP API server for gridstore.
// It uses the Echo framework to serve the network records held by the object
// index as REST collections, and a WebSocket change feed of index events.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"evalgo.org/gridstore/internal/auth"
	"evalgo.org/gridstore/internal/config"
	"evalgo.org/gridstore/internal/index"
	"evalgo.org/gridstore/internal/integrity"
	"evalgo.org/gridstore/internal/validation"
	"evalgo.org/gridstore/internal/version"
)

// Server represents the gridstore API server.
type Server struct {
	echo       *echo.Echo
	registry   *index.Registry
	config     *config.Config
	logger     logrus.FieldLogger
	hub        *Hub
	authMiddle *auth.Middleware
	integrity  *integrity.Service
	validator  *validation.Validator
	gatherer   prometheus.Gatherer
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer serves the metrics of g on /metrics instead of the default
// prometheus registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithIntegrity replaces the integrity service used by scan requests.
func WithIntegrity(svc *integrity.Service) Option {
	return func(s *Server) { s.integrity = svc }
}

// New creates a new API server instance. hub should be the hub whose
// Listener was installed on the registry's indexes; a nil hub creates one
// that only reports connections.
func New(cfg *config.Config, registry *index.Registry, hub *Hub, logger logrus.FieldLogger, opts ...Option) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if hub == nil {
		hub = NewHub(logger)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Debug = cfg.Server.Debug
	e.HTTPErrorHandler = HTTPErrorHandler

	server := &Server{
		echo:       e,
		registry:   registry,
		config:     cfg,
		logger:     logger.WithField("component", "api"),
		hub:        hub,
		authMiddle: auth.NewMiddleware(cfg),
		validator:  validation.New(),
		gatherer:   prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(server)
	}
	if server.integrity == nil {
		server.integrity = integrity.NewService(logger, nil)
	}

	go hub.Run()

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.RequestID())
	s.echo.Use(RequestLogger(s.logger))
	s.echo.Use(middleware.Recover())
	s.echo.Use(SecurityHeaders)

	if len(s.config.Security.AllowedOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.config.Security.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}

	if s.config.Security.RateLimit > 0 {
		s.echo.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(s.config.Security.RateLimit),
		)))
	}

	s.echo.Use(middleware.BodyLimit("16M"))
	s.echo.Use(ValidateContentType)
	s.echo.Use(ValidateAcceptHeader)
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	read := s.authMiddle.RequireRead
	write := s.authMiddle.RequireWrite
	admin := s.authMiddle.RequireAdmin

	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/version", s.getVersion)
	v1.POST("/validate", s.validateResource, read)
	v1.GET("/ws", s.HandleWebSocket, read)
	v1.GET("/ws/stats", s.GetWebSocketStats, read)

	networks := v1.Group("/networks")
	networks.Use(ValidateQueryParams)
	networks.GET("", s.listNetworks, read)
	networks.POST("", s.createNetwork, write)
	networks.GET("/:network", s.getNetwork, read)
	networks.DELETE("/:network", s.deleteNetwork, admin)
	networks.POST("/:network/invalidate", s.invalidateNetwork, write)
	networks.GET("/:network/stats", s.getNetworkStats, read)
	networks.GET("/:network/integrity", s.scanIntegrity, read)

	networks.GET("/:network/:kind", s.listResources, read)
	networks.POST("/:network/:kind", s.createResources, write)
	networks.PUT("/:network/:kind", s.updateResources, write)
	networks.GET("/:network/:kind/:id", s.getResource, ValidateIDFormat, read)
	networks.PUT("/:network/:kind/:id", s.updateResource, ValidateIDFormat, write)
	networks.DELETE("/:network/:kind/:id", s.deleteResource, ValidateIDFormat, write)
	networks.POST("/:network/:kind/:id/invalidate", s.invalidateResource, ValidateIDFormat, write)
	networks.GET("/:network/:kind/:id/:child", s.listChildren, ValidateIDFormat, read)

	networks.GET("/:network/:kind/:id/extensions/:name", s.getExtension, ValidateIDFormat, read)
	networks.PUT("/:network/:kind/:id/extensions/:name", s.putExtension, ValidateIDFormat, write)
	networks.DELETE("/:network/:kind/:id/extensions/:name", s.deleteExtension, ValidateIDFormat, write)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.logger.WithFields(logrus.Fields{
		"address": addr,
		"store":   s.config.Store.Driver,
		"debug":   s.config.Server.Debug,
		"auth":    s.config.Security.AuthEnabled,
	}).Info("Starting gridstore API server")

	s.echo.Server.ReadTimeout = s.config.Server.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.Server.WriteTimeout

	if s.config.Server.TLSEnabled {
		return s.echo.StartTLS(addr, s.config.Server.TLSCert, s.config.Server.TLSKey)
	}

	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server and closes the backing store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down gridstore API server")

	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}
	s.hub.Stop()

	if err := s.registry.Client().Close(); err != nil {
		return fmt.Errorf("error closing storage: %w", err)
	}

	s.logger.Info("Server shutdown complete")
	return nil
}

// healthCheck reports whether the backing store answers.
func (s *Server) healthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if _, err := s.registry.Client().ListNetworks(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "unhealthy",
			"error":   "backing store unavailable",
			"details": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"service":  "gridstore",
		"version":  version.Version,
		"store":    s.config.Store.Driver,
		"networks": len(s.registry.Networks()),
		"clients":  s.hub.ClientCount(),
	})
}

// getVersion returns build information.
func (s *Server) getVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, version.Get())
}

// ServeHTTP allows Server to implement http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
