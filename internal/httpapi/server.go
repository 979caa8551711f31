// Package httpapi provides the HTTP API for kbserve.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kbserve/internal/configstore"
	"github.com/fyrsmithlabs/kbserve/internal/knowledge"
)

// Server provides the HTTP endpoints for kbserve.
type Server struct {
	echo     *echo.Echo
	service  *knowledge.Service
	settings *configstore.Store
	logger   *zap.Logger
	config   *Config
}

// Config holds the HTTP server configuration.
type Config struct {
	Host string
	Port int

	// APIKey, when non-empty, is required in the X-API-Key header of every
	// endpoint except health, metrics and the strategy listing.
	APIKey string
}

// NewServer creates the HTTP server. settings holds the durable embedding
// provider credentials behind the /config endpoints.
func NewServer(service *knowledge.Service, settings *configstore.Store, logger *zap.Logger, cfg *Config) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("knowledge service cannot be nil")
	}
	if settings == nil {
		return nil, fmt.Errorf("settings store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		service:  service,
		settings: settings,
		logger:   logger,
		config:   cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Public endpoints
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/kb/split-strategies", s.handleSplitStrategies)

	kb := s.echo.Group("/kb", s.apiKeyMiddleware)
	kb.POST("/create", s.handleCreate)
	kb.GET("/list", s.handleList)
	kb.POST("/:name/upload", s.handleUpload)
	kb.POST("/:name/query", s.handleQuery)
	kb.GET("/:name/docs", s.handleDocs)
	kb.DELETE("/:name", s.handleDeleteKB)
	kb.DELETE("/:name/docs", s.handleDeleteDocs)

	cfgGroup := s.echo.Group("/config", s.apiKeyMiddleware)
	cfgGroup.GET("/embedding", s.handleGetEmbeddingConfig)
	cfgGroup.POST("/embedding", s.handleSetEmbeddingConfig)
}

// apiKeyMiddleware enforces the X-API-Key header. With no key configured
// all requests pass; a missing header is 401 and a wrong key 403.
func (s *Server) apiKeyMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.config.APIKey == "" {
			return next(c)
		}
		key := c.Request().Header.Get("X-API-Key")
		if key == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing API key")
		}
		if key != s.config.APIKey {
			return echo.NewHTTPError(http.StatusForbidden, "invalid API key")
		}
		return next(c)
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
