// Package api provides the admin HTTP API of a snapstream worker.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/janovincze/snapstream/internal/api/handlers"
	"github.com/janovincze/snapstream/internal/api/middleware"
	"github.com/janovincze/snapstream/internal/checkpoint"
)

// Source is the running source the API inspects and controls.
type Source interface {
	handlers.SourceController
	checkpoint.Participant
}

// Server is the admin HTTP API server.
type Server struct {
	cfg        ServerConfig
	logger     *slog.Logger
	httpServer *http.Server
	router     *gin.Engine
}

// ServerConfig holds server configuration options.
type ServerConfig struct {
	// Version is reported by /api/v1/version.
	Version string

	// Environment selects gin's release mode when "production".
	Environment string

	// ListenAddr is the address to listen on.
	ListenAddr string

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration

	// Source is the source served by the API.
	Source Source

	// Coordinator serves the checkpoint endpoints. They are not registered
	// when it is nil.
	Coordinator handlers.Coordinator

	// MetricsEnabled records request metrics.
	MetricsEnabled bool

	// CORSConfig is the CORS configuration.
	CORSConfig middleware.CORSConfig

	// RateLimitConfig is the rate limiting configuration.
	RateLimitConfig middleware.RateLimitConfig

	// AuthConfig guards the routes that change state.
	AuthConfig middleware.AuthConfig
}

// NewServer creates a new admin API server.
func NewServer(cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(logger))
	if cfg.MetricsEnabled {
		router.Use(middleware.Metrics())
	}
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS(cfg.CORSConfig))
	router.Use(middleware.RateLimiter(cfg.RateLimitConfig))

	s := &Server{
		cfg:    cfg,
		logger: logger.With("component", "api-server"),
		router: router,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.ReadTimeout * 4,
	}
	return s
}

func (s *Server) registerRoutes() {
	versionHandler := handlers.NewVersionHandler(s.cfg.Version)
	sourceHandler := handlers.NewSourceHandler(s.cfg.Source)

	requireToken := middleware.RequireToken(s.cfg.AuthConfig)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/version", versionHandler.GetVersion)

		v1.GET("/source", sourceHandler.GetStatus)
		v1.POST("/source/cancel", requireToken, sourceHandler.Cancel)

		if s.cfg.Coordinator != nil {
			checkpointHandler := handlers.NewCheckpointHandler(s.cfg.Coordinator, s.cfg.Source, s.logger)
			v1.GET("/checkpoint", checkpointHandler.GetLast)
			v1.POST("/checkpoint", requireToken, checkpointHandler.Create)
		}
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting API server", "addr", s.cfg.ListenAddr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping API server")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the underlying Gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}
