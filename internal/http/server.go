// Package http serves the micrologger web UI and its JSON API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/micrologger/internal/auth"
	"github.com/fyrsmithlabs/micrologger/internal/catalog"
	"github.com/fyrsmithlabs/micrologger/internal/logbook"
	"github.com/fyrsmithlabs/micrologger/internal/logging"
	"github.com/fyrsmithlabs/micrologger/internal/telemetry"
)

// Pinger reports database reachability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the handlers.
type Deps struct {
	Logbook   *logbook.Service
	Auth      *auth.Service
	Sessions  *auth.Sessions
	Catalog   *catalog.Syncer
	DB        Pinger
	Telemetry *telemetry.Telemetry
	// Meter receives the HTTP instruments; nil uses the global provider.
	Meter metric.Meter
}

// Config holds HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CookieName      string
	SecureCookie    bool
	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy bool
	LoginRate  float64
	LoginBurst int
	Location   *time.Location
	Version    string
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.Host == "" {
		out.Host = "localhost"
	}
	if out.Port == 0 {
		out.Port = 8080
	}
	if out.ShutdownTimeout <= 0 {
		out.ShutdownTimeout = 10 * time.Second
	}
	if out.CookieName == "" {
		out.CookieName = auth.DefaultCookieName
	}
	if out.LoginRate <= 0 {
		out.LoginRate = 1
	}
	if out.LoginBurst <= 0 {
		out.LoginBurst = 10
	}
	if out.Location == nil {
		out.Location = time.Local
	}
	return &out
}

// Server provides the micrologger HTTP endpoints.
type Server struct {
	echo    *echo.Echo
	deps    Deps
	logger  *zap.Logger
	config  *Config
	views   *views
	metrics *HTTPMetrics
	nowFunc func() time.Time
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	switch {
	case deps.Logbook == nil:
		return nil, errors.New("logbook service is required")
	case deps.Auth == nil:
		return nil, errors.New("auth service is required")
	case deps.Sessions == nil:
		return nil, errors.New("session store is required")
	case deps.Catalog == nil:
		return nil, errors.New("catalog syncer is required")
	case deps.DB == nil:
		return nil, errors.New("database pinger is required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg = cfg.withDefaults()

	v, err := newViews(cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = v
	if cfg.TrustProxy {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	} else {
		e.IPExtractor = echo.ExtractIPDirect()
	}

	s := &Server{
		echo:    e,
		deps:    deps,
		logger:  logger,
		config:  cfg,
		views:   v,
		metrics: NewHTTPMetrics(deps.Meter, logger),
		nowFunc: time.Now,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLog)
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(s.loadSession)
	e.Use(s.checkCSRF)

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.GET("/login", s.handleLoginPage)
	s.echo.POST("/login", s.handleLogin, s.loginLimiter())
	s.echo.GET("/logout", s.handleLogout)

	pages := s.echo.Group("", s.requireAuth)
	pages.GET("/", s.handleDashboard)
	pages.GET("/create", s.handleCreatePage)
	pages.POST("/create", s.handleCreate)
	pages.GET("/documents", s.handleDocuments)
	pages.POST("/documents", s.handleDocumentsUpdate)
	pages.GET("/data", s.handleData)
	pages.GET("/data/print", s.handlePrint)
	pages.GET("/data/export.csv", s.handleExport)
	pages.GET("/statistics", s.handleStatistics)

	admin := s.echo.Group("/users", s.requireAuth, s.requireAdmin)
	admin.GET("", s.handleUsers)
	admin.POST("", s.handleCreateUser)
	admin.POST("/:id/active", s.handleSetActive)

	v1 := s.echo.Group("/api/v1", s.requireAuth)
	v1.POST("/classify", s.handleClassify)
	v1.GET("/calendar", s.handleCalendar)
	v1.GET("/products", s.handleProducts)
	v1.POST("/products/sync", s.handleSyncProducts, s.requireAdmin)
}

// requestLog logs each request once it completes, with the correlation
// fields of the request context.
func (s *Server) requestLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		duration := time.Since(start)

		fields := append(logging.ContextFields(c.Request().Context()),
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", duration),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		s.logger.Info("http request", fields...)
		return err
	}
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Version   string                  `json:"version,omitempty"`
	Database  string                  `json:"database"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

// handleHealth pings the database and reports telemetry export health.
// Degraded telemetry does not fail the check.
func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Version: s.config.Version, Database: "ok"}
	code := http.StatusOK
	if err := s.deps.DB.Ping(ctx); err != nil {
		s.logger.Warn("health check: database unreachable", zap.Error(err))
		resp.Status, resp.Database = "unavailable", "unreachable"
		code = http.StatusServiceUnavailable
	}
	if s.deps.Telemetry != nil && s.deps.Telemetry.Enabled() {
		h := s.deps.Telemetry.Health()
		resp.Telemetry = &h
		if !h.Healthy && code == http.StatusOK {
			resp.Status = "degraded"
		}
	}
	return c.JSON(code, resp)
}

// now returns the current time in the lab's zone.
func (s *Server) now() time.Time {
	return s.nowFunc().In(s.config.Location)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
// Returns http.ErrServerClosed after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
