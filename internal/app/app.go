package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"github.com/zep-us/httpjobs/internal/client"
	"github.com/zep-us/httpjobs/internal/config"
	"github.com/zep-us/httpjobs/internal/handler/http/health"
	httpiface "github.com/zep-us/httpjobs/internal/handler/http/interface"
	"github.com/zep-us/httpjobs/internal/handler/http/jobs"
	"github.com/zep-us/httpjobs/internal/metrics"
	"github.com/zep-us/httpjobs/pkg/logger"
)

// paths served even after readiness drops
var probePaths = map[string]bool{"/healthz": true, "/readyz": true, "/metrics": true}

// App represents the application with its lifecycle management
type App struct {
	config       *config.Config
	echo         *echo.Echo
	readiness    *atomic.Bool
	httpHandlers []httpiface.HttpRouter
	client       *client.Client
	registry     *prometheus.Registry // HTTP middleware metrics, per app instance
}

// NewApp creates a new App instance with the given configuration
func NewApp(cfg *config.Config) *App {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	return &App{
		config:    cfg,
		echo:      e,
		readiness: atomic.NewBool(false),
		registry:  prometheus.NewRegistry(),
	}
}

// injectDependency builds the job client and every HTTP handler
func (a *App) injectDependency() error {
	c, err := client.New(client.OptionsFromConfig(a.config), client.TransportFromConfig(a.config))
	if err != nil {
		return fmt.Errorf("failed to create job client: %w", err)
	}
	a.client = c
	logger.Info("Job families ready (async capacity=%d, bg capacity=%d workers=%d)",
		a.config.AsyncCapacity, a.config.BgCapacity, a.config.BgPoolSize)

	a.httpHandlers = []httpiface.HttpRouter{
		health.NewHealthHandler(a.readiness, a.client),
		jobs.NewJobsHandler(a.client, a.config.AllowFileFields),
	}
	return nil
}

// setupServer installs middleware and routes. Order matters: CORS must run before the body limit
// so 413 responses still carry CORS headers.
func (a *App) setupServer() {
	e := a.echo

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: a.config.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "Authorization", "Accept", "Origin", "User-Agent", "Traceparent", "X-Requested-With"},
	}))

	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", a.config.MaxRequestSizeMB)))
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(a.readinessGate)

	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace:  metrics.Namespace,
		Registerer: a.registry,
	}))
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
		Gatherer: prometheus.Gatherers{prometheus.DefaultGatherer, a.registry},
	}))

	for _, handler := range a.httpHandlers {
		handler.SetupRoutes(e)
	}
}

// readinessGate rejects API traffic with 503 once shutdown has started
func (a *App) readinessGate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !a.readiness.Load() && !probePaths[c.Request().URL.Path] {
			logger.Info("readiness=false: reject new request path=%s", c.Request().URL.Path)
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return next(c)
	}
}

// Run serves until SIGINT or SIGTERM, then shuts down gracefully
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.Serve(ctx)
}

// Serve starts the HTTP server and blocks until ctx is cancelled or the listener fails.
// Shutdown sequence: readiness off, drain window, job families, HTTP server.
func (a *App) Serve(ctx context.Context) error {
	if err := a.injectDependency(); err != nil {
		return err
	}
	a.setupServer()

	addr := fmt.Sprintf(":%d", a.config.ServerPort)
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting httpjobs server on %s", addr)
		// http.ErrServerClosed is expected during graceful shutdown
		if err := a.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	a.readiness.Store(true)
	logger.Info("Server ready. Waiting for interrupt signal...")

	select {
	case <-ctx.Done():
	case err, ok := <-serverErr:
		if ok {
			logger.Error("Server error: %v", err)
			a.readiness.Store(false)
			a.client.Shutdown(context.Background())
			return err
		}
	}

	return a.shutdown()
}

func (a *App) shutdown() error {
	logger.Info("Shutting down gracefully...")

	a.readiness.Store(false)
	drain := time.Duration(a.config.ShutdownDrainSeconds) * time.Second
	logger.Info("readiness=false: start drain window duration=%v", drain)
	time.Sleep(drain)

	timeout := time.Duration(a.config.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger.Info("Stopping job families...")
	if err := a.client.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Job families did not drain: %v", err)
	}

	logger.Info("Shutting down Echo server...")
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error: %v", err)
		return err
	}

	logger.Info("Server stopped gracefully")
	return nil
}
