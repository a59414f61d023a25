package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"shelf/pkg/config"
	"shelf/pkg/logging"
	"shelf/pkg/middleware"
	"shelf/pkg/monitoring"
)

// Config represents server configuration
type Config struct {
	Port         string
	ServiceName  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration // 0 disables; chunked GraphQL responses may outlive any fixed limit
	IdleTimeout  time.Duration
	ShutdownWait time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig(serviceName, defaultPort string) Config {
	return Config{
		Port:         config.GetEnv("PORT", defaultPort),
		ServiceName:  serviceName,
		ReadTimeout:  config.GetEnvDuration("HTTP_READ_TIMEOUT", 30*time.Second),
		WriteTimeout: config.GetEnvDuration("HTTP_WRITE_TIMEOUT", 0),
		IdleTimeout:  config.GetEnvDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
		ShutdownWait: config.GetEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// SetupServiceRouter creates a Gin router with common middleware, Prometheus
// metrics and the health checker mounted on /health and /metrics.
func SetupServiceRouter(logger logging.Logger, serviceName string, hc *monitoring.HealthChecker, mc *monitoring.MetricsCollector) *gin.Engine {
	if config.GetEnv("GIN_MODE", "debug") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	middleware.SetupCommonMiddleware(router, logger, config.GetEnv("CORS_ALLOWED_ORIGIN", "*"))
	if mc != nil {
		router.Use(mc.MetricsMiddleware())
		router.GET("/metrics", mc.Handler())
	}

	if hc != nil {
		router.GET("/health", hc.Handler())
	} else {
		router.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":  monitoring.StatusHealthy,
				"service": serviceName,
			})
		})
	}

	return router
}

// Start starts the HTTP server and blocks until SIGINT/SIGTERM, then shuts
// down gracefully.
func Start(cfg Config, router http.Handler, logger logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return Run(ctx, cfg, router, logger, nil)
}

type drainKey struct{}

// StreamContext derives a context from a request context that is also
// cancelled once the server starts shutting down. Responses that never go
// idle on their own (chunked streams, websockets) run under it so Shutdown
// can finish; ordinary requests keep their own context and are drained.
func StreamContext(ctx context.Context) (context.Context, context.CancelFunc) {
	streamCtx, cancel := context.WithCancel(ctx)
	drain, ok := ctx.Value(drainKey{}).(context.Context)
	if !ok {
		return streamCtx, cancel
	}
	stop := context.AfterFunc(drain, cancel)
	return streamCtx, func() {
		stop()
		cancel()
	}
}

// Run serves until ctx is cancelled. When ln is nil it listens on cfg.Port.
func Run(ctx context.Context, cfg Config, router http.Handler, logger logging.Logger, ln net.Listener) error {
	drain, startDrain := context.WithCancel(context.Background())
	defer startDrain()

	baseCtx := context.WithValue(context.Background(), drainKey{}, drain)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(startDrain)

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logging.Fields{
			"port":    cfg.Port,
			"service": cfg.ServiceName,
		}).Info("Starting HTTP server")

		var err error
		if ln != nil {
			err = srv.Serve(ln)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.WithField("service", cfg.ServiceName).Info("Shutting down server...")

	wait := cfg.ShutdownWait
	if wait <= 0 {
		wait = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), wait)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.WithField("service", cfg.ServiceName).Info("Server stopped")
	return nil
}
