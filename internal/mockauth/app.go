package mockauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aussiebroadwan/authkit/pkg/httpx"
	"github.com/aussiebroadwan/authkit/pkg/slogx"
)

// BuildVersion should be set at build time via ldflags.
var BuildVersion = "v0.1.0"

// ServerConfig configures the standalone mock service.
type ServerConfig struct {
	Port                int           // HTTP port (default: 8080)
	Secret              string        // Token signing secret (default: random per process)
	AccessTTL           time.Duration // Access token lifetime (default: 300ms)
	RefreshTTL          time.Duration // Refresh token lifetime (default: 1s)
	SignInLimit         httpx.RateLimitConfig
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)
	Env                 string        // Environment (default: dev)
	LogLevel            string        // Log level (default: info)
	LogFormat           string        // Log format (default: json)
}

// LoadServerConfig reads the service configuration from the environment.
func LoadServerConfig() ServerConfig {
	return ServerConfig{
		Port:                getEnvIntOrDefault("PORT", 8080),
		Secret:              os.Getenv("MOCKAUTH_SECRET"),
		AccessTTL:           getEnvDurationOrDefault("MOCKAUTH_ACCESS_TTL", DefaultAccessTTL),
		RefreshTTL:          getEnvDurationOrDefault("MOCKAUTH_REFRESH_TTL", DefaultRefreshTTL),
		SignInLimit:         httpx.ParseRateLimitFromEnv("SIGNIN", httpx.SignInLimit),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
	}
}

// Application runs a Server over HTTP until it receives a shutdown signal.
type Application struct {
	cfg    ServerConfig
	logger *slog.Logger

	server *http.Server
	mock   *Server
}

// NewApplication builds the mock service from cfg.
func NewApplication(cfg ServerConfig) (*Application, error) {
	logger := slogx.New(slogx.Config{
		Service: "mockauthd",
		Version: BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})

	mock, err := New(Config{
		Secret:      []byte(cfg.Secret),
		AccessTTL:   cfg.AccessTTL,
		RefreshTTL:  cfg.RefreshTTL,
		SignInLimit: cfg.SignInLimit,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mock service: %w", err)
	}

	return &Application{
		cfg:    cfg,
		logger: logger,
		mock:   mock,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           mock.Handler(),
			ReadHeaderTimeout: 3 * time.Second,
		},
	}, nil
}

// Run serves until SIGINT or SIGTERM, then shuts down gracefully.
func (app *Application) Run() error {
	app.logger.Info("mock auth service starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"access_ttl", app.cfg.AccessTTL,
		"refresh_ttl", app.cfg.RefreshTTL,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}
	return nil
}

// Shutdown drains outstanding requests within the grace period.
func (app *Application) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if cerr := app.server.Close(); cerr != nil {
			app.logger.Error("error closing server", "error", cerr)
		}
		return err
	}

	app.logger.Info("mock auth service stopped",
		"refresh_calls", app.mock.RefreshCalls(),
		"rejected", app.mock.Rejected(),
	)
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
