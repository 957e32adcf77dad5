package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/elevation/internal/adapters/http/api"
	"github.com/okian/elevation/internal/adapters/http/site"
	"github.com/okian/elevation/internal/adapters/http/swagger"
	service "github.com/okian/elevation/internal/app"
	"github.com/okian/elevation/internal/config"
	"github.com/okian/elevation/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
	// Profiles over remote sources can take several remote round trips.
	writeTimeoutSlack = 5 * time.Second
)

func main() {
	// Initialize logging
	if err := logger.Init(); err != nil {
		// Use stderr for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			os.Stderr.WriteString("failed to sync logger: " + err.Error() + "\n")
		}
	}()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	svc := service.New(cfg, service.WithLogger(log.Named("service")))
	if err := svc.Start(ctx); err != nil {
		log.Error(ctx, "failed to start service", logger.Error(err))
		os.Exit(1)
	}
	defer svc.Stop()

	path := config.Path()
	go reloadOnHangup(ctx, svc, path, log)
	if cfg.WatchConfig {
		if err := config.Watch(ctx, path, applyConfig(ctx, svc, log)); err != nil {
			log.Warn(ctx, "config watch disabled", logger.Error(err))
		} else {
			log.Info(ctx, "watching config file", logger.String("path", path))
		}
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(ctx, svc, cfg),
		ReadTimeout:       readTimeout,
		WriteTimeout:      cfg.RequestTimeout() + writeTimeoutSlack,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	// Start the HTTP server
	errc := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr), logger.Any("tenants", svc.Tenants()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	// Wait for shutdown signal or a listener failure
	select {
	case <-ctx.Done():
	case err := <-errc:
		log.Error(ctx, "HTTP server failed", logger.Error(err))
	}
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
}

// newMux mounts the API, its OpenAPI document and the static site.
func newMux(ctx context.Context, svc *service.Service, cfg *config.Config) *http.ServeMux {
	mux := http.NewServeMux()

	swagger.Register(ctx, mux)
	site.Register(ctx, mux)

	api.NewServer(svc,
		api.WithTenantHeader(cfg.TenantHeader),
		api.WithDefaultTenant(cfg.DefaultTenant),
		api.WithRequestTimeout(cfg.RequestTimeout()),
		api.WithLogger(logger.Get().Named("api")),
	).Register(ctx, mux)
	return mux
}

// applyConfig returns the callback installed for config reloads. A failed
// load or apply keeps the running configuration.
func applyConfig(ctx context.Context, svc *service.Service, log logger.Logger) func(*config.Config, error) {
	return func(cfg *config.Config, err error) {
		if err != nil {
			log.Error(ctx, "config reload failed", logger.Error(err))
			return
		}
		if err := svc.Apply(ctx, cfg); err != nil {
			log.Error(ctx, "config apply failed", logger.Error(err))
			return
		}
		if err := logger.SetLevelString(cfg.LogLevel); err != nil {
			log.Warn(ctx, "invalid log_level ignored", logger.String("log_level", cfg.LogLevel))
		}
	}
}

// reloadOnHangup reloads the config and reopens every raster on SIGHUP.
func reloadOnHangup(ctx context.Context, svc *service.Service, path string, log logger.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	apply := applyConfig(ctx, svc, log)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			log.Info(ctx, "SIGHUP received, reloading")
			apply(config.LoadFile(ctx, path))
			svc.Refresh(ctx)
		}
	}
}
