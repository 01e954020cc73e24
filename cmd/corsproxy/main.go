package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/lmittmann/tint"
	"go.uber.org/fx"
	"golang.org/x/term"

	"corsproxy-go/internal/allowlist"
	"corsproxy-go/internal/client"
	"corsproxy-go/internal/config"
	"corsproxy-go/internal/handler"
	"corsproxy-go/internal/metrics"
	"corsproxy-go/internal/middleware"
	"corsproxy-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("corsproxy"),
		kong.Description("CORS proxy for an allowlisted set of upstream hosts."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newPolicy,
			newMetrics,
			newLogger,
			newEcho,
			client.NewUpstreamClient,
			service.NewProxyService,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startServer),
	).Run()
}

func newPolicy(cfg *config.Config) (*allowlist.Policy, error) {
	return cfg.NewPolicy()
}

// newMetrics returns nil when metrics are disabled; every consumer treats a
// nil *metrics.Metrics as "do not record".
func newMetrics(cfg *config.Config) *metrics.Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.New()
}

func newLogger(cfg *config.Config) *slog.Logger {
	return slog.New(newLogHandler(os.Stdout, cfg.Log))
}

func newLogHandler(w io.Writer, lc config.LogConfig) slog.Handler {
	level := slog.LevelInfo
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	switch strings.ToLower(lc.Format) {
	case "text":
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	case "console":
		noColor := true
		if f, ok := w.(*os.File); ok {
			noColor = !term.IsTerminal(int(f.Fd()))
		}
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
			NoColor:    noColor,
		})
	default:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks. ReadTimeout also
	// bounds how long a request body may take to arrive.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout is disabled (0) so large upstream bodies can stream.
	// The upstream client timeout bounds every proxied call.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(logger))
	if m != nil {
		e.Use(middleware.MetricsMiddleware(m, cfg.Metrics.Path))
	}
	e.Use(middleware.CORS())
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))

	return e
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, policy *allowlist.Policy, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server",
				"addr", addr,
				"allowed_hosts", policy.Len(),
				"metrics", cfg.Metrics.Enabled,
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
