package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"corsproxy-go/internal/config"
	"corsproxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// The metrics endpoint is registered only when m is non-nil.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, logger *slog.Logger, proxy *ProxyHandler, health *HealthHandler, m *metrics.Metrics) {
	e.HTTPErrorHandler = ErrorHandler(logger)

	e.Match([]string{http.MethodGet, http.MethodHead}, "/proxy/ping", proxy.Ping)
	e.Match(proxyMethods, "/proxy", proxy.Handle)

	e.GET("/healthz", health.Healthz)
	e.GET("/status", health.Status)

	if m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	if cfg.Server.StaticDir != "" {
		e.Static("/", cfg.Server.StaticDir)
	}
}
