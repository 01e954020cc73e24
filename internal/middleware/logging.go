// Package middleware provides Echo middleware for CORS, logging and metrics.
package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Proxied calls also log the upstream host; the full target URL is never
// logged because it may carry credentials.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			// Render handler and router errors here so the logged status is
			// the one the client receives.
			if err := next(c); err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if host := targetHost(req); host != "" {
				attrs = append(attrs, "target_host", host)
			}

			level := slog.LevelInfo
			if res.Status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(req.Context(), level, "request", attrs...)

			return nil
		}
	}
}

func targetHost(req *http.Request) string {
	raw := req.URL.Query().Get("url")
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
