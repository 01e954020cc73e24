package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"corsproxy-go/internal/metrics"
)

// MetricsMiddleware returns an Echo middleware that counts and times every
// inbound request. Requests for scrapePath are not recorded so that the
// Prometheus scraper does not dominate the series.
func MetricsMiddleware(m *metrics.Metrics, scrapePath string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if scrapePath != "" && c.Request().URL.Path == scrapePath {
				return next(c)
			}

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			err := next(c)

			status := strconv.Itoa(responseStatus(c, err))
			method := metrics.NormalizeMethod(c.Request().Method)
			path := metrics.NormalizePath(c.Request().URL.Path)

			m.RequestsTotal.WithLabelValues(method, status, path).Inc()
			m.RequestDuration.WithLabelValues(method, status, path).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// responseStatus returns the status the client will see. Router errors (404,
// 405, 413) are still pending in err and rendered later by the error handler.
func responseStatus(c echo.Context, err error) int {
	if err != nil && !c.Response().Committed {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he.Code
		}
		return 500
	}
	return c.Response().Status
}
