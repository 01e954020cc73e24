package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

const contentTypeText = "text/plain; charset=utf-8"

// writeText emits a plain-text response with a trailing newline. HEAD
// responses carry the same headers and no body.
func writeText(c echo.Context, code int, msg string) error {
	body := []byte(msg + "\n")
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, contentTypeText)
	h.Set(echo.HeaderContentLength, strconv.Itoa(len(body)))

	if c.Request().Method == http.MethodHead {
		c.Response().WriteHeader(code)
		return nil
	}
	return c.Blob(code, contentTypeText, body)
}

// ErrorHandler renders errors returned by handlers and the router (404, 405,
// 413, panics) as plain text.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	logger = logger.With("component", "error_handler")
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := http.StatusText(code)

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if m, ok := he.Message.(string); ok && m != "" {
				msg = m
			} else {
				msg = http.StatusText(code)
			}
		} else {
			logger.Error("unhandled error",
				"err", err,
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
			)
		}

		if werr := writeText(c, code, msg); werr != nil {
			logger.Error("writing error response", "err", werr)
		}
	}
}
