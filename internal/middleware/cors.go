package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// corsAllowMethods is advertised on every response.
var corsAllowMethods = strings.Join([]string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodOptions,
}, ", ")

// CORS returns an Echo middleware that lets any origin read every response,
// marks it uncacheable, and answers OPTIONS preflights on any path with 204.
// Headers are set before the handler runs so error paths carry them too.
func CORS() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set(echo.HeaderAccessControlAllowOrigin, "*")
			h.Set(echo.HeaderAccessControlAllowMethods, corsAllowMethods)
			h.Set(echo.HeaderAccessControlAllowHeaders, "*")
			h.Set(echo.HeaderCacheControl, "no-store")

			if c.Request().Method == http.MethodOptions {
				h.Set(echo.HeaderAccessControlMaxAge, "86400")
				return c.NoContent(http.StatusNoContent)
			}

			return next(c)
		}
	}
}
