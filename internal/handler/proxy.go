package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"

	"github.com/labstack/echo/v4"

	"corsproxy-go/internal/metrics"
	"corsproxy-go/internal/service"
)

// secretParamPattern matches credential-like query values in URLs embedded in error messages.
var secretParamPattern = regexp.MustCompile(`(?i)([?&](?:api_?key|access_token|token|key|secret)=)[^&\s"]+`)

// proxyMethods are the methods relayed upstream. Anything else on /proxy is 405.
var proxyMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodHead,
}

// rejection maps a validation failure to its status and metric label.
type rejection struct {
	err    error
	status int
	reason string
}

var rejections = []rejection{
	{service.ErrMissingURL, http.StatusBadRequest, "missing_url"},
	{service.ErrMalformedURL, http.StatusBadRequest, "malformed_url"},
	{service.ErrUnsupportedScheme, http.StatusBadRequest, "unsupported_scheme"},
	{service.ErrBodyTruncated, http.StatusBadRequest, "body_truncated"},
	{service.ErrHostNotAllowed, http.StatusForbidden, "host_not_allowed"},
	{service.ErrPortNotAllowed, http.StatusForbidden, "port_not_allowed"},
}

// ProxyHandler relays requests for allowlisted upstream URLs.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is optional.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
		metrics: m,
	}
}

// Handle proxies the request named by the url query parameter and relays the
// upstream status, filtered headers and body. A bare ?ping answers the liveness probe.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()
	query := req.URL.Query()

	rawURL := query.Get("url")
	if rawURL == "" && query.Has("ping") {
		return h.Ping(c)
	}

	pr, err := h.service.Prepare(req.Context(), req.Method, rawURL, req.Header, req.Body, req.ContentLength)
	if err != nil {
		return h.mapError(c, err)
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}
	// A nil entry stops net/http from sniffing a Content-Type the upstream never sent.
	if _, ok := resp.Header["Content-Type"]; !ok {
		c.Response().Header()["Content-Type"] = nil
	}

	c.Response().WriteHeader(resp.StatusCode)

	if req.Method == http.MethodHead {
		return nil
	}

	// Once the status is sent a copy failure can only truncate the body.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", sanitizeError(err),
			"host", pr.Target.Host,
		)
	}

	return nil
}

// Ping answers the liveness probe used by clients to find a working proxy.
func (h *ProxyHandler) Ping(c echo.Context) error {
	return writeText(c, http.StatusOK, "ok")
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	for _, r := range rejections {
		if errors.Is(err, r.err) {
			h.logger.Info("proxy request rejected",
				"reason", r.reason,
				"err", sanitizeError(err),
			)
			h.metrics.Reject(r.reason)
			return writeText(c, r.status, sanitizeError(err))
		}
	}

	h.logger.Error("proxy error",
		"err", sanitizeError(err),
		"path", c.Request().URL.Path,
	)

	// The url.Error carries the method, target and cause without our wrapping.
	detail := err
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		detail = urlErr
	}
	return writeText(c, http.StatusBadGateway, "upstream request failed: "+sanitizeError(detail))
}

// sanitizeError redacts credential-like query values from error messages that may contain upstream URLs.
func sanitizeError(err error) string {
	return secretParamPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}
