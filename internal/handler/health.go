package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"corsproxy-go/internal/allowlist"
	"corsproxy-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	policy  *allowlist.Policy
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, policy *allowlist.Policy, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, policy: policy, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// statusResponse is the body of GET /status.
type statusResponse struct {
	Status                 string `json:"status"`
	Version                string `json:"version"`
	AllowedHosts           int    `json:"allowed_hosts"`
	UpstreamTimeoutSeconds int    `json:"upstream_timeout_seconds"`
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Status:                 "ok",
		Version:                string(h.version),
		AllowedHosts:           h.policy.Len(),
		UpstreamTimeoutSeconds: h.cfg.Upstream.TimeoutSeconds,
	})
}
