package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"corsproxy-go/internal/allowlist"
	"corsproxy-go/internal/client"
	"corsproxy-go/internal/config"
	"corsproxy-go/internal/metrics"
	"corsproxy-go/internal/middleware"
	"corsproxy-go/internal/service"
)

type testApp struct {
	e       *echo.Echo
	cfg     *config.Config
	metrics *metrics.Metrics
}

// newTestApp assembles the same middleware chain and routes as the binary.
// Pass a nil cfg for defaults; cfg.Proxy.AllowedHosts must be set otherwise.
func newTestApp(t *testing.T, cfg *config.Config, m *metrics.Metrics) *testApp {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}
	if len(cfg.Proxy.AllowedHosts) == 0 {
		cfg.Proxy.AllowedHosts = []string{"127.0.0.1"}
	}
	if cfg.Server.BodyMaxBytes == 0 {
		cfg.Server.BodyMaxBytes = 1024
	}
	if cfg.Upstream.TimeoutSeconds == 0 {
		cfg.Upstream.TimeoutSeconds = 5
	}
	if cfg.Upstream.IdleConnections == 0 {
		cfg.Upstream.IdleConnections = 10
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	policy, err := allowlist.New(cfg.Proxy.AllowedHosts, cfg.Proxy.AllowedPorts)
	if err != nil {
		t.Fatalf("allowlist.New: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	uc := client.NewUpstreamClient(cfg, policy, logger, m)
	svc := service.NewProxyService(uc, policy, cfg, logger)

	e := echo.New()
	e.Use(echomw.Recover())
	if m != nil {
		e.Use(middleware.MetricsMiddleware(m, cfg.Metrics.Path))
	}
	e.Use(middleware.CORS())
	e.Use(echomw.BodyLimit("1K"))

	RegisterRoutes(e, cfg, logger,
		NewProxyHandler(svc, logger, m),
		NewHealthHandler(cfg, policy, Version("test")),
		m,
	)
	return &testApp{e: e, cfg: cfg, metrics: m}
}

func (a *testApp) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func (a *testApp) get(target string) *httptest.ResponseRecorder {
	return a.do(httptest.NewRequest(http.MethodGet, target, http.NoBody))
}

func assertCORS(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}
