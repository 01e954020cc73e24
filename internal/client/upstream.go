// Package client provides the upstream HTTP client used to reach allowlisted origins.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"corsproxy-go/internal/allowlist"
	"corsproxy-go/internal/config"
	"corsproxy-go/internal/metrics"
	"corsproxy-go/internal/model"
)

// maxRedirects matches the net/http default.
const maxRedirects = 10

// UpstreamClient sends requests to allowlisted upstream origins.
type UpstreamClient struct {
	httpClient    *http.Client
	headerTimeout time.Duration
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// errHeaderTimeout is the cause recorded when an upstream sends no response
// headers within the configured timeout.
var errHeaderTimeout = errors.New("timeout awaiting response headers")

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
// Redirects are followed only while they stay on allowlisted hosts; otherwise the
// redirect response itself is returned. The metrics parameter is optional; pass
// nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, policy *allowlist.Policy, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
		// Bodies are relayed verbatim, so never decode them here.
		DisableCompression: true,
		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	c := &UpstreamClient{
		headerTimeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		logger:        logger.With("component", "upstream_client"),
		metrics:       m,
	}
	// No Client.Timeout: it would also cut off bodies that stream for longer
	// than the budget after the status is already relayed. DoStream bounds the
	// time to response headers instead.
	c.httpClient = &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("stopped after 10 redirects")
			}
			if !redirectAllowed(policy, req) {
				c.logger.Debug("not following redirect off the allowlist",
					"host", req.URL.Host,
				)
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	return c
}

func redirectAllowed(policy *allowlist.Policy, req *http.Request) bool {
	if policy == nil {
		return false
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return false
	}
	return policy.IsAllowed(req.URL.Hostname()) && policy.PortAllowed(req.URL.Port())
}

// Do executes an HTTP request against the upstream and returns the raw response.
// The caller is responsible for closing the response body.
func (c *UpstreamClient) Do(req *http.Request) (*model.ProxyResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	if err != nil {
		c.metrics.ObserveUpstreamError(req.Method, time.Since(start))
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	c.metrics.ObserveUpstream(req.Method, resp.StatusCode, time.Since(start))

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// DoStream executes a request and returns the response body as a stream.
// The caller is responsible for closing the returned ReadCloser.
// Connecting, following redirects and receiving response headers must finish
// within the configured timeout; the body then streams for as long as ctx
// lives. Canceling ctx (e.g. client disconnect) aborts the upstream request.
func (c *UpstreamClient) DoStream(ctx context.Context, method, target string, header http.Header, body io.Reader) (*model.ProxyResponse, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	var timer *time.Timer
	if c.headerTimeout > 0 {
		timer = time.AfterFunc(c.headerTimeout, func() { cancel(errHeaderTimeout) })
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		cancel(nil)
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	resp, err := c.Do(req)
	fired := timer != nil && !timer.Stop()
	if err == nil && fired {
		// Headers arrived as the timer fired; the body is already canceled.
		_ = resp.Body.Close()
		err = &url.Error{Op: method, URL: target, Err: errHeaderTimeout}
	}
	if err != nil {
		timedOut := errors.Is(context.Cause(ctx), errHeaderTimeout)
		cancel(nil)
		if timedOut {
			return nil, headerTimeoutError(err, c.headerTimeout)
		}
		return nil, err
	}

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: func() { cancel(nil) }}
	return resp, nil
}

// headerTimeoutError replaces the bare "context canceled" in err with the
// timeout that actually fired, keeping the method and URL of the url.Error.
func headerTimeoutError(err error, d time.Duration) error {
	cause := fmt.Errorf("%w after %s", errHeaderTimeout, d)
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("upstream request: %w", &url.Error{Op: urlErr.Op, URL: urlErr.URL, Err: cause})
	}
	return fmt.Errorf("upstream request: %w", cause)
}

// cancelOnClose releases the request context once the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel func()
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
