// Package service implements target validation and upstream request construction.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"corsproxy-go/internal/allowlist"
	"corsproxy-go/internal/client"
	"corsproxy-go/internal/config"
	"corsproxy-go/internal/model"
)

// Validation failures. Each is returned before any upstream call is attempted.
var (
	ErrMissingURL        = errors.New("missing url parameter")
	ErrMalformedURL      = errors.New("malformed url")
	ErrUnsupportedScheme = errors.New("only http and https URLs are supported")
	ErrHostNotAllowed    = errors.New("host not allowed")
	ErrPortNotAllowed    = errors.New("port not allowed")
	ErrBodyTruncated     = errors.New("request body shorter than Content-Length")
)

// HostError names the host (or host:port) that the allowlist rejected.
type HostError struct {
	Host string
	Err  error
}

func (e *HostError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Host)
}

func (e *HostError) Unwrap() error {
	return e.Err
}

// Fixed values used when building the outbound request.
const (
	defaultAccept         = "*/*"
	defaultAcceptLanguage = "en-US,en;q=0.9"
	// Only encodings that are relayed verbatim; bodies are never decoded.
	acceptEncoding = "gzip, deflate"
)

// bodyMethods carry a request body upstream.
var bodyMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// forwardableResponseHeaders are the only response headers relayed to the client.
var forwardableResponseHeaders = []string{
	"Content-Type",
	"Content-Encoding",
}

// headerRule derives one outbound header from the inbound request headers.
// An empty result omits the header.
type headerRule struct {
	name   string
	derive func(in http.Header) string
}

func inboundOr(name, fallback string) func(http.Header) string {
	return func(in http.Header) string {
		if v := in.Get(name); v != "" {
			return v
		}
		return fallback
	}
}

func inboundOnly(name string) func(http.Header) string {
	return func(in http.Header) string { return in.Get(name) }
}

func always(value string) func(http.Header) string {
	return func(http.Header) string { return value }
}

// requestHeaderRules lists, in order, every header sent upstream.
// All other inbound headers are dropped.
func requestHeaderRules(userAgent string) []headerRule {
	return []headerRule{
		{"Accept", inboundOr("Accept", defaultAccept)},
		{"Accept-Language", inboundOr("Accept-Language", defaultAcceptLanguage)},
		{"Accept-Encoding", always(acceptEncoding)},
		{"User-Agent", inboundOr("User-Agent", userAgent)},
		{"Content-Type", inboundOnly("Content-Type")},
	}
}

// ProxyService validates proxy targets against the allowlist and forwards
// requests to them.
type ProxyService struct {
	client *client.UpstreamClient
	policy *allowlist.Policy
	logger *slog.Logger
	rules  []headerRule
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.UpstreamClient, policy *allowlist.Policy, cfg *config.Config, logger *slog.Logger) *ProxyService {
	ua := cfg.Proxy.UserAgent
	if ua == "" {
		ua = config.DefaultUserAgent
	}
	return &ProxyService{
		client: c,
		policy: policy,
		logger: logger.With("component", "proxy_service"),
		rules:  requestHeaderRules(ua),
	}
}

// Resolve parses rawURL and checks scheme, host and port. On success the
// returned URL is absolute and safe to fetch.
func (s *ProxyService) Resolve(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, ErrMissingURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedURL, err)
	}

	// url.Parse lowercases the scheme; relative URLs have none.
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ErrUnsupportedScheme
	}
	if u.Host == "" || u.Hostname() == "" {
		return nil, fmt.Errorf("%w: no host in %q", ErrMalformedURL, u.Redacted())
	}

	host := strings.ToLower(u.Hostname())
	if !s.policy.IsAllowed(host) {
		return nil, &HostError{Host: host, Err: ErrHostNotAllowed}
	}
	if !s.policy.PortAllowed(u.Port()) {
		return nil, &HostError{Host: host + ":" + u.Port(), Err: ErrPortNotAllowed}
	}

	// Credentials in the target URL would be sent as Authorization.
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""
	return u, nil
}

// Prepare runs the validation pipeline and builds the outbound request for one
// inbound call. body is read only for methods that carry one and only when
// contentLength is positive.
func (s *ProxyService) Prepare(ctx context.Context, method, rawURL string, header http.Header, body io.Reader, contentLength int64) (*model.ProxyRequest, error) {
	target, err := s.Resolve(rawURL)
	if err != nil {
		return nil, err
	}

	pr := &model.ProxyRequest{
		Ctx:    ctx,
		Method: method,
		Target: target,
		Header: s.buildRequestHeaders(header),
	}

	if bodyMethods[method] && contentLength > 0 && body != nil {
		b, err := readBody(body, contentLength)
		if err != nil {
			return nil, err
		}
		pr.Body = b
	}

	return pr, nil
}

// Forward sends a prepared request upstream. Any upstream status, including
// 4xx and 5xx, is a successful result; only transport failures return an error.
// The caller is responsible for closing the response body.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"host", pr.Target.Host,
		"path", pr.Target.Path,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, pr.Target.String(), pr.Header, pr.Body)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	resp.Header = filterResponseHeaders(resp.Header)
	return resp, nil
}

func (s *ProxyService) buildRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(s.rules))
	for _, r := range s.rules {
		if v := r.derive(src); v != "" {
			dst.Set(r.name, v)
		}
	}
	return dst
}

// readBody reads exactly n bytes. A short body is the caller's fault and is
// reported as ErrBodyTruncated.
func readBody(body io.Reader, n int64) (io.Reader, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(body, buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBodyTruncated, err)
	}
	return bytes.NewReader(buf), nil
}

func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(forwardableResponseHeaders))
	for _, key := range forwardableResponseHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[key] = vals
		}
	}
	return dst
}
