// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// ProxyRequest is the outbound request derived from one inbound call.
// It is built per call and never reused.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	Target *url.URL
	Header http.Header
	Body   io.Reader // nil when the inbound call carries no body
}

// ProxyResponse represents the upstream response to be relayed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
