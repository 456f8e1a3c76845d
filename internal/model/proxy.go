// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// ProxyRequest represents a client request to be forwarded to its target.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	Target *url.URL
	Header http.Header
	Body   io.ReadCloser
	// ContentLength mirrors http.Request.ContentLength; -1 means unknown.
	ContentLength int64
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       io.ReadCloser
}
