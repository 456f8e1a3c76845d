// Package service implements the core proxy forwarding logic.
package service

import (
	"fmt"
	"log/slog"
	"net/http"

	"cors-edge-proxy/internal/client"
	"cors-edge-proxy/internal/config"
	"cors-edge-proxy/internal/model"
)

// strippedRequestHeaders describe the proxy's own context rather than the
// upstream request and are never forwarded.
var strippedRequestHeaders = []string{
	"Origin",
	"Referer",
	"Host",
}

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client    *client.UpstreamClient
	logger    *slog.Logger
	userAgent string
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) *ProxyService {
	ua := cfg.Upstream.UserAgent
	if ua == "" {
		ua = config.DefaultUserAgent
	}
	return &ProxyService{
		client:    c,
		logger:    logger.With("component", "proxy_service"),
		userAgent: ua,
	}
}

// Forward reissues a ProxyRequest against its target and returns the response.
// The caller is responsible for closing the response body.
//
// GET and HEAD requests are sent without a body; every other method forwards
// the inbound body stream unmodified.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	body := pr.Body
	contentLength := pr.ContentLength
	if !HasBody(pr.Method) || body == nil {
		body = http.NoBody
		contentLength = 0
	}

	req, err := http.NewRequestWithContext(pr.Ctx, pr.Method, pr.Target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = OutboundHeader(pr.Header, s.userAgent)
	req.ContentLength = contentLength

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"host", pr.Target.Host,
	)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forward to %s: %w", pr.Target.Host, err)
	}
	return resp, nil
}

// HasBody reports whether a request with this method may carry a body upstream.
func HasBody(method string) bool {
	return method != http.MethodGet && method != http.MethodHead
}

// OutboundHeader returns a new header set for the upstream request: src minus
// Origin, Referer and Host, with userAgent injected when src has none.
// src is not modified.
func OutboundHeader(src http.Header, userAgent string) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	for _, h := range strippedRequestHeaders {
		dst.Del(h)
	}
	if len(dst.Values("User-Agent")) == 0 {
		dst.Set("User-Agent", userAgent)
	}
	return dst
}
