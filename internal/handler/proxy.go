package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"

	"github.com/labstack/echo/v4"

	"cors-edge-proxy/internal/cors"
	"cors-edge-proxy/internal/geo"
	"cors-edge-proxy/internal/metrics"
	"cors-edge-proxy/internal/model"
	"cors-edge-proxy/internal/policy"
	"cors-edge-proxy/internal/service"
	"cors-edge-proxy/internal/target"
)

// Echo context keys read by middleware.RequestLogger.
const (
	ContextKeyDecision   = "proxy.decision"
	ContextKeyCountry    = "proxy.country"
	ContextKeyTargetHost = "proxy.target_host"
)

const invalidTargetMessage = "Invalid target URL. Format: /https://example.com/api"

// userinfoPattern matches credentials embedded in URLs quoted by error messages.
var userinfoPattern = regexp.MustCompile(`(://)[^/@\s"]+@`)

// hopByHopHeaders are connection-scoped and never copied from the upstream response.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ProxyHandler runs the classify, admit, forward and compose pipeline.
type ProxyHandler struct {
	service *service.ProxyService
	policy  *policy.Policy
	locator geo.Locator
	cors    *cors.Headers
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler. m may be nil.
func NewProxyHandler(svc *service.ProxyService, p *policy.Policy, l geo.Locator, ch *cors.Headers, m *metrics.Metrics, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		policy:  p,
		locator: l,
		cors:    ch,
		metrics: m,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request to the URL encoded in its path and streams the
// response back with the CORS header set applied.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	// Preflight never reaches the target.
	if req.Method == http.MethodOptions {
		h.cors.Apply(c.Response().Header())
		return c.NoContent(http.StatusOK)
	}

	dest, err := target.Parse(target.Extract(requestURI(req)))
	if err != nil {
		h.logger.Debug("rejected target", "err", sanitizeError(err))
		return h.errorJSON(c, http.StatusBadRequest, invalidTargetMessage)
	}
	c.Set(ContextKeyTargetHost, dest.Host)

	trusted := h.policy.Trusted(req.Header)
	country := h.locator.Locate(req)
	decision := h.policy.Decide(trusted, country)
	c.Set(ContextKeyDecision, decision.String())
	c.Set(ContextKeyCountry, country)
	if h.metrics != nil {
		h.metrics.PolicyDecisions.WithLabelValues(decision.String(), strconv.FormatBool(trusted)).Inc()
	}

	if decision == policy.Redirect {
		h.cors.Apply(c.Response().Header())
		return c.Redirect(http.StatusFound, h.policy.RedirectURL())
	}

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Target:        dest,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	header := c.Response().Header()
	for key, vals := range h.cors.Overlay(stripHopByHop(resp.Header)) {
		header[key] = vals
	}

	c.Response().WriteHeader(resp.StatusCode)

	// Status is already sent; a failed copy leaves the client with a
	// truncated body.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", sanitizeError(err),
			"host", dest.Host,
		)
	}

	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", sanitizeError(err),
		"host", c.Get(ContextKeyTargetHost),
	)

	return h.errorJSON(c, http.StatusInternalServerError, "Proxy error: "+describeError(err))
}

func (h *ProxyHandler) errorJSON(c echo.Context, status int, msg string) error {
	return writeError(c, h.cors, status, msg)
}

// describeError returns the failure's own message with credentials redacted.
// The *url.Error wrapper is peeled off so the target URL and its query are
// not echoed back.
func describeError(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	return sanitizeError(err)
}

// requestURI returns the raw request target, falling back to the parsed URL
// for requests that were not read off the wire.
func requestURI(req *http.Request) string {
	if req.RequestURI != "" {
		return req.RequestURI
	}
	return req.URL.RequestURI()
}

// stripHopByHop returns a copy of src without connection-scoped headers.
func stripHopByHop(src http.Header) http.Header {
	dst := src.Clone()
	for _, h := range hopByHopHeaders {
		dst.Del(h)
	}
	return dst
}

// sanitizeError redacts URL credentials from error messages that may quote the target.
func sanitizeError(err error) string {
	return userinfoPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]@")
}
