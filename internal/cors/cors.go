// Package cors holds the fixed set of cross-origin headers attached to every
// response the proxy produces.
package cors

import (
	"net/http"
	"strconv"

	"cors-edge-proxy/internal/config"
)

// Headers is the immutable CORS header set.
type Headers struct {
	set http.Header
}

// New builds the header set from configuration.
func New(cfg *config.Config) *Headers {
	h := make(http.Header, 4)
	h.Set("Access-Control-Allow-Origin", cfg.CORS.AllowOrigin)
	h.Set("Access-Control-Allow-Methods", cfg.CORS.AllowMethods)
	h.Set("Access-Control-Allow-Headers", cfg.CORS.AllowHeaders)
	h.Set("Access-Control-Max-Age", strconv.Itoa(cfg.CORS.MaxAgeSeconds))
	return &Headers{set: h}
}

// Header returns a copy of the set.
func (c *Headers) Header() http.Header {
	return c.set.Clone()
}

// Overlay returns a new header built from src with the CORS set written over
// it. Same-named headers in src are replaced, not merged. src is not modified.
func (c *Headers) Overlay(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header, len(c.set))
	}
	for k, v := range c.set {
		dst[k] = append([]string(nil), v...)
	}
	return dst
}

// Apply writes the set onto dst in place, for response writers whose header
// map cannot be swapped out.
func (c *Headers) Apply(dst http.Header) {
	for k, v := range c.set {
		dst[k] = append([]string(nil), v...)
	}
}
