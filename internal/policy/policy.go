// Package policy decides whether a request is first-party and whether it may
// be forwarded or must be redirected away based on its country of origin.
package policy

import (
	"net/http"
	"net/url"
	"strings"

	"cors-edge-proxy/internal/config"
)

// Decision is the outcome of the admission check.
type Decision int

const (
	Allow Decision = iota
	Redirect
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	}
	return "unknown"
}

// Policy holds the immutable admission settings.
type Policy struct {
	domain      string
	restricted  map[string]struct{}
	redirectURL string
}

// New builds a Policy from the loaded configuration.
func New(cfg *config.Config) *Policy {
	restricted := make(map[string]struct{}, len(cfg.Policy.RestrictedCountries))
	for _, cc := range cfg.Policy.RestrictedCountries {
		restricted[strings.ToUpper(strings.TrimSpace(cc))] = struct{}{}
	}
	return &Policy{
		domain:      strings.ToLower(cfg.Policy.OperatorDomain),
		restricted:  restricted,
		redirectURL: cfg.Policy.BlockedRedirectURL,
	}
}

// RedirectURL is where restricted visitors are sent.
func (p *Policy) RedirectURL() string {
	return p.redirectURL
}

// Restricted reports whether country is in the restricted set.
func (p *Policy) Restricted(country string) bool {
	if country == "" {
		return false
	}
	_, ok := p.restricted[strings.ToUpper(country)]
	return ok
}

// Trusted reports whether the request declares the operator's domain as its origin.
func (p *Policy) Trusted(h http.Header) bool {
	return IsFirstParty(RequestOrigin(h), p.domain)
}

// Decide returns Redirect only for untrusted requests from a restricted
// country. First-party requests skip the geographic check, and a missing
// country code is allowed.
func (p *Policy) Decide(trusted bool, country string) Decision {
	if trusted {
		return Allow
	}
	if p.Restricted(country) {
		return Redirect
	}
	return Allow
}

// Evaluate is Decide with trust derived from the request headers.
func (p *Policy) Evaluate(h http.Header, country string) Decision {
	return p.Decide(p.Trusted(h), country)
}

// RequestOrigin returns the Origin header, falling back to Referer.
func RequestOrigin(h http.Header) string {
	if o := h.Get("Origin"); o != "" {
		return o
	}
	return h.Get("Referer")
}

// IsFirstParty reports whether origin's hostname is domain or a subdomain of it.
func IsFirstParty(origin, domain string) bool {
	if origin == "" || domain == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	domain = strings.ToLower(domain)
	return host == domain || strings.HasSuffix(host, "."+domain)
}
