// Package target turns the inbound request path into the URL to forward to.
package target

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidTarget is returned when the path does not hold an absolute http(s) URL.
var ErrInvalidTarget = errors.New("invalid target URL")

// Extract returns everything after the leading slash of a request URI.
// The remainder is taken verbatim, so a query string on the inbound request
// becomes part of the target.
func Extract(requestURI string) string {
	return strings.TrimPrefix(requestURI, "/")
}

// Parse validates raw as an absolute http or https URL.
func Parse(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidTarget)
	}
	u, err := url.Parse(normalizeAuthority(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidTarget, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidTarget)
	}
	return u, nil
}

// normalizeAuthority rewrites http(s) URLs whose "//" was collapsed or
// doubled, such as "https:/example.com" or "https:example.com", to the
// "scheme://host" form. Any run of slashes or backslashes after the scheme
// is treated as the authority delimiter.
func normalizeAuthority(raw string) string {
	i := strings.IndexByte(raw, ':')
	if i < 0 {
		return raw
	}
	switch strings.ToLower(raw[:i]) {
	case "http", "https":
	default:
		return raw
	}
	return raw[:i] + "://" + strings.TrimLeft(raw[i+1:], `/\`)
}
