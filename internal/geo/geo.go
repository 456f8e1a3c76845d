// Package geo attributes a country code to an inbound request.
//
// The country is a best-effort signal. HeaderLocator trusts a header that the
// hosting edge (for example Cloudflare's CF-IPCountry) sets on every request;
// it is only sound when clients cannot reach the proxy without passing through
// that edge. MMDBLocator resolves the peer address against a MaxMind country
// database instead.
package geo

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/oschwald/geoip2-golang"

	"cors-edge-proxy/internal/config"
)

// Locator returns the ISO 3166-1 alpha-2 country of a request, upper-cased,
// or "" when it is unknown.
type Locator interface {
	Locate(r *http.Request) string
}

// unknownCodes are placeholder values edges emit instead of a real country.
var unknownCodes = map[string]bool{
	"XX": true, // unknown
	"T1": true, // Tor exit node
}

// New returns the Locator selected by cfg.Geo.Source.
func New(cfg *config.Config) (Locator, error) {
	switch cfg.Geo.Source {
	case config.GeoSourceHeader, "":
		return NewHeaderLocator(cfg.Geo.Header), nil
	case config.GeoSourceMMDB:
		l, err := OpenMMDB(cfg.Geo.Database)
		if err != nil {
			return nil, err
		}
		return l, nil
	case config.GeoSourceNone:
		return NopLocator{}, nil
	}
	return nil, fmt.Errorf("geo: unknown source %q", cfg.Geo.Source)
}

// HeaderLocator reads the country from a request header.
type HeaderLocator struct {
	header string
}

// NewHeaderLocator creates a HeaderLocator for the given header name.
func NewHeaderLocator(header string) *HeaderLocator {
	if header == "" {
		header = config.DefaultGeoHeader
	}
	return &HeaderLocator{header: http.CanonicalHeaderKey(header)}
}

// Locate implements Locator.
func (l *HeaderLocator) Locate(r *http.Request) string {
	return normalize(r.Header.Get(l.header))
}

// NopLocator never knows the country, so every untrusted request is allowed.
type NopLocator struct{}

// Locate implements Locator.
func (NopLocator) Locate(*http.Request) string { return "" }

// countryReader is the subset of *geoip2.Reader used here.
type countryReader interface {
	Country(ip net.IP) (*geoip2.Country, error)
	Close() error
}

// MMDBLocator looks up the peer address in a MaxMind country database.
type MMDBLocator struct {
	db countryReader
}

// OpenMMDB opens the database at path.
func OpenMMDB(path string) (*MMDBLocator, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geo: open %s: %w", path, err)
	}
	return &MMDBLocator{db: db}, nil
}

// Locate implements Locator.
func (l *MMDBLocator) Locate(r *http.Request) string {
	ip := remoteIP(r.RemoteAddr)
	if ip == nil {
		return ""
	}
	rec, err := l.db.Country(ip)
	if err != nil {
		return ""
	}
	return normalize(rec.Country.IsoCode)
}

// Close releases the database.
func (l *MMDBLocator) Close() error {
	return l.db.Close()
}

func remoteIP(addr string) net.IP {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return net.ParseIP(host)
}

func normalize(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 2 || unknownCodes[code] {
		return ""
	}
	return code
}
