// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/cors-edge-proxy/config.toml",
	"configs/config.toml",
}

// Defaults for the CORS header set attached to every non-redirect response.
const (
	DefaultAllowOrigin  = "*"
	DefaultAllowMethods = "GET, POST, PUT, DELETE, PATCH, OPTIONS"
	DefaultAllowHeaders = "Content-Type, Authorization, X-Requested-With, Accept, Origin"
	DefaultMaxAge       = 86400
	DefaultUserAgent    = "CORS-Proxy-Worker/1.0"
	DefaultGeoHeader    = "CF-IPCountry"
)

// Geo signal sources.
const (
	GeoSourceHeader = "header"
	GeoSourceMMDB   = "mmdb"
	GeoSourceNone   = "none"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Domain   string `kong:"help='Operator domain trusted as first-party (overrides config).',env='OPERATOR_DOMAIN'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Policy   PolicyConfig   `toml:"policy"`
	Geo      GeoConfig      `toml:"geo"`
	Upstream UpstreamConfig `toml:"upstream"`
	CORS     CORSConfig     `toml:"cors"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64  `toml:"body_max_bytes"` // 0 forwards bodies of any size
}

// PolicyConfig holds the first-party and country admission settings.
type PolicyConfig struct {
	OperatorDomain      string   `toml:"operator_domain"`
	BlockedRedirectURL  string   `toml:"blocked_redirect_url"`
	RestrictedCountries []string `toml:"restricted_countries"`
}

// GeoConfig selects where the request's country code comes from.
type GeoConfig struct {
	Source   string `toml:"source"`
	Header   string `toml:"header"`
	Database string `toml:"database"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	TimeoutSeconds  int    `toml:"timeout_seconds"` // 0 leaves the client without a deadline
	IdleConnections int    `toml:"idle_connections"`
	UserAgent       string `toml:"user_agent"`
}

// CORSConfig holds the values of the CORS header set.
type CORSConfig struct {
	AllowOrigin   string `toml:"allow_origin"`
	AllowMethods  string `toml:"allow_methods"`
	AllowHeaders  string `toml:"allow_headers"`
	MaxAgeSeconds int    `toml:"max_age_seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/cors-edge-proxy/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Domain != "" {
		c.Policy.OperatorDomain = cli.Domain
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Policy: operator domain is a bare hostname, redirect target an absolute URL.
	domain := strings.TrimSpace(c.Policy.OperatorDomain)
	if domain == "" {
		return fmt.Errorf("policy.operator_domain is required")
	}
	if strings.ContainsAny(domain, "/:@ ") || strings.HasPrefix(domain, ".") {
		return fmt.Errorf("policy.operator_domain must be a bare hostname; got %q", c.Policy.OperatorDomain)
	}
	if c.Policy.BlockedRedirectURL == "" {
		return fmt.Errorf("policy.blocked_redirect_url is required")
	}
	u, err := url.Parse(c.Policy.BlockedRedirectURL)
	if err != nil {
		return fmt.Errorf("policy.blocked_redirect_url is not a valid URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("policy.blocked_redirect_url must be an absolute http(s) URL; got %q", c.Policy.BlockedRedirectURL)
	}
	for _, cc := range c.Policy.RestrictedCountries {
		if len(strings.TrimSpace(cc)) != 2 {
			return fmt.Errorf("policy.restricted_countries entries must be ISO 3166-1 alpha-2 codes; got %q", cc)
		}
	}

	// Geo source.
	switch strings.ToLower(c.Geo.Source) {
	case GeoSourceHeader, GeoSourceNone, "":
		// valid
	case GeoSourceMMDB:
		if c.Geo.Database == "" {
			return fmt.Errorf("geo.database is required when geo.source is %q", GeoSourceMMDB)
		}
	default:
		return fmt.Errorf("geo.source must be one of: header, mmdb, none; got %q", c.Geo.Source)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.CORS.MaxAgeSeconds < 0 {
		return fmt.Errorf("cors.max_age_seconds must be non-negative; got %d", c.CORS.MaxAgeSeconds)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/healthz", "/proxy/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
		// Anything under /http would shadow a proxied target such as /https://host/.
		if strings.HasPrefix(strings.ToLower(p), "/http") {
			return fmt.Errorf("metrics.path %q conflicts with proxied target paths", p)
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields such as Port, zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (8000).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}

	c.Policy.OperatorDomain = strings.ToLower(strings.TrimSpace(c.Policy.OperatorDomain))
	for i, cc := range c.Policy.RestrictedCountries {
		c.Policy.RestrictedCountries[i] = strings.ToUpper(strings.TrimSpace(cc))
	}

	c.Geo.Source = strings.ToLower(c.Geo.Source)
	if c.Geo.Source == "" {
		c.Geo.Source = GeoSourceHeader
	}
	if c.Geo.Header == "" {
		c.Geo.Header = DefaultGeoHeader
	}

	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.UserAgent == "" {
		c.Upstream.UserAgent = DefaultUserAgent
	}

	if c.CORS.AllowOrigin == "" {
		c.CORS.AllowOrigin = DefaultAllowOrigin
	}
	if c.CORS.AllowMethods == "" {
		c.CORS.AllowMethods = DefaultAllowMethods
	}
	if c.CORS.AllowHeaders == "" {
		c.CORS.AllowHeaders = DefaultAllowHeaders
	}
	if c.CORS.MaxAgeSeconds == 0 {
		c.CORS.MaxAgeSeconds = DefaultMaxAge
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
