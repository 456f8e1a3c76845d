package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cors-edge-proxy/internal/config"
	"cors-edge-proxy/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// Echo matches static routes before the catch-all, so the service's own
// endpoints are never forwarded.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	e.Any("/*", proxy.Handle)
	// Any covers Echo's fixed method list; extension methods such as PURGE
	// fall through to the route-not-found handler on the same path.
	e.RouteNotFound("/*", proxy.Handle)
}

// RegisterMetrics exposes the Prometheus registry when metrics are enabled.
func RegisterMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
		Registry: m.Registry,
	})))
}
