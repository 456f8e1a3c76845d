// Package middleware provides Echo middleware for logging, metrics and
// inbound header hygiene.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"cors-edge-proxy/internal/handler"
	"cors-edge-proxy/internal/metrics"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// The proxied target URL is never logged in full; only its host is.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			attrs := []any{
				"method", req.Method,
				"route", metrics.NormalizePath(req.URL.Path),
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if v, ok := c.Get(handler.ContextKeyTargetHost).(string); ok {
				attrs = append(attrs, "target_host", v)
			}
			if v, ok := c.Get(handler.ContextKeyDecision).(string); ok {
				attrs = append(attrs, "decision", v)
			}
			if v, ok := c.Get(handler.ContextKeyCountry).(string); ok && v != "" {
				attrs = append(attrs, "country", v)
			}

			level := slog.LevelInfo
			if res.Status >= 500 {
				level = slog.LevelWarn
			}
			logger.Log(req.Context(), level, "request", attrs...)

			return err
		}
	}
}
