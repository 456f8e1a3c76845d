package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"cors-edge-proxy/internal/cors"
)

// ErrorHandler replaces Echo's default error handler so that errors raised
// by the framework and middleware (body limit, recovered panics, unknown
// routes) carry the same {"error": ...} body and CORS header set as the
// proxy's own error responses.
func ErrorHandler(ch *cors.Headers, logger *slog.Logger) echo.HTTPErrorHandler {
	logger = logger.With("component", "error_handler")

	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := "Proxy error: " + sanitizeError(err)

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = httpErrorMessage(he)
		}

		if code >= http.StatusInternalServerError {
			logger.Error("request failed",
				"err", sanitizeError(err),
				"status", code,
			)
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			ch.Apply(c.Response().Header())
			werr = c.NoContent(code)
		} else {
			werr = writeError(c, ch, code, msg)
		}
		if werr != nil {
			logger.Error("writing error response", "err", werr)
		}
	}
}

// writeError writes {"error": msg} with the CORS header set.
func writeError(c echo.Context, ch *cors.Headers, status int, msg string) error {
	header := c.Response().Header()
	header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	ch.Apply(header)
	return c.JSON(status, map[string]string{"error": msg})
}

func httpErrorMessage(he *echo.HTTPError) string {
	switch m := he.Message.(type) {
	case string:
		return m
	case error:
		return m.Error()
	case nil:
		return http.StatusText(he.Code)
	default:
		return fmt.Sprint(m)
	}
}
