package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"cors-edge-proxy/internal/client"
	"cors-edge-proxy/internal/config"
	"cors-edge-proxy/internal/cors"
	"cors-edge-proxy/internal/geo"
	"cors-edge-proxy/internal/handler"
	"cors-edge-proxy/internal/metrics"
	"cors-edge-proxy/internal/policy"
	"cors-edge-proxy/internal/service"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 8000},
		Policy: config.PolicyConfig{
			OperatorDomain:      "testing-az7.pages.dev",
			BlockedRedirectURL:  "https://www.youtube.com/watch?v=cdG-Y55v-ng",
			RestrictedCountries: []string{"US", "GB"},
		},
		Geo: config.GeoConfig{Source: config.GeoSourceHeader, Header: config.DefaultGeoHeader},
		Upstream: config.UpstreamConfig{
			IdleConnections: 10,
			UserAgent:       config.DefaultUserAgent,
		},
		CORS: config.CORSConfig{
			AllowOrigin:   config.DefaultAllowOrigin,
			AllowMethods:  config.DefaultAllowMethods,
			AllowHeaders:  config.DefaultAllowHeaders,
			MaxAgeSeconds: config.DefaultMaxAge,
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// newTestServer assembles the production middleware chain and routes the
// same way the fx graph does.
func newTestServer(cfg *config.Config) *echo.Echo {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	ch := cors.New(cfg)

	e := newEcho(cfg, logger, m, ch)

	uc := client.NewUpstreamClient(cfg, logger, m)
	svc := service.NewProxyService(uc, cfg, logger)
	ph := handler.NewProxyHandler(svc, policy.New(cfg), geo.NewHeaderLocator(cfg.Geo.Header), ch, m, logger)

	handler.RegisterRoutes(e, ph, handler.NewHealthHandler(cfg, "test"))
	handler.RegisterMetrics(e, cfg, m)
	return e
}

func assertCORS(t *testing.T, h http.Header) {
	t.Helper()
	want := cors.New(testConfig()).Header()
	for k := range want {
		if got := h.Values(k); !reflect.DeepEqual(got, want[k]) {
			t.Errorf("%s = %v, want %v", k, got, want[k])
		}
	}
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal %q: %v", rec.Body.String(), err)
	}
	if _, ok := body["error"]; !ok || len(body) != 1 {
		t.Errorf("body = %v, want a single error field", body)
	}
	return body["error"]
}

func TestNewEcho_BodyLimitErrorCarriesCORS(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("upstream should not be called for an oversized body")
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.Server.BodyMaxBytes = 1024
	e := newTestServer(cfg)

	req := httptest.NewRequest(http.MethodPost, "/"+upstream.URL+"/upload", bytes.NewReader(make([]byte, 4096)))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
	if msg := errorBody(t, rec); msg != http.StatusText(http.StatusRequestEntityTooLarge) {
		t.Errorf("error = %q", msg)
	}
	assertCORS(t, rec.Header())
}

func TestNewEcho_NoBodyLimitByDefault(t *testing.T) {
	const size = 256 * 1024
	got := make(chan int, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := io.Copy(io.Discard, r.Body)
		got <- int(n)
	}))
	defer upstream.Close()

	e := newTestServer(testConfig())

	req := httptest.NewRequest(http.MethodPut, "/"+upstream.URL+"/upload", bytes.NewReader(make([]byte, size)))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if n := <-got; n != size {
		t.Errorf("upstream received %d bytes, want %d", n, size)
	}
}

func TestNewEcho_ExtensionMethodForwarded(t *testing.T) {
	got := make(chan string, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Method
	}))
	defer upstream.Close()

	e := newTestServer(testConfig())

	req := httptest.NewRequest("PURGE", "/"+upstream.URL+"/x", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if m := <-got; m != "PURGE" {
		t.Errorf("upstream saw method %q, want PURGE", m)
	}
	assertCORS(t, rec.Header())
}

func TestNewEcho_RecoveredPanicCarriesCORS(t *testing.T) {
	e := newTestServer(testConfig())
	e.GET("/panic", func(echo.Context) error {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if msg := errorBody(t, rec); !strings.HasPrefix(msg, "Proxy error: ") {
		t.Errorf("error = %q, want Proxy error prefix", msg)
	}
	assertCORS(t, rec.Header())
}

func TestNewEcho_InvalidTargetCarriesCORS(t *testing.T) {
	e := newTestServer(testConfig())

	req := httptest.NewRequest(http.MethodGet, "/not-a-url", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	errorBody(t, rec)
	assertCORS(t, rec.Header())
}

func TestNewEcho_PreflightHasOnlyCORSHeaders(t *testing.T) {
	e := newTestServer(testConfig())

	req := httptest.NewRequest(http.MethodOptions, "/https://example.com/api", http.NoBody)
	req.Header.Set("Connection", "keep-alive")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", rec.Body.String())
	}
	if want := cors.New(testConfig()).Header(); !reflect.DeepEqual(rec.Header(), want) {
		t.Errorf("headers = %v, want exactly %v", rec.Header(), want)
	}
}

func TestNewEcho_RequestID(t *testing.T) {
	e := newTestServer(testConfig())

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if id := rec.Header().Get(echo.HeaderXRequestID); len(id) != 36 {
		t.Errorf("%s = %q, want a UUID", echo.HeaderXRequestID, id)
	}
}
