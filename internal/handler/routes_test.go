package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"cors-edge-proxy/internal/config"
	"cors-edge-proxy/internal/metrics"
)

func TestRegisterRoutes_Wiring(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	cfg := testConfig()
	proxy := newTestProxyHandler(cfg, nil)
	health := NewHealthHandler(cfg, "test")

	e := echo.New()
	RegisterRoutes(e, proxy, health)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"GET /healthz", http.MethodGet, "/healthz", http.StatusOK},
		{"GET /proxy/status", http.MethodGet, "/proxy/status", http.StatusOK},
		{"GET target", http.MethodGet, "/" + upstream.URL + "/api?q=1", http.StatusOK},
		{"POST target", http.MethodPost, "/" + upstream.URL + "/api", http.StatusOK},
		{"DELETE target", http.MethodDelete, "/" + upstream.URL + "/api/1", http.StatusOK},
		{"OPTIONS target", http.MethodOptions, "/" + upstream.URL + "/api", http.StatusOK},
		{"OPTIONS healthz is preflight", http.MethodOptions, "/healthz", http.StatusOK},
		{"GET relative path", http.MethodGet, "/unknown", http.StatusBadRequest},
		{"GET metrics disabled", http.MethodGet, "/metrics", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRegisterRoutes_ExtensionMethods(t *testing.T) {
	got := make(chan string, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Method
		w.WriteHeader(http.StatusAccepted)
	}))
	defer upstream.Close()

	cfg := testConfig()
	e := echo.New()
	RegisterRoutes(e, newTestProxyHandler(cfg, nil), NewHealthHandler(cfg, "test"))

	for _, method := range []string{"PURGE", "PROPPATCH", "MKCOL"} {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/"+upstream.URL+"/x", http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != http.StatusAccepted {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
			}
			if m := <-got; m != method {
				t.Errorf("upstream saw method %q, want %q", m, method)
			}
			assertCORS(t, rec.Header())
		})
	}
}

func TestRegisterMetrics(t *testing.T) {
	tests := []struct {
		name       string
		enabled    bool
		path       string
		wantStatus int
	}{
		{"enabled default path", true, "/metrics", http.StatusOK},
		{"enabled custom path", true, "/internal/metrics", http.StatusOK},
		{"disabled", false, "/metrics", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Metrics = config.MetricsConfig{Enabled: tt.enabled, Path: tt.path}
			m := metrics.New()

			e := echo.New()
			RegisterRoutes(e, newTestProxyHandler(cfg, m), NewHealthHandler(cfg, "test"))
			RegisterMetrics(e, cfg, m)

			req := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.enabled && !strings.Contains(rec.Body.String(), "cors_edge_proxy_http_requests_in_flight") {
				t.Error("metrics output missing in-flight gauge")
			}
		})
	}
}
