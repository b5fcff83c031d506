package http

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestServer_Ready(t *testing.T) {
	tests := []struct {
		name           string
		ready          bool
		shuttingDown   bool
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "ready returns 200",
			ready:          true,
			expectedStatus: http.StatusOK,
			expectedBody:   "ready",
		},
		{
			name:           "not ready returns 503",
			ready:          false,
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   "not_ready",
		},
		{
			name:           "shutting down returns 503",
			ready:          true,
			shuttingDown:   true,
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   "shutting_down",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var shuttingDown atomic.Bool
			shuttingDown.Store(tt.shuttingDown)
			h := newTestServer(&mockPriceService{}, &mockHealthChecker{ready: tt.ready, healthy: true}, &shuttingDown, nil)

			w, body := doGet(t, h, "/health/ready")

			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if body["status"] != tt.expectedBody {
				t.Errorf("expected status %q, got %v", tt.expectedBody, body["status"])
			}
		})
	}
}

func TestServer_Live(t *testing.T) {
	tests := []struct {
		name           string
		healthy        bool
		shuttingDown   bool
		expectedStatus int
		expectedBody   string
	}{
		{"healthy returns 200", true, false, http.StatusOK, "healthy"},
		{"unhealthy returns 503", false, false, http.StatusServiceUnavailable, "unhealthy"},
		{"shutting down returns 503", true, true, http.StatusServiceUnavailable, "shutting_down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var shuttingDown atomic.Bool
			shuttingDown.Store(tt.shuttingDown)
			h := newTestServer(&mockPriceService{}, &mockHealthChecker{ready: true, healthy: tt.healthy}, &shuttingDown, nil)

			w, body := doGet(t, h, "/health/live")

			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if body["status"] != tt.expectedBody {
				t.Errorf("expected status %q, got %v", tt.expectedBody, body["status"])
			}
		})
	}
}

func TestServer_CORS(t *testing.T) {
	h := newTestServer(&mockPriceService{}, &mockHealthChecker{}, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/price", nil)
	req.Header.Set("Origin", "https://example.org")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected preflight 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected allow origin *, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, OPTIONS" {
		t.Errorf("expected GET, OPTIONS, got %q", got)
	}

	w, _ = doGet(t, h, "/health")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected CORS header on GET, got %q", got)
	}
}

func TestServer_RejectsOtherMethods(t *testing.T) {
	h := newTestServer(&mockPriceService{}, &mockHealthChecker{}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/price", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("price_requests_total 1\n"))
	})

	withMetrics := newTestServer(&mockPriceService{}, &mockHealthChecker{}, nil, metrics)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	withMetrics.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "price_requests_total 1\n" {
		t.Errorf("expected metrics output, got %d %q", w.Code, w.Body.String())
	}

	without := newTestServer(&mockPriceService{}, &mockHealthChecker{}, nil, nil)
	w = httptest.NewRecorder()
	without.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 without metrics handler, got %d", w.Code)
	}
}

func TestNewServer_Defaults(t *testing.T) {
	s := NewServer(ServerConfig{Addr: ":0"}, NewHandler(&mockPriceService{}, nil), &mockHealthChecker{}, nil)

	if s.server.ReadTimeout != ServerConfigDefaults().ReadTimeout {
		t.Errorf("expected default read timeout, got %v", s.server.ReadTimeout)
	}
	if s.server.WriteTimeout != ServerConfigDefaults().WriteTimeout {
		t.Errorf("expected default write timeout, got %v", s.server.WriteTimeout)
	}
	if s.shuttingDown == nil || s.logger == nil {
		t.Error("expected shuttingDown flag and logger to be set")
	}
}
