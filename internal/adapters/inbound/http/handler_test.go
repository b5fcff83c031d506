package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/archon-research/stl/price-api/internal/domain/entity"
	"github.com/archon-research/stl/price-api/internal/ports/inbound"
)

const testToken = "0x6B175474E89094C44Da98b954EedeAC495271d0F"

type mockPriceService struct {
	getPriceFunc func(ctx context.Context, token string, block *string) (inbound.PriceQuote, error)
	lastToken    string
	lastBlock    *string
}

func (m *mockPriceService) GetPrice(ctx context.Context, token string, block *string) (inbound.PriceQuote, error) {
	m.lastToken, m.lastBlock = token, block
	if m.getPriceFunc != nil {
		return m.getPriceFunc(ctx, token, block)
	}
	return inbound.PriceQuote{}, nil
}

func (m *mockPriceService) Chain() string { return "ethereum" }

// mockHealthChecker is a test implementation of HealthChecker
type mockHealthChecker struct {
	ready   bool
	healthy bool
}

func (m *mockHealthChecker) IsReady() bool   { return m.ready }
func (m *mockHealthChecker) IsHealthy() bool { return m.healthy }

func newTestServer(svc inbound.PriceService, checker inbound.HealthChecker, shuttingDown *atomic.Bool, metrics http.Handler) http.Handler {
	s := NewServer(ServerConfig{Addr: ":0", MetricsHandler: metrics}, NewHandler(svc, nil), checker, shuttingDown)
	return s.Handler()
}

func doGet(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var body map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
	}
	return w, body
}

func TestPrice_Success(t *testing.T) {
	svc := &mockPriceService{
		getPriceFunc: func(_ context.Context, token string, _ *string) (inbound.PriceQuote, error) {
			return inbound.PriceQuote{Chain: "ethereum", Token: token, Block: 18000000, Price: 0.9999, Cached: true}, nil
		},
	}
	h := newTestServer(svc, &mockHealthChecker{ready: true, healthy: true}, nil, nil)

	w, body := doGet(t, h, "/price?token="+testToken+"&block=18000000")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}
	if body["chain"] != "ethereum" || body["token"] != testToken || body["block"] != float64(18000000) ||
		body["price"] != 0.9999 || body["cached"] != true {
		t.Errorf("unexpected body: %v", body)
	}
	if svc.lastBlock == nil || *svc.lastBlock != "18000000" {
		t.Errorf("expected block to be passed through, got %v", svc.lastBlock)
	}
}

func TestPrice_BlockPresence(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantBlock *string
	}{
		{"absent block", "/price?token=" + testToken, nil},
		{"empty block", "/price?token=" + testToken + "&block=", new(string)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockPriceService{}
			h := newTestServer(svc, &mockHealthChecker{}, nil, nil)
			doGet(t, h, tt.query)

			if (svc.lastBlock == nil) != (tt.wantBlock == nil) {
				t.Fatalf("expected block presence %v, got %v", tt.wantBlock != nil, svc.lastBlock != nil)
			}
			if tt.wantBlock != nil && *svc.lastBlock != *tt.wantBlock {
				t.Errorf("expected block %q, got %q", *tt.wantBlock, *svc.lastBlock)
			}
		})
	}
}

func TestPrice_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "validation",
			err:        &entity.ValidationError{Message: "Missing required parameter: token"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Missing required parameter: token",
		},
		{
			name:       "not found",
			err:        &entity.ResolutionError{Status: entity.OutcomeNotFound, Token: testToken, Block: 5},
			wantStatus: http.StatusNotFound,
			wantError:  "No price found for " + testToken + " at block 5",
		},
		{
			name:       "invalid value",
			err:        &entity.ResolutionError{Status: entity.OutcomeInvalidValue, Token: testToken, Block: 5},
			wantStatus: http.StatusBadGateway,
			wantError:  "Oracle returned an invalid price for " + testToken + " at block 5",
		},
		{
			name:       "transient",
			err:        &entity.ResolutionError{Status: entity.OutcomeTransientFailure, Token: testToken, Block: 5, Cause: errors.New("dial https://secret-rpc")},
			wantStatus: http.StatusInternalServerError,
			wantError:  "Price lookup failed for " + testToken + " at block 5; see server logs",
		},
		{
			name:       "unexpected error",
			err:        errors.New("pq: password authentication failed"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "Price lookup failed; see server logs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockPriceService{
				getPriceFunc: func(context.Context, string, *string) (inbound.PriceQuote, error) {
					return inbound.PriceQuote{}, tt.err
				},
			}
			h := newTestServer(svc, &mockHealthChecker{}, nil, nil)

			w, body := doGet(t, h, "/price?token="+testToken+"&block=5")

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if body["error"] != tt.wantError {
				t.Errorf("expected error %q, got %v", tt.wantError, body["error"])
			}
			if strings.Contains(w.Body.String(), "secret") || strings.Contains(w.Body.String(), "password") {
				t.Errorf("response leaks internals: %s", w.Body.String())
			}
		})
	}
}

func TestHealth_ReportsChain(t *testing.T) {
	h := newTestServer(&mockPriceService{}, &mockHealthChecker{}, nil, nil)

	w, body := doGet(t, h, "/health")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["status"] != "ok" || body["chain"] != "ethereum" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestStatusForSeverity(t *testing.T) {
	tests := map[entity.Severity]int{
		entity.SeverityClient:   http.StatusBadRequest,
		entity.SeverityNotFound: http.StatusNotFound,
		entity.SeverityUpstream: http.StatusBadGateway,
		entity.SeverityServer:   http.StatusInternalServerError,
		entity.Severity(0):      http.StatusInternalServerError,
	}
	for severity, want := range tests {
		if got := statusForSeverity(severity); got != want {
			t.Errorf("statusForSeverity(%s) = %d, want %d", severity, got, want)
		}
	}
}
