// handler.go provides the HTTP REST API handlers for the price service.
//
// This inbound adapter exposes the service functionality over HTTP:
//   - GET /price?token=<address>&block=<number>: price lookup
//   - GET /health: service status and chain name
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/archon-research/stl/price-api/internal/domain/entity"
	"github.com/archon-research/stl/price-api/internal/ports/inbound"
)

// priceResponse is the body of a successful /price lookup.
type priceResponse struct {
	Chain  string  `json:"chain"`
	Token  string  `json:"token"`
	Block  uint64  `json:"block"`
	Price  float64 `json:"price"`
	Cached bool    `json:"cached"`
}

// Handler implements HTTP handlers for the API.
type Handler struct {
	service inbound.PriceService
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler with the given service.
func NewHandler(service inbound.PriceService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service: service,
		logger:  logger.With("component", "http-handler"),
	}
}

// RegisterRoutes registers the HTTP routes with the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /price", h.Price)
	mux.HandleFunc("GET /health", h.Health)
}

// Price handles price lookups. An absent block parameter means the chain head;
// a present but empty one is rejected by validation.
func (h *Handler) Price(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var block *string
	if query.Has("block") {
		b := query.Get("block")
		block = &b
	}

	quote, err := h.service.GetPrice(r.Context(), query.Get("token"), block)
	if err != nil {
		c := entity.Classify(err)
		h.respondError(w, statusForSeverity(c.Severity), c.Message)
		return
	}

	h.respondJSON(w, http.StatusOK, priceResponse{
		Chain:  quote.Chain,
		Token:  quote.Token,
		Block:  quote.Block,
		Price:  quote.Price,
		Cached: quote.Cached,
	})
}

// Health reports that the process is up and which chain it serves.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"chain":  h.service.Chain(),
	})
}

// statusForSeverity maps a classified failure to an HTTP status code.
func statusForSeverity(s entity.Severity) int {
	switch s {
	case entity.SeverityClient:
		return http.StatusBadRequest
	case entity.SeverityNotFound:
		return http.StatusNotFound
	case entity.SeverityUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// withCORS allows any origin to issue GET requests and answers preflights.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
