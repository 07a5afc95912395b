// Package handler exposes the order pipeline over HTTP with RFC 7807
// error responses.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/legacyshop/internal/domain/order"
	"github.com/xenking/legacyshop/internal/domain/product"
)

// Handler holds the dependencies shared by all HTTP endpoints.
type Handler struct {
	orders   *order.Service
	products product.Repository
	security *Security
}

// NewHandler creates a Handler. security may be nil, which leaves the
// admin endpoints rejecting every request.
func NewHandler(orders *order.Service, products product.Repository, security *Security) *Handler {
	return &Handler{
		orders:   orders,
		products: products,
		security: security,
	}
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", h.CreateOrder)
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
	mux.HandleFunc("POST /api/orders/{id}/authorize-payment", h.AuthorizePayment)
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.CancelOrder)
	mux.HandleFunc("GET /api/orders/customer/{email}", h.ListCustomerOrders)
	mux.HandleFunc("GET /api/products", h.ListProducts)
	mux.HandleFunc("GET /api/reports/orders/daily", h.DailyReport)
	mux.HandleFunc("POST /api/admin/products", h.security.Require(h.UpsertProduct))
	mux.HandleFunc("POST /api/admin/products/{sku}/restock", h.security.Require(h.RestockProduct))
}

// writeJSON serializes v with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zctx.From(r.Context()).Error("Encoding response", zap.Error(err))
	}
}

// writeRawJSON writes a pre-serialized JSON body verbatim, used for
// idempotent replays that must be byte-identical.
func writeRawJSON(w http.ResponseWriter, r *http.Request, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		zctx.From(r.Context()).Error("Writing response", zap.Error(err))
	}
}
