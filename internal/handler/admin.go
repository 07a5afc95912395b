package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xenking/legacyshop/internal/domain/money"
	"github.com/xenking/legacyshop/internal/domain/product"
)

// upsertProductRequest is the admin catalog write payload. Price arrives
// as a string to avoid float drift.
type upsertProductRequest struct {
	Sku           string `json:"sku"`
	Name          string `json:"name"`
	Price         string `json:"price"`
	StockQuantity int    `json:"stockQuantity"`
	Active        *bool  `json:"active"`
}

// UpsertProduct handles POST /api/admin/products.
func (h *Handler) UpsertProduct(w http.ResponseWriter, r *http.Request) {
	var req upsertProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &ValidationError{Detail: "invalid JSON body"})
		return
	}
	if req.Sku == "" || req.Name == "" {
		writeError(w, r, &ValidationError{Detail: "sku and name are required"})
		return
	}
	price, err := money.FromString(req.Price)
	if err != nil || price.IsNegative() {
		writeError(w, r, &ValidationError{Detail: "price must be a non-negative decimal string"})
		return
	}
	if req.StockQuantity < 0 {
		writeError(w, r, &ValidationError{Detail: "stockQuantity must not be negative"})
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	p := &product.Product{
		SKU:           req.Sku,
		Name:          req.Name,
		Price:         price,
		StockQuantity: req.StockQuantity,
		Active:        active,
	}
	if err := h.products.Upsert(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newProductResponse(p))
}

// restockRequest is the restock payload.
type restockRequest struct {
	Quantity int `json:"quantity"`
}

// RestockProduct handles POST /api/admin/products/{sku}/restock.
func (h *Handler) RestockProduct(w http.ResponseWriter, r *http.Request) {
	sku := r.PathValue("sku")

	var req restockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &ValidationError{Detail: "invalid JSON body"})
		return
	}
	if req.Quantity <= 0 {
		writeError(w, r, &ValidationError{Detail: "quantity must be greater than 0"})
		return
	}

	if err := h.products.IncrementStock(r.Context(), sku, req.Quantity); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.products.GetBySKU(r.Context(), sku)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newProductResponse(p))
}
