package handler

import (
	"net/http"

	"github.com/xenking/legacyshop/internal/domain/product"
)

// productResponse is the public representation of a catalog entry.
type productResponse struct {
	Sku           string `json:"sku"`
	Name          string `json:"name"`
	Price         string `json:"price"`
	StockQuantity int    `json:"stockQuantity"`
	Active        bool   `json:"active"`
}

func newProductResponse(p *product.Product) productResponse {
	return productResponse{
		Sku:           p.SKU,
		Name:          p.Name,
		Price:         p.Price.StringFixed(2),
		StockQuantity: p.StockQuantity,
		Active:        p.Active,
	}
}

// ListProducts handles GET /api/products.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]productResponse, len(products))
	for i := range products {
		out[i] = newProductResponse(&products[i])
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"products": out})
}
