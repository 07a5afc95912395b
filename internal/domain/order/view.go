package order

import "time"

// Response is the public representation of an order. Money renders as
// fixed two-decimal strings so replayed idempotent responses are
// byte-identical to the originals.
type Response struct {
	ID            int64          `json:"id"`
	Status        Status         `json:"status"`
	CustomerEmail string         `json:"customerEmail"`
	Subtotal      string         `json:"subtotal"`
	Discount      string         `json:"discount"`
	Total         string         `json:"total"`
	CreatedAt     time.Time      `json:"createdAt"`
	Items         []ItemResponse `json:"items"`
}

// ItemResponse is one order line in a Response.
type ItemResponse struct {
	ProductSku  string `json:"productSku"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	Subtotal    string `json:"subtotal"`
}

// NewResponse builds the public representation of o.
func NewResponse(o *Order) Response {
	items := make([]ItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = ItemResponse{
			ProductSku:  it.ProductSKU,
			ProductName: it.Name,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice.StringFixed(2),
			Subtotal:    it.Subtotal.StringFixed(2),
		}
	}
	return Response{
		ID:            o.ID,
		Status:        o.Status,
		CustomerEmail: o.CustomerEmail,
		Subtotal:      o.Subtotal.StringFixed(2),
		Discount:      o.Discount.StringFixed(2),
		Total:         o.Total.StringFixed(2),
		CreatedAt:     o.CreatedAt.UTC(),
		Items:         items,
	}
}

// Page is an offset-paginated listing. Page numbers are 1-based.
type Page struct {
	Items []Response `json:"items"`
	Page  int        `json:"page"`
	Size  int        `json:"size"`
	Total int64      `json:"total"`
}
