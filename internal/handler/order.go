package handler

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"strconv"
	"time"

	"github.com/xenking/legacyshop/internal/domain/order"
)

// CreateOrder handles POST /api/orders. An optional Idempotency-Key
// header makes the call safely retryable: repeats with the same key and
// body replay the stored response byte for byte.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req order.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &ValidationError{Detail: "invalid JSON body"})
		return
	}
	if _, err := mail.ParseAddress(req.CustomerEmail); err != nil {
		writeError(w, r, &ValidationError{Detail: "customerEmail must be a valid email address"})
		return
	}

	res, err := h.orders.CreateOrder(r.Context(), req, r.Header.Get("Idempotency-Key"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRawJSON(w, r, res.StatusCode, res.Body)
}

// GetOrder handles GET /api/orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	resp, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// AuthorizePayment handles POST /api/orders/{id}/payment.
func (h *Handler) AuthorizePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	resp, err := h.orders.AuthorizePayment(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// CancelOrder handles POST /api/orders/{id}/cancel.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	resp, err := h.orders.CancelOrder(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// ListCustomerOrders handles GET /api/customers/{email}/orders with
// 1-based page and size query parameters.
func (h *Handler) ListCustomerOrders(w http.ResponseWriter, r *http.Request) {
	email := r.PathValue("email")
	page, ok := intQuery(w, r, "page", 1)
	if !ok {
		return
	}
	size, ok := intQuery(w, r, "size", 0)
	if !ok {
		return
	}

	resp, err := h.orders.ListCustomerOrders(r.Context(), email, page, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// dailyReportRow is one aggregated day in the report response.
type dailyReportRow struct {
	Day      string `json:"day"`
	Orders   int64  `json:"orders"`
	Gross    string `json:"gross"`
	Discount string `json:"discount"`
	Net      string `json:"net"`
}

// DailyReport handles GET /api/reports/orders/daily?from=&to= with
// dates in YYYY-MM-DD form, defaulting to the trailing seven days.
func (h *Handler) DailyReport(w http.ResponseWriter, r *http.Request) {
	to := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	from := to.AddDate(0, 0, -7)

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeError(w, r, &ValidationError{Detail: "from must be a YYYY-MM-DD date"})
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeError(w, r, &ValidationError{Detail: "to must be a YYYY-MM-DD date"})
			return
		}
		// The to date is inclusive.
		to = t.AddDate(0, 0, 1)
	}
	if !from.Before(to) {
		writeError(w, r, &ValidationError{Detail: "from must be before to"})
		return
	}

	summaries, err := h.orders.DailyReport(r.Context(), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}

	rows := make([]dailyReportRow, len(summaries))
	for i, s := range summaries {
		rows[i] = dailyReportRow{
			Day:      s.Day.Format(time.DateOnly),
			Orders:   s.Orders,
			Gross:    s.Gross.StringFixed(2),
			Discount: s.Discount.StringFixed(2),
			Net:      s.Net.StringFixed(2),
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"days": rows})
}

func orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, &ValidationError{Detail: "order id must be a positive integer"})
		return 0, false
	}
	return id, true
}

func intQuery(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		writeError(w, r, &ValidationError{Detail: name + " must be a positive integer"})
		return 0, false
	}
	return n, true
}
