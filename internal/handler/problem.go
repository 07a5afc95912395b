package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/legacyshop/internal/domain/customer"
	"github.com/xenking/legacyshop/internal/domain/order"
	"github.com/xenking/legacyshop/internal/domain/payment"
	"github.com/xenking/legacyshop/internal/domain/product"
	"github.com/xenking/legacyshop/internal/idempotency"
)

// Problem is an RFC 7807 error response body. Retryable is an extension
// member set only on payment problems, telling the client whether
// repeating the request can succeed.
type Problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	Retryable *bool  `json:"retryable,omitempty"`
}

func newProblem(slug, title string, status int, detail string) Problem {
	return Problem{
		Type:   "/problems/" + slug,
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

// ValidationError is a request-shape failure detected at the HTTP
// boundary, before the pipeline runs.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return e.Detail
}

// writeProblem serializes p with the problem+json content type.
func writeProblem(w http.ResponseWriter, r *http.Request, p Problem) {
	p.Instance = r.URL.Path
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		zctx.From(r.Context()).Error("Encoding problem response", zap.Error(err))
	}
}

// writeError maps a pipeline error onto the HTTP error taxonomy and
// writes it as an RFC 7807 problem.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeProblem(w, r, mapError(r, err))
}

func mapError(r *http.Request, err error) Problem {
	var (
		validationErr *ValidationError
		quantityErr   *order.InvalidQuantityError
		inactiveErr   *product.InactiveError
		stockErr      *product.InsufficientStockError
		minTotalErr   *order.MinimumTotalError
		stateErr      *order.StateError
		gatewayErr    *payment.Error
	)

	switch {
	case errors.As(err, &validationErr):
		return newProblem("validation", "Invalid request", http.StatusBadRequest, validationErr.Detail)

	case errors.Is(err, order.ErrEmptyItems):
		return newProblem("validation", "Invalid request", http.StatusBadRequest, err.Error())

	case errors.As(err, &quantityErr):
		return newProblem("validation", "Invalid request", http.StatusBadRequest, err.Error())

	case errors.Is(err, product.ErrNotFound):
		return newProblem("product-not-found", "Product not found", http.StatusNotFound, err.Error())

	case errors.As(err, &inactiveErr):
		return newProblem("product-inactive", "Product not available", http.StatusBadRequest, err.Error())

	case errors.As(err, &stockErr):
		return newProblem("insufficient-stock", "Insufficient stock", http.StatusBadRequest, err.Error())

	case errors.As(err, &minTotalErr):
		return newProblem("order-total-too-low", "Order total below minimum", http.StatusBadRequest, err.Error())

	case errors.Is(err, order.ErrNotFound):
		return newProblem("order-not-found", "Order not found", http.StatusNotFound, err.Error())

	case errors.Is(err, customer.ErrNotFound):
		return newProblem("customer-not-found", "Customer not found", http.StatusNotFound, err.Error())

	case errors.Is(err, idempotency.ErrKeyConflict):
		return newProblem("idempotency-key-conflict", "Idempotency key conflict", http.StatusConflict, err.Error())

	case errors.As(err, &stateErr):
		return newProblem("invalid-order-state", "Conflicting order state", http.StatusConflict, err.Error())

	case errors.As(err, &gatewayErr):
		var p Problem
		if gatewayErr.Retryable {
			p = newProblem("payment-unavailable", "Payment service unavailable", http.StatusBadGateway, gatewayErr.Error())
		} else {
			p = newProblem("payment-declined", "Payment declined", http.StatusPaymentRequired, gatewayErr.Error())
		}
		p.Retryable = &gatewayErr.Retryable
		return p

	default:
		zctx.From(r.Context()).Error("Unhandled pipeline error", zap.Error(err))
		return newProblem("internal", "Internal server error", http.StatusInternalServerError, "")
	}
}
