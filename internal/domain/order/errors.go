package order

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for order validation and lookup.
var (
	ErrNotFound   = errors.New("order not found")
	ErrEmptyItems = errors.New("items required")
)

// InvalidQuantityError indicates a line item with a non-positive
// quantity.
type InvalidQuantityError struct {
	SKU string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.SKU)
}

// MinimumTotalError indicates the computed total fell below the
// configured minimum.
type MinimumTotalError struct {
	Total   decimal.Decimal
	Minimum decimal.Decimal
}

func (e *MinimumTotalError) Error() string {
	return fmt.Sprintf("order total %s is below the minimum %s",
		e.Total.StringFixed(2), e.Minimum.StringFixed(2))
}

// StateError indicates an operation was attempted on an order whose
// status forbids it. Maps to 409 at the HTTP boundary. The message
// distinguishes the offending status for observability.
type StateError struct {
	OrderID int64
	Status  Status
	Op      string
}

func (e *StateError) Error() string {
	switch {
	case e.Op == "cancel" && e.Status == StatusCancelled:
		return fmt.Sprintf("order %d is already cancelled", e.OrderID)
	case e.Op == "cancel" && e.Status == StatusShipped:
		return fmt.Sprintf("order %d cannot be cancelled: already shipped", e.OrderID)
	default:
		return fmt.Sprintf("cannot %s order %d in status %s", e.Op, e.OrderID, e.Status)
	}
}
