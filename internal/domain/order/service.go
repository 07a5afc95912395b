package order

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/legacyshop/internal/audit"
	"github.com/xenking/legacyshop/internal/domain/discount"
	"github.com/xenking/legacyshop/internal/domain/money"
	"github.com/xenking/legacyshop/internal/domain/payment"
	"github.com/xenking/legacyshop/internal/domain/product"
	"github.com/xenking/legacyshop/internal/events"
	"github.com/xenking/legacyshop/internal/idempotency"
)

const opCreateOrder = "ORDER_CREATE"

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateRequest is the input for creating an order.
type CreateRequest struct {
	CustomerEmail string       `json:"customerEmail"`
	Items         []CreateItem `json:"items"`
}

// CreateItem is one requested line.
type CreateItem struct {
	ProductSku string `json:"productSku"`
	Quantity   int    `json:"quantity"`
}

// CreateResult carries the response representation plus the exact
// serialized body, so idempotent replays are byte-identical.
type CreateResult struct {
	Response   Response
	Body       []byte
	StatusCode int
	Replayed   bool
}

// ServiceConfig holds tunable pipeline parameters.
type ServiceConfig struct {
	// MinTotal is the smallest acceptable order total. Defaults to
	// money.MinOrderTotal when zero.
	MinTotal decimal.Decimal
}

// Service orchestrates the order pipeline: idempotency, customer
// resolution, stock, pricing, persistence, payment, and cancellation
// compensation.
type Service struct {
	store     Store
	gateway   payment.Gateway
	discounts *discount.Engine
	idem      idempotency.Store // front-door lookups; may be a bloom cache
	events    events.Publisher
	minTotal  decimal.Decimal
}

// NewService creates the pipeline Service. pub may be nil to disable
// event publishing.
func NewService(
	store Store,
	gateway payment.Gateway,
	discounts *discount.Engine,
	idem idempotency.Store,
	pub events.Publisher,
	cfg ServiceConfig,
) *Service {
	minTotal := cfg.MinTotal
	if minTotal.IsZero() {
		minTotal = money.MinOrderTotal
	}
	return &Service{
		store:     store,
		gateway:   gateway,
		discounts: discounts,
		idem:      idem,
		events:    pub,
		minTotal:  minTotal,
	}
}

// CreateOrder runs the creation pipeline. All mutations (stock
// decrements, order and item rows, idempotency record, audit entries)
// commit atomically; any failure rolls everything back.
func (s *Service) CreateOrder(ctx context.Context, req CreateRequest, idemKey string) (*CreateResult, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	for _, it := range req.Items {
		if it.Quantity <= 0 {
			return nil, &InvalidQuantityError{SKU: it.ProductSku}
		}
	}

	reqHash, err := idempotency.Hash(req)
	if err != nil {
		return nil, errors.Wrap(err, "hash request")
	}

	if idemKey != "" {
		rec, err := s.idem.Find(ctx, idemKey)
		switch {
		case err == nil:
			return replayOrConflict(rec, reqHash)
		case !errors.Is(err, idempotency.ErrNotFound):
			return nil, errors.Wrap(err, "lookup idempotency record")
		}
	}

	first, last := nameFromEmail(req.CustomerEmail)

	var result *CreateResult
	txErr := s.store.InTx(ctx, func(r Repos) error {
		cust, err := r.Customers.FindOrCreate(ctx, req.CustomerEmail, first, last)
		if err != nil {
			return errors.Wrap(err, "resolve customer")
		}

		o := &Order{
			CustomerID:     cust.ID,
			CustomerEmail:  cust.Email,
			Status:         StatusPending,
			IdempotencyKey: idemKey,
		}

		subtotal := decimal.Zero
		for _, it := range req.Items {
			p, err := r.Products.GetBySKU(ctx, it.ProductSku)
			if err != nil {
				return err
			}
			if !p.Active {
				return &product.InactiveError{SKU: p.SKU}
			}
			if err := r.Products.DecrementStock(ctx, p.SKU, it.Quantity); err != nil {
				return err
			}
			if err := r.Audit.Record(ctx, audit.StockDecremented, "product", p.SKU,
				fmt.Sprintf("-%d for new order", it.Quantity)); err != nil {
				return errors.Wrap(err, "audit stock decrement")
			}

			unit := money.Quantize(p.Price)
			line := money.Line(unit, it.Quantity)
			subtotal = subtotal.Add(line)
			o.Items = append(o.Items, Item{
				ProductSKU: p.SKU,
				Name:       p.Name,
				Quantity:   it.Quantity,
				UnitPrice:  unit,
				Subtotal:   line,
			})
		}

		o.Subtotal = money.Quantize(subtotal)
		o.Discount = s.discounts.Calculate(o.Subtotal)
		o.Total = money.Quantize(o.Subtotal.Sub(o.Discount))
		if o.Total.LessThan(s.minTotal) {
			return &MinimumTotalError{Total: o.Total, Minimum: s.minTotal}
		}

		if err := r.Orders.Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		if err := r.Audit.Record(ctx, audit.OrderCreated, "order", formatID(o.ID),
			"customer "+cust.Email); err != nil {
			return errors.Wrap(err, "audit order creation")
		}

		resp := NewResponse(o)
		body, err := json.Marshal(resp)
		if err != nil {
			return errors.Wrap(err, "marshal response")
		}
		result = &CreateResult{Response: resp, Body: body, StatusCode: http.StatusCreated}

		if idemKey != "" {
			rec := &idempotency.Record{
				Key:           idemKey,
				RequestHash:   reqHash,
				ResponseBody:  body,
				StatusCode:    http.StatusCreated,
				OperationType: opCreateOrder,
			}
			// ErrDuplicateKey propagates to the fallback below.
			if err := r.Idempotency.Save(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		if idemKey != "" && errors.Is(txErr, idempotency.ErrDuplicateKey) {
			// A concurrent request won the key; this unit of work was
			// rolled back in full. Read the winner's record and replay.
			rec, err := s.store.Repos().Idempotency.Find(ctx, idemKey)
			if err != nil {
				return nil, errors.Wrap(err, "reload idempotency record")
			}
			s.observeKey(idemKey)
			return replayOrConflict(rec, reqHash)
		}
		return nil, txErr
	}

	s.observeKey(idemKey)
	s.publish(ctx, events.OrderEvent{
		Type:       "ORDER_CREATED",
		OrderID:    result.Response.ID,
		Status:     string(StatusPending),
		Total:      result.Response.Total,
		OccurredAt: time.Now(),
	})
	return result, nil
}

// GetOrder returns the representation of one order.
func (s *Service) GetOrder(ctx context.Context, id int64) (Response, error) {
	o, err := s.store.Repos().Orders.GetByID(ctx, id)
	if err != nil {
		return Response{}, err
	}
	return NewResponse(o), nil
}

// ListCustomerOrders returns the customer's orders newest first.
// Pages are 1-based; an unknown customer is an error, not an empty page.
func (s *Service) ListCustomerOrders(ctx context.Context, email string, page, size int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	r := s.store.Repos()
	cust, err := r.Customers.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	orders, total, err := r.Orders.ListByCustomer(ctx, cust.ID, (page-1)*size, size)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}

	items := make([]Response, len(orders))
	for i := range orders {
		items[i] = NewResponse(&orders[i])
	}
	return &Page{Items: items, Page: page, Size: size, Total: total}, nil
}

// DailyReport aggregates orders per day over [from, to].
func (s *Service) DailyReport(ctx context.Context, from, to time.Time) ([]DailySummary, error) {
	return s.store.Repos().Orders.DailySummary(ctx, from, to)
}

// AuthorizePayment drives the payment state machine for a PENDING
// order. The payment row is committed PENDING before the external call
// so no transaction spans the gateway round-trip; the outcome is
// recorded in a follow-up transaction either way.
func (s *Service) AuthorizePayment(ctx context.Context, orderID int64) (Response, error) {
	var (
		o   *Order
		pay *payment.Payment
	)
	err := s.store.InTx(ctx, func(r Repos) error {
		var err error
		o, err = r.Orders.GetByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != StatusPending {
			return &StateError{OrderID: orderID, Status: o.Status, Op: "authorize-payment"}
		}
		pay, err = r.Payments.CreateOrReset(ctx, orderID, o.Total)
		if err != nil {
			return errors.Wrap(err, "prepare payment")
		}
		return nil
	})
	if err != nil {
		return Response{}, err
	}

	res, authErr := s.gateway.Authorize(ctx, orderID, o.Total)

	var (
		resp        Response
		conflictErr error
	)
	txErr := s.store.InTx(ctx, func(r Repos) error {
		if authErr != nil {
			var gerr *payment.Error
			if !errors.As(authErr, &gerr) {
				gerr = &payment.Error{Message: authErr.Error(), Retryable: true, Attempts: 1}
			}
			pay.Status = payment.StatusFailed
			pay.LastError = gerr.Message
			pay.RetryAttempts += gerr.Attempts
			if err := r.Payments.RecordOutcome(ctx, pay); err != nil {
				return errors.Wrap(err, "record payment failure")
			}
			if err := r.Audit.Record(ctx, audit.PaymentFailed, "order", formatID(orderID),
				gerr.Message); err != nil {
				return errors.Wrap(err, "audit payment failure")
			}
			return nil
		}

		pay.Status = payment.StatusAuthorized
		pay.AuthorizationID = res.AuthorizationID
		pay.RetryAttempts += res.Attempts
		if err := r.Payments.RecordOutcome(ctx, pay); err != nil {
			return errors.Wrap(err, "record payment success")
		}

		cur, err := r.Orders.GetByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if cur.Status != StatusPending {
			// A concurrent transition won between the two transactions.
			// The authorization is committed AUTHORIZED here so it is
			// never lost, then voided below outside this transaction.
			conflictErr = &StateError{OrderID: orderID, Status: cur.Status, Op: "authorize-payment"}
			return nil
		}

		if err := r.Orders.UpdateStatus(ctx, orderID, StatusPaid); err != nil {
			return errors.Wrap(err, "mark order paid")
		}
		if err := r.Audit.Record(ctx, audit.PaymentAuthorized, "order", formatID(orderID),
			"authorization "+res.AuthorizationID); err != nil {
			return errors.Wrap(err, "audit authorization")
		}
		cur.Status = StatusPaid
		resp = NewResponse(cur)
		return nil
	})
	if txErr != nil {
		return Response{}, txErr
	}
	if authErr != nil {
		return Response{}, authErr
	}
	if conflictErr != nil {
		// The order is no longer PENDING (typically a concurrent
		// cancel). An authorization against it must not stay
		// outstanding: void it and record the void before reporting
		// the conflict.
		if err := s.gateway.Void(ctx, res.AuthorizationID); err != nil {
			return Response{}, errors.Wrap(err, "void conflicting authorization")
		}
		err := s.store.InTx(ctx, func(r Repos) error {
			pay.Status = payment.StatusVoided
			if err := r.Payments.RecordOutcome(ctx, pay); err != nil {
				return errors.Wrap(err, "record void")
			}
			if err := r.Audit.Record(ctx, audit.PaymentVoided, "order", formatID(orderID),
				"authorization "+res.AuthorizationID); err != nil {
				return errors.Wrap(err, "audit void")
			}
			return nil
		})
		if err != nil {
			return Response{}, err
		}
		return Response{}, conflictErr
	}

	s.publish(ctx, events.OrderEvent{
		Type:       "ORDER_PAID",
		OrderID:    orderID,
		Status:     string(StatusPaid),
		Total:      resp.Total,
		OccurredAt: time.Now(),
	})
	return resp, nil
}

// CancelOrder cancels a PENDING or PAID order, restoring stock for
// every item and voiding an authorized payment. The void happens
// before any local mutation: a cancelled order must never be left
// holding an authorized payment, so a failed void fails the whole
// cancellation.
func (s *Service) CancelOrder(ctx context.Context, orderID int64) (Response, error) {
	var (
		o   *Order
		pay *payment.Payment
	)
	err := s.store.InTx(ctx, func(r Repos) error {
		var err error
		o, err = r.Orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if !o.Status.Cancellable() {
			return &StateError{OrderID: orderID, Status: o.Status, Op: "cancel"}
		}
		pay, err = r.Payments.FindByOrderID(ctx, orderID)
		if err != nil && !errors.Is(err, payment.ErrNotFound) {
			return errors.Wrap(err, "load payment")
		}
		return nil
	})
	if err != nil {
		return Response{}, err
	}

	voided := false
	if o.Status == StatusPaid && pay != nil && pay.Voidable() {
		if err := s.gateway.Void(ctx, pay.AuthorizationID); err != nil {
			return Response{}, err
		}
		voided = true
	}

	var resp Response
	err = s.store.InTx(ctx, func(r Repos) error {
		cur, err := r.Orders.GetByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if cur.Status != o.Status {
			// The order moved between the precondition read and this
			// transaction (a concurrent authorize flipped PENDING to
			// PAID, or a concurrent cancel won). The void decision
			// above is stale; fail so the caller retries against the
			// current state instead of cancelling around an
			// un-voided authorization.
			return &StateError{OrderID: orderID, Status: cur.Status, Op: "cancel"}
		}

		for _, it := range cur.Items {
			if err := r.Products.IncrementStock(ctx, it.ProductSKU, it.Quantity); err != nil {
				return errors.Wrap(err, "restore stock")
			}
			if err := r.Audit.Record(ctx, audit.StockIncremented, "product", it.ProductSKU,
				fmt.Sprintf("+%d from cancelled order %d", it.Quantity, orderID)); err != nil {
				return errors.Wrap(err, "audit stock restore")
			}
		}

		if voided {
			pay.Status = payment.StatusVoided
			if err := r.Payments.RecordOutcome(ctx, pay); err != nil {
				return errors.Wrap(err, "record void")
			}
			if err := r.Audit.Record(ctx, audit.PaymentVoided, "order", formatID(orderID),
				"authorization "+pay.AuthorizationID); err != nil {
				return errors.Wrap(err, "audit void")
			}
		}

		if err := r.Orders.UpdateStatus(ctx, orderID, StatusCancelled); err != nil {
			return errors.Wrap(err, "mark order cancelled")
		}
		if err := r.Audit.Record(ctx, audit.OrderCancelled, "order", formatID(orderID),
			"customer requested cancellation"); err != nil {
			return errors.Wrap(err, "audit cancellation")
		}
		cur.Status = StatusCancelled
		resp = NewResponse(cur)
		return nil
	})
	if err != nil {
		return Response{}, err
	}

	s.publish(ctx, events.OrderEvent{
		Type:       "ORDER_CANCELLED",
		OrderID:    orderID,
		Status:     string(StatusCancelled),
		Total:      resp.Total,
		OccurredAt: time.Now(),
	})
	return resp, nil
}

func replayOrConflict(rec *idempotency.Record, hash string) (*CreateResult, error) {
	if !rec.Matches(hash) {
		return nil, idempotency.ErrKeyConflict
	}
	return &CreateResult{
		Body:       rec.ResponseBody,
		StatusCode: rec.StatusCode,
		Replayed:   true,
	}, nil
}

func (s *Service) observeKey(key string) {
	if key == "" {
		return
	}
	if obs, ok := s.idem.(idempotency.Observer); ok {
		obs.Observe(key)
	}
}

func (s *Service) publish(ctx context.Context, ev events.OrderEvent) {
	if s.events == nil {
		return
	}
	s.events.PublishOrderEvent(ctx, ev)
}

// nameFromEmail derives placeholder name fields for lazily created
// customers: letters of the local part, with a fixed last name.
func nameFromEmail(email string) (first, last string) {
	local := email
	if i := strings.IndexByte(email, '@'); i >= 0 {
		local = email[:i]
	}
	var b strings.Builder
	for _, r := range local {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	return b.String(), "Customer"
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
