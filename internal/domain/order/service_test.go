package order

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/legacyshop/internal/audit"
	"github.com/xenking/legacyshop/internal/domain/customer"
	"github.com/xenking/legacyshop/internal/domain/discount"
	"github.com/xenking/legacyshop/internal/domain/payment"
	"github.com/xenking/legacyshop/internal/domain/product"
	"github.com/xenking/legacyshop/internal/idempotency"
)

// --- In-memory repositories ---
//
// memStore simulates transactional semantics by snapshotting all state
// before InTx and restoring it when fn fails, so rollback-dependent
// properties (no partial stock decrements) are actually exercised.

type memProducts struct {
	bySKU map[string]*product.Product
}

func (m *memProducts) GetBySKU(_ context.Context, sku string) (*product.Product, error) {
	p, ok := m.bySKU[sku]
	if !ok {
		return nil, product.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memProducts) List(_ context.Context) ([]product.Product, error) {
	out := make([]product.Product, 0, len(m.bySKU))
	for _, p := range m.bySKU {
		out = append(out, *p)
	}
	return out, nil
}

func (m *memProducts) DecrementStock(_ context.Context, sku string, qty int) error {
	p, ok := m.bySKU[sku]
	if !ok {
		return product.ErrNotFound
	}
	if !p.Active {
		return &product.InactiveError{SKU: sku}
	}
	if p.StockQuantity < qty {
		return &product.InsufficientStockError{SKU: sku, Available: p.StockQuantity, Requested: qty}
	}
	p.StockQuantity -= qty
	return nil
}

func (m *memProducts) IncrementStock(_ context.Context, sku string, qty int) error {
	p, ok := m.bySKU[sku]
	if !ok {
		return product.ErrNotFound
	}
	p.StockQuantity += qty
	return nil
}

func (m *memProducts) Upsert(_ context.Context, p *product.Product) error {
	cp := *p
	m.bySKU[p.SKU] = &cp
	return nil
}

type memCustomers struct {
	byEmail map[string]*customer.Customer
	nextID  int64
}

func (m *memCustomers) FindByEmail(_ context.Context, email string) (*customer.Customer, error) {
	c, ok := m.byEmail[email]
	if !ok {
		return nil, customer.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCustomers) FindOrCreate(_ context.Context, email, first, last string) (*customer.Customer, error) {
	if c, ok := m.byEmail[email]; ok {
		cp := *c
		return &cp, nil
	}
	m.nextID++
	c := &customer.Customer{ID: m.nextID, Email: email, FirstName: first, LastName: last, CreatedAt: time.Now()}
	m.byEmail[email] = c
	cp := *c
	return &cp, nil
}

type memOrders struct {
	byID   map[int64]*Order
	nextID int64
}

func cloneOrder(o *Order) *Order {
	cp := *o
	cp.Items = make([]Item, len(o.Items))
	copy(cp.Items, o.Items)
	return &cp
}

func (m *memOrders) Create(_ context.Context, o *Order) error {
	m.nextID++
	o.ID = m.nextID
	o.CreatedAt = time.Now()
	for i := range o.Items {
		o.Items[i].ID = int64(i + 1)
		o.Items[i].OrderID = o.ID
	}
	m.byID[o.ID] = cloneOrder(o)
	return nil
}

func (m *memOrders) GetByID(_ context.Context, id int64) (*Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (m *memOrders) GetByIDForUpdate(ctx context.Context, id int64) (*Order, error) {
	return m.GetByID(ctx, id)
}

func (m *memOrders) UpdateStatus(_ context.Context, id int64, st Status) error {
	o, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = st
	return nil
}

func (m *memOrders) ListByCustomer(_ context.Context, customerID int64, offset, limit int) ([]Order, int64, error) {
	var all []Order
	for _, o := range m.byID {
		if o.CustomerID == customerID {
			all = append(all, *cloneOrder(o))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (m *memOrders) DailySummary(_ context.Context, _, _ time.Time) ([]DailySummary, error) {
	return nil, nil
}

type memPayments struct {
	byOrder map[int64]*payment.Payment
	nextID  int64
}

func (m *memPayments) FindByOrderID(_ context.Context, orderID int64) (*payment.Payment, error) {
	p, ok := m.byOrder[orderID]
	if !ok {
		return nil, payment.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPayments) CreateOrReset(_ context.Context, orderID int64, amount decimal.Decimal) (*payment.Payment, error) {
	if p, ok := m.byOrder[orderID]; ok {
		if p.Status == payment.StatusFailed {
			p.Status = payment.StatusPending
			p.Amount = amount
		}
		cp := *p
		return &cp, nil
	}
	m.nextID++
	p := &payment.Payment{ID: m.nextID, OrderID: orderID, Amount: amount, Status: payment.StatusPending}
	m.byOrder[orderID] = p
	cp := *p
	return &cp, nil
}

func (m *memPayments) RecordOutcome(_ context.Context, p *payment.Payment) error {
	stored, ok := m.byOrder[p.OrderID]
	if !ok {
		return payment.ErrNotFound
	}
	stored.Status = p.Status
	stored.AuthorizationID = p.AuthorizationID
	stored.RetryAttempts = p.RetryAttempts
	stored.LastError = p.LastError
	return nil
}

type memIdem struct {
	recs map[string]*idempotency.Record
}

func (m *memIdem) Find(_ context.Context, key string) (*idempotency.Record, error) {
	rec, ok := m.recs[key]
	if !ok {
		return nil, idempotency.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memIdem) Save(_ context.Context, rec *idempotency.Record) error {
	if _, ok := m.recs[rec.Key]; ok {
		return idempotency.ErrDuplicateKey
	}
	cp := *rec
	m.recs[rec.Key] = &cp
	return nil
}

type memAudit struct {
	entries []audit.Entry
}

func (m *memAudit) Record(_ context.Context, op audit.Operation, entityType, entityID, details string) error {
	m.entries = append(m.entries, audit.Entry{
		Operation:  op,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
		CreatedAt:  time.Now(),
	})
	return nil
}

func (m *memAudit) ops() []audit.Operation {
	out := make([]audit.Operation, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Operation
	}
	return out
}

type memState struct {
	products  *memProducts
	customers *memCustomers
	orders    *memOrders
	payments  *memPayments
	idem      *memIdem
	auditLog  *memAudit
}

type memStore struct {
	memState
}

func newMemStore(products ...product.Product) *memStore {
	mp := &memProducts{bySKU: map[string]*product.Product{}}
	for i := range products {
		p := products[i]
		mp.bySKU[p.SKU] = &p
	}
	return &memStore{memState{
		products:  mp,
		customers: &memCustomers{byEmail: map[string]*customer.Customer{}},
		orders:    &memOrders{byID: map[int64]*Order{}},
		payments:  &memPayments{byOrder: map[int64]*payment.Payment{}},
		idem:      &memIdem{recs: map[string]*idempotency.Record{}},
		auditLog:  &memAudit{},
	}}
}

func (s *memStore) Repos() Repos {
	return Repos{
		Products:    s.products,
		Customers:   s.customers,
		Orders:      s.orders,
		Payments:    s.payments,
		Idempotency: s.idem,
		Audit:       s.auditLog,
	}
}

func (s *memStore) InTx(_ context.Context, fn func(Repos) error) error {
	snap := s.snapshot()
	if err := fn(s.Repos()); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *memStore) snapshot() memState {
	products := map[string]*product.Product{}
	for k, v := range s.products.bySKU {
		cp := *v
		products[k] = &cp
	}
	customers := map[string]*customer.Customer{}
	for k, v := range s.customers.byEmail {
		cp := *v
		customers[k] = &cp
	}
	orders := map[int64]*Order{}
	for k, v := range s.orders.byID {
		orders[k] = cloneOrder(v)
	}
	payments := map[int64]*payment.Payment{}
	for k, v := range s.payments.byOrder {
		cp := *v
		payments[k] = &cp
	}
	recs := map[string]*idempotency.Record{}
	for k, v := range s.idem.recs {
		cp := *v
		recs[k] = &cp
	}
	entries := make([]audit.Entry, len(s.auditLog.entries))
	copy(entries, s.auditLog.entries)

	return memState{
		products:  &memProducts{bySKU: products},
		customers: &memCustomers{byEmail: customers, nextID: s.customers.nextID},
		orders:    &memOrders{byID: orders, nextID: s.orders.nextID},
		payments:  &memPayments{byOrder: payments, nextID: s.payments.nextID},
		idem:      &memIdem{recs: recs},
		auditLog:  &memAudit{entries: entries},
	}
}

func (s *memStore) restore(snap memState) {
	s.products.bySKU = snap.products.bySKU
	s.customers.byEmail = snap.customers.byEmail
	s.customers.nextID = snap.customers.nextID
	s.orders.byID = snap.orders.byID
	s.orders.nextID = snap.orders.nextID
	s.payments.byOrder = snap.payments.byOrder
	s.payments.nextID = snap.payments.nextID
	s.idem.recs = snap.idem.recs
	s.auditLog.entries = snap.auditLog.entries
}

// raceStore fires a hook after the Nth committed transaction,
// simulating a concurrent writer landing between a service method's
// units of work.
type raceStore struct {
	*memStore
	txSeen int
	after  map[int]func()
}

func (s *raceStore) InTx(ctx context.Context, fn func(Repos) error) error {
	err := s.memStore.InTx(ctx, fn)
	if err == nil {
		s.txSeen++
		if hook := s.after[s.txSeen]; hook != nil {
			hook()
		}
	}
	return err
}

type mockGateway struct {
	authResult *payment.AuthResult
	authErr    error
	voidErr    error
	authCalls  int
	voidCalls  int
	voidedIDs  []string
}

func (g *mockGateway) Authorize(_ context.Context, _ int64, _ decimal.Decimal) (*payment.AuthResult, error) {
	g.authCalls++
	if g.authErr != nil {
		return nil, g.authErr
	}
	return g.authResult, nil
}

func (g *mockGateway) Void(_ context.Context, id string) error {
	g.voidCalls++
	if g.voidErr != nil {
		return g.voidErr
	}
	g.voidedIDs = append(g.voidedIDs, id)
	return nil
}

// --- Helpers ---

func testProduct(sku, name, price string, stock int) product.Product {
	return product.Product{
		SKU:           sku,
		Name:          name,
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
		Active:        true,
	}
}

func newTestService(store *memStore, gw payment.Gateway) *Service {
	return NewService(store, gw, discount.NewEngine(discount.DefaultTiers()), store.idem, nil, ServiceConfig{})
}

func createReq(email string, items ...CreateItem) CreateRequest {
	return CreateRequest{CustomerEmail: email, Items: items}
}

// --- CreateOrder ---

func TestCreateOrder_TotalsAndDiscount(t *testing.T) {
	cases := []struct {
		name         string
		price        string
		qty          int
		wantSubtotal string
		wantDiscount string
		wantTotal    string
	}{
		{"five percent tier", "50.00", 1, "50.00", "2.50", "47.50"},
		{"ten percent tier", "50.00", 2, "100.00", "10.00", "90.00"},
		{"fifteen percent tier", "100.00", 2, "200.00", "30.00", "170.00"},
		{"no discount", "20.00", 1, "20.00", "0.00", "20.00"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			store := newMemStore(testProduct("SKU-1", "Widget", c.price, 10))
			svc := newTestService(store, &mockGateway{})

			res, err := svc.CreateOrder(context.Background(),
				createReq("alice@example.com", CreateItem{ProductSku: "SKU-1", Quantity: c.qty}), "")
			require.NoError(t, err)

			assert.Equal(t, StatusPending, res.Response.Status)
			assert.Equal(t, c.wantSubtotal, res.Response.Subtotal)
			assert.Equal(t, c.wantDiscount, res.Response.Discount)
			assert.Equal(t, c.wantTotal, res.Response.Total)
			assert.Equal(t, 201, res.StatusCode)
			assert.False(t, res.Replayed)
			assert.Equal(t, 10-c.qty, store.products.bySKU["SKU-1"].StockQuantity)
		})
	}
}

func TestCreateOrder_ItemSnapshot(t *testing.T) {
	store := newMemStore(testProduct("SKU-1", "Widget", "19.99", 5))
	svc := newTestService(store, &mockGateway{})

	res, err := svc.CreateOrder(context.Background(),
		createReq("alice@example.com", CreateItem{ProductSku: "SKU-1", Quantity: 3}), "")
	require.NoError(t, err)

	require.Len(t, res.Response.Items, 1)
	it := res.Response.Items[0]
	assert.Equal(t, "SKU-1", it.ProductSku)
	assert.Equal(t, "Widget", it.ProductName)
	assert.Equal(t, 3, it.Quantity)
	assert.Equal(t, "19.99", it.UnitPrice)
	assert.Equal(t, "59.97", it.Subtotal)

	assert.Contains(t, store.auditLog.ops(), audit.StockDecremented)
	assert.Contains(t, store.auditLog.ops(), audit.OrderCreated)
}

func TestCreateOrder_EmptyItems(t *testing.T) {
	svc := newTestService(newMemStore(), &mockGateway{})

	_, err := svc.CreateOrder(context.Background(), createReq("alice@example.com"), "")
	require.ErrorIs(t, err, ErrEmptyItems)
}

func TestCreateOrder_InvalidQuantity(t *testing.T) {
	svc := newTestService(newMemStore(testProduct("SKU-1", "Widget", "10.00", 5)), &mockGateway{})

	_, err := svc.CreateOrder(context.Background(),
		createReq("alice@example.com", CreateItem{ProductSku: "SKU-1", Quantity: 0}), "")

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "SKU-1", iqErr.SKU)
}

func TestCreateOrder_ProductNotFound(t *testing.T) {
	svc := newTestService(newMemStore(), &mockGateway{})

	_, err := svc.CreateOrder(context.Background(),
		createReq("alice@example.com", CreateItem{ProductSku: "MISSING", Quantity: 1}), "")
	require.ErrorIs(t, err, product.ErrNotFound)
}

func TestCreateOrder_InactiveProduct(t *testing.T) {
	p := testProduct("SKU-1", "Widget", "10.00", 5)
	p.Active = false
	svc := newTestService(newMemStore(p), &mockGateway{})

	_, err := svc.CreateOrder(context.Background(),
		createReq("alice@example.com", CreateItem{ProductSku: "SKU-1", Quantity: 1}), "")

	var inactive *product.InactiveError
	require.ErrorAs(t, err, &inactive)
	assert.Equal(t, "SKU-1", inactive.SKU)
}

func TestCreateOrder_InsufficientStockRollsBackEverything(t *testing.T) {
	store := newMemStore(
		testProduct("SKU-1", "Widget", "10.00", 5),
		testProduct("SKU-2", "Gadget", "10.00", 1),
	)
	svc := newTestService(store, &mockGateway{})

	_, err := svc.CreateOrder(context.Background(), createReq("alice@example.com",
		CreateItem{ProductSku: "SKU-1", Quantity: 2},
		CreateItem{ProductSku: "SKU-2", Quantity: 3},
	), "")

	var ins *product.InsufficientStockError
	require.ErrorAs(t, err, &ins)
	assert.Equal(t, "SKU-2", ins.SKU)
	assert.Equal(t, 1, ins.Available)
	assert.Equal(t, 3, ins.Requested)

	// The first item's decrement must not survive the failed attempt.
	assert.Equal(t, 5, store.products.bySKU["SKU-1"].StockQuantity)
	assert.Equal(t, 1, store.products.bySKU["SKU-2"].StockQuantity)
	assert.Empty(t, store.orders.byID)
	assert.Empty(t, store.auditLog.entries)
}

func TestCreateOrder_BelowMinimumTotal(t *testing.T) {
	store := newMemStore(testProduct("SKU-1", "Freebie", "0.00", 5))
	svc := newTestService(store, &mockGateway{})

	_, err := svc.CreateOrder(context.Background(),
		createReq("alice@example.com", CreateItem{ProductSku: "SKU-1", Quantity: 1}), "")

	var minErr *MinimumTotalError
	require.ErrorAs(t, err, &minErr)
	assert.Equal(t, 5, store.products.bySKU["SKU-1"].StockQuantity)
	assert.Empty(t, store.orders.byID)
}

func TestCreateOrder_IdempotentReplay(t *testing.T) {
	store := newMemStore(testProduct("SKU-1", "Widget", "50.00", 10))
	svc := newTestService(store, &mockGateway{})
	req := createReq("alice@example.com", CreateItem{ProductSku: "SKU-1", Quantity: 1})

	first, err := svc.CreateOrder(context.Background(), req, "key-1")
	require.NoError(t, err)

	second, err := svc.CreateOrder(context.Background(), req, "key-1")
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Body, second.Body, "replayed body must be byte-identical")
	assert.Equal(t, first.StatusCode, second.StatusCode)
	assert.Len(t, store.orders.byID, 1, "exactly one order row")
	assert.Equal(t, 9, store.products.bySKU["SKU-1"].StockQuantity, "stock decremented once")
}

func TestCreateOrder_IdempotencyKeyConflict(t *testing.T) {
	store := newMemStore(testProduct("SKU-1", "Widget", "50.00", 10))
	svc := newTestService(store, &mockGateway{})

	_, err := svc.CreateOrder(context.Background(),
		createReq("alice@example.com", CreateItem{ProductSku: "SKU-1", Quantity: 1}), "key-1")
	require.NoError(t, err)

	_, err = svc.CreateOrder(context.Background(),
		createReq("alice@example.com", CreateItem{ProductSku: "SKU-1", Quantity: 2}), "key-1")
	require.ErrorIs(t, err, idempotency.ErrKeyConflict)

	assert.Len(t, store.orders.byID, 1, "original order untouched")
	assert.Equal(t, 9, store.products.bySKU["SKU-1"].StockQuantity)
}

func TestCreateOrder_ConcurrentDuplicateKeyReplays(t *testing.T) {
	// A bloom cache in front of an already-populated store simulates a
	// concurrent writer on another instance: the local filter has never
	// seen the key, so the pipeline proceeds and collides on Save.
	store := newMemStore(testProduct("SKU-1", "Widget", "50.00", 10))
	req := createReq("alice@example.com", CreateItem{ProductSku: "SKU-1", Quantity: 1})

	hash, err := idempotency.Hash(req)
	require.NoError(t, err)
	store.idem.recs["key-1"] = &idempotency.Record{
		Key:           "key-1",
		RequestHash:   hash,
		ResponseBody:  []byte(`{"id":99}`),
		StatusCode:    201,
		OperationType: "ORDER_CREATE",
	}

	svc := NewService(store, &mockGateway{}, discount.NewEngine(discount.DefaultTiers()),
		idempotency.NewCache(store.idem), nil, ServiceConfig{})

	res, err := svc.CreateOrder(context.Background(), req, "key-1")
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, []byte(`{"id":99}`), res.Body)

	// The colliding attempt rolled back: no new order, stock untouched.
	assert.Empty(t, store.orders.byID)
	assert.Equal(t, 10, store.products.bySKU["SKU-1"].StockQuantity)
}

// --- AuthorizePayment ---

func createPendingOrder(t *testing.T, svc *Service, qty int) int64 {
	t.Helper()
	res, err := svc.CreateOrder(context.Background(),
		createReq("alice@example.com", CreateItem{ProductSku: "SKU-1", Quantity: qty}), "")
	require.NoError(t, err)
	return res.Response.ID
}

func TestAuthorizePayment_Success(t *testing.T) {
	store := newMemStore(testProduct("SKU-1", "Widget", "50.00", 10))
	gw := &mockGateway{authResult: &payment.AuthResult{AuthorizationID: "auth-1", Attempts: 2}}
	svc := newTestService(store, gw)
	id := createPendingOrder(t, svc, 1)

	resp, err := svc.AuthorizePayment(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, resp.Status)
	assert.Equal(t, 1, gw.authCalls)

	pay := store.payments.byOrder[id]
	require.NotNil(t, pay)
	assert.Equal(t, payment.StatusAuthorized, pay.Status)
	assert.Equal(t, "auth-1", pay.AuthorizationID)
	assert.Equal(t, 2, pay.RetryAttempts)
	assert.True(t, pay.Amount.Equal(decimal.RequireFromString("47.50")))
	assert.Contains(t, store.auditLog.ops(), audit.PaymentAuthorized)
}

func TestAuthorizePayment_TerminalFailure(t *testing.T) {
	store := newMemStore(testProduct("SKU-1", "Widget", "50.00", 10))
	gw := &mockGateway{authErr: &payment.Error{Message: "card declined", Retryable: false, StatusCode: 402, Attempts: 1}}
	svc := newTestService(store, gw)
	id := createPendingOrder(t, svc, 1)

	_, err := svc.AuthorizePayment(context.Background(), id)
	var gerr *payment.Error
	require.ErrorAs(t, err, &gerr)
	assert.False(t, gerr.Retryable)

	o := store.orders.byID[id]
	assert.Equal(t, StatusPending, o.Status, "order stays PENDING on terminal failure")

	pay := store.payments.byOrder[id]
	assert.Equal(t, payment.StatusFailed, pay.Status)
	assert.Equal(t, "card declined", pay.LastError)
	assert.Equal(t, 1, pay.RetryAttempts)
	assert.Contains(t, store.auditLog.ops(), audit.PaymentFailed)
}

func TestAuthorizePayment_RetryableExhaustion(t *testing.T) {
	store := newMemStore(testProduct("SKU-1", "Widget", "50.00", 10))
	gw := &mockGateway{authErr: &payment.Error{Message: "payment service unavailable", Retryable: true, Attempts: 3}}
	svc := newTestService(store, gw)
	id := createPendingOrder(t, svc, 1)

	_, err := svc.AuthorizePayment(context.Background(), id)
	var gerr *payment.Error
	require.ErrorAs(t, err, &gerr)
	assert.True(t, gerr.Retryable)

	assert.Equal(t, StatusPending, store.orders.byID[id].Status)
	assert.Equal(t, payment.StatusFailed, store.payments.byOrder[id].Status)
	assert.Equal(t, 3, store.payments.byOrder[id].RetryAttempts)
}

func TestAuthorizePayment_ReauthorizeAfterFailureReusesRow(t *testing.T) {
	store := newMemStore(testProduct("SKU-1", "Widget", "50.00", 10))
	gw := &mockGateway{authErr: &payment.Error{Message: "unavailable", Retryable: true, Attempts: 3}}
	svc := newTestService(store, gw)
	id := createPendingOrder(t, svc, 1)

	_, err := svc.AuthorizePayment(context.Background(), id)
	require.Error(t, err)

	gw.authErr = nil
	gw.authResult = &payment.AuthResult{AuthorizationID: "auth-2", Attempts: 1}

	resp, err := svc.AuthorizePayment(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, resp.Status)

	pay := store.payments.byOrder[id]
	assert.Equal(t, payment.StatusAuthorized, pay.Status)
	assert.Equal(t, 4, pay.RetryAttempts, "attempt counter accumulates across authorize calls")
	assert.Equal(t, int64(1), pay.ID, "single payment row reused")
}

func TestAuthorizePayment_InvalidStates(t *testing.T) {
	store := newMemStore(testProduct("SKU-1", "Widget", "50.00", 10))
	gw := &mockGateway{authResult: &payment.AuthResult{AuthorizationID: "auth-1", Attempts: 1}}
	svc := newTestService(store, gw)
	id := createPendingOrder(t, svc, 1)

	_, err := svc.AuthorizePayment(context.Background(), id)
	require.NoError(t, err)

	// Already PAID.
	_, err = svc.AuthorizePayment(context.Background(), id)
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, StatusPaid, stateErr.Status)

	// CANCELLED.
	id2 := createPendingOrder(t, svc, 1)
	_, err = svc.CancelOrder(context.Background(), id2)
	require.NoError(t, err)
	_, err = svc.AuthorizePayment(context.Background(), id2)
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, StatusCancelled, stateErr.Status)

	assert.Equal(t, 1, gw.authCalls, "gateway never called for invalid states")
}

func TestAuthorizePayment_OrderNotFound(t *testing.T) {
	svc := newTestService(newMemStore(), &mockGateway{})

	_, err := svc.AuthorizePayment(context.Background(), 404)
	require.ErrorIs(t, err, ErrNotFound)
}

// --- CancelOrder ---

func TestCancelOrder_PendingRestoresStock(t *testing.T) {
	store := newMemStore(testProduct("SKU-1", "Widget", "50.00", 10))
	gw := &mockGateway{}
	svc := newTestService(store, gw)
	id := createPendingOrder(t, svc, 3)
	require.Equal(t, 7, store.products.bySKU["SKU-1"].StockQuantity)

	resp, err := svc.CancelOrder(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, resp.Status)
	assert.Equal(t, 10, store.products.bySKU["SKU-1"].StockQuantity, "round trip restores stock exactly")
	assert.Zero(t, gw.voidCalls, "nothing to void on a pending order")
	assert.Contains(t, store.auditLog.ops(), audit.StockIncremented)
	assert.Contains(t, store.auditLog.ops(), audit.OrderCancelled)
}

func TestCancelOrder_PaidVoidsPayment(t *testing.T) {
	store := newMemStore(testProduct("SKU-1", "Widget", "50.00", 10))
	gw := &mockGateway{authResult: &payment.AuthResult{AuthorizationID: "auth-1", Attempts: 1}}
	svc := newTestService(store, gw)
	id := createPendingOrder(t, svc, 1)

	_, err := svc.AuthorizePayment(context.Background(), id)
	require.NoError(t, err)

	resp, err := svc.CancelOrder(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, resp.Status)
	assert.Equal(t, 1, gw.voidCalls)
	assert.Equal(t, []string{"auth-1"}, gw.voidedIDs)
	assert.Equal(t, payment.StatusVoided, store.payments.byOrder[id].Status)
	assert.Equal(t, 10, store.products.bySKU["SKU-1"].StockQuantity)
	assert.Contains(t, store.auditLog.ops(), audit.PaymentVoided)
}

func TestCancelOrder_VoidFailureAbortsCancellation(t *testing.T) {
	store := newMemStore(testProduct("SKU-1", "Widget", "50.00", 10))
	gw := &mockGateway{authResult: &payment.AuthResult{AuthorizationID: "auth-1", Attempts: 1}}
	svc := newTestService(store, gw)
	id := createPendingOrder(t, svc, 2)

	_, err := svc.AuthorizePayment(context.Background(), id)
	require.NoError(t, err)

	gw.voidErr = &payment.Error{Message: "void rejected", Retryable: true, StatusCode: 502, Attempts: 1}

	_, err = svc.CancelOrder(context.Background(), id)
	require.Error(t, err)

	// Nothing moved: order still PAID, payment still AUTHORIZED, no
	// stock restored.
	assert.Equal(t, StatusPaid, store.orders.byID[id].Status)
	assert.Equal(t, payment.StatusAuthorized, store.payments.byOrder[id].Status)
	assert.Equal(t, 8, store.products.bySKU["SKU-1"].StockQuantity)
}

func TestCancelOrder_TerminalStates(t *testing.T) {
	store := newMemStore(testProduct("SKU-1", "Widget", "50.00", 10))
	svc := newTestService(store, &mockGateway{})
	id := createPendingOrder(t, svc, 1)

	_, err := svc.CancelOrder(context.Background(), id)
	require.NoError(t, err)

	_, err = svc.CancelOrder(context.Background(), id)
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Contains(t, stateErr.Error(), "already cancelled")

	// SHIPPED is terminal for cancellation too, with a distinct message.
	id2 := createPendingOrder(t, svc, 1)
	require.NoError(t, store.orders.UpdateStatus(context.Background(), id2, StatusShipped))
	_, err = svc.CancelOrder(context.Background(), id2)
	require.ErrorAs(t, err, &stateErr)
	assert.Contains(t, stateErr.Error(), "shipped")
}

func TestCancelOrder_ConcurrentAuthorizeAbortsCancel(t *testing.T) {
	store := newMemStore(testProduct("SKU-1", "Widget", "50.00", 10))
	gw := &mockGateway{}
	id := createPendingOrder(t, newTestService(store, gw), 2)

	// Another request authorizes the payment between the cancel's
	// precondition read and its mutation transaction.
	raced := &raceStore{memStore: store, after: map[int]func(){
		1: func() {
			store.payments.byOrder[id] = &payment.Payment{
				ID:              1,
				OrderID:         id,
				Amount:          decimal.RequireFromString("90.00"),
				Status:          payment.StatusAuthorized,
				AuthorizationID: "auth-race",
			}
			store.orders.byID[id].Status = StatusPaid
		},
	}}
	svc := NewService(raced, gw, discount.NewEngine(discount.DefaultTiers()), store.idem, nil, ServiceConfig{})

	_, err := svc.CancelOrder(context.Background(), id)
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, StatusPaid, stateErr.Status)

	// The stale cancel must not have cancelled around the fresh
	// authorization.
	assert.Equal(t, StatusPaid, store.orders.byID[id].Status)
	assert.Equal(t, payment.StatusAuthorized, store.payments.byOrder[id].Status)
	assert.Equal(t, 8, store.products.bySKU["SKU-1"].StockQuantity, "no stock restored")
	assert.Zero(t, gw.voidCalls)

	// A retry sees the authorized payment and cancels cleanly.
	resp, err := svc.CancelOrder(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, resp.Status)
	assert.Equal(t, []string{"auth-race"}, gw.voidedIDs)
	assert.Equal(t, payment.StatusVoided, store.payments.byOrder[id].Status)
	assert.Equal(t, 10, store.products.bySKU["SKU-1"].StockQuantity)
}

func TestAuthorizePayment_ConcurrentCancelVoidsAuthorization(t *testing.T) {
	store := newMemStore(testProduct("SKU-1", "Widget", "50.00", 10))
	gw := &mockGateway{authResult: &payment.AuthResult{AuthorizationID: "auth-9", Attempts: 1}}
	id := createPendingOrder(t, newTestService(store, gw), 1)

	// The order is cancelled while the gateway call is in flight: the
	// cancel commits after the payment row is committed PENDING.
	raced := &raceStore{memStore: store, after: map[int]func(){
		1: func() { store.orders.byID[id].Status = StatusCancelled },
	}}
	svc := NewService(raced, gw, discount.NewEngine(discount.DefaultTiers()), store.idem, nil, ServiceConfig{})

	_, err := svc.AuthorizePayment(context.Background(), id)
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, StatusCancelled, stateErr.Status)

	// The fresh authorization must not stay outstanding against the
	// cancelled order.
	assert.Equal(t, 1, gw.voidCalls)
	assert.Equal(t, []string{"auth-9"}, gw.voidedIDs)
	assert.Equal(t, payment.StatusVoided, store.payments.byOrder[id].Status)
	assert.Equal(t, StatusCancelled, store.orders.byID[id].Status)
	assert.Contains(t, store.auditLog.ops(), audit.PaymentVoided)
}

func TestCancelOrder_NotFound(t *testing.T) {
	svc := newTestService(newMemStore(), &mockGateway{})

	_, err := svc.CancelOrder(context.Background(), 404)
	require.ErrorIs(t, err, ErrNotFound)
}

// --- Reads ---

func TestGetOrder(t *testing.T) {
	store := newMemStore(testProduct("SKU-1", "Widget", "50.00", 10))
	svc := newTestService(store, &mockGateway{})
	id := createPendingOrder(t, svc, 1)

	resp, err := svc.GetOrder(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, resp.ID)
	assert.Equal(t, "alice@example.com", resp.CustomerEmail)

	_, err = svc.GetOrder(context.Background(), 404)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListCustomerOrders(t *testing.T) {
	store := newMemStore(testProduct("SKU-1", "Widget", "50.00", 100))
	svc := newTestService(store, &mockGateway{})
	for range 3 {
		createPendingOrder(t, svc, 1)
	}

	page, err := svc.ListCustomerOrders(context.Background(), "alice@example.com", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Items, 2)
	assert.Greater(t, page.Items[0].ID, page.Items[1].ID, "newest first")

	page2, err := svc.ListCustomerOrders(context.Background(), "alice@example.com", 2, 2)
	require.NoError(t, err)
	assert.Len(t, page2.Items, 1)

	_, err = svc.ListCustomerOrders(context.Background(), "nobody@example.com", 1, 10)
	require.ErrorIs(t, err, customer.ErrNotFound)
}

func TestNameFromEmail(t *testing.T) {
	first, last := nameFromEmail("alice.smith42@example.com")
	assert.Equal(t, "alicesmith", first)
	assert.Equal(t, "Customer", last)
}
