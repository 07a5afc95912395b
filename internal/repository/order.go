package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/legacyshop/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders
		(customer_id, status, subtotal, discount, total, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING id, created_at`

	createOrderItemSQL = `INSERT INTO order_items
		(order_id, product_sku, product_name, quantity, unit_price, subtotal)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	getOrderSQL = `SELECT o.id, o.customer_id, c.email, o.status,
			o.subtotal, o.discount, o.total,
			COALESCE(o.idempotency_key, ''), o.created_at
		FROM orders o JOIN customers c ON c.id = o.customer_id
		WHERE o.id = $1`

	getOrderForUpdateSQL = getOrderSQL + ` FOR UPDATE OF o`

	getOrderItemsSQL = `SELECT id, order_id, product_sku, product_name, quantity, unit_price, subtotal
		FROM order_items WHERE order_id = $1 ORDER BY id`

	listOrderItemsSQL = `SELECT id, order_id, product_sku, product_name, quantity, unit_price, subtotal
		FROM order_items WHERE order_id = ANY($1) ORDER BY id`

	updateOrderStatusSQL = `UPDATE orders SET status = $2 WHERE id = $1`

	listOrdersByCustomerSQL = `SELECT o.id, o.customer_id, c.email, o.status,
			o.subtotal, o.discount, o.total,
			COALESCE(o.idempotency_key, ''), o.created_at
		FROM orders o JOIN customers c ON c.id = o.customer_id
		WHERE o.customer_id = $1
		ORDER BY o.created_at DESC, o.id DESC
		LIMIT $2 OFFSET $3`

	countOrdersByCustomerSQL = `SELECT count(*) FROM orders WHERE customer_id = $1`

	dailySummarySQL = `SELECT date_trunc('day', created_at) AS day,
			count(*), sum(subtotal), sum(discount), sum(total)
		FROM orders
		WHERE created_at >= $1 AND created_at < $2 AND status <> 'CANCELLED'
		GROUP BY day ORDER BY day`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db DB
}

// NewOrderRepository returns an OrderRepository that uses the given
// connection.
func NewOrderRepository(db DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create persists the order and its items, filling the generated IDs and
// creation timestamp.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := r.db.QueryRow(ctx, createOrderSQL,
		o.CustomerID, o.Status, o.Subtotal, o.Discount, o.Total, o.IdempotencyKey,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating order: %w", err)
	}

	for i := range o.Items {
		it := &o.Items[i]
		it.OrderID = o.ID
		err := r.db.QueryRow(ctx, createOrderItemSQL,
			o.ID, it.ProductSKU, it.Name, it.Quantity, it.UnitPrice, it.Subtotal,
		).Scan(&it.ID)
		if err != nil {
			return fmt.Errorf("creating order item %q: %w", it.ProductSKU, err)
		}
	}
	return nil
}

// GetByID loads an order with its items.
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	return r.get(ctx, getOrderSQL, id)
}

// GetByIDForUpdate loads an order with its items, locking the order row.
func (r *OrderRepository) GetByIDForUpdate(ctx context.Context, id int64) (*order.Order, error) {
	return r.get(ctx, getOrderForUpdateSQL, id)
}

func (r *OrderRepository) get(ctx context.Context, query string, id int64) (*order.Order, error) {
	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}

	itemRows, err := r.db.Query(ctx, getOrderItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting items for order %d: %w", id, err)
	}
	o.Items, err = pgx.CollectRows(itemRows, scanOrderItem)
	if err != nil {
		return nil, fmt.Errorf("getting items for order %d: %w", id, err)
	}
	return &o, nil
}

// UpdateStatus moves the order to st.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id int64, st order.Status) error {
	tag, err := r.db.Exec(ctx, updateOrderStatusSQL, id, st)
	if err != nil {
		return fmt.Errorf("updating status of order %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// ListByCustomer returns one page of the customer's orders newest first,
// items included, plus the total order count.
func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID int64, offset, limit int) ([]order.Order, int64, error) {
	rows, err := r.db.Query(ctx, listOrdersByCustomerSQL, customerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders for customer %d: %w", customerID, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders for customer %d: %w", customerID, err)
	}

	if err := r.loadItems(ctx, orders); err != nil {
		return nil, 0, err
	}

	var total int64
	if err := r.db.QueryRow(ctx, countOrdersByCustomerSQL, customerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting orders for customer %d: %w", customerID, err)
	}
	return orders, total, nil
}

// DailySummary aggregates non-cancelled orders per day over [from, to).
func (r *OrderRepository) DailySummary(ctx context.Context, from, to time.Time) ([]order.DailySummary, error) {
	rows, err := r.db.Query(ctx, dailySummarySQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("building daily summary: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.DailySummary, error) {
		var s order.DailySummary
		err := row.Scan(&s.Day, &s.Orders, &s.Gross, &s.Discount, &s.Net)
		return s, err
	})
}

func (r *OrderRepository) loadItems(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, len(orders))
	byID := make(map[int64]*order.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		byID[orders[i].ID] = &orders[i]
	}

	rows, err := r.db.Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("loading order items: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return fmt.Errorf("loading order items: %w", err)
	}
	for _, it := range items {
		o := byID[it.OrderID]
		o.Items = append(o.Items, it)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var o order.Order
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.CustomerEmail, &o.Status,
		&o.Subtotal, &o.Discount, &o.Total,
		&o.IdempotencyKey, &o.CreatedAt,
	)
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(
		&it.ID, &it.OrderID, &it.ProductSKU, &it.Name,
		&it.Quantity, &it.UnitPrice, &it.Subtotal,
	)
	return it, err
}
