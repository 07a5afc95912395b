package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/legacyshop/internal/domain/product"
)

const (
	listProductsSQL = `SELECT sku, name, price, stock_quantity, active, created_at
		FROM products ORDER BY sku`

	getProductBySKUSQL = `SELECT sku, name, price, stock_quantity, active, created_at
		FROM products WHERE sku = $1`

	// Conditional decrement: the WHERE clause makes oversell impossible
	// even under concurrent writers, no read-modify-write involved.
	decrementStockSQL = `UPDATE products SET stock_quantity = stock_quantity - $2
		WHERE sku = $1 AND active AND stock_quantity >= $2`

	incrementStockSQL = `UPDATE products SET stock_quantity = stock_quantity + $2
		WHERE sku = $1`

	stockStateSQL = `SELECT stock_quantity, active FROM products WHERE sku = $1`

	upsertProductSQL = `INSERT INTO products (sku, name, price, stock_quantity, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sku) DO UPDATE
		SET name = EXCLUDED.name, price = EXCLUDED.price,
			stock_quantity = EXCLUDED.stock_quantity, active = EXCLUDED.active`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	db DB
}

// NewProductRepository returns a ProductRepository that uses the given
// connection.
func NewProductRepository(db DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// List returns all products from the catalog ordered by SKU.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.db.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetBySKU returns a single product by its SKU.
func (r *ProductRepository) GetBySKU(ctx context.Context, sku string) (*product.Product, error) {
	rows, err := r.db.Query(ctx, getProductBySKUSQL, sku)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", sku, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", sku, err)
	}
	return &p, nil
}

// DecrementStock atomically subtracts qty from the product's stock. When
// the conditional update matches no row it re-reads the product to
// report the precise cause: missing, inactive, or insufficient stock.
func (r *ProductRepository) DecrementStock(ctx context.Context, sku string, qty int) error {
	tag, err := r.db.Exec(ctx, decrementStockSQL, sku, qty)
	if err != nil {
		return fmt.Errorf("decrementing stock for %q: %w", sku, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var (
		available int
		active    bool
	)
	err = r.db.QueryRow(ctx, stockStateSQL, sku).Scan(&available, &active)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return product.ErrNotFound
	case err != nil:
		return fmt.Errorf("checking stock for %q: %w", sku, err)
	case !active:
		return &product.InactiveError{SKU: sku}
	default:
		return &product.InsufficientStockError{SKU: sku, Available: available, Requested: qty}
	}
}

// IncrementStock returns qty units of the product to stock.
func (r *ProductRepository) IncrementStock(ctx context.Context, sku string, qty int) error {
	tag, err := r.db.Exec(ctx, incrementStockSQL, sku, qty)
	if err != nil {
		return fmt.Errorf("incrementing stock for %q: %w", sku, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

// Upsert inserts or replaces the catalog entry for p.SKU.
func (r *ProductRepository) Upsert(ctx context.Context, p *product.Product) error {
	_, err := r.db.Exec(ctx, upsertProductSQL,
		p.SKU, p.Name, p.Price, p.StockQuantity, p.Active,
	)
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.SKU, err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.SKU, &p.Name, &p.Price, &p.StockQuantity, &p.Active, &p.CreatedAt)
	return p, err
}
