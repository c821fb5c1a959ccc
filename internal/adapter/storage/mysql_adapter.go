package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/storefront-settlement/internal/core/domain"
	"github.com/rl1809/storefront-settlement/internal/port"
)

const mysqlErrDuplicateEntry = 1062

// MySQLAdapter backs the order store, the durable inventory ledger, and the
// buyer/product resolvers. Every ledger mutation is a single conditional
// statement so MySQL itself serializes conflicting writes to one product row.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// Reserve decrements stock only if the stored quantity covers the request.
// The predicate and the decrement are one UPDATE; there is no read-then-write
// window for a concurrent buyer to slip into.
func (m *MySQLAdapter) Reserve(ctx context.Context, key domain.ProductKey, qty int) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE products
		SET quantity = quantity - ?
		WHERE company_name = ? AND name = ? AND quantity >= ?`,
		qty, key.Company, key.Name, qty,
	)
	if err != nil {
		return fmt.Errorf("reserve: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	// Zero rows means the predicate failed or the product row is missing.
	// The follow-up read only disambiguates the outcome; correctness never
	// depends on it.
	var one int
	err = m.db.QueryRowContext(ctx, `
		SELECT 1 FROM products WHERE company_name = ? AND name = ?`,
		key.Company, key.Name,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return port.ErrProductNotFound
	}
	if err != nil {
		return fmt.Errorf("reserve lookup: %w", err)
	}
	return port.ErrInsufficientStock
}

func (m *MySQLAdapter) Release(ctx context.Context, key domain.ProductKey, qty int) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE products
		SET quantity = quantity + ?
		WHERE company_name = ? AND name = ?`,
		qty, key.Company, key.Name,
	)
	if err != nil {
		return fmt.Errorf("release: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("release rows affected: %w", err)
	}
	if rows == 0 {
		return port.ErrProductNotFound
	}
	return nil
}

func (m *MySQLAdapter) RecordIfAbsent(ctx context.Context, order domain.Order) (bool, error) {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO orders (id, idempotency_key, product_name, company_name, quantity, buyer_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.IdempotencyKey, order.ProductName, order.CompanyName,
		order.Quantity, order.BuyerName, order.CreatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry {
			return false, nil
		}
		return false, fmt.Errorf("insert order: %w", err)
	}
	return true, nil
}

func (m *MySQLAdapter) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	var order domain.Order
	err := m.db.QueryRowContext(ctx, `
		SELECT id, idempotency_key, product_name, company_name, quantity, buyer_name, created_at
		FROM orders WHERE idempotency_key = ?`, key,
	).Scan(&order.ID, &order.IdempotencyKey, &order.ProductName, &order.CompanyName,
		&order.Quantity, &order.BuyerName, &order.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return &order, nil
}

func (m *MySQLAdapter) ResolveBuyer(ctx context.Context, buyerID string) (*domain.Buyer, error) {
	var buyer domain.Buyer
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name FROM buyers WHERE id = ?`, buyerID,
	).Scan(&buyer.ID, &buyer.Name)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query buyer: %w", err)
	}
	return &buyer, nil
}

func (m *MySQLAdapter) ResolveProduct(ctx context.Context, key domain.ProductKey) (*domain.Product, error) {
	var product domain.Product
	err := m.db.QueryRowContext(ctx, `
		SELECT company_name, name, image, price, `+"`rank`"+`, quantity
		FROM products WHERE company_name = ? AND name = ?`,
		key.Company, key.Name,
	).Scan(&product.Company, &product.Name, &product.Image, &product.Price,
		&product.Rank, &product.Quantity)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &product, nil
}

// ListQuantities returns current stock per product, used to seed the Redis
// ledger at boot when that backend is selected.
func (m *MySQLAdapter) ListQuantities(ctx context.Context) (map[domain.ProductKey]int, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT company_name, name, quantity FROM products`)
	if err != nil {
		return nil, fmt.Errorf("list quantities: %w", err)
	}
	defer rows.Close()

	quantities := make(map[domain.ProductKey]int)
	for rows.Next() {
		var key domain.ProductKey
		var qty int
		if err := rows.Scan(&key.Company, &key.Name, &qty); err != nil {
			return nil, fmt.Errorf("scan quantity: %w", err)
		}
		quantities[key] = qty
	}
	return quantities, rows.Err()
}
