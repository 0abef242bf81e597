package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Repository define a interface para operações de banco de dados de pedidos
type Repository interface {
	// OrderExists verifica se um pedido já existe (para idempotência)
	OrderExists(ctx context.Context, orderID string) (bool, error)

	// CreateOrder grava o cabeçalho do pedido; repetir a chamada não duplica o pedido
	CreateOrder(ctx context.Context, order *RentalOrder) error

	// UpdateStatus troca o status apenas se o pedido ainda estiver em from
	UpdateStatus(ctx context.Context, orderID string, from, to OrderStatus) (bool, error)

	// GetOrder busca um pedido pelo ID, com os itens
	GetOrder(ctx context.Context, orderID string) (*RentalOrder, error)
}

// OrderRepository implementa Repository usando PostgreSQL via sqlx
type OrderRepository struct {
	db *sqlx.DB
}

// NewOrderRepository cria uma nova instância de OrderRepository
func NewOrderRepository(db *sqlx.DB) Repository {
	return &OrderRepository{
		db: db,
	}
}

// OrderExists verifica se um pedido já existe (para idempotência)
func (r *OrderRepository) OrderExists(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)", orderID)
	return exists, err
}

// CreateOrder grava o cabeçalho do pedido
func (r *OrderRepository) CreateOrder(ctx context.Context, order *RentalOrder) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO orders (id, order_number, customer_id, status, start_date, end_date, created_at, updated_at)
		VALUES (:id, :order_number, :customer_id, :status, :start_date, :end_date, :created_at, :updated_at)
		ON CONFLICT (id) DO NOTHING
	`, order)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", order.ID, err)
	}
	return nil
}

// UpdateStatus atualiza o status de um pedido com guarda otimista no status atual
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, from, to OrderStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, to, orderID, from)
	if err != nil {
		return false, fmt.Errorf("update order %s status: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetOrder busca um pedido pelo ID
func (r *OrderRepository) GetOrder(ctx context.Context, orderID string) (*RentalOrder, error) {
	var order RentalOrder
	err := r.db.GetContext(ctx, &order, `
		SELECT id, order_number, customer_id, status, start_date, end_date, created_at, updated_at
		FROM orders WHERE id = $1
	`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}

	err = r.db.SelectContext(ctx, &order.Items, `
		SELECT id, product_id, quantity, start_date, end_date
		FROM order_items WHERE order_id = $1
		ORDER BY start_date, product_id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load items of order %s: %w", orderID, err)
	}
	return &order, nil
}
