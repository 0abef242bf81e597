package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReadStore é a porta de leitura usada pelo agregador e pelo avaliador.
// É implementada tanto pelo pool quanto por uma transação aberta.
type ReadStore interface {
	GetProduct(ctx context.Context, productID string) (*Product, error)
	FindCountingItems(ctx context.Context, productID string, window DateRange, statuses StatusSet) ([]ReservedItem, error)
}

// Repository define a interface para operações de banco de dados de disponibilidade
type Repository interface {
	ReadStore

	// GetOrder busca um pedido com seus itens
	GetOrder(ctx context.Context, orderID string) (*Order, error)

	// FindFutureOrders lista pedidos nos status informados com start_date >= asOf
	FindFutureOrders(ctx context.Context, asOf time.Time, statuses StatusSet) ([]Order, error)

	BeginTx(ctx context.Context) (Tx, error)
}

// Tx interface para a transação de reserva
type Tx interface {
	ReadStore

	// GetOrderForUpdate trava o cabeçalho do pedido (FOR UPDATE) e carrega os itens
	GetOrderForUpdate(ctx context.Context, orderID string) (*Order, error)

	// UpdateOrderStatus troca o status só se o pedido ainda estiver em from
	UpdateOrderStatus(ctx context.Context, orderID string, from, to OrderStatus) (bool, error)

	// LockProducts trava os produtos em ordem crescente de id para evitar deadlock
	LockProducts(ctx context.Context, productIDs []string) (map[string]*Product, error)

	// ReplaceOrderItems substitui todos os itens do pedido
	ReplaceOrderItems(ctx context.Context, orderID string, items []OrderItem) error

	// DeleteOrderItems remove os itens do pedido e devolve quantos foram removidos
	DeleteOrderItems(ctx context.Context, orderID string) (int64, error)

	Commit() error
	Rollback() error
}

// querier é o subconjunto comum de *pgxpool.Pool e pgx.Tx
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRepository implementa Repository usando PostgreSQL
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewRepository cria uma nova instância de PostgresRepository
func NewRepository(db *pgxpool.Pool) Repository {
	return &PostgresRepository{
		db: db,
	}
}

func (r *PostgresRepository) GetProduct(ctx context.Context, productID string) (*Product, error) {
	return getProduct(ctx, r.db, productID)
}

func (r *PostgresRepository) FindCountingItems(ctx context.Context, productID string, window DateRange, statuses StatusSet) ([]ReservedItem, error) {
	return findCountingItems(ctx, r.db, productID, window, statuses)
}

// GetOrder busca um pedido pelo ID junto com os itens
func (r *PostgresRepository) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	order, err := scanOrder(r.db.QueryRow(ctx, `
		SELECT id, order_number, status, start_date, end_date
		FROM orders WHERE id = $1
	`, orderID))
	if err != nil {
		return nil, err
	}

	items, err := findItemsByOrders(ctx, r.db, []string{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]
	return order, nil
}

// FindFutureOrders busca os pedidos futuros que consomem estoque, com seus itens
func (r *PostgresRepository) FindFutureOrders(ctx context.Context, asOf time.Time, statuses StatusSet) ([]Order, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, order_number, status, start_date, end_date
		FROM orders
		WHERE status = ANY($1) AND start_date >= $2
		ORDER BY start_date, id
	`, statuses.Slice(), dateOnly(asOf))
	if err != nil {
		return nil, fmt.Errorf("failed to list future orders: %w", err)
	}

	var orders []Order
	for rows.Next() {
		var o Order
		var status string
		if err := rows.Scan(&o.ID, &o.OrderNumber, &status, &o.StartDate, &o.EndDate); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.Status = OrderStatus(status)
		orders = append(orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}

	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	items, err := findItemsByOrders(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

// PostgresTx implementa a interface Tx
type PostgresTx struct {
	tx pgx.Tx
}

// BeginTx inicia uma nova transação READ COMMITTED; a serialização vem dos locks de linha
func (r *PostgresRepository) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	return &PostgresTx{tx: tx}, nil
}

func (t *PostgresTx) Commit() error {
	return t.tx.Commit(context.Background())
}

func (t *PostgresTx) Rollback() error {
	return t.tx.Rollback(context.Background())
}

func (t *PostgresTx) GetProduct(ctx context.Context, productID string) (*Product, error) {
	return getProduct(ctx, t.tx, productID)
}

func (t *PostgresTx) FindCountingItems(ctx context.Context, productID string, window DateRange, statuses StatusSet) ([]ReservedItem, error) {
	return findCountingItems(ctx, t.tx, productID, window, statuses)
}

// GetOrderForUpdate obtém o pedido com lock pessimista (FOR UPDATE)
func (t *PostgresTx) GetOrderForUpdate(ctx context.Context, orderID string) (*Order, error) {
	order, err := scanOrder(t.tx.QueryRow(ctx, `
		SELECT id, order_number, status, start_date, end_date
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, orderID))
	if err != nil {
		return nil, fmt.Errorf("failed to get order with lock: %w", err)
	}

	items, err := findItemsByOrders(ctx, t.tx, []string{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]
	return order, nil
}

func (t *PostgresTx) UpdateOrderStatus(ctx context.Context, orderID string, from, to OrderStatus) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, string(to), orderID, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// LockProducts obtém os produtos com lock pessimista (FOR UPDATE).
// Produtos inexistentes simplesmente não aparecem no mapa.
func (t *PostgresTx) LockProducts(ctx context.Context, productIDs []string) (map[string]*Product, error) {
	ids := append([]string(nil), productIDs...)
	sort.Strings(ids)

	rows, err := t.tx.Query(ctx, `
		SELECT id, sku, name, total_stock, available_stock, created_at, updated_at
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to lock products: %w", err)
	}
	defer rows.Close()

	products := make(map[string]*Product, len(ids))
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.TotalStock, &p.AvailableStock, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products[p.ID] = &p
	}
	return products, rows.Err()
}

// ReplaceOrderItems remove os itens atuais e insere os novos dentro da transação
func (t *PostgresTx) ReplaceOrderItems(ctx context.Context, orderID string, items []OrderItem) error {
	if _, err := t.DeleteOrderItems(ctx, orderID); err != nil {
		return err
	}

	insertQuery := `
		INSERT INTO order_items (id, order_id, product_id, quantity, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, item := range items {
		_, err := t.tx.Exec(ctx, insertQuery,
			item.ID, orderID, item.ProductID, item.Quantity, item.StartDate, item.EndDate)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}
	return nil
}

func (t *PostgresTx) DeleteOrderItems(ctx context.Context, orderID string) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete order items: %w", err)
	}
	return tag.RowsAffected(), nil
}

func getProduct(ctx context.Context, q querier, productID string) (*Product, error) {
	var p Product
	err := q.QueryRow(ctx, `
		SELECT id, sku, name, total_stock, available_stock, created_at, updated_at
		FROM products
		WHERE id = $1
	`, productID).Scan(&p.ID, &p.SKU, &p.Name, &p.TotalStock, &p.AvailableStock, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// findCountingItems pré-filtra por status e sobreposição no banco; o agregador reaplica as regras
func findCountingItems(ctx context.Context, q querier, productID string, window DateRange, statuses StatusSet) ([]ReservedItem, error) {
	rows, err := q.Query(ctx, `
		SELECT oi.order_id, o.status, oi.quantity, oi.start_date, oi.end_date
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE oi.product_id = $1
		  AND o.status = ANY($2)
		  AND oi.start_date <= $4
		  AND oi.end_date >= $3
	`, productID, statuses.Slice(), window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("failed to query reserved items: %w", err)
	}
	defer rows.Close()

	var items []ReservedItem
	for rows.Next() {
		var it ReservedItem
		var status string
		if err := rows.Scan(&it.OrderID, &status, &it.Quantity, &it.StartDate, &it.EndDate); err != nil {
			return nil, fmt.Errorf("failed to scan reserved item: %w", err)
		}
		it.OrderStatus = OrderStatus(status)
		items = append(items, it)
	}
	return items, rows.Err()
}

func findItemsByOrders(ctx context.Context, q querier, orderIDs []string) (map[string][]OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, quantity, start_date, end_date
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, id
	`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	items := make(map[string][]OrderItem, len(orderIDs))
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.StartDate, &it.EndDate); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items[it.OrderID] = append(items[it.OrderID], it)
	}
	return items, rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var status string
	err := row.Scan(&o.ID, &o.OrderNumber, &status, &o.StartDate, &o.EndDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Status = OrderStatus(status)
	return &o, nil
}
