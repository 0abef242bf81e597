package main

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// fakeRepository é um Repository em memória para os testes do motor
type fakeRepository struct {
	mu       sync.Mutex
	products map[string]*Product
	orders   map[string]*Order

	// productLock faz o papel do FOR UPDATE nos produtos: fica com a tx até o fim
	productLock sync.Mutex

	findErr   error
	commits   int
	rollbacks int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		products: make(map[string]*Product),
		orders:   make(map[string]*Order),
	}
}

func (f *fakeRepository) addProduct(id string, totalStock int) *Product {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &Product{ID: id, SKU: "SKU-" + id, Name: "Product " + id, TotalStock: totalStock}
	f.products[id] = p
	return p
}

func (f *fakeRepository) setStatus(orderID string, status OrderStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[orderID].Status = status
}

// addOrder cria um pedido cuja janela geral cobre todos os itens
func (f *fakeRepository) addOrder(id string, status OrderStatus, items ...OrderItem) *Order {
	f.mu.Lock()
	defer f.mu.Unlock()

	o := &Order{ID: id, OrderNumber: "RO-" + id, Status: status}
	for i, it := range items {
		if it.ID == "" {
			it.ID = fmt.Sprintf("%s-item-%d", id, i)
		}
		it.OrderID = id
		o.Items = append(o.Items, it)
		if o.StartDate.IsZero() || it.StartDate.Before(o.StartDate) {
			o.StartDate = it.StartDate
		}
		if it.EndDate.After(o.EndDate) {
			o.EndDate = it.EndDate
		}
	}
	f.orders[id] = o
	return o
}

func (f *fakeRepository) itemsOf(orderID string) []OrderItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]OrderItem(nil), f.orders[orderID].Items...)
}

func (f *fakeRepository) GetProduct(_ context.Context, productID string) (*Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepository) FindCountingItems(_ context.Context, productID string, window DateRange, statuses StatusSet) ([]ReservedItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}

	var out []ReservedItem
	for _, o := range f.orders {
		if !statuses.Contains(o.Status) {
			continue
		}
		for _, it := range o.Items {
			if it.ProductID != productID || !window.Overlaps(it.Window()) {
				continue
			}
			out = append(out, ReservedItem{
				OrderID:     o.ID,
				OrderStatus: o.Status,
				Quantity:    it.Quantity,
				StartDate:   it.StartDate,
				EndDate:     it.EndDate,
			})
		}
	}
	return out, nil
}

func (f *fakeRepository) GetOrder(_ context.Context, orderID string) (*Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	cp.Items = append([]OrderItem(nil), o.Items...)
	return &cp, nil
}

func (f *fakeRepository) FindFutureOrders(_ context.Context, asOf time.Time, statuses StatusSet) ([]Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Order
	for _, o := range f.orders {
		if !statuses.Contains(o.Status) || o.StartDate.Before(asOf) {
			continue
		}
		cp := *o
		cp.Items = append([]OrderItem(nil), o.Items...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepository) BeginTx(_ context.Context) (Tx, error) {
	return &fakeTx{repo: f}, nil
}

// fakeTx acumula as escritas e só as aplica no Commit
type fakeTx struct {
	repo   *fakeRepository
	staged []func()
	done   bool
	locked bool
}

func (t *fakeTx) GetProduct(ctx context.Context, productID string) (*Product, error) {
	return t.repo.GetProduct(ctx, productID)
}

func (t *fakeTx) FindCountingItems(ctx context.Context, productID string, window DateRange, statuses StatusSet) ([]ReservedItem, error) {
	return t.repo.FindCountingItems(ctx, productID, window, statuses)
}

func (t *fakeTx) GetOrderForUpdate(ctx context.Context, orderID string) (*Order, error) {
	return t.repo.GetOrder(ctx, orderID)
}

func (t *fakeTx) LockProducts(_ context.Context, productIDs []string) (map[string]*Product, error) {
	if !t.locked {
		t.repo.productLock.Lock()
		t.locked = true
	}

	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	out := make(map[string]*Product)
	for _, id := range productIDs {
		if p, ok := t.repo.products[id]; ok {
			cp := *p
			out[id] = &cp
		}
	}
	return out, nil
}

func (t *fakeTx) ReplaceOrderItems(_ context.Context, orderID string, items []OrderItem) error {
	staged := append([]OrderItem(nil), items...)
	t.staged = append(t.staged, func() {
		t.repo.orders[orderID].Items = staged
	})
	return nil
}

func (t *fakeTx) UpdateOrderStatus(_ context.Context, orderID string, from, to OrderStatus) (bool, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	o, ok := t.repo.orders[orderID]
	if !ok || o.Status != from {
		return false, nil
	}
	t.staged = append(t.staged, func() {
		t.repo.orders[orderID].Status = to
	})
	return true, nil
}

func (t *fakeTx) DeleteOrderItems(_ context.Context, orderID string) (int64, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	o, ok := t.repo.orders[orderID]
	if !ok {
		return 0, nil
	}
	n := int64(len(o.Items))
	t.staged = append(t.staged, func() {
		t.repo.orders[orderID].Items = nil
	})
	return n, nil
}

func (t *fakeTx) Commit() error {
	if t.done {
		return fmt.Errorf("tx already closed")
	}
	t.repo.mu.Lock()
	for _, op := range t.staged {
		op()
	}
	t.done = true
	t.repo.commits++
	t.repo.mu.Unlock()
	t.unlock()
	return nil
}

func (t *fakeTx) Rollback() error {
	if t.done {
		return nil
	}
	t.repo.mu.Lock()
	t.done = true
	t.repo.rollbacks++
	t.repo.mu.Unlock()
	t.unlock()
	return nil
}

func (t *fakeTx) unlock() {
	if t.locked {
		t.locked = false
		t.repo.productLock.Unlock()
	}
}
