package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EvaluationRequest é o pedido de avaliação de um produto para uma janela
type EvaluationRequest struct {
	ProductID      string
	Quantity       int
	Window         DateRange
	ExcludeOrderID string
}

// ItemRequest é uma linha a reservar para um pedido
type ItemRequest struct {
	ProductID string
	Quantity  int
	Window    DateRange
}

// ReserveRequest pede a admissão (e persistência) dos itens de um pedido
type ReserveRequest struct {
	OrderID string
	Items   []ItemRequest
}

// ReservationResult traz a decisão por item; Admitted só é true se todos foram admitidos
type ReservationResult struct {
	OrderID   string      `json:"order_id"`
	Admitted  bool        `json:"admitted"`
	Decisions []Decision  `json:"decisions"`
	Items     []OrderItem `json:"items,omitempty"`
}

// AvailabilityUseCase contém o agregador de reservas e o avaliador de disponibilidade
type AvailabilityUseCase struct {
	repository Repository
	policy     Policy
	tracer     trace.Tracer
	metrics    *Metrics
	now        func() time.Time
}

// NewAvailabilityUseCase cria uma nova instância de AvailabilityUseCase
func NewAvailabilityUseCase(
	repository Repository,
	policy Policy,
	tracer trace.Tracer,
	metrics *Metrics,
) *AvailabilityUseCase {
	if tracer == nil {
		tracer = otel.Tracer("availability-service")
	}
	return &AvailabilityUseCase{
		repository: repository,
		policy:     policy,
		tracer:     tracer,
		metrics:    metrics,
		now:        time.Now,
	}
}

// ReservedQuantity soma as quantidades dos itens concorrentes que consomem estoque na janela.
// Sempre calculado na hora, nunca em cache.
func (uc *AvailabilityUseCase) ReservedQuantity(ctx context.Context, productID string, window DateRange, excludeOrderID string) (int, error) {
	if window.Start.After(window.End) {
		return 0, ErrInvalidDateRange
	}
	if _, err := uc.repository.GetProduct(ctx, productID); err != nil {
		return 0, err
	}
	return uc.reservedQuantity(ctx, uc.repository, productID, window, excludeOrderID, nil)
}

// reservedQuantity agrega o estoque reservado. pending são itens ainda não persistidos
// (irmãos da mesma requisição) que competem pela mesma janela.
func (uc *AvailabilityUseCase) reservedQuantity(
	ctx context.Context,
	store ReadStore,
	productID string,
	window DateRange,
	excludeOrderID string,
	pending []OrderItem,
) (int, error) {
	items, err := store.FindCountingItems(ctx, productID, window, uc.policy.CountingStatuses)
	if err != nil {
		return 0, fmt.Errorf("failed to aggregate reservations for product %s: %w", productID, err)
	}

	reserved := 0
	for _, it := range items {
		if excludeOrderID != "" && it.OrderID == excludeOrderID {
			continue
		}
		if !uc.policy.CountingStatuses.Contains(it.OrderStatus) {
			continue
		}
		if !Overlaps(window.Start, window.End, it.StartDate, it.EndDate) {
			continue
		}
		reserved += it.Quantity
	}

	for _, it := range pending {
		if it.ProductID == productID && window.Overlaps(it.Window()) {
			reserved += it.Quantity
		}
	}
	return reserved, nil
}

// Evaluate decide se a quantidade pedida pode ser atendida na janela.
// Uma recusa é devolvida como Decision estruturada, nunca como erro.
func (uc *AvailabilityUseCase) Evaluate(ctx context.Context, req EvaluationRequest) (*Decision, error) {
	ctx, span := uc.tracer.Start(ctx, "availability.evaluate")
	defer span.End()

	span.SetAttributes(
		attribute.String("product_id", req.ProductID),
		attribute.Int("quantity", req.Quantity),
		attribute.String("window", req.Window.String()),
		attribute.String("exclude_order_id", req.ExcludeOrderID),
	)

	if err := validateEvaluation(req.Quantity, req.Window); err != nil {
		span.RecordError(err)
		return nil, err
	}

	product, err := uc.repository.GetProduct(ctx, req.ProductID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	decision, err := uc.decide(ctx, uc.repository, product, req, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "evaluation failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("admit", decision.Admit),
		attribute.Int("deficit", decision.Deficit),
		attribute.String("reason", string(decision.Reason)),
	)
	return decision, nil
}

// decide aplica a regra base e a exceção de lead time para produtos sem estoque
func (uc *AvailabilityUseCase) decide(
	ctx context.Context,
	store ReadStore,
	product *Product,
	req EvaluationRequest,
	pending []OrderItem,
) (*Decision, error) {
	reserved, err := uc.reservedQuantity(ctx, store, product.ID, req.Window, req.ExcludeOrderID, pending)
	if err != nil {
		return nil, err
	}

	available := max(0, product.TotalStock-reserved)
	deficit := max(0, req.Quantity-available)

	d := &Decision{
		ProductID:      product.ID,
		TotalStock:     product.TotalStock,
		Reserved:       reserved,
		AvailableStock: available,
		Requested:      req.Quantity,
		Deficit:        deficit,
		DaysUntilStart: daysBetween(uc.now(), req.Window.Start, uc.policy.Location),
	}

	switch {
	case product.TotalStock == 0 && d.DaysUntilStart >= uc.policy.LeadTimeDays:
		d.Admit = true
		d.LeadTimeGrant = true
	case product.TotalStock == 0:
		d.Reason = ReasonLeadTimeTooShort
		d.Message = fmt.Sprintf("product %s has no stock and needs %d+ days of lead time; start date is in %d day(s)",
			product.ID, uc.policy.LeadTimeDays, d.DaysUntilStart)
	case deficit == 0:
		d.Admit = true
	default:
		d.Reason = ReasonInsufficientStock
		d.Message = fmt.Sprintf("insufficient stock for product %s: requested %d, available %d, missing %d",
			product.ID, req.Quantity, available, deficit)
	}

	uc.metrics.recordDecision(ctx, d)
	return d, nil
}

// ReserveItems admite e persiste os itens do pedido numa única transação.
// Pedido e produtos ficam travados (FOR UPDATE) enquanto a avaliação é refeita,
// fechando a corrida check-then-act entre pedidos concorrentes.
func (uc *AvailabilityUseCase) ReserveItems(ctx context.Context, req ReserveRequest) (*ReservationResult, error) {
	ctx, span := uc.tracer.Start(ctx, "availability.reserve_items")
	defer span.End()
	span.SetAttributes(
		attribute.String("order_id", req.OrderID),
		attribute.Int("items", len(req.Items)),
	)

	log.Printf("➡️ [RESERVE] OrderID: %s | Items: %d", req.OrderID, len(req.Items))

	if len(req.Items) == 0 {
		return nil, ErrNoItems
	}
	for _, it := range req.Items {
		if err := validateEvaluation(it.Quantity, it.Window); err != nil {
			return nil, err
		}
	}

	// 1. Inicia a transação
	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 2. Trava o pedido
	order, err := tx.GetOrderForUpdate(ctx, req.OrderID)
	if err != nil {
		log.Printf("❌ RESERVE FAILED: GetOrderForUpdate | OrderID=%s | Error=%v", req.OrderID, err)
		return nil, err
	}
	if order.Status.Closed() {
		return nil, fmt.Errorf("%w: %s is %s", ErrOrderClosed, order.ID, order.Status)
	}

	// 3. Trava os produtos (lock pessimista, ordem de id)
	products, err := tx.LockProducts(ctx, productIDs(req.Items))
	if err != nil {
		return nil, err
	}

	items := make([]OrderItem, len(req.Items))
	for i, it := range req.Items {
		if _, ok := products[it.ProductID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, it.ProductID)
		}
		items[i] = OrderItem{
			ID:        uuid.New().String(),
			OrderID:   order.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			StartDate: it.Window.Start,
			EndDate:   it.Window.End,
		}
	}

	// 4. Reavalia dentro da transação, já com os locks
	result, err := uc.evaluateItems(ctx, tx, order.ID, items, products, true)
	if err != nil {
		return nil, err
	}
	if !result.Admitted {
		log.WithFields(log.Fields{
			"order_id":  order.ID,
			"decisions": len(result.Decisions),
		}).Info("ℹ️ [RESERVE] rejected, rolling back")
		span.SetAttributes(attribute.Bool("admitted", false))
		return result, nil
	}

	// 5. Persiste os itens
	if err := tx.ReplaceOrderItems(ctx, order.ID, items); err != nil {
		log.Printf("❌ [RESERVE] | OrderID=%s Failed to insert items: %v", order.ID, err)
		return nil, err
	}

	// 6. Commit da transação
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reservation: %w", err)
	}

	result.Items = items
	span.SetAttributes(attribute.Bool("admitted", true))
	log.Printf("✅ [RESERVE] Success: OrderID=%s", order.ID)
	return result, nil
}

// ReleaseItems remove os itens do pedido (compensação). É idempotente.
func (uc *AvailabilityUseCase) ReleaseItems(ctx context.Context, orderID string) error {
	log.Printf("↩️ [RELEASE] OrderID: %s", orderID)

	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	removed, err := tx.DeleteOrderItems(ctx, orderID)
	if err != nil {
		return err
	}
	if removed == 0 {
		log.Printf("ℹ️  [IDEMPOTENCY] nothing to release for OrderID=%s", orderID)
		return nil
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit release: %w", err)
	}

	log.Printf("♻️  Released %d item(s) for OrderID=%s", removed, orderID)
	return nil
}

// ConfirmOrder leva um pedido PENDING para CONFIRMED, que é a escrita que passa a
// consumir estoque. Pedido e produtos ficam travados enquanto os itens são reavaliados;
// o status só muda se todos forem admitidos.
func (uc *AvailabilityUseCase) ConfirmOrder(ctx context.Context, orderID string) (*ReservationResult, error) {
	ctx, span := uc.tracer.Start(ctx, "availability.confirm_order")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID))

	log.Printf("➡️ [CONFIRM] OrderID: %s", orderID)

	// 1. Inicia a transação
	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 2. Trava o pedido
	order, err := tx.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		log.Printf("❌ CONFIRM FAILED: GetOrderForUpdate | OrderID=%s | Error=%v", orderID, err)
		span.RecordError(err)
		return nil, err
	}
	if order.Status != OrderStatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrOrderNotPending, order.ID, order.Status)
	}
	if len(order.Items) == 0 {
		return nil, fmt.Errorf("%w: order %s", ErrNoItems, order.ID)
	}

	// 3. Trava os produtos do pedido
	ids := make([]string, len(order.Items))
	for i, it := range order.Items {
		ids[i] = it.ProductID
	}
	products, err := tx.LockProducts(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, it := range order.Items {
		if _, ok := products[it.ProductID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, it.ProductID)
		}
	}

	// 4. Reavalia com os locks; os itens do pedido competem entre si
	result, err := uc.evaluateItems(ctx, tx, order.ID, order.Items, products, true)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !result.Admitted {
		log.WithFields(log.Fields{"order_id": order.ID}).Info("ℹ️ [CONFIRM] capacity no longer available")
		span.SetAttributes(attribute.Bool("admitted", false))
		return result, nil
	}

	// 5. Muda o status dentro da mesma transação
	updated, err := tx.UpdateOrderStatus(ctx, order.ID, OrderStatusPending, OrderStatusConfirmed)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, fmt.Errorf("%w: %s changed concurrently", ErrOrderNotPending, order.ID)
	}

	// 6. Commit da transação
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit confirmation: %w", err)
	}

	result.Items = order.Items
	span.SetAttributes(attribute.Bool("admitted", true))
	log.Printf("✅ [CONFIRM] Success: OrderID=%s", order.ID)
	return result, nil
}

// CheckOrder reavalia todos os itens de um pedido existente excluindo o próprio pedido.
// Cada item tem o mesmo resultado de Evaluate com ExcludeOrderID = orderID.
func (uc *AvailabilityUseCase) CheckOrder(ctx context.Context, orderID string) (*ReservationResult, error) {
	ctx, span := uc.tracer.Start(ctx, "availability.check_order")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID))

	order, err := uc.repository.GetOrder(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	products := make(map[string]*Product)
	for _, it := range order.Items {
		if _, ok := products[it.ProductID]; ok {
			continue
		}
		p, err := uc.repository.GetProduct(ctx, it.ProductID)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		products[it.ProductID] = p
	}

	return uc.evaluateItems(ctx, uc.repository, order.ID, order.Items, products, false)
}

// evaluateItems avalia cada item contra os pedidos concorrentes. Com withSiblings os
// outros itens do mesmo pedido também competem (admissão de consumo novo).
func (uc *AvailabilityUseCase) evaluateItems(
	ctx context.Context,
	store ReadStore,
	orderID string,
	items []OrderItem,
	products map[string]*Product,
	withSiblings bool,
) (*ReservationResult, error) {
	result := &ReservationResult{OrderID: orderID, Admitted: true}

	for i, item := range items {
		var siblings []OrderItem
		if withSiblings {
			siblings = make([]OrderItem, 0, len(items)-1)
			siblings = append(siblings, items[:i]...)
			siblings = append(siblings, items[i+1:]...)
		}

		d, err := uc.decide(ctx, store, products[item.ProductID], EvaluationRequest{
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			Window:         item.Window(),
			ExcludeOrderID: orderID,
		}, siblings)
		if err != nil {
			return nil, err
		}
		if !d.Admit {
			result.Admitted = false
		}
		result.Decisions = append(result.Decisions, *d)
	}
	return result, nil
}

func validateEvaluation(quantity int, window DateRange) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if window.Start.After(window.End) {
		return ErrInvalidDateRange
	}
	return nil
}

func productIDs(items []ItemRequest) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		ids = append(ids, it.ProductID)
	}
	sort.Strings(ids)
	return ids
}
