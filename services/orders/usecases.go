package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// CreateOrderRequest representa a requisição para criar um pedido de locação
type CreateOrderRequest struct {
	CustomerID string      `json:"customer_id" binding:"required"`
	Items      []ItemInput `json:"items" binding:"required,min=1,dive"`
}

// CreateOrderResult é a resposta de um pedido aceito
type CreateOrderResult struct {
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	Status      OrderStatus `json:"status"`
	SagaGID     string      `json:"saga_gid"`
	Decisions   []Decision  `json:"decisions"`
}

// OrderUseCase contém a lógica de negócio dos pedidos
type OrderUseCase struct {
	repository       Repository
	sagaOrchestrator SagaOrchestrator
	availability     AvailabilityClient
}

// NewOrderUseCase cria uma nova instância de OrderUseCase
func NewOrderUseCase(
	repository Repository,
	sagaOrchestrator SagaOrchestrator,
	availability AvailabilityClient,
) *OrderUseCase {
	return &OrderUseCase{
		repository:       repository,
		sagaOrchestrator: sagaOrchestrator,
		availability:     availability,
	}
}

// CreateRentalOrder faz a prévia de disponibilidade e, se todos os itens passarem,
// dispara a SAGA que grava o pedido e reserva os itens
func (uc *OrderUseCase) CreateRentalOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	start, end, err := ItemsWindow(req.Items)
	if err != nil {
		return nil, err
	}

	// 1. Prévia: recusa cedo, sem abrir SAGA
	decisions, err := uc.preview(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	if rejected(decisions) {
		return nil, &RejectionError{Decisions: decisions}
	}

	orderID := uuid.New().String()
	order := NewRentalOrder(orderID, orderNumber(orderID), req.CustomerID, start, end)

	// 2. SAGA: cabeçalho do pedido + reserva travada no serviço de disponibilidade
	gid, err := uc.sagaOrchestrator.CreateOrderSaga(ctx, order, req.Items)
	if errors.Is(err, ErrReservationRejected) {
		// A prévia passou mas a reserva perdeu a corrida (ou itens irmãos competem entre si)
		log.WithFields(log.Fields{"order_id": orderID, "gid": gid}).Info("ℹ️ [CREATE ORDER] reservation rejected after preview")
		again, previewErr := uc.preview(ctx, req.Items)
		if previewErr != nil {
			again = nil
		}
		return nil, &RejectionError{OrderID: orderID, Decisions: again}
	}
	if err != nil {
		if recordErr := uc.CreateFailedOrder(ctx, order); recordErr != nil {
			log.WithFields(log.Fields{"order_id": orderID, "gid": gid}).
				WithError(recordErr).Error("❌ [CREATE ORDER] could not record failed order")
		}
		return nil, fmt.Errorf("registering failed order to recover saga failure: %w", err)
	}

	return &CreateOrderResult{
		OrderID:     orderID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		SagaGID:     gid,
		Decisions:   decisions,
	}, nil
}

// CreateFailedOrder registra o pedido como cancelado quando a SAGA nem chegou a gravá-lo
func (uc *OrderUseCase) CreateFailedOrder(ctx context.Context, order *RentalOrder) error {
	exists, err := uc.repository.OrderExists(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("registering failed order: %w", err)
	}
	if exists {
		return nil
	}

	failed := *order
	if err := failed.Cancel(); err != nil {
		return fmt.Errorf("registering failed order: %w", err)
	}

	if err := uc.repository.CreateOrder(ctx, &failed); err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// CreateOrder é a ação SAGA que grava o cabeçalho do pedido como PENDING
func (uc *OrderUseCase) CreateOrder(ctx context.Context, req SagaActionRequest) error {
	log.Printf("➡️ [CREATE ORDER] OrderID: %s", req.OrderID)

	start, end, err := ItemsWindow(req.Items)
	if err != nil {
		return err
	}

	number := req.OrderNumber
	if number == "" {
		number = orderNumber(req.OrderID)
	}

	order := NewRentalOrder(req.OrderID, number, req.CustomerID, start, end)
	if err := uc.repository.CreateOrder(ctx, order); err != nil {
		log.Printf("❌ Failed to create order: %v", err)
		return fmt.Errorf("failed to create order: %w", err)
	}

	log.Printf("✅ Order created: %s", req.OrderID)
	return nil
}

// CancelOrder marca o pedido como cancelado (compensação). Idempotente.
func (uc *OrderUseCase) CancelOrder(ctx context.Context, req SagaActionRequest) error {
	log.Printf("↩️ [COMPENSATE ORDER] OrderID: %s", req.OrderID)

	updated, err := uc.repository.UpdateStatus(ctx, req.OrderID, OrderStatusPending, OrderStatusCancelled)
	if err != nil {
		log.Printf("❌ Failed to compensate order: %v", err)
		return fmt.Errorf("failed to compensate order: %w", err)
	}
	if !updated {
		log.Printf("ℹ️  [IDEMPOTENCY] order %s not pending, nothing to compensate", req.OrderID)
		return nil
	}

	log.Printf("♻️  Order compensated (cancelled): %s", req.OrderID)
	return nil
}

// ChangeStatus aplica uma transição de status. PENDING -> CONFIRMED é a escrita que passa a
// consumir estoque, então é feita pelo serviço de disponibilidade numa transação com os
// produtos travados; as demais transições só usam a guarda otimista de status.
func (uc *OrderUseCase) ChangeStatus(ctx context.Context, orderID string, next OrderStatus) (*RentalOrder, error) {
	order, err := uc.repository.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	current := order.Status
	if err := order.TransitionTo(next); err != nil {
		return nil, err
	}

	if next == OrderStatusConfirmed {
		result, err := uc.availability.ConfirmOrder(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("failed to confirm order %s: %w", orderID, err)
		}
		if !result.Admitted {
			log.WithFields(log.Fields{"order_id": orderID}).Info("ℹ️ [CONFIRM] capacity no longer available")
			return nil, &RejectionError{OrderID: orderID, Decisions: result.Decisions}
		}

		log.Printf("🔁 [STATUS] OrderID=%s %s -> %s", orderID, current, next)
		return order, nil
	}

	updated, err := uc.repository.UpdateStatus(ctx, orderID, current, next)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, fmt.Errorf("%w: order %s changed concurrently", ErrInvalidTransition, orderID)
	}

	log.Printf("🔁 [STATUS] OrderID=%s %s -> %s", orderID, current, next)
	return order, nil
}

// GetOrder busca um pedido pelo ID
func (uc *OrderUseCase) GetOrder(ctx context.Context, orderID string) (*RentalOrder, error) {
	return uc.repository.GetOrder(ctx, orderID)
}

func (uc *OrderUseCase) preview(ctx context.Context, items []ItemInput) ([]Decision, error) {
	decisions := make([]Decision, 0, len(items))
	for _, it := range items {
		d, err := uc.availability.Evaluate(ctx, it, "")
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, *d)
	}
	return decisions, nil
}

func rejected(decisions []Decision) bool {
	for _, d := range decisions {
		if !d.Admit {
			return true
		}
	}
	return false
}

func orderNumber(orderID string) string {
	compact := strings.ReplaceAll(orderID, "-", "")
	if len(compact) > 10 {
		compact = compact[:10]
	}
	return "RO-" + strings.ToUpper(compact)
}
