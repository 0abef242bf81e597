package main

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrReservationRejected = errors.New("reservation rejected")
	ErrInvalidItems        = errors.New("invalid order items")
	ErrUnknownStatus       = errors.New("unknown order status")
)

const dateLayout = "2006-01-02"

// OrderStatus representa os possíveis status de um pedido de locação
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusInTransit OrderStatus = "IN_TRANSIT"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusReturned  OrderStatus = "RETURNED"
)

var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusInTransit, OrderStatusCancelled},
	OrderStatusInTransit: {OrderStatusDelivered},
	OrderStatusDelivered: {OrderStatusCompleted, OrderStatusReturned},
}

// ParseOrderStatus aceita o status em qualquer caixa
func ParseOrderStatus(raw string) (OrderStatus, error) {
	s := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusInTransit, OrderStatusDelivered,
		OrderStatusCompleted, OrderStatusCancelled, OrderStatusReturned:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
}

// CanTransitionTo informa se a máquina de estados permite ir de s para next
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// RentalOrder representa um pedido de locação no sistema
type RentalOrder struct {
	ID          string            `json:"id" db:"id"`
	OrderNumber string            `json:"order_number" db:"order_number"`
	CustomerID  string            `json:"customer_id" db:"customer_id"`
	Status      OrderStatus       `json:"status" db:"status"`
	StartDate   time.Time         `json:"start_date" db:"start_date"`
	EndDate     time.Time         `json:"end_date" db:"end_date"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
	Items       []RentalOrderItem `json:"items,omitempty" db:"-"`
}

// RentalOrderItem é uma linha gravada pelo serviço de disponibilidade
type RentalOrderItem struct {
	ID        string    `json:"id" db:"id"`
	ProductID string    `json:"product_id" db:"product_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
	StartDate time.Time `json:"start_date" db:"start_date"`
	EndDate   time.Time `json:"end_date" db:"end_date"`
}

// ItemInput é um item pedido pelo cliente, com datas YYYY-MM-DD
type ItemInput struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
	StartDate string `json:"start_date" binding:"required"`
	EndDate   string `json:"end_date" binding:"required"`
}

// NewRentalOrder cria uma nova instância de RentalOrder
func NewRentalOrder(id, orderNumber, customerID string, startDate, endDate time.Time) *RentalOrder {
	now := time.Now()
	return &RentalOrder{
		ID:          id,
		OrderNumber: orderNumber,
		CustomerID:  customerID,
		Status:      OrderStatusPending,
		StartDate:   startDate,
		EndDate:     endDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TransitionTo aplica a transição de status se a máquina de estados permitir
func (o *RentalOrder) TransitionTo(next OrderStatus) error {
	if !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = time.Now()
	return nil
}

// Cancel marca um pedido pendente como cancelado (pedido que a SAGA não conseguiu reservar)
func (o *RentalOrder) Cancel() error {
	if o.Status != OrderStatusPending {
		return errors.New("only pending orders can be cancelled by the saga")
	}
	o.Status = OrderStatusCancelled
	return nil
}

// ItemsWindow valida os itens e devolve a menor data de início e a maior de fim
func ItemsWindow(items []ItemInput) (time.Time, time.Time, error) {
	if len(items) == 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: at least one item is required", ErrInvalidItems)
	}

	var start, end time.Time
	for i, it := range items {
		s, err := time.Parse(dateLayout, it.StartDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: item %d start_date %q", ErrInvalidItems, i, it.StartDate)
		}
		e, err := time.Parse(dateLayout, it.EndDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: item %d end_date %q", ErrInvalidItems, i, it.EndDate)
		}
		if s.After(e) {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: item %d starts after it ends", ErrInvalidItems, i)
		}
		if it.Quantity <= 0 {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: item %d quantity must be positive", ErrInvalidItems, i)
		}
		if start.IsZero() || s.Before(start) {
			start = s
		}
		if e.After(end) {
			end = e
		}
	}
	return start, end, nil
}

// Decision espelha a decisão devolvida pelo serviço de disponibilidade
type Decision struct {
	ProductID      string `json:"product_id"`
	Admit          bool   `json:"admit"`
	TotalStock     int    `json:"total_stock"`
	Reserved       int    `json:"reserved"`
	AvailableStock int    `json:"available_stock"`
	Requested      int    `json:"requested"`
	Deficit        int    `json:"deficit"`
	DaysUntilStart int    `json:"days_until_start"`
	LeadTimeGrant  bool   `json:"lead_time_grant,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Message        string `json:"message,omitempty"`
}

// CheckResult é a reavaliação de todos os itens de um pedido
type CheckResult struct {
	OrderID   string     `json:"order_id"`
	Admitted  bool       `json:"admitted"`
	Decisions []Decision `json:"decisions"`
}

// RejectionError carrega os motivos estruturados de uma recusa
type RejectionError struct {
	OrderID   string
	Decisions []Decision
}

func (e *RejectionError) Error() string {
	var reasons []string
	for _, d := range e.Decisions {
		if d.Admit {
			continue
		}
		if d.Message != "" {
			reasons = append(reasons, d.Message)
		} else {
			reasons = append(reasons, fmt.Sprintf("%s: %s", d.ProductID, d.Reason))
		}
	}
	if len(reasons) == 0 {
		return ErrReservationRejected.Error()
	}
	return fmt.Sprintf("%s: %s", ErrReservationRejected, strings.Join(reasons, "; "))
}

func (e *RejectionError) Unwrap() error {
	return ErrReservationRejected
}

// Rejected devolve só as decisões recusadas
func (e *RejectionError) Rejected() []Decision {
	out := make([]Decision, 0, len(e.Decisions))
	for _, d := range e.Decisions {
		if !d.Admit {
			out = append(out, d)
		}
	}
	return out
}
