package main

import (
	"errors"
	"time"
)

var (
	ErrInvalidDateRange = errors.New("invalid date range: start date is after end date")
	ErrInvalidQuantity  = errors.New("quantity must be greater than 0")
	ErrProductNotFound  = errors.New("product not found")
	ErrOrderNotFound    = errors.New("order not found")
	ErrOrderClosed      = errors.New("order is closed and cannot reserve stock")
	ErrNoItems          = errors.New("reservation must contain at least one item")
	ErrOrderNotPending  = errors.New("only pending orders can be confirmed")
)

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

// Closed indica se o pedido não aceita mais itens
func (s OrderStatus) Closed() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled || s == OrderStatusReturned
}

// DefaultCountingStatuses são os status cujos itens consomem capacidade de estoque.
// PENDING não é compromisso; CANCELLED/RETURNED liberam a capacidade imediatamente.
var DefaultCountingStatuses = []OrderStatus{
	OrderStatusConfirmed,
	OrderStatusInTransit,
	OrderStatusDelivered,
}

// StatusSet é um conjunto de status de pedido
type StatusSet map[OrderStatus]struct{}

// NewStatusSet cria um StatusSet a partir de uma lista
func NewStatusSet(statuses ...OrderStatus) StatusSet {
	set := make(StatusSet, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return set
}

func (s StatusSet) Contains(status OrderStatus) bool {
	_, ok := s[status]
	return ok
}

// Slice devolve os status em ordem estável (usado nas queries)
func (s StatusSet) Slice() []string {
	out := make([]string, 0, len(s))
	for _, status := range []OrderStatus{
		OrderStatusPending, OrderStatusConfirmed, OrderStatusInTransit, OrderStatusDelivered,
		OrderStatusCompleted, OrderStatusCancelled, OrderStatusReturned,
	} {
		if s.Contains(status) {
			out = append(out, string(status))
		}
	}
	return out
}

// Product representa um item do catálogo de locação.
// AvailableStock é um contador desnormalizado mantido pelo catálogo; o motor nunca o usa.
type Product struct {
	ID             string    `json:"id" db:"id"`
	SKU            string    `json:"sku" db:"sku"`
	Name           string    `json:"name" db:"name"`
	TotalStock     int       `json:"total_stock" db:"total_stock"`
	AvailableStock int       `json:"available_stock" db:"available_stock"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Order representa o cabeçalho de um pedido de locação
type Order struct {
	ID          string      `json:"id" db:"id"`
	OrderNumber string      `json:"order_number" db:"order_number"`
	Status      OrderStatus `json:"status" db:"status"`
	StartDate   time.Time   `json:"start_date" db:"start_date"`
	EndDate     time.Time   `json:"end_date" db:"end_date"`
	Items       []OrderItem `json:"items"`
}

// OrderItem representa uma linha do pedido com sua própria janela de reserva
type OrderItem struct {
	ID        string    `json:"id" db:"id"`
	OrderID   string    `json:"order_id" db:"order_id"`
	ProductID string    `json:"product_id" db:"product_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
	StartDate time.Time `json:"start_date" db:"start_date"`
	EndDate   time.Time `json:"end_date" db:"end_date"`
}

// Window devolve a janela do item
func (i OrderItem) Window() DateRange {
	return DateRange{Start: i.StartDate, End: i.EndDate}
}

// ReservedItem é um item concorrente lido pelo agregador, junto com o status do pedido pai
type ReservedItem struct {
	OrderID     string
	OrderStatus OrderStatus
	Quantity    int
	StartDate   time.Time
	EndDate     time.Time
}

// RejectionReason explica por que uma reserva foi recusada
type RejectionReason string

const (
	ReasonNone              RejectionReason = ""
	ReasonInsufficientStock RejectionReason = "INSUFFICIENT_STOCK"
	ReasonLeadTimeTooShort  RejectionReason = "LEAD_TIME_TOO_SHORT"
)

// Decision é o resultado do avaliador de disponibilidade
type Decision struct {
	ProductID      string          `json:"product_id"`
	Admit          bool            `json:"admit"`
	TotalStock     int             `json:"total_stock"`
	Reserved       int             `json:"reserved"`
	AvailableStock int             `json:"available_stock"`
	Requested      int             `json:"requested"`
	Deficit        int             `json:"deficit"`
	DaysUntilStart int             `json:"days_until_start"`
	LeadTimeGrant  bool            `json:"lead_time_grant,omitempty"`
	Reason         RejectionReason `json:"reason,omitempty"`
	Message        string          `json:"message,omitempty"`
}

// AlertPriority classifica a urgência de um alerta de déficit
type AlertPriority string

const (
	PriorityHigh   AlertPriority = "high"
	PriorityMedium AlertPriority = "medium"
	PriorityLow    AlertPriority = "low"
)

func (p AlertPriority) rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Alert representa um item de pedido futuro sem estoque suficiente
type Alert struct {
	ProductID         string        `json:"product_id"`
	ProductName       string        `json:"product_name"`
	SKU               string        `json:"sku"`
	OrderID           string        `json:"order_id"`
	OrderNumber       string        `json:"order_number"`
	StartDate         time.Time     `json:"start_date"`
	EndDate           time.Time     `json:"end_date"`
	QuantityRequested int           `json:"quantity_requested"`
	AvailableStock    int           `json:"available_stock"`
	Deficit           int           `json:"deficit"`
	Priority          AlertPriority `json:"priority"`
}

// AlertSummary agrega os alertas de uma varredura
type AlertSummary struct {
	Total        int `json:"total"`
	High         int `json:"high"`
	Medium       int `json:"medium"`
	Low          int `json:"low"`
	TotalDeficit int `json:"total_deficit"`
}

// SweepReport é o relatório produzido pela varredura de déficit
type SweepReport struct {
	AsOf          time.Time    `json:"as_of"`
	OrdersScanned int          `json:"orders_scanned"`
	ItemsScanned  int          `json:"items_scanned"`
	Skipped       int          `json:"skipped"`
	Alerts        []Alert      `json:"alerts"`
	Summary       AlertSummary `json:"summary"`
}

// Policy concentra as regras de negócio configuráveis do motor
type Policy struct {
	CountingStatuses       StatusSet
	LeadTimeDays           int
	HighDeficitThreshold   int
	MediumDeficitThreshold int
	Location               *time.Location
}

const (
	DefaultLeadTimeDays           = 30
	DefaultHighDeficitThreshold   = 5
	DefaultMediumDeficitThreshold = 2
)

// DefaultPolicy devolve a política padrão do negócio
func DefaultPolicy() Policy {
	return Policy{
		CountingStatuses:       NewStatusSet(DefaultCountingStatuses...),
		LeadTimeDays:           DefaultLeadTimeDays,
		HighDeficitThreshold:   DefaultHighDeficitThreshold,
		MediumDeficitThreshold: DefaultMediumDeficitThreshold,
		Location:               time.UTC,
	}
}

// Classify devolve a prioridade de um déficit positivo
func (p Policy) Classify(deficit int) AlertPriority {
	switch {
	case deficit > p.HighDeficitThreshold:
		return PriorityHigh
	case deficit > p.MediumDeficitThreshold:
		return PriorityMedium
	default:
		return PriorityLow
	}
}
