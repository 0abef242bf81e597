package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OrderUseCaseInterface define a interface para o use case
type OrderUseCaseInterface interface {
	CreateRentalOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error)
	CreateOrder(ctx context.Context, req SagaActionRequest) error
	CancelOrder(ctx context.Context, req SagaActionRequest) error
	ChangeStatus(ctx context.Context, orderID string, next OrderStatus) (*RentalOrder, error)
	GetOrder(ctx context.Context, orderID string) (*RentalOrder, error)
}

// ChangeStatusRequest é o corpo do PATCH de status
type ChangeStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// OrderHandler contém os handlers HTTP
type OrderHandler struct {
	useCase OrderUseCaseInterface
	tracer  trace.Tracer
}

// NewOrderHandler cria uma nova instância de OrderHandler
func NewOrderHandler(useCase OrderUseCaseInterface, tracer trace.Tracer) *OrderHandler {
	if tracer == nil {
		tracer = otel.Tracer("orders-service")
	}
	return &OrderHandler{
		useCase: useCase,
		tracer:  tracer,
	}
}

// RegisterRoutes registra as rotas no router
func (h *OrderHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)

	// Orchestrator endpoint - initiates SAGA
	r.POST("/api/orders", h.CreateRentalOrder)

	// SAGA action endpoints
	r.POST("/api/orders/create", h.CreateOrder)
	r.POST("/api/orders/compensate", h.CompensateOrder)

	r.GET("/api/orders/:id", h.GetOrder)
	r.PATCH("/api/orders/:id/status", h.ChangeStatus)
}

// CreateRentalOrder valida a disponibilidade e inicia a SAGA de criação do pedido
func (h *OrderHandler) CreateRentalOrder(c *gin.Context) {
	// Span principal que engloba toda a transação SAGA
	ctx, span := h.tracer.Start(c.Request.Context(), "create_rental_order")
	defer span.End()

	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.String("customer_id", req.CustomerID),
		attribute.Int("items", len(req.Items)),
	)

	result, err := h.useCase.CreateRentalOrder(ctx, req)
	if err != nil {
		span.RecordError(err)
		writeError(c, err)
		return
	}

	span.SetAttributes(
		attribute.String("order_id", result.OrderID),
		attribute.String("dtm_gid", result.SagaGID),
	)

	c.JSON(http.StatusCreated, result)
}

// CreateOrder é um endpoint SAGA para criar um pedido
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req SagaActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, span := getOrStartSpanFromPayload(c.Request.Context(), "create_order", req)
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", req.OrderID),
		attribute.String("customer_id", req.CustomerID),
		attribute.Int("items", len(req.Items)),
		attribute.String("trace_id", req.TraceID),
	)

	if err := h.useCase.CreateOrder(ctx, req); err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrInvalidItems) {
			// 409 encerra a SAGA como FAILURE em vez de fazer o DTM repetir
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": "success"})
}

// CompensateOrder compensa a criação do pedido (marca como cancelado)
func (h *OrderHandler) CompensateOrder(c *gin.Context) {
	var req SagaActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, span := getOrStartSpanFromPayload(c.Request.Context(), "compensate_order", req)
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", req.OrderID),
		attribute.String("trace_id", req.TraceID),
	)

	if err := h.useCase.CancelOrder(ctx, req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": "success"})
}

// ChangeStatus aplica uma transição de status no pedido
func (h *OrderHandler) ChangeStatus(c *gin.Context) {
	var req ChangeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	next, err := ParseOrderStatus(req.Status)
	if err != nil {
		writeError(c, err)
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "change_order_status")
	defer span.End()
	span.SetAttributes(
		attribute.String("order_id", c.Param("id")),
		attribute.String("status", string(next)),
	)

	order, err := h.useCase.ChangeStatus(ctx, c.Param("id"), next)
	if err != nil {
		span.RecordError(err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// GetOrder busca um pedido com seus itens
func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.useCase.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// HealthCheck verifica a saúde do serviço
func (h *OrderHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "orders-service",
	})
}

func writeError(c *gin.Context, err error) {
	var rejection *RejectionError
	switch {
	case errors.As(err, &rejection):
		c.JSON(http.StatusConflict, gin.H{
			"error":     rejection.Error(),
			"order_id":  rejection.OrderID,
			"decisions": rejection.Rejected(),
		})
	case errors.Is(err, ErrInvalidItems), errors.Is(err, ErrUnknownStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// getOrStartSpanFromPayload garante que sempre retorna um span filho do tracing atual (ou cria um novo se não houver)
func getOrStartSpanFromPayload(ctx context.Context, operationName string, req SagaActionRequest) (context.Context, trace.Span) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return otel.Tracer("orders-service").Start(ctx, operationName)
	}

	// If we have propagated TraceID and SpanID, reconstruct the trace context
	if req.TraceID != "" && req.SpanID != "" {
		parsedTraceID, _ := trace.TraceIDFromHex(req.TraceID)
		parsedSpanID, _ := trace.SpanIDFromHex(req.SpanID)

		spanContext := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    parsedTraceID,
			SpanID:     parsedSpanID,
			TraceFlags: trace.FlagsSampled,
			Remote:     true,
		})

		ctx = trace.ContextWithSpanContext(ctx, spanContext)
	}

	return otel.Tracer("orders-service").Start(ctx, operationName)
}
