package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dtm-labs/client/dtmcli"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var errInvalidPayload = errors.New("invalid payload")

// AvailabilityUseCaseInterface define a interface para o use case
type AvailabilityUseCaseInterface interface {
	Evaluate(ctx context.Context, req EvaluationRequest) (*Decision, error)
	ReserveItems(ctx context.Context, req ReserveRequest) (*ReservationResult, error)
	ReleaseItems(ctx context.Context, orderID string) error
	CheckOrder(ctx context.Context, orderID string) (*ReservationResult, error)
	ConfirmOrder(ctx context.Context, orderID string) (*ReservationResult, error)
}

// EvaluateQuery são os parâmetros da consulta de disponibilidade
type EvaluateQuery struct {
	ProductID      string `form:"product_id" binding:"required"`
	Quantity       int    `form:"quantity" binding:"required,gt=0"`
	StartDate      string `form:"start_date" binding:"required"`
	EndDate        string `form:"end_date" binding:"required"`
	ExcludeOrderID string `form:"exclude_order_id"`
}

// ReserveItemRequest é uma linha do payload de reserva
type ReserveItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
	StartDate string `json:"start_date" binding:"required"`
	EndDate   string `json:"end_date" binding:"required"`
}

// SagaActionRequest representa o payload das ações da SAGA de criação de pedido
type SagaActionRequest struct {
	OrderID string               `json:"order_id" binding:"required"`
	Items   []ReserveItemRequest `json:"items"`
	// Manual trace context propagation (DTM doesn't propagate W3C headers)
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// AvailabilityHandler contém os handlers HTTP de disponibilidade e alertas
type AvailabilityHandler struct {
	useCase  AvailabilityUseCaseInterface
	sweeper  Sweeper
	location *time.Location
	tracer   trace.Tracer
}

// NewAvailabilityHandler cria uma nova instância de AvailabilityHandler
// location é o fuso do negócio usado para ler as_of; nil significa UTC.
func NewAvailabilityHandler(useCase AvailabilityUseCaseInterface, sweeper Sweeper, location *time.Location, tracer trace.Tracer) *AvailabilityHandler {
	if tracer == nil {
		tracer = otel.Tracer("availability-service")
	}
	if location == nil {
		location = time.UTC
	}
	return &AvailabilityHandler{
		useCase:  useCase,
		sweeper:  sweeper,
		location: location,
		tracer:   tracer,
	}
}

// RegisterRoutes registra as rotas no router
func (h *AvailabilityHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)

	r.GET("/api/availability", h.Evaluate)
	r.GET("/api/availability/orders/:id/check", h.CheckOrder)
	r.POST("/api/availability/orders/:id/confirm", h.ConfirmOrder)

	// SAGA action endpoints
	r.POST("/api/availability/reserve", h.Reserve)
	r.POST("/api/availability/release", h.Release)

	r.POST("/api/stock-alerts/sweep", h.Sweep)
}

// Evaluate devolve a decisão de disponibilidade sem persistir nada
func (h *AvailabilityHandler) Evaluate(c *gin.Context) {
	var q EvaluateQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	window, err := ParseDateRange(q.StartDate, q.EndDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	decision, err := h.useCase.Evaluate(c.Request.Context(), EvaluationRequest{
		ProductID:      q.ProductID,
		Quantity:       q.Quantity,
		Window:         window,
		ExcludeOrderID: q.ExcludeOrderID,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, decision)
}

// Reserve é o endpoint da ação SAGA que admite e grava os itens do pedido.
// Recusa e erros permanentes respondem 409, que o DTM trata como FAILURE e compensa;
// qualquer outro status faz o DTM repetir a ação.
func (h *AvailabilityHandler) Reserve(c *gin.Context) {
	var req SagaActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeSagaError(c, fmt.Errorf("%w: %v", errInvalidPayload, err))
		return
	}

	ctx, span := h.getOrStartSpanFromPayload(c.Request.Context(), "reserve_items", req)
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", req.OrderID),
		attribute.Int("items", len(req.Items)),
		attribute.String("trace_id", req.TraceID),
	)

	reserve := ReserveRequest{OrderID: req.OrderID}
	for _, it := range req.Items {
		window, err := ParseDateRange(it.StartDate, it.EndDate)
		if err != nil {
			writeSagaError(c, err)
			return
		}
		reserve.Items = append(reserve.Items, ItemRequest{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Window:    window,
		})
	}

	result, err := h.useCase.ReserveItems(ctx, reserve)
	if err != nil {
		log.Printf("ℹ️ [RESERVE] FAILED for OrderID=%s : %s", req.OrderID, err)
		span.RecordError(err)
		writeSagaError(c, err)
		return
	}

	if !result.Admitted {
		c.JSON(http.StatusConflict, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Release é o endpoint de compensação da SAGA: remove os itens do pedido
func (h *AvailabilityHandler) Release(c *gin.Context) {
	var req SagaActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, span := h.getOrStartSpanFromPayload(c.Request.Context(), "release_items", req)
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", req.OrderID),
		attribute.String("trace_id", req.TraceID),
	)

	if err := h.useCase.ReleaseItems(ctx, req.OrderID); err != nil {
		log.Printf("ℹ️ [RELEASE] FAILED for OrderID=%s : %s", req.OrderID, err)
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to release items"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": "success"})
}

// CheckOrder reavalia os itens de um pedido existente (usado antes de confirmar)
func (h *AvailabilityHandler) CheckOrder(c *gin.Context) {
	result, err := h.useCase.CheckOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ConfirmOrder confirma um pedido PENDING reavaliando os itens sob lock.
// Recusa responde 409 com as decisões.
func (h *AvailabilityHandler) ConfirmOrder(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "confirm_order")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", c.Param("id")))

	result, err := h.useCase.ConfirmOrder(ctx, c.Param("id"))
	if err != nil {
		log.Printf("ℹ️ [CONFIRM] FAILED for OrderID=%s : %s", c.Param("id"), err)
		span.RecordError(err)
		writeError(c, err)
		return
	}

	if !result.Admitted {
		c.JSON(http.StatusConflict, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Sweep executa a varredura de déficit sob demanda; as_of padrão é hoje
func (h *AvailabilityHandler) Sweep(c *gin.Context) {
	asOf := time.Now()
	if raw := c.Query("as_of"); raw != "" {
		parsed, err := ParseAsOf(raw, h.location)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "as_of must be YYYY-MM-DD"})
			return
		}
		asOf = parsed
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "sweep_stock_alerts")
	defer span.End()

	report, err := h.sweeper.Sweep(ctx, asOf)
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, report)
}

// HealthCheck verifica a saúde do serviço
func (h *AvailabilityHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "availability-service",
	})
}

// writeError traduz os erros do domínio em status HTTP
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidDateRange), errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrNoItems):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrOrderClosed), errors.Is(err, ErrOrderNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// writeSagaError responde às ações SAGA. Erros que nunca vão passar numa nova
// tentativa viram FAILURE (409); o resto fica 500 para o DTM repetir.
func writeSagaError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errInvalidPayload),
		errors.Is(err, ErrInvalidDateRange), errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrNoItems),
		errors.Is(err, ErrProductNotFound), errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrOrderClosed):
		c.JSON(http.StatusConflict, gin.H{"dtm_result": dtmcli.ResultFailure, "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// getOrStartSpanFromPayload garante que sempre retorna um span filho do tracing atual (ou cria um novo se não houver)
func (h *AvailabilityHandler) getOrStartSpanFromPayload(ctx context.Context, operationName string, req SagaActionRequest) (context.Context, trace.Span) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return h.tracer.Start(ctx, operationName)
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

	return h.tracer.Start(ctx, operationName)
}
