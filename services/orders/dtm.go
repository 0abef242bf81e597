package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/dtm-labs/client/dtmcli"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SagaActionRequest é o payload enviado pelo DTM às duas branches da SAGA
type SagaActionRequest struct {
	OrderID     string      `json:"order_id" binding:"required"`
	OrderNumber string      `json:"order_number"`
	CustomerID  string      `json:"customer_id"`
	StartDate   string      `json:"start_date"`
	EndDate     string      `json:"end_date"`
	Items       []ItemInput `json:"items"`
	// Manual trace context propagation (DTM doesn't propagate W3C headers)
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// SagaOrchestrator abstrai as operações SAGA do DTM
type SagaOrchestrator interface {
	CreateOrderSaga(ctx context.Context, order *RentalOrder, items []ItemInput) (string, error)
}

// DTMSagaOrchestrator implementa SagaOrchestrator usando DTM
type DTMSagaOrchestrator struct {
	dtmServer       string
	ordersURL       string
	availabilityURL string
}

// NewDTMSagaOrchestrator cria uma nova instância do orquestrador SAGA
func NewDTMSagaOrchestrator(dtmServer, ordersURL, availabilityURL string) *DTMSagaOrchestrator {
	return &DTMSagaOrchestrator{
		dtmServer:       dtmServer,
		ordersURL:       ordersURL,
		availabilityURL: availabilityURL,
	}
}

// CreateOrderSaga grava o cabeçalho do pedido e reserva os itens numa SAGA.
// WaitResult faz o Submit esperar o desfecho: uma recusa (409) na reserva vira
// FAILURE, o DTM compensa as branches e o erro volta como ErrReservationRejected.
func (so *DTMSagaOrchestrator) CreateOrderSaga(ctx context.Context, order *RentalOrder, items []ItemInput) (gid string, err error) {
	// Extract trace context from the incoming context
	var traceID, spanID string
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		traceID = span.SpanContext().TraceID().String()
		spanID = span.SpanContext().SpanID().String()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dtm server unavailable: %v", r)
		}
	}()
	gid = dtmcli.MustGenGid(so.dtmServer)

	_, span := createDTMSagaSpan(ctx, "create_order", gid)
	defer span.End()

	log.Printf("🚀 Starting SAGA | TraceID: %s | GID: %s | OrderID: %s", traceID, gid, order.ID)

	payload := &SagaActionRequest{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		StartDate:   order.StartDate.Format(dateLayout),
		EndDate:     order.EndDate.Format(dateLayout),
		Items:       items,
		TraceID:     traceID,
		SpanID:      spanID,
	}

	saga := dtmcli.NewSaga(so.dtmServer, gid).
		Add(
			so.ordersURL+"/api/orders/create",
			so.ordersURL+"/api/orders/compensate",
			payload,
		).
		Add(
			so.availabilityURL+"/api/availability/reserve",
			so.availabilityURL+"/api/availability/release",
			payload,
		)
	saga.WaitResult = true

	if err := saga.Submit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "saga failed")
		if strings.Contains(err.Error(), dtmcli.ResultFailure) {
			log.Printf("↩️ SAGA rolled back | GID: %s | OrderID: %s", gid, order.ID)
			return gid, fmt.Errorf("%w: saga %s rolled back", ErrReservationRejected, gid)
		}
		log.Printf("❌ SAGA failed: %v", err)
		return gid, fmt.Errorf("failed to process order: %w", err)
	}

	span.SetAttributes(attribute.String("dtm.result", dtmcli.ResultSuccess))
	log.Printf("✅ SAGA finished successfully - GID: %s, OrderID: %s", gid, order.ID)
	return gid, nil
}

// createDTMSagaSpan cria um span específico para operações SAGA do DTM
func createDTMSagaSpan(ctx context.Context, operationName string, gid string) (context.Context, trace.Span) {
	tracer := otel.Tracer("dtm-saga")
	ctx, span := tracer.Start(ctx, "dtm."+operationName)

	span.SetAttributes(
		attribute.String("dtm.gid", gid),
		attribute.String("dtm.operation", operationName),
		attribute.String("component", "dtm-coordinator"),
	)

	return ctx, span
}
