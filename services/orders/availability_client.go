package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// AvailabilityClient consulta o serviço de disponibilidade
type AvailabilityClient interface {
	// Evaluate faz a prévia de um item sem reservar nada
	Evaluate(ctx context.Context, item ItemInput, excludeOrderID string) (*Decision, error)
	// ConfirmOrder leva o pedido de PENDING para CONFIRMED se os itens ainda couberem
	ConfirmOrder(ctx context.Context, orderID string) (*CheckResult, error)
}

// HTTPAvailabilityClient implementa AvailabilityClient via resty
type HTTPAvailabilityClient struct {
	client *resty.Client
}

// NewHTTPAvailabilityClient cria o cliente apontando para baseURL
func NewHTTPAvailabilityClient(baseURL string) *HTTPAvailabilityClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)

	return &HTTPAvailabilityClient{client: client}
}

func (c *HTTPAvailabilityClient) request(ctx context.Context) *resty.Request {
	req := c.client.R().SetContext(ctx)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req
}

func (c *HTTPAvailabilityClient) Evaluate(ctx context.Context, item ItemInput, excludeOrderID string) (*Decision, error) {
	params := map[string]string{
		"product_id": item.ProductID,
		"quantity":   strconv.Itoa(item.Quantity),
		"start_date": item.StartDate,
		"end_date":   item.EndDate,
	}
	if excludeOrderID != "" {
		params["exclude_order_id"] = excludeOrderID
	}

	var decision Decision
	resp, err := c.request(ctx).
		SetQueryParams(params).
		SetResult(&decision).
		Get("/api/availability")
	if err != nil {
		return nil, fmt.Errorf("availability request failed: %w", err)
	}
	if err := statusError(resp); err != nil {
		return nil, err
	}
	return &decision, nil
}

// ConfirmOrder pede a confirmação travada. Uma repetição depois de um sucesso volta como
// ErrInvalidTransition, porque o pedido já não está PENDING.
func (c *HTTPAvailabilityClient) ConfirmOrder(ctx context.Context, orderID string) (*CheckResult, error) {
	var result CheckResult
	resp, err := c.request(ctx).
		SetPathParam("id", orderID).
		SetResult(&result).
		Post("/api/availability/orders/{id}/confirm")
	if err != nil {
		return nil, fmt.Errorf("availability confirm failed: %w", err)
	}

	// 409 traz ou a recusa com as decisões ou um pedido que já não está PENDING
	if resp.StatusCode() == http.StatusConflict {
		var rejected CheckResult
		if err := json.Unmarshal(resp.Body(), &rejected); err == nil && len(rejected.Decisions) > 0 {
			return &rejected, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidTransition, errorMessage(resp))
	}
	if err := statusError(resp); err != nil {
		return nil, err
	}
	return &result, nil
}

// statusError converte respostas de erro do serviço de disponibilidade
func statusError(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}

	switch resp.StatusCode() {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidItems, errorMessage(resp))
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, errorMessage(resp))
	default:
		return fmt.Errorf("availability service returned %d: %s", resp.StatusCode(), errorMessage(resp))
	}
}

func errorMessage(resp *resty.Response) string {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(resp.Body(), &body)
	return body.Error
}
