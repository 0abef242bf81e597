package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// StockAlertUseCase executa a varredura de déficit sobre pedidos futuros.
// É uma leitura consultiva: nunca altera pedidos nem produtos.
type StockAlertUseCase struct {
	availability *AvailabilityUseCase
}

// NewStockAlertUseCase cria uma nova instância de StockAlertUseCase
func NewStockAlertUseCase(availability *AvailabilityUseCase) *StockAlertUseCase {
	return &StockAlertUseCase{availability: availability}
}

// Sweep gera um alerta por item de pedido futuro com déficit > 0.
// asOf é um instante; o dia de referência é o dia dele no fuso do negócio
// (use ParseAsOf para datas vindas do usuário).
// Falhas de um item são registradas e puladas; o relatório parcial sempre é devolvido.
func (uc *StockAlertUseCase) Sweep(ctx context.Context, asOf time.Time) (*SweepReport, error) {
	av := uc.availability
	ctx, span := av.tracer.Start(ctx, "stock_alerts.sweep")
	defer span.End()

	asOf = dateOnly(asOf.In(av.policy.Location))
	span.SetAttributes(attribute.String("as_of", asOf.Format(dateLayout)))

	log.Printf("🔎 [SWEEP] Starting deficit sweep as of %s", asOf.Format(dateLayout))

	orders, err := av.repository.FindFutureOrders(ctx, asOf, av.policy.CountingStatuses)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load future orders: %w", err)
	}

	report := &SweepReport{AsOf: asOf, Alerts: []Alert{}}
	products := make(map[string]*Product)

	for _, order := range orders {
		if !av.policy.CountingStatuses.Contains(order.Status) || dateOnly(order.StartDate).Before(asOf) {
			continue
		}
		report.OrdersScanned++

		for _, item := range order.Items {
			report.ItemsScanned++

			alert, err := uc.evaluateItem(ctx, order, item, products)
			if err != nil {
				report.Skipped++
				log.WithFields(log.Fields{
					"order_id":   order.ID,
					"item_id":    item.ID,
					"product_id": item.ProductID,
				}).WithError(err).Warn("⚠️ [SWEEP] skipping item")
				continue
			}
			if alert != nil {
				report.Alerts = append(report.Alerts, *alert)
			}
		}
	}

	SortAlerts(report.Alerts)
	report.Summary = Summarize(report.Alerts)
	av.metrics.recordAlerts(ctx, report.Summary, report.Skipped)

	span.SetAttributes(
		attribute.Int("orders_scanned", report.OrdersScanned),
		attribute.Int("alerts", report.Summary.Total),
		attribute.Int("skipped", report.Skipped),
	)
	log.Printf("✅ [SWEEP] Done: orders=%d items=%d alerts=%d (high=%d medium=%d low=%d) deficit=%d skipped=%d",
		report.OrdersScanned, report.ItemsScanned, report.Summary.Total,
		report.Summary.High, report.Summary.Medium, report.Summary.Low,
		report.Summary.TotalDeficit, report.Skipped)

	return report, nil
}

// evaluateItem refaz o cálculo reservado/disponível/déficit para o item na sua própria janela.
// O pedido inteiro é excluído do agregado, igual a Evaluate com ExcludeOrderID.
func (uc *StockAlertUseCase) evaluateItem(ctx context.Context, order Order, item OrderItem, products map[string]*Product) (*Alert, error) {
	av := uc.availability

	window, err := NewDateRange(item.StartDate, item.EndDate)
	if err != nil {
		return nil, err
	}
	if item.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	product, ok := products[item.ProductID]
	if !ok {
		product, err = av.repository.GetProduct(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		products[item.ProductID] = product
	}

	reserved, err := av.reservedQuantity(ctx, av.repository, product.ID, window, order.ID, nil)
	if err != nil {
		return nil, err
	}

	available := max(0, product.TotalStock-reserved)
	deficit := max(0, item.Quantity-available)
	if deficit == 0 {
		return nil, nil
	}

	return &Alert{
		ProductID:         product.ID,
		ProductName:       product.Name,
		SKU:               product.SKU,
		OrderID:           order.ID,
		OrderNumber:       order.OrderNumber,
		StartDate:         window.Start,
		EndDate:           window.End,
		QuantityRequested: item.Quantity,
		AvailableStock:    available,
		Deficit:           deficit,
		Priority:          av.policy.Classify(deficit),
	}, nil
}

// SortAlerts ordena por prioridade, depois maior déficit, depois data de início mais próxima
func SortAlerts(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if a.Priority.rank() != b.Priority.rank() {
			return a.Priority.rank() > b.Priority.rank()
		}
		if a.Deficit != b.Deficit {
			return a.Deficit > b.Deficit
		}
		return a.StartDate.Before(b.StartDate)
	})
}

// Summarize totaliza os alertas por prioridade e o déficit total em unidades
func Summarize(alerts []Alert) AlertSummary {
	var s AlertSummary
	for _, a := range alerts {
		s.Total++
		s.TotalDeficit += a.Deficit
		switch a.Priority {
		case PriorityHigh:
			s.High++
		case PriorityMedium:
			s.Medium++
		case PriorityLow:
			s.Low++
		}
	}
	return s
}
