package main

import (
	"context"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics agrupa os contadores do serviço de disponibilidade
type Metrics struct {
	decisions    metric.Int64Counter
	alerts       metric.Int64Counter
	sweepSkipped metric.Int64Counter
}

// NewMetrics cria os instrumentos a partir do MeterProvider global
func NewMetrics() *Metrics {
	meter := otel.Meter("availability-service")

	decisions, err := meter.Int64Counter("availability_decisions_total",
		metric.WithDescription("Availability decisions by outcome and reason"))
	if err != nil {
		log.Warnf("⚠️ failed to create decisions counter: %v", err)
	}
	alerts, err := meter.Int64Counter("stock_alerts_total",
		metric.WithDescription("Deficit alerts emitted by the sweep, by priority"))
	if err != nil {
		log.Warnf("⚠️ failed to create alerts counter: %v", err)
	}
	skipped, err := meter.Int64Counter("stock_sweep_skipped_items_total",
		metric.WithDescription("Order items the sweep could not evaluate"))
	if err != nil {
		log.Warnf("⚠️ failed to create skipped counter: %v", err)
	}

	return &Metrics{decisions: decisions, alerts: alerts, sweepSkipped: skipped}
}

func (m *Metrics) recordDecision(ctx context.Context, d *Decision) {
	if m == nil || m.decisions == nil {
		return
	}
	outcome := "admitted"
	if !d.Admit {
		outcome = "rejected"
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("reason", string(d.Reason)),
		attribute.Bool("lead_time_grant", d.LeadTimeGrant),
	))
}

func (m *Metrics) recordAlerts(ctx context.Context, summary AlertSummary, skipped int) {
	if m == nil {
		return
	}
	if m.alerts != nil {
		m.alerts.Add(ctx, int64(summary.High), metric.WithAttributes(attribute.String("priority", string(PriorityHigh))))
		m.alerts.Add(ctx, int64(summary.Medium), metric.WithAttributes(attribute.String("priority", string(PriorityMedium))))
		m.alerts.Add(ctx, int64(summary.Low), metric.WithAttributes(attribute.String("priority", string(PriorityLow))))
	}
	if m.sweepSkipped != nil {
		m.sweepSkipped.Add(ctx, int64(skipped))
	}
}
