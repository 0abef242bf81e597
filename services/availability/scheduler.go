package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"
)

// AlertPublisher entrega o relatório da varredura a um colaborador externo
type AlertPublisher interface {
	Publish(ctx context.Context, report *SweepReport) error
}

// Sweeper é o contrato da varredura usado pelo agendador e pelos handlers
type Sweeper interface {
	Sweep(ctx context.Context, asOf time.Time) (*SweepReport, error)
}

// WebhookPublisher envia o relatório como JSON para uma URL (dashboard, digest de e-mail, ...)
type WebhookPublisher struct {
	client *resty.Client
	url    string
}

// NewWebhookPublisher cria um publisher com timeout e retry curtos
func NewWebhookPublisher(url string) *WebhookPublisher {
	client := resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("Content-Type", "application/json")

	return &WebhookPublisher{client: client, url: url}
}

func (p *WebhookPublisher) Publish(ctx context.Context, report *SweepReport) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(report).
		Post(p.url)
	if err != nil {
		return fmt.Errorf("failed to post stock alerts: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("stock alerts webhook returned %d", resp.StatusCode())
	}
	return nil
}

// SweepScheduler roda a varredura periodicamente até o contexto ser cancelado
type SweepScheduler struct {
	sweeper   Sweeper
	publisher AlertPublisher
	interval  time.Duration
	now       func() time.Time
}

// NewSweepScheduler cria o agendador; publisher pode ser nil
func NewSweepScheduler(sweeper Sweeper, publisher AlertPublisher, interval time.Duration) *SweepScheduler {
	return &SweepScheduler{
		sweeper:   sweeper,
		publisher: publisher,
		interval:  interval,
		now:       time.Now,
	}
}

// Run executa uma varredura imediata e depois uma a cada intervalo
func (s *SweepScheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		log.Println("ℹ️ [SCHEDULER] periodic sweep disabled")
		return nil
	}

	log.Printf("⏰ [SCHEDULER] deficit sweep every %s", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Println("🛑 [SCHEDULER] stopped")
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce nunca propaga erro: a varredura é consultiva e a próxima rodada tenta de novo
func (s *SweepScheduler) runOnce(ctx context.Context) {
	report, err := s.sweeper.Sweep(ctx, s.now())
	if err != nil {
		log.WithError(err).Error("❌ [SCHEDULER] sweep failed")
		return
	}
	if s.publisher == nil || report.Summary.Total == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, report); err != nil {
		log.WithError(err).Warn("⚠️ [SCHEDULER] failed to publish stock alerts")
	}
}
