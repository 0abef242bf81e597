package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config reúne as variáveis de ambiente do serviço de disponibilidade
type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	ServiceName string `envconfig:"SERVICE_NAME" default:"availability-service"`

	DatabaseUser     string `envconfig:"DATABASE_USER" default:"root"`
	DatabasePassword string `envconfig:"DATABASE_PASSWORD" default:"pass"`
	DatabaseHost     string `envconfig:"DATABASE_HOST" default:"localhost"`
	DatabasePort     string `envconfig:"DATABASE_PORT" default:"5432"`
	DatabaseName     string `envconfig:"DATABASE_NAME" default:"rental_db"`

	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4318"`

	LeadTimeDays           int      `envconfig:"LEAD_TIME_DAYS" default:"30"`
	HighDeficitThreshold   int      `envconfig:"HIGH_DEFICIT_THRESHOLD" default:"5"`
	MediumDeficitThreshold int      `envconfig:"MEDIUM_DEFICIT_THRESHOLD" default:"2"`
	CountingStatuses       []string `envconfig:"COUNTING_STATUSES" default:"CONFIRMED,IN_TRANSIT,DELIVERED"`
	BusinessTimezone       string   `envconfig:"BUSINESS_TIMEZONE" default:"UTC"`

	// SweepInterval = 0 desliga a varredura periódica
	SweepInterval   time.Duration `envconfig:"SWEEP_INTERVAL" default:"1h"`
	AlertWebhookURL string        `envconfig:"ALERT_WEBHOOK_URL"`
}

// LoadConfig lê a configuração do ambiente
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// PoolDSN é o DSN usado pelo pgxpool
func (c *Config) PoolDSN() string {
	return c.DatabaseURL() + "&pool_max_conns=25&pool_min_conns=5"
}

// DatabaseURL é a URL postgres usada pelo pool e pelas migrações
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DatabaseUser,
		c.DatabasePassword,
		c.DatabaseHost,
		c.DatabasePort,
		c.DatabaseName,
	)
}

// Policy monta a política de negócio a partir da configuração
func (c *Config) Policy() (Policy, error) {
	policy := DefaultPolicy()

	if c.LeadTimeDays < 0 {
		return Policy{}, fmt.Errorf("LEAD_TIME_DAYS must be >= 0, got %d", c.LeadTimeDays)
	}
	if c.MediumDeficitThreshold < 0 || c.HighDeficitThreshold < c.MediumDeficitThreshold {
		return Policy{}, fmt.Errorf("deficit thresholds must satisfy 0 <= medium (%d) <= high (%d)",
			c.MediumDeficitThreshold, c.HighDeficitThreshold)
	}
	policy.LeadTimeDays = c.LeadTimeDays
	policy.HighDeficitThreshold = c.HighDeficitThreshold
	policy.MediumDeficitThreshold = c.MediumDeficitThreshold

	statuses, err := parseStatuses(c.CountingStatuses)
	if err != nil {
		return Policy{}, err
	}
	policy.CountingStatuses = NewStatusSet(statuses...)

	loc, err := time.LoadLocation(c.BusinessTimezone)
	if err != nil {
		return Policy{}, fmt.Errorf("invalid BUSINESS_TIMEZONE %q: %w", c.BusinessTimezone, err)
	}
	policy.Location = loc

	return policy, nil
}

func parseStatuses(raw []string) ([]OrderStatus, error) {
	valid := NewStatusSet(
		OrderStatusPending, OrderStatusConfirmed, OrderStatusInTransit, OrderStatusDelivered,
		OrderStatusCompleted, OrderStatusCancelled, OrderStatusReturned,
	)

	var out []OrderStatus
	for _, s := range raw {
		status := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
		if status == "" {
			continue
		}
		if !valid.Contains(status) {
			return nil, fmt.Errorf("unknown order status in COUNTING_STATUSES: %q", s)
		}
		if status == OrderStatusPending || status == OrderStatusCancelled || status == OrderStatusReturned {
			return nil, fmt.Errorf("status %s can never consume stock", status)
		}
		out = append(out, status)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("COUNTING_STATUSES must not be empty")
	}
	return out, nil
}
