package main

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config reúne as variáveis de ambiente do serviço de pedidos
type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	ServiceName string `envconfig:"SERVICE_NAME" default:"orders-service"`

	DatabaseUser     string `envconfig:"DATABASE_USER" default:"root"`
	DatabasePassword string `envconfig:"DATABASE_PASSWORD" default:"pass"`
	DatabaseHost     string `envconfig:"DATABASE_HOST" default:"localhost"`
	DatabasePort     string `envconfig:"DATABASE_PORT" default:"5432"`
	DatabaseName     string `envconfig:"DATABASE_NAME" default:"rental_db"`

	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4318"`

	DTMServer              string `envconfig:"DTM_SERVER" default:"http://dtm:36789/api/dtmsvr"`
	ServiceURL             string `envconfig:"SERVICE_URL" default:"http://orders-service:8080"`
	AvailabilityServiceURL string `envconfig:"AVAILABILITY_SERVICE_URL" default:"http://availability-service:8080"`
}

// LoadConfig lê a configuração do ambiente
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// DatabaseDSN é o DSN usado pelo driver lib/pq
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DatabaseUser,
		c.DatabasePassword,
		c.DatabaseHost,
		c.DatabasePort,
		c.DatabaseName,
	)
}
