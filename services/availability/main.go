package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	app := &cli.App{
		Name:  "availability",
		Usage: "rental availability engine and stock deficit alerts",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "start the HTTP API and the periodic deficit sweep",
				Action: serve,
			},
			{
				Name:  "sweep",
				Usage: "run the deficit sweep once and print the report as JSON",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "as-of",
						Usage: "sweep date (YYYY-MM-DD), defaults to today",
					},
				},
				Action: sweepOnce,
			},
			{
				Name:   "migrate",
				Usage:  "apply database migrations",
				Action: migrateUp,
			},
		},
		DefaultCommand: "serve",
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatalf("availability stopped with error: %v", err)
	}
}

func serve(c *cli.Context) error {
	ctx := c.Context

	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	// Initialize OpenTelemetry
	tp, err := initTracer(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	mp, err := initMetrics(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			log.Printf("Error shutting down meter: %v", err)
		}
	}()

	// Initialize database
	dbPool, err := initDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbPool.Close()

	// Initialize dependencies
	tracer := tp.Tracer(cfg.ServiceName)
	repository := NewRepository(dbPool)
	availability := NewAvailabilityUseCase(repository, policy, tracer, NewMetrics())
	alerts := NewStockAlertUseCase(availability)
	handler := NewAvailabilityHandler(availability, alerts, policy.Location, tracer)

	var publisher AlertPublisher
	if cfg.AlertWebhookURL != "" {
		publisher = NewWebhookPublisher(cfg.AlertWebhookURL)
	}
	scheduler := NewSweepScheduler(alerts, publisher, cfg.SweepInterval)

	// Setup Gin router
	r := gin.Default()
	r.Use(otelgin.Middleware(cfg.ServiceName))
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("🚀 Availability Service listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func sweepOnce(c *cli.Context) error {
	ctx := c.Context

	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	asOf := time.Now()
	if raw := c.String("as-of"); raw != "" {
		parsed, err := ParseAsOf(raw, policy.Location)
		if err != nil {
			return fmt.Errorf("invalid --as-of %q: %w", raw, err)
		}
		asOf = parsed
	}

	dbPool, err := initDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbPool.Close()

	availability := NewAvailabilityUseCase(NewRepository(dbPool), policy, nil, nil)
	report, err := NewStockAlertUseCase(availability).Sweep(ctx, asOf)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func migrateUp(c *cli.Context) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	return runMigrations(cfg.DatabaseURL())
}

func initDB(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(cfg.PoolDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Configure connection pool
	config.MaxConns = 10
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Wait for database to be ready
	for i := 0; i < 30; i++ {
		if err := pool.Ping(ctx); err == nil {
			log.Println("✅ Connected to rental database with connection pool")
			return pool, nil
		}
		log.Printf("⏳ Waiting for database... (%d/30)", i+1)
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}

	pool.Close()
	return nil, fmt.Errorf("failed to connect to database after 30 attempts")
}

func initTracer(cfg *Config) (*sdktrace.TracerProvider, error) {
	ctx := context.Background()

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	otel.SetTracerProvider(tp)

	return tp, nil
}

func initMetrics(cfg *Config) (*sdkmetric.MeterProvider, error) {
	ctx := context.Background()

	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	return mp, nil
}

func newResource(ctx context.Context, cfg *Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
}
