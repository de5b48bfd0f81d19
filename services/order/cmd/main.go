package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/sakashimaa/retail-saga/pkg/config"
	"github.com/sakashimaa/retail-saga/pkg/db"
	"github.com/sakashimaa/retail-saga/pkg/kafka"
	"github.com/sakashimaa/retail-saga/pkg/metrics"
	outboxRepository "github.com/sakashimaa/retail-saga/pkg/outbox/repository"
	"github.com/sakashimaa/retail-saga/pkg/outbox/worker"
	"github.com/sakashimaa/retail-saga/pkg/rabbitmq"
	"github.com/sakashimaa/retail-saga/pkg/utils"
	"github.com/sakashimaa/retail-saga/services/order/internal/client"
	"github.com/sakashimaa/retail-saga/services/order/internal/publisher"
	"github.com/sakashimaa/retail-saga/services/order/internal/repository"
	"github.com/sakashimaa/retail-saga/services/order/internal/service"
	orderHttp "github.com/sakashimaa/retail-saga/services/order/internal/transport/http"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(config.LoggerConfig{
		Level:   cfg.LogLevel,
		Env:     cfg.Env,
		Service: "order-service",
	})
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tp, err := utils.InitTracer(ctx, utils.TracerConfig{
		ServiceName: "order-service",
		Endpoint:    cfg.Tracing.Endpoint,
		Env:         cfg.Env,
	})
	if err != nil {
		logger.Fatal("Error init tracer", zap.Error(err))
	}

	if cfg.Postgres.MigrationsPath != "" {
		if err := db.Migrate(cfg.Postgres.MigrationsPath, cfg.Postgres.URL); err != nil {
			logger.Fatal("Error running migrations", zap.Error(err))
		}
	}

	pool, err := db.NewPostgresDB(ctx, cfg.Postgres.URL, logger)
	if err != nil {
		logger.Fatal("Error creating new postgres DB", zap.Error(err))
	}
	transactor := db.NewTransactor(pool, logger)

	reg := metrics.NewRegistry()
	sagaMetrics := metrics.NewSaga(reg)
	httpMetrics := metrics.NewHTTP(reg, "order")

	amqpConn, err := rabbitmq.Dial(cfg.RabbitMQ.URL, logger)
	if err != nil {
		logger.Fatal("Error connecting to rabbitmq", zap.Error(err))
	}
	stockPublisher := publisher.NewStockPublisher(amqpConn, cfg.RabbitMQ.StockQueue, logger)

	// order events only flow through the outbox relay, which retries while
	// the brokers are unreachable
	kafkaProducer := kafka.NewLazyProducer(cfg.Kafka.Brokers, logger)

	orderRepo := repository.NewOrderRepository(pool, logger)
	outboxRepo := outboxRepository.NewOutboxRepository()
	stockClient := client.NewStockClient(cfg.Services.StockURL, nil, logger)

	orderService := service.NewOrderService(
		transactor,
		orderRepo,
		outboxRepo,
		stockClient,
		stockPublisher,
		validator.New(),
		sagaMetrics,
		logger,
		service.Options{
			PublishMode:      cfg.Stock.PublishMode,
			StockQueue:       cfg.RabbitMQ.StockQueue,
			OrderEventsTopic: cfg.Kafka.OrderEventsTopic,
		},
	)

	outboxProcessor := worker.NewOutboxProcessor(
		transactor,
		outboxRepo,
		map[string]worker.Publisher{
			cfg.RabbitMQ.StockQueue:    stockPublisher,
			cfg.Kafka.OrderEventsTopic: kafkaProducer,
		},
		logger,
		worker.Options{
			BatchSize: cfg.Outbox.BatchSize,
			Interval:  cfg.Outbox.Interval,
		},
	)

	outboxDone := make(chan struct{})
	go func() {
		defer close(outboxDone)
		outboxProcessor.Start(ctx)
	}()

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTP.Timeout,
		WriteTimeout: cfg.HTTP.Timeout,
	})
	app.Use(otelfiber.Middleware())
	app.Use(httpMetrics.Middleware())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("Order Service is alive!")
	})
	app.Get("/metrics", metrics.FiberHandler(reg))

	orderHttp.RegisterRoutes(app, orderHttp.NewOrderHandler(orderService, logger))

	go func() {
		logger.Info("HTTP order service listening", zap.String("port", cfg.HTTP.Port))
		if err := app.Listen(cfg.HTTP.Port); err != nil {
			logger.Fatal("Error listening HTTP", zap.String("port", cfg.HTTP.Port), zap.Error(err))
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Error shutting down HTTP server", zap.Error(err))
	}

	select {
	case <-outboxDone:
	case <-shutdownCtx.Done():
		logger.Warn("outbox processor did not stop in time")
	}

	if err := kafkaProducer.Close(); err != nil {
		logger.Error("Error closing kafka producer", zap.Error(err))
	}

	if err := amqpConn.Close(); err != nil {
		logger.Error("Error closing rabbitmq connection", zap.Error(err))
	}

	pool.Close()

	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error stopping telemetry", zap.Error(err))
	}
}
