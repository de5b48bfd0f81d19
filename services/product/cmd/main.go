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
	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/retail-saga/pkg/config"
	"github.com/sakashimaa/retail-saga/pkg/db"
	"github.com/sakashimaa/retail-saga/pkg/metrics"
	"github.com/sakashimaa/retail-saga/pkg/rabbitmq"
	"github.com/sakashimaa/retail-saga/pkg/utils"
	"github.com/sakashimaa/retail-saga/services/product/internal/dedup"
	"github.com/sakashimaa/retail-saga/services/product/internal/repository"
	"github.com/sakashimaa/retail-saga/services/product/internal/service"
	productHttp "github.com/sakashimaa/retail-saga/services/product/internal/transport/http"
	productRabbit "github.com/sakashimaa/retail-saga/services/product/internal/transport/rabbitmq"
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
		Service: "product-service",
	})
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tp, err := utils.InitTracer(ctx, utils.TracerConfig{
		ServiceName: "product-service",
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

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})

	reg := metrics.NewRegistry()
	sagaMetrics := metrics.NewSaga(reg)
	httpMetrics := metrics.NewHTTP(reg, "product")

	productRepository := repository.NewProductRepository(pool, logger)
	productService := service.NewProductService(productRepository, validator.New(), logger)
	if cfg.Stock.ProductCacheEnabled {
		productService = service.NewCachedProductService(productService, rdb, cfg.Stock.ProductCacheTTL, logger)
	}

	amqpConn, err := rabbitmq.Dial(cfg.RabbitMQ.URL, logger)
	if err != nil {
		logger.Fatal("Error connecting to rabbitmq", zap.Error(err))
	}

	consumerOpts := productRabbit.Options{
		Queue:                cfg.RabbitMQ.StockQueue,
		MissingProductPolicy: cfg.Stock.MissingProductPolicy,
	}
	if cfg.Stock.DedupEnabled {
		consumerOpts.Dedup = dedup.NewStore(rdb, cfg.Stock.DedupTTL)
	}

	consumer := productRabbit.NewStockConsumer(amqpConn, productService, sagaMetrics, logger, consumerOpts)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		consumer.Start(ctx)
	}()

	app := fiber.New()
	app.Use(otelfiber.Middleware())
	app.Use(httpMetrics.Middleware())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("Product Service is alive!")
	})
	app.Get("/metrics", metrics.FiberHandler(reg))

	productHttp.RegisterRoutes(app, productHttp.NewProductHandler(productService, logger))

	go func() {
		logger.Info("HTTP product service listening", zap.String("port", cfg.HTTP.Port))
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
	case <-consumerDone:
	case <-shutdownCtx.Done():
		logger.Warn("stock consumer did not stop in time")
	}

	if err := amqpConn.Close(); err != nil {
		logger.Error("Error closing rabbitmq connection", zap.Error(err))
	}

	if err := rdb.Close(); err != nil {
		logger.Error("Error closing redis client", zap.Error(err))
	}

	pool.Close()

	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error stopping telemetry", zap.Error(err))
	}
}
