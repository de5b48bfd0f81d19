package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/joho/godotenv"
	"github.com/sakashimaa/retail-saga/pkg/config"
	"github.com/sakashimaa/retail-saga/pkg/metrics"
	"github.com/sakashimaa/retail-saga/pkg/utils"
	"github.com/sakashimaa/retail-saga/services/gateway/internal/pkg/client"
	"github.com/sakashimaa/retail-saga/services/gateway/internal/transport/http"
	"github.com/sakashimaa/retail-saga/services/gateway/middleware"
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
	if cfg.JWT.Secret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(config.LoggerConfig{
		Level:   cfg.LogLevel,
		Env:     cfg.Env,
		Service: "gateway-service",
	})
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tp, err := utils.InitTracer(ctx, utils.TracerConfig{
		ServiceName: "gateway-service",
		Endpoint:    cfg.Tracing.Endpoint,
		Env:         cfg.Env,
	})
	if err != nil {
		logger.Fatal("Failed to init trace", zap.Error(err))
	}

	reg := metrics.NewRegistry()
	httpMetrics := metrics.NewHTTP(reg, "gateway")

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTP.Timeout,
		WriteTimeout: cfg.HTTP.Timeout,
	})

	app.Use(otelfiber.Middleware())
	app.Use(middleware.NewCorrelationMiddleware())
	app.Use(httpMetrics.Middleware())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("Gateway is alive!")
	})
	app.Get("/metrics", metrics.FiberHandler(reg))

	app.Use(limiter.New(limiter.Config{
		Max:        cfg.Limiter.Max,
		Expiration: cfg.Limiter.Expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Try again later.",
			})
		},
	}))

	http.RegisterRoutes(app, &http.Upstreams{
		Product: client.NewUpstream("product-service", cfg.Services.ProductURL, 10*time.Second, logger),
		Order:   client.NewUpstream("order-service", cfg.Services.OrderURL, 10*time.Second, logger),
	}, middleware.AuthConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	})

	logger.Info("Gateway service started!")

	go func() {
		logger.Info("HTTP gateway listening", zap.String("port", cfg.HTTP.Port))
		if err := app.Listen(cfg.HTTP.Port); err != nil {
			logger.Fatal("Error listening HTTP", zap.String("port", cfg.HTTP.Port), zap.Error(err))
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Error shutting down HTTP app", zap.Error(err))
	} else {
		logger.Info("HTTP App stopped gracefully")
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error stopping telemetry", zap.Error(err))
	}
}
