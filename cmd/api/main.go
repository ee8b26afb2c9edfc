package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/brand-assistant/backend/internal/api/handlers"
	"github.com/brand-assistant/backend/internal/app"
	"github.com/brand-assistant/backend/internal/metrics"
	"github.com/brand-assistant/backend/internal/middleware/ratelimit"
	"github.com/brand-assistant/backend/internal/middleware/security"
	"github.com/brand-assistant/backend/internal/middleware/validation"
	"github.com/brand-assistant/backend/pkg/config"
	appLogger "github.com/brand-assistant/backend/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting brand assistant API server")

	metrics.Init()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		appLogger.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer application.Close()

	go application.Run(ctx)

	server := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.Server.RateLimitRPS,
		Burst:             cfg.Server.RateLimitBurst,
		Logger:            appLogger.Named("ratelimit"),
	})
	defer limiter.Stop()

	validationCfg := validation.Config{
		MaxDocumentSize: cfg.Server.BodyLimit,
		Logger:          appLogger.Named("validation"),
	}

	server.Use(recover.New())
	server.Use(logger.New())
	server.Use(security.HeadersMiddleware(security.HeadersConfig{}))
	server.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))

	messageHandler := handlers.NewMessageHandler(application.Engine)
	documentHandler := handlers.NewDocumentHandler(application.Processor, knownBrand(cfg))
	var history handlers.HistoryReader
	if application.Audit != nil {
		history = application.Audit
	}
	sessionHandler := handlers.NewSessionHandler(application.Sessions, history)
	healthHandler := handlers.NewHealthHandler(application)
	wsHandler := handlers.NewWebSocketHandler(application.Engine)

	server.Get("/health", healthHandler.Health)
	server.Get("/ready", healthHandler.Ready)
	server.Get("/metrics", metrics.MetricsHandler())

	api := server.Group("/api/v1", limiter.Middleware(), validation.ContentType(validationCfg))

	api.Post("/messages", validation.Message(validationCfg), messageHandler.HandleMessage)
	api.Post("/brands/:brand/documents", validation.Document(validationCfg), documentHandler.UploadDocument)
	api.Delete("/brands/:brand/sessions/:user", sessionHandler.ResetSession)
	api.Get("/brands/:brand/users/:user/history", sessionHandler.GetHistory)

	server.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	server.Get("/ws/chat", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := server.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := server.ShutdownWithTimeout(30 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	stop()
	appLogger.Info("Server stopped")
}

// knownBrand returns nil when no brands are configured, which accepts any id.
func knownBrand(cfg *config.Config) func(string) bool {
	if len(cfg.Brands) == 0 {
		return nil
	}
	return func(id string) bool {
		_, ok := cfg.Brand(id)
		return ok
	}
}
