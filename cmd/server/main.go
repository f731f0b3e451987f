package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"shelfmark/internal/catalog"
	"shelfmark/internal/config"
	"shelfmark/internal/handlers"
	"shelfmark/internal/history"
	"shelfmark/internal/llm"
	"shelfmark/internal/logging"
	"shelfmark/internal/metrics"
	"shelfmark/internal/middleware"
	"shelfmark/internal/pipeline"
	"shelfmark/internal/preflight"
	"shelfmark/internal/store"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting Shelfmark Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}
	log.Printf("📋 Configuration loaded (Port: %s, Store: %s, Model: %s)",
		cfg.Server.Port, cfg.Store.BaseURL, cfg.LLM.Model)

	// Open the processing ledger
	if err := os.MkdirAll(cfg.History.DataDir, 0o755); err != nil {
		log.Fatalf("❌ Failed to create data directory %s: %v", cfg.History.DataDir, err)
	}
	ctx := context.Background()
	ledger, err := history.Open(ctx, filepath.Join(cfg.History.DataDir, "shelfmark.db"))
	if err != nil {
		log.Fatalf("❌ Failed to open processing ledger: %v", err)
	}
	defer ledger.Close()

	// Document store and LLM clients
	storeClient := store.NewClient(cfg.Store)
	llmClient := llm.NewClient(cfg.LLM)

	// Run preflight checks
	checker := preflight.NewChecker(cfg, ledger, storeClient)
	results := checker.RunAll(ctx)

	// Exit if critical checks failed
	if preflight.HasFailures(results) {
		log.Println("\n❌ Pre-flight checks failed. Please fix the issues above before starting the server.")
		os.Exit(1)
	}

	log.Println("✅ All pre-flight checks passed")

	// Initialize Prometheus metrics
	metrics.Init()
	log.Println("✅ Prometheus metrics initialized")

	// Catalog resolver with entity cache
	resolver := catalog.NewResolver(storeClient, cfg.Store.CacheTTL)

	// External system prompt with hot reload
	prompts := pipeline.NewPromptSource(cfg.Analysis.PromptFile)
	defer prompts.Close()

	// Enrichment pipeline
	processor := pipeline.NewProcessor(cfg, storeClient, resolver, llmClient, ledger, prompts)

	queue := pipeline.NewQueue(processor, 0)
	log.Println("✅ Webhook queue initialized")

	scanner, err := pipeline.NewScanner(cfg, storeClient, processor, resolver, ledger)
	if err != nil {
		log.Fatalf("❌ Failed to create scanner: %v", err)
	}
	if err := scanner.Start(); err != nil {
		log.Fatalf("❌ Failed to start scan scheduler: %v", err)
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Shelfmark v1.0",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    1 * 1024 * 1024, // webhook payloads are small
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// CORS configuration with environment-based origins, for the history UI
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		// Default to localhost for development
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
		log.Println("⚠️  ALLOWED_ORIGINS not set, using development defaults")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,X-API-Key",
	}))

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("shelfmark")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	// Rate limiter for the scan trigger (a sweep is expensive)
	scanLimiter := limiter.New(limiter.Config{
		Max:        6,
		Expiration: 1 * time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("⚠️  [RATE-LIMIT] Scan trigger limit reached for %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many scan requests. Please wait before triggering again.",
			})
		},
	})

	// Initialize handlers
	webhookHandler := handlers.NewWebhookHandler(queue)
	scanHandler := handlers.NewScanHandler(scanner)
	healthHandler := handlers.NewHealthHandler(storeClient, queue, scanner, ledger)
	historyHandler := handlers.NewHistoryHandler(ledger)

	// Health check (public)
	app.Get("/health", healthHandler.Check)

	// API routes, guarded by the shared key when one is configured
	api := app.Group("/api", middleware.APIKey(cfg.Server.APIKey))
	{
		api.Post("/webhook", webhookHandler.Handle)
		api.Post("/scan", scanLimiter, scanHandler.Trigger)
		api.Get("/health", healthHandler.Check)
		api.Get("/history", historyHandler.List)
		api.Get("/records/:id", historyHandler.GetRecord)
	}

	log.Printf("🌐 Server starting on http://localhost:%s", cfg.Server.Port)
	log.Printf("📨 Webhook endpoint: http://localhost:%s/api/webhook", cfg.Server.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Server.Port)
	if cfg.Scan.Enabled {
		log.Printf("⏰ Periodic scan enabled (cron: %s)", cfg.Scan.Cron)
	}

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		// Stop the cron scheduler and cancel a running sweep
		if err := scanner.Stop(); err != nil {
			log.Printf("⚠️ Error stopping scanner: %v", err)
		}

		// Stop accepting webhook work
		queue.Close()

		// Shutdown Fiber
		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
