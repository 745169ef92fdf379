package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadpulse/internal/cache"
	"leadpulse/internal/config"
	"leadpulse/internal/crypto"
	"leadpulse/internal/database"
	"leadpulse/internal/handlers"
	"leadpulse/internal/jobs"
	"leadpulse/internal/logging"
	"leadpulse/internal/middleware"
	"leadpulse/internal/services"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting LeadPulse Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s)", cfg.Port)

	// MongoDB is the system of record and required.
	if cfg.MongoURI == "" {
		log.Fatal("❌ MONGODB_URI environment variable is required")
	}
	log.Println("🔗 Connecting to MongoDB...")
	mongoDB, err := database.NewMongoDB(cfg.MongoURI)
	if err != nil {
		log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
	}
	defer mongoDB.Close(context.Background())

	if err := mongoDB.Initialize(context.Background()); err != nil {
		log.Fatalf("❌ Failed to initialize MongoDB indexes: %v", err)
	}
	log.Println("✅ MongoDB connected and initialized")

	// Cache backend selection: REST wins over Redis, otherwise degraded
	// no-op mode. The server always starts.
	backend, err := cache.NewBackend(cache.BackendConfig{
		RedisURL:  cfg.RedisURL,
		RESTURL:   cfg.CacheRESTURL,
		RESTToken: cfg.CacheRESTToken,
	})
	if err != nil {
		log.Printf("⚠️  Cache backend unavailable, continuing without caching: %v", err)
		backend, _ = cache.NewBackend(cache.BackendConfig{})
	}
	cacheClient := cache.NewClient(backend)
	defer cacheClient.Close()
	tagIndex := cache.NewTagIndex(cacheClient)

	// Prometheus metrics wired into the cache tiers and the scheduler.
	metrics := services.InitMetrics()
	cacheClient.SetMetrics(metrics)
	tagIndex.SetMetrics(metrics)
	log.Println("✅ Prometheus metrics initialized")

	// Token encryption at rest.
	var encryptionService *crypto.EncryptionService
	if cfg.EncryptionMasterKey != "" {
		encryptionService, err = crypto.NewEncryptionService(cfg.EncryptionMasterKey)
		if err != nil {
			log.Fatalf("❌ Failed to initialize encryption: %v", err)
		}
		log.Println("✅ Encryption service initialized")
	} else {
		if os.Getenv("ENVIRONMENT") == "production" {
			log.Fatal("❌ ENCRYPTION_MASTER_KEY is required in production. Generate with: openssl rand -hex 32")
		}
		log.Println("⚠️  ENCRYPTION_MASTER_KEY not set - token refresh disabled (development mode only)")
	}

	// Services
	queryCache := database.NewQueryCache(database.NewMongoFinder(mongoDB), cacheClient)
	productCache := services.NewProductCacheService()
	templateCache := services.NewTemplateCacheService()
	aiCache := cache.NewAICache(cacheClient, cfg.AICacheTTL)
	scoringService := services.NewScoringService(cfg, aiCache)
	scoringService.SetMetrics(metrics)
	analyticsService := services.NewAnalyticsService(mongoDB)
	archiveService := services.NewArchiveService(mongoDB)
	warmingService := services.NewWarmingService(cacheClient, tagIndex, mongoDB)

	var tokenService *services.TokenService
	if encryptionService != nil {
		tokenService = services.NewTokenService(mongoDB, encryptionService)
		log.Println("✅ Token service initialized")
	}

	// In-process cache sweeper.
	sweeper, err := services.NewSweeper(productCache, templateCache, 0)
	if err != nil {
		log.Fatalf("❌ Failed to create cache sweeper: %v", err)
	}
	sweeper.Start()
	log.Println("✅ Cache sweeper started")

	// Schedule profile for job registration. Cron changes take effect on the
	// next restart; the file watcher only flushes the in-process caches so
	// stale entries do not outlive a config rollout.
	profile, err := config.LoadScheduleProfile(cfg.SchedulePath)
	if err != nil {
		log.Fatalf("❌ Failed to load schedule profile: %v", err)
	}
	if cfg.LowCostMode {
		log.Println("💤 Low-cost mode enabled, using reduced-frequency schedules")
	}

	configWatcher, err := services.NewConfigWatcher(cfg.SchedulePath, func() {
		productCache.InvalidateAll()
		templateCache.InvalidateAll()
	})
	if err != nil {
		log.Printf("⚠️  Config watcher disabled: %v", err)
	} else {
		defer configWatcher.Close()
	}

	// Background jobs.
	scheduler := jobs.NewScheduler(metrics)
	registerJob(scheduler, profile, cfg, "analytics_aggregation", jobs.NewAnalyticsAggregationJob(analyticsService, tagIndex))
	registerJob(scheduler, profile, cfg, "lead_scoring", jobs.NewLeadScoringJob(mongoDB, scoringService, tagIndex))
	if tokenService != nil {
		registerJob(scheduler, profile, cfg, "token_refresh", jobs.NewTokenRefreshJob(tokenService))
	}
	registerJob(scheduler, profile, cfg, "cache_warming", jobs.NewCacheWarmingJob(warmingService))
	registerJob(scheduler, profile, cfg, "archive", jobs.NewArchiveJob(archiveService))
	scheduler.Start()

	// Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "LeadPulse v1.0",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		BodyLimit:    5 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	prometheus := fiberprometheus.New("leadpulse")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	rateLimitConfig := middleware.LoadRateLimitConfig()
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: Global=%d/min, Public=%d/min, Auth=%d/min",
		rateLimitConfig.GlobalAPIMax, rateLimitConfig.PublicReadMax, rateLimitConfig.AuthenticatedMax)

	allowedOrigins := cfg.AllowedOrigins
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
		log.Println("⚠️  ALLOWED_ORIGINS not set, using development defaults")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowedOrigins != "*",
	}))

	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))
	// Identity must run before any response cache so cache keys carry the
	// caller identity.
	app.Use("/api", middleware.Identity(cfg.JWTSecret))

	// Handlers
	healthHandler := handlers.NewHealthHandler(cacheClient, mongoDB)
	productHandler := handlers.NewProductHandler(mongoDB, productCache, queryCache, tagIndex)
	leadHandler := handlers.NewLeadHandler(mongoDB, tagIndex)
	messageHandler := handlers.NewMessageHandler(mongoDB, templateCache, archiveService, tagIndex)
	templateHandler := handlers.NewTemplateHandler(mongoDB, templateCache)
	analyticsHandler := handlers.NewAnalyticsHandler(analyticsService)
	adminHandler := handlers.NewAdminHandler(scheduler, tagIndex, productCache, templateCache)

	app.Get("/health", healthHandler.Handle)

	api := app.Group("/api")

	// Public, cacheable reads.
	api.Get("/products",
		middleware.PublicReadRateLimiter(rateLimitConfig),
		middleware.ResponseCache(cacheClient, tagIndex, 5*time.Minute, "products"),
		productHandler.List)
	api.Get("/config",
		middleware.PublicReadRateLimiter(rateLimitConfig),
		middleware.ResponseCache(cacheClient, tagIndex, 15*time.Minute, "config"),
		func(c *fiber.Ctx) error {
			return c.JSON(fiber.Map{
				"channels": []string{"whatsapp", "wechat", "email"},
				"features": fiber.Map{"scoring": true, "templates": true},
			})
		})

	// Authenticated routes.
	authed := api.Group("", middleware.RequireAuth(), middleware.AuthenticatedRateLimiter(rateLimitConfig))

	authed.Post("/products", productHandler.Create)

	authed.Get("/leads",
		middleware.ResponseCache(cacheClient, tagIndex, time.Minute, "leads"),
		leadHandler.List)
	authed.Post("/leads", leadHandler.Create)
	authed.Patch("/leads/:id", leadHandler.Update)

	authed.Get("/messages",
		middleware.ResponseCache(cacheClient, tagIndex, time.Minute, "messages"),
		messageHandler.List)
	authed.Post("/messages", messageHandler.Send)
	authed.Post("/messages/:id/restore", messageHandler.Restore)

	authed.Get("/templates", templateHandler.List)
	authed.Post("/templates", templateHandler.Create)
	authed.Put("/templates/:id", templateHandler.Update)
	authed.Post("/templates/:id/render", templateHandler.Render)

	authed.Get("/analytics/daily",
		middleware.ResponseCache(cacheClient, tagIndex, 10*time.Minute, "analytics"),
		analyticsHandler.GetRollups)
	authed.Get("/analytics/export", analyticsHandler.ExportXLSX)

	// Admin routes.
	admin := api.Group("/admin", middleware.RequireAuth(), middleware.RequireAdmin(cfg.AdminUserIDs))
	admin.Get("/jobs", adminHandler.JobStatus)
	admin.Post("/jobs/:name/run", adminHandler.RunJob)
	admin.Get("/cache/stats", adminHandler.CacheStats)
	admin.Post("/cache/invalidate/:tag", adminHandler.InvalidateTag)
	admin.Post("/analytics/aggregate", analyticsHandler.Aggregate)

	log.Printf("🌐 Server starting on port %s", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)
	log.Println("🕐 Background jobs: analytics (daily), scoring (30m), tokens (15m), warming (10m), archive (daily)")

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		scheduler.Stop()

		if err := sweeper.Stop(); err != nil {
			log.Printf("⚠️  Error stopping cache sweeper: %v", err)
		}

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️  Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}

// registerJob wires a job under its profile schedule, honoring low-cost
// mode.
func registerJob(scheduler *jobs.Scheduler, profile *config.ScheduleProfile, cfg *config.Config, name string, job jobs.Job) {
	expr := profile.CronFor(name, cfg.LowCostMode)
	if expr == "" {
		log.Printf("⚠️  No schedule for job %s, skipping registration", name)
		return
	}
	if err := scheduler.Register(name, expr, job); err != nil {
		log.Fatalf("❌ Failed to register job %s: %v", name, err)
	}
}
