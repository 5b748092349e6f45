package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stylemate-rest-api/internal/cache"
	"stylemate-rest-api/internal/config"
	"stylemate-rest-api/internal/handler"
	"stylemate-rest-api/internal/inference"
	"stylemate-rest-api/internal/middleware"
	"stylemate-rest-api/internal/moderation"
	"stylemate-rest-api/internal/repository"
	"stylemate-rest-api/internal/router"
	"stylemate-rest-api/internal/service"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting StyleMate API...")

	// Load configuration. A model outside the allowlist fails here, before
	// the server binds.
	cfg := config.MustLoad()
	log.Printf("Environment: %s", cfg.App.Environment)

	// Primary SQLite store: threads, messages, quota ledger, events, wardrobe
	db, err := repository.OpenSQLite(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize SQLite: %v", err)
	}
	defer db.Close()

	threadRepo := repository.NewSQLiteThreadRepository(db)
	eventRepo := repository.NewSQLiteEventRepository(db)
	wardrobeRepo := repository.NewSQLiteWardrobeRepository(db)

	// Plan/entitlement repository: local SQLite or the shared MySQL
	// accounts database
	var planRepo repository.PlanRepository
	switch cfg.PlanDB.Type {
	case "mysql":
		mysqlDB, err := sql.Open("mysql", cfg.PlanDB.DSN())
		if err != nil {
			log.Fatalf("Failed to open MySQL: %v", err)
		}
		mysqlDB.SetMaxOpenConns(10)
		mysqlDB.SetMaxIdleConns(5)
		mysqlDB.SetConnMaxLifetime(5 * time.Minute)
		if err := mysqlDB.Ping(); err != nil {
			log.Fatalf("Failed to ping MySQL: %v", err)
		}
		defer mysqlDB.Close()
		planRepo = repository.NewMySQLPlanRepository(mysqlDB)
		log.Println("MySQL plan repository initialized")
	default: // sqlite
		planRepo = repository.NewSQLitePlanRepository(db)
		log.Println("SQLite plan repository initialized")
	}

	// Redis client (optional): sessions, quota backend, event buffer
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.RedisAddress(),
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis connection failed: %v", err)
		redisClient = nil
	} else {
		log.Println("Redis client initialized")
	}
	cancel()

	// Quota ledger backend
	var quotaRepo repository.QuotaRepository
	switch cfg.Stylist.QuotaBackend {
	case "redis":
		if redisClient == nil {
			log.Fatalf("Quota backend is redis but Redis is unavailable")
		}
		quotaRepo = repository.NewRedisQuotaRepository(redisClient)
		log.Println("Redis quota ledger initialized")
	case "memory":
		quotaRepo = repository.NewMemoryQuotaRepository()
		log.Println("In-memory quota ledger initialized")
	default: // sqlite
		quotaRepo = repository.NewSQLiteQuotaRepository(db)
		log.Println("SQLite quota ledger initialized")
	}

	// Event sink: write-behind through Redis when available, direct
	// appends otherwise
	var eventSink service.EventSink
	var eventBuffer *cache.RedisEventBuffer
	if redisClient != nil {
		eventBuffer = cache.NewRedisEventBuffer(redisClient, cache.RedisEventBufferConfig{
			FlushInterval: 10 * time.Second,
		}, eventRepo.AppendBatch)
		eventSink = eventBuffer
		log.Println("Redis event buffer initialized")
	} else {
		eventSink = service.NewRepoEventSink(eventRepo)
	}

	// Inference client
	inferenceClient, err := inference.New(cfg.Inference)
	if err != nil {
		log.Fatalf("Failed to initialize inference client: %v", err)
	}

	// Services
	planCache := cache.NewMemoryCache()
	defer planCache.Close()
	planService := service.NewPlanService(planRepo, planCache, cfg.Cache.PlanTTL, cfg.Stylist.PaidPlans)

	inflight := service.NewInflightCounter(cfg.Stylist.MaxInflightPerUser)
	admission := service.NewAdmissionController(planService, quotaRepo, inflight)
	assembler := service.NewContextAssembler(wardrobeRepo, cfg.Stylist.ContextItemCap)
	moderator := moderation.NewClient(cfg.Moderation)

	stylistService := service.NewStylistService(
		threadRepo, quotaRepo, admission, assembler, moderator,
		inferenceClient, eventSink,
		cfg.Stylist.HistoryWindow, cfg.Stylist.PendingMaxAge,
	)

	var tokenService *service.TokenService
	if redisClient != nil {
		tokenService = service.NewTokenService(redisClient)
	}

	// Handlers
	healthHandler := handler.New(cfg.App.Version)
	stylistHandler := handler.NewStylistHandler(stylistService)
	wardrobeHandler := handler.NewWardrobeHandler(wardrobeRepo)

	var authHandler *handler.AuthHandler
	if tokenService != nil {
		authHandler = handler.NewAuthHandler(tokenService, cfg.Auth.ServiceKey)
	}

	authMiddleware := middleware.NewAuthMiddleware(middleware.AuthConfig{
		TokenService:   tokenService,
		AllowDevHeader: cfg.App.IsDevelopment(),
	})

	r := router.New(router.Config{
		Handler:         healthHandler,
		AuthHandler:     authHandler,
		StylistHandler:  stylistHandler,
		WardrobeHandler: wardrobeHandler,
		AuthMiddleware:  authMiddleware,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("Server listening on %s", cfg.Server.Address())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel = context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Close the event buffer first (flushes pending events)
	if eventBuffer != nil {
		log.Println("Closing event buffer...")
		eventBuffer.Close()
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
	fmt.Println("Goodbye!")
}
