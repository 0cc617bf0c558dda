package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/playrivals/backend/internal/api"
	"github.com/playrivals/backend/internal/challenge"
	"github.com/playrivals/backend/internal/config"
	"github.com/playrivals/backend/internal/database"
	"github.com/playrivals/backend/internal/migrations"
	"github.com/playrivals/backend/internal/redis"
	"github.com/playrivals/backend/internal/store"
	"github.com/playrivals/backend/internal/ws"
	goredis "github.com/redis/go-redis/v9"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations on start if requested
	if os.Getenv("MIGRATE_ON_START") == "true" {
		log.Println("↗ Running DB migrations on startup...")
		if err := migrations.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	// Initialize Redis if configured; the server runs fine without it
	var rdb *goredis.Client
	if cfg.RedisURL != "" {
		rdb, err = redis.Connect(cfg.RedisURL)
		if err != nil {
			log.Printf("[REDIS] Connection failed, continuing without Redis: %v", err)
			rdb = nil
		} else {
			defer rdb.Close()
		}
	} else {
		log.Println("[REDIS] REDIS_URL not set; presence mirror and event publishing disabled")
	}

	// Build the challenge plane
	st := store.New(db)
	cache := challenge.NewStateCache()
	hub := ws.NewHub(cfg.MaxConnections)
	events := challenge.NewEventPublisher(rdb)
	engine := challenge.NewEngine(st, cache, hub, events, time.Duration(cfg.ChallengeTTLHours)*time.Hour)

	// Warm the nomination cache before accepting traffic; the victory gate
	// is only correct with this state loaded.
	warmCtx, cancelWarm := context.WithTimeout(context.Background(), 30*time.Second)
	warmed, err := engine.WarmCache(warmCtx)
	cancelWarm()
	if err != nil {
		log.Fatalf("Failed to warm nomination cache: %v", err)
	}
	log.Printf("[CACHE] Warmed %d winner selection(s)", warmed)

	// Wire the WebSocket plane
	ws.SetRedisClient(rdb)
	frameRouter := ws.NewRouter(engine, hub)
	hub.SetMessageHandler(frameRouter)
	go hub.Run()

	// Janitor: stale start handshakes + overdue PENDING challenges
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	janitor := challenge.NewJanitor(engine,
		time.Duration(cfg.JanitorIntervalSeconds)*time.Second,
		time.Duration(cfg.StartStaleMinutes)*time.Minute)
	janitor.Start(janitorCtx)

	// Set up Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Initialize API handlers
	api.SetupRoutes(router, db, st, engine, hub, cfg)

	// Start server
	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Signal handlers are installed before the listener opens
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting PlayRivals server on port %s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Block until asked to stop, then drain: stop accepting first, stop the
	// janitor, close every socket; the deferred db/redis closes run last.
	<-quit
	log.Println("Shutting down...")

	// Closes the listener right away; open websockets are hijacked and not
	// waited on, so this only drains plain HTTP requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	stopJanitor()
	hub.Shutdown()

	log.Println("Server stopped")
}
