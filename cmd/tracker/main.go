package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/nest-haus/konfigurator-tracking/docs" // Swagger docs
	"github.com/nest-haus/konfigurator-tracking/internal/analytics"
	"github.com/nest-haus/konfigurator-tracking/internal/config"
	"github.com/nest-haus/konfigurator-tracking/internal/database/migrate"
	"github.com/nest-haus/konfigurator-tracking/internal/health"
	"github.com/nest-haus/konfigurator-tracking/internal/live"
	"github.com/nest-haus/konfigurator-tracking/internal/sweeper"
	"github.com/nest-haus/konfigurator-tracking/internal/tracking"
)

// @title Konfigurator Tracking API
// @version 1.0
// @description Behavior tracking and funnel analytics for the modular housing configurator
// @BasePath /
func main() {
	log.Printf("[INFO] Starting tracking server...")

	if err := godotenv.Load(); err != nil {
		log.Printf("[INFO] No .env file found, using environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[FATAL] Failed to load configuration: %v", err)
	}
	log.Printf("[INFO] Configuration loaded: http_port=%s redis_addr=%s snapshot_ttl=%s",
		cfg.HTTPPort, cfg.RedisAddr, cfg.SnapshotTTL)

	repository, err := tracking.NewPostgresRepositoryFromDSN(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("[FATAL] Failed to connect to PostgreSQL: %v", err)
	}
	defer repository.Close()

	if err := migrate.Run(repository.DB()); err != nil {
		log.Fatalf("[FATAL] Failed to apply migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		// The cache is disposable; ingestion degrades instead of failing
		log.Printf("[WARN] Redis unreachable, running degraded: %v", err)
	}
	pingCancel()

	cache := tracking.NewRedisStore(redisClient, cfg.SnapshotTTL)
	timeouts := tracking.StoreTimeouts{
		Cache: cfg.CacheOpTimeout,
		DB:    cfg.DBOpTimeout,
	}

	hub := live.NewHub()
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)

	complete := tracking.RequireCategories(tracking.MandatoryCategories...)

	manager := tracking.NewManager(cache, repository, timeouts)
	ingestor := tracking.NewIngestor(cache, repository, hub, timeouts)
	finalizer := tracking.NewFinalizer(cache, repository, timeouts)
	analyzer := analytics.NewAnalyzer(repository.DB())

	sweep := sweeper.New(repository, finalizer, cfg.SessionIdleTimeout, cfg.SweepBatchSize)
	if err := sweep.Start(cfg.SweepSchedule); err != nil {
		log.Fatalf("[FATAL] Failed to schedule sweeper: %v", err)
	}

	router := mux.NewRouter()

	trackingHandler := tracking.NewHTTPHandler(manager, ingestor, finalizer, complete)
	trackingHandler.RegisterRoutes(router)

	analyticsHandler := analytics.NewHTTPHandler(analyzer)
	analyticsHandler.RegisterRoutes(router)

	router.HandleFunc("/ws/admin", hub.HandleWebSocket)
	router.Handle("/healthz", health.NewHandler(repository.DB(), redisClient)).Methods("GET")
	router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	address := fmt.Sprintf(":%s", cfg.HTTPPort)
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		log.Printf("[INFO] HTTP server listening on %s", address)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrChan:
		log.Printf("[ERROR] Server error: %v", err)

	case sig := <-shutdownChan:
		log.Printf("[INFO] Received signal %v, starting graceful shutdown...", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] Graceful shutdown failed: %v", err)
		}

		hubCancel()
		sweep.Stop()

		log.Printf("[INFO] Graceful shutdown completed")
	}

	log.Printf("[INFO] Server stopped")
}
