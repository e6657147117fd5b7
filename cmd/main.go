package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/mcphost/internal/config"
	"github.com/imyashkale/mcphost/internal/database"
	"github.com/imyashkale/mcphost/internal/handlers"
	"github.com/imyashkale/mcphost/internal/logger"
	"github.com/imyashkale/mcphost/internal/metrics"
	"github.com/imyashkale/mcphost/internal/middleware"
	"github.com/imyashkale/mcphost/internal/repository"
	"github.com/imyashkale/mcphost/internal/router"
	"github.com/imyashkale/mcphost/internal/services"
)

func main() {

	ctx := context.Background()

	// Load application configuration
	cfg := config.New()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log.Println("Configuration loaded successfully")

	// Initialize the persistence store
	dbConfig := database.NewConfig(cfg)
	log.Printf("Initializing %s store", dbConfig.Backend)

	store, err := repository.Open(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	log.Println("Store initialized successfully")

	var opts []services.Option
	var collector *metrics.Collector
	if cfg.MetricsEnabled {
		collector = metrics.NewCollector()
		opts = append(opts, services.WithMetrics(collector))
		log.Println("Metrics collector initialized")
	}

	manager := services.NewMCPManager(store, services.NewManagerConfig(cfg), opts...)

	// Register servers declared in the servers file
	if cfg.ServersFile != "" {
		reqs, err := config.LoadServers(cfg.ServersFile)
		if err != nil {
			log.Fatalf("Failed to load servers file: %v", err)
		}
		registered, err := manager.SyncServers(ctx, reqs)
		if err != nil {
			log.Fatalf("Failed to sync servers file: %v", err)
		}
		log.Printf("Registered %d of %d servers from %s", registered, len(reqs), cfg.ServersFile)
	}

	// Start enabled servers and the health check loop
	if err := manager.Start(ctx); err != nil {
		log.Fatalf("Failed to start MCP manager: %v", err)
	}

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(manager)
	mcpHandler := handlers.NewMCPHandler(manager)
	log.Println("Handlers initialized")

	var metricsHandler http.Handler
	if collector != nil {
		metricsHandler = collector.Handler()
	}

	if !strings.EqualFold(cfg.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup router
	r := router.Setup(healthHandler, mcpHandler, middleware.NewAuthConfig(cfg), metricsHandler)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Setup graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Println("Shutting down server gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		log.Println("HTTP server stopped")

		// Stop health checks and all live MCP servers
		manager.Stop()
		log.Println("MCP servers stopped")

		if err := store.Close(); err != nil {
			log.Printf("Failed to close store: %v", err)
		}
	}()

	// Start server
	log.Printf("Starting server on :%s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("Failed to start server:", err)
	}

	<-done
	log.Println("Shutdown complete")
}
