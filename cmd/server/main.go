/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the rates engine HTTP server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Initialize SQLite store
  3. Create importer and API handler
  4. Optionally connect the asynq client for background refreshes
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS (override environment):
  -port        HTTP server port (RATES_HTTP_PORT, default 8080)
  -db          SQLite database path (RATES_DB_PATH, default rates.db)
               Use ":memory:" for in-memory database
  -upload-dir  Where ?async=true extracts are stored for the worker

ENVIRONMENT:
  RATES_ADMIN_TOKEN        Bearer token for mutating routes
  RATES_REDIS_URL          Enables ?async=true imports
  RATES_DETECT_MISMATCHES  Report stored/incoming total drift
  RATES_ATOMIC_IMPORT      Run imports inside one transaction

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment variables
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/warp/rates-engine/api"
	"github.com/warp/rates-engine/config"
	"github.com/warp/rates-engine/rates"
	"github.com/warp/rates-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags
	port := flag.Int("port", cfg.HTTPPort, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	uploadDir := flag.String("upload-dir", os.TempDir(), "Directory for queued extracts")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	importer := rates.NewImporter(store, rates.Options{
		DetectMismatches: cfg.DetectMismatches,
		Atomic:           cfg.AtomicImport,
	})

	// Initialize handler
	handler := api.NewHandler(store, importer)
	handler.AdminToken = cfg.AdminToken
	if cfg.AdminToken == "" {
		log.Println("Warning: RATES_ADMIN_TOKEN not set, mutating routes are open")
	}

	if cfg.RedisURL != "" {
		redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		client := asynq.NewClient(redisOpt)
		defer client.Close()
		handler.Queue = client
		handler.UploadDir = *uploadDir
		log.Printf("Background refreshes enabled, extracts stored in %s", *uploadDir)
	}

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  5 * time.Minute, // large extracts
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
