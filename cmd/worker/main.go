// Command worker runs queued scope refreshes from Redis.
//
// It shares the SQLite database with the server, so it must run on the same
// host (or the same volume). Concurrency is 1: one writer at a time.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/warp/rates-engine/config"
	"github.com/warp/rates-engine/jobs"
	"github.com/warp/rates-engine/rates"
	"github.com/warp/rates-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	if cfg.RedisURL == "" {
		log.Fatal("RATES_REDIS_URL is required")
	}

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()
	log.Println("Worker connected to database.")

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Queues: map[string]int{
				jobs.Queue: 1,
			},
			Concurrency: 1,
		},
	)

	importer := rates.NewImporter(store, rates.Options{
		DetectMismatches: cfg.DetectMismatches,
		Atomic:           cfg.AtomicImport,
	})
	processor := jobs.NewProcessor(store, importer, nil)

	mux := asynq.NewServeMux()
	processor.Register(mux)

	log.Println("Starting Asynq worker server...")
	if err := srv.Start(mux); err != nil {
		log.Fatalf("Could not run Asynq worker server: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received, shutting down gracefully...")
	srv.Shutdown()
	log.Println("Worker process shut down complete.")
}
