/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the attendance engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and parse command-line flags
  2. Initialize SQLite store
  3. Create API handler with the engine wired onto it
  4. Start the background maintenance scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port            HTTP server port (default: 8080, env PORT)
  -db              SQLite database path (default: attendance.db, env DATABASE_PATH)
                   Use ":memory:" for an in-memory database
  -sweep-interval  Maintenance pass interval (default: 1h, env SWEEP_INTERVAL)
  -no-scheduler    Disable the background scheduler

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the maintenance scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/attendance.db"

  # Run with in-memory database, no scheduler
  ./server -db=":memory:" -no-scheduler

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Background maintenance passes
  - store/sqlite/sqlite.go: Database implementation
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
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/attendance-engine/api"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/store/sqlite"
)

func main() {
	// .env is optional; flags below fall back to the environment.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DATABASE_PATH", "attendance.db"), "SQLite database path")
	sweepInterval := flag.Duration("sweep-interval", envDuration("SWEEP_INTERVAL", time.Hour), "Maintenance pass interval")
	noScheduler := flag.Bool("no-scheduler", false, "Disable the background scheduler")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Initialize handler with the default rule configuration
	handler := api.NewHandler(store, attendance.DefaultConfig())

	// Background maintenance scheduler
	scheduler := api.NewSweepScheduler(handler)
	scheduler.CheckInterval = *sweepInterval
	scheduler.Enabled = !*noScheduler
	scheduler.Start()
	defer scheduler.Stop()

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
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

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
