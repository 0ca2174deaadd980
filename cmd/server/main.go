/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the ledger ingestion engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store, seed the account-head dictionary if empty
  3. Register source adapters
  4. Start the ingestion worker pool
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port     HTTP server port (default: 8080)
  -db       SQLite database path (default: ledger.db)
            Use ":memory:" for an in-memory database
  -workers  Ingestion worker count (default: 4)
  -queue    Ingestion queue depth (default: 64)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Drain the worker pool
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/ledger.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run with more ingestion workers
  ./server -workers=8 -queue=256

ENVIRONMENT:
  No environment variables currently. All config via flags.

SEE ALSO:
  - api/server.go: Router configuration
  - ingest/: orchestrator and worker pool
  - store/sqlite/: database implementation
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

	"github.com/finlens/ledger-engine/adapter"
	"github.com/finlens/ledger-engine/adapter/connector"
	"github.com/finlens/ledger-engine/adapter/tally"
	"github.com/finlens/ledger-engine/api"
	"github.com/finlens/ledger-engine/canonical"
	"github.com/finlens/ledger-engine/classify"
	"github.com/finlens/ledger-engine/ingest"
	"github.com/finlens/ledger-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "ledger.db", "SQLite database path")
	workers := flag.Int("workers", 4, "ingestion worker count")
	queue := flag.Int("queue", 64, "ingestion queue depth")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Seed the account-head dictionary on first boot
	if n, err := store.CountDictionary(context.Background()); err != nil {
		log.Fatalf("Failed to check dictionary: %v", err)
	} else if n == 0 {
		seed := classify.DefaultDictionary()
		if err := store.ReplaceDictionary(context.Background(), seed); err != nil {
			log.Fatalf("Failed to seed dictionary: %v", err)
		}
		log.Printf("Seeded account-head dictionary with %d entries", len(seed))
	}

	// Register source adapters
	registry := adapter.NewRegistry()
	registry.Register(tally.New())
	registry.Register(connector.New(canonical.SourceConnector))
	registry.Register(connector.New(canonical.SourceManual))

	// Orchestrator + worker pool
	orch := ingest.NewOrchestrator(store, registry)
	pool := ingest.NewPool(*workers, *queue)
	pool.Start()
	defer pool.Stop()

	// Create router
	handler := api.NewHandler(store, orch, pool)
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
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
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
