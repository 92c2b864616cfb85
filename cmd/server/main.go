/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the statement engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Initialize SQLite store
  3. Connect Redis statement cache (optional)
  4. Build engine, orchestrator, closing resolver
  5. Start month-close scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the month-close scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/statements.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - config/config.go: Environment variables
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warp/statement-engine/api"
	"github.com/warp/statement-engine/cache"
	"github.com/warp/statement-engine/config"
	"github.com/warp/statement-engine/ledger"
	"github.com/warp/statement-engine/reconcile"
	"github.com/warp/statement-engine/store/sqlite"
)

func main() {
	cfg := config.Load()

	// Flags override the environment
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	log := config.NewLogger(cfg.LogLevel)

	// Store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	// Statement cache (optional)
	var statementCache *cache.StatementCache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.WithError(err).Warn("redis unreachable, statement cache disabled")
		} else {
			statementCache = cache.NewStatementCache(client, log)
			log.WithField("addr", cfg.RedisAddr).Info("statement cache enabled")
		}
	}

	// Domain wiring
	aggregator := ledger.NewAggregator(store, store)
	writer := ledger.NewStatementWriter(store, log)
	resolver := ledger.NewClosingResolver(store, store, aggregator, store, log)
	engine := ledger.NewEngine(aggregator, store, writer, resolver, store, nil, log)
	engine.DayTimeout = cfg.DayTimeout

	// A nil *cache.StatementCache must not become a non-nil interface.
	var handlerCache ledger.StatementCache
	if statementCache != nil {
		engine.Cache = statementCache
		handlerCache = statementCache
	}

	orchestrator := reconcile.NewOrchestrator(engine, store, store, log)
	orchestrator.Workers = cfg.SyncWorkers

	handler := api.NewHandler(store, engine, orchestrator, resolver, handlerCache, log)
	router := api.NewRouter(handler)

	// Month-close scheduler
	scheduler := api.NewMonthCloseScheduler(store, resolver, log)
	if err := scheduler.Start(); err != nil {
		log.WithError(err).Fatal("failed to start month-close scheduler")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}
	scheduler.Stop()

	log.Info("server stopped")
}
