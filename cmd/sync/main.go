// Command sync follows escrow program events on Solana and projects
// them into the escrows and trades tables.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"solana-escrow-sync/internal/events"
	"solana-escrow-sync/internal/ingestion"
	"solana-escrow-sync/internal/observability"
	"solana-escrow-sync/internal/reconcile"
	"solana-escrow-sync/internal/solana"
	"solana-escrow-sync/internal/storage"
	chstore "solana-escrow-sync/internal/storage/clickhouse"
	"solana-escrow-sync/internal/storage/memory"
	"solana-escrow-sync/internal/storage/migrations"
	pgstore "solana-escrow-sync/internal/storage/postgres"
)

// Default endpoints point at devnet so a fresh checkout runs against a
// public cluster without any configuration.
const (
	defaultRPCEndpoint = "https://api.devnet.solana.com"
	defaultWSEndpoint  = "wss://api.devnet.solana.com"
	defaultProgramID   = "4dkUjJmAqvEHjQkXnBGJ6t6uPkbiSGo246rdnAYYmCav"
)

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	rpcEndpoint := flag.String("rpc-endpoint", envOr("SOLANA_RPC_ENDPOINT", defaultRPCEndpoint), "Solana RPC HTTP endpoint")
	wsEndpoint := flag.String("ws-endpoint", envOr("SOLANA_WS_ENDPOINT", defaultWSEndpoint), "Solana WebSocket endpoint")
	programID := flag.String("program-id", envOr("ESCROW_PROGRAM_ID", defaultProgramID), "Escrow program ID to follow")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string for the event journal (empty to disable)")
	schema := flag.String("schema", envOr("EVENT_SCHEMA", events.SchemaCurrent), "Event schema version: current or legacy")
	slotLagWindow := flag.Int64("slot-lag-window", 5, "Slots to buffer for cross-slot ordering")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	migrate := flag.Bool("migrate", true, "Apply embedded schema migrations on startup")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")

	flag.Parse()

	logger := log.New(os.Stdout, "[sync] ", log.LstdFlags|log.Lshortfile)

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err := run(ctx, logger, options{
		rpcEndpoint:   *rpcEndpoint,
		wsEndpoint:    *wsEndpoint,
		programID:     *programID,
		postgresDSN:   *postgresDSN,
		clickhouseDSN: *clickhouseDSN,
		schema:        *schema,
		slotLagWindow: *slotLagWindow,
		useMemory:     *useMemory,
		migrate:       *migrate,
	})

	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Error: %v", err)
	}
	logger.Println("Shutdown complete")
}

type options struct {
	rpcEndpoint   string
	wsEndpoint    string
	programID     string
	postgresDSN   string
	clickhouseDSN string
	schema        string
	slotLagWindow int64
	useMemory     bool
	migrate       bool
}

func run(ctx context.Context, logger *log.Logger, opts options) error {
	decoder, err := events.NewSchemaDecoder(opts.schema)
	if err != nil {
		return err
	}
	if opts.programID == "" {
		return fmt.Errorf("--program-id is required")
	}
	if !opts.useMemory && opts.postgresDSN == "" {
		return fmt.Errorf("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	rpc := solana.NewHTTPClient(opts.rpcEndpoint)

	// Fail early on an unreachable cluster instead of hanging in the
	// subscribe path.
	slot, err := rpc.GetSlot(ctx)
	if err != nil {
		return fmt.Errorf("check rpc endpoint %s: %w", opts.rpcEndpoint, err)
	}
	logger.Printf("Connected to %s, current slot %d", opts.rpcEndpoint, slot)

	ws, err := solana.NewWSClient(ctx, opts.wsEndpoint, &solana.WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("create websocket client: %w", err)
	}
	defer ws.Close()

	var escrowStore storage.EscrowStore = memory.NewEscrowStore()
	var tradeStore storage.TradeStore = memory.NewTradeStore()

	if !opts.useMemory {
		pool, err := pgstore.NewPool(ctx, opts.postgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		if opts.migrate {
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				return fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Println("Postgres migrations applied")
		}

		escrowStore = pgstore.NewEscrowStore(pool)
		tradeStore = pgstore.NewTradeStore(pool)
	}

	var journal storage.EventJournal
	if opts.clickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, opts.clickhouseDSN)
		if err != nil {
			return fmt.Errorf("connect to clickhouse: %w", err)
		}
		defer conn.Close()

		if opts.migrate {
			if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
				return fmt.Errorf("apply clickhouse migrations: %w", err)
			}
			logger.Println("ClickHouse migrations applied")
		}

		journal = chstore.NewEventJournalStore(conn)
		logger.Println("Event journal enabled")
	}

	reconciler := reconcile.New(reconcile.Options{
		EscrowStore: escrowStore,
		TradeStore:  tradeStore,
		Logger:      logger,
	})

	source := ingestion.NewWSEscrowEventSource(ws, rpc, decoder, opts.programID, logger)

	runner := ingestion.NewRunner(ingestion.RunnerOptions{
		Source:        source,
		Reconciler:    reconciler,
		Journal:       journal,
		Schema:        decoder.Name(),
		SlotLagWindow: opts.slotLagWindow,
		Logger:        logger,
	})

	logger.Printf("Starting sync for program %s (schema=%s)", opts.programID, decoder.Name())
	return runner.Run(ctx)
}

// envOr returns the environment value for key, or def when unset.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
