// Package main runs the custody ledger service:
// - HTTP API (gin) for users, the chain watcher, the payout processor and admins
// - Chain watcher feeds (WebSocket, Kafka) into the deposit reconciler
// - Withdrawal dispatcher and stranded-deposit sweeper
// - Prometheus metrics endpoint
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
	"strings"
	"sync"
	"syscall"
	"time"

	"custody-ledger/internal/api"
	"custody-ledger/internal/chain"
	"custody-ledger/internal/config"
	"custody-ledger/internal/domain"
	"custody-ledger/internal/exchange"
	"custody-ledger/internal/ledger"
	"custody-ledger/internal/notify"
	"custody-ledger/internal/observability"
	"custody-ledger/internal/provider"
	"custody-ledger/internal/provider/stub"
	"custody-ledger/internal/reconciler"
	"custody-ledger/internal/storage"
	chstore "custody-ledger/internal/storage/clickhouse"
	"custody-ledger/internal/storage/memory"
	"custody-ledger/internal/storage/migrations"
	pgstore "custody-ledger/internal/storage/postgres"
	"custody-ledger/internal/watcher"
	"custody-ledger/internal/withdrawal"
)

// allStores holds all storage implementations.
type allStores struct {
	ledger      storage.LedgerStore
	deposits    storage.DepositStore
	addresses   storage.DepositAddressStore
	withdrawals storage.WithdrawalStore
	bridges     storage.BridgeStore
	reversals   storage.ReversalStore
	history     storage.HistorySink
}

func main() {
	// Load .env file if exists
	config.LoadEnvFile()
	cfg := config.Load()

	// Parse flags (env vars as defaults)
	httpAddr := flag.String("http-addr", cfg.HTTPAddr, "API HTTP address")
	metricsAddr := flag.String("metrics-addr", cfg.MetricsAddr, "Prometheus metrics HTTP address")
	postgresDSN := flag.String("postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", cfg.ClickhouseDSN, "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", cfg.UseMemory, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	policyFile := flag.String("policy-file", cfg.PolicyFile, "Asset/network/fee policy JSON (default: embedded)")
	wsURL := flag.String("watcher-ws-url", cfg.WatcherWSURL, "Chain watcher WebSocket endpoint")
	kafkaBrokers := flag.String("kafka-brokers", strings.Join(cfg.KafkaBrokers, ","), "Comma-separated Kafka brokers")
	dispatchInterval := flag.Duration("dispatch-interval", cfg.DispatchInterval, "Withdrawal dispatch and deposit sweep interval")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	policy, err := config.LoadPolicy(*policyFile)
	if err != nil {
		logger.Fatalf("Failed to load policy: %v", err)
	}
	chains, err := chain.NewRegistry(policy.Assets, policy.Networks)
	if err != nil {
		logger.Fatalf("Failed to build chain registry: %v", err)
	}
	feeRegistry, err := policy.FeeRegistry()
	if err != nil {
		logger.Fatalf("Failed to build fee registry: %v", err)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory, policy.BalanceFloors(), logger)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	componentLogger := func(name string) *log.Logger {
		return log.New(os.Stdout, "["+name+"] ", log.LstdFlags|log.Lshortfile)
	}

	l, err := ledger.New(ledger.Options{
		Store:  stores.ledger,
		Assets: chains,
		Sink:   stores.history,
		Logger: componentLogger("ledger"),
	})
	if err != nil {
		logger.Fatalf("Failed to create ledger: %v", err)
	}

	notifier := createNotifier(cfg, logger)
	rates, payouts, kyc := createProviders(cfg, logger)

	rec, err := reconciler.New(reconciler.Options{
		Ledger:    l,
		Deposits:  stores.deposits,
		Addresses: stores.addresses,
		Reversals: stores.reversals,
		Chains:    chains,
		Fees:      feeRegistry,
		Notifier:  notifier,
		Logger:    componentLogger("reconciler"),
	})
	if err != nil {
		logger.Fatalf("Failed to create reconciler: %v", err)
	}

	withdrawals, err := withdrawal.New(withdrawal.Options{
		Ledger:      l,
		Withdrawals: stores.withdrawals,
		Chains:      chains,
		Fees:        feeRegistry,
		Tiers:       policy.TierPolicies(),
		KYC:         kyc,
		Rates:       rates,
		Payouts:     payouts,
		Notifier:    notifier,
		Logger:      componentLogger("withdrawal"),
	})
	if err != nil {
		logger.Fatalf("Failed to create withdrawal service: %v", err)
	}

	engine, err := exchange.New(exchange.Options{
		Ledger:  l,
		Bridges: stores.bridges,
		Chains:  chains,
		Fees:    feeRegistry,
		Logger:  componentLogger("exchange"),
	})
	if err != nil {
		logger.Fatalf("Failed to create exchange engine: %v", err)
	}

	var wsFeed *watcher.WSFeed
	if *wsURL != "" {
		networks := make([]domain.NetworkCode, 0, len(policy.Networks))
		for _, n := range policy.Networks {
			networks = append(networks, n.Code)
		}
		wsFeed = watcher.NewWSFeed(*wsURL, networks, rec, nil, componentLogger("watcher"))
	}

	var kafkaFeed *watcher.KafkaFeed
	brokers := splitList(*kafkaBrokers)
	if len(brokers) > 0 {
		reader := watcher.NewKafkaReader(brokers, cfg.KafkaTopic, cfg.KafkaGroup)
		kafkaFeed = watcher.NewKafkaFeed(reader, rec, nil, componentLogger("watcher"))
	}

	server, err := api.New(api.Options{
		Ledger:      l,
		Reconciler:  rec,
		Withdrawals: withdrawals,
		Exchange:    engine,
		Chains:      chains,
		Rates:       rates,
		History:     stores.history,
		Keys: api.Keys{
			Admin:     cfg.AdminAPIKey,
			Watcher:   cfg.WatcherAPIKey,
			Processor: cfg.ProcessorAPIKey,
		},
		RateLimit: api.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		},
		Status: func() map[string]interface{} {
			return map[string]interface{}{
				"storage":           storageMode(*useMemory),
				"watcher_websocket": wsFeed != nil && wsFeed.Connected(),
				"watcher_kafka":     kafkaFeed != nil,
			}
		},
		Logger: componentLogger("api"),
	})
	if err != nil {
		logger.Fatalf("Failed to create API server: %v", err)
	}

	// Channel to signal completion
	done := make(chan struct{})

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	var wg sync.WaitGroup
	run := func(name string, fn func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("%s stopped: %v", name, err)
				cancel()
			}
		}()
	}

	if wsFeed != nil {
		run("websocket feed", wsFeed.Run)
	}
	if kafkaFeed != nil {
		run("kafka feed", kafkaFeed.Run)
	}
	run("withdrawal dispatcher", func(ctx context.Context) error {
		withdrawals.RunDispatcher(ctx, *dispatchInterval)
		return nil
	})
	run("deposit sweeper", func(ctx context.Context) error {
		rec.Run(ctx, *dispatchInterval)
		return nil
	})
	run("metrics server", func(ctx context.Context) error {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		return serveHTTP(ctx, *metricsAddr, mux, logger)
	})
	run("api server", func(ctx context.Context) error {
		return serveHTTP(ctx, *httpAddr, server.Router(), logger)
	})

	logger.Printf("Custody ledger running: api=%s metrics=%s storage=%s", *httpAddr, *metricsAddr, storageMode(*useMemory))

	<-ctx.Done()
	wg.Wait()
	close(done)

	logger.Println("Shutdown complete")
}

// createStores creates all required stores.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool, floors domain.BalanceFloors, logger *log.Logger) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			ledger:      memory.NewLedgerStore(floors),
			deposits:    memory.NewDepositStore(),
			addresses:   memory.NewDepositAddressStore(),
			withdrawals: memory.NewWithdrawalStore(),
			bridges:     memory.NewBridgeStore(),
			reversals:   memory.NewReversalStore(),
			history:     memory.NewHistoryStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	applied, err := migrations.RunPostgresMigrations(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}
	if len(applied) > 0 {
		logger.Printf("Applied postgres migrations: %v", applied)
	}

	stores := &allStores{
		ledger:      pgstore.NewLedgerStore(pool, floors),
		deposits:    pgstore.NewDepositStore(pool),
		addresses:   pgstore.NewDepositAddressStore(pool),
		withdrawals: pgstore.NewWithdrawalStore(pool),
		bridges:     pgstore.NewBridgeStore(pool),
		reversals:   pgstore.NewReversalStore(pool),
	}

	// ClickHouse history is optional; without it fee summaries are unavailable.
	if clickhouseDSN == "" {
		logger.Println("CLICKHOUSE_DSN not set, ledger history sink disabled")
		return stores, pool.Close, nil
	}
	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}
	stores.history = chstore.NewHistoryStore(chConn)

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}

// createProviders builds HTTP clients for the configured collaborators and
// falls back to in-memory stubs for the rest.
func createProviders(cfg *config.Config, logger *log.Logger) (provider.RateOracle, provider.PayoutProcessor, provider.KYCProvider) {
	var (
		rates   provider.RateOracle      = stub.NewRateOracle()
		payouts provider.PayoutProcessor = stub.NewPayoutProcessor()
		kyc     provider.KYCProvider     = stub.NewKYCProvider()
	)

	if cfg.RateOracleURL != "" {
		rates = provider.NewRateClient(cfg.RateOracleURL)
	} else {
		logger.Println("RATE_ORACLE_URL not set, using stub rate oracle")
	}
	if cfg.PayoutURL != "" {
		payouts = provider.NewPayoutClient(cfg.PayoutURL)
	} else {
		logger.Println("PAYOUT_URL not set, using stub payout processor")
	}
	if cfg.KYCURL != "" {
		kyc = provider.NewKYCClient(cfg.KYCURL)
	} else {
		logger.Println("KYC_URL not set, using stub KYC provider (every user is tier 0)")
	}
	return rates, payouts, kyc
}

func createNotifier(cfg *config.Config, logger *log.Logger) notify.Notifier {
	if cfg.TelegramBotToken == "" || cfg.TelegramChatID == 0 {
		return notify.LogNotifier{Logger: logger}
	}
	n, err := notify.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
	if err != nil {
		logger.Printf("Telegram notifier unavailable, logging reviews instead: %v", err)
		return notify.LogNotifier{Logger: logger}
	}
	return n
}

// serveHTTP serves handler until ctx is cancelled, then shuts down gracefully.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *log.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("HTTP server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown %s: %w", addr, err)
	}
	return ctx.Err()
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func storageMode(useMemory bool) string {
	if useMemory {
		return "memory"
	}
	return "postgres"
}
