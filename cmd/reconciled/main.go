// Command reconciled runs the reconciliation engine as a long-lived daemon:
// it wires storage, sources, the scoring/dispatch pipeline, the cycle
// orchestrator, the websocket broadcaster, and the admin HTTP surface, then
// blocks until it receives SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fntelecomllc/bankreconciler/internal/adminapi"
	"github.com/fntelecomllc/bankreconciler/internal/config"
	"github.com/fntelecomllc/bankreconciler/internal/dispatcher"
	"github.com/fntelecomllc/bankreconciler/internal/logging"
	"github.com/fntelecomllc/bankreconciler/internal/metrics"
	"github.com/fntelecomllc/bankreconciler/internal/normalize"
	"github.com/fntelecomllc/bankreconciler/internal/orchestrator"
	"github.com/fntelecomllc/bankreconciler/internal/resilience"
	"github.com/fntelecomllc/bankreconciler/internal/retriever"
	"github.com/fntelecomllc/bankreconciler/internal/scoring"
	"github.com/fntelecomllc/bankreconciler/internal/source"
	"github.com/fntelecomllc/bankreconciler/internal/store"
	"github.com/fntelecomllc/bankreconciler/internal/store/memory"
	"github.com/fntelecomllc/bankreconciler/internal/store/postgres"
	internalws "github.com/fntelecomllc/bankreconciler/internal/websocket"
)

var log = logging.For("reconciled")

func main() {
	configPath := flag.String("config", os.Getenv("RECONCILER_CONFIG"), "path to a YAML/JSON config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconciled: config: %v\n", err)
		os.Exit(1)
	}
	logging.Configure(logging.ParseLevel(cfg.LogLevel), os.Stdout)

	aliases := normalize.NewAliasTable(cfg.BankAliases)

	repo, closeStore, err := buildRepository(cfg, aliases)
	if err != nil {
		log.Error("startup", "failed to build repository", err, nil)
		os.Exit(1)
	}
	defer closeStore()

	retr := retriever.New(repo, cfg, aliases)
	scorer := scoring.New(cfg)
	disp := dispatcher.New(repo, cfg, dispatcher.DefaultHandlers(repo, dispatcher.SimulatedIntegrations{}, cfg.Dispatcher.EscalateIfAmountAbove))

	retryCfg := resilience.RetryConfig{
		MaxAttempts: cfg.Retry.MaxAttempts, Initial: cfg.Retry.Initial(),
		Base: cfg.Retry.Base, MaxDelay: cfg.Retry.MaxDelay(), Jitter: cfg.Retry.Jitter,
	}
	breakerCfg := resilience.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold, SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Timeout: cfg.Breaker.Timeout(),
	}

	var emailSrc source.EmailPuller
	if cfg.EmailSourceURL != "" {
		emailSrc = source.NewHTTPEmailPuller("inbox-bridge", cfg.EmailSourceURL, cfg.Orchestrator.SourceTimeout(),
			retryCfg, resilience.BreakerConfig{Name: "email-source", FailureThreshold: breakerCfg.FailureThreshold, SuccessThreshold: breakerCfg.SuccessThreshold, Timeout: breakerCfg.Timeout})
	} else {
		log.Warn("startup", "emailSourceUrl not configured, falling back to an empty mock email source", nil)
		emailSrc = source.NewMockEmailPuller("mock-inbox", nil)
	}

	var txnSrc source.TransactionPuller
	if cfg.TransactionSourceURL != "" {
		txnSrc = source.NewHTTPTransactionPuller("transaction-provider", cfg.TransactionSourceURL, cfg.Orchestrator.SourceTimeout(),
			retryCfg, resilience.BreakerConfig{Name: "transaction-source", FailureThreshold: breakerCfg.FailureThreshold, SuccessThreshold: breakerCfg.SuccessThreshold, Timeout: breakerCfg.Timeout})
	} else {
		log.Warn("startup", "transactionSourceUrl not configured, transaction polling will be skipped", nil)
	}

	extractor := source.NewHeuristicExtractor()

	orch := orchestrator.New(cfg, repo, aliases, emailSrc, txnSrc, extractor, retr, scorer, disp)

	hub := internalws.NewManager()
	go hub.Run()
	orch.SetBroadcaster(hub)

	exp, err := metrics.NewExporter(prometheus.NewRegistry())
	if err != nil {
		log.Error("startup", "failed to build metrics exporter", err, nil)
		os.Exit(1)
	}

	server := adminapi.New(cfg, repo, orch, exp, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch.Start(ctx)

	go func() {
		if err := server.Run(); err != nil {
			log.Error("admin_server", "admin HTTP server exited", err, nil)
		}
	}()

	log.Info("startup", "reconciliation engine started", logging.Fields{"adminListenAddr": cfg.AdminListenAddr})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutdown", "shutdown signal received, stopping", nil)
	orch.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "admin server shutdown did not complete cleanly", err, nil)
	}

	log.Info("shutdown", "reconciliation engine stopped", nil)
}

// buildRepository selects a Postgres-backed repository when a DSN is
// configured, otherwise an in-memory one suitable for development and
// small deployments. The returned close func is always safe to call.
func buildRepository(cfg *config.Config, aliases *normalize.AliasTable) (store.Repository, func(), error) {
	if cfg.DatabaseDSN == "" {
		log.Warn("startup", "databaseDsn not configured, using an in-memory repository", nil)
		return memory.New(), func() {}, nil
	}

	db, err := sqlx.Connect("postgres", cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseDSN)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("open pgx pool: %w", err)
	}

	repo := postgres.New(db, pool, aliases)

	closeFn := func() {
		pool.Close()
		_ = db.Close()
	}
	return repo, closeFn, nil
}
