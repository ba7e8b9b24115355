package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rbndg/wdk-uma-poc/config"
	"github.com/rbndg/wdk-uma-poc/invoice"
	"github.com/rbndg/wdk-uma-poc/observability/logging"
	"github.com/rbndg/wdk-uma-poc/rates"
	"github.com/rbndg/wdk-uma-poc/server"
	"github.com/rbndg/wdk-uma-poc/storage"
	"github.com/rbndg/wdk-uma-poc/uma"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.yaml", "path to umad configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("UMAD_ENV"))
	logger := logging.Setup("umad", env)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("umad: load config: %v", err)
	}

	dsn, err := storage.FileDSN(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("umad: resolve storage DSN: %v", err)
	}
	store, err := storage.Open(dsn)
	if err != nil {
		log.Fatalf("umad: open storage: %v", err)
	}
	defer store.Close()

	var rateSource uma.RateSource
	switch strings.ToLower(strings.TrimSpace(cfg.Rates.Source)) {
	case "http":
		rateSource = rates.NewHTTP(cfg.Rates.Endpoint, cfg.Rates.APIKey)
		logger.Info("rates source configured", "source", "http", "endpoint", cfg.Rates.Endpoint,
			logging.MaskSecret("api_key", cfg.Rates.APIKey))
	default:
		fixed, err := rates.NewFixed(cfg.Rates.Fixed)
		if err != nil {
			log.Fatalf("umad: build fixed rates: %v", err)
		}
		rateSource = fixed
	}

	issuer := invoice.NewService(cfg.Invoice.SeedEnv, cfg.Invoice.Network, cfg.Invoice.Expiry.Duration)

	entries := make(map[string]uma.ChainInfo, len(cfg.Chains))
	// Shared-custody settlement rides the spark layer; its stored addresses
	// double as receiver settlement identities.
	nativeLayer := "spark"
	for name, chain := range cfg.Chains {
		entries[name] = uma.ChainInfo{Layer: chain.Layer, Asset: chain.Asset, Decimals: chain.Decimals}
	}
	chains := uma.NewChainMap(entries, nativeLayer)

	engine := uma.NewEngine(store, rateSource, issuer, chains, logger)
	handler := server.New(engine, server.NewTenantResolver(cfg), logger)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Payments.Retention.Duration > 0 {
		go runRetentionSweep(rootCtx, store, cfg.Payments, logger)
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-rootCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown http server", "error", err)
		}
	}()

	logger.Info("umad listening", "address", cfg.ListenAddress, "tenants", len(cfg.Tenants))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("umad: http server: %v", err)
	}
}

// runRetentionSweep deletes aged payment-request records on an interval.
// Pruned nonces become replayable again, so retention must exceed any window
// in which a sender could legitimately retry.
func runRetentionSweep(ctx context.Context, store *storage.Store, cfg config.PaymentsConfig, logger *slog.Logger) {
	interval := cfg.SweepInterval.Duration
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-cfg.Retention.Duration)
			pruned, err := store.PrunePaymentRequests(ctx, cutoff)
			if err != nil {
				logger.Error("prune payment requests", "error", err)
				continue
			}
			if pruned > 0 {
				logger.Info("pruned payment requests", "count", pruned, "cutoff", cutoff)
			}
		}
	}
}
