// Package main runs the MyPts ledger engine: hub supply management, profile
// ledgers and the transaction API over HTTP.
package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	app "github.com/mypts-network/ledger/internal/app"
	"github.com/mypts-network/ledger/internal/app/httpapi"
	"github.com/mypts-network/ledger/internal/app/notify"
	"github.com/mypts-network/ledger/internal/app/payment"
	"github.com/mypts-network/ledger/internal/app/storage"
	"github.com/mypts-network/ledger/internal/app/storage/postgres"
	"github.com/mypts-network/ledger/internal/config"
	"github.com/mypts-network/ledger/internal/middleware"
	"github.com/mypts-network/ledger/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	addr := flag.String("addr", "", "Listen address override")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("ledgerd").Fatalf("load configuration: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}).WithField("component", "ledgerd")

	store, closeStore, err := openStore(cfg, log)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer closeStore()

	var gateway payment.Gateway
	if cfg.Gateway.BaseURL != "" {
		gateway = payment.NewHTTPGateway(payment.HTTPGatewayConfig{
			BaseURL: cfg.Gateway.BaseURL,
			APIKey:  cfg.Gateway.APIKey,
			Timeout: cfg.Gateway.Timeout,
		})
	}

	application, err := app.New(app.Options{
		Store:    store,
		Gateway:  gateway,
		Notifier: notify.NewLogDispatcher(log),
		Currency: cfg.Gateway.Currency,
		Hub: app.HubOptions{
			MaxSupply:      cfg.Hub.MaxSupply,
			InitialReserve: cfg.Hub.InitialReserve,
			ValuePerMyPt:   cfg.Hub.ValuePerMyPt,
		},
	}, log)
	if err != nil {
		log.Fatalf("build application: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("start application: %v", err)
	}

	handler := httpapi.NewHandler(application)
	if cfg.Server.RatePerSecond > 0 {
		limiter := middleware.NewRateLimiter(cfg.Server.RatePerSecond, cfg.Server.RateBurst, log)
		handler = limiter.Handler(handler)
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("ledger API listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.WithError(err).Error("server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application stop")
	}
	log.Info("ledger engine stopped")
}

// openStore selects the persistence backend. The memory driver needs no
// teardown; postgres runs migrations before serving.
func openStore(cfg config.Config, log *logger.Logger) (storage.Store, func(), error) {
	if cfg.Database.Driver != "postgres" {
		log.Info("using in-memory storage")
		return nil, func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, err
	}

	if err := postgres.Migrate(db); err != nil {
		db.Close()
		return nil, nil, err
	}

	log.Info("using postgres storage")
	return postgres.New(db), func() { db.Close() }, nil
}
