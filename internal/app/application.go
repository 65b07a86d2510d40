// Package app wires the ledger services together and manages their lifecycle.
package app

import (
	"context"
	"fmt"

	"github.com/mypts-network/ledger/internal/app/notify"
	"github.com/mypts-network/ledger/internal/app/payment"
	hubsvc "github.com/mypts-network/ledger/internal/app/services/hub"
	myptssvc "github.com/mypts-network/ledger/internal/app/services/mypts"
	settlementsvc "github.com/mypts-network/ledger/internal/app/services/settlement"
	"github.com/mypts-network/ledger/internal/app/storage"
	"github.com/mypts-network/ledger/internal/app/storage/memory"
	"github.com/mypts-network/ledger/internal/app/system"
	"github.com/mypts-network/ledger/pkg/logger"
)

// HubOptions seeds the supply singleton on first start.
type HubOptions struct {
	MaxSupply      int64
	InitialReserve int64
	ValuePerMyPt   float64
}

// Options configures the application. Nil dependencies fall back to in-memory
// or log-only defaults.
type Options struct {
	Store    storage.Store
	Gateway  payment.Gateway
	Notifier notify.Dispatcher
	Hub      HubOptions
	Currency string
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	store   storage.Store
	hubOpts HubOptions
	log     *logger.Logger

	Hub        *hubsvc.Service
	MyPts      *myptssvc.Service
	Settlement *settlementsvc.Service
}

// New builds a fully initialised application.
func New(opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if opts.Store == nil {
		opts.Store = memory.New()
	}
	if opts.Gateway == nil {
		log.Warn("no payment gateway configured; buy and payout calls will be rejected")
		opts.Gateway = payment.Disabled{}
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewLogDispatcher(log)
	}
	if opts.Hub.ValuePerMyPt <= 0 {
		opts.Hub.ValuePerMyPt = 0.024
	}

	manager := system.NewManager()

	hubService := hubsvc.New(opts.Store, log)
	myptsService := myptssvc.New(opts.Store, hubService, opts.Gateway, opts.Notifier, opts.Currency, log)
	settlementService := settlementsvc.New(opts.Store, hubService, opts.Gateway, opts.Notifier, opts.Currency, log)

	for _, name := range []string{"hub", "mypts", "settlement"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}
	if err := manager.Register(settlementsvc.NewReminderPoller(opts.Store, log)); err != nil {
		return nil, fmt.Errorf("register settlement reminder: %w", err)
	}

	return &Application{
		manager:    manager,
		store:      opts.Store,
		hubOpts:    opts.Hub,
		log:        log,
		Hub:        hubService,
		MyPts:      myptsService,
		Settlement: settlementService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start bootstraps the hub singleton and begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	state, err := a.Hub.Bootstrap(ctx, a.hubOpts.MaxSupply, a.hubOpts.InitialReserve, a.hubOpts.ValuePerMyPt)
	if err != nil {
		return fmt.Errorf("bootstrap hub: %w", err)
	}
	a.log.WithField("total_supply", state.TotalSupply).
		WithField("reserve_supply", state.ReserveSupply).
		Info("hub state ready")
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
