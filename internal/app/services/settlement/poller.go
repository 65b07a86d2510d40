package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/mypts-network/ledger/internal/app/domain/transaction"
	"github.com/mypts-network/ledger/internal/app/storage"
	"github.com/mypts-network/ledger/internal/app/system"
	"github.com/mypts-network/ledger/pkg/logger"
)

// ReminderPoller periodically surfaces sell requests that have sat in
// RESERVED longer than the configured age. It never settles anything itself;
// settlement stays a human decision.
type ReminderPoller struct {
	store    storage.Store
	interval time.Duration
	staleAge time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*ReminderPoller)(nil)

// NewReminderPoller creates the poller with sane defaults.
func NewReminderPoller(store storage.Store, log *logger.Logger) *ReminderPoller {
	if log == nil {
		log = logger.NewDefault("settlement-reminder")
	}
	return &ReminderPoller{
		store:    store,
		interval: time.Minute,
		staleAge: 24 * time.Hour,
		log:      log,
	}
}

func (p *ReminderPoller) Name() string { return "settlement-reminder" }

func (p *ReminderPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.tick(runCtx)
			}
		}
	}()

	p.log.Info("settlement reminder poller started")
	return nil
}

func (p *ReminderPoller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (p *ReminderPoller) tick(ctx context.Context) {
	txs, err := p.store.ListTransactionsByStatus(ctx, transaction.TypeSell, transaction.StatusReserved, 0)
	if err != nil {
		p.log.WithError(err).Warn("list reserved sells failed")
		return
	}

	cutoff := time.Now().Add(-p.staleAge)
	for _, txn := range txs {
		if txn.CreatedAt.After(cutoff) {
			continue
		}
		p.log.WithField("transaction_id", txn.ID).
			WithField("profile_id", txn.ProfileID).
			WithField("age", time.Since(txn.CreatedAt).Round(time.Minute).String()).
			Warn("sell request awaiting settlement review")
	}
}
