// Package notify delivers transaction notifications to profiles. Delivery is
// best-effort and asynchronous: failures are logged and never affect a
// committed transaction.
package notify

import (
	"context"
	"time"

	"github.com/mypts-network/ledger/internal/app/domain/transaction"
	"github.com/mypts-network/ledger/pkg/logger"
)

// Dispatcher sends a notification about a committed transaction.
type Dispatcher interface {
	Notify(ctx context.Context, recipients []string, tx transaction.Transaction) error
}

// LogDispatcher records notifications in the log; the default backend when no
// delivery channel is wired.
type LogDispatcher struct {
	log *logger.Logger
}

// NewLogDispatcher creates a log-only dispatcher.
func NewLogDispatcher(log *logger.Logger) *LogDispatcher {
	if log == nil {
		log = logger.NewDefault("notify")
	}
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Notify(_ context.Context, recipients []string, tx transaction.Transaction) error {
	d.log.WithField("recipients", recipients).
		WithField("transaction_id", tx.ID).
		WithField("type", string(tx.Type)).
		WithField("status", string(tx.Status)).
		Info("transaction notification dispatched")
	return nil
}

// Async fires a notification in the background. The committed transaction is
// never rolled back or retried on delivery failure.
func Async(d Dispatcher, log *logger.Logger, recipients []string, tx transaction.Transaction) {
	if d == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil && log != nil {
				log.WithField("panic", r).Error("notification dispatcher panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.Notify(ctx, recipients, tx); err != nil && log != nil {
			log.WithError(err).
				WithField("transaction_id", tx.ID).
				Warn("notification delivery failed")
		}
	}()
}
