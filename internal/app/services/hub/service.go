// Package hub implements the Hub State Manager: every mutation of the supply
// singleton, each paired with an append-only movement log entry.
package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	domain "github.com/mypts-network/ledger/internal/app/domain/hub"
	"github.com/mypts-network/ledger/internal/app/metrics"
	"github.com/mypts-network/ledger/internal/app/storage"
	lederr "github.com/mypts-network/ledger/internal/errors"
	"github.com/mypts-network/ledger/pkg/logger"
)

// Service mutates the hub supply singleton. The movement primitives take the
// caller's transaction scope so an orchestrator operation combines hub, ledger
// and transaction-log writes atomically.
type Service struct {
	store storage.Store
	log   *logger.Logger
}

// New constructs the hub state manager.
func New(store storage.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("hub")
	}
	return &Service{store: store, log: log}
}

// Bootstrap creates the hub singleton if it does not exist yet. The initial
// reserve is issued and allocated through the ordinary movement path so the
// movement log covers genesis.
func (s *Service) Bootstrap(ctx context.Context, maxSupply, initialReserve int64, valuePerMyPt float64) (domain.State, error) {
	var state domain.State
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.TxStore) error {
		existing, err := tx.GetHubState(ctx)
		if err == nil {
			state = existing
			return nil
		}
		if !errors.Is(err, lederr.ErrNotFound) {
			return err
		}

		state, err = tx.CreateHubState(ctx, domain.State{
			MaxSupply:    maxSupply,
			ValuePerMyPt: valuePerMyPt,
		})
		if err != nil {
			return err
		}
		if initialReserve > 0 {
			if state, err = s.Issue(ctx, tx, initialReserve, "genesis issuance", "", ""); err != nil {
				return err
			}
			if state, err = s.MoveHoldingToReserve(ctx, tx, initialReserve, "genesis reserve", "", ""); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.State{}, err
	}
	metrics.ObserveHub(state)
	return state, nil
}

// State returns the current hub state.
func (s *Service) State(ctx context.Context) (domain.State, error) {
	return s.store.GetHubState(ctx)
}

// Movements returns recent movement log entries, newest first.
func (s *Service) Movements(ctx context.Context, limit int) ([]domain.Movement, error) {
	return s.store.ListMovements(ctx, limit)
}

// Issue mints new supply into the holding pool.
func (s *Service) Issue(ctx context.Context, tx storage.TxStore, amount int64, reason, actorID, relatedTxID string) (domain.State, error) {
	return s.apply(ctx, tx, domain.PoolNone, domain.PoolHolding, amount, reason, actorID, relatedTxID,
		func(state *domain.State) error { return state.Issue(amount) })
}

// MoveHoldingToReserve allocates issued supply into the reserve.
func (s *Service) MoveHoldingToReserve(ctx context.Context, tx storage.TxStore, amount int64, reason, actorID, relatedTxID string) (domain.State, error) {
	return s.apply(ctx, tx, domain.PoolHolding, domain.PoolReserve, amount, reason, actorID, relatedTxID,
		func(state *domain.State) error { return state.MoveHoldingToReserve(amount) })
}

// MoveToCirculation backs a profile credit with reserve supply.
func (s *Service) MoveToCirculation(ctx context.Context, tx storage.TxStore, amount int64, reason, actorID, relatedTxID string) (domain.State, error) {
	return s.apply(ctx, tx, domain.PoolReserve, domain.PoolCirculating, amount, reason, actorID, relatedTxID,
		func(state *domain.State) error { return state.MoveReserveToCirculating(amount) })
}

// MoveToReserve returns supply leaving profile balances to the reserve.
func (s *Service) MoveToReserve(ctx context.Context, tx storage.TxStore, amount int64, reason, actorID, relatedTxID string) (domain.State, error) {
	return s.apply(ctx, tx, domain.PoolCirculating, domain.PoolReserve, amount, reason, actorID, relatedTxID,
		func(state *domain.State) error { return state.MoveCirculatingToReserve(amount) })
}

// EnsureReserve guarantees the reserve can cover amount before a dependent
// MoveToCirculation. Holding supply is drained first; only the remaining
// deficit is minted. Runs in the caller's scope, so a failed issuance aborts
// the whole operation.
func (s *Service) EnsureReserve(ctx context.Context, tx storage.TxStore, amount int64, reason, actorID string) error {
	state, err := tx.GetHubState(ctx)
	if err != nil {
		return err
	}
	if state.ReserveSupply >= amount {
		return nil
	}
	deficit := amount - state.ReserveSupply

	if fromHolding := min64(deficit, state.HoldingSupply); fromHolding > 0 {
		if _, err := s.MoveHoldingToReserve(ctx, tx, fromHolding, reason, actorID, ""); err != nil {
			return err
		}
		deficit -= fromHolding
	}
	if deficit > 0 {
		if _, err := s.Issue(ctx, tx, deficit, reason, actorID, ""); err != nil {
			return err
		}
		if _, err := s.MoveHoldingToReserve(ctx, tx, deficit, reason, actorID, ""); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) apply(ctx context.Context, tx storage.TxStore, from, to domain.Pool, amount int64,
	reason, actorID, relatedTxID string, mutate func(*domain.State) error) (domain.State, error) {

	state, err := tx.GetHubState(ctx)
	if err != nil {
		return domain.State{}, err
	}
	if err := mutate(&state); err != nil {
		return domain.State{}, err
	}
	if err := state.CheckInvariant(); err != nil {
		return domain.State{}, fmt.Errorf("hub invariant violated after %s -> %s: %w", from, to, err)
	}

	state, err = tx.UpdateHubState(ctx, state)
	if err != nil {
		return domain.State{}, err
	}

	if _, err := tx.CreateMovement(ctx, domain.Movement{
		ID:                   uuid.NewString(),
		Amount:               amount,
		FromPool:             from,
		ToPool:               to,
		Reason:               reason,
		ActorID:              actorID,
		RelatedTransactionID: relatedTxID,
	}); err != nil {
		return domain.State{}, err
	}

	s.log.WithField("from", string(from)).
		WithField("to", string(to)).
		WithField("amount", amount).
		WithField("reason", reason).
		Debug("hub movement applied")
	return state, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
