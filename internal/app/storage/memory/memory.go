// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use, enforces the same version-check
// semantics as the postgres store, and is primarily intended for tests and
// local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mypts-network/ledger/internal/app/domain/hub"
	"github.com/mypts-network/ledger/internal/app/domain/ledger"
	"github.com/mypts-network/ledger/internal/app/domain/transaction"
	"github.com/mypts-network/ledger/internal/app/storage"
	lederr "github.com/mypts-network/ledger/internal/errors"
)

// Store is the in-memory persistence layer.
type Store struct {
	mu   sync.RWMutex
	data *dataset
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{data: newDataset()}
}

// InTx runs fn against a snapshot-backed view. On error the pre-transaction
// state is restored, emulating a rolled-back database transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.TxStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(ctx, &txStore{data: s.data}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// --- locking wrappers for single operations ---------------------------------

func (s *Store) GetHubState(_ context.Context) (hub.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getHubState()
}

func (s *Store) CreateHubState(_ context.Context, state hub.State) (hub.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.createHubState(state)
}

func (s *Store) UpdateHubState(_ context.Context, state hub.State) (hub.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.updateHubState(state)
}

func (s *Store) CreateMovement(_ context.Context, mv hub.Movement) (hub.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.createMovement(mv)
}

func (s *Store) ListMovements(_ context.Context, limit int) ([]hub.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.listMovements(limit)
}

func (s *Store) GetProfileLedger(_ context.Context, profileID string) (ledger.ProfileLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getProfileLedger(profileID)
}

func (s *Store) CreateProfileLedger(_ context.Context, pl ledger.ProfileLedger) (ledger.ProfileLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.createProfileLedger(pl)
}

func (s *Store) UpdateProfileLedger(_ context.Context, pl ledger.ProfileLedger) (ledger.ProfileLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.updateProfileLedger(pl)
}

func (s *Store) CreateTransaction(_ context.Context, tx transaction.Transaction) (transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.createTransaction(tx)
}

func (s *Store) UpdateTransaction(_ context.Context, tx transaction.Transaction) (transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.updateTransaction(tx)
}

func (s *Store) GetTransaction(_ context.Context, id string) (transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getTransaction(id)
}

func (s *Store) ListTransactions(_ context.Context, profileID string, limit int) ([]transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.listTransactions(profileID, limit)
}

func (s *Store) ListTransactionsByStatus(_ context.Context, txType transaction.Type, status transaction.Status, limit int) ([]transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.listTransactionsByStatus(txType, status, limit)
}

func (s *Store) FindEarnByReference(_ context.Context, profileID, activityType, referenceID string) (transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.findEarnByReference(profileID, activityType, referenceID)
}

// txStore exposes the dataset without locking; the InTx caller holds the lock.
type txStore struct {
	data *dataset
}

var _ storage.TxStore = (*txStore)(nil)

func (t *txStore) GetHubState(_ context.Context) (hub.State, error) {
	return t.data.getHubState()
}

func (t *txStore) CreateHubState(_ context.Context, state hub.State) (hub.State, error) {
	return t.data.createHubState(state)
}

func (t *txStore) UpdateHubState(_ context.Context, state hub.State) (hub.State, error) {
	return t.data.updateHubState(state)
}

func (t *txStore) CreateMovement(_ context.Context, mv hub.Movement) (hub.Movement, error) {
	return t.data.createMovement(mv)
}

func (t *txStore) ListMovements(_ context.Context, limit int) ([]hub.Movement, error) {
	return t.data.listMovements(limit)
}

func (t *txStore) GetProfileLedger(_ context.Context, profileID string) (ledger.ProfileLedger, error) {
	return t.data.getProfileLedger(profileID)
}

func (t *txStore) CreateProfileLedger(_ context.Context, pl ledger.ProfileLedger) (ledger.ProfileLedger, error) {
	return t.data.createProfileLedger(pl)
}

func (t *txStore) UpdateProfileLedger(_ context.Context, pl ledger.ProfileLedger) (ledger.ProfileLedger, error) {
	return t.data.updateProfileLedger(pl)
}

func (t *txStore) CreateTransaction(_ context.Context, tx transaction.Transaction) (transaction.Transaction, error) {
	return t.data.createTransaction(tx)
}

func (t *txStore) UpdateTransaction(_ context.Context, tx transaction.Transaction) (transaction.Transaction, error) {
	return t.data.updateTransaction(tx)
}

func (t *txStore) GetTransaction(_ context.Context, id string) (transaction.Transaction, error) {
	return t.data.getTransaction(id)
}

func (t *txStore) ListTransactions(_ context.Context, profileID string, limit int) ([]transaction.Transaction, error) {
	return t.data.listTransactions(profileID, limit)
}

func (t *txStore) ListTransactionsByStatus(_ context.Context, txType transaction.Type, status transaction.Status, limit int) ([]transaction.Transaction, error) {
	return t.data.listTransactionsByStatus(txType, status, limit)
}

func (t *txStore) FindEarnByReference(_ context.Context, profileID, activityType, referenceID string) (transaction.Transaction, error) {
	return t.data.findEarnByReference(profileID, activityType, referenceID)
}

// --- dataset ----------------------------------------------------------------

type dataset struct {
	hubState     *hub.State
	movements    []hub.Movement
	ledgers      map[string]ledger.ProfileLedger
	transactions map[string]transaction.Transaction
	txOrder      []string
}

func newDataset() *dataset {
	return &dataset{
		ledgers:      make(map[string]ledger.ProfileLedger),
		transactions: make(map[string]transaction.Transaction),
	}
}

func (d *dataset) clone() *dataset {
	out := newDataset()
	if d.hubState != nil {
		state := *d.hubState
		out.hubState = &state
	}
	out.movements = append([]hub.Movement(nil), d.movements...)
	out.txOrder = append([]string(nil), d.txOrder...)
	for k, v := range d.ledgers {
		out.ledgers[k] = v
	}
	for k, v := range d.transactions {
		v.Metadata = v.Metadata.Clone()
		out.transactions[k] = v
	}
	return out
}

func (d *dataset) getHubState() (hub.State, error) {
	if d.hubState == nil {
		return hub.State{}, lederr.ErrNotFound
	}
	return *d.hubState, nil
}

func (d *dataset) createHubState(state hub.State) (hub.State, error) {
	if d.hubState != nil {
		return hub.State{}, lederr.ErrVersionConflict
	}
	if state.ID == "" {
		state.ID = hub.SingletonID
	}
	now := time.Now().UTC()
	state.Version = 1
	state.CreatedAt = now
	state.UpdatedAt = now
	d.hubState = &state
	return state, nil
}

func (d *dataset) updateHubState(state hub.State) (hub.State, error) {
	if d.hubState == nil {
		return hub.State{}, lederr.ErrNotFound
	}
	if d.hubState.Version != state.Version {
		return hub.State{}, lederr.ErrVersionConflict
	}
	state.ID = d.hubState.ID
	state.CreatedAt = d.hubState.CreatedAt
	state.Version++
	state.UpdatedAt = time.Now().UTC()
	d.hubState = &state
	return state, nil
}

func (d *dataset) createMovement(mv hub.Movement) (hub.Movement, error) {
	if mv.ID == "" {
		mv.ID = uuid.NewString()
	}
	if mv.CreatedAt.IsZero() {
		mv.CreatedAt = time.Now().UTC()
	}
	d.movements = append(d.movements, mv)
	return mv, nil
}

func (d *dataset) listMovements(limit int) ([]hub.Movement, error) {
	result := make([]hub.Movement, 0, len(d.movements))
	for i := len(d.movements) - 1; i >= 0; i-- {
		result = append(result, d.movements[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (d *dataset) getProfileLedger(profileID string) (ledger.ProfileLedger, error) {
	pl, ok := d.ledgers[profileID]
	if !ok {
		return ledger.ProfileLedger{}, lederr.ErrNotFound
	}
	return pl, nil
}

func (d *dataset) createProfileLedger(pl ledger.ProfileLedger) (ledger.ProfileLedger, error) {
	if _, exists := d.ledgers[pl.ProfileID]; exists {
		return ledger.ProfileLedger{}, lederr.ErrVersionConflict
	}
	now := time.Now().UTC()
	pl.Version = 1
	pl.CreatedAt = now
	pl.UpdatedAt = now
	d.ledgers[pl.ProfileID] = pl
	return pl, nil
}

func (d *dataset) updateProfileLedger(pl ledger.ProfileLedger) (ledger.ProfileLedger, error) {
	existing, ok := d.ledgers[pl.ProfileID]
	if !ok {
		return ledger.ProfileLedger{}, lederr.ErrNotFound
	}
	if existing.Version != pl.Version {
		return ledger.ProfileLedger{}, lederr.ErrVersionConflict
	}
	pl.CreatedAt = existing.CreatedAt
	pl.Version++
	pl.UpdatedAt = time.Now().UTC()
	d.ledgers[pl.ProfileID] = pl
	return pl, nil
}

func (d *dataset) createTransaction(tx transaction.Transaction) (transaction.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if _, exists := d.transactions[tx.ID]; exists {
		return transaction.Transaction{}, lederr.ErrVersionConflict
	}
	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	tx.Metadata = tx.Metadata.Clone()
	d.transactions[tx.ID] = tx
	d.txOrder = append(d.txOrder, tx.ID)
	tx.Metadata = tx.Metadata.Clone()
	return tx, nil
}

func (d *dataset) updateTransaction(tx transaction.Transaction) (transaction.Transaction, error) {
	existing, ok := d.transactions[tx.ID]
	if !ok {
		return transaction.Transaction{}, lederr.ErrNotFound
	}
	tx.CreatedAt = existing.CreatedAt
	tx.UpdatedAt = time.Now().UTC()
	tx.Metadata = tx.Metadata.Clone()
	d.transactions[tx.ID] = tx
	tx.Metadata = tx.Metadata.Clone()
	return tx, nil
}

func (d *dataset) getTransaction(id string) (transaction.Transaction, error) {
	tx, ok := d.transactions[id]
	if !ok {
		return transaction.Transaction{}, lederr.ErrNotFound
	}
	tx.Metadata = tx.Metadata.Clone()
	return tx, nil
}

func (d *dataset) listTransactions(profileID string, limit int) ([]transaction.Transaction, error) {
	var result []transaction.Transaction
	for i := len(d.txOrder) - 1; i >= 0; i-- {
		tx := d.transactions[d.txOrder[i]]
		if profileID != "" && tx.ProfileID != profileID {
			continue
		}
		tx.Metadata = tx.Metadata.Clone()
		result = append(result, tx)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (d *dataset) listTransactionsByStatus(txType transaction.Type, status transaction.Status, limit int) ([]transaction.Transaction, error) {
	var result []transaction.Transaction
	for i := len(d.txOrder) - 1; i >= 0; i-- {
		tx := d.transactions[d.txOrder[i]]
		if txType != "" && tx.Type != txType {
			continue
		}
		if status != "" && tx.Status != status {
			continue
		}
		tx.Metadata = tx.Metadata.Clone()
		result = append(result, tx)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (d *dataset) findEarnByReference(profileID, activityType, referenceID string) (transaction.Transaction, error) {
	for _, id := range d.txOrder {
		tx := d.transactions[id]
		if tx.Type != transaction.TypeEarn || tx.Status != transaction.StatusCompleted {
			continue
		}
		if tx.ProfileID != profileID || tx.ReferenceID != referenceID {
			continue
		}
		if tx.Metadata.Earn == nil || tx.Metadata.Earn.ActivityType != activityType {
			continue
		}
		tx.Metadata = tx.Metadata.Clone()
		return tx, nil
	}
	return transaction.Transaction{}, lederr.ErrNotFound
}
