// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mypts-network/ledger/internal/app/domain/hub"
	"github.com/mypts-network/ledger/internal/app/domain/ledger"
	"github.com/mypts-network/ledger/internal/app/domain/transaction"
	"github.com/mypts-network/ledger/internal/app/storage"
	lederr "github.com/mypts-network/ledger/internal/errors"
)

// uniqueEarnConstraint is the partial unique index guarding reward idempotence.
const uniqueEarnConstraint = "transactions_unique_earn"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store implements storage.Store against a PostgreSQL database.
type Store struct {
	db   *sql.DB
	q    querier
	inTx bool
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// InTx runs fn inside one database transaction. Nested calls reuse the
// enclosing transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.TxStore) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(ctx, &Store{db: s.db, q: tx, inTx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- HubStore ---------------------------------------------------------------

func (s *Store) GetHubState(ctx context.Context) (hub.State, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, total_supply, circulating_supply, reserve_supply, holding_supply,
		       max_supply, value_per_mypt, version, created_at, updated_at
		FROM hub_state
		WHERE id = $1
	`, hub.SingletonID)

	var state hub.State
	err := row.Scan(&state.ID, &state.TotalSupply, &state.CirculatingSupply,
		&state.ReserveSupply, &state.HoldingSupply, &state.MaxSupply,
		&state.ValuePerMyPt, &state.Version, &state.CreatedAt, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return hub.State{}, lederr.ErrNotFound
	}
	if err != nil {
		return hub.State{}, err
	}
	return state, nil
}

func (s *Store) CreateHubState(ctx context.Context, state hub.State) (hub.State, error) {
	if state.ID == "" {
		state.ID = hub.SingletonID
	}
	now := time.Now().UTC()
	state.Version = 1
	state.CreatedAt = now
	state.UpdatedAt = now

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO hub_state (id, total_supply, circulating_supply, reserve_supply,
		                       holding_supply, max_supply, value_per_mypt, version,
		                       created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, state.ID, state.TotalSupply, state.CirculatingSupply, state.ReserveSupply,
		state.HoldingSupply, state.MaxSupply, state.ValuePerMyPt, state.Version,
		state.CreatedAt, state.UpdatedAt)
	if err != nil {
		return hub.State{}, err
	}
	return state, nil
}

func (s *Store) UpdateHubState(ctx context.Context, state hub.State) (hub.State, error) {
	next := state
	next.Version = state.Version + 1
	next.UpdatedAt = time.Now().UTC()

	result, err := s.q.ExecContext(ctx, `
		UPDATE hub_state
		SET total_supply = $2, circulating_supply = $3, reserve_supply = $4,
		    holding_supply = $5, max_supply = $6, value_per_mypt = $7,
		    version = $8, updated_at = $9
		WHERE id = $1 AND version = $10
	`, state.ID, next.TotalSupply, next.CirculatingSupply, next.ReserveSupply,
		next.HoldingSupply, next.MaxSupply, next.ValuePerMyPt, next.Version,
		next.UpdatedAt, state.Version)
	if err != nil {
		return hub.State{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return hub.State{}, lederr.ErrVersionConflict
	}
	return next, nil
}

// --- MovementStore ----------------------------------------------------------

func (s *Store) CreateMovement(ctx context.Context, mv hub.Movement) (hub.Movement, error) {
	if mv.ID == "" {
		mv.ID = uuid.NewString()
	}
	if mv.CreatedAt.IsZero() {
		mv.CreatedAt = time.Now().UTC()
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO hub_movements (id, amount, from_pool, to_pool, reason, actor_id,
		                           related_transaction_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, mv.ID, mv.Amount, string(mv.FromPool), string(mv.ToPool), mv.Reason,
		nullString(mv.ActorID), nullString(mv.RelatedTransactionID), mv.CreatedAt)
	if err != nil {
		return hub.Movement{}, err
	}
	return mv, nil
}

func (s *Store) ListMovements(ctx context.Context, limit int) ([]hub.Movement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, amount, from_pool, to_pool, reason, actor_id,
		       related_transaction_id, created_at
		FROM hub_movements
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []hub.Movement
	for rows.Next() {
		var (
			mv               hub.Movement
			fromPool, toPool string
			actor, related   sql.NullString
		)
		if err := rows.Scan(&mv.ID, &mv.Amount, &fromPool, &toPool, &mv.Reason,
			&actor, &related, &mv.CreatedAt); err != nil {
			return nil, err
		}
		mv.FromPool = hub.Pool(fromPool)
		mv.ToPool = hub.Pool(toPool)
		mv.ActorID = actor.String
		mv.RelatedTransactionID = related.String
		result = append(result, mv)
	}
	return result, rows.Err()
}

// --- LedgerStore ------------------------------------------------------------

func (s *Store) GetProfileLedger(ctx context.Context, profileID string) (ledger.ProfileLedger, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT profile_id, balance, lifetime_earned, lifetime_spent,
		       last_transaction_at, version, created_at, updated_at
		FROM profile_ledgers
		WHERE profile_id = $1
	`, profileID)

	var pl ledger.ProfileLedger
	err := row.Scan(&pl.ProfileID, &pl.Balance, &pl.LifetimeEarned, &pl.LifetimeSpent,
		&pl.LastTransactionAt, &pl.Version, &pl.CreatedAt, &pl.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ProfileLedger{}, lederr.ErrNotFound
	}
	if err != nil {
		return ledger.ProfileLedger{}, err
	}
	return pl, nil
}

func (s *Store) CreateProfileLedger(ctx context.Context, pl ledger.ProfileLedger) (ledger.ProfileLedger, error) {
	now := time.Now().UTC()
	pl.Version = 1
	pl.CreatedAt = now
	pl.UpdatedAt = now
	if pl.LastTransactionAt.IsZero() {
		pl.LastTransactionAt = now
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO profile_ledgers (profile_id, balance, lifetime_earned, lifetime_spent,
		                             last_transaction_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, pl.ProfileID, pl.Balance, pl.LifetimeEarned, pl.LifetimeSpent,
		pl.LastTransactionAt, pl.Version, pl.CreatedAt, pl.UpdatedAt)
	if isUniqueViolation(err, "") {
		// Concurrent lazy creation; loser retries and reads the winner's row.
		return ledger.ProfileLedger{}, lederr.ErrVersionConflict
	}
	if err != nil {
		return ledger.ProfileLedger{}, err
	}
	return pl, nil
}

func (s *Store) UpdateProfileLedger(ctx context.Context, pl ledger.ProfileLedger) (ledger.ProfileLedger, error) {
	next := pl
	next.Version = pl.Version + 1
	next.UpdatedAt = time.Now().UTC()

	result, err := s.q.ExecContext(ctx, `
		UPDATE profile_ledgers
		SET balance = $2, lifetime_earned = $3, lifetime_spent = $4,
		    last_transaction_at = $5, version = $6, updated_at = $7
		WHERE profile_id = $1 AND version = $8
	`, pl.ProfileID, next.Balance, next.LifetimeEarned, next.LifetimeSpent,
		next.LastTransactionAt, next.Version, next.UpdatedAt, pl.Version)
	if err != nil {
		return ledger.ProfileLedger{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ledger.ProfileLedger{}, lederr.ErrVersionConflict
	}
	return next, nil
}

// --- TransactionStore -------------------------------------------------------

func (s *Store) CreateTransaction(ctx context.Context, tx transaction.Transaction) (transaction.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now

	metadataJSON, err := json.Marshal(tx.Metadata)
	if err != nil {
		return transaction.Transaction{}, err
	}

	// reference_id stays '' rather than NULL: it is part of the earn
	// uniqueness key, and NULLs never collide in the unique index.
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO transactions (id, profile_id, type, amount, balance_after, status,
		                          related_transaction_id, reference_id, metadata,
		                          created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, tx.ID, tx.ProfileID, string(tx.Type), tx.Amount, tx.BalanceAfter, string(tx.Status),
		nullString(tx.RelatedTransactionID), tx.ReferenceID, metadataJSON,
		tx.CreatedAt, tx.UpdatedAt)
	if isUniqueViolation(err, uniqueEarnConstraint) {
		return transaction.Transaction{}, &lederr.DuplicateRewardError{
			ProfileID:    tx.ProfileID,
			ActivityType: earnActivity(tx),
			ReferenceID:  tx.ReferenceID,
		}
	}
	if err != nil {
		return transaction.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) UpdateTransaction(ctx context.Context, tx transaction.Transaction) (transaction.Transaction, error) {
	tx.UpdatedAt = time.Now().UTC()

	metadataJSON, err := json.Marshal(tx.Metadata)
	if err != nil {
		return transaction.Transaction{}, err
	}

	result, err := s.q.ExecContext(ctx, `
		UPDATE transactions
		SET amount = $2, balance_after = $3, status = $4, related_transaction_id = $5,
		    reference_id = $6, metadata = $7, updated_at = $8
		WHERE id = $1
	`, tx.ID, tx.Amount, tx.BalanceAfter, string(tx.Status),
		nullString(tx.RelatedTransactionID), tx.ReferenceID, metadataJSON,
		tx.UpdatedAt)
	if err != nil {
		return transaction.Transaction{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return transaction.Transaction{}, lederr.ErrNotFound
	}
	return tx, nil
}

const transactionColumns = `id, profile_id, type, amount, balance_after, status,
	related_transaction_id, reference_id, metadata, created_at, updated_at`

func (s *Store) GetTransaction(ctx context.Context, id string) (transaction.Transaction, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1
	`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return transaction.Transaction{}, lederr.ErrNotFound
	}
	return tx, err
}

func (s *Store) ListTransactions(ctx context.Context, profileID string, limit int) ([]transaction.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE $1 = '' OR profile_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, profileID, limit)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (s *Store) ListTransactionsByStatus(ctx context.Context, txType transaction.Type, status transaction.Status, limit int) ([]transaction.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE ($1 = '' OR type = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, string(txType), string(status), limit)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (s *Store) FindEarnByReference(ctx context.Context, profileID, activityType, referenceID string) (transaction.Transaction, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE profile_id = $1
		  AND type = 'EARN'
		  AND status = 'COMPLETED'
		  AND reference_id = $2
		  AND metadata->'earn'->>'activity_type' = $3
		LIMIT 1
	`, profileID, referenceID, activityType)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return transaction.Transaction{}, lederr.ErrNotFound
	}
	return tx, err
}

// --- helpers ----------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (transaction.Transaction, error) {
	var (
		tx              transaction.Transaction
		txType, status  string
		related, refID  sql.NullString
		metadataRaw     []byte
	)
	if err := row.Scan(&tx.ID, &tx.ProfileID, &txType, &tx.Amount, &tx.BalanceAfter,
		&status, &related, &refID, &metadataRaw, &tx.CreatedAt, &tx.UpdatedAt); err != nil {
		return transaction.Transaction{}, err
	}
	tx.Type = transaction.Type(txType)
	tx.Status = transaction.Status(status)
	tx.RelatedTransactionID = related.String
	tx.ReferenceID = refID.String
	if len(metadataRaw) > 0 {
		_ = json.Unmarshal(metadataRaw, &tx.Metadata)
	}
	return tx, nil
}

func collectTransactions(rows *sql.Rows) ([]transaction.Transaction, error) {
	defer rows.Close()
	var result []transaction.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

func earnActivity(tx transaction.Transaction) string {
	if tx.Metadata.Earn != nil {
		return tx.Metadata.Earn.ActivityType
	}
	return ""
}
