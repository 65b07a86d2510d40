// Package hub models the global MyPts supply singleton and its movement log.
package hub

import (
	"fmt"
	"time"

	lederr "github.com/mypts-network/ledger/internal/errors"
)

// Pool identifies one of the supply pools tracked by the hub.
type Pool string

const (
	// PoolNone marks the source of freshly issued supply.
	PoolNone        Pool = "none"
	PoolHolding     Pool = "holding"
	PoolReserve     Pool = "reserve"
	PoolCirculating Pool = "circulating"
)

// SingletonID is the fixed identifier of the hub state row.
const SingletonID = "hub"

// State is the supply-accounting singleton. The invariant
// TotalSupply == CirculatingSupply + ReserveSupply + HoldingSupply holds at
// every committed state; mutations go through the transition methods below.
type State struct {
	ID                string
	TotalSupply       int64
	CirculatingSupply int64
	ReserveSupply     int64
	HoldingSupply     int64
	MaxSupply         int64
	ValuePerMyPt      float64
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Issue mints new supply into the holding pool.
func (s *State) Issue(amount int64) error {
	if amount <= 0 {
		return lederr.NewValidation("amount", "must be positive")
	}
	if s.MaxSupply > 0 && s.TotalSupply+amount > s.MaxSupply {
		return &lederr.HubCapacityError{
			Pool:      string(PoolNone),
			Available: s.MaxSupply - s.TotalSupply,
			Requested: amount,
		}
	}
	s.TotalSupply += amount
	s.HoldingSupply += amount
	return nil
}

// MoveHoldingToReserve allocates issued supply into the reserve.
func (s *State) MoveHoldingToReserve(amount int64) error {
	return s.move(&s.HoldingSupply, &s.ReserveSupply, PoolHolding, amount)
}

// MoveReserveToCirculating backs a profile credit with reserve supply.
func (s *State) MoveReserveToCirculating(amount int64) error {
	return s.move(&s.ReserveSupply, &s.CirculatingSupply, PoolReserve, amount)
}

// MoveCirculatingToReserve returns supply leaving profile balances to the
// reserve (sell settlement, withdrawals).
func (s *State) MoveCirculatingToReserve(amount int64) error {
	return s.move(&s.CirculatingSupply, &s.ReserveSupply, PoolCirculating, amount)
}

func (s *State) move(from, to *int64, fromPool Pool, amount int64) error {
	if amount <= 0 {
		return lederr.NewValidation("amount", "must be positive")
	}
	if *from < amount {
		return &lederr.HubCapacityError{Pool: string(fromPool), Available: *from, Requested: amount}
	}
	*from -= amount
	*to += amount
	return nil
}

// CheckInvariant verifies supply conservation and pool bounds.
func (s State) CheckInvariant() error {
	if s.CirculatingSupply < 0 || s.ReserveSupply < 0 || s.HoldingSupply < 0 {
		return fmt.Errorf("hub pool below zero: circulating=%d reserve=%d holding=%d",
			s.CirculatingSupply, s.ReserveSupply, s.HoldingSupply)
	}
	if sum := s.CirculatingSupply + s.ReserveSupply + s.HoldingSupply; sum != s.TotalSupply {
		return fmt.Errorf("hub supply mismatch: pools sum to %d, total is %d", sum, s.TotalSupply)
	}
	if s.MaxSupply > 0 && s.TotalSupply > s.MaxSupply {
		return fmt.Errorf("total supply %d exceeds max supply %d", s.TotalSupply, s.MaxSupply)
	}
	return nil
}

// Movement is one append-only pool-to-pool audit record.
type Movement struct {
	ID                   string
	Amount               int64
	FromPool             Pool
	ToPool               Pool
	Reason               string
	ActorID              string
	RelatedTransactionID string
	CreatedAt            time.Time
}
