// Package orderstate tracks fill progress per order identity.
//
// Each identity owns one raw counter: 0 means never touched, otherwise the
// logical remaining amount is raw-1. Writing raw=1 makes an order terminal
// (fully filled or cancelled). Counters are never deleted.
package orderstate

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FillRecord is one committed fill in an order's history.
type FillRecord struct {
	OrderID    common.Hash    `json:"orderId"`
	Kind       string         `json:"kind"`
	Owner      common.Address `json:"owner"`
	Filler     common.Address `json:"filler"`
	Amount     *big.Int       `json:"amount"`
	Remaining  *big.Int       `json:"remaining"`
	Result     *big.Int       `json:"result"`
	Commission *big.Int       `json:"commission"`
	Timestamp  int64          `json:"timestamp"`
	Seq        uint64         `json:"seq"`
}

// Backend persists raw counters and the fill log.
type Backend interface {
	// LoadRaw returns the raw counter, or zero when the identity is unused.
	LoadRaw(id common.Hash) (*big.Int, error)
	// LoadFills returns an order's fills in commit order.
	LoadFills(id common.Hash) ([]FillRecord, error)
	NewBatch() Batch
}

// Batch applies writes atomically on Commit.
type Batch interface {
	SetRaw(id common.Hash, raw *big.Int) error
	AddFill(rec FillRecord) error
	Commit() error
	Close() error
}

// Remaining maps a raw counter to the logical remaining amount.
func Remaining(raw, full *big.Int) *big.Int {
	if raw == nil || raw.Sign() == 0 {
		return new(big.Int).Set(full)
	}
	return new(big.Int).Sub(raw, big.NewInt(1))
}

// Store is the read side over a Backend; writes go through a Tx.
type Store struct {
	backend Backend
}

func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// RemainingRaw returns the stored counter.
func (s *Store) RemainingRaw(id common.Hash) (*big.Int, error) {
	return s.backend.LoadRaw(id)
}

// Remaining returns the logical remaining amount given the order's full amount.
func (s *Store) Remaining(id common.Hash, full *big.Int) (*big.Int, error) {
	raw, err := s.backend.LoadRaw(id)
	if err != nil {
		return nil, err
	}
	return Remaining(raw, full), nil
}

func (s *Store) Fills(id common.Hash) ([]FillRecord, error) {
	return s.backend.LoadFills(id)
}

// Begin starts a staged view. The caller serializes transactions.
func (s *Store) Begin() *Tx {
	return &Tx{
		backend: s.backend,
		raws:    make(map[common.Hash]*big.Int),
		fills:   make(map[common.Hash][]FillRecord),
	}
}
