package storage

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/oplimit/pkg/app/core/orderstate"
)

// ErrAlreadySpent is returned when an owner request digest is reused.
var ErrAlreadySpent = errors.New("owner request already used")

type PebbleStore struct {
	db *pebble.DB
	mu sync.Mutex // serializes Spend
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}
func (s *PebbleStore) Close() error { return s.db.Close() }

// LoadRaw loads an order's raw counter from Pebble
// Returns zero if the order was never touched
func (s *PebbleStore) LoadRaw(id common.Hash) (*big.Int, error) {
	val, closer, err := s.db.Get(remainingKey(id))
	if err == pebble.ErrNotFound {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get counter: %w", err)
	}
	defer closer.Close()
	return decodeRaw(val), nil
}

// LoadFills loads every fill of an order, oldest first
func (s *PebbleStore) LoadFills(id common.Hash) ([]orderstate.FillRecord, error) {
	prefix := fillPrefix(id)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var fills []orderstate.FillRecord
	for iter.First(); iter.Valid(); iter.Next() {
		rec, err := decodeFill(iter.Value())
		if err != nil {
			return nil, err
		}
		fills = append(fills, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to scan fills: %w", err)
	}
	sortFills(fills)
	return fills, nil
}

func (s *PebbleStore) NewBatch() orderstate.Batch {
	return &pebbleBatch{b: s.db.NewBatch()}
}

// Spend marks an owner request digest as used
// Returns ErrAlreadySpent if it was marked before
func (s *PebbleStore) Spend(digest common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := authKey(digest)
	_, closer, err := s.db.Get(key)
	if err == nil {
		closer.Close()
		return ErrAlreadySpent
	}
	if err != pebble.ErrNotFound {
		return fmt.Errorf("failed to check request: %w", err)
	}
	if err := s.db.Set(key, []byte{1}, pebble.Sync); err != nil {
		return fmt.Errorf("failed to spend request: %w", err)
	}
	return nil
}

type pebbleBatch struct {
	b *pebble.Batch
}

func (pb *pebbleBatch) SetRaw(id common.Hash, raw *big.Int) error {
	return pb.b.Set(remainingKey(id), encodeRaw(raw), nil)
}

func (pb *pebbleBatch) AddFill(rec orderstate.FillRecord) error {
	data, err := encodeFill(rec)
	if err != nil {
		return err
	}
	return pb.b.Set(fillKey(rec.OrderID, rec.Timestamp, rec.Seq), data, nil)
}

func (pb *pebbleBatch) Commit() error { return pb.b.Commit(pebble.Sync) }
func (pb *pebbleBatch) Close() error  { return pb.b.Close() }

var _ orderstate.Backend = (*PebbleStore)(nil)
