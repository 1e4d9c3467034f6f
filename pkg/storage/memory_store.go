package storage

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/oplimit/pkg/app/core/orderstate"
)

type InMemoryStore struct {
	mu    sync.RWMutex
	raws  map[common.Hash]*big.Int
	fills map[common.Hash][]orderstate.FillRecord
	spent map[common.Hash]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		raws:  make(map[common.Hash]*big.Int),
		fills: make(map[common.Hash][]orderstate.FillRecord),
		spent: make(map[common.Hash]struct{}),
	}
}

func (s *InMemoryStore) LoadRaw(id common.Hash) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if raw, ok := s.raws[id]; ok {
		return new(big.Int).Set(raw), nil
	}
	return new(big.Int), nil
}

func (s *InMemoryStore) LoadFills(id common.Hash) ([]orderstate.FillRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]orderstate.FillRecord(nil), s.fills[id]...), nil
}

func (s *InMemoryStore) NewBatch() orderstate.Batch {
	return &memoryBatch{store: s}
}

func (s *InMemoryStore) Spend(digest common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.spent[digest]; ok {
		return ErrAlreadySpent
	}
	s.spent[digest] = struct{}{}
	return nil
}

type memoryBatch struct {
	store *InMemoryStore
	ops   []func()
}

func (b *memoryBatch) SetRaw(id common.Hash, raw *big.Int) error {
	v := new(big.Int).Set(raw)
	b.ops = append(b.ops, func() { b.store.raws[id] = v })
	return nil
}

func (b *memoryBatch) AddFill(rec orderstate.FillRecord) error {
	b.ops = append(b.ops, func() {
		fills := append(b.store.fills[rec.OrderID], rec)
		sortFills(fills)
		b.store.fills[rec.OrderID] = fills
	})
	return nil
}

func (b *memoryBatch) Commit() error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	for _, op := range b.ops {
		op()
	}
	b.ops = nil
	return nil
}

func (b *memoryBatch) Close() error {
	b.ops = nil
	return nil
}

var _ orderstate.Backend = (*InMemoryStore)(nil)
