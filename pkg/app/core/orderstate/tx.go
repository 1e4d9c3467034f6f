package orderstate

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/oplimit/pkg/app/core"
)

var ErrTxDone = errors.New("orderstate: transaction already finished")

var rawTerminal = big.NewInt(1)

// Tx stages counter writes and fills until Commit. Reads observe earlier
// staged writes.
type Tx struct {
	backend Backend
	raws    map[common.Hash]*big.Int
	order   []common.Hash
	fills   map[common.Hash][]FillRecord
	fillIDs []common.Hash
	done    bool
}

// Raw returns the staged counter, falling back to the backend.
func (t *Tx) Raw(id common.Hash) (*big.Int, error) {
	if t.done {
		return nil, ErrTxDone
	}
	if raw, ok := t.raws[id]; ok {
		return new(big.Int).Set(raw), nil
	}
	return t.backend.LoadRaw(id)
}

func (t *Tx) Remaining(id common.Hash, full *big.Int) (*big.Int, error) {
	raw, err := t.Raw(id)
	if err != nil {
		return nil, err
	}
	return Remaining(raw, full), nil
}

// Consume subtracts amount from the remaining progress of id and returns
// the new remaining. A terminal order fails with RD0 before the amount is
// compared, so an exhausted order never reports FTB.
func (t *Tx) Consume(id common.Hash, amount, full *big.Int) (*big.Int, error) {
	rem, err := t.Remaining(id, full)
	if err != nil {
		return nil, err
	}
	if rem.Sign() == 0 {
		return nil, core.ErrRemainingZero
	}
	if amount.Cmp(rem) > 0 {
		return nil, core.Errorf(core.CodeFillTooBig, fmt.Sprintf("fill %s exceeds remaining %s", amount, rem))
	}
	rem.Sub(rem, amount)
	t.set(id, new(big.Int).Add(rem, rawTerminal))
	return rem, nil
}

// Cancel makes id terminal. Cancelling a terminal or unused identity is
// allowed and leaves it terminal.
func (t *Tx) Cancel(id common.Hash) error {
	if t.done {
		return ErrTxDone
	}
	t.set(id, rawTerminal)
	return nil
}

// RecordFill stages a fill and assigns its sequence number.
func (t *Tx) RecordFill(rec FillRecord) (FillRecord, error) {
	if t.done {
		return rec, ErrTxDone
	}
	existing, err := t.backend.LoadFills(rec.OrderID)
	if err != nil {
		return rec, fmt.Errorf("failed to load fills: %w", err)
	}
	staged := t.fills[rec.OrderID]
	rec.Seq = uint64(len(existing) + len(staged))
	if len(staged) == 0 {
		t.fillIDs = append(t.fillIDs, rec.OrderID)
	}
	t.fills[rec.OrderID] = append(staged, rec)
	return rec, nil
}

func (t *Tx) set(id common.Hash, raw *big.Int) {
	if _, ok := t.raws[id]; !ok {
		t.order = append(t.order, id)
	}
	t.raws[id] = new(big.Int).Set(raw)
}

// Commit writes every staged change in one batch.
func (t *Tx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if len(t.order) == 0 && len(t.fillIDs) == 0 {
		return nil
	}

	batch := t.backend.NewBatch()
	defer batch.Close()
	for _, id := range t.order {
		if err := batch.SetRaw(id, t.raws[id]); err != nil {
			return fmt.Errorf("failed to stage counter: %w", err)
		}
	}
	for _, id := range t.fillIDs {
		for _, rec := range t.fills[id] {
			if err := batch.AddFill(rec); err != nil {
				return fmt.Errorf("failed to stage fill: %w", err)
			}
		}
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("failed to commit order state: %w", err)
	}
	return nil
}

// Discard drops all staged changes. Safe after Commit.
func (t *Tx) Discard() {
	t.done = true
	t.raws = nil
	t.fills = nil
}
