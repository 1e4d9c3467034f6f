package storage

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/oplimit/pkg/app/core/orderstate"
)

type backend interface {
	orderstate.Backend
	Spend(digest common.Hash) error
}

func openBackends(t *testing.T) map[string]backend {
	t.Helper()
	ps, err := NewPebbleStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open pebble: %v", err)
	}
	t.Cleanup(func() { ps.Close() })
	return map[string]backend{
		"pebble": ps,
		"memory": NewInMemoryStore(),
	}
}

func TestBackendRawCounters(t *testing.T) {
	for name, b := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			id := common.HexToHash("0x01")

			raw, err := b.LoadRaw(id)
			if err != nil {
				t.Fatalf("LoadRaw failed: %v", err)
			}
			if raw.Sign() != 0 {
				t.Errorf("unused counter = %s, want 0", raw)
			}

			batch := b.NewBatch()
			if err := batch.SetRaw(id, big.NewInt(42)); err != nil {
				t.Fatalf("SetRaw failed: %v", err)
			}

			raw, _ = b.LoadRaw(id)
			if raw.Sign() != 0 {
				t.Errorf("counter visible before commit: %s", raw)
			}

			if err := batch.Commit(); err != nil {
				t.Fatalf("Commit failed: %v", err)
			}
			batch.Close()

			raw, _ = b.LoadRaw(id)
			if raw.Cmp(big.NewInt(42)) != 0 {
				t.Errorf("counter = %s, want 42", raw)
			}
		})
	}
}

func TestBackendFillsOrdered(t *testing.T) {
	for name, b := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			id := common.HexToHash("0x02")
			other := common.HexToHash("0x03")

			batch := b.NewBatch()
			for i, ts := range []int64{300, 100, 200} {
				rec := orderstate.FillRecord{
					OrderID:   id,
					Amount:    big.NewInt(int64(i + 1)),
					Timestamp: ts,
					Seq:       uint64(i),
				}
				if err := batch.AddFill(rec); err != nil {
					t.Fatalf("AddFill failed: %v", err)
				}
			}
			batch.AddFill(orderstate.FillRecord{OrderID: other, Amount: big.NewInt(9)})
			if err := batch.Commit(); err != nil {
				t.Fatalf("Commit failed: %v", err)
			}
			batch.Close()

			fills, err := b.LoadFills(id)
			if err != nil {
				t.Fatalf("LoadFills failed: %v", err)
			}
			if len(fills) != 3 {
				t.Fatalf("got %d fills, want 3", len(fills))
			}
			for i, f := range fills {
				if f.Seq != uint64(i) {
					t.Errorf("fills[%d].Seq = %d", i, f.Seq)
				}
				if f.Amount.Cmp(big.NewInt(int64(i+1))) != 0 {
					t.Errorf("fills[%d].Amount = %s", i, f.Amount)
				}
			}
		})
	}
}

func TestBackendSpend(t *testing.T) {
	for name, b := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			digest := common.HexToHash("0xabcd")
			if err := b.Spend(digest); err != nil {
				t.Fatalf("first Spend failed: %v", err)
			}
			if err := b.Spend(digest); err != ErrAlreadySpent {
				t.Errorf("second Spend = %v, want ErrAlreadySpent", err)
			}
			if err := b.Spend(common.HexToHash("0xabce")); err != nil {
				t.Errorf("Spend of other digest failed: %v", err)
			}
		})
	}
}

func TestPebbleStorePersists(t *testing.T) {
	dir := t.TempDir()
	id := common.HexToHash("0x04")

	ps, err := NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	batch := ps.NewBatch()
	batch.SetRaw(id, big.NewInt(1))
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	batch.Close()
	ps.Close()

	ps, err = NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("failed to reopen: %v", err)
	}
	defer ps.Close()
	raw, _ := ps.LoadRaw(id)
	if raw.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("counter after reopen = %s, want 1", raw)
	}
}

func TestKeyUpperBound(t *testing.T) {
	prefix := fillPrefix(common.HexToHash("0x05"))
	bound := keyUpperBound(prefix)
	if string(bound[:len(bound)-1]) != string(prefix[:len(prefix)-1]) {
		t.Fatal("bound changed more than the last byte")
	}
	if bound[len(bound)-1] != prefix[len(prefix)-1]+1 {
		t.Error("last byte not incremented")
	}
}
