package price

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/uhyunpark/oplimit/pkg/app/core"
)

func e18(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), core.PriceScale) }

func quote(p int64, at time.Time) core.Quote {
	return core.Quote{Price: e18(p), Decimals: 18, UpdatedAt: at}
}

func order(long bool, price0 int64) core.Order {
	return core.Order{LongToken: long, Price0: e18(price0)}
}

func TestCheckOpen(t *testing.T) {
	g := NewGuard(0, false)
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name    string
		long    bool
		price0  int64
		price   int64
		wantErr error
	}{
		{"short side fills at limit", false, 2, 2, nil},
		{"short side fills below limit", false, 2, 1, nil},
		{"short side rejects above limit", false, 2, 3, core.ErrPrice},
		{"long side fills at limit", true, 2, 2, nil},
		{"long side fills above limit", true, 2, 3, nil},
		{"long side rejects below limit", true, 2, 1, core.ErrPrice},
		{"market order ignores price", false, 0, 99, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := order(tt.long, tt.price0)
			err := g.CheckOpen(&o, quote(tt.price, now))
			if !errors.Is(err, tt.wantErr) && !(err == nil && tt.wantErr == nil) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckCloseTakeProfit(t *testing.T) {
	g := NewGuard(0, false)
	now := time.Unix(1_700_000_000, 0)
	stale := now.Add(-time.Hour)

	tests := []struct {
		name    string
		long    bool
		price   int64
		wantErr error
	}{
		{"short side at limit", false, 2, nil},
		{"short side above limit", false, 3, nil},
		{"short side below limit", false, 1, core.ErrPrice},
		{"long side at limit", true, 2, nil},
		{"long side below limit", true, 1, nil},
		{"long side above limit", true, 3, core.ErrPrice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &core.CloseOrder{Order: order(tt.long, 2)}
			// freshness only applies to stop-loss
			err := g.CheckClose(o, quote(tt.price, stale), now)
			if !errors.Is(err, tt.wantErr) && !(err == nil && tt.wantErr == nil) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckCloseStopLoss(t *testing.T) {
	g := NewGuard(60*time.Second, false)
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name    string
		long    bool
		price   int64
		age     time.Duration
		wantErr error
	}{
		{"short side crossed", false, 1, 0, nil},
		{"short side at stop is not crossed", false, 2, 0, core.ErrPrice},
		{"short side not crossed", false, 3, 0, core.ErrPrice},
		{"long side crossed", true, 3, 0, nil},
		{"long side at stop is not crossed", true, 2, 0, core.ErrPrice},
		{"window edge is fresh", false, 1, 60 * time.Second, nil},
		{"stale feed", false, 1, 61 * time.Second, core.ErrUnreliablePrice},
		{"stale beats price", false, 3, 2 * time.Minute, core.ErrUnreliablePrice},
		{"future update is fresh", false, 1, -time.Minute, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &core.CloseOrder{Order: order(tt.long, 2), IsStopLoss: true}
			err := g.CheckClose(o, quote(tt.price, now.Add(-tt.age)), now)
			if !errors.Is(err, tt.wantErr) && !(err == nil && tt.wantErr == nil) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckCloseStopLossTWAP(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	o := &core.CloseOrder{Order: order(false, 2), IsStopLoss: true}
	q := quote(1, now)
	q.TWAP = e18(3)

	if err := NewGuard(0, false).CheckClose(o, q, now); err != nil {
		t.Errorf("twap ignored when disabled, got %v", err)
	}
	if err := NewGuard(0, true).CheckClose(o, q, now); !errors.Is(err, core.ErrUnreliablePrice) {
		t.Errorf("err = %v, want UPF", err)
	}
	q.TWAP = e18(1)
	if err := NewGuard(0, true).CheckClose(o, q, now); err != nil {
		t.Errorf("crossed twap rejected: %v", err)
	}
}

func TestQuoteDecimalsNormalized(t *testing.T) {
	g := NewGuard(0, false)
	o := order(false, 2)
	// 1.5 with 8 decimals
	q := core.Quote{Price: big.NewInt(150_000_000), Decimals: 8}
	if err := g.CheckOpen(&o, q); err != nil {
		t.Errorf("normalized price rejected: %v", err)
	}
	q.Price = big.NewInt(250_000_000)
	if err := g.CheckOpen(&o, q); !errors.Is(err, core.ErrPrice) {
		t.Errorf("err = %v, want PRE", err)
	}
}
