// Package price decides whether an order's limit condition holds against
// an oracle quote.
//
// Prices are token0 quoted in token1 at 1e18 scale. For an order with
// longToken=false the position holds token0, so an open waits for the price
// to drop to price0 and a take-profit close waits for it to rise. Everything
// flips for longToken=true. A stop-loss close triggers on the opposite,
// strict crossing and additionally requires a fresh feed.
package price

import (
	"math/big"
	"time"

	"github.com/uhyunpark/oplimit/pkg/app/core"
)

// DefaultFreshness is how old a quote may be for a stop-loss trigger.
const DefaultFreshness = 60 * time.Second

type Guard struct {
	Freshness time.Duration
	// CheckTWAP requires a stop-loss to be confirmed by the oracle's
	// average price when one is supplied.
	CheckTWAP bool
}

func NewGuard(freshness time.Duration, checkTWAP bool) *Guard {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	return &Guard{Freshness: freshness, CheckTWAP: checkTWAP}
}

// Skip reports whether the order is a market order (price0 == 0), in which
// case no quote is needed.
func Skip(o *core.Order) bool {
	return o.Price0 == nil || o.Price0.Sign() == 0
}

// CheckOpen returns PRE when the quote does not satisfy an open order.
func (g *Guard) CheckOpen(o *core.Order, q core.Quote) error {
	if Skip(o) {
		return nil
	}
	p, err := spot(q)
	if err != nil {
		return err
	}
	c := p.Cmp(o.Price0)
	if !o.LongToken && c > 0 || o.LongToken && c < 0 {
		return core.ErrPrice
	}
	return nil
}

// CheckClose returns PRE or UPF when the quote does not satisfy a close
// order at time now.
func (g *Guard) CheckClose(o *core.CloseOrder, q core.Quote, now time.Time) error {
	if Skip(&o.Order) {
		return nil
	}
	p, err := spot(q)
	if err != nil {
		return err
	}
	if !o.IsStopLoss {
		c := p.Cmp(o.Price0)
		if !o.LongToken && c < 0 || o.LongToken && c > 0 {
			return core.ErrPrice
		}
		return nil
	}

	if age := now.Sub(q.UpdatedAt); age > g.freshness() {
		return core.Errorf(core.CodeUnreliablePrice, "quote is "+age.Truncate(time.Second).String()+" old")
	}
	if !stopCrossed(p, o) {
		return core.ErrPrice
	}
	if g.CheckTWAP && q.TWAP != nil {
		if !stopCrossed(core.Normalize(q.TWAP, q.Decimals), o) {
			return core.Errorf(core.CodeUnreliablePrice, "average price has not crossed the stop")
		}
	}
	return nil
}

func (g *Guard) freshness() time.Duration {
	if g.Freshness <= 0 {
		return DefaultFreshness
	}
	return g.Freshness
}

func stopCrossed(p *big.Int, o *core.CloseOrder) bool {
	c := p.Cmp(o.Price0)
	if o.LongToken {
		return c > 0
	}
	return c < 0
}

func spot(q core.Quote) (*big.Int, error) {
	if q.Price == nil || q.Price.Sign() < 0 {
		return nil, core.Errorf(core.CodeUnreliablePrice, "oracle returned no price")
	}
	return core.Normalize(q.Price, q.Decimals), nil
}
