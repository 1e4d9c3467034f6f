package devnet

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/oplimit/pkg/app/core"
)

// Oracle returns whatever quote was last set per market.
type Oracle struct {
	mu      sync.RWMutex
	address common.Address
	quotes  map[uint16]core.Quote
	calls   int
}

func NewOracle(address common.Address) *Oracle {
	return &Oracle{address: address, quotes: make(map[uint16]core.Quote)}
}

func (o *Oracle) Address() common.Address { return o.address }

// SetPrice stores an 18-decimal spot price and optional average.
func (o *Oracle) SetPrice(marketID uint16, price, twap *big.Int, updatedAt time.Time) {
	o.SetQuote(marketID, core.Quote{Price: price, TWAP: twap, Decimals: core.PriceDecimals, UpdatedAt: updatedAt})
}

func (o *Oracle) SetQuote(marketID uint16, q core.Quote) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.quotes[marketID] = q
}

func (o *Oracle) CurrentPrice(_ context.Context, marketID uint16) (core.Quote, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	q, ok := o.quotes[marketID]
	if !ok {
		return core.Quote{}, fmt.Errorf("no price for market %d", marketID)
	}
	return q, nil
}

// Calls counts CurrentPrice invocations.
func (o *Oracle) Calls() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.calls
}

var _ core.PriceOracle = (*Oracle)(nil)
