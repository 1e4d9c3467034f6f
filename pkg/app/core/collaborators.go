package core

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarginEngine opens and closes leveraged positions and moves collateral.
// Errors are fatal to the fill attempt and are propagated unchanged.
type MarginEngine interface {
	Address() common.Address
	// OpenPositionFor opens on behalf of owner and returns the held amount acquired.
	OpenPositionFor(ctx context.Context, req OpenPositionRequest) (*big.Int, error)
	// ClosePositionFor closes on behalf of owner and returns the deposit returned.
	ClosePositionFor(ctx context.Context, req ClosePositionRequest) (*big.Int, error)
	// ClosePosition is the owner's own close, used by close-and-cancel.
	ClosePosition(ctx context.Context, req DirectCloseRequest) (*big.Int, error)
}

type OpenPositionRequest struct {
	Owner        common.Address
	MarketID     uint16
	LongToken    bool
	DepositToken bool
	Deposit      *big.Int
	Borrow       *big.Int
	MinHeld      *big.Int
	RoutingData  []byte
}

type ClosePositionRequest struct {
	Owner        common.Address
	MarketID     uint16
	LongToken    bool
	DepositToken bool
	CloseHeld    *big.Int
	MinReturn    *big.Int
	RoutingData  []byte
}

type DirectCloseRequest struct {
	Owner       common.Address
	MarketID    uint16
	LongToken   bool
	CloseHeld   *big.Int
	MinReturn   *big.Int
	RoutingData []byte
}

// Quote is an oracle reading. Price and TWAP are scaled by 10^Decimals;
// TWAP may be nil when the feed has no average.
type Quote struct {
	Price     *big.Int
	TWAP      *big.Int
	Decimals  uint8
	UpdatedAt time.Time
}

// PriceOracle supplies spot prices for a market, quoted as token0 in token1.
type PriceOracle interface {
	Address() common.Address
	CurrentPrice(ctx context.Context, marketID uint16) (Quote, error)
}

// TokenLedger moves fungible balances between accounts.
type TokenLedger interface {
	TransferFrom(ctx context.Context, token, from, to common.Address, amount *big.Int) error
}
