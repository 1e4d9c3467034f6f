package devnet

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/oplimit/pkg/app/core"
)

// Market is a token pair the margin engine trades.
type Market struct {
	Token0 common.Address
	Token1 common.Address
}

// Token returns token1 when side is true, else token0.
func (m Market) Token(side bool) common.Address {
	if side {
		return m.Token1
	}
	return m.Token0
}

type positionKey struct {
	owner     common.Address
	marketID  uint16
	longToken bool
}

// MarginEngine keeps held amounts per (owner, market, side). Deposits are
// pulled from the owner on open and returns are paid out on close. Results
// default to deposit+borrow held on open and closeHeld returned on close,
// and can be overridden with SetNewHeld and SetDepositReturn.
type MarginEngine struct {
	mu      sync.Mutex
	address common.Address
	ledger  *Ledger
	markets map[uint16]Market

	positions map[positionKey]*big.Int

	newHeld       *big.Int
	depositReturn *big.Int
	failNext      error
}

func NewMarginEngine(address common.Address, ledger *Ledger) *MarginEngine {
	return &MarginEngine{
		address:   address,
		ledger:    ledger,
		markets:   make(map[uint16]Market),
		positions: make(map[positionKey]*big.Int),
	}
}

func (m *MarginEngine) Address() common.Address { return m.address }

func (m *MarginEngine) AddMarket(id uint16, market Market) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markets[id] = market
}

// SetNewHeld fixes the held amount returned by every open; nil restores
// the default.
func (m *MarginEngine) SetNewHeld(v *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.newHeld = v
}

// SetDepositReturn fixes the amount returned by every close; nil restores
// the default.
func (m *MarginEngine) SetDepositReturn(v *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depositReturn = v
}

// FailNext makes the next call return err.
func (m *MarginEngine) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// SetPosition overwrites a held amount.
func (m *MarginEngine) SetPosition(owner common.Address, marketID uint16, longToken bool, held *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[positionKey{owner, marketID, longToken}] = new(big.Int).Set(held)
}

func (m *MarginEngine) Position(owner common.Address, marketID uint16, longToken bool) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.positions[positionKey{owner, marketID, longToken}]; ok {
		return new(big.Int).Set(held)
	}
	return new(big.Int)
}

func (m *MarginEngine) OpenPositionFor(_ context.Context, req core.OpenPositionRequest) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	market, ok := m.markets[req.MarketID]
	if !ok {
		return nil, fmt.Errorf("unknown market %d", req.MarketID)
	}
	if m.ledger != nil {
		if err := m.ledger.TransferFrom(context.Background(), market.Token(req.DepositToken), req.Owner, m.address, req.Deposit); err != nil {
			return nil, fmt.Errorf("pull deposit: %w", err)
		}
	}

	held := new(big.Int).Add(req.Deposit, req.Borrow)
	if m.newHeld != nil {
		held = new(big.Int).Set(m.newHeld)
	}
	key := positionKey{req.Owner, req.MarketID, req.LongToken}
	pos, ok := m.positions[key]
	if !ok {
		pos = new(big.Int)
		m.positions[key] = pos
	}
	pos.Add(pos, held)
	return held, nil
}

func (m *MarginEngine) ClosePositionFor(_ context.Context, req core.ClosePositionRequest) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	return m.close(req.Owner, req.MarketID, req.LongToken, req.DepositToken, req.CloseHeld)
}

func (m *MarginEngine) ClosePosition(_ context.Context, req core.DirectCloseRequest) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	ret, err := m.close(req.Owner, req.MarketID, req.LongToken, false, req.CloseHeld)
	if err != nil {
		return nil, err
	}
	if req.MinReturn != nil && ret.Cmp(req.MinReturn) < 0 {
		return nil, fmt.Errorf("deposit return %s below minimum %s", ret, req.MinReturn)
	}
	return ret, nil
}

// close must be called with m.mu held.
func (m *MarginEngine) close(owner common.Address, marketID uint16, longToken, depositToken bool, closeHeld *big.Int) (*big.Int, error) {
	market, ok := m.markets[marketID]
	if !ok {
		return nil, fmt.Errorf("unknown market %d", marketID)
	}
	key := positionKey{owner, marketID, longToken}
	pos, ok := m.positions[key]
	if !ok || pos.Cmp(closeHeld) < 0 {
		return nil, fmt.Errorf("position too small: holds %v, closing %s", pos, closeHeld)
	}

	ret := new(big.Int).Set(closeHeld)
	if m.depositReturn != nil {
		ret = new(big.Int).Set(m.depositReturn)
	}
	if m.ledger != nil && ret.Sign() > 0 {
		token := market.Token(depositToken)
		if err := m.ledger.TransferFrom(context.Background(), token, m.address, owner, ret); err != nil {
			return nil, fmt.Errorf("pay return: %w", err)
		}
	}
	pos.Sub(pos, closeHeld)
	return ret, nil
}

func (m *MarginEngine) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

var _ core.MarginEngine = (*MarginEngine)(nil)
