// Package devnet provides in-memory collaborators for a single-node
// deployment and for tests: a margin engine with positions, a settable
// price oracle and a token ledger.
package devnet

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/oplimit/pkg/app/core"
)

// Ledger keeps token balances. Transfers need no allowance.
type Ledger struct {
	mu       sync.Mutex
	address  common.Address
	balances map[common.Address]map[common.Address]*big.Int // token -> holder -> amount
}

func NewLedger(address common.Address) *Ledger {
	return &Ledger{
		address:  address,
		balances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

func (l *Ledger) Address() common.Address { return l.address }

// Mint credits amount of token to holder.
func (l *Ledger) Mint(token, holder common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balance(token, holder)
	bal.Add(bal, amount)
}

func (l *Ledger) BalanceOf(token, holder common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balance(token, holder))
}

func (l *Ledger) TransferFrom(_ context.Context, token, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transfer(token, from, to, amount)
}

func (l *Ledger) transfer(token, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative transfer amount %s", amount)
	}
	src := l.balance(token, from)
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient %s balance: %s has %s, needs %s", token.Hex(), from.Hex(), src, amount)
	}
	src.Sub(src, amount)
	dst := l.balance(token, to)
	dst.Add(dst, amount)
	return nil
}

// balance returns the live balance; callers hold l.mu.
func (l *Ledger) balance(token, holder common.Address) *big.Int {
	holders, ok := l.balances[token]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		l.balances[token] = holders
	}
	bal, ok := holders[holder]
	if !ok {
		bal = new(big.Int)
		holders[holder] = bal
	}
	return bal
}

var _ core.TokenLedger = (*Ledger)(nil)
