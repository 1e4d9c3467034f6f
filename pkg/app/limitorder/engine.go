// Package limitorder settles owner-signed limit orders against an external
// margin engine.
//
// Fillers submit an order, its signature and a partial amount. The engine
// checks the order, consumes fill progress, asks the margin engine to open
// or close the position, protects the result against the signed minimum and
// pays the filler a pro-rata commission. Every state-changing call holds the
// write lock end to end and stages its writes in one orderstate.Tx, so an
// operation either commits completely or leaves no trace.
package limitorder

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/oplimit/pkg/app/core"
	"github.com/uhyunpark/oplimit/pkg/app/core/orderstate"
	"github.com/uhyunpark/oplimit/pkg/app/core/price"
	"github.com/uhyunpark/oplimit/pkg/app/core/transaction"
	"github.com/uhyunpark/oplimit/pkg/crypto"
	"github.com/uhyunpark/oplimit/pkg/util"
)

// Journal receives one line per committed event.
type Journal interface {
	Append(line string)
}

type Config struct {
	Codec   *crypto.OrderCodec
	Backend orderstate.Backend
	Guard   *price.Guard
	Clock   util.Clock
	Logger  *zap.SugaredLogger
	Journal Journal
}

type Engine struct {
	mu sync.RWMutex

	codec    *crypto.OrderCodec
	verifier *transaction.Verifier
	state    *orderstate.Store
	guard    *price.Guard
	clock    util.Clock
	log      *zap.SugaredLogger
	journal  Journal

	margin      core.MarginEngine
	oracle      core.PriceOracle
	ledger      core.TokenLedger
	initialized bool

	subsMu sync.RWMutex
	subs   []func(Event)
}

func New(cfg Config) *Engine {
	if cfg.Codec == nil {
		cfg.Codec = crypto.NewOrderCodec(crypto.DefaultDomain())
	}
	if cfg.Guard == nil {
		cfg.Guard = price.NewGuard(price.DefaultFreshness, false)
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Engine{
		codec:    cfg.Codec,
		verifier: transaction.NewVerifier(cfg.Codec),
		state:    orderstate.NewStore(cfg.Backend),
		guard:    cfg.Guard,
		clock:    cfg.Clock,
		log:      cfg.Logger,
		journal:  cfg.Journal,
	}
}

// addressed is implemented by ledgers bound to an on-chain identity.
type addressed interface {
	Address() common.Address
}

// Initialize binds the collaborators. It succeeds exactly once; a nil
// collaborator or one reporting the zero address fails with NAD.
func (e *Engine) Initialize(margin core.MarginEngine, oracle core.PriceOracle, ledger core.TokenLedger) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return core.ErrInitialized
	}
	if margin == nil || oracle == nil || ledger == nil {
		return core.Errorf(core.CodeNullAddress, "collaborator is nil")
	}
	if margin.Address() == (common.Address{}) {
		return core.Errorf(core.CodeNullAddress, "margin engine has zero address")
	}
	if oracle.Address() == (common.Address{}) {
		return core.Errorf(core.CodeNullAddress, "oracle has zero address")
	}
	if l, ok := ledger.(addressed); ok && l.Address() == (common.Address{}) {
		return core.Errorf(core.CodeNullAddress, "token ledger has zero address")
	}

	e.margin, e.oracle, e.ledger = margin, oracle, ledger
	e.initialized = true
	e.log.Infow("engine_initialized",
		"margin_engine", margin.Address().Hex(),
		"oracle", oracle.Address().Hex(),
	)
	return nil
}

func (e *Engine) Initialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized
}

// ready must be called with e.mu held.
func (e *Engine) ready() error {
	if !e.initialized {
		return core.ErrNotInitialized
	}
	return nil
}

func (e *Engine) Codec() *crypto.OrderCodec { return e.codec }

// Subscribe registers fn for every committed event. fn runs synchronously
// after the commit and must not call back into the engine's write path.
func (e *Engine) Subscribe(fn func(Event)) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	e.subs = append(e.subs, fn)
}

// OrderID is the identity of whichever shape ref holds.
func (e *Engine) OrderID(ref core.OrderRef) (common.Hash, error) {
	return e.codec.OrderID(ref)
}

func (e *Engine) HashOpenOrder(o *core.OpenOrder) (common.Hash, error) {
	return e.codec.HashOpenOrder(o)
}

func (e *Engine) HashCloseOrder(o *core.CloseOrder) (common.Hash, error) {
	return e.codec.HashCloseOrder(o)
}

// RemainingRaw returns the stored counter: 0 untouched, otherwise
// remaining+1.
func (e *Engine) RemainingRaw(id common.Hash) (*big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.RemainingRaw(id)
}

// RemainingOpen returns the deposit still fillable on an open order.
func (e *Engine) RemainingOpen(o *core.OpenOrder) (*big.Int, error) {
	id, err := e.codec.HashOpenOrder(o)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Remaining(id, o.Deposit)
}

// RemainingClose returns the held amount still fillable on a close order.
func (e *Engine) RemainingClose(o *core.CloseOrder) (*big.Int, error) {
	id, err := e.codec.HashCloseOrder(o)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Remaining(id, o.CloseHeld)
}

// Fills returns the committed fill history of an order.
func (e *Engine) Fills(id common.Hash) ([]orderstate.FillRecord, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Fills(id)
}

func (e *Engine) now() time.Time { return e.clock.Now() }

func expired(deadline uint32, now time.Time) bool {
	return now.Unix() > int64(deadline)
}

func checkFill(amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return core.ErrFillZero
	}
	if amount.Sign() < 0 {
		return core.Errorf(core.CodeFillZero, "fill amount is negative")
	}
	return nil
}

func checkFiller(filler common.Address) error {
	if filler == (common.Address{}) {
		return core.Errorf(core.CodeNullAddress, "filler is zero address")
	}
	return nil
}

// payCommission moves commission*fill/full of the commission token from
// the owner to the filler. A zero share moves nothing.
func (e *Engine) payCommission(ctx context.Context, o *core.Order, filler common.Address, fill, full *big.Int) (*big.Int, error) {
	share := core.MulDiv(o.Commission, fill, full)
	if share.Sign() == 0 {
		return share, nil
	}
	if err := e.ledger.TransferFrom(ctx, o.CommissionToken, o.Owner, filler, share); err != nil {
		return nil, fmt.Errorf("commission transfer: %w", err)
	}
	return share, nil
}

func (e *Engine) quote(ctx context.Context, marketID uint16) (core.Quote, error) {
	q, err := e.oracle.CurrentPrice(ctx, marketID)
	if err != nil {
		return core.Quote{}, fmt.Errorf("oracle: %w", err)
	}
	return q, nil
}
