package limitorder

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/oplimit/pkg/app/core"
	"github.com/uhyunpark/oplimit/pkg/app/core/orderstate"
	"github.com/uhyunpark/oplimit/pkg/app/core/price"
	"github.com/uhyunpark/oplimit/pkg/metrics"
)

type FillOpenParams struct {
	Order       *core.OpenOrder
	Signature   []byte
	FillDeposit *big.Int
	RoutingData []byte
	Filler      common.Address
}

// FillOpenOrder opens fill/deposit of the signed position on the owner's
// behalf. Checks run in a fixed order: EXR, FR0, SNE, RD0/FTB, PRE, then
// the margin engine, NEG and the commission transfer.
func (e *Engine) FillOpenOrder(ctx context.Context, p FillOpenParams) (*FillResult, error) {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.fillOpen(ctx, p)
	metrics.ObserveFill(core.KindOpen.String(), string(core.CodeOf(err)), err != nil, start)
	if err != nil {
		e.log.Infow("fill_rejected",
			"kind", core.KindOpen.String(),
			"code", core.CodeOf(err),
			"filler", p.Filler.Hex(),
			"err", err,
		)
		return nil, err
	}
	e.log.Infow("open_order_filled",
		"order_id", res.OrderID.Hex(),
		"filler", p.Filler.Hex(),
		"fill", res.Filled.String(),
		"remaining", res.Remaining.String(),
		"held", res.Result.String(),
		"commission", res.Commission.String(),
	)
	return res, nil
}

func (e *Engine) fillOpen(ctx context.Context, p FillOpenParams) (*FillResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	o := p.Order
	if o == nil {
		return nil, fmt.Errorf("missing order")
	}
	now := e.now()
	if expired(o.Deadline, now) {
		return nil, core.ErrExpired
	}
	fill := p.FillDeposit
	if err := checkFill(fill); err != nil {
		return nil, err
	}
	if err := checkFiller(p.Filler); err != nil {
		return nil, err
	}
	id, err := e.verifier.VerifyOpenOrder(o, p.Signature)
	if err != nil {
		return nil, err
	}

	tx := e.state.Begin()
	defer tx.Discard()

	remaining, err := tx.Consume(id, fill, o.Deposit)
	if err != nil {
		return nil, err
	}

	if !price.Skip(&o.Order) {
		q, err := e.quote(ctx, o.MarketID)
		if err != nil {
			return nil, err
		}
		if err := e.guard.CheckOpen(&o.Order, q); err != nil {
			return nil, err
		}
	}

	held, err := e.margin.OpenPositionFor(ctx, core.OpenPositionRequest{
		Owner:        o.Owner,
		MarketID:     o.MarketID,
		LongToken:    o.LongToken,
		DepositToken: o.DepositToken,
		Deposit:      new(big.Int).Set(fill),
		Borrow:       core.MulDiv(o.Borrow, fill, o.Deposit),
		MinHeld:      core.MulDiv(o.ExpectHeld, fill, o.Deposit),
		RoutingData:  p.RoutingData,
	})
	if err != nil {
		return nil, fmt.Errorf("margin engine open: %w", err)
	}
	if held == nil || core.RatioBelow(held, fill, o.ExpectHeld, o.Deposit) {
		return nil, core.ErrNegative
	}

	commission, err := e.payCommission(ctx, &o.Order, p.Filler, fill, o.Deposit)
	if err != nil {
		return nil, err
	}

	rec, err := tx.RecordFill(orderstate.FillRecord{
		OrderID:    id,
		Kind:       core.KindOpen.String(),
		Owner:      o.Owner,
		Filler:     p.Filler,
		Amount:     new(big.Int).Set(fill),
		Remaining:  remaining,
		Result:     held,
		Commission: commission,
		Timestamp:  now.Unix(),
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	e.publish(Event{
		Type:       EventOpenFilled,
		OrderID:    id,
		Owner:      o.Owner,
		Filler:     p.Filler,
		MarketID:   o.MarketID,
		Amount:     rec.Amount,
		Remaining:  remaining,
		Result:     held,
		Commission: commission,
		Timestamp:  rec.Timestamp,
	})
	return &FillResult{
		OrderID:    id,
		Filled:     rec.Amount,
		Remaining:  remaining,
		Result:     held,
		Commission: commission,
	}, nil
}
