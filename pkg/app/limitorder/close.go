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

type FillCloseParams struct {
	Order         *core.CloseOrder
	Signature     []byte
	FillCloseHeld *big.Int
	RoutingData   []byte
	Filler        common.Address
}

// FillCloseOrder closes fill/closeHeld of the signed position. Stop-loss
// orders additionally require a fresh oracle reading (UPF).
func (e *Engine) FillCloseOrder(ctx context.Context, p FillCloseParams) (*FillResult, error) {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.fillClose(ctx, p)
	metrics.ObserveFill(core.KindClose.String(), string(core.CodeOf(err)), err != nil, start)
	if err != nil {
		e.log.Infow("fill_rejected",
			"kind", core.KindClose.String(),
			"code", core.CodeOf(err),
			"filler", p.Filler.Hex(),
			"err", err,
		)
		return nil, err
	}
	e.log.Infow("close_order_filled",
		"order_id", res.OrderID.Hex(),
		"filler", p.Filler.Hex(),
		"fill", res.Filled.String(),
		"remaining", res.Remaining.String(),
		"deposit_return", res.Result.String(),
		"commission", res.Commission.String(),
	)
	return res, nil
}

func (e *Engine) fillClose(ctx context.Context, p FillCloseParams) (*FillResult, error) {
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
	fill := p.FillCloseHeld
	if err := checkFill(fill); err != nil {
		return nil, err
	}
	if err := checkFiller(p.Filler); err != nil {
		return nil, err
	}
	id, err := e.verifier.VerifyCloseOrder(o, p.Signature)
	if err != nil {
		return nil, err
	}

	tx := e.state.Begin()
	defer tx.Discard()

	remaining, err := tx.Consume(id, fill, o.CloseHeld)
	if err != nil {
		return nil, err
	}

	if !price.Skip(&o.Order) {
		q, err := e.quote(ctx, o.MarketID)
		if err != nil {
			return nil, err
		}
		if err := e.guard.CheckClose(o, q, now); err != nil {
			return nil, err
		}
	}

	depositReturn, err := e.margin.ClosePositionFor(ctx, core.ClosePositionRequest{
		Owner:        o.Owner,
		MarketID:     o.MarketID,
		LongToken:    o.LongToken,
		DepositToken: o.DepositToken,
		CloseHeld:    new(big.Int).Set(fill),
		MinReturn:    core.MulDiv(o.ExpectReturn, fill, o.CloseHeld),
		RoutingData:  p.RoutingData,
	})
	if err != nil {
		return nil, fmt.Errorf("margin engine close: %w", err)
	}
	if depositReturn == nil || core.RatioBelow(depositReturn, fill, o.ExpectReturn, o.CloseHeld) {
		return nil, core.ErrNegative
	}

	commission, err := e.payCommission(ctx, &o.Order, p.Filler, fill, o.CloseHeld)
	if err != nil {
		return nil, err
	}

	rec, err := tx.RecordFill(orderstate.FillRecord{
		OrderID:    id,
		Kind:       core.KindClose.String(),
		Owner:      o.Owner,
		Filler:     p.Filler,
		Amount:     new(big.Int).Set(fill),
		Remaining:  remaining,
		Result:     depositReturn,
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
		Type:       EventCloseFilled,
		OrderID:    id,
		Owner:      o.Owner,
		Filler:     p.Filler,
		MarketID:   o.MarketID,
		Amount:     rec.Amount,
		Remaining:  remaining,
		Result:     depositReturn,
		Commission: commission,
		Timestamp:  rec.Timestamp,
	})
	return &FillResult{
		OrderID:    id,
		Filled:     rec.Amount,
		Remaining:  remaining,
		Result:     depositReturn,
		Commission: commission,
	}, nil
}
