package limitorder

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/oplimit/pkg/app/core"
	"github.com/uhyunpark/oplimit/pkg/app/core/orderstate"
	"github.com/uhyunpark/oplimit/pkg/metrics"
)

// CancelOrder makes one order terminal. Only the owner may cancel.
func (e *Engine) CancelOrder(ctx context.Context, caller common.Address, ref core.OrderRef) (common.Hash, error) {
	ids, err := e.CancelOrders(ctx, caller, []core.OrderRef{ref})
	if err != nil {
		return common.Hash{}, err
	}
	return ids[0], nil
}

// CancelOrders cancels every ref or none of them. A bare Order ref only
// cancels the identity of the bare shape, not an OpenOrder or CloseOrder
// sharing its fields.
func (e *Engine) CancelOrders(ctx context.Context, caller common.Address, refs []core.OrderRef) ([]common.Hash, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ready(); err != nil {
		return nil, err
	}

	tx := e.state.Begin()
	defer tx.Discard()

	ids, orders, err := e.stageCancels(tx, caller, refs)
	if err != nil {
		e.log.Infow("cancel_rejected", "caller", caller.Hex(), "code", core.CodeOf(err), "err", err)
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	metrics.CancelsTotal.Add(float64(len(ids)))
	now := e.now().Unix()
	events := make([]Event, 0, len(ids))
	for i, id := range ids {
		e.log.Infow("order_cancelled", "order_id", id.Hex(), "owner", caller.Hex())
		events = append(events, Event{Type: EventCancelled, OrderID: id, Owner: caller, MarketID: orders[i].MarketID, Timestamp: now})
	}
	e.publish(events...)
	return ids, nil
}

func (e *Engine) stageCancels(tx *orderstate.Tx, caller common.Address, refs []core.OrderRef) ([]common.Hash, []*core.Order, error) {
	ids := make([]common.Hash, 0, len(refs))
	orders := make([]*core.Order, 0, len(refs))
	for i, ref := range refs {
		o, err := ref.Common()
		if err != nil {
			return nil, nil, fmt.Errorf("order %d: %w", i, err)
		}
		if o.Owner != caller {
			return nil, nil, core.Errorf(core.CodeNotOwner, fmt.Sprintf("order %d is owned by %s", i, o.Owner.Hex()))
		}
		id, err := e.codec.OrderID(ref)
		if err != nil {
			return nil, nil, fmt.Errorf("order %d: %w", i, err)
		}
		if err := tx.Cancel(id); err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		orders = append(orders, o)
	}
	return ids, orders, nil
}

type CloseAndCancelParams struct {
	Caller      common.Address
	MarketID    uint16
	LongToken   bool
	CloseHeld   *big.Int
	MinReturn   *big.Int
	RoutingData []byte
	StaleOrders []core.OrderRef
}

type CloseAndCancelResult struct {
	DepositReturn *big.Int      `json:"depositReturn"`
	Cancelled     []common.Hash `json:"cancelled"`
}

// CloseTradeAndCancel closes the caller's own position and cancels the
// given stale orders in one step. If the close fails nothing is cancelled,
// and no fill can land between the two.
//
// Stale orders must be passed in the shape they were signed in. A bare
// Order ref cancels only the bare identity, so a signed CloseOrder with
// the same fields stays fillable unless it is passed as a close ref.
func (e *Engine) CloseTradeAndCancel(ctx context.Context, p CloseAndCancelParams) (*CloseAndCancelResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ready(); err != nil {
		return nil, err
	}
	if p.Caller == (common.Address{}) {
		return nil, core.Errorf(core.CodeNullAddress, "caller is zero address")
	}
	if p.CloseHeld == nil || p.CloseHeld.Sign() <= 0 {
		return nil, core.ErrFillZero
	}
	minReturn := p.MinReturn
	if minReturn == nil {
		minReturn = new(big.Int)
	}

	tx := e.state.Begin()
	defer tx.Discard()

	ids, stale, err := e.stageCancels(tx, p.Caller, p.StaleOrders)
	if err != nil {
		e.log.Infow("close_and_cancel_rejected", "caller", p.Caller.Hex(), "code", core.CodeOf(err), "err", err)
		return nil, err
	}

	depositReturn, err := e.margin.ClosePosition(ctx, core.DirectCloseRequest{
		Owner:       p.Caller,
		MarketID:    p.MarketID,
		LongToken:   p.LongToken,
		CloseHeld:   new(big.Int).Set(p.CloseHeld),
		MinReturn:   new(big.Int).Set(minReturn),
		RoutingData: p.RoutingData,
	})
	if err != nil {
		e.log.Infow("close_and_cancel_rejected", "caller", p.Caller.Hex(), "err", err)
		return nil, fmt.Errorf("margin engine close: %w", err)
	}
	if depositReturn == nil {
		depositReturn = new(big.Int)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	metrics.CancelsTotal.Add(float64(len(ids)))

	now := e.now().Unix()
	events := []Event{{
		Type:      EventPositionClosed,
		Owner:     p.Caller,
		MarketID:  p.MarketID,
		Amount:    new(big.Int).Set(p.CloseHeld),
		Result:    depositReturn,
		Timestamp: now,
	}}
	for i, id := range ids {
		events = append(events, Event{Type: EventCancelled, OrderID: id, Owner: p.Caller, MarketID: stale[i].MarketID, Timestamp: now})
	}
	e.publish(events...)

	e.log.Infow("position_closed_and_cancelled",
		"owner", p.Caller.Hex(),
		"market_id", p.MarketID,
		"close_held", p.CloseHeld.String(),
		"deposit_return", depositReturn.String(),
		"cancelled", len(ids),
	)
	return &CloseAndCancelResult{DepositReturn: depositReturn, Cancelled: ids}, nil
}
