package limitorder

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type EventType string

const (
	EventOpenFilled     EventType = "open_filled"
	EventCloseFilled    EventType = "close_filled"
	EventCancelled      EventType = "cancelled"
	EventPositionClosed EventType = "position_closed"
)

// Event describes one committed state change.
type Event struct {
	Type       EventType      `json:"type"`
	OrderID    common.Hash    `json:"orderId"`
	Owner      common.Address `json:"owner"`
	Filler     common.Address `json:"filler"`
	MarketID   uint16         `json:"marketId"`
	Amount     *big.Int       `json:"amount,omitempty"`
	Remaining  *big.Int       `json:"remaining,omitempty"`
	Result     *big.Int       `json:"result,omitempty"`
	Commission *big.Int       `json:"commission,omitempty"`
	Timestamp  int64          `json:"timestamp"`
}

// FillResult is returned to the filler after a successful fill.
type FillResult struct {
	OrderID    common.Hash `json:"orderId"`
	Filled     *big.Int    `json:"filled"`
	Remaining  *big.Int    `json:"remaining"`
	Result     *big.Int    `json:"result"` // held acquired (open) or deposit returned (close)
	Commission *big.Int    `json:"commission"`
}

// publish runs after commit. Callers hold e.mu.
func (e *Engine) publish(events ...Event) {
	for _, ev := range events {
		if e.journal != nil {
			if line, err := json.Marshal(ev); err == nil {
				e.journal.Append(string(line))
			} else {
				e.log.Warnw("journal_encode_failed", "type", ev.Type, "err", err)
			}
		}
		e.subsMu.RLock()
		subs := e.subs
		e.subsMu.RUnlock()
		for _, fn := range subs {
			fn(ev)
		}
	}
}
