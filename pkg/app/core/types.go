package core

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

// Order holds the fields shared by every limit order shape.
// Field order matches the EIP-712 schema signed by wallets.
type Order struct {
	Salt            *big.Int       // owner-chosen, uniqueness only
	Owner           common.Address // position owner and signer
	Deadline        uint32         // unix seconds, inclusive
	MarketID        uint16         // margin engine market
	LongToken       bool           // false = token0 held, true = token1 held
	DepositToken    bool           // side used for deposit and return
	CommissionToken common.Address // asset paid to the filler
	Commission      *big.Int       // total commission for a full fill
	Price0          *big.Int       // limit price, 1e18 scale, 0 = market order
}

// OpenOrder authorizes opening (or increasing) a leveraged position.
type OpenOrder struct {
	Order
	Deposit    *big.Int
	Borrow     *big.Int
	ExpectHeld *big.Int
}

// CloseOrder authorizes closing part or all of a position.
type CloseOrder struct {
	Order
	IsStopLoss   bool
	CloseHeld    *big.Int
	ExpectReturn *big.Int
}

// OrderKind discriminates the three signed shapes.
type OrderKind uint8

const (
	KindOrder OrderKind = iota + 1
	KindOpen
	KindClose
)

func (k OrderKind) String() string {
	switch k {
	case KindOrder:
		return "order"
	case KindOpen:
		return "open"
	case KindClose:
		return "close"
	default:
		return "unknown"
	}
}

// ParseOrderKind maps the wire name back to a kind.
func ParseOrderKind(s string) (OrderKind, error) {
	switch s {
	case "order":
		return KindOrder, nil
	case "open":
		return KindOpen, nil
	case "close":
		return KindClose, nil
	default:
		return 0, fmt.Errorf("unknown order kind %q", s)
	}
}

// OrderRef points at one order of any shape. Exactly the field matching
// Kind is set.
type OrderRef struct {
	Kind  OrderKind
	Order *Order
	Open  *OpenOrder
	Close *CloseOrder
}

func RefOfOrder(o *Order) OrderRef { return OrderRef{Kind: KindOrder, Order: o} }
func RefOfOpen(o *OpenOrder) OrderRef { return OrderRef{Kind: KindOpen, Open: o} }
func RefOfClose(o *CloseOrder) OrderRef { return OrderRef{Kind: KindClose, Close: o} }

// Common returns the shared fields of whichever shape the ref holds.
func (r OrderRef) Common() (*Order, error) {
	switch r.Kind {
	case KindOrder:
		if r.Order != nil {
			return r.Order, nil
		}
	case KindOpen:
		if r.Open != nil {
			return &r.Open.Order, nil
		}
	case KindClose:
		if r.Close != nil {
			return &r.Close.Order, nil
		}
	default:
		return nil, fmt.Errorf("unknown order kind %d", r.Kind)
	}
	return nil, fmt.Errorf("%s order ref has no payload", r.Kind)
}

// Validate checks the ref is well formed for its kind.
func (r OrderRef) Validate() error {
	switch r.Kind {
	case KindOpen:
		if r.Open == nil {
			return fmt.Errorf("open order ref has no payload")
		}
		return r.Open.Validate()
	case KindClose:
		if r.Close == nil {
			return fmt.Errorf("close order ref has no payload")
		}
		return r.Close.Validate()
	default:
		o, err := r.Common()
		if err != nil {
			return err
		}
		return o.Validate()
	}
}

// Validate rejects values the uint256 schema cannot carry.
func (o *Order) Validate() error {
	if o.Owner == (common.Address{}) {
		return fmt.Errorf("order owner is zero address")
	}
	for name, v := range map[string]*big.Int{
		"salt":       o.Salt,
		"commission": o.Commission,
		"price0":     o.Price0,
	} {
		if err := checkUint256(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (o *OpenOrder) Validate() error {
	if err := o.Order.Validate(); err != nil {
		return err
	}
	for name, v := range map[string]*big.Int{
		"deposit":    o.Deposit,
		"borrow":     o.Borrow,
		"expectHeld": o.ExpectHeld,
	} {
		if err := checkUint256(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (o *CloseOrder) Validate() error {
	if err := o.Order.Validate(); err != nil {
		return err
	}
	if err := checkUint256("closeHeld", o.CloseHeld); err != nil {
		return err
	}
	return checkUint256("expectReturn", o.ExpectReturn)
}

func checkUint256(name string, v *big.Int) error {
	if v == nil {
		return fmt.Errorf("%s is missing", name)
	}
	if v.Sign() < 0 {
		return fmt.Errorf("%s is negative: %s", name, v)
	}
	if v.Cmp(math.MaxBig256) > 0 {
		return fmt.Errorf("%s overflows uint256", name)
	}
	return nil
}
