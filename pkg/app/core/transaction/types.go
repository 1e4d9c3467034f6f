package transaction

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/oplimit/pkg/app/core"
)

// TxType represents the type of transaction
type TxType string

const (
	TxTypeFillOpen       TxType = "fill_open"        // Filler executes an open order
	TxTypeFillClose      TxType = "fill_close"       // Filler executes a close order
	TxTypeSubmit         TxType = "submit"           // Signed order handed to the pool
	TxTypeCancel         TxType = "cancel"           // Owner cancels orders
	TxTypeCloseAndCancel TxType = "close_and_cancel" // Owner closes and cancels stale orders
)

// OrderPayload carries the common order fields. Field names match the
// EIP-712 schema so the payload doubles as the wallet message.
type OrderPayload struct {
	Salt            string `json:"salt"`            // uint256 as decimal string
	Owner           string `json:"owner"`           // Ethereum address (0x...)
	Deadline        uint32 `json:"deadline"`        // Unix seconds
	MarketID        uint16 `json:"marketId"`        // Margin engine market
	LongToken       bool   `json:"longToken"`       // Held side
	DepositToken    bool   `json:"depositToken"`    // Deposit side
	CommissionToken string `json:"commissionToken"` // Ethereum address (0x...)
	Commission      string `json:"commission"`      // uint256 as decimal string
	Price0          string `json:"price0"`          // 1e18-scaled price, "0" = market
}

type OpenOrderPayload struct {
	OrderPayload
	Deposit    string `json:"deposit"`
	Borrow     string `json:"borrow"`
	ExpectHeld string `json:"expectHeld"`
}

type CloseOrderPayload struct {
	OrderPayload
	IsStopLoss   bool   `json:"isStopLoss"`
	CloseHeld    string `json:"closeHeld"`
	ExpectReturn string `json:"expectReturn"`
}

// FillOpenTx is a filler's request to execute an open order
type FillOpenTx struct {
	Order       OpenOrderPayload `json:"order"`
	Signature   string           `json:"signature"`    // Owner's signature (0x...)
	FillDeposit string           `json:"fill_deposit"` // Deposit amount to fill
	RoutingData hexutil.Bytes    `json:"routing_data,omitempty"`
	Filler      string           `json:"filler"` // Commission recipient
}

// FillCloseTx is a filler's request to execute a close order
type FillCloseTx struct {
	Order         CloseOrderPayload `json:"order"`
	Signature     string            `json:"signature"`
	FillCloseHeld string            `json:"fill_close_held"`
	RoutingData   hexutil.Bytes     `json:"routing_data,omitempty"`
	Filler        string            `json:"filler"`
}

// SubmitTx hands a signed order to the pool for keepers and peers
type SubmitTx struct {
	Kind      string             `json:"kind"` // "open" or "close"
	Open      *OpenOrderPayload  `json:"open,omitempty"`
	Close     *CloseOrderPayload `json:"close,omitempty"`
	Signature string             `json:"signature"`
}

// OrderRefPayload names one order of any shape
type OrderRefPayload struct {
	Kind  string             `json:"kind"` // "order", "open" or "close"
	Order *OrderPayload      `json:"order,omitempty"`
	Open  *OpenOrderPayload  `json:"open,omitempty"`
	Close *CloseOrderPayload `json:"close,omitempty"`
}

// CancelOrdersTx is the owner request body for cancellation
type CancelOrdersTx struct {
	Orders []OrderRefPayload `json:"orders"`
}

// CloseAndCancelTx is the owner request body for close-and-cancel
type CloseAndCancelTx struct {
	MarketID    uint16            `json:"marketId"`
	LongToken   bool              `json:"longToken"`
	CloseHeld   string            `json:"closeHeld"`
	MinReturn   string            `json:"minReturn"`
	RoutingData hexutil.Bytes     `json:"routing_data,omitempty"`
	StaleOrders []OrderRefPayload `json:"stale_orders"`
}

// OwnerEnvelope wraps an owner request. The signature covers
// OwnerRequest(owner, keccak256(request), deadline), where request is the
// exact JSON bytes sent.
type OwnerEnvelope struct {
	Type      TxType          `json:"type"`
	Owner     string          `json:"owner"`
	Deadline  uint32          `json:"deadline"`
	Request   json.RawMessage `json:"request"`
	Signature string          `json:"signature"`
}

// RequestHash returns keccak256 of the raw request bytes
func (e *OwnerEnvelope) RequestHash() common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(e.Request)
	var out common.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Validate performs basic validation on envelope structure
func (e *OwnerEnvelope) Validate() error {
	switch e.Type {
	case TxTypeCancel, TxTypeCloseAndCancel:
	case "":
		return fmt.Errorf("missing transaction type")
	default:
		return fmt.Errorf("unknown owner request type: %s", e.Type)
	}
	if !common.IsHexAddress(e.Owner) {
		return fmt.Errorf("invalid owner address: %q", e.Owner)
	}
	if len(e.Request) == 0 {
		return fmt.Errorf("missing request body")
	}
	if e.Signature == "" {
		return fmt.Errorf("missing signature")
	}
	return nil
}

// ToOrder converts OrderPayload to core.Order
func (o *OrderPayload) ToOrder() (*core.Order, error) {
	owner, err := parseAddress("owner", o.Owner)
	if err != nil {
		return nil, err
	}
	commissionToken := common.Address{}
	if o.CommissionToken != "" {
		if commissionToken, err = parseAddress("commissionToken", o.CommissionToken); err != nil {
			return nil, err
		}
	}
	salt, err := parseUint256("salt", o.Salt)
	if err != nil {
		return nil, err
	}
	commission, err := parseUint256("commission", o.Commission)
	if err != nil {
		return nil, err
	}
	price0, err := parseUint256("price0", o.Price0)
	if err != nil {
		return nil, err
	}
	return &core.Order{
		Salt:            salt,
		Owner:           owner,
		Deadline:        o.Deadline,
		MarketID:        o.MarketID,
		LongToken:       o.LongToken,
		DepositToken:    o.DepositToken,
		CommissionToken: commissionToken,
		Commission:      commission,
		Price0:          price0,
	}, nil
}

// ToOpenOrder converts OpenOrderPayload to core.OpenOrder
func (o *OpenOrderPayload) ToOpenOrder() (*core.OpenOrder, error) {
	base, err := o.OrderPayload.ToOrder()
	if err != nil {
		return nil, err
	}
	deposit, err := parseUint256("deposit", o.Deposit)
	if err != nil {
		return nil, err
	}
	borrow, err := parseUint256("borrow", o.Borrow)
	if err != nil {
		return nil, err
	}
	expectHeld, err := parseUint256("expectHeld", o.ExpectHeld)
	if err != nil {
		return nil, err
	}
	return &core.OpenOrder{Order: *base, Deposit: deposit, Borrow: borrow, ExpectHeld: expectHeld}, nil
}

// ToCloseOrder converts CloseOrderPayload to core.CloseOrder
func (o *CloseOrderPayload) ToCloseOrder() (*core.CloseOrder, error) {
	base, err := o.OrderPayload.ToOrder()
	if err != nil {
		return nil, err
	}
	closeHeld, err := parseUint256("closeHeld", o.CloseHeld)
	if err != nil {
		return nil, err
	}
	expectReturn, err := parseUint256("expectReturn", o.ExpectReturn)
	if err != nil {
		return nil, err
	}
	return &core.CloseOrder{Order: *base, IsStopLoss: o.IsStopLoss, CloseHeld: closeHeld, ExpectReturn: expectReturn}, nil
}

// ToRef converts OrderRefPayload to core.OrderRef
func (r *OrderRefPayload) ToRef() (core.OrderRef, error) {
	kind, err := core.ParseOrderKind(r.Kind)
	if err != nil {
		return core.OrderRef{}, err
	}
	switch kind {
	case core.KindOpen:
		if r.Open == nil {
			return core.OrderRef{}, fmt.Errorf("open ref requires open payload")
		}
		o, err := r.Open.ToOpenOrder()
		if err != nil {
			return core.OrderRef{}, err
		}
		return core.RefOfOpen(o), nil
	case core.KindClose:
		if r.Close == nil {
			return core.OrderRef{}, fmt.Errorf("close ref requires close payload")
		}
		o, err := r.Close.ToCloseOrder()
		if err != nil {
			return core.OrderRef{}, err
		}
		return core.RefOfClose(o), nil
	default:
		if r.Order == nil {
			return core.OrderRef{}, fmt.Errorf("order ref requires order payload")
		}
		o, err := r.Order.ToOrder()
		if err != nil {
			return core.OrderRef{}, err
		}
		return core.RefOfOrder(o), nil
	}
}

// ToRefs converts a list of ref payloads
func ToRefs(payloads []OrderRefPayload) ([]core.OrderRef, error) {
	refs := make([]core.OrderRef, 0, len(payloads))
	for i := range payloads {
		ref, err := payloads[i].ToRef()
		if err != nil {
			return nil, fmt.Errorf("order %d: %w", i, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// FromOrder converts core.Order to OrderPayload
func FromOrder(o *core.Order) OrderPayload {
	return OrderPayload{
		Salt:            o.Salt.String(),
		Owner:           o.Owner.Hex(),
		Deadline:        o.Deadline,
		MarketID:        o.MarketID,
		LongToken:       o.LongToken,
		DepositToken:    o.DepositToken,
		CommissionToken: o.CommissionToken.Hex(),
		Commission:      o.Commission.String(),
		Price0:          o.Price0.String(),
	}
}

func FromOpenOrder(o *core.OpenOrder) *OpenOrderPayload {
	return &OpenOrderPayload{
		OrderPayload: FromOrder(&o.Order),
		Deposit:      o.Deposit.String(),
		Borrow:       o.Borrow.String(),
		ExpectHeld:   o.ExpectHeld.String(),
	}
}

func FromCloseOrder(o *core.CloseOrder) *CloseOrderPayload {
	return &CloseOrderPayload{
		OrderPayload: FromOrder(&o.Order),
		IsStopLoss:   o.IsStopLoss,
		CloseHeld:    o.CloseHeld.String(),
		ExpectReturn: o.ExpectReturn.String(),
	}
}

// ParseAmount parses a decimal (or 0x-hex) uint256 string
func ParseAmount(name, s string) (*big.Int, error) {
	return parseUint256(name, s)
}

// ParseAddress parses a 0x-prefixed Ethereum address
func ParseAddress(name, s string) (common.Address, error) {
	return parseAddress(name, s)
}

func parseUint256(name, s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("missing %s", name)
	}
	v, ok := math.ParseBig256(s)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s: %s", name, s)
	}
	return v, nil
}

func parseAddress(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid %s address: %q", name, s)
	}
	return common.HexToAddress(s), nil
}

// Serialize converts a SubmitTx to JSON bytes
func (tx *SubmitTx) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// DeserializeSubmit parses JSON bytes into SubmitTx
func DeserializeSubmit(data []byte) (*SubmitTx, error) {
	var tx SubmitTx
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return &tx, nil
}

// Validate performs basic validation on submit structure
func (tx *SubmitTx) Validate() error {
	if tx.Signature == "" {
		return fmt.Errorf("missing signature")
	}
	switch tx.Kind {
	case "open":
		if tx.Open == nil {
			return fmt.Errorf("open kind requires open payload")
		}
	case "close":
		if tx.Close == nil {
			return fmt.Errorf("close kind requires close payload")
		}
	default:
		return fmt.Errorf("unknown order kind: %q", tx.Kind)
	}
	return nil
}

// Example formats for reference:

// Fill an open order:
//   {
//     "order": {
//       "salt": "1",
//       "owner": "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
//       "deadline": 1700000000,
//       "marketId": 0,
//       "longToken": true,
//       "depositToken": false,
//       "commissionToken": "0x0000000000000000000000000000000000000000",
//       "commission": "0",
//       "price0": "2000000000000000000",
//       "deposit": "2",
//       "borrow": "1",
//       "expectHeld": "3"
//     },
//     "signature": "0x...",
//     "fill_deposit": "1",
//     "filler": "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
//   }

// Owner cancel:
//   {
//     "type": "cancel",
//     "owner": "0x7099...",
//     "deadline": 1700000000,
//     "request": {"orders": [{"kind": "open", "open": { ... }}]},
//     "signature": "0x..."
//   }
