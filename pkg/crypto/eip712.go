package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/oplimit/pkg/app/core"
)

// EIP712Domain represents the domain separator for EIP-712 typed data.
// Off-line signers must reproduce it exactly.
type EIP712Domain struct {
	Name              string         // Protocol name
	Version           string         // Protocol version
	ChainID           *big.Int       // Execution context
	VerifyingContract common.Address // Engine identity
}

// DefaultDomain returns the devnet domain for the limit order engine.
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "OpenLeverage Limit Order",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

var domainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var orderFields = []apitypes.Type{
	{Name: "salt", Type: "uint256"},
	{Name: "owner", Type: "address"},
	{Name: "deadline", Type: "uint32"},
	{Name: "marketId", Type: "uint16"},
	{Name: "longToken", Type: "bool"},
	{Name: "depositToken", Type: "bool"},
	{Name: "commissionToken", Type: "address"},
	{Name: "commission", Type: "uint256"},
	{Name: "price0", Type: "uint256"},
}

var openOrderFields = append(append([]apitypes.Type{}, orderFields...),
	apitypes.Type{Name: "deposit", Type: "uint256"},
	apitypes.Type{Name: "borrow", Type: "uint256"},
	apitypes.Type{Name: "expectHeld", Type: "uint256"},
)

var closeOrderFields = append(append([]apitypes.Type{}, orderFields...),
	apitypes.Type{Name: "isStopLoss", Type: "bool"},
	apitypes.Type{Name: "closeHeld", Type: "uint256"},
	apitypes.Type{Name: "expectReturn", Type: "uint256"},
)

const (
	primaryOrder      = "Order"
	primaryOpenOrder  = "OpenOrder"
	primaryCloseOrder = "CloseOrder"
)

// OrderCodec computes the domain-separated hash of each order shape. The
// hash is both the signing payload and the order identity.
type OrderCodec struct {
	domain EIP712Domain
}

// NewOrderCodec creates a codec bound to one deployment's domain.
func NewOrderCodec(domain EIP712Domain) *OrderCodec {
	return &OrderCodec{domain: domain}
}

// Domain returns the bound domain.
func (c *OrderCodec) Domain() EIP712Domain { return c.domain }

// HashOrder hashes the common fields under primary type Order. Only used
// for cancellation of bare orders.
func (c *OrderCodec) HashOrder(o *core.Order) (common.Hash, error) {
	if err := o.Validate(); err != nil {
		return common.Hash{}, err
	}
	return c.digest(c.typedData(primaryOrder, orderFields, orderMessage(o)))
}

// HashOpenOrder hashes every OpenOrder field.
func (c *OrderCodec) HashOpenOrder(o *core.OpenOrder) (common.Hash, error) {
	if err := o.Validate(); err != nil {
		return common.Hash{}, err
	}
	return c.digest(c.typedData(primaryOpenOrder, openOrderFields, openOrderMessage(o)))
}

// HashCloseOrder hashes every CloseOrder field.
func (c *OrderCodec) HashCloseOrder(o *core.CloseOrder) (common.Hash, error) {
	if err := o.Validate(); err != nil {
		return common.Hash{}, err
	}
	return c.digest(c.typedData(primaryCloseOrder, closeOrderFields, closeOrderMessage(o)))
}

// OrderID is the externally visible identity of whichever shape ref holds.
func (c *OrderCodec) OrderID(ref core.OrderRef) (common.Hash, error) {
	switch ref.Kind {
	case core.KindOpen:
		if ref.Open == nil {
			return common.Hash{}, fmt.Errorf("open order ref has no payload")
		}
		return c.HashOpenOrder(ref.Open)
	case core.KindClose:
		if ref.Close == nil {
			return common.Hash{}, fmt.Errorf("close order ref has no payload")
		}
		return c.HashCloseOrder(ref.Close)
	case core.KindOrder:
		if ref.Order == nil {
			return common.Hash{}, fmt.Errorf("order ref has no payload")
		}
		return c.HashOrder(ref.Order)
	default:
		return common.Hash{}, fmt.Errorf("unknown order kind %d", ref.Kind)
	}
}

// SignOpenOrder signs an open order with the owner's key.
func (c *OrderCodec) SignOpenOrder(signer *Signer, o *core.OpenOrder) ([]byte, error) {
	hash, err := c.HashOpenOrder(o)
	if err != nil {
		return nil, fmt.Errorf("failed to hash open order: %w", err)
	}
	return signer.Sign(hash.Bytes())
}

// SignCloseOrder signs a close order with the owner's key.
func (c *OrderCodec) SignCloseOrder(signer *Signer, o *core.CloseOrder) ([]byte, error) {
	hash, err := c.HashCloseOrder(o)
	if err != nil {
		return nil, fmt.Errorf("failed to hash close order: %w", err)
	}
	return signer.Sign(hash.Bytes())
}

// TypedDataJSON renders the eth_signTypedData_v4 payload wallets sign.
func (c *OrderCodec) TypedDataJSON(ref core.OrderRef) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}
	var td apitypes.TypedData
	switch ref.Kind {
	case core.KindOpen:
		td = c.typedData(primaryOpenOrder, openOrderFields, openOrderMessage(ref.Open))
	case core.KindClose:
		td = c.typedData(primaryCloseOrder, closeOrderFields, closeOrderMessage(ref.Close))
	case core.KindOrder:
		td = c.typedData(primaryOrder, orderFields, orderMessage(ref.Order))
	default:
		return "", fmt.Errorf("unknown order kind %d", ref.Kind)
	}

	out := map[string]interface{}{
		"types":       td.Types,
		"primaryType": td.PrimaryType,
		"domain": map[string]interface{}{
			"name":              c.domain.Name,
			"version":           c.domain.Version,
			"chainId":           c.domain.ChainID.String(),
			"verifyingContract": c.domain.VerifyingContract.Hex(),
		},
		"message": td.Message,
	}
	jsonBytes, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}

func (c *OrderCodec) typedData(primary string, fields []apitypes.Type, msg apitypes.TypedDataMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainFields,
			primary:        fields,
		},
		PrimaryType: primary,
		Domain: apitypes.TypedDataDomain{
			Name:              c.domain.Name,
			Version:           c.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(c.domain.ChainID),
			VerifyingContract: c.domain.VerifyingContract.Hex(),
		},
		Message: msg,
	}
}

// digest computes keccak256("\x19\x01" || domainSeparator || hashStruct(message)).
func (c *OrderCodec) digest(td apitypes.TypedData) (common.Hash, error) {
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash message: %w", err)
	}
	rawData := make([]byte, 0, 66)
	rawData = append(rawData, 0x19, 0x01)
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, structHash...)
	return crypto.Keccak256Hash(rawData), nil
}

func orderMessage(o *core.Order) apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"salt":            o.Salt.String(),
		"owner":           o.Owner.Hex(),
		"deadline":        fmt.Sprintf("%d", o.Deadline),
		"marketId":        fmt.Sprintf("%d", o.MarketID),
		"longToken":       o.LongToken,
		"depositToken":    o.DepositToken,
		"commissionToken": o.CommissionToken.Hex(),
		"commission":      o.Commission.String(),
		"price0":          o.Price0.String(),
	}
}

func openOrderMessage(o *core.OpenOrder) apitypes.TypedDataMessage {
	msg := orderMessage(&o.Order)
	msg["deposit"] = o.Deposit.String()
	msg["borrow"] = o.Borrow.String()
	msg["expectHeld"] = o.ExpectHeld.String()
	return msg
}

func closeOrderMessage(o *core.CloseOrder) apitypes.TypedDataMessage {
	msg := orderMessage(&o.Order)
	msg["isStopLoss"] = o.IsStopLoss
	msg["closeHeld"] = o.CloseHeld.String()
	msg["expectReturn"] = o.ExpectReturn.String()
	return msg
}
