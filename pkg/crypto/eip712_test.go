package crypto

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/oplimit/pkg/app/core"
)

func testOpenOrder(owner common.Address) *core.OpenOrder {
	return &core.OpenOrder{
		Order: core.Order{
			Salt:            big.NewInt(1),
			Owner:           owner,
			Deadline:        1700000000,
			MarketID:        0,
			LongToken:       true,
			DepositToken:    false,
			CommissionToken: common.HexToAddress("0x00000000000000000000000000000000000000cc"),
			Commission:      big.NewInt(1000),
			Price0:          new(big.Int).Mul(big.NewInt(2), core.PriceScale),
		},
		Deposit:    big.NewInt(2),
		Borrow:     big.NewInt(1),
		ExpectHeld: big.NewInt(3),
	}
}

func testCloseOrder(owner common.Address) *core.CloseOrder {
	return &core.CloseOrder{
		Order:        testOpenOrder(owner).Order,
		IsStopLoss:   true,
		CloseHeld:    big.NewInt(10),
		ExpectReturn: big.NewInt(7),
	}
}

func word(v *big.Int) []byte { return math.U256Bytes(new(big.Int).Set(v)) }

func boolWord(b bool) []byte {
	if b {
		return word(big.NewInt(1))
	}
	return word(big.NewInt(0))
}

// manualOpenOrderHash encodes an OpenOrder by hand, the way an on-chain
// verifier would, to pin the field order and types.
func manualOpenOrderHash(d EIP712Domain, o *core.OpenOrder) common.Hash {
	domainType := eth_crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	var domainEnc []byte
	domainEnc = append(domainEnc, domainType...)
	domainEnc = append(domainEnc, eth_crypto.Keccak256([]byte(d.Name))...)
	domainEnc = append(domainEnc, eth_crypto.Keccak256([]byte(d.Version))...)
	domainEnc = append(domainEnc, word(d.ChainID)...)
	domainEnc = append(domainEnc, common.LeftPadBytes(d.VerifyingContract.Bytes(), 32)...)
	domainSep := eth_crypto.Keccak256(domainEnc)

	typeHash := eth_crypto.Keccak256([]byte("OpenOrder(uint256 salt,address owner,uint32 deadline,uint16 marketId,bool longToken,bool depositToken,address commissionToken,uint256 commission,uint256 price0,uint256 deposit,uint256 borrow,uint256 expectHeld)"))
	var enc []byte
	enc = append(enc, typeHash...)
	enc = append(enc, word(o.Salt)...)
	enc = append(enc, common.LeftPadBytes(o.Owner.Bytes(), 32)...)
	enc = append(enc, word(big.NewInt(int64(o.Deadline)))...)
	enc = append(enc, word(big.NewInt(int64(o.MarketID)))...)
	enc = append(enc, boolWord(o.LongToken)...)
	enc = append(enc, boolWord(o.DepositToken)...)
	enc = append(enc, common.LeftPadBytes(o.CommissionToken.Bytes(), 32)...)
	enc = append(enc, word(o.Commission)...)
	enc = append(enc, word(o.Price0)...)
	enc = append(enc, word(o.Deposit)...)
	enc = append(enc, word(o.Borrow)...)
	enc = append(enc, word(o.ExpectHeld)...)
	structHash := eth_crypto.Keccak256(enc)

	raw := append([]byte{0x19, 0x01}, domainSep...)
	raw = append(raw, structHash...)
	return eth_crypto.Keccak256Hash(raw)
}

func TestHashOpenOrderMatchesManualEncoding(t *testing.T) {
	domain := DefaultDomain()
	domain.VerifyingContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	codec := NewOrderCodec(domain)
	order := testOpenOrder(common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"))

	got, err := codec.HashOpenOrder(order)
	if err != nil {
		t.Fatalf("failed to hash: %v", err)
	}
	if want := manualOpenOrderHash(domain, order); got != want {
		t.Fatalf("hash = %s, want %s", got.Hex(), want.Hex())
	}
}

func TestHashDeterministic(t *testing.T) {
	codec := NewOrderCodec(DefaultDomain())
	owner := common.HexToAddress("0x0000000000000000000000000000000000000abc")

	h1, err := codec.HashCloseOrder(testCloseOrder(owner))
	if err != nil {
		t.Fatalf("failed to hash: %v", err)
	}
	h2, _ := codec.HashCloseOrder(testCloseOrder(owner))
	if h1 != h2 {
		t.Errorf("hash not deterministic: %s vs %s", h1.Hex(), h2.Hex())
	}
}

func TestHashChangesWithEveryField(t *testing.T) {
	codec := NewOrderCodec(DefaultDomain())
	owner := common.HexToAddress("0x0000000000000000000000000000000000000abc")
	base, _ := codec.HashOpenOrder(testOpenOrder(owner))

	tests := []struct {
		name   string
		mutate func(o *core.OpenOrder)
	}{
		{"salt", func(o *core.OpenOrder) { o.Salt = big.NewInt(2) }},
		{"owner", func(o *core.OpenOrder) { o.Owner = common.HexToAddress("0x0000000000000000000000000000000000000def") }},
		{"deadline", func(o *core.OpenOrder) { o.Deadline++ }},
		{"marketId", func(o *core.OpenOrder) { o.MarketID = 1 }},
		{"longToken", func(o *core.OpenOrder) { o.LongToken = !o.LongToken }},
		{"depositToken", func(o *core.OpenOrder) { o.DepositToken = !o.DepositToken }},
		{"commissionToken", func(o *core.OpenOrder) { o.CommissionToken = common.Address{} }},
		{"commission", func(o *core.OpenOrder) { o.Commission = big.NewInt(999) }},
		{"price0", func(o *core.OpenOrder) { o.Price0 = big.NewInt(0) }},
		{"deposit", func(o *core.OpenOrder) { o.Deposit = big.NewInt(3) }},
		{"borrow", func(o *core.OpenOrder) { o.Borrow = big.NewInt(0) }},
		{"expectHeld", func(o *core.OpenOrder) { o.ExpectHeld = big.NewInt(4) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := testOpenOrder(owner)
			tt.mutate(o)
			h, err := codec.HashOpenOrder(o)
			if err != nil {
				t.Fatalf("failed to hash: %v", err)
			}
			if h == base {
				t.Errorf("changing %s did not change the hash", tt.name)
			}
		})
	}
}

func TestShapesHaveDistinctIdentities(t *testing.T) {
	codec := NewOrderCodec(DefaultDomain())
	owner := common.HexToAddress("0x0000000000000000000000000000000000000abc")
	open := testOpenOrder(owner)
	closeOrder := testCloseOrder(owner)

	bare, err := codec.HashOrder(&open.Order)
	if err != nil {
		t.Fatalf("failed to hash bare order: %v", err)
	}
	openID, _ := codec.OrderID(core.RefOfOpen(open))
	closeID, _ := codec.OrderID(core.RefOfClose(closeOrder))
	bareID, _ := codec.OrderID(core.RefOfOrder(&open.Order))

	if bare != bareID {
		t.Errorf("OrderID(order) = %s, want %s", bareID.Hex(), bare.Hex())
	}
	if bare == openID || bare == closeID || openID == closeID {
		t.Errorf("shapes collide: order=%s open=%s close=%s", bare.Hex(), openID.Hex(), closeID.Hex())
	}
}

func TestDomainSeparatesHashes(t *testing.T) {
	owner := common.HexToAddress("0x0000000000000000000000000000000000000abc")
	d1 := DefaultDomain()
	d2 := DefaultDomain()
	d2.ChainID = big.NewInt(1)
	d3 := DefaultDomain()
	d3.VerifyingContract = common.HexToAddress("0x0000000000000000000000000000000000000001")

	h1, _ := NewOrderCodec(d1).HashOpenOrder(testOpenOrder(owner))
	h2, _ := NewOrderCodec(d2).HashOpenOrder(testOpenOrder(owner))
	h3, _ := NewOrderCodec(d3).HashOpenOrder(testOpenOrder(owner))
	if h1 == h2 || h1 == h3 {
		t.Error("hash must depend on chain id and verifying contract")
	}
}

func TestHashRejectsMalformedOrders(t *testing.T) {
	codec := NewOrderCodec(DefaultDomain())
	owner := common.HexToAddress("0x0000000000000000000000000000000000000abc")

	noOwner := testOpenOrder(common.Address{})
	if _, err := codec.HashOpenOrder(noOwner); err == nil {
		t.Error("expected error for zero owner")
	}

	negative := testOpenOrder(owner)
	negative.Deposit = big.NewInt(-1)
	if _, err := codec.HashOpenOrder(negative); err == nil {
		t.Error("expected error for negative deposit")
	}

	missing := testCloseOrder(owner)
	missing.CloseHeld = nil
	if _, err := codec.HashCloseOrder(missing); err == nil {
		t.Error("expected error for missing closeHeld")
	}

	overflow := testOpenOrder(owner)
	overflow.Commission = new(big.Int).Add(math.MaxBig256, big.NewInt(1))
	if _, err := codec.HashOpenOrder(overflow); err == nil {
		t.Error("expected error for uint256 overflow")
	}
}

func TestSignOpenOrderRecoversOwner(t *testing.T) {
	signer, _ := GenerateKey()
	codec := NewOrderCodec(DefaultDomain())
	order := testOpenOrder(signer.Address())

	sig, err := codec.SignOpenOrder(signer, order)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	hash, _ := codec.HashOpenOrder(order)
	addr, err := RecoverAddress(hash.Bytes(), sig)
	if err != nil {
		t.Fatalf("failed to recover: %v", err)
	}
	if addr != signer.Address() {
		t.Errorf("recovered %s, want %s", addr.Hex(), signer.Address().Hex())
	}

	order.Deposit = big.NewInt(100)
	tampered, _ := codec.HashOpenOrder(order)
	if VerifySignature(signer.Address(), tampered.Bytes(), sig) {
		t.Error("signature must not verify after the order is altered")
	}
}

func TestOwnerRequestHash(t *testing.T) {
	signer, _ := GenerateKey()
	codec := NewOrderCodec(DefaultDomain())
	req := &OwnerRequest{
		Owner:       signer.Address(),
		RequestHash: eth_crypto.Keccak256Hash([]byte(`{"orders":[]}`)),
		Deadline:    1700000000,
	}

	sig, err := codec.SignOwnerRequest(signer, req)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	hash, _ := codec.HashOwnerRequest(req)
	if !VerifySignature(signer.Address(), hash.Bytes(), sig) {
		t.Error("owner request signature failed to verify")
	}

	req.Deadline++
	other, _ := codec.HashOwnerRequest(req)
	if other == hash {
		t.Error("deadline must be part of the owner request hash")
	}

	if _, err := codec.HashOwnerRequest(&OwnerRequest{}); err == nil {
		t.Error("expected error for zero owner")
	}
}

func TestTypedDataJSON(t *testing.T) {
	codec := NewOrderCodec(DefaultDomain())
	owner := common.HexToAddress("0x0000000000000000000000000000000000000abc")

	out, err := codec.TypedDataJSON(core.RefOfClose(testCloseOrder(owner)))
	if err != nil {
		t.Fatalf("failed to render: %v", err)
	}

	var parsed struct {
		PrimaryType string                   `json:"primaryType"`
		Types       map[string][]interface{} `json:"types"`
		Message     map[string]interface{}   `json:"message"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.PrimaryType != "CloseOrder" {
		t.Errorf("primaryType = %q, want CloseOrder", parsed.PrimaryType)
	}
	if n := len(parsed.Types["CloseOrder"]); n != 12 {
		t.Errorf("CloseOrder has %d fields, want 12", n)
	}
	if parsed.Message["isStopLoss"] != true {
		t.Errorf("isStopLoss = %v, want true", parsed.Message["isStopLoss"])
	}
}
