package transaction

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/oplimit/pkg/app/core"
	"github.com/uhyunpark/oplimit/pkg/crypto"
)

func sampleOpen(owner common.Address) *core.OpenOrder {
	return &core.OpenOrder{
		Order: core.Order{
			Salt:            big.NewInt(7),
			Owner:           owner,
			Deadline:        1_700_000_000,
			MarketID:        3,
			LongToken:       true,
			CommissionToken: common.HexToAddress("0x00000000000000000000000000000000000000cc"),
			Commission:      big.NewInt(500),
			Price0:          new(big.Int).Set(core.PriceScale),
		},
		Deposit:    big.NewInt(2),
		Borrow:     big.NewInt(1),
		ExpectHeld: big.NewInt(3),
	}
}

func TestOpenOrderPayloadRoundTrip(t *testing.T) {
	signer, _ := crypto.GenerateKey()
	order := sampleOpen(signer.Address())

	data, err := json.Marshal(FromOpenOrder(order))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var payload OpenOrderPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	got, err := payload.ToOpenOrder()
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}

	codec := crypto.NewOrderCodec(crypto.DefaultDomain())
	want, _ := codec.HashOpenOrder(order)
	have, _ := codec.HashOpenOrder(got)
	if want != have {
		t.Errorf("identity changed across the wire: %s vs %s", want.Hex(), have.Hex())
	}
}

func TestPayloadRejectsBadFields(t *testing.T) {
	base := FromOpenOrder(sampleOpen(common.HexToAddress("0x0000000000000000000000000000000000000abc")))

	tests := []struct {
		name   string
		mutate func(p *OpenOrderPayload)
	}{
		{"bad owner", func(p *OpenOrderPayload) { p.Owner = "alice" }},
		{"missing salt", func(p *OpenOrderPayload) { p.Salt = "" }},
		{"negative deposit", func(p *OpenOrderPayload) { p.Deposit = "-1" }},
		{"non numeric price", func(p *OpenOrderPayload) { p.Price0 = "two" }},
		{"bad commission token", func(p *OpenOrderPayload) { p.CommissionToken = "0x12" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := *base
			tt.mutate(&p)
			if _, err := p.ToOpenOrder(); err == nil {
				t.Error("expected conversion error")
			}
		})
	}
}

func TestOrderRefPayload(t *testing.T) {
	owner := common.HexToAddress("0x0000000000000000000000000000000000000abc")
	open := FromOpenOrder(sampleOpen(owner))

	refs, err := ToRefs([]OrderRefPayload{
		{Kind: "open", Open: open},
		{Kind: "order", Order: &open.OrderPayload},
	})
	if err != nil {
		t.Fatalf("ToRefs failed: %v", err)
	}
	if refs[0].Kind != core.KindOpen || refs[1].Kind != core.KindOrder {
		t.Errorf("kinds = %v, %v", refs[0].Kind, refs[1].Kind)
	}

	if _, err := ToRefs([]OrderRefPayload{{Kind: "close"}}); err == nil {
		t.Error("expected error for close ref without payload")
	}
	if _, err := ToRefs([]OrderRefPayload{{Kind: "limit"}}); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestVerifyOpenOrder(t *testing.T) {
	signer, _ := crypto.GenerateKey()
	codec := crypto.NewOrderCodec(crypto.DefaultDomain())
	v := NewVerifier(codec)
	order := sampleOpen(signer.Address())
	sig, _ := codec.SignOpenOrder(signer, order)

	id, err := v.VerifyOpenOrder(order, sig)
	if err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if want, _ := codec.HashOpenOrder(order); id != want {
		t.Errorf("id = %s, want %s", id.Hex(), want.Hex())
	}

	other, _ := crypto.GenerateKey()
	forged, _ := codec.SignOpenOrder(other, order)
	if _, err := v.VerifyOpenOrder(order, forged); !errors.Is(err, core.ErrSignatureInvalid) {
		t.Errorf("forged signature err = %v, want SNE", err)
	}
	if _, err := v.VerifyOpenOrder(order, sig[:64]); !errors.Is(err, core.ErrSignatureInvalid) {
		t.Errorf("short signature err = %v, want SNE", err)
	}
}

func signEnvelope(t *testing.T, signer *crypto.Signer, codec *crypto.OrderCodec, typ TxType, body any, deadline uint32) *OwnerEnvelope {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	env := &OwnerEnvelope{Type: typ, Owner: signer.Address().Hex(), Deadline: deadline, Request: raw}
	sig, err := codec.SignOwnerRequest(signer, &crypto.OwnerRequest{
		Owner:       signer.Address(),
		RequestHash: env.RequestHash(),
		Deadline:    deadline,
	})
	if err != nil {
		t.Fatalf("sign envelope: %v", err)
	}
	env.Signature = EncodeSignature(sig)
	return env
}

func TestVerifyOwnerEnvelope(t *testing.T) {
	signer, _ := crypto.GenerateKey()
	codec := crypto.NewOrderCodec(crypto.DefaultDomain())
	v := NewVerifier(codec)
	now := time.Unix(1_700_000_000, 0)

	env := signEnvelope(t, signer, codec, TxTypeCancel, CancelOrdersTx{}, 1_700_000_100)
	owner, digest, err := v.VerifyOwnerEnvelope(env, now)
	if err != nil {
		t.Fatalf("valid envelope rejected: %v", err)
	}
	if owner != signer.Address() {
		t.Errorf("owner = %s, want %s", owner.Hex(), signer.Address().Hex())
	}
	if digest == (common.Hash{}) {
		t.Error("empty digest")
	}

	if _, _, err := v.VerifyOwnerEnvelope(env, now.Add(time.Hour)); core.CodeOf(err) != core.CodeExpired {
		t.Errorf("expired envelope err = %v, want EXR", err)
	}

	tampered := *env
	tampered.Request = json.RawMessage(`{"orders":null,"x":1}`)
	if _, _, err := v.VerifyOwnerEnvelope(&tampered, now); !errors.Is(err, core.ErrSignatureInvalid) {
		t.Errorf("tampered envelope err = %v, want SNE", err)
	}

	spoofed := *env
	spoofed.Owner = "0x0000000000000000000000000000000000000abc"
	if _, _, err := v.VerifyOwnerEnvelope(&spoofed, now); !errors.Is(err, core.ErrSignatureInvalid) {
		t.Errorf("spoofed owner err = %v, want SNE", err)
	}
}

func TestSubmitTxValidate(t *testing.T) {
	open := FromOpenOrder(sampleOpen(common.HexToAddress("0x0000000000000000000000000000000000000abc")))
	good := &SubmitTx{Kind: "open", Open: open, Signature: "0x00"}
	data, _ := good.Serialize()
	if _, err := DeserializeSubmit(data); err != nil {
		t.Errorf("valid submit rejected: %v", err)
	}

	for _, bad := range []*SubmitTx{
		{Kind: "open", Signature: "0x00"},
		{Kind: "close", Open: open, Signature: "0x00"},
		{Kind: "open", Open: open},
		{Kind: "swap", Open: open, Signature: "0x00"},
	} {
		if err := bad.Validate(); err == nil {
			t.Errorf("expected error for %+v", bad)
		}
	}
}

func TestDecodeSignature(t *testing.T) {
	sig := make([]byte, 65)
	sig[64] = 27
	enc := EncodeSignature(sig)

	for _, in := range []string{enc, enc[2:]} {
		got, err := DecodeSignature(in)
		if err != nil {
			t.Fatalf("decode %q failed: %v", in, err)
		}
		if len(got) != 65 || got[64] != 27 {
			t.Errorf("decoded %x", got)
		}
	}
	if _, err := DecodeSignature("0x1234"); err == nil {
		t.Error("expected error for short signature")
	}
	if _, err := DecodeSignature("0xzz"); err == nil {
		t.Error("expected error for bad hex")
	}
}

func TestVerifySubmit(t *testing.T) {
	signer, _ := crypto.GenerateKey()
	codec := crypto.NewOrderCodec(crypto.DefaultDomain())
	v := NewVerifier(codec)
	order := sampleOpen(signer.Address())
	sig, _ := codec.SignOpenOrder(signer, order)

	tx := &SubmitTx{Kind: "open", Open: FromOpenOrder(order), Signature: EncodeSignature(sig)}
	vo, err := v.VerifySubmit(tx)
	if err != nil {
		t.Fatalf("valid submit rejected: %v", err)
	}
	if want, _ := codec.HashOpenOrder(order); vo.ID != want {
		t.Errorf("id = %s, want %s", vo.ID.Hex(), want.Hex())
	}
	if vo.Open == nil || vo.Close != nil {
		t.Fatalf("wrong shape: %+v", vo)
	}

	other, _ := crypto.GenerateKey()
	forged, _ := codec.SignOpenOrder(other, order)
	tx.Signature = EncodeSignature(forged)
	if _, err := v.VerifySubmit(tx); !errors.Is(err, core.ErrSignatureInvalid) {
		t.Errorf("forged submit err = %v, want SNE", err)
	}

	bad := *tx.Open
	bad.Deposit = "-1"
	tx = &SubmitTx{Kind: "open", Open: &bad, Signature: EncodeSignature(sig)}
	if _, err := v.VerifySubmit(tx); err == nil || core.CodeOf(err) != "" {
		t.Errorf("malformed submit err = %v, want plain error", err)
	}
}
