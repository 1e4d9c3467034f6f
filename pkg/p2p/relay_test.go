package p2p

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/uhyunpark/oplimit/pkg/app/core/transaction"
	"github.com/uhyunpark/oplimit/pkg/app/limitorder"
)

func newTestRelay(t *testing.T) *Relay {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r, err := NewRelay(ctx, Config{ListenAddr: "/ip4/127.0.0.1/tcp/0"})
	if err != nil {
		t.Fatalf("failed to start relay: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestFillWireRoundTrip(t *testing.T) {
	ev := limitorder.Event{
		Type:      limitorder.EventOpenFilled,
		OrderID:   common.HexToHash("0x01"),
		Owner:     common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Amount:    big.NewInt(2),
		Remaining: big.NewInt(0),
		Timestamp: 1_700_000_000,
	}
	data, err := encodeFill(FillFromEvent(ev))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	got, err := decodeFill(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.OrderID != ev.OrderID || got.Amount != "2" || got.Remaining != "0" || got.Type != "open_filled" {
		t.Errorf("decoded %+v", got)
	}

	if _, err := encodeFill(FillWire{}); err == nil {
		t.Error("expected error for fill without id")
	}
	if _, err := decodeFill([]byte("garbage")); err == nil {
		t.Error("expected error for garbage")
	}
}

func TestDeliverDispatchesToHandlers(t *testing.T) {
	r := newTestRelay(t)

	var orders []*transaction.SubmitTx
	var fills []FillWire
	r.SetHandlers(Handlers{
		OnOrder: func(_ context.Context, _ peer.ID, tx *transaction.SubmitTx) { orders = append(orders, tx) },
		OnFill:  func(_ context.Context, _ peer.ID, f FillWire) { fills = append(fills, f) },
	})

	tx := &transaction.SubmitTx{
		Kind:      "open",
		Open:      &transaction.OpenOrderPayload{Deposit: "1"},
		Signature: "0x00",
	}
	data, _ := tx.Serialize()
	r.deliverOrder(context.Background(), "", data)
	r.deliverOrder(context.Background(), "", []byte(`{"kind":"swap"}`))
	if len(orders) != 1 || orders[0].Open.Deposit != "1" {
		t.Fatalf("orders = %+v, want the one valid submit", orders)
	}

	fd, _ := encodeFill(FillWire{OrderID: common.HexToHash("0x02"), Type: "cancelled"})
	r.deliverFill(context.Background(), "", fd)
	r.deliverFill(context.Background(), "", nil)
	if len(fills) != 1 || fills[0].Type != "cancelled" {
		t.Fatalf("fills = %+v, want the one valid fill", fills)
	}
}

func TestBroadcastWithoutPeers(t *testing.T) {
	r := newTestRelay(t)
	if r.Host().ID() == "" {
		t.Fatal("relay host has no peer id")
	}
	tx := &transaction.SubmitTx{Kind: "open", Open: &transaction.OpenOrderPayload{}, Signature: "0x00"}
	if err := r.BroadcastOrder(context.Background(), tx); err != nil {
		t.Errorf("broadcast order: %v", err)
	}
	if err := r.BroadcastFill(context.Background(), FillWire{OrderID: common.HexToHash("0x03")}); err != nil {
		t.Errorf("broadcast fill: %v", err)
	}
}
