package p2p

import (
	"bytes"
	"encoding/gob"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/oplimit/pkg/app/limitorder"
)

func init() {
	gob.Register(FillWire{})
}

// FillWire is the gossip form of a fill or cancel event. Amounts are
// decimal strings.
type FillWire struct {
	Type      string
	OrderID   common.Hash
	Owner     common.Address
	Filler    common.Address
	Amount    string
	Remaining string
	Timestamp int64
}

// FillFromEvent converts an engine event to its gossip form.
func FillFromEvent(ev limitorder.Event) FillWire {
	w := FillWire{
		Type:      string(ev.Type),
		OrderID:   ev.OrderID,
		Owner:     ev.Owner,
		Filler:    ev.Filler,
		Timestamp: ev.Timestamp,
	}
	if ev.Amount != nil {
		w.Amount = ev.Amount.String()
	}
	if ev.Remaining != nil {
		w.Remaining = ev.Remaining.String()
	}
	return w
}

func encodeFill(w FillWire) ([]byte, error) {
	if w.OrderID == (common.Hash{}) {
		return nil, errors.New("fill without order id")
	}
	return gobEncode(w)
}

func decodeFill(b []byte) (FillWire, error) {
	var w FillWire
	if err := gobDecode(b, &w); err != nil {
		return FillWire{}, err
	}
	if w.OrderID == (common.Hash{}) {
		return FillWire{}, errors.New("fill without order id")
	}
	return w, nil
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
