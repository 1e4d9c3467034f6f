package core

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

func TestMulDivFloors(t *testing.T) {
	tests := []struct {
		a, b, c int64
		want    int64
	}{
		{2, 1, 2, 1},
		{3, 1, 2, 1},
		{5, 2, 3, 3},
		{2, 0, 2, 0},
	}
	for _, tt := range tests {
		got := MulDiv(big.NewInt(tt.a), big.NewInt(tt.b), big.NewInt(tt.c))
		if got.Int64() != tt.want {
			t.Errorf("MulDiv(%d,%d,%d) = %s, want %d", tt.a, tt.b, tt.c, got, tt.want)
		}
	}

	// No overflow at uint256 bounds.
	got := MulDiv(math.MaxBig256, math.MaxBig256, math.MaxBig256)
	if got.Cmp(math.MaxBig256) != 0 {
		t.Errorf("MulDiv(max,max,max) = %s", got)
	}
}

func TestRatioBelowIsExact(t *testing.T) {
	tests := []struct {
		name                       string
		got, gotUnit, want, wantUn int64
		below                      bool
	}{
		// held 1 for fill 1 of deposit 2 with expectHeld 3: 1/1 < 3/2
		{"short", 1, 1, 3, 2, true},
		// held 2 for fill 1: 2/1 >= 3/2, flooring 3*1/2 would allow 1
		{"enough", 2, 1, 3, 2, false},
		{"equal", 3, 2, 3, 2, false},
		{"zero minimum", 0, 5, 0, 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RatioBelow(big.NewInt(tt.got), big.NewInt(tt.gotUnit), big.NewInt(tt.want), big.NewInt(tt.wantUn))
			if got != tt.below {
				t.Errorf("RatioBelow = %v, want %v", got, tt.below)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize(big.NewInt(15), 1); got.Cmp(new(big.Int).Mul(big.NewInt(15), big.NewInt(1e17))) != 0 {
		t.Errorf("Normalize(15, 1) = %s", got)
	}
	in := new(big.Int).Mul(big.NewInt(7), new(big.Int).Exp(big.NewInt(10), big.NewInt(20), nil))
	if got := Normalize(in, 20); got.Cmp(new(big.Int).Mul(big.NewInt(7), PriceScale)) != 0 {
		t.Errorf("Normalize(7e20, 20) = %s", got)
	}
	if Normalize(nil, 18) != nil {
		t.Error("Normalize(nil) should stay nil")
	}
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("fill: %w", ErrFillTooBig)
	if CodeOf(wrapped) != CodeFillTooBig {
		t.Errorf("CodeOf(wrapped) = %q", CodeOf(wrapped))
	}
	if !errors.Is(Errorf(CodeExpired, "owner request expired"), ErrExpired) {
		t.Error("custom message should still match the EXR sentinel")
	}
	if errors.Is(ErrNotInitialized, ErrExpired) {
		t.Error("INI must not match EXR")
	}
	if CodeOf(errors.New("disk full")) != "" {
		t.Error("plain errors carry no code")
	}
}

func TestOrderValidate(t *testing.T) {
	valid := func() *OpenOrder {
		return &OpenOrder{
			Order: Order{
				Salt:       big.NewInt(1),
				Owner:      common.HexToAddress("0x0000000000000000000000000000000000000abc"),
				Commission: new(big.Int),
				Price0:     new(big.Int),
			},
			Deposit:    big.NewInt(2),
			Borrow:     big.NewInt(0),
			ExpectHeld: big.NewInt(3),
		}
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("valid order rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(o *OpenOrder)
	}{
		{"zero owner", func(o *OpenOrder) { o.Owner = common.Address{} }},
		{"missing salt", func(o *OpenOrder) { o.Salt = nil }},
		{"negative deposit", func(o *OpenOrder) { o.Deposit = big.NewInt(-1) }},
		{"overflowing borrow", func(o *OpenOrder) { o.Borrow = new(big.Int).Add(math.MaxBig256, big.NewInt(1)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := valid()
			tt.mutate(o)
			if err := o.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestOrderRef(t *testing.T) {
	co := &CloseOrder{Order: Order{Salt: big.NewInt(1)}}
	o, err := RefOfClose(co).Common()
	if err != nil || o != &co.Order {
		t.Errorf("Common() = %p, %v", o, err)
	}
	if _, err := (OrderRef{Kind: KindOpen}).Common(); err == nil {
		t.Error("expected error for empty open ref")
	}
	if _, err := (OrderRef{Kind: 9}).Common(); err == nil {
		t.Error("expected error for unknown kind")
	}

	for _, k := range []OrderKind{KindOrder, KindOpen, KindClose} {
		got, err := ParseOrderKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseOrderKind(%q) = %v, %v", k.String(), got, err)
		}
	}
}
