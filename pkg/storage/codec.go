package storage

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"

	"github.com/uhyunpark/oplimit/pkg/app/core/orderstate"
)

func encodeRaw(raw *big.Int) []byte {
	return raw.Bytes()
}

func decodeRaw(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

func encodeFill(rec orderstate.FillRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fill: %w", err)
	}
	return data, nil
}

func decodeFill(b []byte) (orderstate.FillRecord, error) {
	var rec orderstate.FillRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, fmt.Errorf("failed to unmarshal fill: %w", err)
	}
	return rec, nil
}

func sortFills(fills []orderstate.FillRecord) {
	sort.Slice(fills, func(i, j int) bool { return fills[i].Seq < fills[j].Seq })
}
