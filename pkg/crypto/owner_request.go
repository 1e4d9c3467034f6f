package crypto

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// OwnerRequest authorizes a direct owner action (cancel, close-and-cancel)
// submitted through the API. RequestHash is keccak256 of the exact request
// bytes, so the signature covers every parameter.
type OwnerRequest struct {
	Owner       common.Address
	RequestHash common.Hash
	Deadline    uint32
}

var ownerRequestFields = []apitypes.Type{
	{Name: "owner", Type: "address"},
	{Name: "requestHash", Type: "bytes32"},
	{Name: "deadline", Type: "uint32"},
}

const primaryOwnerRequest = "OwnerRequest"

// HashOwnerRequest returns the EIP-712 digest of an owner request under the
// codec's domain.
func (c *OrderCodec) HashOwnerRequest(r *OwnerRequest) (common.Hash, error) {
	if r.Owner == (common.Address{}) {
		return common.Hash{}, fmt.Errorf("owner request has zero owner")
	}
	return c.digest(c.typedData(primaryOwnerRequest, ownerRequestFields, apitypes.TypedDataMessage{
		"owner":       r.Owner.Hex(),
		"requestHash": r.RequestHash.Hex(),
		"deadline":    fmt.Sprintf("%d", r.Deadline),
	}))
}

// SignOwnerRequest signs an owner request.
func (c *OrderCodec) SignOwnerRequest(signer *Signer, r *OwnerRequest) ([]byte, error) {
	hash, err := c.HashOwnerRequest(r)
	if err != nil {
		return nil, fmt.Errorf("failed to hash owner request: %w", err)
	}
	return signer.Sign(hash.Bytes())
}
