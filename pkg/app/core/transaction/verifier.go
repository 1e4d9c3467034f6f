package transaction

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/oplimit/pkg/app/core"
	"github.com/uhyunpark/oplimit/pkg/crypto"
)

// Verifier checks owner signatures over order digests. Every failure is
// reported as SNE.
type Verifier struct {
	codec *crypto.OrderCodec
}

// NewVerifier creates a new signature verifier
func NewVerifier(codec *crypto.OrderCodec) *Verifier {
	return &Verifier{codec: codec}
}

func (v *Verifier) Codec() *crypto.OrderCodec { return v.codec }

// Verify succeeds only if sig is a valid signature by owner over hash
func (v *Verifier) Verify(hash common.Hash, sig []byte, owner common.Address) error {
	if !crypto.VerifySignature(owner, hash.Bytes(), sig) {
		return core.ErrSignatureInvalid
	}
	return nil
}

// VerifyOpenOrder returns the order identity if the owner signed it
func (v *Verifier) VerifyOpenOrder(o *core.OpenOrder, sig []byte) (common.Hash, error) {
	id, err := v.codec.HashOpenOrder(o)
	if err != nil {
		return common.Hash{}, core.Errorf(core.CodeSignature, fmt.Sprintf("unhashable order: %v", err))
	}
	return id, v.Verify(id, sig, o.Owner)
}

// VerifyCloseOrder returns the order identity if the owner signed it
func (v *Verifier) VerifyCloseOrder(o *core.CloseOrder, sig []byte) (common.Hash, error) {
	id, err := v.codec.HashCloseOrder(o)
	if err != nil {
		return common.Hash{}, core.Errorf(core.CodeSignature, fmt.Sprintf("unhashable order: %v", err))
	}
	return id, v.Verify(id, sig, o.Owner)
}

// VerifiedOrder is a submitted order whose owner signature checked out.
// Exactly one of Open and Close is set.
type VerifiedOrder struct {
	ID        common.Hash
	Open      *core.OpenOrder
	Close     *core.CloseOrder
	Signature []byte
}

// VerifySubmit parses a submitted order and checks its signature. Malformed
// payloads return plain errors, signature failures SNE.
func (v *Verifier) VerifySubmit(tx *SubmitTx) (*VerifiedOrder, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	sig, err := DecodeSignature(tx.Signature)
	if err != nil {
		return nil, err
	}

	out := &VerifiedOrder{Signature: sig}
	switch tx.Kind {
	case "open":
		if out.Open, err = tx.Open.ToOpenOrder(); err != nil {
			return nil, err
		}
		out.ID, err = v.VerifyOpenOrder(out.Open, sig)
	case "close":
		if out.Close, err = tx.Close.ToCloseOrder(); err != nil {
			return nil, err
		}
		out.ID, err = v.VerifyCloseOrder(out.Close, sig)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyOwnerEnvelope authenticates an owner request and returns the owner
// and the request digest, which callers mark as spent.
func (v *Verifier) VerifyOwnerEnvelope(env *OwnerEnvelope, now time.Time) (common.Address, common.Hash, error) {
	if err := env.Validate(); err != nil {
		return common.Address{}, common.Hash{}, core.Errorf(core.CodeSignature, err.Error())
	}
	if uint64(now.Unix()) > uint64(env.Deadline) {
		return common.Address{}, common.Hash{}, core.Errorf(core.CodeExpired, "owner request expired")
	}
	sig, err := DecodeSignature(env.Signature)
	if err != nil {
		return common.Address{}, common.Hash{}, core.Errorf(core.CodeSignature, err.Error())
	}

	owner := common.HexToAddress(env.Owner)
	digest, err := v.codec.HashOwnerRequest(&crypto.OwnerRequest{
		Owner:       owner,
		RequestHash: env.RequestHash(),
		Deadline:    env.Deadline,
	})
	if err != nil {
		return common.Address{}, common.Hash{}, core.Errorf(core.CodeSignature, err.Error())
	}
	if err := v.Verify(digest, sig, owner); err != nil {
		return common.Address{}, common.Hash{}, err
	}
	return owner, digest, nil
}

// DecodeSignature decodes hex-encoded signature (with or without 0x prefix)
func DecodeSignature(sig string) ([]byte, error) {
	sig = strings.TrimPrefix(sig, "0x")

	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}

	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}

	return sigBytes, nil
}

// EncodeSignature renders a signature as 0x-prefixed hex
func EncodeSignature(sig []byte) string {
	return "0x" + hex.EncodeToString(sig)
}
