package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/oplimit/params"
	"github.com/uhyunpark/oplimit/pkg/app/core"
	"github.com/uhyunpark/oplimit/pkg/app/core/transaction"
	"github.com/uhyunpark/oplimit/pkg/crypto"
)

func main() {
	kind := flag.String("kind", "open", `order shape: "open" or "close"`)
	key := flag.String("key", "", "hex private key (generated when empty)")
	market := flag.Uint("market", 0, "margin engine market id")
	long := flag.Bool("long", false, "hold token1 instead of token0")
	price0 := flag.String("price0", "0", "limit price scaled by 1e18 (0 = market order)")
	price := flag.String("price", "", `decimal limit price, e.g. "1850.25"; overrides -price0`)
	amount := flag.String("amount", "1000000000000000000", "deposit (open) or held to close (close)")
	borrow := flag.String("borrow", "0", "borrow amount (open)")
	expect := flag.String("expect", "0", "expectHeld (open) or expectReturn (close)")
	stopLoss := flag.Bool("stop-loss", false, "mark a close order as stop-loss")
	commission := flag.String("commission", "0", "total commission for a full fill")
	ttl := flag.Duration("ttl", 24*time.Hour, "time until the order deadline")
	submit := flag.String("submit", "", "node base URL to POST the order to, e.g. http://localhost:8080")
	flag.Parse()

	cfg := params.LoadFromEnv("")
	codec := crypto.NewOrderCodec(crypto.EIP712Domain{
		Name:              cfg.Domain.Name,
		Version:           cfg.Domain.Version,
		ChainID:           cfg.Domain.ChainID,
		VerifyingContract: cfg.Domain.VerifyingContract,
	})

	// Step 1: Generate or load key
	var signer *crypto.Signer
	var err error
	if *key == "" {
		fmt.Fprintln(os.Stderr, "Generating new keypair...")
		signer, err = crypto.GenerateKey()
	} else {
		signer, err = crypto.FromPrivateKeyHex(*key)
	}
	if err != nil {
		fail("key", err)
	}
	fmt.Fprintf(os.Stderr, "Address: %s\n", signer.Address().Hex())
	if *key == "" {
		fmt.Fprintf(os.Stderr, "Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	}

	// Step 2: Build the order
	salt, err := crypto.GenerateSalt()
	if err != nil {
		fail("salt", err)
	}
	limit := mustAmount("price0", *price0)
	if *price != "" {
		if limit, err = scalePrice(*price); err != nil {
			fail("price", err)
		}
	}
	base := core.Order{
		Salt:            salt,
		Owner:           signer.Address(),
		Deadline:        uint32(time.Now().Add(*ttl).Unix()),
		MarketID:        uint16(*market),
		LongToken:       *long,
		CommissionToken: common.Address{},
		Commission:      mustAmount("commission", *commission),
		Price0:          limit,
	}

	// Step 3: Sign it and build the submit request
	var tx transaction.SubmitTx
	var ref core.OrderRef
	switch *kind {
	case "open":
		o := &core.OpenOrder{
			Order:      base,
			Deposit:    mustAmount("amount", *amount),
			Borrow:     mustAmount("borrow", *borrow),
			ExpectHeld: mustAmount("expect", *expect),
		}
		sig, err := codec.SignOpenOrder(signer, o)
		if err != nil {
			fail("sign", err)
		}
		tx = transaction.SubmitTx{Kind: "open", Open: transaction.FromOpenOrder(o), Signature: transaction.EncodeSignature(sig)}
		ref = core.RefOfOpen(o)
	case "close":
		o := &core.CloseOrder{
			Order:        base,
			IsStopLoss:   *stopLoss,
			CloseHeld:    mustAmount("amount", *amount),
			ExpectReturn: mustAmount("expect", *expect),
		}
		sig, err := codec.SignCloseOrder(signer, o)
		if err != nil {
			fail("sign", err)
		}
		tx = transaction.SubmitTx{Kind: "close", Close: transaction.FromCloseOrder(o), Signature: transaction.EncodeSignature(sig)}
		ref = core.RefOfClose(o)
	default:
		fail("kind", fmt.Errorf("unknown order kind %q", *kind))
	}

	// Step 4: Verify before printing
	vo, err := transaction.NewVerifier(codec).VerifySubmit(&tx)
	if err != nil {
		fail("verify", err)
	}
	id, _ := codec.OrderID(ref)
	if vo.ID != id {
		fail("verify", fmt.Errorf("identity mismatch %s vs %s", vo.ID.Hex(), id.Hex()))
	}
	fmt.Fprintf(os.Stderr, "Order ID: %s\n\n", id.Hex())

	txJSON, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		fail("marshal", err)
	}

	fmt.Println(string(txJSON))

	if *submit == "" {
		fmt.Fprintln(os.Stderr, "To submit this order:")
		fmt.Fprintf(os.Stderr, "  POST http://localhost%s/api/v1/orders/submit\n", cfg.Node.APIAddr)
		return
	}
	res, err := submitOrder(context.Background(), *submit, &tx)
	if err != nil {
		fail("submit", err)
	}
	fmt.Fprintf(os.Stderr, "Submitted: %s (%s)\n", res.OrderID, res.Status)
}

func mustAmount(name, s string) *big.Int {
	v, err := transaction.ParseAmount(name, s)
	if err != nil {
		fail("flag", err)
	}
	return v
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "Error (%s): %v\n", step, err)
	os.Exit(1)
}
