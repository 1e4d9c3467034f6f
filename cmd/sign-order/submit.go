package main

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/oplimit/pkg/api"
	"github.com/uhyunpark/oplimit/pkg/app/core/transaction"
)

// priceDecimals matches core.PriceScale (1e18).
const priceDecimals = 18

// scalePrice turns a decimal price such as "1850.25" into the 1e18-scaled
// integer orders carry. More than 18 fractional digits is an error.
func scalePrice(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", s, err)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("price %q is negative", s)
	}
	scaled := d.Shift(priceDecimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("price %q has more than %d decimals", s, priceDecimals)
	}
	return scaled.BigInt(), nil
}

// submitOrder posts tx to the node's submit endpoint.
func submitOrder(ctx context.Context, baseURL string, tx *transaction.SubmitTx) (*api.SubmitOrderResponse, error) {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	var ok api.SubmitOrderResponse
	var apiErr api.ErrorResponse
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(tx).
		SetResult(&ok).
		SetError(&apiErr).
		Post("/api/v1/orders/submit")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		if apiErr.Code != "" {
			return nil, fmt.Errorf("%s: %s (%s)", resp.Status(), apiErr.Message, apiErr.Code)
		}
		return nil, fmt.Errorf("%s: %s %s", resp.Status(), apiErr.Error, apiErr.Message)
	}
	return &ok, nil
}
