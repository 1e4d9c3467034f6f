package api

import "encoding/json"

// API response types for REST endpoints and WebSocket messages.
// Amounts are uint256 decimal strings.

// ==============================
// REST Response Types
// ==============================

// FillResponse is returned after a successful fill
type FillResponse struct {
	OrderID    string `json:"orderId"`
	Filled     string `json:"filled"`
	Remaining  string `json:"remaining"`
	Result     string `json:"result"` // held acquired (open) or deposit returned (close)
	Commission string `json:"commission"`
}

// HashResponse carries an order identity and the typed data wallets sign
type HashResponse struct {
	OrderID   string          `json:"orderId"`
	TypedData json.RawMessage `json:"typedData,omitempty"`
}

// RemainingResponse exposes the raw fill counter of an order.
// Remaining is only known once the counter has been touched.
type RemainingResponse struct {
	OrderID   string `json:"orderId"`
	Raw       string `json:"raw"`
	Status    string `json:"status"` // "untouched", "partial", "terminal"
	Remaining string `json:"remaining,omitempty"`
}

// FillInfo is one entry from an order's fill log
type FillInfo struct {
	Seq        uint64 `json:"seq"`
	Kind       string `json:"kind"`
	Owner      string `json:"owner"`
	Filler     string `json:"filler"`
	Amount     string `json:"amount"`
	Remaining  string `json:"remaining"`
	Result     string `json:"result"`
	Commission string `json:"commission"`
	Timestamp  int64  `json:"timestamp"`
}

// SubmitOrderResponse is the response from order submission
type SubmitOrderResponse struct {
	Status  string `json:"status"`  // "submitted", "duplicate"
	OrderID string `json:"orderId"` // Order identity (EIP-712 hash)
}

// CancelResponse lists the identities marked terminal
type CancelResponse struct {
	Cancelled []string `json:"cancelled"`
}

// CloseAndCancelResponse is returned after an owner close-and-cancel
type CloseAndCancelResponse struct {
	DepositReturn string   `json:"depositReturn"`
	Cancelled     []string `json:"cancelled"`
}

// HealthResponse reports node liveness
type HealthResponse struct {
	Status      string `json:"status"`
	Initialized bool   `json:"initialized"`
	PoolSize    int    `json:"poolSize"`
}

// ErrorResponse is returned for all errors. Code is set for engine
// rejections (EXR, FR0, SNE, ...).
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the base structure for all WebSocket messages
type WSMessage struct {
	Type string      `json:"type"` // "open_filled", "close_filled", "cancelled", "position_closed"
	Data interface{} `json:"data"` // Type-specific payload
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["orders", "order:0x...", "owner:0x..."]
}

// EventInfo is the payload of a WebSocket event
type EventInfo struct {
	OrderID    string `json:"orderId,omitempty"`
	Owner      string `json:"owner"`
	Filler     string `json:"filler,omitempty"`
	MarketID   uint16 `json:"marketId"`
	Amount     string `json:"amount,omitempty"`
	Remaining  string `json:"remaining,omitempty"`
	Result     string `json:"result,omitempty"`
	Commission string `json:"commission,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}
