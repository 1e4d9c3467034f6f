package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Channels clients can subscribe to.
const (
	ChannelOrders      = "orders" // every event
	ChannelOrderPrefix = "order:" // order:<orderId>
	ChannelOwnerPrefix = "owner:" // owner:<address>
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = pongWait * 9 / 10
	sendBuffer  = 256
	maxChannels = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Any origin; the stream is read-only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NormalizeChannel maps a requested channel onto the form events are
// published under: checksummed owners and 0x-prefixed lowercase order ids.
func NormalizeChannel(ch string) (string, error) {
	switch {
	case ch == ChannelOrders:
		return ch, nil
	case strings.HasPrefix(ch, ChannelOwnerPrefix):
		addr := strings.TrimPrefix(ch, ChannelOwnerPrefix)
		if !common.IsHexAddress(addr) {
			return "", fmt.Errorf("invalid owner address %q", addr)
		}
		return ChannelOwnerPrefix + common.HexToAddress(addr).Hex(), nil
	case strings.HasPrefix(ch, ChannelOrderPrefix):
		raw := strings.TrimPrefix(ch, ChannelOrderPrefix)
		if !strings.HasPrefix(raw, "0x") {
			raw = "0x" + raw
		}
		b, err := hexutil.Decode(raw)
		if err != nil || len(b) != common.HashLength {
			return "", fmt.Errorf("invalid order id %q", raw)
		}
		return ChannelOrderPrefix + common.BytesToHash(b).Hex(), nil
	default:
		return "", fmt.Errorf("unknown channel %q", ch)
	}
}

// Hub tracks connected event-stream clients and fans settlement events out
// to the ones subscribed to a channel.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool

	unregister chan *Client
	done       chan struct{} // closed when Run returns

	log *zap.SugaredLogger
}

func NewHub(log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run processes disconnects until ctx ends, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			h.closed = true
			for c := range h.clients {
				h.drop(c)
			}
			h.mu.Unlock()
			return

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.log.Infow("ws_client_disconnected",
					"client", c.id,
					"total", len(h.clients),
					"missed", c.missed.Load(),
				)
			}
			h.mu.Unlock()
		}
	}
}

// add registers c, failing once the hub has shut down.
func (h *Hub) add(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.log.Infow("ws_client_connected", "client", c.id, "total", len(h.clients))
	return true
}

// drop must be called with h.mu held.
func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastToChannel never blocks: a client whose buffer is full misses the
// message and has it counted against it.
func (h *Hub) BroadcastToChannel(channel string, data interface{}) {
	message, err := json.Marshal(data)
	if err != nil {
		h.log.Warnw("ws_marshal_failed", "channel", channel, "err", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.IsSubscribed(channel) {
			c.offer(message)
		}
	}
}

// Client is one event-stream connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	subsMu        sync.RWMutex
	subscriptions map[string]struct{}
	missed        atomic.Int64
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		id:            uuid.NewString(),
		subscriptions: make(map[string]struct{}),
	}
}

func (c *Client) IsSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// offer must be called with hub.mu held.
func (c *Client) offer(message []byte) {
	select {
	case c.send <- message:
	default:
		c.missed.Add(1)
	}
}

// apply changes the subscription set and returns the channels it accepted
// in normalized form, plus the reasons for any it refused.
func (c *Client) apply(req WSSubscribeRequest) (accepted, rejected []string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, raw := range req.Channels {
		ch, err := NormalizeChannel(raw)
		if err != nil {
			rejected = append(rejected, err.Error())
			continue
		}
		switch req.Op {
		case "subscribe":
			if _, ok := c.subscriptions[ch]; !ok && len(c.subscriptions) >= maxChannels {
				rejected = append(rejected, fmt.Sprintf("channel limit %d reached", maxChannels))
				continue
			}
			c.subscriptions[ch] = struct{}{}
		case "unsubscribe":
			delete(c.subscriptions, ch)
		}
		accepted = append(accepted, ch)
	}
	return accepted, rejected
}

// readPump handles subscribe/unsubscribe requests until the peer goes away.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 << 10)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debugw("ws_read_error", "client", c.id, "err", err)
			}
			return
		}

		var req WSSubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.reply(WSMessage{Type: "error", Data: "invalid subscription request"})
			continue
		}
		if req.Op != "subscribe" && req.Op != "unsubscribe" {
			c.reply(WSMessage{Type: "error", Data: fmt.Sprintf("unknown op %q", req.Op)})
			continue
		}

		accepted, rejected := c.apply(req)
		c.hub.log.Debugw("ws_"+req.Op, "client", c.id, "channels", accepted, "rejected", len(rejected))
		c.reply(WSMessage{Type: req.Op + "d", Data: accepted})
		if len(rejected) > 0 {
			c.reply(WSMessage{Type: "error", Data: rejected})
		}
	}
}

// reply queues a direct message unless the hub already dropped the client.
func (c *Client) reply(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; ok {
		c.offer(data)
	}
}

// writePump drains send onto the wire and keeps the connection alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("ws_upgrade_failed", "err", err)
		return
	}

	c := newClient(s.hub, conn)
	s.log.Debugw("ws_upgraded", "client", c.id, "remote", conn.RemoteAddr().String())

	if !s.hub.add(c) {
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}
