package p2p

import (
	"context"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/oplimit/pkg/app/core/transaction"
)

const (
	TopicOrders = "oplimit-orders"
	TopicFills  = "oplimit-fills"
)

// Handlers receive messages published by other peers. Either may be nil.
type Handlers struct {
	OnOrder func(ctx context.Context, from peer.ID, tx *transaction.SubmitTx)
	OnFill  func(ctx context.Context, from peer.ID, fill FillWire)
}

// Relay gossips signed orders and fill notices between fillers.
type Relay struct {
	h   host.Host
	ps  *pubsub.PubSub
	log *zap.SugaredLogger

	tOrders, tFills     *pubsub.Topic
	subOrders, subFills *pubsub.Subscription

	muH      sync.RWMutex
	handlers Handlers
}

type Config struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger
}

func NewRelay(ctx context.Context, cfg Config) (*Relay, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	r := &Relay{h: h, ps: ps, log: log}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			log.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if err := r.joinTopics(); err != nil {
		h.Close()
		return nil, err
	}

	go r.handleOrders(ctx)
	go r.handleFills(ctx)

	log.Infow("relay_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	return r, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (r *Relay) joinTopics() error {
	var err error
	if r.tOrders, err = r.ps.Join(TopicOrders); err != nil {
		return err
	}
	if r.tFills, err = r.ps.Join(TopicFills); err != nil {
		return err
	}

	if r.subOrders, err = r.tOrders.Subscribe(); err != nil {
		return err
	}
	if r.subFills, err = r.tFills.Subscribe(); err != nil {
		return err
	}
	return nil
}

func (r *Relay) SetHandlers(h Handlers) { r.muH.Lock(); r.handlers = h; r.muH.Unlock() }

func (r *Relay) Host() host.Host { return r.h }

// Close stops the subscriptions and shuts the host down.
func (r *Relay) Close() error {
	r.subOrders.Cancel()
	r.subFills.Cancel()
	return r.h.Close()
}

// BroadcastOrder gossips a signed order to peers' pools.
func (r *Relay) BroadcastOrder(ctx context.Context, tx *transaction.SubmitTx) error {
	data, err := tx.Serialize()
	if err != nil {
		return err
	}
	return r.tOrders.Publish(ctx, data)
}

// BroadcastFill announces a fill so peers can drop or re-check the order.
func (r *Relay) BroadcastFill(ctx context.Context, fill FillWire) error {
	data, err := encodeFill(fill)
	if err != nil {
		return err
	}
	return r.tFills.Publish(ctx, data)
}

// inbound

func (r *Relay) handleOrders(ctx context.Context) {
	for {
		msg, err := r.subOrders.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == r.h.ID() {
			continue
		}
		r.deliverOrder(ctx, msg.ReceivedFrom, msg.Data)
	}
}

func (r *Relay) handleFills(ctx context.Context) {
	for {
		msg, err := r.subFills.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == r.h.ID() {
			continue
		}
		r.deliverFill(ctx, msg.ReceivedFrom, msg.Data)
	}
}

func (r *Relay) deliverOrder(ctx context.Context, from peer.ID, data []byte) {
	tx, err := transaction.DeserializeSubmit(data)
	if err != nil {
		r.log.Debugw("relay_bad_order", "from", from.String(), "err", err)
		return
	}
	r.muH.RLock()
	h := r.handlers
	r.muH.RUnlock()
	if h.OnOrder != nil {
		h.OnOrder(ctx, from, tx)
	}
}

func (r *Relay) deliverFill(ctx context.Context, from peer.ID, data []byte) {
	fill, err := decodeFill(data)
	if err != nil {
		r.log.Debugw("relay_bad_fill", "from", from.String(), "err", err)
		return
	}
	r.muH.RLock()
	h := r.handlers
	r.muH.RUnlock()
	if h.OnFill != nil {
		h.OnFill(ctx, from, fill)
	}
}
