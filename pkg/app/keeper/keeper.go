// Package keeper runs a filler loop over the order pool: every tick it tries
// to fill each pooled order for its whole remaining amount.
package keeper

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/oplimit/pkg/app/core"
	"github.com/uhyunpark/oplimit/pkg/app/core/orderpool"
	"github.com/uhyunpark/oplimit/pkg/app/limitorder"
	"github.com/uhyunpark/oplimit/pkg/metrics"
)

// Config controls how often and how much the keeper tries to fill
type Config struct {
	Interval  time.Duration  // How often to scan the pool
	BatchSize int            // Max orders tried per tick (0 = all)
	Filler    common.Address // Commission recipient
}

// DefaultConfig returns reasonable defaults for a devnet keeper
func DefaultConfig() Config {
	return Config{
		Interval:  time.Second,
		BatchSize: 100,
	}
}

// Engine is the subset of the limit order engine the keeper drives.
type Engine interface {
	FillOpenOrder(ctx context.Context, p limitorder.FillOpenParams) (*limitorder.FillResult, error)
	FillCloseOrder(ctx context.Context, p limitorder.FillCloseParams) (*limitorder.FillResult, error)
	RemainingOpen(o *core.OpenOrder) (*big.Int, error)
	RemainingClose(o *core.CloseOrder) (*big.Int, error)
}

type Keeper struct {
	engine Engine
	pool   *orderpool.Pool
	cfg    Config
	log    *zap.SugaredLogger
}

func New(engine Engine, pool *orderpool.Pool, cfg Config, log *zap.SugaredLogger) *Keeper {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Keeper{engine: engine, pool: pool, cfg: cfg, log: log}
}

// Stats summarizes one pass over the pool.
type Stats struct {
	Tried   int
	Filled  int
	Dropped int
	Kept    int
}

// Terminal reports whether an order failing with err can never fill, so it
// should leave the pool. Price, freshness, slippage and collaborator
// failures may clear later.
func Terminal(err error) bool {
	switch core.CodeOf(err) {
	case core.CodeExpired, core.CodeSignature, core.CodeRemainingZero, core.CodeNotOwner:
		return true
	default:
		return false
	}
}

// RunOnce tries every selected order once.
func (k *Keeper) RunOnce(ctx context.Context) Stats {
	var st Stats
	for _, e := range k.pool.Select(k.cfg.BatchSize) {
		if ctx.Err() != nil {
			return st
		}
		st.Tried++
		err := k.fill(ctx, &e)
		switch {
		case err == nil:
			st.Filled++
			k.pool.Remove(e.ID)
		case Terminal(err):
			st.Dropped++
			k.pool.Remove(e.ID)
			k.log.Infow("keeper_dropped_order", "order_id", e.ID.Hex(), "code", core.CodeOf(err))
		default:
			st.Kept++
			k.log.Debugw("keeper_order_pending", "order_id", e.ID.Hex(), "code", core.CodeOf(err), "err", err)
		}
	}
	metrics.ObserveKeeper(st.Filled, st.Dropped, st.Kept)
	metrics.PoolSize.Set(float64(k.pool.Len()))
	return st
}

func (k *Keeper) fill(ctx context.Context, e *orderpool.Entry) error {
	if e.Close != nil {
		rem, err := k.engine.RemainingClose(e.Close)
		if err != nil {
			return err
		}
		if rem.Sign() == 0 {
			return core.ErrRemainingZero
		}
		_, err = k.engine.FillCloseOrder(ctx, limitorder.FillCloseParams{
			Order:         e.Close,
			Signature:     e.Signature,
			FillCloseHeld: rem,
			Filler:        k.cfg.Filler,
		})
		return err
	}

	rem, err := k.engine.RemainingOpen(e.Open)
	if err != nil {
		return err
	}
	if rem.Sign() == 0 {
		return core.ErrRemainingZero
	}
	_, err = k.engine.FillOpenOrder(ctx, limitorder.FillOpenParams{
		Order:       e.Open,
		Signature:   e.Signature,
		FillDeposit: rem,
		Filler:      k.cfg.Filler,
	})
	return err
}

// Run scans the pool every interval and returns nil once ctx is done.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()

	startTime := time.Now()
	var total Stats

	k.log.Infow("keeper_started",
		"interval", k.cfg.Interval.String(),
		"batch_size", k.cfg.BatchSize,
		"filler", k.cfg.Filler.Hex(),
	)

	for {
		select {
		case <-ctx.Done():
			k.log.Infow("keeper_stopped",
				"uptime", time.Since(startTime).Round(time.Second).String(),
				"filled", total.Filled,
				"dropped", total.Dropped,
			)
			return nil

		case <-ticker.C:
			st := k.RunOnce(ctx)
			total.Tried += st.Tried
			total.Filled += st.Filled
			total.Dropped += st.Dropped
			total.Kept += st.Kept
			if st.Filled > 0 || st.Dropped > 0 {
				k.log.Infow("keeper_pass",
					"tried", st.Tried,
					"filled", st.Filled,
					"dropped", st.Dropped,
					"pending", k.pool.Len(),
				)
			}
		}
	}
}

// Start runs the keeper in a background goroutine until ctx is done or the
// returned cancel function is called
func Start(ctx context.Context, k *Keeper) context.CancelFunc {
	keepCtx, cancel := context.WithCancel(ctx)
	go k.Run(keepCtx)
	return cancel
}
