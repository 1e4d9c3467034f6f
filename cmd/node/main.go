package main

import (
	"context"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/oplimit/params"
	"github.com/uhyunpark/oplimit/pkg/api"
	"github.com/uhyunpark/oplimit/pkg/app/core"
	"github.com/uhyunpark/oplimit/pkg/app/core/orderpool"
	"github.com/uhyunpark/oplimit/pkg/app/core/price"
	"github.com/uhyunpark/oplimit/pkg/app/core/transaction"
	"github.com/uhyunpark/oplimit/pkg/app/devnet"
	"github.com/uhyunpark/oplimit/pkg/app/keeper"
	"github.com/uhyunpark/oplimit/pkg/app/limitorder"
	"github.com/uhyunpark/oplimit/pkg/crypto"
	"github.com/uhyunpark/oplimit/pkg/p2p"
	"github.com/uhyunpark/oplimit/pkg/storage"
	"github.com/uhyunpark/oplimit/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (console, plus file when configured)
	var logger *zap.Logger
	var err error
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	} else {
		logger, err = util.NewLogger(cfg.Node.LogLevel)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Background loops share one group; the first failure stops the rest.
	g, gctx := errgroup.WithContext(ctx)

	// ---- Storage ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "orders"))
	if err != nil {
		sugar.Fatalw("pebble_open_failed", "dir", cfg.Node.DataDir, "err", err)
	}
	defer store.Close()

	var journal limitorder.Journal = storage.NewNopWAL()
	if cfg.Node.JournalFile != "" {
		wal, err := storage.NewFileWAL(cfg.Node.JournalFile)
		if err != nil {
			sugar.Fatalw("journal_open_failed", "path", cfg.Node.JournalFile, "err", err)
		}
		defer func() {
			if err := wal.Close(); err != nil {
				sugar.Errorw("journal_close_failed", "path", cfg.Node.JournalFile, "lines", wal.Lines(), "err", err)
			}
		}()
		journal = wal
	}

	// ---- Engine ----
	codec := crypto.NewOrderCodec(crypto.EIP712Domain{
		Name:              cfg.Domain.Name,
		Version:           cfg.Domain.Version,
		ChainID:           cfg.Domain.ChainID,
		VerifyingContract: cfg.Domain.VerifyingContract,
	})
	engine := limitorder.New(limitorder.Config{
		Codec:   codec,
		Backend: store,
		Guard:   price.NewGuard(cfg.Engine.StopLossFreshness, cfg.Engine.CheckTWAP),
		Clock:   util.RealClock{},
		Logger:  sugar.Named("engine"),
		Journal: journal,
	})

	if cfg.Node.Devnet {
		margin, oracle, ledger := devnetCollaborators(cfg.Engine)
		if err := engine.Initialize(margin, oracle, ledger); err != nil {
			sugar.Fatalw("engine_init_failed", "err", err)
		}
		g.Go(func() error { return refreshOracle(gctx, oracle, cfg.Engine.StopLossFreshness/2) })
	} else {
		// No on-chain bindings ship with the node; fills stay rejected with
		// INI while identity and progress queries keep working.
		sugar.Warnw("engine_uninitialized", "reason", "no collaborators bound outside devnet")
	}

	pool := orderpool.New(cfg.Node.PoolSize)
	verifier := transaction.NewVerifier(codec)

	// ---- P2P relay (optional) ----
	var gossip api.Gossip
	if cfg.P2P.Enabled {
		relay, err := p2p.NewRelay(ctx, p2p.Config{
			ListenAddr: cfg.P2P.ListenAddr,
			Bootstrap:  cfg.P2P.Bootstrap,
			Logger:     sugar.Named("relay"),
		})
		if err != nil {
			sugar.Fatalw("relay_init_failed", "err", err)
		}
		defer relay.Close()

		relay.SetHandlers(p2p.Handlers{
			OnOrder: func(_ context.Context, from peer.ID, tx *transaction.SubmitTx) {
				vo, err := verifier.VerifySubmit(tx)
				if err != nil {
					sugar.Debugw("peer_order_rejected", "from", from.String(), "err", err)
					return
				}
				if _, err := pool.Add(orderpool.Entry{
					ID: vo.ID, Open: vo.Open, Close: vo.Close, Signature: vo.Signature, Added: time.Now(),
				}); err != nil {
					sugar.Warnw("peer_order_dropped", "order_id", vo.ID.Hex(), "err", err)
				}
			},
			OnFill: func(_ context.Context, _ peer.ID, fill p2p.FillWire) {
				if fill.Remaining == "0" || fill.Type == string(limitorder.EventCancelled) {
					pool.Remove(fill.OrderID)
				}
			},
		})
		engine.Subscribe(func(ev limitorder.Event) {
			if ev.OrderID == (common.Hash{}) {
				return
			}
			// Publish can block on a slow mesh; never stall the engine.
			go func() {
				if err := relay.BroadcastFill(ctx, p2p.FillFromEvent(ev)); err != nil {
					sugar.Debugw("fill_gossip_failed", "order_id", ev.OrderID.Hex(), "err", err)
				}
			}()
		})
		gossip = relay
	}

	// ---- Keeper (optional) ----
	if cfg.Node.KeeperEnabled {
		if cfg.Node.FillerAddress == (common.Address{}) {
			sugar.Warnw("keeper_disabled", "reason", "KEEPER_FILLER_ADDRESS not set")
		} else {
			k := keeper.New(engine, pool, keeper.Config{
				Interval:  cfg.Node.KeeperInterval,
				BatchSize: keeper.DefaultConfig().BatchSize,
				Filler:    cfg.Node.FillerAddress,
			}, sugar.Named("keeper"))
			g.Go(func() error { return k.Run(gctx) })
		}
	}

	// ---- API Server ----
	apiServer := api.NewServer(api.Config{
		Engine:      engine,
		Pool:        pool,
		Auth:        store,
		Gossip:      gossip,
		Logger:      sugar.Named("api"),
		CORSOrigins: cfg.Node.CORSOrigins,
	})

	sugar.Infow("node_starting",
		"devnet", cfg.Node.Devnet,
		"chain_id", cfg.Domain.ChainID.String(),
		"api_addr", cfg.Node.APIAddr,
		"p2p", cfg.P2P.Enabled,
		"keeper", cfg.Node.KeeperEnabled,
	)
	g.Go(func() error { return apiServer.Start(gctx, cfg.Node.APIAddr) })

	if err := g.Wait(); err != nil {
		sugar.Errorw("node_failed", "err", err)
	}
	sugar.Infow("node_stopped")
}

// devnetCollaborators builds in-process stand-ins for the margin engine,
// oracle and token ledger with one seeded market.
func devnetCollaborators(cfg params.Engine) (*devnet.MarginEngine, *devnet.Oracle, *devnet.Ledger) {
	ledger := devnet.NewLedger(cfg.Ledger)
	margin := devnet.NewMarginEngine(cfg.MarginEngine, ledger)
	market := devnet.Market{
		Token0: common.HexToAddress("0x00000000000000000000000000000000000000a0"),
		Token1: common.HexToAddress("0x00000000000000000000000000000000000000a1"),
	}
	margin.AddMarket(0, market)

	liquidity := new(big.Int).Mul(big.NewInt(1_000_000), core.PriceScale)
	ledger.Mint(market.Token0, cfg.MarginEngine, liquidity)
	ledger.Mint(market.Token1, cfg.MarginEngine, liquidity)

	oracle := devnet.NewOracle(cfg.Oracle)
	oracle.SetPrice(0, new(big.Int).Set(core.PriceScale), new(big.Int).Set(core.PriceScale), time.Now())
	return margin, oracle, ledger
}

// refreshOracle re-stamps the devnet quote so stop-loss closes see a fresh
// reading.
func refreshOracle(ctx context.Context, oracle *devnet.Oracle, every time.Duration) error {
	if every <= 0 {
		every = 10 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			q, err := oracle.CurrentPrice(ctx, 0)
			if err != nil {
				continue
			}
			q.UpdatedAt = now
			oracle.SetQuote(0, q)
		}
	}
}
